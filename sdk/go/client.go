package checklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Checkline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Shift represents the API shift model.
type Shift struct {
	ID       string  `json:"id"`
	Date     string  `json:"date"`
	OpenedAt string  `json:"opened_at"`
	Manager  string  `json:"manager"`
	ClosedAt *string `json:"closed_at,omitempty"`
}

// Instance represents one occurrence of a check within a shift.
type Instance struct {
	ID            string   `json:"id"`
	ShiftID       string   `json:"shift_id"`
	TemplateID    string   `json:"template_id"`
	Title         string   `json:"title,omitempty"`
	Section       string   `json:"section,omitempty"`
	DueAt         string   `json:"due_at"`
	Status        string   `json:"status"`
	DisplayStatus string   `json:"display_status"`
	Value         *float64 `json:"value,omitempty"`
	CompletedAt   *string  `json:"completed_at,omitempty"`
}

// ShiftDetail is the open shift plus its checks.
type ShiftDetail struct {
	Shift     Shift      `json:"shift"`
	Instances []Instance `json:"instances"`
}

// Template represents a catalog entry.
type Template struct {
	ID        string `json:"id"`
	Section   string `json:"section"`
	Title     string `json:"title"`
	Freq      string `json:"freq"`
	LegalRef  string `json:"legal_ref,omitempty"`
	LimitText string `json:"limit_text,omitempty"`
	ProofType string `json:"proof_type"`
}

// Report points at a generated document.
type Report struct {
	ID          string `json:"id"`
	ShiftID     string `json:"shift_id,omitempty"`
	Kind        string `json:"kind"`
	DocumentRef string `json:"document_ref"`
	CreatedAt   string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ShiftID    string         `json:"shift_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// CompleteRequest carries the proof recorded against a check. Nil fields
// are omitted.
type CompleteRequest struct {
	Value            *float64 `json:"value,omitempty"`
	PhotoRef         *string  `json:"photo_ref,omitempty"`
	Notes            *string  `json:"notes,omitempty"`
	CorrectiveAction *string  `json:"corrective_action,omitempty"`
	Compliant        *bool    `json:"compliant,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartShift opens a shift and seeds its checks.
func (c *Client) StartShift(ctx context.Context, manager string) (Shift, error) {
	var resp Shift
	err := c.do(ctx, http.MethodPost, "v0/shift/start", map[string]any{"manager": manager}, &resp)
	return resp, err
}

// CurrentShift returns the open shift and its checks.
func (c *Client) CurrentShift(ctx context.Context) (ShiftDetail, error) {
	var resp ShiftDetail
	err := c.do(ctx, http.MethodGet, "v0/shift", nil, &resp)
	return resp, err
}

// CompleteInstance records proof against a pending check.
func (c *Client) CompleteInstance(ctx context.Context, id string, req CompleteRequest) (Instance, error) {
	var resp Instance
	endpoint := fmt.Sprintf("v0/instances/%s/complete", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, req, &resp)
	return resp, err
}

// ScheduleNext appends an on-demand check for the template.
func (c *Client) ScheduleNext(ctx context.Context, templateID string) (Instance, error) {
	var resp Instance
	endpoint := fmt.Sprintf("v0/templates/%s/schedule-next", url.PathEscape(templateID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CloseShift seals the shift and returns its log report.
func (c *Client) CloseShift(ctx context.Context) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "v0/shift/close", nil, &resp)
	return resp, err
}

// Shifts lists past shifts, optionally from a date (YYYY-MM-DD) onward.
func (c *Client) Shifts(ctx context.Context, since string) ([]Shift, error) {
	endpoint := "v0/shifts"
	if since != "" {
		endpoint += "?since=" + url.QueryEscape(since)
	}
	var resp []Shift
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Catalog lists check templates, optionally filtered by section.
func (c *Client) Catalog(ctx context.Context, section string) ([]Template, error) {
	endpoint := "v0/catalog"
	if section != "" {
		endpoint += "?section=" + url.QueryEscape(section)
	}
	var resp []Template
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Reports lists generated reports, newest first.
func (c *Client) Reports(ctx context.Context) ([]Report, error) {
	var resp []Report
	err := c.do(ctx, http.MethodGet, "v0/reports", nil, &resp)
	return resp, err
}

// InspectorPack generates the inspector pack document.
func (c *Client) InspectorPack(ctx context.Context) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "v0/reports/inspector-pack", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
