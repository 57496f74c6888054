package server

import (
	"encoding/json"
	"time"

	"checkline/internal/domain"
	"checkline/internal/engine"
)

// Request payloads

type StartShiftRequest struct {
	Manager string `json:"manager,omitempty"`
}

type CompleteInstanceRequest struct {
	Value            *float64 `json:"value,omitempty"`
	PhotoRef         *string  `json:"photo_ref,omitempty"`
	Notes            *string  `json:"notes,omitempty"`
	CorrectiveAction *string  `json:"corrective_action,omitempty"`
	Compliant        *bool    `json:"compliant,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ShiftResponse struct {
	ID       string  `json:"id"`
	Date     string  `json:"date"`
	OpenedAt string  `json:"opened_at" format:"date-time"`
	Manager  string  `json:"manager"`
	ClosedAt *string `json:"closed_at,omitempty" format:"date-time"`
}

type InstanceResponse struct {
	ID               string   `json:"id"`
	ShiftID          string   `json:"shift_id"`
	TemplateID       string   `json:"template_id"`
	Title            string   `json:"title,omitempty"`
	Section          string   `json:"section,omitempty"`
	DueAt            string   `json:"due_at" format:"date-time"`
	Status           string   `json:"status"`
	DisplayStatus    string   `json:"display_status"`
	Value            *float64 `json:"value,omitempty"`
	PhotoRef         *string  `json:"photo_ref,omitempty"`
	Notes            *string  `json:"notes,omitempty"`
	CorrectiveAction *string  `json:"corrective_action,omitempty"`
	CompletedAt      *string  `json:"completed_at,omitempty" format:"date-time"`
	FailStreak       int      `json:"fail_streak"`
	PassStreak       int      `json:"pass_streak"`
}

type ShiftDetailResponse struct {
	Shift     ShiftResponse      `json:"shift"`
	Instances []InstanceResponse `json:"instances"`
}

type TemplateResponse struct {
	ID        string `json:"id"`
	Section   string `json:"section"`
	Title     string `json:"title"`
	Freq      string `json:"freq"`
	LegalRef  string `json:"legal_ref,omitempty"`
	LimitText string `json:"limit_text,omitempty"`
	HowText   string `json:"how_text,omitempty"`
	ProofType string `json:"proof_type"`
}

type ReportResponse struct {
	ID          string `json:"id"`
	ShiftID     string `json:"shift_id,omitempty"`
	Kind        string `json:"kind"`
	DocumentRef string `json:"document_ref"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type EscalationResponse struct {
	TemplateID      string `json:"template_id"`
	OverrideMinutes int    `json:"override_minutes"`
	FailStreak      int    `json:"fail_streak"`
	PassStreak      int    `json:"pass_streak"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ShiftID    string         `json:"shift_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func shiftResponse(s domain.Shift) ShiftResponse {
	return ShiftResponse{
		ID:       s.ID,
		Date:     s.Date,
		OpenedAt: s.OpenedAt,
		Manager:  s.Manager,
		ClosedAt: s.ClosedAt,
	}
}

func mapShifts(items []domain.Shift) []ShiftResponse {
	res := make([]ShiftResponse, 0, len(items))
	for _, s := range items {
		res = append(res, shiftResponse(s))
	}
	return res
}

func instanceResponse(e engine.Engine, in domain.TaskInstance, at time.Time) InstanceResponse {
	resp := InstanceResponse{
		ID:               in.ID,
		ShiftID:          in.ShiftID,
		TemplateID:       in.TemplateID,
		DueAt:            in.DueAt,
		Status:           in.Status,
		DisplayStatus:    engine.DisplayStatus(in, at),
		Value:            in.Value,
		PhotoRef:         in.PhotoRef,
		Notes:            in.Notes,
		CorrectiveAction: in.CorrectiveAction,
		CompletedAt:      in.CompletedAt,
		FailStreak:       in.FailStreak,
		PassStreak:       in.PassStreak,
	}
	if tpl, ok := e.Catalog.Lookup(in.TemplateID); ok {
		resp.Title = tpl.Title
		resp.Section = tpl.Section
	}
	return resp
}

func mapInstances(e engine.Engine, items []domain.TaskInstance, at time.Time) []InstanceResponse {
	res := make([]InstanceResponse, 0, len(items))
	for _, in := range items {
		res = append(res, instanceResponse(e, in, at))
	}
	return res
}

func templateResponse(tpl domain.TaskTemplate) TemplateResponse {
	return TemplateResponse{
		ID:        tpl.ID,
		Section:   tpl.Section,
		Title:     tpl.Title,
		Freq:      tpl.Freq,
		LegalRef:  tpl.LegalRef,
		LimitText: tpl.LimitText,
		HowText:   tpl.HowText,
		ProofType: tpl.ProofType,
	}
}

func reportResponse(rep domain.Report) ReportResponse {
	return ReportResponse{
		ID:          rep.ID,
		ShiftID:     rep.ShiftID,
		Kind:        rep.Kind,
		DocumentRef: rep.DocumentRef,
		CreatedAt:   rep.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ShiftID:    e.ShiftID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if e.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(e.Payload), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}
