package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkline/internal/catalog"
	"checkline/internal/config"
	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/limits"
	"checkline/internal/repo"
	"checkline/internal/report"
	"checkline/internal/schedule"
)

var (
	// ErrNoCurrentShift is returned when an operation needs an open shift.
	ErrNoCurrentShift = errors.New("no shift is open")
	// ErrShiftOpen is returned by StartShift while a shift is still open.
	ErrShiftOpen = errors.New("a shift is already open")
	// ErrAlreadyCompleted is returned when completing a non-pending instance.
	ErrAlreadyCompleted = errors.New("instance already completed")
	// ErrNothingToReport is returned when the lookback window holds no instances.
	ErrNothingToReport = errors.New("no instances in reporting window")
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Catalog  *catalog.Catalog
	Config   *config.Config
	Renderer report.Renderer
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, cat *catalog.Catalog, renderer report.Renderer) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Catalog:  cat,
		Config:   cfg,
		Renderer: renderer,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// StartShift opens a new shift and seeds its initial instances: every
// opening check, interval-driven service checks, and every closing check,
// all due relative to the opening time. A fresh shift starts unescalated.
// It fails with ErrShiftOpen while another shift is still open.
func (e Engine) StartShift(ctx context.Context, manager, actorID string) (domain.Shift, error) {
	if e.Config == nil {
		return domain.Shift{}, errors.New("config not loaded")
	}
	if manager == "" {
		manager = e.Config.Venue.DefaultManager
	}
	if manager == "" {
		return domain.Shift{}, errors.New("manager name is required")
	}
	if _, err := e.Repo.CurrentShift(ctx); err == nil {
		return domain.Shift{}, ErrShiftOpen
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Shift{}, err
	}

	openedAt := e.now().UTC()
	s := domain.Shift{
		ID:       uuid.New().String(),
		Date:     openedAt.Format("2006-01-02"),
		OpenedAt: openedAt.Format(time.RFC3339),
		Manager:  manager,
	}
	var seeds []domain.TaskInstance
	for _, tpl := range e.Catalog.All() {
		if !schedule.SeedAtOpen(tpl) {
			continue
		}
		seeds = append(seeds, domain.TaskInstance{
			ID:         uuid.New().String(),
			ShiftID:    s.ID,
			TemplateID: tpl.ID,
			DueAt:      schedule.NextDueAt(tpl, openedAt, 0).Format(time.RFC3339),
			Status:     domain.StatusPending,
		})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Shift{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertShift(ctx, tx, s); err != nil {
		return domain.Shift{}, fmt.Errorf("insert shift: %w", err)
	}
	if err := e.Repo.SaveInstances(ctx, tx, s.ID, seeds); err != nil {
		return domain.Shift{}, fmt.Errorf("seed instances: %w", err)
	}
	if err := e.Repo.SetCurrentShift(ctx, tx, s.ID); err != nil {
		return domain.Shift{}, err
	}
	if err := e.Events.Append(ctx, tx, "shift.started", s.ID, "shift", s.ID, actorID, events.EventPayload{
		"manager": s.Manager,
		"seeded":  len(seeds),
	}); err != nil {
		return domain.Shift{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Shift{}, err
	}
	return s, nil
}

// CurrentShift returns the open shift and its instance list.
func (e Engine) CurrentShift(ctx context.Context) (domain.Shift, []domain.TaskInstance, error) {
	s, err := e.Repo.CurrentShift(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Shift{}, nil, ErrNoCurrentShift
	}
	if err != nil {
		return domain.Shift{}, nil, err
	}
	instances, err := e.Repo.ListInstances(ctx, s.ID)
	if err != nil {
		return domain.Shift{}, nil, err
	}
	return s, instances, nil
}

// ScheduleNextForTemplate appends one pending instance of the template to
// the current shift, due from now and respecting any active override. It is
// the manual trigger for on-demand checks (deliveries, batch cooking).
func (e Engine) ScheduleNextForTemplate(ctx context.Context, templateID, actorID string) (domain.TaskInstance, error) {
	s, err := e.Repo.CurrentShift(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.TaskInstance{}, ErrNoCurrentShift
	}
	if err != nil {
		return domain.TaskInstance{}, err
	}
	tpl, ok := e.Catalog.Lookup(templateID)
	if !ok {
		return domain.TaskInstance{}, fmt.Errorf("template %s: %w", templateID, repo.ErrNotFound)
	}
	instances, err := e.Repo.ListInstances(ctx, s.ID)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	es, err := e.Repo.GetEscalation(ctx, s.ID, tpl.ID)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	next := domain.TaskInstance{
		ID:         uuid.New().String(),
		ShiftID:    s.ID,
		TemplateID: tpl.ID,
		DueAt:      schedule.NextDueAt(tpl, e.now().UTC(), es.OverrideMinutes).Format(time.RFC3339),
		Status:     domain.StatusPending,
	}
	instances = append(instances, next)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveInstances(ctx, tx, s.ID, instances); err != nil {
		return domain.TaskInstance{}, err
	}
	if err := e.Events.Append(ctx, tx, "instance.scheduled", s.ID, "instance", next.ID, actorID, events.EventPayload{
		"template_id": tpl.ID,
		"due_at":      next.DueAt,
	}); err != nil {
		return domain.TaskInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskInstance{}, err
	}
	return next, nil
}

// CompleteOptions carries the proof payload for completing an instance.
// Nil fields are left unchanged on the instance. Compliant set to false
// forces a non-compliant outcome regardless of the value check.
type CompleteOptions struct {
	InstanceID       string
	Value            *float64
	PhotoRef         *string
	Notes            *string
	CorrectiveAction *string
	Compliant        *bool
	ActorID          string
}

// CompleteInstance records proof against a pending instance, judges it
// against the template's limit rule, updates the template's escalation
// state and, for recurring checks, schedules the successor instance.
func (e Engine) CompleteInstance(ctx context.Context, opts CompleteOptions) (domain.TaskInstance, error) {
	if e.Config == nil {
		return domain.TaskInstance{}, errors.New("config not loaded")
	}
	s, err := e.Repo.CurrentShift(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.TaskInstance{}, ErrNoCurrentShift
	}
	if err != nil {
		return domain.TaskInstance{}, err
	}
	instances, err := e.Repo.ListInstances(ctx, s.ID)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	idx := -1
	for i := range instances {
		if instances[i].ID == opts.InstanceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.TaskInstance{}, fmt.Errorf("instance %s: %w", opts.InstanceID, repo.ErrNotFound)
	}
	inst := &instances[idx]
	if inst.Status != domain.StatusPending {
		return domain.TaskInstance{}, ErrAlreadyCompleted
	}
	tpl, ok := e.Catalog.Lookup(inst.TemplateID)
	if !ok {
		return domain.TaskInstance{}, fmt.Errorf("template %s: %w", inst.TemplateID, repo.ErrNotFound)
	}

	now := e.now().UTC()
	passed := true
	var matchedRule string
	if wantsValue(tpl.ProofType) && opts.Value != nil {
		res := limits.Evaluate(tpl.LimitText, *opts.Value)
		matchedRule = res.MatchedRule
		if !res.Pass {
			passed = false
		}
	}
	if opts.Compliant != nil && !*opts.Compliant {
		passed = false
	}

	inst.Status = domain.StatusCompliant
	if !passed {
		inst.Status = domain.StatusNonCompliant
	}
	if opts.Value != nil {
		inst.Value = opts.Value
	}
	if opts.PhotoRef != nil {
		inst.PhotoRef = opts.PhotoRef
	}
	if opts.Notes != nil {
		inst.Notes = opts.Notes
	}
	if opts.CorrectiveAction != nil {
		inst.CorrectiveAction = opts.CorrectiveAction
	}
	completedAt := now.Format(time.RFC3339)
	inst.CompletedAt = &completedAt

	es, err := e.Repo.GetEscalation(ctx, s.ID, tpl.ID)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	escalated, deescalated := e.applyStreaks(&es, inst, tpl, passed)

	var successor *domain.TaskInstance
	if schedule.IsRecurring(tpl) {
		next := domain.TaskInstance{
			ID:         uuid.New().String(),
			ShiftID:    s.ID,
			TemplateID: tpl.ID,
			DueAt:      schedule.NextDueAt(tpl, now, es.OverrideMinutes).Format(time.RFC3339),
			Status:     domain.StatusPending,
		}
		if !passed {
			next.FailStreak = es.FailStreak
		}
		instances = append(instances, next)
		successor = &next
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveInstances(ctx, tx, s.ID, instances); err != nil {
		return domain.TaskInstance{}, err
	}
	if err := e.Repo.UpsertEscalation(ctx, tx, es); err != nil {
		return domain.TaskInstance{}, err
	}
	payload := events.EventPayload{
		"template_id": tpl.ID,
		"status":      inst.Status,
	}
	if matchedRule != "" {
		payload["matched_rule"] = matchedRule
	}
	if opts.Value != nil {
		payload["value"] = *opts.Value
	}
	if err := e.Events.Append(ctx, tx, "instance.completed", s.ID, "instance", inst.ID, opts.ActorID, payload); err != nil {
		return domain.TaskInstance{}, err
	}
	if escalated {
		if err := e.Events.Append(ctx, tx, "escalation.raised", s.ID, "template", tpl.ID, opts.ActorID, events.EventPayload{
			"override_minutes": es.OverrideMinutes,
			"fail_streak":      es.FailStreak,
		}); err != nil {
			return domain.TaskInstance{}, err
		}
	}
	if deescalated {
		if err := e.Events.Append(ctx, tx, "escalation.cleared", s.ID, "template", tpl.ID, opts.ActorID, events.EventPayload{}); err != nil {
			return domain.TaskInstance{}, err
		}
	}
	if successor != nil {
		if err := e.Events.Append(ctx, tx, "instance.scheduled", s.ID, "instance", successor.ID, opts.ActorID, events.EventPayload{
			"template_id": tpl.ID,
			"due_at":      successor.DueAt,
		}); err != nil {
			return domain.TaskInstance{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskInstance{}, err
	}
	return *inst, nil
}

// applyStreaks advances the template's escalation state for one completion.
// Reaching the fail threshold installs an override of half the base
// interval, floored; templates without an hourly or two-hourly base never
// escalate. While an override is active each pass counts toward clearing
// it, mirrored onto the completed instance's PassStreak for the record.
func (e Engine) applyStreaks(es *domain.EscalationState, inst *domain.TaskInstance, tpl domain.TaskTemplate, passed bool) (escalated, deescalated bool) {
	if passed {
		es.FailStreak = 0
		if es.OverrideMinutes > 0 {
			es.PassStreak++
			inst.PassStreak = es.PassStreak
			if es.PassStreak >= e.Config.Escalation.DeescalatePasses {
				es.OverrideMinutes = 0
				es.PassStreak = 0
				deescalated = true
			}
		}
		return escalated, deescalated
	}
	es.FailStreak++
	es.PassStreak = 0
	if es.FailStreak >= e.Config.Escalation.FailThreshold && es.OverrideMinutes == 0 {
		base := schedule.BaseIntervalMinutes(tpl)
		if base > 0 {
			half := base / 2
			if half < e.Config.Escalation.FloorMinutes {
				half = e.Config.Escalation.FloorMinutes
			}
			es.OverrideMinutes = half
			escalated = true
		}
	}
	return escalated, deescalated
}

func wantsValue(proofType string) bool {
	return proofType == domain.ProofValue || proofType == domain.ProofValuePhoto
}

// CloseShift stamps the open shift closed, renders its compliance log into
// a document artifact, records the report and clears the current-shift
// pointer so the shift accepts no further completions.
func (e Engine) CloseShift(ctx context.Context, actorID string) (domain.Report, error) {
	s, err := e.Repo.CurrentShift(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Report{}, ErrNoCurrentShift
	}
	if err != nil {
		return domain.Report{}, err
	}
	instances, err := e.Repo.ListInstances(ctx, s.ID)
	if err != nil {
		return domain.Report{}, err
	}
	now := e.now().UTC()
	closedAt := now.Format(time.RFC3339)
	s.ClosedAt = &closedAt

	docRef, err := e.Renderer.ShiftLog(report.ShiftLogDocument{
		Title:    fmt.Sprintf("%s — shift log %s", e.Config.Venue.Name, s.Date),
		Manager:  s.Manager,
		OpenedAt: s.OpenedAt,
		ClosedAt: closedAt,
		Rows:     report.ShiftLogRows(instances, e.Catalog),
	})
	if err != nil {
		return domain.Report{}, fmt.Errorf("render shift log: %w", err)
	}
	rep := domain.Report{
		ID:          uuid.New().String(),
		ShiftID:     s.ID,
		Kind:        domain.ReportShiftLog,
		DocumentRef: docRef,
		CreatedAt:   closedAt,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateShift(ctx, tx, s); err != nil {
		return domain.Report{}, err
	}
	if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
		return domain.Report{}, err
	}
	if err := e.Repo.ClearCurrentShift(ctx, tx); err != nil {
		return domain.Report{}, err
	}
	if err := e.Events.Append(ctx, tx, "shift.closed", s.ID, "shift", s.ID, actorID, events.EventPayload{"closed_at": closedAt}); err != nil {
		return domain.Report{}, err
	}
	if err := e.Events.Append(ctx, tx, "report.generated", s.ID, "report", rep.ID, actorID, events.EventPayload{
		"kind":         rep.Kind,
		"document_ref": rep.DocumentRef,
	}); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	return rep, nil
}

// InspectorPack assembles every instance from shifts inside the lookback
// window into a grouped evidence document for an external audit. It fails
// with ErrNothingToReport when the window is empty.
func (e Engine) InspectorPack(ctx context.Context, actorID string) (domain.Report, error) {
	if e.Config == nil {
		return domain.Report{}, errors.New("config not loaded")
	}
	now := e.now().UTC()
	cutoff := now.AddDate(0, 0, -e.Config.Reports.LookbackDays).Format("2006-01-02")
	shifts, err := e.Repo.ListShiftsSince(ctx, cutoff)
	if err != nil {
		return domain.Report{}, err
	}
	var instances []domain.TaskInstance
	for _, s := range shifts {
		list, err := e.Repo.ListInstances(ctx, s.ID)
		if err != nil {
			return domain.Report{}, err
		}
		instances = append(instances, list...)
	}
	if len(instances) == 0 {
		return domain.Report{}, ErrNothingToReport
	}

	docRef, err := e.Renderer.InspectorPack(report.InspectorDocument{
		Title:       fmt.Sprintf("%s — inspector pack (last %d days)", e.Config.Venue.Name, e.Config.Reports.LookbackDays),
		GeneratedAt: now.Format(time.RFC3339),
		Groups:      report.InspectorGroups(instances, e.Catalog, e.Config.Reports.SectionRowCap),
	})
	if err != nil {
		return domain.Report{}, fmt.Errorf("render inspector pack: %w", err)
	}
	rep := domain.Report{
		ID:          uuid.New().String(),
		Kind:        domain.ReportInspectorPack,
		DocumentRef: docRef,
		CreatedAt:   now.Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
		return domain.Report{}, err
	}
	if err := e.Events.Append(ctx, tx, "report.generated", "", "report", rep.ID, actorID, events.EventPayload{
		"kind":         rep.Kind,
		"document_ref": rep.DocumentRef,
		"shifts":       len(shifts),
	}); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	return rep, nil
}

// IsOverdue reports whether a pending instance is past due at the given
// time. Overdue is a presentation state: the stored record stays pending
// until completed.
func IsOverdue(in domain.TaskInstance, at time.Time) bool {
	if in.Status != domain.StatusPending {
		return false
	}
	due, err := time.Parse(time.RFC3339, in.DueAt)
	if err != nil {
		return false
	}
	return at.After(due)
}

// DisplayStatus resolves the presentation status of an instance, deriving
// "overdue" for pending instances past their due time.
func DisplayStatus(in domain.TaskInstance, at time.Time) string {
	if IsOverdue(in, at) {
		return "overdue"
	}
	return strings.ReplaceAll(in.Status, "_", "-")
}
