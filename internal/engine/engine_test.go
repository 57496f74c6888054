package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkline/internal/catalog"
	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/migrate"
	"checkline/internal/report"
)

type stubRenderer struct {
	shiftLogs  []report.ShiftLogDocument
	inspectors []report.InspectorDocument
}

func (r *stubRenderer) ShiftLog(doc report.ShiftLogDocument) (string, error) {
	r.shiftLogs = append(r.shiftLogs, doc)
	return "doc://shift-log", nil
}

func (r *stubRenderer) InspectorPack(doc report.InspectorDocument) (string, error) {
	r.inspectors = append(r.inspectors, doc)
	return "doc://inspector-pack", nil
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Renderer *stubRenderer
	now      time.Time
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat, err := catalog.New([]domain.TaskTemplate{
		{ID: "open.fridge", Section: domain.SectionOpening, Title: "Fridge temps", Freq: "Shift start", LegalRef: "Reg 852/2004", LimitText: "≤ 5", ProofType: domain.ProofValue},
		{ID: "svc.hot", Section: domain.SectionService, Title: "Hot holding", Freq: "Hourly during service", LimitText: "≥ 63", ProofType: domain.ProofValue},
		{ID: "svc.cold", Section: domain.SectionService, Title: "Cold display", Freq: "Every 2 hours", LimitText: "≤ 8", ProofType: domain.ProofValue},
		{ID: "svc.san", Section: domain.SectionService, Title: "Sanitizer strength", Freq: "Mid-Shift", LimitText: "≈ 200", ProofType: domain.ProofValue},
		{ID: "svc.delivery", Section: domain.SectionService, Title: "Delivery check", Freq: "On delivery", LimitText: "≤ 5", ProofType: domain.ProofValue},
		{ID: "close.down", Section: domain.SectionClosing, Title: "Closedown clean", Freq: "Closing", ProofType: domain.ProofPhoto},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	cfg := config.Default()
	cfg.Venue.Name = "Test Venue"
	renderer := &stubRenderer{}
	env := &testEnv{
		Ctx:      context.Background(),
		Renderer: renderer,
		now:      time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	env.Engine = engine.New(conn, cfg, cat, renderer)
	env.Engine.Now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) startShift(t *testing.T) domain.Shift {
	t.Helper()
	s, err := env.Engine.StartShift(env.Ctx, "alex", "tester")
	if err != nil {
		t.Fatalf("start shift: %v", err)
	}
	return s
}

func (env *testEnv) pending(t *testing.T, templateID string) domain.TaskInstance {
	t.Helper()
	_, instances, err := env.Engine.CurrentShift(env.Ctx)
	if err != nil {
		t.Fatalf("current shift: %v", err)
	}
	for _, in := range instances {
		if in.TemplateID == templateID && in.Status == domain.StatusPending {
			return in
		}
	}
	t.Fatalf("no pending instance for %s", templateID)
	return domain.TaskInstance{}
}

func (env *testEnv) completeValue(t *testing.T, templateID string, value float64) domain.TaskInstance {
	t.Helper()
	in := env.pending(t, templateID)
	done, err := env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{
		InstanceID: in.ID,
		Value:      &value,
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("complete %s: %v", templateID, err)
	}
	return done
}

func TestStartShiftSeeding(t *testing.T) {
	env := newTestEnv(t)
	s := env.startShift(t)
	if s.Date != "2024-01-01" || s.Manager != "alex" {
		t.Fatalf("unexpected shift: %+v", s)
	}

	_, instances, err := env.Engine.CurrentShift(env.Ctx)
	if err != nil {
		t.Fatalf("current shift: %v", err)
	}
	due := map[string]string{}
	for _, in := range instances {
		if in.Status != domain.StatusPending {
			t.Fatalf("seeded instance not pending: %+v", in)
		}
		due[in.TemplateID] = in.DueAt
	}
	want := map[string]string{
		"open.fridge": "2024-01-01T09:00:00Z",
		"svc.hot":     "2024-01-01T10:00:00Z",
		"svc.cold":    "2024-01-01T11:00:00Z",
		"svc.san":     "2024-01-01T13:00:00Z",
		"close.down":  "2024-01-01T17:00:00Z",
	}
	if len(due) != len(want) {
		t.Fatalf("seeded %d templates, want %d: %v", len(due), len(want), due)
	}
	for id, at := range want {
		if due[id] != at {
			t.Errorf("%s due %s, want %s", id, due[id], at)
		}
	}
	// on-demand checks are not seeded
	if _, ok := due["svc.delivery"]; ok {
		t.Fatalf("delivery check should not be seeded at open")
	}
}

func TestStartShiftRejectsOpenShift(t *testing.T) {
	env := newTestEnv(t)
	env.startShift(t)
	if _, err := env.Engine.StartShift(env.Ctx, "sam", "tester"); !errors.Is(err, engine.ErrShiftOpen) {
		t.Fatalf("expected ErrShiftOpen, got %v", err)
	}
}

func TestCompleteJudgesValueAgainstLimit(t *testing.T) {
	env := newTestEnv(t)
	env.startShift(t)

	done := env.completeValue(t, "open.fridge", 7)
	if done.Status != domain.StatusNonCompliant {
		t.Fatalf("7 against ≤ 5 should fail, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatalf("completed instance missing timestamp")
	}
	// opening checks are one-shot: no successor
	_, instances, _ := env.Engine.CurrentShift(env.Ctx)
	for _, in := range instances {
		if in.TemplateID == "open.fridge" && in.Status == domain.StatusPending {
			t.Fatalf("opening check scheduled a successor")
		}
	}

	env.advance(30 * time.Minute)
	done = env.completeValue(t, "svc.hot", 64)
	if done.Status != domain.StatusCompliant {
		t.Fatalf("64 against ≥ 63 should pass, got %s", done.Status)
	}
	next := env.pending(t, "svc.hot")
	if next.DueAt != "2024-01-01T10:30:00Z" {
		t.Fatalf("successor due %s, want one hour after completion", next.DueAt)
	}
	if next.FailStreak != 0 {
		t.Fatalf("passing completion must seed a clean successor, got streak %d", next.FailStreak)
	}
}

func TestComplianceOverrideForcesFail(t *testing.T) {
	env := newTestEnv(t)
	env.startShift(t)
	in := env.pending(t, "svc.hot")
	value := 70.0
	no := false
	done, err := env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{
		InstanceID: in.ID,
		Value:      &value,
		Compliant:  &no,
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusNonCompliant {
		t.Fatalf("explicit non-compliance must win, got %s", done.Status)
	}
}

func TestEscalationAfterConsecutiveFails(t *testing.T) {
	env := newTestEnv(t)
	env.startShift(t)

	done := env.completeValue(t, "svc.hot", 50)
	if done.Status != domain.StatusNonCompliant {
		t.Fatalf("first fail: %s", done.Status)
	}
	next := env.pending(t, "svc.hot")
	if next.DueAt != "2024-01-01T10:00:00Z" {
		t.Fatalf("one fail keeps the base interval, due %s", next.DueAt)
	}
	if next.FailStreak != 1 {
		t.Fatalf("successor fail streak %d, want 1", next.FailStreak)
	}

	env.advance(time.Hour)
	env.completeValue(t, "svc.hot", 51)
	next = env.pending(t, "svc.hot")
	if next.DueAt != "2024-01-01T10:30:00Z" {
		t.Fatalf("second fail must halve the interval, due %s", next.DueAt)
	}
	if next.FailStreak != 2 {
		t.Fatalf("successor fail streak %d, want 2", next.FailStreak)
	}

	// a third fail does not shrink the interval further
	env.advance(30 * time.Minute)
	env.completeValue(t, "svc.hot", 52)
	next = env.pending(t, "svc.hot")
	if next.DueAt != "2024-01-01T11:00:00Z" {
		t.Fatalf("override must hold at 30 minutes, due %s", next.DueAt)
	}

	es, err := env.Engine.Repo.GetEscalation(env.Ctx, done.ShiftID, "svc.hot")
	if err != nil {
		t.Fatalf("get escalation: %v", err)
	}
	if es.OverrideMinutes != 30 || es.FailStreak != 3 {
		t.Fatalf("escalation state %+v", es)
	}
}

func TestDeescalationAfterThreePasses(t *testing.T) {
	env := newTestEnv(t)
	s := env.startShift(t)

	env.completeValue(t, "svc.hot", 50)
	env.advance(time.Hour)
	env.completeValue(t, "svc.hot", 51)

	// escalated: passes count toward clearing, successors stay at 30 minutes
	for i, at := range []string{"2024-01-01T11:00:00Z", "2024-01-01T11:30:00Z"} {
		env.advance(30 * time.Minute)
		done := env.completeValue(t, "svc.hot", 64)
		if done.PassStreak != i+1 {
			t.Fatalf("pass %d recorded streak %d", i+1, done.PassStreak)
		}
		next := env.pending(t, "svc.hot")
		if next.DueAt != at {
			t.Fatalf("pass %d successor due %s, want %s", i+1, next.DueAt, at)
		}
	}

	// third pass clears the override; successor reverts to the base interval
	env.advance(30 * time.Minute)
	done := env.completeValue(t, "svc.hot", 64)
	if done.PassStreak != 3 {
		t.Fatalf("third pass streak %d", done.PassStreak)
	}
	next := env.pending(t, "svc.hot")
	if next.DueAt != "2024-01-01T12:30:00Z" {
		t.Fatalf("cleared override must restore the hourly interval, due %s", next.DueAt)
	}

	es, err := env.Engine.Repo.GetEscalation(env.Ctx, s.ID, "svc.hot")
	if err != nil {
		t.Fatalf("get escalation: %v", err)
	}
	if es.OverrideMinutes != 0 || es.PassStreak != 0 {
		t.Fatalf("escalation not cleared: %+v", es)
	}
}

func TestCompletionIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.startShift(t)
	in := env.pending(t, "open.fridge")
	value := 3.0
	if _, err := env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{InstanceID: in.ID, Value: &value, ActorID: "tester"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{InstanceID: in.ID, Value: &value, ActorID: "tester"})
	if !errors.Is(err, engine.ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestScheduleNextForTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.startShift(t)
	env.advance(2 * time.Hour)
	in, err := env.Engine.ScheduleNextForTemplate(env.Ctx, "svc.delivery", "tester")
	if err != nil {
		t.Fatalf("schedule next: %v", err)
	}
	if in.DueAt != "2024-01-01T11:00:00Z" {
		t.Fatalf("on-demand check due %s, want now", in.DueAt)
	}
	if got := env.pending(t, "svc.delivery"); got.ID != in.ID {
		t.Fatalf("scheduled instance not persisted")
	}
}

func TestCloseShiftSealsIt(t *testing.T) {
	env := newTestEnv(t)
	env.startShift(t)
	env.completeValue(t, "open.fridge", 3)
	laterInstance := env.pending(t, "svc.hot")

	env.advance(8 * time.Hour)
	rep, err := env.Engine.CloseShift(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if rep.Kind != domain.ReportShiftLog || rep.DocumentRef != "doc://shift-log" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(env.Renderer.shiftLogs) != 1 {
		t.Fatalf("renderer called %d times", len(env.Renderer.shiftLogs))
	}
	doc := env.Renderer.shiftLogs[0]
	if len(doc.Rows) != 1 || doc.Rows[0].Title != "Fridge temps" {
		t.Fatalf("shift log rows: %+v", doc.Rows)
	}

	if _, _, err := env.Engine.CurrentShift(env.Ctx); !errors.Is(err, engine.ErrNoCurrentShift) {
		t.Fatalf("expected no current shift after close, got %v", err)
	}
	value := 64.0
	_, err = env.Engine.CompleteInstance(env.Ctx, engine.CompleteOptions{InstanceID: laterInstance.ID, Value: &value, ActorID: "tester"})
	if !errors.Is(err, engine.ErrNoCurrentShift) {
		t.Fatalf("completion after close must fail, got %v", err)
	}
	if _, err := env.Engine.CloseShift(env.Ctx, "tester"); !errors.Is(err, engine.ErrNoCurrentShift) {
		t.Fatalf("double close must fail, got %v", err)
	}

	reports, err := env.Engine.Repo.ListReports(env.Ctx)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 stored report, got %d", len(reports))
	}
}

func TestInspectorPack(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Engine.InspectorPack(env.Ctx, "tester"); !errors.Is(err, engine.ErrNothingToReport) {
		t.Fatalf("empty window must fail, got %v", err)
	}

	env.startShift(t)
	env.completeValue(t, "open.fridge", 3)
	env.advance(time.Hour)
	env.completeValue(t, "svc.hot", 50)
	env.advance(7 * time.Hour)
	if _, err := env.Engine.CloseShift(env.Ctx, "tester"); err != nil {
		t.Fatalf("close shift: %v", err)
	}

	rep, err := env.Engine.InspectorPack(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("inspector pack: %v", err)
	}
	if rep.Kind != domain.ReportInspectorPack || rep.DocumentRef != "doc://inspector-pack" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(env.Renderer.inspectors) != 1 {
		t.Fatalf("renderer called %d times", len(env.Renderer.inspectors))
	}
	doc := env.Renderer.inspectors[0]
	if len(doc.Groups) != 2 {
		t.Fatalf("expected opening and service groups, got %+v", doc.Groups)
	}
	if doc.Groups[0].Section != domain.SectionOpening || doc.Groups[1].Section != domain.SectionService {
		t.Fatalf("group order: %+v", doc.Groups)
	}

	// rerunning the pack projects the same rows again
	if _, err := env.Engine.InspectorPack(env.Ctx, "tester"); err != nil {
		t.Fatalf("second pack: %v", err)
	}
	if len(env.Renderer.inspectors[1].Groups) != len(doc.Groups) {
		t.Fatalf("pack projection changed between runs")
	}
}

func TestOverdueIsDerived(t *testing.T) {
	in := domain.TaskInstance{Status: domain.StatusPending, DueAt: "2024-01-01T10:00:00Z"}
	at := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	if !engine.IsOverdue(in, at) {
		t.Fatalf("pending past due must be overdue")
	}
	if engine.DisplayStatus(in, at) != "overdue" {
		t.Fatalf("display status: %s", engine.DisplayStatus(in, at))
	}
	in.Status = domain.StatusNonCompliant
	if engine.IsOverdue(in, at) {
		t.Fatalf("completed instance can not be overdue")
	}
	if engine.DisplayStatus(in, at) != "non-compliant" {
		t.Fatalf("display status: %s", engine.DisplayStatus(in, at))
	}
}
