package report

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"checkline/internal/catalog"
	"checkline/internal/domain"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]domain.TaskTemplate{
		{ID: "open.a", Section: domain.SectionOpening, Title: "Fridge temps", Freq: "Shift start", LegalRef: "Reg 1", LimitText: "≤ 5", ProofType: domain.ProofValue},
		{ID: "svc.a", Section: domain.SectionService, Title: "Hot holding", Freq: "Hourly", LimitText: "≥ 63", ProofType: domain.ProofValue},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func completed(id, templateID, completedAt string, value *float64, status string) domain.TaskInstance {
	return domain.TaskInstance{
		ID:          id,
		ShiftID:     "shift-1",
		TemplateID:  templateID,
		DueAt:       completedAt,
		Status:      status,
		Value:       value,
		CompletedAt: &completedAt,
	}
}

func f(v float64) *float64 { return &v }

func TestShiftLogRowsSortedAndJoined(t *testing.T) {
	cat := testCatalog(t)
	instances := []domain.TaskInstance{
		completed("i2", "svc.a", "2024-01-01T12:00:00Z", f(64), domain.StatusCompliant),
		completed("i1", "open.a", "2024-01-01T09:05:00Z", f(4), domain.StatusCompliant),
		{ID: "i3", ShiftID: "shift-1", TemplateID: "svc.a", DueAt: "2024-01-01T13:00:00Z", Status: domain.StatusPending},
	}
	rows := ShiftLogRows(instances, cat)
	if len(rows) != 2 {
		t.Fatalf("expected 2 completed rows, got %d", len(rows))
	}
	if rows[0].Title != "Fridge temps" || rows[1].Title != "Hot holding" {
		t.Fatalf("rows not sorted by completion time: %v", rows)
	}
	if rows[0].Section != domain.SectionOpening || rows[0].LegalRef != "Reg 1" || rows[0].Limit != "≤ 5" {
		t.Fatalf("catalog join wrong: %+v", rows[0])
	}
	if rows[0].CompletedAt != "09:05:00" {
		t.Fatalf("expected time-of-day, got %q", rows[0].CompletedAt)
	}
	if rows[0].Value != "4" {
		t.Fatalf("value = %q", rows[0].Value)
	}
}

func TestShiftLogRowsMissingTemplate(t *testing.T) {
	cat := testCatalog(t)
	rows := ShiftLogRows([]domain.TaskInstance{
		completed("i1", "gone.tpl", "2024-01-01T10:00:00Z", nil, domain.StatusCompliant),
	}, cat)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row")
	}
	if rows[0].Title != "gone.tpl" || rows[0].Section != "-" || rows[0].Limit != "-" {
		t.Fatalf("expected placeholder row, got %+v", rows[0])
	}
}

func TestProjectionIdempotent(t *testing.T) {
	cat := testCatalog(t)
	instances := []domain.TaskInstance{
		completed("i1", "open.a", "2024-01-01T09:05:00Z", f(4), domain.StatusCompliant),
		completed("i2", "svc.a", "2024-01-01T12:00:00Z", f(61), domain.StatusNonCompliant),
	}
	first := ShiftLogRows(instances, cat)
	second := ShiftLogRows(instances, cat)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("shift log projection not idempotent")
	}
	g1 := InspectorGroups(instances, cat, 40)
	g2 := InspectorGroups(instances, cat, 40)
	if !reflect.DeepEqual(g1, g2) {
		t.Fatalf("inspector projection not idempotent")
	}
}

func TestInspectorGroupsCapKeepsFirstRows(t *testing.T) {
	cat := testCatalog(t)
	var instances []domain.TaskInstance
	for i := 0; i < 45; i++ {
		ts := time.Date(2024, 1, 1, 9, 0, i, 0, time.UTC).Format(time.RFC3339)
		instances = append(instances, completed(fmt.Sprintf("i%02d", i), "svc.a", ts, f(float64(60+i)), domain.StatusCompliant))
	}
	groups := InspectorGroups(instances, cat, 40)
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	if len(groups[0].Rows) != 40 {
		t.Fatalf("expected 40 rows, got %d", len(groups[0].Rows))
	}
	// first 40 in insertion order, not the most recent 40
	if groups[0].Rows[0].Value != "60" || groups[0].Rows[39].Value != "99" {
		t.Fatalf("cap did not keep the first rows: first=%q last=%q", groups[0].Rows[0].Value, groups[0].Rows[39].Value)
	}
	if groups[0].Rows[0].Date != "2024-01-01" {
		t.Fatalf("expected date-only stamp, got %q", groups[0].Rows[0].Date)
	}
}

func TestInspectorGroupsUnknownTemplateGoesToOther(t *testing.T) {
	cat := testCatalog(t)
	groups := InspectorGroups([]domain.TaskInstance{
		completed("i1", "open.a", "2024-01-01T09:00:00Z", f(3), domain.StatusCompliant),
		completed("i2", "gone.tpl", "2024-01-01T10:00:00Z", nil, domain.StatusCompliant),
	}, cat, 40)
	if len(groups) != 2 {
		t.Fatalf("expected opening + Other groups, got %d", len(groups))
	}
	if groups[len(groups)-1].Section != "Other" {
		t.Fatalf("Other group must come last, got %q", groups[len(groups)-1].Section)
	}
}

func TestFileRendererWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	fr := FileRenderer{Dir: dir, Now: func() time.Time { return time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC) }}
	ref, err := fr.ShiftLog(ShiftLogDocument{
		Title:    "Test venue — shift log 2024-01-01",
		Manager:  "alex",
		OpenedAt: "2024-01-01T09:00:00Z",
		ClosedAt: "2024-01-01T17:00:00Z",
		Rows: []ShiftLogRow{
			{Section: "opening", Title: "Fridge temps", LegalRef: "Reg 1", Limit: "≤ 5", Value: "4", Status: "compliant", CompletedAt: "09:05:00"},
		},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if filepath.Dir(ref) != dir {
		t.Fatalf("artifact outside renderer dir: %s", ref)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	content := string(data)
	for _, want := range []string{"Fridge temps", "Manager: alex", "compliant"} {
		if !strings.Contains(content, want) {
			t.Fatalf("artifact missing %q:\n%s", want, content)
		}
	}

	ref, err = fr.InspectorPack(InspectorDocument{
		Title:       "Test venue — inspector pack (last 30 days)",
		GeneratedAt: "2024-01-01T18:00:00Z",
		Groups: []SectionGroup{
			{Section: "service", Rows: []InspectorRow{{Title: "Hot holding", LegalRef: "-", Limit: "≥ 63", Value: "64", Status: "compliant", Date: "2024-01-01"}}},
		},
	})
	if err != nil {
		t.Fatalf("render pack: %v", err)
	}
	data, err = os.ReadFile(ref)
	if err != nil {
		t.Fatalf("read pack: %v", err)
	}
	if !strings.Contains(string(data), "SERVICE") || !strings.Contains(string(data), "Hot holding") {
		t.Fatalf("pack artifact incomplete:\n%s", string(data))
	}
}
