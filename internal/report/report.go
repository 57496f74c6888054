package report

import (
	"sort"
	"strconv"
	"time"

	"checkline/internal/catalog"
	"checkline/internal/domain"
)

// ShiftLogRow is one line of the single-shift compliance log.
type ShiftLogRow struct {
	Section     string `json:"section"`
	Title       string `json:"title"`
	LegalRef    string `json:"legal_ref"`
	Limit       string `json:"limit"`
	Value       string `json:"value"`
	Status      string `json:"status"`
	CompletedAt string `json:"completed_at"`
}

// InspectorRow is one line of the 30-day inspector pack.
type InspectorRow struct {
	Title    string `json:"title"`
	LegalRef string `json:"legal_ref"`
	Limit    string `json:"limit"`
	Value    string `json:"value"`
	Status   string `json:"status"`
	Date     string `json:"date"`
}

// SectionGroup is a titled block of inspector rows.
type SectionGroup struct {
	Section string         `json:"section"`
	Rows    []InspectorRow `json:"rows"`
}

// ShiftLogDocument carries everything the renderer needs for a shift log.
type ShiftLogDocument struct {
	Title    string
	Manager  string
	OpenedAt string
	ClosedAt string
	Rows     []ShiftLogRow
}

// InspectorDocument carries the grouped rows for an inspector pack.
type InspectorDocument struct {
	Title       string
	GeneratedAt string
	Groups      []SectionGroup
}

// Renderer turns assembled rows into a stored document artifact and returns
// an opaque reference to it. Pagination and styling are its concern alone.
type Renderer interface {
	ShiftLog(doc ShiftLogDocument) (string, error)
	InspectorPack(doc InspectorDocument) (string, error)
}

const placeholder = "-"

// ShiftLogRows projects a shift's completed instances into log rows sorted
// by completion time. The projection never mutates instance data.
func ShiftLogRows(instances []domain.TaskInstance, cat *catalog.Catalog) []ShiftLogRow {
	var completed []domain.TaskInstance
	for _, in := range instances {
		if in.CompletedAt != nil {
			completed = append(completed, in)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return *completed[i].CompletedAt < *completed[j].CompletedAt
	})
	rows := make([]ShiftLogRow, 0, len(completed))
	for _, in := range completed {
		row := ShiftLogRow{
			Section:     placeholder,
			Title:       in.TemplateID,
			LegalRef:    placeholder,
			Limit:       placeholder,
			Value:       formatValue(in.Value),
			Status:      in.Status,
			CompletedAt: timeOfDay(*in.CompletedAt),
		}
		if tpl, ok := cat.Lookup(in.TemplateID); ok {
			row.Section = tpl.Section
			row.Title = tpl.Title
			row.LegalRef = orPlaceholder(tpl.LegalRef)
			row.Limit = orPlaceholder(tpl.LimitText)
		}
		rows = append(rows, row)
	}
	return rows
}

// sectionOrder fixes group ordering in the inspector pack; instances whose
// template is no longer in the catalog land in Other.
var sectionOrder = []string{domain.SectionOpening, domain.SectionService, domain.SectionClosing, "Other"}

// InspectorGroups projects completed instances into per-section groups.
// Each group keeps only the first rowCap rows in insertion order, a hard
// size cap that bounds the document rather than selecting the most recent.
func InspectorGroups(instances []domain.TaskInstance, cat *catalog.Catalog, rowCap int) []SectionGroup {
	bySection := map[string][]InspectorRow{}
	for _, in := range instances {
		if in.CompletedAt == nil {
			continue
		}
		section := "Other"
		row := InspectorRow{
			Title:    in.TemplateID,
			LegalRef: placeholder,
			Limit:    placeholder,
			Value:    formatValue(in.Value),
			Status:   in.Status,
			Date:     dateOnly(*in.CompletedAt),
		}
		if tpl, ok := cat.Lookup(in.TemplateID); ok {
			section = tpl.Section
			row.Title = tpl.Title
			row.LegalRef = orPlaceholder(tpl.LegalRef)
			row.Limit = orPlaceholder(tpl.LimitText)
		}
		if rowCap > 0 && len(bySection[section]) >= rowCap {
			continue
		}
		bySection[section] = append(bySection[section], row)
	}
	var groups []SectionGroup
	for _, section := range sectionOrder {
		if rows := bySection[section]; len(rows) > 0 {
			groups = append(groups, SectionGroup{Section: section, Rows: rows})
		}
	}
	return groups
}

func formatValue(v *float64) string {
	if v == nil {
		return placeholder
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func orPlaceholder(s string) string {
	if s == "" {
		return placeholder
	}
	return s
}

func timeOfDay(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("15:04:05")
}

func dateOnly(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("2006-01-02")
}
