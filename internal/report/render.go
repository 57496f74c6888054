package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// FileRenderer writes report documents as plain-text table files under Dir
// and returns the file path as the document reference.
type FileRenderer struct {
	Dir string
	Now func() time.Time
}

func (fr FileRenderer) now() time.Time {
	if fr.Now != nil {
		return fr.Now()
	}
	return time.Now()
}

func (fr FileRenderer) ShiftLog(doc ShiftLogDocument) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", doc.Title)
	fmt.Fprintf(&b, "Manager: %s\n", doc.Manager)
	fmt.Fprintf(&b, "Opened:  %s\n", doc.OpenedAt)
	fmt.Fprintf(&b, "Closed:  %s\n\n", doc.ClosedAt)

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Section", "Check", "Legal Ref", "Limit", "Value", "Status", "Time"})
	for _, row := range doc.Rows {
		tw.AppendRow(table.Row{row.Section, row.Title, row.LegalRef, row.Limit, row.Value, row.Status, row.CompletedAt})
	}
	tw.SetStyle(table.StyleLight)
	b.WriteString(tw.Render())
	b.WriteString("\n")

	return fr.write("shift-log", b.String())
}

func (fr FileRenderer) InspectorPack(doc InspectorDocument) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", doc.Title)
	fmt.Fprintf(&b, "Generated: %s\n", doc.GeneratedAt)
	for _, group := range doc.Groups {
		fmt.Fprintf(&b, "\n%s\n", strings.ToUpper(group.Section))
		tw := table.NewWriter()
		tw.AppendHeader(table.Row{"Check", "Legal Ref", "Limit", "Value", "Status", "Date"})
		for _, row := range group.Rows {
			tw.AppendRow(table.Row{row.Title, row.LegalRef, row.Limit, row.Value, row.Status, row.Date})
		}
		tw.SetStyle(table.StyleLight)
		b.WriteString(tw.Render())
		b.WriteString("\n")
	}
	return fr.write("inspector-pack", b.String())
}

func (fr FileRenderer) write(prefix, content string) (string, error) {
	if fr.Dir == "" {
		return "", fmt.Errorf("renderer output directory not set")
	}
	if err := os.MkdirAll(fr.Dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.txt", prefix, fr.now().UTC().Format("20060102-150405"))
	path := filepath.Join(fr.Dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
