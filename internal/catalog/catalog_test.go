package catalog

import (
	"testing"

	"checkline/internal/domain"
)

func TestDefaultCatalogValid(t *testing.T) {
	c := Default()
	if c.Len() == 0 {
		t.Fatalf("embedded catalog is empty")
	}
	if len(c.BySection(domain.SectionOpening)) == 0 {
		t.Fatalf("no opening templates")
	}
	if len(c.BySection(domain.SectionService)) == 0 {
		t.Fatalf("no service templates")
	}
	if len(c.BySection(domain.SectionClosing)) == 0 {
		t.Fatalf("no closing templates")
	}
	tpl, ok := c.Lookup("svc.hot-holding")
	if !ok {
		t.Fatalf("expected hot-holding template")
	}
	if tpl.LimitText == "" {
		t.Fatalf("hot-holding template missing limit")
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	_, err := New([]domain.TaskTemplate{
		{ID: "a", Section: domain.SectionOpening, Title: "one", ProofType: domain.ProofNote},
		{ID: "a", Section: domain.SectionClosing, Title: "two", ProofType: domain.ProofNote},
	})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestUnknownSectionRejected(t *testing.T) {
	_, err := New([]domain.TaskTemplate{
		{ID: "a", Section: "brunch", Title: "one", ProofType: domain.ProofNote},
	})
	if err == nil {
		t.Fatalf("expected section error")
	}
}

func TestUnknownProofTypeRejected(t *testing.T) {
	_, err := New([]domain.TaskTemplate{
		{ID: "a", Section: domain.SectionOpening, Title: "one", ProofType: "vibes"},
	})
	if err == nil {
		t.Fatalf("expected proof type error")
	}
}

func TestFromYAMLPreservesOrder(t *testing.T) {
	c, err := FromYAML([]byte(`templates:
  - id: z.last
    section: closing
    title: Last
    freq: Closing
    proof: checkbox
  - id: a.first
    section: opening
    title: First
    freq: Shift start
    proof: checkbox
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	all := c.All()
	if all[0].ID != "z.last" || all[1].ID != "a.first" {
		t.Fatalf("catalog order not preserved: %v", []string{all[0].ID, all[1].ID})
	}
}
