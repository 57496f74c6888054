package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"checkline/internal/domain"
)

//go:embed templates.yml
var defaultYAML []byte

// Catalog is the fixed, ordered set of compliance check templates. It is
// loaded once at process start and never mutated afterwards.
type Catalog struct {
	templates []domain.TaskTemplate
	byID      map[string]domain.TaskTemplate
}

type catalogFile struct {
	Templates []domain.TaskTemplate `yaml:"templates"`
}

// Default returns the built-in template catalog.
func Default() *Catalog {
	c, err := FromYAML(defaultYAML)
	if err != nil {
		// the embedded fixture is validated by tests; a parse failure here
		// means a broken build, not a runtime condition
		panic(fmt.Sprintf("embedded catalog invalid: %v", err))
	}
	return c
}

// FromFile loads a catalog from a YAML file on disk.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates catalog YAML.
func FromYAML(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	return New(f.Templates)
}

// New builds a catalog from an ordered template list, validating ids,
// sections and proof types.
func New(templates []domain.TaskTemplate) (*Catalog, error) {
	byID := make(map[string]domain.TaskTemplate, len(templates))
	for _, tpl := range templates {
		if tpl.ID == "" {
			return nil, fmt.Errorf("catalog template with empty id (title %q)", tpl.Title)
		}
		if _, dup := byID[tpl.ID]; dup {
			return nil, fmt.Errorf("catalog template id %s duplicated", tpl.ID)
		}
		switch tpl.Section {
		case domain.SectionOpening, domain.SectionService, domain.SectionClosing:
		default:
			return nil, fmt.Errorf("template %s has unknown section %q", tpl.ID, tpl.Section)
		}
		switch tpl.ProofType {
		case domain.ProofPhoto, domain.ProofValue, domain.ProofValuePhoto, domain.ProofCheckbox, domain.ProofNote:
		default:
			return nil, fmt.Errorf("template %s has unknown proof type %q", tpl.ID, tpl.ProofType)
		}
		if tpl.Title == "" {
			return nil, fmt.Errorf("template %s has empty title", tpl.ID)
		}
		byID[tpl.ID] = tpl
	}
	return &Catalog{templates: templates, byID: byID}, nil
}

// Lookup returns the template with the given id.
func (c *Catalog) Lookup(id string) (domain.TaskTemplate, bool) {
	tpl, ok := c.byID[id]
	return tpl, ok
}

// BySection returns templates of one section in catalog order.
func (c *Catalog) BySection(section string) []domain.TaskTemplate {
	var out []domain.TaskTemplate
	for _, tpl := range c.templates {
		if tpl.Section == section {
			out = append(out, tpl)
		}
	}
	return out
}

// All returns every template in catalog order.
func (c *Catalog) All() []domain.TaskTemplate {
	out := make([]domain.TaskTemplate, len(c.templates))
	copy(out, c.templates)
	return out
}

// Len reports the number of templates.
func (c *Catalog) Len() int { return len(c.templates) }
