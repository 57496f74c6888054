package domain

// Section groups templates into the three phases of a shift.
const (
	SectionOpening = "opening"
	SectionService = "service"
	SectionClosing = "closing"
)

// Proof types describe the evidence an instance requires.
const (
	ProofPhoto      = "photo"
	ProofValue      = "value"
	ProofValuePhoto = "value_photo"
	ProofCheckbox   = "checkbox"
	ProofNote       = "note"
)

// Instance statuses. Overdue is derived at presentation time and never stored.
const (
	StatusPending      = "pending"
	StatusCompliant    = "compliant"
	StatusNonCompliant = "non_compliant"
)

// Report kinds.
const (
	ReportShiftLog      = "shift_log"
	ReportInspectorPack = "inspector_pack"
)

type SourceLink struct {
	Label string `json:"label" yaml:"label"`
	URL   string `json:"url" yaml:"url"`
}

// TaskTemplate is a static definition of a recurring compliance check.
// Templates are loaded once from the catalog and never mutated.
type TaskTemplate struct {
	ID          string       `json:"id" yaml:"id"`
	Section     string       `json:"section" yaml:"section" enum:"opening,service,closing"`
	Title       string       `json:"title" yaml:"title"`
	Freq        string       `json:"freq" yaml:"freq"`
	LegalRef    string       `json:"legal_ref,omitempty" yaml:"legal_ref"`
	LimitText   string       `json:"limit_text,omitempty" yaml:"limit"`
	HowText     string       `json:"how_text,omitempty" yaml:"how"`
	ProofType   string       `json:"proof_type" yaml:"proof" enum:"photo,value,value_photo,checkbox,note"`
	ActionLabel string       `json:"action_label,omitempty" yaml:"action"`
	Sources     []SourceLink `json:"sources,omitempty" yaml:"sources"`
}

// Shift is a bounded working period during which instances are tracked.
// At most one shift is open at a time.
type Shift struct {
	ID       string  `json:"id"`
	Date     string  `json:"date"`
	OpenedAt string  `json:"opened_at" format:"date-time"`
	Manager  string  `json:"manager"`
	ClosedAt *string `json:"closed_at,omitempty" format:"date-time"`
}

// TaskInstance is one concrete occurrence of a template within a shift.
// FailStreak and PassStreak are separate counters: FailStreak is seeded onto
// a recurring successor after a failed completion; PassStreak counts passing
// completions of an escalated template toward de-escalation.
type TaskInstance struct {
	ID               string   `json:"id"`
	ShiftID          string   `json:"shift_id"`
	TemplateID       string   `json:"template_id"`
	DueAt            string   `json:"due_at" format:"date-time"`
	Status           string   `json:"status" enum:"pending,compliant,non_compliant"`
	Value            *float64 `json:"value,omitempty"`
	PhotoRef         *string  `json:"photo_ref,omitempty"`
	Notes            *string  `json:"notes,omitempty"`
	CorrectiveAction *string  `json:"corrective_action,omitempty"`
	CompletedAt      *string  `json:"completed_at,omitempty" format:"date-time"`
	FailStreak       int      `json:"fail_streak"`
	PassStreak       int      `json:"pass_streak"`
}

// Report points at a generated document artifact. ShiftID is empty for
// inspector packs, which aggregate across shifts.
type Report struct {
	ID          string `json:"id"`
	ShiftID     string `json:"shift_id,omitempty"`
	Kind        string `json:"kind" enum:"shift_log,inspector_pack"`
	DocumentRef string `json:"document_ref"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// EscalationState holds the per-shift, per-template check-frequency state.
// OverrideMinutes of zero means the template runs at its base frequency.
type EscalationState struct {
	ShiftID         string `json:"shift_id"`
	TemplateID      string `json:"template_id"`
	OverrideMinutes int    `json:"override_minutes"`
	FailStreak      int    `json:"fail_streak"`
	PassStreak      int    `json:"pass_streak"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ShiftID    string `json:"shift_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
