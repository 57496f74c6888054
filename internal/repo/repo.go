package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"checkline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const currentShiftKey = "current_shift_id"

// --- shifts ---

func (r Repo) InsertShift(ctx context.Context, tx *sql.Tx, s domain.Shift) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO shifts(id,date,opened_at,manager,closed_at) VALUES (?,?,?,?,?)`,
		s.ID, s.Date, s.OpenedAt, s.Manager, nullableStringPtr(s.ClosedAt))
	return err
}

func (r Repo) UpdateShift(ctx context.Context, tx *sql.Tx, s domain.Shift) error {
	res, err := tx.ExecContext(ctx, `UPDATE shifts SET date=?, opened_at=?, manager=?, closed_at=? WHERE id=?`,
		s.Date, s.OpenedAt, s.Manager, nullableStringPtr(s.ClosedAt), s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanShift(row *sql.Row) (domain.Shift, error) {
	var s domain.Shift
	var closedAt sql.NullString
	err := row.Scan(&s.ID, &s.Date, &s.OpenedAt, &s.Manager, &closedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if closedAt.Valid {
		s.ClosedAt = &closedAt.String
	}
	return s, nil
}

func (r Repo) GetShift(ctx context.Context, id string) (domain.Shift, error) {
	return scanShift(r.DB.QueryRowContext(ctx, `SELECT id,date,opened_at,manager,closed_at FROM shifts WHERE id=?`, id))
}

// CurrentShift resolves the current-shift pointer against the shifts table.
// ErrNotFound means no shift is open.
func (r Repo) CurrentShift(ctx context.Context) (domain.Shift, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, currentShiftKey).Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Shift{}, ErrNotFound
	}
	if err != nil {
		return domain.Shift{}, err
	}
	return r.GetShift(ctx, id)
}

func (r Repo) SetCurrentShift(ctx context.Context, tx *sql.Tx, shiftID string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO settings(key,value) VALUES (?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, currentShiftKey, shiftID)
	return err
}

func (r Repo) ClearCurrentShift(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key=?`, currentShiftKey)
	return err
}

func (r Repo) ListShifts(ctx context.Context) ([]domain.Shift, error) {
	return r.listShifts(ctx, `SELECT id,date,opened_at,manager,closed_at FROM shifts ORDER BY opened_at ASC, id ASC`)
}

// ListShiftsSince returns shifts whose calendar date is on or after the
// cutoff, oldest first. Dates compare lexicographically in YYYY-MM-DD form.
func (r Repo) ListShiftsSince(ctx context.Context, date string) ([]domain.Shift, error) {
	return r.listShifts(ctx, `SELECT id,date,opened_at,manager,closed_at FROM shifts WHERE date>=? ORDER BY opened_at ASC, id ASC`, date)
}

func (r Repo) listShifts(ctx context.Context, query string, args ...any) ([]domain.Shift, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Shift
	for rows.Next() {
		var s domain.Shift
		var closedAt sql.NullString
		if err := rows.Scan(&s.ID, &s.Date, &s.OpenedAt, &s.Manager, &closedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			s.ClosedAt = &closedAt.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- task instances ---

const instanceColumns = `id,shift_id,template_id,due_at,status,value,photo_ref,notes,corrective_action,completed_at,fail_streak,pass_streak`

// ListInstances returns a shift's instances in insertion order.
func (r Repo) ListInstances(ctx context.Context, shiftID string) ([]domain.TaskInstance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+instanceColumns+` FROM task_instances WHERE shift_id=? ORDER BY seq ASC`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskInstance
	for rows.Next() {
		var in domain.TaskInstance
		var value sql.NullFloat64
		var photoRef, notes, corrective, completedAt sql.NullString
		if err := rows.Scan(&in.ID, &in.ShiftID, &in.TemplateID, &in.DueAt, &in.Status,
			&value, &photoRef, &notes, &corrective, &completedAt, &in.FailStreak, &in.PassStreak); err != nil {
			return nil, err
		}
		if value.Valid {
			in.Value = &value.Float64
		}
		if photoRef.Valid {
			in.PhotoRef = &photoRef.String
		}
		if notes.Valid {
			in.Notes = &notes.String
		}
		if corrective.Valid {
			in.CorrectiveAction = &corrective.String
		}
		if completedAt.Valid {
			in.CompletedAt = &completedAt.String
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// SaveInstances replaces a shift's whole instance collection. Insertion
// order is preserved through the seq column; there is no partial patch API.
func (r Repo) SaveInstances(ctx context.Context, tx *sql.Tx, shiftID string, instances []domain.TaskInstance) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_instances WHERE shift_id=?`, shiftID); err != nil {
		return err
	}
	for i, in := range instances {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_instances(`+instanceColumns+`,seq) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			in.ID, shiftID, in.TemplateID, in.DueAt, in.Status,
			nullableFloatPtr(in.Value), nullableStringPtr(in.PhotoRef), nullableStringPtr(in.Notes),
			nullableStringPtr(in.CorrectiveAction), nullableStringPtr(in.CompletedAt),
			in.FailStreak, in.PassStreak, i); err != nil {
			return err
		}
	}
	return nil
}

// --- escalation state ---

func (r Repo) GetEscalation(ctx context.Context, shiftID, templateID string) (domain.EscalationState, error) {
	var es domain.EscalationState
	err := r.DB.QueryRowContext(ctx, `SELECT shift_id,template_id,override_minutes,fail_streak,pass_streak FROM escalations WHERE shift_id=? AND template_id=?`, shiftID, templateID).
		Scan(&es.ShiftID, &es.TemplateID, &es.OverrideMinutes, &es.FailStreak, &es.PassStreak)
	if err == sql.ErrNoRows {
		return domain.EscalationState{ShiftID: shiftID, TemplateID: templateID}, nil
	}
	return es, err
}

func (r Repo) UpsertEscalation(ctx context.Context, tx *sql.Tx, es domain.EscalationState) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escalations(shift_id,template_id,override_minutes,fail_streak,pass_streak) VALUES (?,?,?,?,?)
ON CONFLICT(shift_id,template_id) DO UPDATE SET override_minutes=excluded.override_minutes, fail_streak=excluded.fail_streak, pass_streak=excluded.pass_streak`,
		es.ShiftID, es.TemplateID, es.OverrideMinutes, es.FailStreak, es.PassStreak)
	return err
}

func (r Repo) ListEscalations(ctx context.Context, shiftID string) ([]domain.EscalationState, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT shift_id,template_id,override_minutes,fail_streak,pass_streak FROM escalations WHERE shift_id=? ORDER BY template_id ASC`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EscalationState
	for rows.Next() {
		var es domain.EscalationState
		if err := rows.Scan(&es.ShiftID, &es.TemplateID, &es.OverrideMinutes, &es.FailStreak, &es.PassStreak); err != nil {
			return nil, err
		}
		res = append(res, es)
	}
	return res, rows.Err()
}

// --- reports ---

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(id,shift_id,kind,document_ref,created_at) VALUES (?,?,?,?,?)`,
		rep.ID, nullable(rep.ShiftID), rep.Kind, rep.DocumentRef, rep.CreatedAt)
	return err
}

func (r Repo) ListReports(ctx context.Context) ([]domain.Report, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,shift_id,kind,document_ref,created_at FROM reports ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		var rep domain.Report
		var shiftID sql.NullString
		if err := rows.Scan(&rep.ID, &shiftID, &rep.Kind, &rep.DocumentRef, &rep.CreatedAt); err != nil {
			return nil, err
		}
		if shiftID.Valid {
			rep.ShiftID = shiftID.String
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, shiftID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if shiftID != "" {
		clauses = append(clauses, "shift_id=?")
		args = append(args, shiftID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 20
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,shift_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var shift, entity sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &shift, &e.EntityKind, &entity, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if shift.Valid {
			e.ShiftID = shift.String
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
