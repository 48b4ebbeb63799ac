package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/memoire-api/internal/models"
)

// SupervisionTx is the set of locked reads and writes available to a supervision
// transition. Locks are taken in order: student-year, record, supervisor-year.
type SupervisionTx interface {
	// LockStudentYear serialises every transition touching one student in one year.
	LockStudentYear(ctx context.Context, studentID, year string) error
	// ActiveEncadrement returns the locked non-terminal record of a student, or nil.
	ActiveEncadrement(ctx context.Context, studentID, year string) (*models.Encadrement, error)
	// EncadrementForUpdate locks a record by ID.
	EncadrementForUpdate(ctx context.Context, id string) (*models.Encadrement, error)
	InsertEncadrement(ctx context.Context, item *models.Encadrement) error
	UpdateEncadrement(ctx context.Context, item *models.Encadrement) error
	// LockSupervisorLoad locks the load counter of a teacher and returns its value.
	LockSupervisorLoad(ctx context.Context, teacherID, year string) (int, error)
	IncrementSupervisorLoad(ctx context.Context, teacherID, year string) error
	// InsertTheme stores a theme unless the student already has one that year.
	InsertTheme(ctx context.Context, theme *models.Theme) (bool, error)
	ThemeForStudent(ctx context.Context, studentID, year string) (*models.Theme, error)
}

type sqlSupervisionTx struct {
	tx *sqlx.Tx
}

func (t *sqlSupervisionTx) LockStudentYear(ctx context.Context, studentID, year string) error {
	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := t.tx.ExecContext(ctx, query, "encadrement:"+studentID+":"+year); err != nil {
		return fmt.Errorf("lock student year: %w", err)
	}
	return nil
}

func (t *sqlSupervisionTx) ActiveEncadrement(ctx context.Context, studentID, year string) (*models.Encadrement, error) {
	query := `SELECT ` + encadrementColumns + ` FROM encadrements e
WHERE e.student_id = $1 AND e.academic_year = $2
  AND e.status IN ('REQUESTED', 'ACCEPTED_BY_SUPERVISOR', 'VALIDATED_BY_HEAD')
FOR UPDATE`
	var item models.Encadrement
	if err := t.tx.GetContext(ctx, &item, query, studentID, year); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active encadrement: %w", err)
	}
	return &item, nil
}

func (t *sqlSupervisionTx) EncadrementForUpdate(ctx context.Context, id string) (*models.Encadrement, error) {
	query := `SELECT ` + encadrementColumns + ` FROM encadrements e WHERE e.id = $1 FOR UPDATE`
	var item models.Encadrement
	if err := t.tx.GetContext(ctx, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *sqlSupervisionTx) InsertEncadrement(ctx context.Context, item *models.Encadrement) error {
	const query = `INSERT INTO encadrements (id, student_id, supervisor_id, academic_year, status, comment, previous_encadrement_id,
reactivated, requested_by, validated_by, requested_at, accepted_at, validated_at, closed_at, updated_at)
VALUES (:id, :student_id, :supervisor_id, :academic_year, :status, :comment, :previous_encadrement_id,
:reactivated, :requested_by, :validated_by, :requested_at, :accepted_at, :validated_at, :closed_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("insert encadrement: %w", err)
	}
	return nil
}

func (t *sqlSupervisionTx) UpdateEncadrement(ctx context.Context, item *models.Encadrement) error {
	const query = `UPDATE encadrements SET supervisor_id = :supervisor_id, status = :status, comment = :comment,
validated_by = :validated_by, accepted_at = :accepted_at, validated_at = :validated_at, closed_at = :closed_at,
updated_at = :updated_at
WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("update encadrement: %w", err)
	}
	return nil
}

func (t *sqlSupervisionTx) LockSupervisorLoad(ctx context.Context, teacherID, year string) (int, error) {
	const ensure = `INSERT INTO supervisor_loads (teacher_id, academic_year, consumed, updated_at)
VALUES ($1, $2, 0, $3) ON CONFLICT (teacher_id, academic_year) DO NOTHING`
	if _, err := t.tx.ExecContext(ctx, ensure, teacherID, year, nowUTC()); err != nil {
		return 0, fmt.Errorf("ensure supervisor load: %w", err)
	}
	const query = `SELECT consumed FROM supervisor_loads WHERE teacher_id = $1 AND academic_year = $2 FOR UPDATE`
	var consumed int
	if err := t.tx.GetContext(ctx, &consumed, query, teacherID, year); err != nil {
		return 0, fmt.Errorf("lock supervisor load: %w", err)
	}
	return consumed, nil
}

func (t *sqlSupervisionTx) IncrementSupervisorLoad(ctx context.Context, teacherID, year string) error {
	const query = `UPDATE supervisor_loads SET consumed = consumed + 1, updated_at = $3 WHERE teacher_id = $1 AND academic_year = $2`
	if _, err := t.tx.ExecContext(ctx, query, teacherID, year, nowUTC()); err != nil {
		return fmt.Errorf("increment supervisor load: %w", err)
	}
	return nil
}

func (t *sqlSupervisionTx) InsertTheme(ctx context.Context, theme *models.Theme) (bool, error) {
	const query = `INSERT INTO themes (id, student_id, academic_year, title, description, status, supervisor_comment,
reopen_motif, decided_by, decided_at, created_at, updated_at)
VALUES (:id, :student_id, :academic_year, :title, :description, :status, :supervisor_comment,
:reopen_motif, :decided_by, :decided_at, :created_at, :updated_at)
ON CONFLICT (student_id, academic_year) DO NOTHING`
	res, err := t.tx.NamedExecContext(ctx, query, theme)
	if err != nil {
		return false, fmt.Errorf("insert theme: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert theme rows: %w", err)
	}
	return affected > 0, nil
}

func (t *sqlSupervisionTx) ThemeForStudent(ctx context.Context, studentID, year string) (*models.Theme, error) {
	query := `SELECT ` + themeColumns + ` FROM themes WHERE student_id = $1 AND academic_year = $2`
	var theme models.Theme
	if err := t.tx.GetContext(ctx, &theme, query, studentID, year); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find theme: %w", err)
	}
	return &theme, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
