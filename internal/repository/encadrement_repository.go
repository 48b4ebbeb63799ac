package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/memoire-api/internal/models"
)

const encadrementColumns = `e.id, e.student_id, e.supervisor_id, e.academic_year, e.status, e.comment, e.previous_encadrement_id,
e.reactivated, e.requested_by, e.validated_by, e.requested_at, e.accepted_at, e.validated_at, e.closed_at, e.updated_at`

// EncadrementRepository persists supervision records and supervisor load counters.
type EncadrementRepository struct {
	db *sqlx.DB
}

// NewEncadrementRepository constructs an EncadrementRepository.
func NewEncadrementRepository(db *sqlx.DB) *EncadrementRepository {
	return &EncadrementRepository{db: db}
}

// FindByID fetches a supervision record.
func (r *EncadrementRepository) FindByID(ctx context.Context, id string) (*models.Encadrement, error) {
	query := `SELECT ` + encadrementColumns + ` FROM encadrements e WHERE e.id = $1`
	var item models.Encadrement
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		return nil, err
	}
	return &item, nil
}

// List returns records matching the filter with the total count.
func (r *EncadrementRepository) List(ctx context.Context, filter models.EncadrementFilter) ([]models.Encadrement, int, error) {
	base := "FROM encadrements e JOIN students s ON s.id = e.student_id WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.AcademicYear != "" {
		args = append(args, filter.AcademicYear)
		conditions = append(conditions, fmt.Sprintf("e.academic_year = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)))
	}
	if filter.SupervisorID != "" {
		args = append(args, filter.SupervisorID)
		conditions = append(conditions, fmt.Sprintf("e.supervisor_id = $%d", len(args)))
	}
	if filter.DepartmentID != "" {
		args = append(args, filter.DepartmentID)
		conditions = append(conditions, fmt.Sprintf("s.department_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY e.requested_at DESC LIMIT %d OFFSET %d", encadrementColumns, base, limit, offset)
	var items []models.Encadrement
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list encadrements: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count encadrements: %w", err)
	}
	return items, total, nil
}

// LatestBefore returns the most recent record of a student in a year before year, or nil.
func (r *EncadrementRepository) LatestBefore(ctx context.Context, studentID, year string) (*models.Encadrement, error) {
	query := `SELECT ` + encadrementColumns + ` FROM encadrements e
WHERE e.student_id = $1 AND e.academic_year < $2
ORDER BY e.academic_year DESC, e.requested_at DESC LIMIT 1`
	var item models.Encadrement
	if err := r.db.GetContext(ctx, &item, query, studentID, year); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest encadrement: %w", err)
	}
	return &item, nil
}

// ConsumedLoad returns the number of validated supervisions held by a teacher in year.
func (r *EncadrementRepository) ConsumedLoad(ctx context.Context, teacherID, year string) (int, error) {
	const query = `SELECT COALESCE((SELECT consumed FROM supervisor_loads WHERE teacher_id = $1 AND academic_year = $2), 0)`
	var consumed int
	if err := r.db.GetContext(ctx, &consumed, query, teacherID, year); err != nil {
		return 0, fmt.Errorf("consumed load: %w", err)
	}
	return consumed, nil
}

// CountByStatuses counts the records of a year in the given statuses.
func (r *EncadrementRepository) CountByStatuses(ctx context.Context, year string, statuses []models.EncadrementStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, year)
	for _, status := range statuses {
		args = append(args, string(status))
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM encadrements WHERE academic_year = $1 AND status IN (%s)`, placeholdersFrom(2, len(statuses)))
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count encadrements by status: %w", err)
	}
	return total, nil
}

// ResetSupervisorLoads sets every teacher's counter for year to the number of
// validated records that year actually holds, which is zero for a fresh year.
// The load rows are locked before counting so a validation committing
// concurrently is either counted or waits for the reset.
func (r *EncadrementRepository) ResetSupervisorLoads(ctx context.Context, year string) (affected int64, err error) {
	const ensure = `INSERT INTO supervisor_loads (teacher_id, academic_year, consumed, updated_at)
SELECT t.id, $1, 0, $2 FROM teachers t
ON CONFLICT (teacher_id, academic_year) DO NOTHING`
	const lock = `SELECT teacher_id FROM supervisor_loads WHERE academic_year = $1 ORDER BY teacher_id FOR UPDATE`
	const recount = `UPDATE supervisor_loads l
SET consumed = (SELECT COUNT(*) FROM encadrements e
                 WHERE e.supervisor_id = l.teacher_id AND e.academic_year = l.academic_year AND e.status = 'VALIDATED_BY_HEAD'),
    updated_at = $2
WHERE l.academic_year = $1`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reset supervisor loads: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := nowUTC()
	if _, err = tx.ExecContext(ctx, ensure, year, now); err != nil {
		return 0, fmt.Errorf("ensure supervisor loads: %w", err)
	}
	var locked []string
	if err = tx.SelectContext(ctx, &locked, lock, year); err != nil {
		return 0, fmt.Errorf("lock supervisor loads: %w", err)
	}
	res, err := tx.ExecContext(ctx, recount, year, now)
	if err != nil {
		return 0, fmt.Errorf("reset supervisor loads: %w", err)
	}
	if affected, err = res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("reset supervisor loads rows: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reset supervisor loads: %w", err)
	}
	return affected, nil
}

// WithTx runs fn inside a transaction exposing locked supervision reads and writes.
func (r *EncadrementRepository) WithTx(ctx context.Context, fn func(tx SupervisionTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin supervision transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqlSupervisionTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit supervision transaction: %w", err)
	}
	return nil
}
