package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/memoire-api/internal/models"
)

// StudentRepository reads students and freezes defended ones as alumni.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, email, level, major, department_id, alumni, alumni_at, created_at, updated_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

const defendedStudentsQuery = `SELECT d.student_id FROM defenses d WHERE d.academic_year = $1 AND d.status = 'DEFENDED'`

// CountPromotable counts students who defended in year and are not alumni yet.
func (r *StudentRepository) CountPromotable(ctx context.Context, year string) (int, error) {
	query := `SELECT COUNT(*) FROM students WHERE alumni = FALSE AND id IN (` + defendedStudentsQuery + `)`
	var total int
	if err := r.db.GetContext(ctx, &total, query, year); err != nil {
		return 0, fmt.Errorf("count promotable students: %w", err)
	}
	return total, nil
}

// PromoteDefended marks every student who defended in year as alumni. Rows
// already promoted are left untouched so the call can be repeated.
func (r *StudentRepository) PromoteDefended(ctx context.Context, year string) (int64, error) {
	query := `UPDATE students SET alumni = TRUE, alumni_at = $2, updated_at = $2
WHERE alumni = FALSE AND id IN (` + defendedStudentsQuery + `)`
	res, err := r.db.ExecContext(ctx, query, year, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("promote defended students: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("promote defended students rows: %w", err)
	}
	return affected, nil
}
