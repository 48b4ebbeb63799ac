package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/memoire-api/internal/models"
)

const teacherColumns = `id, full_name, email, grade, specialty, quota_override, department_id, is_head, created_at, updated_at`

// TeacherRepository reads supervisors.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// FindByID fetches a teacher by ID.
func (r *TeacherRepository) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	query := `SELECT ` + teacherColumns + ` FROM teachers WHERE id = $1`
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// ListByDepartment returns the teachers of a department ordered by name.
func (r *TeacherRepository) ListByDepartment(ctx context.Context, departmentID string) ([]models.Teacher, error) {
	query := `SELECT ` + teacherColumns + ` FROM teachers WHERE department_id = $1 ORDER BY full_name ASC`
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, departmentID); err != nil {
		return nil, fmt.Errorf("list teachers by department: %w", err)
	}
	return teachers, nil
}

// Count returns the number of teachers, which is the number of load counters a rollover resets.
func (r *TeacherRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM teachers`); err != nil {
		return 0, fmt.Errorf("count teachers: %w", err)
	}
	return total, nil
}
