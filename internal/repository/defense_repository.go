package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/memoire-api/internal/models"
)

// DefenseRepository reads committee outcomes owned by the jury module.
type DefenseRepository struct {
	db *sqlx.DB
}

// NewDefenseRepository constructs a DefenseRepository.
func NewDefenseRepository(db *sqlx.DB) *DefenseRepository {
	return &DefenseRepository{db: db}
}

// FindByStudentYear returns the defense of a student for a year, or nil when none is recorded.
func (r *DefenseRepository) FindByStudentYear(ctx context.Context, studentID, year string) (*models.Defense, error) {
	const query = `SELECT id, student_id, academic_year, status, grade, defended_at FROM defenses WHERE student_id = $1 AND academic_year = $2`
	var defense models.Defense
	if err := r.db.GetContext(ctx, &defense, query, studentID, year); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find defense: %w", err)
	}
	return &defense, nil
}

// HasDefended reports whether the student defended in any year.
func (r *DefenseRepository) HasDefended(ctx context.Context, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM defenses WHERE student_id = $1 AND status = 'DEFENDED')`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID); err != nil {
		return false, fmt.Errorf("check defended: %w", err)
	}
	return exists, nil
}
