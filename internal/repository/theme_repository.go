package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/memoire-api/internal/models"
)

const themeColumns = `id, student_id, academic_year, title, description, status, supervisor_comment, reopen_motif,
decided_by, decided_at, created_at, updated_at`

// ThemeRepository persists thesis topics.
type ThemeRepository struct {
	db *sqlx.DB
}

// NewThemeRepository constructs a ThemeRepository.
func NewThemeRepository(db *sqlx.DB) *ThemeRepository {
	return &ThemeRepository{db: db}
}

// FindByID fetches a theme.
func (r *ThemeRepository) FindByID(ctx context.Context, id string) (*models.Theme, error) {
	query := `SELECT ` + themeColumns + ` FROM themes WHERE id = $1`
	var theme models.Theme
	if err := r.db.GetContext(ctx, &theme, query, id); err != nil {
		return nil, err
	}
	return &theme, nil
}

// FindByStudentYear returns the live theme of a student for a year, or nil.
func (r *ThemeRepository) FindByStudentYear(ctx context.Context, studentID, year string) (*models.Theme, error) {
	query := `SELECT ` + themeColumns + ` FROM themes WHERE student_id = $1 AND academic_year = $2`
	var theme models.Theme
	if err := r.db.GetContext(ctx, &theme, query, studentID, year); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find theme by student: %w", err)
	}
	return &theme, nil
}

// Propose stores a new proposal. A refused theme for the same student and year
// is replaced in place. It returns false when a live, non-refused theme exists.
func (r *ThemeRepository) Propose(ctx context.Context, theme *models.Theme) (bool, error) {
	const query = `INSERT INTO themes (id, student_id, academic_year, title, description, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'PROPOSED', $6, $6)
ON CONFLICT (student_id, academic_year)
DO UPDATE SET title = EXCLUDED.title, description = EXCLUDED.description, status = 'PROPOSED',
              supervisor_comment = NULL, reopen_motif = NULL, decided_by = NULL, decided_at = NULL,
              updated_at = EXCLUDED.updated_at
WHERE themes.status = 'REFUSED'
RETURNING id, created_at`
	now := nowUTC()
	var stored struct {
		ID        string       `db:"id"`
		CreatedAt sql.NullTime `db:"created_at"`
	}
	err := r.db.GetContext(ctx, &stored, query, theme.ID, theme.StudentID, theme.AcademicYear, theme.Title, theme.Description, now)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("propose theme: %w", err)
	}
	theme.ID = stored.ID
	theme.Status = models.ThemeStatusProposed
	theme.CreatedAt = now
	if stored.CreatedAt.Valid {
		theme.CreatedAt = stored.CreatedAt.Time
	}
	theme.UpdatedAt = now
	theme.SupervisorComment = nil
	theme.ReopenMotif = nil
	theme.DecidedBy = nil
	theme.DecidedAt = nil
	return true, nil
}

// UpdateStatus writes the decision fields only if the theme is still in from.
// It returns false when another writer moved the theme first.
func (r *ThemeRepository) UpdateStatus(ctx context.Context, theme *models.Theme, from models.ThemeStatus) (bool, error) {
	const query = `UPDATE themes SET status = $2, supervisor_comment = $3, reopen_motif = $4, decided_by = $5,
decided_at = $6, updated_at = $7
WHERE id = $1 AND status = $8`
	res, err := r.db.ExecContext(ctx, query, theme.ID, theme.Status, theme.SupervisorComment, theme.ReopenMotif,
		theme.DecidedBy, theme.DecidedAt, theme.UpdatedAt, from)
	if err != nil {
		return false, fmt.Errorf("update theme status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update theme status rows: %w", err)
	}
	return affected == 1, nil
}
