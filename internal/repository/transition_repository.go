package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/memoire-api/internal/models"
)

// ErrPendingTransitionExists is returned when the one-pending-transition index rejects an insert.
var ErrPendingTransitionExists = errors.New("a pending academic transition already exists")

const transitionColumns = `id, previous_year, new_year, detection_type, status, archive_alumni, notify_users, comment,
proposed_by, validated_by, rejected_by, proposed_at, validated_at, rejected_at, started_at, completed_at, last_report, updated_at`

// TransitionRepository persists academic year transitions.
type TransitionRepository struct {
	db *sqlx.DB
}

// NewTransitionRepository constructs a TransitionRepository.
func NewTransitionRepository(db *sqlx.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

// Create inserts a proposal. The partial unique index guarantees a single pending row.
func (r *TransitionRepository) Create(ctx context.Context, transition *models.AcademicTransition) error {
	query := `INSERT INTO academic_transitions (` + transitionColumns + `)
VALUES (:id, :previous_year, :new_year, :detection_type, :status, :archive_alumni, :notify_users, :comment,
:proposed_by, :validated_by, :rejected_by, :proposed_at, :validated_at, :rejected_at, :started_at, :completed_at, :last_report, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, transition); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrPendingTransitionExists
		}
		return fmt.Errorf("create transition: %w", err)
	}
	return nil
}

// FindByID fetches a transition.
func (r *TransitionRepository) FindByID(ctx context.Context, id string) (*models.AcademicTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM academic_transitions WHERE id = $1`
	var transition models.AcademicTransition
	if err := r.db.GetContext(ctx, &transition, query, id); err != nil {
		return nil, err
	}
	return &transition, nil
}

// FindPending returns the non-terminal transition, or nil.
func (r *TransitionRepository) FindPending(ctx context.Context) (*models.AcademicTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM academic_transitions
WHERE status IN ('PROPOSED', 'VALIDATED', 'IN_PROGRESS') ORDER BY proposed_at DESC LIMIT 1`
	var transition models.AcademicTransition
	if err := r.db.GetContext(ctx, &transition, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending transition: %w", err)
	}
	return &transition, nil
}

// Latest returns the most recently proposed transition, or nil.
func (r *TransitionRepository) Latest(ctx context.Context) (*models.AcademicTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM academic_transitions ORDER BY proposed_at DESC LIMIT 1`
	var transition models.AcademicTransition
	if err := r.db.GetContext(ctx, &transition, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find latest transition: %w", err)
	}
	return &transition, nil
}

// UpdateState writes the mutable fields if the row is still in from.
// It returns false when the status changed concurrently.
func (r *TransitionRepository) UpdateState(ctx context.Context, transition *models.AcademicTransition, from models.TransitionStatus) (bool, error) {
	const query = `UPDATE academic_transitions SET status = $2, archive_alumni = $3, notify_users = $4, comment = $5,
validated_by = $6, rejected_by = $7, validated_at = $8, rejected_at = $9, started_at = $10, completed_at = $11,
last_report = $12, updated_at = $13
WHERE id = $1 AND status = $14`
	transition.UpdatedAt = nowUTC()
	res, err := r.db.ExecContext(ctx, query, transition.ID, transition.Status, transition.ArchiveAlumni, transition.NotifyUsers,
		transition.Comment, transition.ValidatedBy, transition.RejectedBy, transition.ValidatedAt, transition.RejectedAt,
		transition.StartedAt, transition.CompletedAt, transition.LastReport, transition.UpdatedAt, from)
	if err != nil {
		return false, fmt.Errorf("update transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update transition rows: %w", err)
	}
	return affected == 1, nil
}
