package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/memoire-api/internal/models"
)

// QuotaPolicyRepository persists department quota policies.
type QuotaPolicyRepository struct {
	db *sqlx.DB
}

// NewQuotaPolicyRepository constructs a QuotaPolicyRepository.
func NewQuotaPolicyRepository(db *sqlx.DB) *QuotaPolicyRepository {
	return &QuotaPolicyRepository{db: db}
}

// Get returns the policy of a department for a year, or nil when never configured.
func (r *QuotaPolicyRepository) Get(ctx context.Context, departmentID, year string) (*models.QuotaPolicy, error) {
	const query = `SELECT department_id, academic_year, mode, grade_limits, fixed_limit, updated_by, updated_at
FROM quota_policies WHERE department_id = $1 AND academic_year = $2`
	var policy models.QuotaPolicy
	if err := r.db.GetContext(ctx, &policy, query, departmentID, year); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get quota policy: %w", err)
	}
	return &policy, nil
}

// Replace stores policy, overwriting every column of a previous mode.
func (r *QuotaPolicyRepository) Replace(ctx context.Context, policy *models.QuotaPolicy) error {
	const query = `INSERT INTO quota_policies (department_id, academic_year, mode, grade_limits, fixed_limit, updated_by, updated_at)
VALUES (:department_id, :academic_year, :mode, :grade_limits, :fixed_limit, :updated_by, :updated_at)
ON CONFLICT (department_id, academic_year)
DO UPDATE SET mode = EXCLUDED.mode, grade_limits = EXCLUDED.grade_limits, fixed_limit = EXCLUDED.fixed_limit,
              updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	policy.UpdatedAt = nowUTC()
	if _, err := r.db.NamedExecContext(ctx, query, policy); err != nil {
		return fmt.Errorf("replace quota policy: %w", err)
	}
	return nil
}
