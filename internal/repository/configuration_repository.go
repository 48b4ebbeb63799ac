package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/memoire-api/internal/models"
)

const upsertConfigurationQuery = `INSERT INTO configurations (key, value, type, description, updated_by, updated_at)
VALUES (:key, :value, :type, :description, :updated_by, :updated_at)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, type = EXCLUDED.type, description = EXCLUDED.description,
              updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`

// ConfigurationRepository stores runtime settings, including the academic year pointer.
type ConfigurationRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewConfigurationRepository constructs the repository.
func NewConfigurationRepository(db *sqlx.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db, now: time.Now}
}

// ListByKeys returns the stored rows among keys. Missing keys are simply absent.
func (r *ConfigurationRepository) ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	const query = `SELECT key, value, type, description, updated_by, updated_at
FROM configurations WHERE key = ANY($1) ORDER BY key ASC`
	var configs []models.Configuration
	if err := r.db.SelectContext(ctx, &configs, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	return configs, nil
}

// Get fetches one setting. A missing key yields sql.ErrNoRows.
func (r *ConfigurationRepository) Get(ctx context.Context, key string) (*models.Configuration, error) {
	const query = `SELECT key, value, type, description, updated_by, updated_at FROM configurations WHERE key = $1`
	var cfg models.Configuration
	if err := r.db.GetContext(ctx, &cfg, query, key); err != nil {
		return nil, fmt.Errorf("get configuration %s: %w", key, err)
	}
	return &cfg, nil
}

// Upsert writes one setting.
func (r *ConfigurationRepository) Upsert(ctx context.Context, cfg *models.Configuration) error {
	cfg.UpdatedAt = r.now().UTC()
	if _, err := r.db.NamedExecContext(ctx, upsertConfigurationQuery, cfg); err != nil {
		return fmt.Errorf("upsert configuration %s: %w", cfg.Key, err)
	}
	return nil
}

// BulkUpsert writes every setting in one transaction with a shared timestamp.
func (r *ConfigurationRepository) BulkUpsert(ctx context.Context, cfgs []models.Configuration) (err error) {
	if len(cfgs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin configuration tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stamp := r.now().UTC()
	for i := range cfgs {
		cfgs[i].UpdatedAt = stamp
		if _, err = tx.NamedExecContext(ctx, upsertConfigurationQuery, cfgs[i]); err != nil {
			return fmt.Errorf("upsert configuration %s: %w", cfgs[i].Key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit configuration tx: %w", err)
	}
	return nil
}
