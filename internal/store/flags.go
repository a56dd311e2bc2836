package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
)

// GetFeatureFlag fetches the override row for a (tenant, feature) pair,
// or nil when none exists (falls through the hierarchy in spec.md §4.12).
func (s *Store) GetFeatureFlag(ctx context.Context, tenantID, feature string) (*models.FeatureFlag, error) {
	var f models.FeatureFlag
	const q = `SELECT * FROM feature_flags WHERE tenant_id = $1 AND feature = $2`
	if err := s.db.GetContext(ctx, &f, q, tenantID, feature); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Database, "get feature flag", err)
	}
	return &f, nil
}

// UpsertFeatureFlag creates or replaces a flag override row.
func (s *Store) UpsertFeatureFlag(ctx context.Context, f *models.FeatureFlag) error {
	const q = `
		INSERT INTO feature_flags (id, tenant_id, feature, enabled, rollout_percentage, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, now(), now())
		ON CONFLICT (tenant_id, feature) DO UPDATE SET
			enabled = EXCLUDED.enabled, rollout_percentage = EXCLUDED.rollout_percentage, updated_at = now()
		RETURNING id, created_at, updated_at`
	row := s.db.QueryRowxContext(ctx, q, f.TenantID, f.Feature, f.Enabled, f.RolloutPercentage)
	if err := row.Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return errs.Wrap(errs.Database, "upsert feature flag", err)
	}
	return nil
}

// ListFeatureFlags returns every flag row for a tenant plus the global
// (tenant_id = "") overrides, for the admin listing endpoint.
func (s *Store) ListFeatureFlags(ctx context.Context, tenantID string) ([]models.FeatureFlag, error) {
	var rows []models.FeatureFlag
	const q = `SELECT * FROM feature_flags WHERE tenant_id = $1 OR tenant_id = '' ORDER BY feature, tenant_id`
	if err := s.db.SelectContext(ctx, &rows, q, tenantID); err != nil {
		return nil, errs.Wrap(errs.Database, "list feature flags", err)
	}
	return rows, nil
}
