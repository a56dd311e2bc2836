package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
)

// CreateRuleset inserts a new ruleset at trust level "proposed".
func (s *Store) CreateRuleset(ctx context.Context, r *models.Ruleset) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO rulesets (
			id, tenant_id, name, active_version, active_deployment_id,
			trust_level, trust_score, trust_components, execution_count,
			positive_feedback, negative_feedback, accuracy_rate,
			last_execution_at, last_promoted_at, last_demoted_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now()
		) RETURNING created_at, updated_at`
	row := s.db.QueryRowxContext(ctx, q,
		r.ID, r.TenantID, r.Name, r.ActiveVersion, r.ActiveDeploymentID,
		r.TrustLevel, r.TrustScore, r.TrustComponents, r.ExecutionCount,
		r.PositiveFeedback, r.NegativeFeedback, r.AccuracyRate,
		r.LastExecutionAt, r.LastPromotedAt, r.LastDemotedAt,
	)
	if err := row.Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return errs.Wrap(errs.Database, "insert ruleset", err)
	}
	return nil
}

// GetRuleset fetches a ruleset scoped to its tenant.
func (s *Store) GetRuleset(ctx context.Context, tenantID, id string) (*models.Ruleset, error) {
	var r models.Ruleset
	const q = `SELECT * FROM rulesets WHERE id = $1 AND tenant_id = $2`
	if err := s.db.GetContext(ctx, &r, q, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "get ruleset", err)
	}
	return &r, nil
}

// ListRulesets returns every ruleset for a tenant, optionally filtered
// to a single trust level when level >= 0.
func (s *Store) ListRulesets(ctx context.Context, tenantID string, level int) ([]models.Ruleset, error) {
	var rows []models.Ruleset
	var err error
	if level >= 0 {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM rulesets WHERE tenant_id = $1 AND trust_level = $2 ORDER BY name`,
			tenantID, level)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM rulesets WHERE tenant_id = $1 ORDER BY name`, tenantID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.Database, "list rulesets", err)
	}
	return rows, nil
}

// GetRulesetUnscoped fetches a ruleset by id without a tenant filter,
// for internal callers (the scheduler) that only hold the id.
func (s *Store) GetRulesetUnscoped(ctx context.Context, id string) (*models.Ruleset, error) {
	var r models.Ruleset
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM rulesets WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "get ruleset unscoped", err)
	}
	return &r, nil
}

// ListAllRulesets returns every ruleset across all tenants, for the
// trust_reevaluator scheduler driver (spec.md §4.4, §4.9).
func (s *Store) ListAllRulesets(ctx context.Context) ([]models.Ruleset, error) {
	var rows []models.Ruleset
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM rulesets ORDER BY tenant_id, name`); err != nil {
		return nil, errs.Wrap(errs.Database, "list all rulesets", err)
	}
	return rows, nil
}

// LockRulesetForUpdate fetches a ruleset row with FOR UPDATE inside an
// existing transaction, used by trust transitions and deployments.
func (s *Store) LockRulesetForUpdate(ctx context.Context, tx *sqlx.Tx, tenantID, id string) (*models.Ruleset, error) {
	var r models.Ruleset
	const q = `SELECT * FROM rulesets WHERE id = $1 AND tenant_id = $2 FOR UPDATE`
	if err := tx.GetContext(ctx, &r, q, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "lock ruleset", err)
	}
	return &r, nil
}

// UpdateRulesetTrust persists a new trust level/score/components snapshot
// inside a transaction (caller already holds the row lock).
func (s *Store) UpdateRulesetTrust(ctx context.Context, tx *sqlx.Tx, r *models.Ruleset) error {
	const q = `
		UPDATE rulesets SET
			trust_level = $1, trust_score = $2, trust_components = $3,
			accuracy_rate = $4, last_promoted_at = $5, last_demoted_at = $6,
			updated_at = now()
		WHERE id = $7 AND tenant_id = $8`
	_, err := tx.ExecContext(ctx, q,
		r.TrustLevel, r.TrustScore, r.TrustComponents, r.AccuracyRate,
		r.LastPromotedAt, r.LastDemotedAt, r.ID, r.TenantID)
	if err != nil {
		return errs.Wrap(errs.Database, "update ruleset trust", err)
	}
	return nil
}

// RecordExecutionOutcome bumps counters after a judgment executes.
func (s *Store) RecordExecutionOutcome(ctx context.Context, tenantID, rulesetID string, positive bool) error {
	q := `
		UPDATE rulesets SET
			execution_count = execution_count + 1,
			positive_feedback = positive_feedback + $1,
			negative_feedback = negative_feedback + $2,
			last_execution_at = now(),
			updated_at = now()
		WHERE id = $3 AND tenant_id = $4`
	inc := 0
	if positive {
		inc = 1
	}
	neg := 1 - inc
	_, err := s.db.ExecContext(ctx, q, inc, neg, rulesetID, tenantID)
	if err != nil {
		return errs.Wrap(errs.Database, "record execution outcome", err)
	}
	return nil
}

// SetActiveDeployment points a ruleset at its currently rolling out
// deployment, or clears it when deploymentID is nil.
func (s *Store) SetActiveDeployment(ctx context.Context, tx *sqlx.Tx, tenantID, rulesetID string, deploymentID *string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE rulesets SET active_deployment_id = $1, updated_at = now() WHERE id = $2 AND tenant_id = $3`,
		deploymentID, rulesetID, tenantID)
	if err != nil {
		return errs.Wrap(errs.Database, "set active deployment", err)
	}
	return nil
}

// CreateRulesetVersion inserts a new immutable script revision.
func (s *Store) CreateRulesetVersion(ctx context.Context, v *models.RulesetVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO ruleset_versions (id, ruleset_id, version, script, changelog, initial_trust_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now()) RETURNING created_at`
	row := s.db.QueryRowxContext(ctx, q, v.ID, v.RulesetID, v.Version, v.Script, v.Changelog, v.InitialTrustLevel)
	if err := row.Scan(&v.CreatedAt); err != nil {
		return errs.Wrap(errs.Database, "insert ruleset version", err)
	}
	return nil
}

// GetRulesetVersion fetches a specific version of a ruleset's script.
func (s *Store) GetRulesetVersion(ctx context.Context, rulesetID string, version int) (*models.RulesetVersion, error) {
	var v models.RulesetVersion
	const q = `SELECT * FROM ruleset_versions WHERE ruleset_id = $1 AND version = $2`
	if err := s.db.GetContext(ctx, &v, q, rulesetID, version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "get ruleset version", err)
	}
	return &v, nil
}

// NextVersion returns the version number a new RulesetVersion should use.
func (s *Store) NextVersion(ctx context.Context, rulesetID string) (int, error) {
	var max sql.NullInt64
	const q = `SELECT MAX(version) FROM ruleset_versions WHERE ruleset_id = $1`
	if err := s.db.GetContext(ctx, &max, q, rulesetID); err != nil {
		return 0, errs.Wrap(errs.Database, "next version", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// UpdateRulesetName renames a ruleset, the only field PATCH /rulesets/{id}
// exposes — trust level and score are only ever moved by the trust
// engine's own transition path.
func (s *Store) UpdateRulesetName(ctx context.Context, tenantID, id, name string) (*models.Ruleset, error) {
	var r models.Ruleset
	const q = `
		UPDATE rulesets SET name = $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3
		RETURNING *`
	if err := s.db.GetContext(ctx, &r, q, name, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "rename ruleset", err)
	}
	return &r, nil
}

// DeleteRuleset removes a ruleset, refusing when it still has an
// active deployment so a delete can never orphan a live rollout.
func (s *Store) DeleteRuleset(ctx context.Context, tenantID, id string) error {
	r, err := s.GetRuleset(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if r.ActiveDeploymentID != nil {
		return errs.New(errs.Conflict, "ruleset has an active deployment")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rulesets WHERE id = $1 AND tenant_id = $2`, id, tenantID); err != nil {
		return errs.Wrap(errs.Database, "delete ruleset", err)
	}
	return nil
}
