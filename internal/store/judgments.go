package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
)

// RecordJudgment appends one judgment execution record.
func (s *Store) RecordJudgment(ctx context.Context, j *models.JudgmentExecution) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO judgment_executions (
			id, tenant_id, ruleset_id, input_data, output, confidence, method_used,
			trust_level_at_time, risk_level, auto_executed, success, needs_reprocess,
			soft_deleted, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false, now())
		RETURNING created_at`
	row := s.db.QueryRowxContext(ctx, q,
		j.ID, j.TenantID, j.RulesetID, j.InputData, j.Output, j.Confidence, j.MethodUsed,
		j.TrustLevelAtTime, j.RiskLevel, j.AutoExecuted, j.Success, j.NeedsReprocess)
	if err := row.Scan(&j.CreatedAt); err != nil {
		return errs.Wrap(errs.Database, "insert judgment execution", err)
	}
	return nil
}

// GetJudgment fetches a judgment by id, scoped to tenant.
func (s *Store) GetJudgment(ctx context.Context, tenantID, id string) (*models.JudgmentExecution, error) {
	var j models.JudgmentExecution
	const q = `SELECT * FROM judgment_executions WHERE id = $1 AND tenant_id = $2`
	if err := s.db.GetContext(ctx, &j, q, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "get judgment", err)
	}
	return &j, nil
}

// SoftDeleteJudgment marks a judgment excluded from trust/accuracy
// aggregates without removing the audit trail (open question iv).
func (s *Store) SoftDeleteJudgment(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE judgment_executions SET soft_deleted = true WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return errs.Wrap(errs.Database, "soft delete judgment", err)
	}
	return nil
}

// MarkNeedsReprocess flags a judgment for reprocessing after a rollback.
func (s *Store) MarkNeedsReprocess(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE judgment_executions SET needs_reprocess = true WHERE id = $1`, id)
	if err != nil {
		return errs.Wrap(errs.Database, "mark needs reprocess", err)
	}
	return nil
}

// AccuracySnapshot is the accuracy/consistency aggregate over a ruleset's
// non-soft-deleted execution history, used by the trust score (C7).
type AccuracySnapshot struct {
	Total         int     `db:"total"`
	Successes     int     `db:"successes"`
	RecentTotal   int     `db:"recent_total"`
	RecentSuccess int     `db:"recent_success"`
	AccuracyRate  float64 `db:"accuracy_rate"`
}

// RulesetAccuracy aggregates accuracy over all non-soft-deleted judgments
// for a ruleset, plus a recency-windowed sub-aggregate for consistency.
func (s *Store) RulesetAccuracy(ctx context.Context, rulesetID string, recentN int) (*AccuracySnapshot, error) {
	const q = `
		WITH recent AS (
			SELECT success FROM judgment_executions
			WHERE ruleset_id = $1 AND soft_deleted = false
			ORDER BY created_at DESC LIMIT $2
		)
		SELECT
			COALESCE((SELECT COUNT(*) FROM judgment_executions WHERE ruleset_id = $1 AND soft_deleted = false), 0) AS total,
			COALESCE((SELECT COUNT(*) FROM judgment_executions WHERE ruleset_id = $1 AND soft_deleted = false AND success), 0) AS successes,
			COALESCE((SELECT COUNT(*) FROM recent), 0) AS recent_total,
			COALESCE((SELECT COUNT(*) FROM recent WHERE success), 0) AS recent_success,
			COALESCE((SELECT AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END) FROM judgment_executions WHERE ruleset_id = $1 AND soft_deleted = false), 0) AS accuracy_rate`
	var snap AccuracySnapshot
	if err := s.db.GetContext(ctx, &snap, q, rulesetID, recentN); err != nil {
		return nil, errs.Wrap(errs.Database, "ruleset accuracy", err)
	}
	return &snap, nil
}

// CountNegativeSince counts negative-feedback judgments after ts, used by
// demotion guard thresholds (demote_neg_count).
func (s *Store) CountNegativeSince(ctx context.Context, rulesetID string, sinceUnixSeconds int64) (int, error) {
	const q = `
		SELECT COUNT(*) FROM judgment_executions
		WHERE ruleset_id = $1 AND soft_deleted = false AND success = false
		  AND created_at >= to_timestamp($2)`
	var n int
	if err := s.db.GetContext(ctx, &n, q, rulesetID, sinceUnixSeconds); err != nil {
		return 0, errs.Wrap(errs.Database, "count negative since", err)
	}
	return n, nil
}
