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

// CreateDeployment inserts a deployment in "draft" status.
func (s *Store) CreateDeployment(ctx context.Context, tx *sqlx.Tx, d *models.Deployment) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO deployments (
			id, ruleset_id, status, target_version, previous_version,
			canary_config, compensation_strategy, canary_traffic_percentage, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now()) RETURNING created_at`
	row := tx.QueryRowxContext(ctx, q,
		d.ID, d.RulesetID, d.Status, d.TargetVersion, d.PreviousVersion,
		d.CanaryConfig, d.CompensationStrategy, d.CanaryTrafficPercentage)
	if err := row.Scan(&d.CreatedAt); err != nil {
		return errs.Wrap(errs.Database, "insert deployment", err)
	}
	return nil
}

// GetDeployment fetches a deployment by id.
func (s *Store) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	var d models.Deployment
	if err := s.db.GetContext(ctx, &d, `SELECT * FROM deployments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "get deployment", err)
	}
	return &d, nil
}

// LockDeploymentForUpdate fetches a deployment with FOR UPDATE inside tx.
func (s *Store) LockDeploymentForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Deployment, error) {
	var d models.Deployment
	if err := tx.GetContext(ctx, &d, `SELECT * FROM deployments WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "lock deployment", err)
	}
	return &d, nil
}

// ActiveDeploymentForRuleset returns the in-flight canary deployment for a
// ruleset, if any.
func (s *Store) ActiveDeploymentForRuleset(ctx context.Context, rulesetID string) (*models.Deployment, error) {
	var d models.Deployment
	const q = `SELECT * FROM deployments WHERE ruleset_id = $1 AND status = 'canary' ORDER BY created_at DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &d, q, rulesetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "active deployment for ruleset", err)
	}
	return &d, nil
}

// UpdateDeploymentStatus transitions a deployment's status and traffic
// percentage inside a transaction.
func (s *Store) UpdateDeploymentStatus(ctx context.Context, tx *sqlx.Tx, d *models.Deployment) error {
	const q = `
		UPDATE deployments SET
			status = $1, canary_traffic_percentage = $2, started_at = $3,
			promoted_at = $4, rolled_back_at = $5, rollback_reason = $6
		WHERE id = $7`
	_, err := tx.ExecContext(ctx, q,
		d.Status, d.CanaryTrafficPercentage, d.StartedAt, d.PromotedAt,
		d.RolledBackAt, d.RollbackReason, d.ID)
	if err != nil {
		return errs.Wrap(errs.Database, "update deployment status", err)
	}
	return nil
}

// ListCanaryDeployments returns every deployment currently in "canary"
// status, across tenants, for the scheduler's monitor driver.
func (s *Store) ListCanaryDeployments(ctx context.Context) ([]models.Deployment, error) {
	var rows []models.Deployment
	const q = `SELECT * FROM deployments WHERE status = 'canary'`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, errs.Wrap(errs.Database, "list canary deployments", err)
	}
	return rows, nil
}

// UpsertCanaryAssignment creates a sticky identifier-to-version mapping if
// one does not already exist; existing rows are never overwritten
// (ramp-down never migrates v2 identifiers back to v1).
func (s *Store) UpsertCanaryAssignment(ctx context.Context, a *models.CanaryAssignment) (*models.CanaryAssignment, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO canary_assignments (id, deployment_id, identifier, identifier_type, version, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (deployment_id, identifier, identifier_type) DO UPDATE SET deployment_id = canary_assignments.deployment_id
		RETURNING *`
	var out models.CanaryAssignment
	row := s.db.QueryRowxContext(ctx, q, a.ID, a.DeploymentID, a.Identifier, a.IdentifierType, a.Version, a.ExpiresAt)
	if err := row.StructScan(&out); err != nil {
		return nil, errs.Wrap(errs.Database, "upsert canary assignment", err)
	}
	return &out, nil
}

// GetCanaryAssignment fetches an existing assignment, if any.
func (s *Store) GetCanaryAssignment(ctx context.Context, deploymentID, identifier string, identifierType models.IdentifierType) (*models.CanaryAssignment, error) {
	var a models.CanaryAssignment
	const q = `SELECT * FROM canary_assignments WHERE deployment_id = $1 AND identifier = $2 AND identifier_type = $3`
	if err := s.db.GetContext(ctx, &a, q, deploymentID, identifier, identifierType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "get canary assignment", err)
	}
	return &a, nil
}

// MostRecentDeprecatedDeployment finds the deployment to restore on
// rollback: the most recently deprecated deployment for a ruleset.
func (s *Store) MostRecentDeprecatedDeployment(ctx context.Context, rulesetID string) (*models.Deployment, error) {
	var d models.Deployment
	const q = `SELECT * FROM deployments WHERE ruleset_id = $1 AND status = 'deprecated' ORDER BY created_at DESC LIMIT 1`
	if err := s.db.GetContext(ctx, &d, q, rulesetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Database, "most recent deprecated deployment", err)
	}
	return &d, nil
}

// MarkCanaryLogsNeedsReprocess implements the mark_and_reprocess
// compensation strategy: flags every v2 canary log for a deployment and
// the judgment rows they reference. Runs inside the caller's rollback
// transaction so compensation never commits independently of the status
// flip.
func (s *Store) MarkCanaryLogsNeedsReprocess(ctx context.Context, tx *sqlx.Tx, deploymentID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE canary_execution_logs SET needs_reprocess = true WHERE deployment_id = $1 AND canary_version = 'v2'`,
		deploymentID)
	if err != nil {
		return errs.Wrap(errs.Database, "mark canary logs needs reprocess", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE judgment_executions SET needs_reprocess = true
		WHERE id IN (
			SELECT execution_id FROM canary_execution_logs
			WHERE deployment_id = $1 AND canary_version = 'v2'
		)`, deploymentID)
	if err != nil {
		return errs.Wrap(errs.Database, "mark judgment executions needs reprocess", err)
	}
	return nil
}

// SoftDeleteCanaryLogs implements the soft_delete compensation strategy:
// marks v2 canary logs rollback-unsafe and soft-deletes the judgment
// rows they reference, inside the caller's rollback transaction.
func (s *Store) SoftDeleteCanaryLogs(ctx context.Context, tx *sqlx.Tx, deploymentID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE canary_execution_logs SET rollback_safe = false WHERE deployment_id = $1 AND canary_version = 'v2'`,
		deploymentID)
	if err != nil {
		return errs.Wrap(errs.Database, "soft delete canary logs", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE judgment_executions SET soft_deleted = true
		WHERE id IN (
			SELECT execution_id FROM canary_execution_logs
			WHERE deployment_id = $1 AND canary_version = 'v2'
		)`, deploymentID)
	if err != nil {
		return errs.Wrap(errs.Database, "soft delete judgment executions", err)
	}
	return nil
}

// DeleteCanaryAssignments removes every sticky assignment for a
// deployment, on rollback or promotion (spec.md §4.6).
func (s *Store) DeleteCanaryAssignments(ctx context.Context, deploymentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM canary_assignments WHERE deployment_id = $1`, deploymentID)
	if err != nil {
		return errs.Wrap(errs.Database, "delete canary assignments", err)
	}
	return nil
}

// DeleteExpiredCanaryAssignments removes assignments past their expiry,
// for the assignment_sweeper scheduler driver. Returns the count removed.
func (s *Store) DeleteExpiredCanaryAssignments(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM canary_assignments WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, errs.Wrap(errs.Database, "delete expired canary assignments", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Wrap(errs.Database, "rows affected", err)
	}
	return n, nil
}

// RecordCanaryExecution appends one per-judgment canary observation.
func (s *Store) RecordCanaryExecution(ctx context.Context, l *models.CanaryExecutionLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO canary_execution_logs (
			id, deployment_id, execution_id, canary_version, success,
			latency_ms, error_message, rollback_safe, needs_reprocess, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`
	_, err := s.db.ExecContext(ctx, q,
		l.ID, l.DeploymentID, l.ExecutionID, l.CanaryVersion, l.Success,
		l.LatencyMS, l.ErrorMessage, l.RollbackSafe, l.NeedsReprocess)
	if err != nil {
		return errs.Wrap(errs.Database, "record canary execution", err)
	}
	return nil
}

// ListReprocessableExecutions returns canary log rows flagged for
// reprocessing under compensation strategy mark_and_reprocess.
func (s *Store) ListReprocessableExecutions(ctx context.Context, deploymentID string) ([]models.CanaryExecutionLog, error) {
	var rows []models.CanaryExecutionLog
	const q = `SELECT * FROM canary_execution_logs WHERE deployment_id = $1 AND needs_reprocess = true AND reprocessed_at IS NULL`
	if err := s.db.SelectContext(ctx, &rows, q, deploymentID); err != nil {
		return nil, errs.Wrap(errs.Database, "list reprocessable executions", err)
	}
	return rows, nil
}

// MarkReprocessed stamps a canary log row as handled.
func (s *Store) MarkReprocessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE canary_execution_logs SET reprocessed_at = now() WHERE id = $1`, id)
	if err != nil {
		return errs.Wrap(errs.Database, "mark reprocessed", err)
	}
	return nil
}

// UpsertMetricsWindow records or refreshes a time-bucketed aggregate.
func (s *Store) UpsertMetricsWindow(ctx context.Context, w *models.DeploymentMetricsWindow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO deployment_metrics_windows (
			id, deployment_id, version_type, sample_count, success_count, error_count,
			error_rate, latency_p50, latency_p95, latency_p99, latency_avg,
			consecutive_failures, window_start, window_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (deployment_id, version_type, window_start) DO UPDATE SET
			sample_count = EXCLUDED.sample_count, success_count = EXCLUDED.success_count,
			error_count = EXCLUDED.error_count, error_rate = EXCLUDED.error_rate,
			latency_p50 = EXCLUDED.latency_p50, latency_p95 = EXCLUDED.latency_p95,
			latency_p99 = EXCLUDED.latency_p99, latency_avg = EXCLUDED.latency_avg,
			consecutive_failures = EXCLUDED.consecutive_failures, window_end = EXCLUDED.window_end`
	_, err := s.db.ExecContext(ctx, q,
		w.ID, w.DeploymentID, w.VersionType, w.SampleCount, w.SuccessCount, w.ErrorCount,
		w.ErrorRate, w.LatencyP50, w.LatencyP95, w.LatencyP99, w.LatencyAvg,
		w.ConsecutiveFailures, w.WindowStart, w.WindowEnd)
	if err != nil {
		return errs.Wrap(errs.Database, "upsert metrics window", err)
	}
	return nil
}

// LatestMetricsWindows returns the most recent canary and stable windows
// for a deployment, used by the canary circuit breaker (C11).
func (s *Store) LatestMetricsWindows(ctx context.Context, deploymentID string) (canary, stable *models.DeploymentMetricsWindow, err error) {
	var c models.DeploymentMetricsWindow
	cq := `SELECT * FROM deployment_metrics_windows WHERE deployment_id = $1 AND version_type = 'canary' ORDER BY window_end DESC LIMIT 1`
	if e := s.db.GetContext(ctx, &c, cq, deploymentID); e == nil {
		canary = &c
	} else if !errors.Is(e, sql.ErrNoRows) {
		return nil, nil, errs.Wrap(errs.Database, "latest canary window", e)
	}

	var st models.DeploymentMetricsWindow
	sq := `SELECT * FROM deployment_metrics_windows WHERE deployment_id = $1 AND version_type = 'stable' ORDER BY window_end DESC LIMIT 1`
	if e := s.db.GetContext(ctx, &st, sq, deploymentID); e == nil {
		stable = &st
	} else if !errors.Is(e, sql.ErrNoRows) {
		return nil, nil, errs.Wrap(errs.Database, "latest stable window", e)
	}
	return canary, stable, nil
}
