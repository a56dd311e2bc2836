package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
)

// DecisionMatrixRow fetches the row governing a (trust, risk) pair for a
// tenant.
func (s *Store) DecisionMatrixRow(ctx context.Context, tenantID string, trust models.TrustLevel, risk models.RiskLevel) (*models.DecisionMatrixRow, error) {
	var row models.DecisionMatrixRow
	const q = `SELECT * FROM decision_matrix_rows WHERE tenant_id = $1 AND trust_level = $2 AND risk_level = $3`
	if err := s.db.GetContext(ctx, &row, q, tenantID, trust, risk); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "decision matrix row", err)
	}
	return &row, nil
}

// UpsertDecisionMatrixRow creates or replaces a tenant's override for a
// (trust, risk) pair.
func (s *Store) UpsertDecisionMatrixRow(ctx context.Context, row *models.DecisionMatrixRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO decision_matrix_rows (id, tenant_id, trust_level, risk_level, decision, guards)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, trust_level, risk_level) DO UPDATE SET
			decision = EXCLUDED.decision, guards = EXCLUDED.guards`
	_, err := s.db.ExecContext(ctx, q, row.ID, row.TenantID, row.TrustLevel, row.RiskLevel, row.Decision, row.Guards)
	if err != nil {
		return errs.Wrap(errs.Database, "upsert decision matrix row", err)
	}
	return nil
}

// CountDecisionMatrixRows reports how many rows a tenant has registered,
// used to decide whether a brand new tenant needs the seed defaults.
func (s *Store) CountDecisionMatrixRows(ctx context.Context, tenantID string) (int, error) {
	var n int
	const q = `SELECT count(*) FROM decision_matrix_rows WHERE tenant_id = $1`
	if err := s.db.GetContext(ctx, &n, q, tenantID); err != nil {
		return 0, errs.Wrap(errs.Database, "count decision matrix rows", err)
	}
	return n, nil
}

// UpsertActionRiskDefinition creates or replaces a tenant's action risk
// profile for one action type.
func (s *Store) UpsertActionRiskDefinition(ctx context.Context, d *models.ActionRiskDefinition) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO action_risk_definitions
			(id, tenant_id, action_type, risk_level, reversible, affects_production, affects_finance, affects_compliance, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, action_type) DO UPDATE SET
			risk_level = EXCLUDED.risk_level,
			reversible = EXCLUDED.reversible,
			affects_production = EXCLUDED.affects_production,
			affects_finance = EXCLUDED.affects_finance,
			affects_compliance = EXCLUDED.affects_compliance,
			priority = EXCLUDED.priority`
	_, err := s.db.ExecContext(ctx, q, d.ID, d.TenantID, d.ActionType, d.RiskLevel,
		d.Reversible, d.AffectsProduction, d.AffectsFinance, d.AffectsCompliance, d.Priority)
	if err != nil {
		return errs.Wrap(errs.Database, "upsert action risk definition", err)
	}
	return nil
}

// ActionRiskDefinition fetches the risk profile registered for an action
// type under a tenant.
func (s *Store) ActionRiskDefinition(ctx context.Context, tenantID, actionType string) (*models.ActionRiskDefinition, error) {
	var d models.ActionRiskDefinition
	const q = `SELECT * FROM action_risk_definitions WHERE tenant_id = $1 AND action_type = $2`
	if err := s.db.GetContext(ctx, &d, q, tenantID, actionType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "action risk definition", err)
	}
	return &d, nil
}

// ListActionRiskDefinitions returns every registered action type for a
// tenant, ordered by priority for conflict resolution.
func (s *Store) ListActionRiskDefinitions(ctx context.Context, tenantID string) ([]models.ActionRiskDefinition, error) {
	var rows []models.ActionRiskDefinition
	const q = `SELECT * FROM action_risk_definitions WHERE tenant_id = $1 ORDER BY priority DESC`
	if err := s.db.SelectContext(ctx, &rows, q, tenantID); err != nil {
		return nil, errs.Wrap(errs.Database, "list action risk definitions", err)
	}
	return rows, nil
}

// RecordAutoExecution appends an audit row for an auto-execution decision.
func (s *Store) RecordAutoExecution(ctx context.Context, l *models.AutoExecutionLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO auto_execution_logs (id, execution_id, decision, execution_status, approval_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, now()) RETURNING created_at`
	row := s.db.QueryRowxContext(ctx, q, l.ID, l.ExecutionID, l.Decision, l.ExecutionStatus, l.ApprovalRef)
	if err := row.Scan(&l.CreatedAt); err != nil {
		return errs.Wrap(errs.Database, "record auto execution", err)
	}
	return nil
}
