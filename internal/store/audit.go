package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
)

// InsertAuditEntry persists a single append-only audit record. Callers
// needing best-effort async delivery should go through internal/audit,
// not call this directly from request handlers.
func (s *Store) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO audit_entries (
			id, user_id, tenant_id, action, resource, resource_id, method, path,
			status, ip, user_agent, request_body, response_summary, masked_count,
			duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
		RETURNING created_at`
	row := s.db.QueryRowxContext(ctx, q,
		e.ID, e.UserID, e.TenantID, e.Action, e.Resource, e.ResourceID, e.Method, e.Path,
		e.Status, e.IP, e.UserAgent, e.RequestBody, e.ResponseSummary, e.MaskedCount, e.DurationMS)
	if err := row.Scan(&e.CreatedAt); err != nil {
		return errs.Wrap(errs.Database, "insert audit entry", err)
	}
	return nil
}

// ListAuditEntries returns a tenant's audit trail, most recent first.
func (s *Store) ListAuditEntries(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error) {
	var rows []models.AuditEntry
	const q = `SELECT * FROM audit_entries WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, q, tenantID, limit); err != nil {
		return nil, errs.Wrap(errs.Database, "list audit entries", err)
	}
	return rows, nil
}
