package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
)

// CreateDataSource inserts a new registered source, connection_config
// already encrypted by the caller.
func (s *Store) CreateDataSource(ctx context.Context, d *models.DataSource) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO data_sources (id, tenant_id, name, source_type, source_system, connection_config, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at`
	row := s.db.QueryRowxContext(ctx, q, d.ID, d.TenantID, d.Name, d.SourceType, d.SourceSystem, d.ConnectionConfig, d.Active)
	if err := row.Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		return errs.Wrap(errs.Database, "create data source", err)
	}
	return nil
}

// GetDataSource fetches one tenant-scoped source by id.
func (s *Store) GetDataSource(ctx context.Context, tenantID, id string) (*models.DataSource, error) {
	var d models.DataSource
	const q = `SELECT * FROM data_sources WHERE id = $1 AND tenant_id = $2`
	if err := s.db.GetContext(ctx, &d, q, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, errs.Wrap(errs.Database, "get data source", err)
	}
	return &d, nil
}

// ListDataSources returns every active source for a tenant, optionally
// narrowed to one source_type.
func (s *Store) ListDataSources(ctx context.Context, tenantID, sourceType string) ([]models.DataSource, error) {
	var rows []models.DataSource
	q := `SELECT * FROM data_sources WHERE tenant_id = $1 AND active = true`
	args := []interface{}{tenantID}
	if sourceType != "" {
		q += ` AND source_type = $2`
		args = append(args, sourceType)
	}
	q += ` ORDER BY name`
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errs.Wrap(errs.Database, "list data sources", err)
	}
	return rows, nil
}

// UpdateDataSourceConnection replaces a source's encrypted connection
// config, e.g. after rotating credentials.
func (s *Store) UpdateDataSourceConnection(ctx context.Context, tenantID, id string, encryptedConfig []byte) error {
	const q = `UPDATE data_sources SET connection_config = $1, updated_at = now() WHERE id = $2 AND tenant_id = $3`
	res, err := s.db.ExecContext(ctx, q, encryptedConfig, id, tenantID)
	if err != nil {
		return errs.Wrap(errs.Database, "update data source connection", err)
	}
	return checkRowsAffected(res)
}

// RecordDataSourceSync updates the last-sync bookkeeping after a health
// check or tool call against the source.
func (s *Store) RecordDataSourceSync(ctx context.Context, id, status, syncErr string) error {
	const q = `UPDATE data_sources SET last_sync_at = now(), last_sync_status = $1, last_sync_error = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, q, status, syncErr, id)
	if err != nil {
		return errs.Wrap(errs.Database, "record data source sync", err)
	}
	return nil
}

// DeleteDataSource deactivates a source rather than removing the row,
// preserving sync history for audit.
func (s *Store) DeleteDataSource(ctx context.Context, tenantID, id string) error {
	const q = `UPDATE data_sources SET active = false, updated_at = now() WHERE id = $1 AND tenant_id = $2`
	res, err := s.db.ExecContext(ctx, q, id, tenantID)
	if err != nil {
		return errs.Wrap(errs.Database, "delete data source", err)
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.Database, "rows affected", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
