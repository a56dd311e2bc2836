// Package datasource registers external MES/ERP endpoints a tenant's
// rulesets can draw input data from, grounded on the original
// DataSourceMCPService's registry: CRUD over a connection record, plus
// a health probe against the registered endpoint. Unlike the original,
// this core does not execute MCP tool calls itself (that belongs to the
// chat/agent orchestrator, a separate service); it owns the encrypted
// credential registry and the connectivity check only.
package datasource

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/triflow-ai/core/internal/crypto"
	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
)

// ConnectionConfig is the shape encrypted into models.DataSource's
// connection_config column.
type ConnectionConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	Timeout int    `json:"timeout_seconds,omitempty"`
}

// Registry is the data source store facade.
type Registry struct {
	store         *store.Store
	encryptionKey string
	httpClient    *http.Client
}

func New(s *store.Store, encryptionKey string, probeTimeout time.Duration) *Registry {
	return &Registry{
		store:         s,
		encryptionKey: encryptionKey,
		httpClient:    &http.Client{Timeout: probeTimeout},
	}
}

// Register encrypts conn and persists a new data source.
func (r *Registry) Register(ctx context.Context, tenantID, name, sourceType, sourceSystem string, conn ConnectionConfig) (*models.DataSource, error) {
	if conn.BaseURL == "" {
		return nil, errs.New(errs.Validation, "base_url required")
	}
	raw, err := json.Marshal(conn)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "marshal connection config", err)
	}
	sealed, err := crypto.Seal(r.encryptionKey, raw)
	if err != nil {
		return nil, err
	}

	d := &models.DataSource{
		TenantID:         tenantID,
		Name:             name,
		SourceType:       sourceType,
		SourceSystem:     sourceSystem,
		ConnectionConfig: sealed,
		Active:           true,
	}
	if err := r.store.CreateDataSource(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Rotate replaces a source's connection config in place.
func (r *Registry) Rotate(ctx context.Context, tenantID, id string, conn ConnectionConfig) error {
	raw, err := json.Marshal(conn)
	if err != nil {
		return errs.Wrap(errs.Validation, "marshal connection config", err)
	}
	sealed, err := crypto.Seal(r.encryptionKey, raw)
	if err != nil {
		return err
	}
	return r.store.UpdateDataSourceConnection(ctx, tenantID, id, sealed)
}

func (r *Registry) connectionConfig(d *models.DataSource) (ConnectionConfig, error) {
	var conn ConnectionConfig
	raw, err := crypto.Open(r.encryptionKey, d.ConnectionConfig)
	if err != nil {
		return conn, err
	}
	if err := json.Unmarshal(raw, &conn); err != nil {
		return conn, errs.Wrap(errs.Internal, "unmarshal connection config", err)
	}
	return conn, nil
}

// HealthResult mirrors the original service's health_check return shape.
type HealthResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// CheckHealth dials the source's base_url and records the outcome,
// the Go equivalent of the original async health_check that instantiated
// a wrapper per source_type; here every source type is probed the same
// way since this core only verifies reachability, not protocol specifics.
func (r *Registry) CheckHealth(ctx context.Context, tenantID, id string) (*HealthResult, error) {
	d, err := r.store.GetDataSource(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	conn, err := r.connectionConfig(d)
	if err != nil {
		_ = r.store.RecordDataSourceSync(ctx, id, "error", err.Error())
		return &HealthResult{Status: "unhealthy", Error: err.Error()}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, conn.BaseURL, nil)
	if err != nil {
		_ = r.store.RecordDataSourceSync(ctx, id, "error", err.Error())
		return &HealthResult{Status: "unhealthy", Error: err.Error()}, nil
	}
	if conn.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	}

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		_ = r.store.RecordDataSourceSync(ctx, id, "error", err.Error())
		return &HealthResult{Status: "unhealthy", LatencyMS: latency, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		msg := "endpoint returned " + resp.Status
		_ = r.store.RecordDataSourceSync(ctx, id, "error", msg)
		return &HealthResult{Status: "unhealthy", LatencyMS: latency, Error: msg}, nil
	}

	_ = r.store.RecordDataSourceSync(ctx, id, "success", "")
	return &HealthResult{Status: "healthy", LatencyMS: latency}, nil
}

// List returns every active source for a tenant, optionally filtered by
// source type, without ever decrypting connection_config.
func (r *Registry) List(ctx context.Context, tenantID, sourceType string) ([]models.DataSource, error) {
	return r.store.ListDataSources(ctx, tenantID, sourceType)
}

// Get returns one source without decrypting connection_config.
func (r *Registry) Get(ctx context.Context, tenantID, id string) (*models.DataSource, error) {
	return r.store.GetDataSource(ctx, tenantID, id)
}

// Deactivate soft-deletes a source.
func (r *Registry) Deactivate(ctx context.Context, tenantID, id string) error {
	return r.store.DeleteDataSource(ctx, tenantID, id)
}
