package datasource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/crypto"
	"github.com/triflow-ai/core/internal/store"
)

func seal(t *testing.T, conn ConnectionConfig) []byte {
	t.Helper()
	raw, err := json.Marshal(conn)
	require.NoError(t, err)
	sealed, err := crypto.Seal("test-passphrase", raw)
	require.NoError(t, err)
	return sealed
}

func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.NewFromDB(sqlx.NewDb(db, "postgres"))
	return New(s, "test-passphrase", time.Second), mock
}

func TestRegisterRejectsMissingBaseURL(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Register(context.Background(), "tenant-a", "mes-1", "mes", "", ConnectionConfig{})
	assert.Error(t, err)
}

func TestRegisterEncryptsConnectionConfig(t *testing.T) {
	r, mock := newTestRegistry(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO data_sources").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	d, err := r.Register(context.Background(), "tenant-a", "mes-1", "mes", "", ConnectionConfig{BaseURL: "https://mes.example.com", APIKey: "secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(d.ConnectionConfig), "secret", "connection config must never be stored in plaintext")
}

func TestCheckHealthHealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r, mock := newTestRegistry(t)
	sealed := seal(t, ConnectionConfig{BaseURL: server.URL})

	cols := []string{
		"id", "tenant_id", "name", "source_type", "source_system",
		"connection_config", "active", "last_sync_at", "last_sync_status",
		"last_sync_error", "created_at", "updated_at",
	}
	now := time.Now()
	rows := sqlmock.NewRows(cols).AddRow(
		"ds-1", "tenant-a", "mes-1", "mes", "",
		sealed, true, nil, "", "", now, now,
	)
	mock.ExpectQuery("SELECT \\* FROM data_sources").WithArgs("ds-1", "tenant-a").WillReturnRows(rows)
	mock.ExpectExec("UPDATE data_sources SET last_sync_at").
		WithArgs("success", "", "ds-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := r.CheckHealth(context.Background(), "tenant-a", "ds-1")
	require.NoError(t, err)
	assert.Equal(t, "healthy", result.Status)
}

func TestCheckHealthUnreachableEndpoint(t *testing.T) {
	r, mock := newTestRegistry(t)
	sealed := seal(t, ConnectionConfig{BaseURL: "http://127.0.0.1:1"})

	cols := []string{
		"id", "tenant_id", "name", "source_type", "source_system",
		"connection_config", "active", "last_sync_at", "last_sync_status",
		"last_sync_error", "created_at", "updated_at",
	}
	now := time.Now()
	rows := sqlmock.NewRows(cols).AddRow(
		"ds-1", "tenant-a", "mes-1", "mes", "",
		sealed, true, nil, "", "", now, now,
	)
	mock.ExpectQuery("SELECT \\* FROM data_sources").WithArgs("ds-1", "tenant-a").WillReturnRows(rows)
	mock.ExpectExec("UPDATE data_sources SET last_sync_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := r.CheckHealth(context.Background(), "tenant-a", "ds-1")
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", result.Status)
}
