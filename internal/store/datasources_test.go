package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/models"
)

func TestCreateDataSource(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO data_sources").
		WithArgs(sqlmock.AnyArg(), "tenant-a", "mes-1", "mes", "", []byte("blob"), true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	d := &models.DataSource{
		TenantID:         "tenant-a",
		Name:             "mes-1",
		SourceType:       "mes",
		ConnectionConfig: []byte("blob"),
		Active:           true,
	}
	err := s.CreateDataSource(context.Background(), d)
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, now, d.CreatedAt)
}

func TestGetDataSourceNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM data_sources").
		WithArgs("ds-1", "tenant-a").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.GetDataSource(context.Background(), "tenant-a", "ds-1")
	require.Error(t, err)
}

func TestGetDataSourceFound(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{
		"id", "tenant_id", "name", "source_type", "source_system",
		"connection_config", "active", "last_sync_at", "last_sync_status",
		"last_sync_error", "created_at", "updated_at",
	}
	now := time.Now()
	rows := sqlmock.NewRows(cols).AddRow(
		"ds-1", "tenant-a", "mes-1", "mes", "",
		[]byte("blob"), true, nil, "",
		"", now, now,
	)
	mock.ExpectQuery("SELECT \\* FROM data_sources").WithArgs("ds-1", "tenant-a").WillReturnRows(rows)

	d, err := s.GetDataSource(context.Background(), "tenant-a", "ds-1")
	require.NoError(t, err)
	assert.Equal(t, "mes-1", d.Name)
	assert.True(t, d.Active)
}

func TestListDataSourcesFiltersByType(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{
		"id", "tenant_id", "name", "source_type", "source_system",
		"connection_config", "active", "last_sync_at", "last_sync_status",
		"last_sync_error", "created_at", "updated_at",
	}
	now := time.Now()
	rows := sqlmock.NewRows(cols).AddRow(
		"ds-1", "tenant-a", "mes-1", "mes", "",
		[]byte("blob"), true, nil, "", "", now, now,
	)
	mock.ExpectQuery("SELECT \\* FROM data_sources").
		WithArgs("tenant-a", "mes").
		WillReturnRows(rows)

	got, err := s.ListDataSources(context.Background(), "tenant-a", "mes")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mes-1", got[0].Name)
}

func TestUpdateDataSourceConnectionNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE data_sources SET connection_config").
		WithArgs([]byte("new-blob"), "ds-1", "tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateDataSourceConnection(context.Background(), "tenant-a", "ds-1", []byte("new-blob"))
	require.Error(t, err)
}

func TestUpdateDataSourceConnectionSucceeds(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE data_sources SET connection_config").
		WithArgs([]byte("new-blob"), "ds-1", "tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateDataSourceConnection(context.Background(), "tenant-a", "ds-1", []byte("new-blob"))
	require.NoError(t, err)
}

func TestDeleteDataSourceDeactivatesRatherThanRemoves(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE data_sources SET active = false").
		WithArgs("ds-1", "tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.DeleteDataSource(context.Background(), "tenant-a", "ds-1")
	require.NoError(t, err)
}

func TestRecordDataSourceSync(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE data_sources SET last_sync_at").
		WithArgs("success", "", "ds-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordDataSourceSync(context.Background(), "ds-1", "success", "")
	require.NoError(t, err)
}
