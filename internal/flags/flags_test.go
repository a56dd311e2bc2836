package flags

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/store"
)

func flagCols() []string {
	return []string{"id", "tenant_id", "feature", "enabled", "rollout_percentage", "created_at", "updated_at"}
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.NewFromDB(sqlx.NewDb(db, "postgres"))
	return New(s), mock
}

func TestBucketIsDeterministic(t *testing.T) {
	assert.Equal(t, bucket("tenant-a", "auto_execution"), bucket("tenant-a", "auto_execution"))
}

func TestBucketVariesByTenant(t *testing.T) {
	same := true
	first := bucket("tenant-a", "auto_execution")
	for _, tenant := range []string{"tenant-b", "tenant-c", "tenant-d", "tenant-e"} {
		if bucket(tenant, "auto_execution") != first {
			same = false
		}
	}
	assert.False(t, same)
}

func TestEnabledHonorsExplicitTenantOverride(t *testing.T) {
	s, mock := newTestStore(t)
	enabled := false
	mock.ExpectQuery("SELECT \\* FROM feature_flags WHERE tenant_id = \\$1 AND feature = \\$2").
		WithArgs("t1", "auto_execution").
		WillReturnRows(sqlmock.NewRows(flagCols()).AddRow("f1", "t1", "auto_execution", &enabled, 0, nil, nil))

	assert.False(t, s.Enabled(context.Background(), "t1", "auto_execution"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnabledFallsBackToGlobalOverride(t *testing.T) {
	s, mock := newTestStore(t)
	enabled := true
	mock.ExpectQuery("SELECT \\* FROM feature_flags WHERE tenant_id = \\$1 AND feature = \\$2").
		WithArgs("t1", "progressive_trust").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT \\* FROM feature_flags WHERE tenant_id = \\$1 AND feature = \\$2").
		WithArgs("", "progressive_trust").
		WillReturnRows(sqlmock.NewRows(flagCols()).AddRow("f2", "", "progressive_trust", &enabled, 0, nil, nil))

	assert.True(t, s.Enabled(context.Background(), "t1", "progressive_trust"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnabledDefaultsFalseWithNoOverride(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery("SELECT \\* FROM feature_flags WHERE tenant_id = \\$1 AND feature = \\$2").
		WithArgs("t1", "unknown_flag").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT \\* FROM feature_flags WHERE tenant_id = \\$1 AND feature = \\$2").
		WithArgs("", "unknown_flag").
		WillReturnError(sql.ErrNoRows)

	assert.False(t, s.Enabled(context.Background(), "t1", "unknown_flag"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
