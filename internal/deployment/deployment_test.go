package deployment

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/canary"
	"github.com/triflow-ai/core/internal/store"
)

func newMockController(t *testing.T) (*Controller, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.NewFromDB(sqlx.NewDb(db, "postgres"))
	judgments := cache.NewJudgmentCache(cache.NewMemoryStore(16), time.Hour)
	return New(s, canary.New(s), judgments), mock
}

func TestSetTrafficRejectsOutOfRangePercentage(t *testing.T) {
	c, _ := newMockController(t)
	_, err := c.SetTraffic(context.Background(), "dep-1", 150)
	require.Error(t, err)
}

func deploymentCols() []string {
	return []string{
		"id", "ruleset_id", "status", "target_version", "previous_version",
		"canary_config", "compensation_strategy", "canary_traffic_percentage",
		"started_at", "promoted_at", "rolled_back_at", "rollback_reason", "created_at",
	}
}

func TestStartCanaryRejectsNonDraft(t *testing.T) {
	c, mock := newMockController(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM deployments WHERE id = \\$1 FOR UPDATE").
		WithArgs("dep-1").
		WillReturnRows(sqlmock.NewRows(deploymentCols()).AddRow(
			"dep-1", "rs-1", "active", 2, 1, []byte(`{}`), "ignore", 0, nil, nil, nil, "", now))
	mock.ExpectRollback()

	_, err := c.StartCanary(context.Background(), "t1", "dep-1", 10)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTrafficHappyPath(t *testing.T) {
	c, mock := newMockController(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM deployments WHERE id = \\$1 FOR UPDATE").
		WithArgs("dep-1").
		WillReturnRows(sqlmock.NewRows(deploymentCols()).AddRow(
			"dep-1", "rs-1", "canary", 2, 1, []byte(`{}`), "ignore", 10, &now, nil, nil, "", now))
	mock.ExpectExec("UPDATE deployments SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	note, err := c.SetTraffic(context.Background(), "dep-1", 50)
	require.NoError(t, err)
	assert.Equal(t, "set_traffic", note.Event)
	assert.NoError(t, mock.ExpectationsWereMet())
}
