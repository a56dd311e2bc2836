package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestGetRulesetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM rulesets").
		WithArgs("rs-1", "tenant-a").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.GetRuleset(context.Background(), "tenant-a", "rs-1")
	require.Error(t, err)
}

func TestGetRulesetFound(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{
		"id", "tenant_id", "name", "active_version", "active_deployment_id",
		"trust_level", "trust_score", "trust_components", "execution_count",
		"positive_feedback", "negative_feedback", "accuracy_rate",
		"last_execution_at", "last_promoted_at", "last_demoted_at",
		"created_at", "updated_at",
	}
	now := time.Now()
	rows := sqlmock.NewRows(cols).AddRow(
		"rs-1", "tenant-a", "line-stop", 1, nil,
		int(models.TrustProposed), 0.0, []byte(`{}`), 0,
		0, 0, nil,
		nil, nil, nil,
		now, now,
	)
	mock.ExpectQuery("SELECT \\* FROM rulesets").WithArgs("rs-1", "tenant-a").WillReturnRows(rows)

	r, err := s.GetRuleset(context.Background(), "tenant-a", "rs-1")
	require.NoError(t, err)
	assert.Equal(t, "line-stop", r.Name)
	assert.Equal(t, models.TrustProposed, r.TrustLevel)
}
