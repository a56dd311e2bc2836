package health

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewFromDB(sqlx.NewDb(db, "postgres"))
}

func TestDatabaseCheckerHealthyWhenBreakerClosed(t *testing.T) {
	c := NewDatabaseChecker(newTestStore(t))
	assert.NoError(t, c.Check(context.Background()))
	assert.Equal(t, "database", c.Name())
	assert.True(t, c.Critical())
}

func TestCacheCheckerToleratesMiss(t *testing.T) {
	c := NewCacheChecker(cache.NewMemoryStore(16))
	assert.NoError(t, c.Check(context.Background()))
	assert.Equal(t, "cache", c.Name())
	assert.False(t, c.Critical())
}
