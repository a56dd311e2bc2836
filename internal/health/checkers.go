package health

import (
	"context"
	"fmt"

	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/store"
)

// DatabaseChecker reads the store's own circuit breaker state rather
// than dialing a side connection. Store queries do not pass through
// that breaker, so the state reflects only the store's startup ping.
type DatabaseChecker struct {
	store *store.Store
}

func NewDatabaseChecker(s *store.Store) *DatabaseChecker {
	return &DatabaseChecker{store: s}
}

func (c *DatabaseChecker) Name() string   { return "database" }
func (c *DatabaseChecker) Critical() bool { return true }
func (c *DatabaseChecker) Check(ctx context.Context) error {
	if !c.store.Healthy(ctx) {
		return fmt.Errorf("database circuit breaker open")
	}
	return nil
}

// CacheChecker checks the cache layer with a throwaway Get, tolerating
// a cache miss (not an error) but surfacing a connection failure.
type CacheChecker struct {
	cache cache.Store
}

func NewCacheChecker(c cache.Store) *CacheChecker {
	return &CacheChecker{cache: c}
}

func (c *CacheChecker) Name() string   { return "cache" }
func (c *CacheChecker) Critical() bool { return false }
func (c *CacheChecker) Check(ctx context.Context) error {
	_, _, err := c.cache.Get(ctx, "__health__")
	return err
}
