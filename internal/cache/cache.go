// Package cache implements C1: a cache for judgment results and
// rate-limit counters with two interchangeable backends (an in-process
// LRU+TTL store and a Redis store), exactly one of which is chosen at
// startup, plus a token-bucket RateLimiter that request routing does not
// use (routing uses RateLimitCheck).
//
// The in-memory tier is grounded on the teacher's policy.decisionCache
// (container/list LRU with per-entry TTL); the Redis tier follows the
// teacher's cmd/gateway Redis client wiring.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/errs"
)

// Store is what the rest of the core depends on: get/set of opaque byte
// payloads under a string key, with a per-call TTL, plus the
// prefix-delete and counter primitives C1 exposes directly
// (delete_by_prefix for cache invalidation on promote/rollback,
// incr for the rate-limit check). Cache failures degrade to a miss,
// never to a wrong result — callers must never treat a Store error as
// anything other than "proceed without the cache".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitCheck implements C1's rate_limit_check operation: given key,
// max_requests and window_seconds, increment the counter and report
// allow/deny. A Store error is treated as allow, consistent with "cache
// failures degrade to miss" — a rate limiter that fails closed on a
// cache outage would turn an infrastructure blip into an outage of its
// own.
func RateLimitCheck(ctx context.Context, store Store, key string, maxRequests int64, window time.Duration) bool {
	count, err := store.Incr(ctx, key, window)
	if err != nil {
		return true
	}
	return count <= maxRequests
}

// Key builds a stable cache key from its ordered parts, mirroring the
// teacher's decisionCache.makeKey hashing of variable-length input.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// entry is one LRU node's payload.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process LRU with per-entry TTL. It is the cache
// backend when no cache URL is configured; it is never layered in front
// of RedisStore.
type MemoryStore struct {
	mu   sync.Mutex
	cap  int
	list *list.List
	idx  map[string]*list.Element

	hits   int64
	misses int64
}

// NewMemoryStore creates an LRU capped at capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryStore{cap: capacity, list: list.New(), idx: make(map[string]*list.Element)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.idx[key]
	if !ok {
		m.misses++
		return nil, false, nil
	}
	e := el.Value.(entry)
	if time.Now().After(e.expiresAt) {
		m.list.Remove(el)
		delete(m.idx, key)
		m.misses++
		return nil, false, nil
	}
	m.list.MoveToFront(el)
	m.hits++
	return e.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp := time.Now().Add(ttl)
	if el, ok := m.idx[key]; ok {
		el.Value = entry{key: key, value: value, expiresAt: exp}
		m.list.MoveToFront(el)
		return nil
	}
	el := m.list.PushFront(entry{key: key, value: value, expiresAt: exp})
	m.idx[key] = el
	if m.list.Len() > m.cap {
		back := m.list.Back()
		if back != nil {
			ce := back.Value.(entry)
			delete(m.idx, ce.key)
			m.list.Remove(back)
		}
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.idx[key]; ok {
		m.list.Remove(el)
		delete(m.idx, key)
	}
	return nil
}

// Stats reports cumulative hit/miss counters.
func (m *MemoryStore) Stats() (hits, misses int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

// DeleteByPrefix removes every key with the given literal prefix, used
// by the deployment controller to invalidate judgment:{tenant}:{ruleset}:
// entries on promote/rollback.
func (m *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *list.Element
	for el := m.list.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(entry)
		if strings.HasPrefix(e.key, prefix) {
			m.list.Remove(el)
			delete(m.idx, e.key)
		}
	}
	return nil
}

// counter is a fixed-window counter entry for Incr.
type counter struct {
	value     int64
	expiresAt time.Time
}

// Incr implements a fixed-window counter for rate limiting. Not
// exact under concurrent access across multiple processes (that is
// what RedisStore is for); within one process the mutex makes it exact.
func (m *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if el, ok := m.idx[key]; ok {
		e := el.Value.(entry)
		if now.Before(e.expiresAt) && len(e.value) == 8 {
			c := int64(binary.BigEndian.Uint64(e.value)) + 1
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(c))
			el.Value = entry{key: key, value: buf, expiresAt: e.expiresAt}
			m.list.MoveToFront(el)
			return c, nil
		}
		m.list.Remove(el)
		delete(m.idx, key)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, 1)
	el := m.list.PushFront(entry{key: key, value: buf, expiresAt: now.Add(window)})
	m.idx[key] = el
	if m.list.Len() > m.cap {
		back := m.list.Back()
		if back != nil {
			ce := back.Value.(entry)
			delete(m.idx, ce.key)
			m.list.Remove(back)
		}
	}
	return 1, nil
}

// RedisStore backs the cache with Redis, for multi-instance deployments
// that need a shared judgment/policy cache.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore dials Redis from a URL (redis://host:port/db).
func NewRedisStore(url string, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "parse redis url", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errs.Wrap(errs.Service, "ping redis", err)
	}
	return &RedisStore{client: client, logger: logger}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.Service, "redis get", err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errs.Wrap(errs.Service, "redis set", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errs.Wrap(errs.Service, "redis del", err)
	}
	return nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

// DeleteByPrefix scans and deletes every key under prefix. SCAN is used
// instead of KEYS to avoid blocking a shared Redis instance, mirroring
// the non-blocking-iteration concern the teacher applies to all
// production Redis access.
func (r *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errs.Wrap(errs.Service, "redis scan", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errs.Wrap(errs.Service, "redis del", err)
	}
	return nil
}

// Incr implements the rate-limit counter via Redis INCR, setting the
// expiry only on the first increment in a window so the window is fixed
// rather than sliding.
func (r *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errs.Wrap(errs.Service, "redis incr", err)
	}
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}
	return count, nil
}

// JudgmentCache wraps a Store to cache/unmarshal JSON judgment payloads
// under the literal key judgment:{tenant_id}:{ruleset_id}:{hash}, kept
// un-hashed (unlike Key) so the deployment controller can invalidate an
// entire ruleset with one DeleteByPrefix call on promote/rollback.
type JudgmentCache struct {
	store Store
	ttl   time.Duration
}

func NewJudgmentCache(store Store, ttl time.Duration) *JudgmentCache {
	return &JudgmentCache{store: store, ttl: ttl}
}

func judgmentKey(tenantID, rulesetID, inputHash string) string {
	return "judgment:" + tenantID + ":" + rulesetID + ":" + inputHash
}

// RulesetPrefix is the prefix shared by every cached judgment for one
// ruleset, for use with DeleteByPrefix.
func RulesetPrefix(tenantID, rulesetID string) string {
	return "judgment:" + tenantID + ":" + rulesetID + ":"
}

// Get looks up a previously cached judgment output. Callers must treat a
// cache error as a miss, not a failure, per spec.md §5's suspension-point
// rule: cache hit latency ~1-5ms, miss proceeds without error.
func (c *JudgmentCache) Get(ctx context.Context, tenantID, rulesetID, inputHash string, out interface{}) bool {
	raw, ok, err := c.store.Get(ctx, judgmentKey(tenantID, rulesetID, inputHash))
	if err != nil || !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false
	}
	return true
}

// Set stores a judgment output, best effort.
func (c *JudgmentCache) Set(ctx context.Context, tenantID, rulesetID, inputHash string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.store.Set(ctx, judgmentKey(tenantID, rulesetID, inputHash), raw, c.ttl)
}

// Invalidate removes every cached judgment for a ruleset, called by the
// deployment controller on promote/rollback (spec.md §4.11).
func (c *JudgmentCache) Invalidate(ctx context.Context, tenantID, rulesetID string) error {
	return c.store.DeleteByPrefix(ctx, RulesetPrefix(tenantID, rulesetID))
}
