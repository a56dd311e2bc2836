package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSetExpiry(t *testing.T) {
	m := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 20*time.Millisecond))
	v, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	time.Sleep(30 * time.Millisecond)
	_, ok, err = m.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreEvictsLRU(t *testing.T) {
	m := NewMemoryStore(2)
	ctx := context.Background()
	_ = m.Set(ctx, "a", []byte("1"), time.Minute)
	_ = m.Set(ctx, "b", []byte("2"), time.Minute)
	_ = m.Set(ctx, "c", []byte("3"), time.Minute)

	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok, _ = m.Get(ctx, "c")
	assert.True(t, ok)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := NewRedisStore("redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJudgmentCacheRoundTrip(t *testing.T) {
	m := NewMemoryStore(16)
	jc := NewJudgmentCache(m, time.Minute)

	type payload struct {
		Decision string `json:"decision"`
	}
	jc.Set(context.Background(), "tenant-a", "rs-1", "hash-a", payload{Decision: "auto_execute"})

	var out payload
	ok := jc.Get(context.Background(), "tenant-a", "rs-1", "hash-a", &out)
	require.True(t, ok)
	assert.Equal(t, "auto_execute", out.Decision)

	ok = jc.Get(context.Background(), "tenant-a", "rs-1", "hash-missing", &out)
	assert.False(t, ok)
}

func TestJudgmentCacheInvalidateByRuleset(t *testing.T) {
	m := NewMemoryStore(16)
	jc := NewJudgmentCache(m, time.Minute)

	jc.Set(context.Background(), "tenant-a", "rs-1", "hash-a", map[string]string{"decision": "auto_execute"})
	jc.Set(context.Background(), "tenant-a", "rs-2", "hash-b", map[string]string{"decision": "require_approval"})

	require.NoError(t, jc.Invalidate(context.Background(), "tenant-a", "rs-1"))

	var out map[string]string
	assert.False(t, jc.Get(context.Background(), "tenant-a", "rs-1", "hash-a", &out))
	assert.True(t, jc.Get(context.Background(), "tenant-a", "rs-2", "hash-b", &out))
}

func TestMemoryStoreIncrFixedWindow(t *testing.T) {
	m := NewMemoryStore(16)
	ctx := context.Background()

	c1, err := m.Incr(ctx, "rl:tenant-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c1)

	c2, err := m.Incr(ctx, "rl:tenant-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c2)
}

func TestRateLimitCheckMemoryStore(t *testing.T) {
	m := NewMemoryStore(16)
	ctx := context.Background()

	assert.True(t, RateLimitCheck(ctx, m, "k", 2, time.Minute))
	assert.True(t, RateLimitCheck(ctx, m, "k", 2, time.Minute))
	assert.False(t, RateLimitCheck(ctx, m, "k", 2, time.Minute))
}

func TestRateLimiterPerTenant(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Allow("tenant-a"))
	assert.False(t, rl.Allow("tenant-a"))
	assert.True(t, rl.Allow("tenant-b"))
}
