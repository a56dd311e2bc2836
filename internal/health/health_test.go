package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	name     string
	critical bool
	err      error
	delay    time.Duration
}

func (f *fakeChecker) Name() string   { return f.name }
func (f *fakeChecker) Critical() bool { return f.critical }
func (f *fakeChecker) Check(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestCheckAllHealthy(t *testing.T) {
	m := NewManager()
	m.Register(&fakeChecker{name: "database", critical: true})
	m.Register(&fakeChecker{name: "cache", critical: false})

	overall := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, overall.Status)
	assert.True(t, overall.Ready)
	assert.True(t, overall.Live)
	assert.Len(t, overall.Components, 2)
}

func TestCheckCriticalFailureMakesUnready(t *testing.T) {
	m := NewManager()
	m.Register(&fakeChecker{name: "database", critical: true, err: errors.New("circuit breaker open")})
	m.Register(&fakeChecker{name: "cache", critical: false})

	overall := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, overall.Status)
	assert.False(t, overall.Ready)
	assert.True(t, overall.Live)
	assert.Equal(t, StatusUnhealthy, overall.Components["database"].Status)
	assert.Equal(t, StatusHealthy, overall.Components["cache"].Status)
}

func TestCheckNonCriticalFailureDegradesButStaysReady(t *testing.T) {
	m := NewManager()
	m.Register(&fakeChecker{name: "database", critical: true})
	m.Register(&fakeChecker{name: "cache", critical: false, err: errors.New("redis timeout")})

	overall := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, overall.Status)
	assert.True(t, overall.Ready)
}

func TestCheckRunsCheckersConcurrently(t *testing.T) {
	m := NewManager()
	for i := 0; i < 5; i++ {
		m.Register(&fakeChecker{name: string(rune('a' + i)), delay: 50 * time.Millisecond})
	}

	start := time.Now()
	overall := m.Check(context.Background())
	elapsed := time.Since(start)

	assert.Len(t, overall.Components, 5)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "degraded", StatusDegraded.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
}
