package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestBreakerStates(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 5
	cfg.Timeout = 50 * time.Millisecond
	cfg.Interval = 200 * time.Millisecond

	b := New("test", cfg, logger)
	ctx := context.Background()

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successes, got %s", b.State())
	}

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func() error { return errors.New("boom") })
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after failures, got %s", b.State())
	}

	if err := b.Execute(ctx, func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after one probe, got %s", b.State())
	}

	if err := b.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error on second probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = 30 * time.Millisecond
	b := New("reopen", cfg, logger)
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return errors.New("boom") })
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(40 * time.Millisecond)

	_ = b.Execute(ctx, func() error { return errors.New("still broken") })
	if b.State() != StateOpen {
		t.Fatalf("expected reopen after half-open failure, got %s", b.State())
	}
}
