// Package health reports liveness and readiness for the core's two
// hard dependencies, database and cache, the way the teacher's
// internal/health package reports for its own checker set: a Checker
// interface, a Manager that runs every registered checker concurrently
// and rolls the results up into one status, and an HTTP surface for
// probes. Scoped down from the teacher's five-plus checker roster
// (Redis, Postgres, gRPC agent pool, Temporal, vector DB) to this
// core's own two dependencies.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the tri-state health verdict a Checker returns.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult is one component's check outcome.
type CheckResult struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Critical  bool          `json:"critical"`
}

// Checker is one dependency's liveness probe.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) error
}

// Manager runs every registered Checker and aggregates the verdict.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Overall is the rolled-up status plus readiness/liveness flags for
// the two probe kinds Kubernetes (or any orchestrator) expects.
type Overall struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Live       bool                   `json:"live"`
	Components map[string]CheckResult `json:"components"`
}

// Check runs every registered checker concurrently with a bounded
// per-checker timeout and rolls the results into one verdict. A
// failing critical checker marks the service not-ready; liveness only
// goes false when the process itself can't even run the checks (it is
// always true here, since reaching this method proves that much).
func (m *Manager) Check(ctx context.Context) Overall {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			start := time.Now()
			checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			err := c.Check(checkCtx)
			res := CheckResult{
				Component: c.Name(),
				Critical:  c.Critical(),
				Duration:  time.Since(start),
				Status:    StatusHealthy,
			}
			if err != nil {
				res.Status = StatusUnhealthy
				res.Message = err.Error()
			}
			mu.Lock()
			results[c.Name()] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	ready := true
	overall := StatusHealthy
	for _, r := range results {
		if r.Status != StatusHealthy {
			if r.Critical {
				ready = false
				overall = StatusUnhealthy
			} else if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return Overall{Status: overall, Ready: ready, Live: true, Components: results}
}
