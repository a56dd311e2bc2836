// Package metrics implements C10: per-deployment windowed aggregation
// of canary execution observations, plus Prometheus export.
//
// The ring-buffer-per-key shape and the gauge/histogram instrumentation
// style are grounded on the teacher's internal/policy/metrics.go and
// internal/circuitbreaker/metrics.go.
package metrics

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
)

// WindowDuration is the default trailing aggregation window (spec.md §4.7).
const WindowDuration = 60 * time.Second

var (
	executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "core_canary_executions_total",
		Help: "Canary-observed judgment executions by deployment and version.",
	}, []string{"deployment_id", "version_type", "outcome"})

	latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "core_canary_latency_seconds",
		Help:    "Canary-observed judgment latency by deployment and version.",
		Buckets: prometheus.DefBuckets,
	}, []string{"deployment_id", "version_type"})
)

func init() {
	prometheus.MustRegister(executionsTotal, latencySeconds)
}

type sample struct {
	success bool
	latency float64
	at      time.Time
}

// Aggregator is C10.
type Aggregator struct {
	store *store.Store

	mu      sync.Mutex
	samples map[string][]sample // key: deploymentID|versionType
}

func NewAggregator(s *store.Store) *Aggregator {
	return &Aggregator{store: s, samples: make(map[string][]sample)}
}

func key(deploymentID string, versionType models.VersionType) string {
	return deploymentID + "|" + string(versionType)
}

// RecordExecution appends an observation to the in-memory ring buffer and
// bumps the Prometheus counters, grounded on the teacher's metrics.go
// RecordDecision instrumentation.
func (a *Aggregator) RecordExecution(deploymentID string, versionType models.VersionType, success bool, latencyMS float64) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	executionsTotal.WithLabelValues(deploymentID, string(versionType), outcome).Inc()
	latencySeconds.WithLabelValues(deploymentID, string(versionType)).Observe(latencyMS / 1000)

	a.mu.Lock()
	defer a.mu.Unlock()
	k := key(deploymentID, versionType)
	now := time.Now()
	a.samples[k] = append(a.samples[k], sample{success: success, latency: latencyMS, at: now})
	a.samples[k] = trim(a.samples[k], now)
}

func trim(s []sample, now time.Time) []sample {
	cutoff := now.Add(-WindowDuration)
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

// Window computes and persists the current DeploymentMetricsWindow for
// (deployment, version_type), covering the trailing WindowDuration.
func (a *Aggregator) Window(ctx context.Context, deploymentID string, versionType models.VersionType) (*models.DeploymentMetricsWindow, error) {
	a.mu.Lock()
	now := time.Now()
	k := key(deploymentID, versionType)
	a.samples[k] = trim(a.samples[k], now)
	samples := append([]sample(nil), a.samples[k]...)
	a.mu.Unlock()

	w := &models.DeploymentMetricsWindow{
		DeploymentID: deploymentID,
		VersionType:  versionType,
		WindowStart:  now.Add(-WindowDuration),
		WindowEnd:    now,
	}

	if len(samples) == 0 {
		if err := a.store.UpsertMetricsWindow(ctx, w); err != nil {
			return nil, err
		}
		return w, nil
	}

	latencies := make([]float64, 0, len(samples))
	errorCount := 0
	for _, s := range samples {
		latencies = append(latencies, s.latency)
		if !s.success {
			errorCount++
		}
	}
	sort.Float64s(latencies)

	// Trailing streak, not the longest run anywhere in the window: walk
	// back from the newest sample until the first success.
	trailing := 0
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].success {
			break
		}
		trailing++
	}

	w.SampleCount = len(samples)
	w.ErrorCount = errorCount
	w.SuccessCount = len(samples) - errorCount
	w.ErrorRate = float64(errorCount) / float64(len(samples))
	w.LatencyP50 = percentile(latencies, 0.50)
	w.LatencyP95 = percentile(latencies, 0.95)
	w.LatencyP99 = percentile(latencies, 0.99)
	w.LatencyAvg = average(latencies)
	w.ConsecutiveFailures = trailing

	if err := a.store.UpsertMetricsWindow(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
