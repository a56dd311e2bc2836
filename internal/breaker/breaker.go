// Package breaker implements C11: a stateless evaluation of a canary
// deployment's health against its paired stable window.
//
// Structured after the teacher's circuitbreaker.Breaker state machine
// (Closed/HalfOpen/Open, worst-of-many-checks classification) but
// without persisted state — every call re-derives the verdict from the
// two windows handed in, per spec.md §4.8.
package breaker

import (
	"github.com/triflow-ai/core/internal/models"
)

// Level is the severity of one check or the overall verdict.
type Level int

const (
	Healthy Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Healthy:
		return "HEALTHY"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	default:
		return "unknown"
	}
}

// warningFactor is how much of a threshold counts as a warning, per
// spec.md §4.8 ("warning = 0.7 · threshold").
const warningFactor = 0.7

// CircuitStatus is the breaker's verdict for one evaluation.
type CircuitStatus struct {
	State      Level
	ShouldHalt bool
	HaltReason string
	Warnings   []string
}

// Evaluate computes a CircuitStatus from the latest canary and stable
// windows against a deployment's configured thresholds. A nil stable
// window skips every check that needs it (spec.md §4.8's "only when
// defined" qualifiers).
func Evaluate(canaryWindow, stableWindow *models.DeploymentMetricsWindow, cfg models.CanaryConfig) CircuitStatus {
	if canaryWindow == nil || canaryWindow.SampleCount < cfg.MinSamples {
		return CircuitStatus{State: Healthy}
	}

	var worst Level
	var haltReason string
	var warnings []string

	classify := func(label string, level Level) {
		if level > worst {
			worst = level
			if level == Critical {
				haltReason = label
			}
		}
		if level == Warning {
			warnings = append(warnings, label)
		}
	}

	// 1. absolute error rate
	classify("absolute error rate exceeds threshold", checkAgainst(canaryWindow.ErrorRate, cfg.ErrorRateThreshold))

	// 2. relative error rate, only when stable has signal
	if stableWindow != nil && stableWindow.ErrorRate > 0 {
		relative := canaryWindow.ErrorRate / stableWindow.ErrorRate
		classify("relative error rate exceeds threshold", checkAgainst(relative, cfg.RelativeErrorThreshold))
	}

	// 3. relative P95 latency, only when both windows have latency data
	if stableWindow != nil && stableWindow.LatencyP95 > 0 && canaryWindow.LatencyP95 > 0 {
		relative := canaryWindow.LatencyP95 / stableWindow.LatencyP95
		classify("relative p95 latency exceeds threshold", checkAgainst(relative, cfg.LatencyP95Threshold))
	}

	// 4. consecutive failures
	classify("consecutive failures exceed threshold", checkAgainstInt(canaryWindow.ConsecutiveFailures, cfg.ConsecutiveFailureThreshold))

	return CircuitStatus{
		State:      worst,
		ShouldHalt: worst == Critical,
		HaltReason: haltReason,
		Warnings:   warnings,
	}
}

func checkAgainst(value, threshold float64) Level {
	if threshold <= 0 {
		return Healthy
	}
	switch {
	case value >= threshold:
		return Critical
	case value >= threshold*warningFactor:
		return Warning
	default:
		return Healthy
	}
}

func checkAgainstInt(value, threshold int) Level {
	if threshold <= 0 {
		return Healthy
	}
	return checkAgainst(float64(value), float64(threshold))
}
