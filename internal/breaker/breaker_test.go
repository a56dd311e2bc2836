package breaker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triflow-ai/core/internal/models"
)

func cfg() models.CanaryConfig {
	return models.CanaryConfig{
		MinSamples:                  100,
		ErrorRateThreshold:          0.05,
		RelativeErrorThreshold:      2.0,
		LatencyP95Threshold:         1.5,
		ConsecutiveFailureThreshold: 10,
	}
}

func TestEvaluateHealthyBelowMinSamples(t *testing.T) {
	canary := &models.DeploymentMetricsWindow{SampleCount: 5, ErrorRate: 0.9}
	status := Evaluate(canary, nil, cfg())
	assert.Equal(t, Healthy, status.State)
	assert.False(t, status.ShouldHalt)
}

func TestEvaluateCriticalOnAbsoluteErrorRate(t *testing.T) {
	canary := &models.DeploymentMetricsWindow{SampleCount: 200, ErrorRate: 0.2}
	status := Evaluate(canary, nil, cfg())
	assert.Equal(t, Critical, status.State)
	assert.True(t, status.ShouldHalt)
	assert.Equal(t, "absolute error rate exceeds threshold", status.HaltReason)
}

func TestEvaluateWarningBelowCritical(t *testing.T) {
	canary := &models.DeploymentMetricsWindow{SampleCount: 200, ErrorRate: 0.04}
	status := Evaluate(canary, nil, cfg())
	assert.Equal(t, Warning, status.State)
	assert.False(t, status.ShouldHalt)
	assert.Contains(t, status.Warnings, "absolute error rate exceeds threshold")
}

func TestEvaluateRelativeErrorRateNeedsStableSignal(t *testing.T) {
	canary := &models.DeploymentMetricsWindow{SampleCount: 200, ErrorRate: 0.01}
	stable := &models.DeploymentMetricsWindow{ErrorRate: 0}
	status := Evaluate(canary, stable, cfg())
	assert.Equal(t, Healthy, status.State)
}

func TestEvaluateConsecutiveFailuresCritical(t *testing.T) {
	canary := &models.DeploymentMetricsWindow{SampleCount: 200, ConsecutiveFailures: 15}
	status := Evaluate(canary, nil, cfg())
	assert.Equal(t, Critical, status.State)
	assert.Equal(t, "consecutive failures exceed threshold", status.HaltReason)
}
