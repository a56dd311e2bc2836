package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, 50.0, percentile(sorted, 0.50))
	assert.Equal(t, 100.0, percentile(sorted, 1.0))
}

func TestPercentileEmpty(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 0.5))
}

func TestTrimDropsOldSamples(t *testing.T) {
	now := time.Now()
	samples := []sample{
		{success: true, latency: 1, at: now.Add(-2 * WindowDuration)},
		{success: true, latency: 1, at: now},
	}
	trimmed := trim(samples, now)
	assert.Len(t, trimmed, 1)
}

func TestAverage(t *testing.T) {
	assert.Equal(t, 20.0, average([]float64{10, 20, 30}))
	assert.Equal(t, 0.0, average(nil))
}
