package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triflow-ai/core/internal/config"
)

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 1.0, clamp01(2))
	assert.Equal(t, 0.5, clamp01(0.5))
}

func TestThresholdAtOutOfRangeClampsToLast(t *testing.T) {
	arr := []float64{0.6, 0.75, 0.9}
	assert.Equal(t, 0.9, thresholdAt(arr, 5))
	assert.Equal(t, 0.6, thresholdAt(arr, 0))
}

func TestIntThresholdAtEmptyDefaultsToZero(t *testing.T) {
	assert.Equal(t, 0, intThresholdAt(nil, 1))
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := config.DefaultTrustWeights()
	sum := w.Accuracy + w.Consistency + w.Frequency + w.Feedback + w.Age
	assert.InDelta(t, 1.0, sum, 0.0001)
}
