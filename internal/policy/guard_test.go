package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatePassesWhenNoGuardsSet(t *testing.T) {
	ev, err := NewEvaluator(context.Background(), false, nil)
	require.NoError(t, err)

	d, err := ev.Evaluate(context.Background(), GuardInput{})
	require.NoError(t, err)
	assert.True(t, d.Pass)
}

func TestEvaluateFailsOnMinTrustScore(t *testing.T) {
	ev, err := NewEvaluator(context.Background(), false, nil)
	require.NoError(t, err)

	d, err := ev.Evaluate(context.Background(), GuardInput{MinTrustScore: 0.8, ActualTrustScore: 0.5})
	require.NoError(t, err)
	assert.False(t, d.Pass)
	assert.Equal(t, "trust score below guard minimum", d.Reason)
}

func TestEvaluateFailsOnConsecutiveFailures(t *testing.T) {
	ev, err := NewEvaluator(context.Background(), false, nil)
	require.NoError(t, err)

	d, err := ev.Evaluate(context.Background(), GuardInput{MaxConsecutiveFailures: 3, ActualConsecutiveFailures: 5})
	require.NoError(t, err)
	assert.False(t, d.Pass)
}

func TestEvaluateFailsWithinCooldown(t *testing.T) {
	ev, err := NewEvaluator(context.Background(), false, nil)
	require.NoError(t, err)

	d, err := ev.Evaluate(context.Background(), GuardInput{CooldownSeconds: 300, SecondsSinceLastTransition: 60})
	require.NoError(t, err)
	assert.False(t, d.Pass)
}

func TestDecisionCacheHitsOnRepeatInput(t *testing.T) {
	ev, err := NewEvaluator(context.Background(), false, nil)
	require.NoError(t, err)

	in := GuardInput{MinTrustScore: 0.8, ActualTrustScore: 0.5}
	d1, err := ev.Evaluate(context.Background(), in)
	require.NoError(t, err)
	d2, ok := ev.cache.Get(in)
	require.True(t, ok)
	assert.Equal(t, d1, d2)
}
