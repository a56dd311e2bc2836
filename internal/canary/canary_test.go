package canary

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triflow-ai/core/internal/models"
)

func TestBucketIsDeterministic(t *testing.T) {
	v1 := bucket("dep-1", "user-42", 50)
	v2 := bucket("dep-1", "user-42", 50)
	assert.Equal(t, v1, v2)
}

func TestBucketMonotonicAcrossRampUp(t *testing.T) {
	lowPct := bucket("dep-1", "user-42", 10)
	highPct := bucket("dep-1", "user-42", 90)
	if lowPct == models.VersionV2 {
		assert.Equal(t, models.VersionV2, highPct, "once in v2 at a lower percentage, must stay v2 at a higher one")
	}
}

func TestIdentifiersPickPriority(t *testing.T) {
	ids := Identifiers{User: "u1", Session: "s1", WorkflowInstance: "w1"}
	value, kind, ok := ids.pick()
	assert.True(t, ok)
	assert.Equal(t, "w1", value)
	assert.Equal(t, models.IdentifierWorkflowInstance, kind)
}

func TestIdentifiersPickFallsBackToUser(t *testing.T) {
	ids := Identifiers{User: "u1"}
	value, kind, ok := ids.pick()
	assert.True(t, ok)
	assert.Equal(t, "u1", value)
	assert.Equal(t, models.IdentifierUser, kind)
}

func TestIdentifiersPickNoneSet(t *testing.T) {
	_, _, ok := Identifiers{}.pick()
	assert.False(t, ok)
}
