package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/llmgateway"
)

type fakeGateway struct {
	classifyResult *llmgateway.ClassifyResult
	err            error
}

func (f *fakeGateway) Judge(ctx context.Context, req llmgateway.JudgeRequest) (*llmgateway.JudgeResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeGateway) Classify(ctx context.Context, req llmgateway.ClassifyRequest) (*llmgateway.ClassifyResult, error) {
	return f.classifyResult, f.err
}

func TestClassifyRuleStageHit(t *testing.T) {
	c := New(&fakeGateway{})
	res := c.Classify(context.Background(), "tenant-a", "please stop the line")
	assert.Equal(t, SourceRule, res.Source)
	assert.Equal(t, IntentStop, res.Intent)
	assert.Equal(t, TargetGeneral, res.TargetAgent)
}

func TestClassifyTenantKeyword(t *testing.T) {
	c := New(&fakeGateway{})
	c.LoadTenantKeywords("pharma-1", []string{"batch yield"})
	res := c.Classify(context.Background(), "pharma-1", "what's the batch yield today")
	assert.Equal(t, SourceRule, res.Source)
	assert.Equal(t, IntentCheck, res.Intent)
	assert.Equal(t, TargetJudgment, res.TargetAgent)
}

func TestClassifyModelFallback(t *testing.T) {
	gw := &fakeGateway{classifyResult: &llmgateway.ClassifyResult{Intent: "check", Confidence: 0.6}}
	c := New(gw)
	res := c.Classify(context.Background(), "tenant-a", "is equipment 12 doing fine")
	require.Equal(t, SourceModel, res.Source)
	assert.Equal(t, IntentCheck, res.Intent)
	assert.Equal(t, TargetJudgment, res.TargetAgent)
}

func TestClassifyModelErrorFallsBackToGeneral(t *testing.T) {
	gw := &fakeGateway{err: errors.New("gateway down")}
	c := New(gw)
	res := c.Classify(context.Background(), "tenant-a", "some unmatched free text")
	assert.Equal(t, TargetGeneral, res.TargetAgent)
	assert.Equal(t, float64(0), res.Confidence)
}
