package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/classifier"
	"github.com/triflow-ai/core/internal/llmgateway"
	"github.com/triflow-ai/core/internal/permission"
)

type fakeGateway struct{}

func (fakeGateway) Judge(ctx context.Context, req llmgateway.JudgeRequest) (*llmgateway.JudgeResult, error) {
	return nil, nil
}
func (fakeGateway) Classify(ctx context.Context, req llmgateway.ClassifyRequest) (*llmgateway.ClassifyResult, error) {
	return nil, nil
}

func newTestOrchestrator() *Orchestrator {
	return New(classifier.New(fakeGateway{}), nil, cache.NewMemoryStore(64))
}

func TestRouteGeneralPassthrough(t *testing.T) {
	o := newTestOrchestrator()
	res, err := o.Route(context.Background(), Request{TenantID: "t1", Role: permission.RoleUser, Utterance: "keep going"})
	require.NoError(t, err)
	assert.Equal(t, classifier.TargetGeneral, res.AgentName)
	assert.False(t, res.PermissionDenied)
}

func TestRouteDeniesInsufficientRole(t *testing.T) {
	o := newTestOrchestrator()
	res, err := o.Route(context.Background(), Request{TenantID: "t1", Role: permission.RoleViewer, Utterance: "notify me when it fails"})
	require.NoError(t, err)
	assert.True(t, res.PermissionDenied)
	assert.Equal(t, permission.RoleOperator, res.RequiredRole)
}

func TestRouteRateLimited(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	var last error
	for i := 0; i < rateLimitMax+5; i++ {
		_, last = o.Route(ctx, Request{TenantID: "t1", Role: permission.RoleUser, Utterance: "stop"})
		if last != nil {
			break
		}
	}
	require.Error(t, last)
}

func TestStreamRouteEmitsOrderedEvents(t *testing.T) {
	o := newTestOrchestrator()
	ch := o.StreamRoute(context.Background(), Request{TenantID: "t2", Role: permission.RoleUser, Utterance: "keep going"})

	var got []EventType
	for ev := range ch {
		got = append(got, ev.Type)
	}
	require.True(t, len(got) >= 2)
	assert.Equal(t, EventStart, got[0])
	assert.Equal(t, EventDone, got[len(got)-1])
}

func TestStreamRouteEmitsErrorOnPermissionDenial(t *testing.T) {
	o := newTestOrchestrator()
	ch := o.StreamRoute(context.Background(), Request{TenantID: "t3", Role: permission.RoleViewer, Utterance: "notify me"})

	var got []EventType
	for ev := range ch {
		got = append(got, ev.Type)
	}
	assert.Equal(t, EventError, got[len(got)-1])
}
