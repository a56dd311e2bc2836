// Package orchestrator implements C6: the agent router of spec.md
// §4.3. It runs the fixed five-step procedure (classify, authorize,
// select target, invoke, envelope) and, for streaming callers, emits
// the ordered event sequence over a channel-per-request goroutine,
// mirroring the teacher's streaming.Manager/httpapi dual-transport
// design but scoped to one request instead of a replayable workflow
// event log.
package orchestrator

import (
	"context"
	"time"

	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/canary"
	"github.com/triflow-ai/core/internal/classifier"
	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/judgment"
	"github.com/triflow-ai/core/internal/permission"
)

// rateLimitWindow and rateLimitMax bound the C1-backed flow-control
// check applied before routing (spec.md §5).
const (
	rateLimitWindow = time.Minute
	rateLimitMax    = 120
)

// maxIterations bounds a single routed call, per spec.md §4.3 step 4's
// "max-iteration budget"; the judgment target never iterates, so this
// only matters once workflow/bi/learning targets are wired in.
const maxIterations = 1

// Request is one orchestration call.
type Request struct {
	TenantID  string
	Role      permission.Role
	Utterance string
	Context   map[string]interface{}
	Identifier canary.Identifiers
}

// Result is the uniform envelope of spec.md §4.3 step 5.
type Result struct {
	Response         string                 `json:"response"`
	AgentName        classifier.TargetAgent `json:"agent_name"`
	ToolCalls        []string               `json:"tool_calls"`
	Iterations       int                    `json:"iterations"`
	RoutingInfo      classifier.Result      `json:"routing_info"`
	PermissionDenied bool                   `json:"permission_denied,omitempty"`
	RequiredRole     permission.Role        `json:"required_role,omitempty"`
	UserRole         permission.Role        `json:"user_role,omitempty"`
}

// EventType enumerates the ordered stream events of spec.md §4.3.
type EventType string

const (
	EventStart      EventType = "start"
	EventRouting    EventType = "routing"
	EventRouted     EventType = "routed"
	EventProcessing EventType = "processing"
	EventContent    EventType = "content"
	EventTools      EventType = "tools"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// StreamEvent is one entry in the ordered event sequence.
type StreamEvent struct {
	Type    EventType              `json:"type"`
	Seq     int                    `json:"seq"`
	At      time.Time              `json:"at"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Orchestrator is C6.
type Orchestrator struct {
	classifier *classifier.Classifier
	judgments  *judgment.Engine
	cache      cache.Store
}

func New(c *classifier.Classifier, j *judgment.Engine, cacheStore cache.Store) *Orchestrator {
	return &Orchestrator{classifier: c, judgments: j, cache: cacheStore}
}

// Route implements the five-step procedure of spec.md §4.3 for a
// non-streaming caller.
func (o *Orchestrator) Route(ctx context.Context, req Request) (*Result, error) {
	if !o.allow(ctx, req.TenantID, "chat") {
		return nil, errs.New(errs.RateLimit, "rate limit exceeded")
	}

	classified := o.classifier.Classify(ctx, req.TenantID, req.Utterance)

	check := permission.Check(req.Role, classified.Intent)
	if !check.Allowed {
		return &Result{
			RoutingInfo:      classified,
			PermissionDenied: true,
			RequiredRole:     check.RequiredRole,
			UserRole:         check.UserRole,
		}, nil
	}

	return o.invoke(ctx, req, classified)
}

// invoke dispatches to the selected target executor. Only judgment is
// in scope (spec.md §4.3 step 3); the other targets are named but
// externally implemented and return a not-yet-routable error here.
func (o *Orchestrator) invoke(ctx context.Context, req Request, classified classifier.Result) (*Result, error) {
	switch classified.TargetAgent {
	case classifier.TargetJudgment:
		return o.invokeJudgment(ctx, req, classified)
	case classifier.TargetGeneral:
		return &Result{
			Response:    classified.ProcessedRequest,
			AgentName:   classifier.TargetGeneral,
			ToolCalls:   []string{},
			Iterations:  1,
			RoutingInfo: classified,
		}, nil
	default:
		return nil, errs.New(errs.Service, string(classified.TargetAgent)+" executor is external to this core")
	}
}

func (o *Orchestrator) invokeJudgment(ctx context.Context, req Request, classified classifier.Result) (*Result, error) {
	jreq := judgment.Request{
		TenantID:         req.TenantID,
		RulesetID:        slotString(classified.Slots, "ruleset_id"),
		InputData:        req.Context,
		Policy:           judgment.PolicyHybridWeighted,
		NeedExplanation:  true,
		CanaryIdentifier: req.Identifier,
	}
	res, err := o.judgments.Evaluate(ctx, jreq)
	if err != nil {
		return nil, err
	}
	return &Result{
		Response:    string(res.Decision),
		AgentName:   classifier.TargetJudgment,
		ToolCalls:   []string{},
		Iterations:  maxIterations,
		RoutingInfo: classified,
	}, nil
}

// StreamRoute runs Route but emits the ordered event sequence on a
// buffered channel, closed after the terminal done/error event.
func (o *Orchestrator) StreamRoute(ctx context.Context, req Request) <-chan StreamEvent {
	ch := make(chan StreamEvent, 16)
	go o.stream(ctx, req, ch)
	return ch
}

func (o *Orchestrator) stream(ctx context.Context, req Request, ch chan<- StreamEvent) {
	defer close(ch)
	seq := 0
	emit := func(t EventType, payload map[string]interface{}) {
		seq++
		select {
		case ch <- StreamEvent{Type: t, Seq: seq, At: time.Now(), Payload: payload}:
		case <-ctx.Done():
		}
	}

	emit(EventStart, nil)

	if !o.allow(ctx, req.TenantID, "chat") {
		emit(EventError, map[string]interface{}{"message": "rate limit exceeded"})
		return
	}

	emit(EventRouting, nil)
	classified := o.classifier.Classify(ctx, req.TenantID, req.Utterance)
	emit(EventRouted, map[string]interface{}{"intent": classified.Intent, "target_agent": classified.TargetAgent})

	check := permission.Check(req.Role, classified.Intent)
	if !check.Allowed {
		emit(EventError, map[string]interface{}{"message": "permission denied", "required_role": check.RequiredRole.String()})
		return
	}

	emit(EventProcessing, nil)
	result, err := o.invoke(ctx, req, classified)
	if err != nil {
		emit(EventError, map[string]interface{}{"message": err.Error()})
		return
	}

	emit(EventContent, map[string]interface{}{"response": result.Response})
	if len(result.ToolCalls) > 0 {
		emit(EventTools, map[string]interface{}{"tool_calls": result.ToolCalls})
	}
	emit(EventDone, map[string]interface{}{"agent_name": result.AgentName, "iterations": result.Iterations})
}

// allow applies C1's rate-limit-check operation keyed by
// (tenant_id, endpoint), per spec.md §5.
func (o *Orchestrator) allow(ctx context.Context, tenantID, endpoint string) bool {
	key := "ratelimit:" + tenantID + ":" + endpoint
	return cache.RateLimitCheck(ctx, o.cache, key, rateLimitMax, rateLimitWindow)
}

func slotString(slots map[string]interface{}, key string) string {
	if slots == nil {
		return ""
	}
	if v, ok := slots[key].(string); ok {
		return v
	}
	return ""
}
