// Package policy evaluates the optional guard conditions attached to a
// DecisionMatrixRow (min trust score, max consecutive failures, cooldown)
// for C8's step 6. It is a narrow use of OPA rego scoped to guard
// evaluation only — full request authorization is handled by the
// compiled-in permission matrix (C5) per spec.md §4.2.
//
// Grounded directly on internal/policy/engine.go's OPAEngine: rego
// compilation up front, an LRU decision cache with TTL, and
// fail-open/fail-closed behavior on evaluation error.
package policy

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

const guardModule = `
package guards

default pass = true

pass = false {
	input.min_trust_score > 0
	input.actual_trust_score < input.min_trust_score
}

pass = false {
	input.max_consecutive_failures > 0
	input.actual_consecutive_failures > input.max_consecutive_failures
}

pass = false {
	input.cooldown_seconds > 0
	input.seconds_since_last_transition < input.cooldown_seconds
}
`

// GuardInput is the evaluation context for one DecisionMatrixRow's
// guards against one judgment attempt.
type GuardInput struct {
	MinTrustScore               float64 `json:"min_trust_score"`
	ActualTrustScore            float64 `json:"actual_trust_score"`
	MaxConsecutiveFailures      int     `json:"max_consecutive_failures"`
	ActualConsecutiveFailures   int     `json:"actual_consecutive_failures"`
	CooldownSeconds             int     `json:"cooldown_seconds"`
	SecondsSinceLastTransition  int     `json:"seconds_since_last_transition"`
}

// GuardDecision is the evaluator's verdict.
type GuardDecision struct {
	Pass   bool
	Reason string
}

// Evaluator compiles the guard module once and caches decisions by
// input, exactly mirroring the teacher's OPAEngine.cache usage.
type Evaluator struct {
	query      rego.PreparedEvalQuery
	cache      *decisionCache
	failClosed bool
	logger     *zap.Logger
}

// NewEvaluator compiles the embedded guard policy. failClosed controls
// behavior when rego evaluation itself errors (not when a guard fails —
// that is an ordinary "require_approval" outcome).
func NewEvaluator(ctx context.Context, failClosed bool, logger *zap.Logger) (*Evaluator, error) {
	r := rego.New(
		rego.Query("data.guards.pass"),
		rego.Module("guards.rego", guardModule),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile guard policy: %w", err)
	}
	return &Evaluator{
		query:      pq,
		cache:      newDecisionCache(1000, 30*time.Second),
		failClosed: failClosed,
		logger:     logger,
	}, nil
}

// Evaluate applies the guard conditions. Any guard present (> 0) and
// violated fails the whole row (spec.md §4.5 step 6).
func (e *Evaluator) Evaluate(ctx context.Context, in GuardInput) (GuardDecision, error) {
	if d, ok := e.cache.Get(in); ok {
		return d, nil
	}

	inputMap := map[string]interface{}{
		"min_trust_score":                in.MinTrustScore,
		"actual_trust_score":             in.ActualTrustScore,
		"max_consecutive_failures":       in.MaxConsecutiveFailures,
		"actual_consecutive_failures":    in.ActualConsecutiveFailures,
		"cooldown_seconds":               in.CooldownSeconds,
		"seconds_since_last_transition":  in.SecondsSinceLastTransition,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		if e.logger != nil {
			e.logger.Error("guard evaluation failed", zap.Error(err))
		}
		if e.failClosed {
			return GuardDecision{Pass: false, Reason: "guard evaluation error"}, nil
		}
		return GuardDecision{Pass: true, Reason: "guard evaluation error, fail-open"}, nil
	}

	pass := true
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if b, ok := results[0].Expressions[0].Value.(bool); ok {
			pass = b
		}
	}

	decision := GuardDecision{Pass: pass}
	if !pass {
		decision.Reason = guardFailureReason(in)
	}
	e.cache.Set(in, decision)
	return decision, nil
}

func guardFailureReason(in GuardInput) string {
	switch {
	case in.MinTrustScore > 0 && in.ActualTrustScore < in.MinTrustScore:
		return "trust score below guard minimum"
	case in.MaxConsecutiveFailures > 0 && in.ActualConsecutiveFailures > in.MaxConsecutiveFailures:
		return "consecutive failures exceed guard maximum"
	case in.CooldownSeconds > 0 && in.SecondsSinceLastTransition < in.CooldownSeconds:
		return "within cooldown window"
	default:
		return "guard failed"
	}
}

// --- decision cache: LRU with TTL, grounded on policy.decisionCache ---

type decisionCache struct {
	cap  int
	ttl  time.Duration
	mu   sync.Mutex
	list *list.List
	idx  map[GuardInput]*list.Element
}

type cacheEntry struct {
	key       GuardInput
	expiresAt time.Time
	decision  GuardDecision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	return &decisionCache{cap: cap, ttl: ttl, list: list.New(), idx: make(map[GuardInput]*list.Element)}
}

func (c *decisionCache) Get(key GuardInput) (GuardDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.idx[key]
	if !ok {
		return GuardDecision{}, false
	}
	ce := el.Value.(cacheEntry)
	if time.Now().After(ce.expiresAt) {
		c.list.Remove(el)
		delete(c.idx, key)
		return GuardDecision{}, false
	}
	c.list.MoveToFront(el)
	return ce.decision, true
}

func (c *decisionCache) Set(key GuardInput, d GuardDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.idx[key]; ok {
		el.Value = cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d})
	c.idx[key] = el
	if c.list.Len() > c.cap {
		back := c.list.Back()
		if back != nil {
			ce := back.Value.(cacheEntry)
			delete(c.idx, ce.key)
			c.list.Remove(back)
		}
	}
}
