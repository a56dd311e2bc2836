// Package classifier implements C4: a two-stage (rule then model)
// mapping from a free-form utterance to one of a bounded intent set and
// a target-agent route.
//
// The rule stage mirrors the teacher's ordered-pattern-table convention
// used for SSE/stream event dispatch (internal/httpapi); the result
// envelope mirrors policy.Decision's allow/reason shape.
package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/triflow-ai/core/internal/llmgateway"
)

// Intent is one of the bounded, versioned set this core understands.
type Intent string

const (
	IntentCheck          Intent = "CHECK"
	IntentTrend          Intent = "TREND"
	IntentCompare        Intent = "COMPARE"
	IntentRank           Intent = "RANK"
	IntentFindCause      Intent = "FIND_CAUSE"
	IntentDetectAnomaly  Intent = "DETECT_ANOMALY"
	IntentPredict        Intent = "PREDICT"
	IntentWhatIf         Intent = "WHAT_IF"
	IntentReport         Intent = "REPORT"
	IntentNotify         Intent = "NOTIFY"
	IntentContinue       Intent = "CONTINUE"
	IntentClarify        Intent = "CLARIFY"
	IntentStop           Intent = "STOP"
	IntentSystem         Intent = "SYSTEM"
)

// TargetAgent is the routing destination C6 dispatches to.
type TargetAgent string

const (
	TargetJudgment TargetAgent = "judgment"
	TargetWorkflow TargetAgent = "workflow"
	TargetBI       TargetAgent = "bi"
	TargetLearning TargetAgent = "learning"
	TargetGeneral  TargetAgent = "general"
)

// Source records which stage produced the classification.
type Source string

const (
	SourceRule  Source = "rule"
	SourceModel Source = "model"
)

// Result is C4's output envelope (spec.md §4.1).
type Result struct {
	Intent            Intent                 `json:"intent"`
	TargetAgent       TargetAgent            `json:"target_agent"`
	Slots             map[string]interface{} `json:"slots"`
	ProcessedRequest  string                 `json:"processed_request"`
	Source            Source                 `json:"source"`
	RulePattern       string                 `json:"rule_pattern,omitempty"`
	Confidence        float64                `json:"confidence"`
}

// rule is one compiled (pattern, intent, target, confidence) entry.
type rule struct {
	name       string
	pattern    *regexp.Regexp
	intent     Intent
	target     TargetAgent
	confidence float64
}

// minRuleConfidence is the threshold below which the rule stage defers
// to the model, per spec.md §4.1.
const minRuleConfidence = 0.9

// Classifier is C4. Keyword sets it consults are loaded per tenant from
// the caller (tenant-scoped via C15, per spec.md §4.1); the base table
// covers the cross-tenant defaults.
type Classifier struct {
	baseRules     []rule
	tenantKeywords map[string][]string
	gateway       llmgateway.Gateway
}

// New builds a classifier with the default cross-tenant rule table.
func New(gateway llmgateway.Gateway) *Classifier {
	return &Classifier{baseRules: defaultRules(), tenantKeywords: make(map[string][]string), gateway: gateway}
}

// LoadTenantKeywords installs extra keywords for a tenant (e.g. a pharma
// tenant adding "batch yield"), consulted after the base rule table at
// classification time. Every tenant keyword match classifies as CHECK
// routed to judgment; a tenant keyword never yields TREND.
func (c *Classifier) LoadTenantKeywords(tenantID string, keywords []string) {
	c.tenantKeywords[tenantID] = keywords
}

func defaultRules() []rule {
	mk := func(name string, pat string, intent Intent, target TargetAgent, conf float64) rule {
		return rule{name: name, pattern: regexp.MustCompile(pat), intent: intent, target: target, confidence: conf}
	}
	return []rule{
		mk("stop", `(?i)\b(stop|cancel|abort)\b`, IntentStop, TargetGeneral, 0.97),
		mk("system", `(?i)\b(status|health|version|uptime)\b`, IntentSystem, TargetGeneral, 0.95),
		mk("continue", `(?i)\b(continue|go on|keep going)\b`, IntentContinue, TargetGeneral, 0.93),
		mk("clarify", `(?i)\b(what do you mean|clarify|i don't understand)\b`, IntentClarify, TargetGeneral, 0.92),
		mk("anomaly", `(?i)\b(anomaly|anomalies|unusual|outlier)\b`, IntentDetectAnomaly, TargetJudgment, 0.93),
		mk("find_cause", `(?i)\b(why|root cause|caused by)\b`, IntentFindCause, TargetBI, 0.92),
		mk("predict", `(?i)\b(predict|forecast|will .* be)\b`, IntentPredict, TargetBI, 0.92),
		mk("what_if", `(?i)\bwhat if\b`, IntentWhatIf, TargetBI, 0.92),
		mk("trend", `(?i)\b(trend|over time|trending)\b`, IntentTrend, TargetBI, 0.91),
		mk("compare", `(?i)\b(compare|versus|vs\.?)\b`, IntentCompare, TargetBI, 0.91),
		mk("rank", `(?i)\b(rank|top \d+|worst|best)\b`, IntentRank, TargetBI, 0.91),
		mk("report", `(?i)\b(report|summary|summarize)\b`, IntentReport, TargetBI, 0.9),
		mk("notify", `(?i)\b(notify|alert me|let me know)\b`, IntentNotify, TargetWorkflow, 0.9),
		mk("check", `(?i)\b(check|is .* ok|status of)\b`, IntentCheck, TargetJudgment, 0.9),
	}
}

// Classify runs the two-stage pipeline: rule table first, model on miss
// or low confidence. A model error or timeout falls back to
// target_agent=general without propagating the error (spec.md §4.1).
func (c *Classifier) Classify(ctx context.Context, tenantID, utterance string) Result {
	if r, ok := c.matchRules(tenantID, utterance); ok {
		return r
	}

	res, err := c.gateway.Classify(ctx, llmgatewayClassifyRequest(tenantID, utterance))
	if err != nil || res == nil {
		return Result{
			Intent:           IntentClarify,
			TargetAgent:      TargetGeneral,
			Slots:            map[string]interface{}{},
			ProcessedRequest: utterance,
			Source:           SourceModel,
			Confidence:       0,
		}
	}

	return Result{
		Intent:           Intent(strings.ToUpper(res.Intent)),
		TargetAgent:      inferTarget(Intent(strings.ToUpper(res.Intent))),
		Slots:            map[string]interface{}{},
		ProcessedRequest: utterance,
		Source:           SourceModel,
		Confidence:       res.Confidence,
	}
}

func (c *Classifier) matchRules(tenantID, utterance string) (Result, bool) {
	for _, r := range c.baseRules {
		if r.pattern.MatchString(utterance) && r.confidence >= minRuleConfidence {
			return Result{
				Intent:           r.intent,
				TargetAgent:      r.target,
				Slots:            map[string]interface{}{},
				ProcessedRequest: utterance,
				Source:           SourceRule,
				RulePattern:      r.name,
				Confidence:       r.confidence,
			}, true
		}
	}
	for _, kw := range c.tenantKeywords[tenantID] {
		if strings.Contains(strings.ToLower(utterance), strings.ToLower(kw)) {
			return Result{
				Intent:           IntentCheck,
				TargetAgent:      TargetJudgment,
				Slots:            map[string]interface{}{"keyword": kw},
				ProcessedRequest: utterance,
				Source:           SourceRule,
				RulePattern:      "tenant_keyword:" + kw,
				Confidence:       0.9,
			}, true
		}
	}
	return Result{}, false
}

func inferTarget(intent Intent) TargetAgent {
	switch intent {
	case IntentCheck, IntentDetectAnomaly:
		return TargetJudgment
	case IntentTrend, IntentCompare, IntentRank, IntentFindCause, IntentPredict, IntentWhatIf, IntentReport:
		return TargetBI
	case IntentNotify:
		return TargetWorkflow
	default:
		return TargetGeneral
	}
}

func llmgatewayClassifyRequest(tenantID, utterance string) llmgateway.ClassifyRequest {
	return llmgateway.ClassifyRequest{TenantID: tenantID, Text: utterance}
}
