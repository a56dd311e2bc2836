// Package judgment implements C8: the nine-step evaluate pipeline of
// spec.md §4.5, wiring the canary assigner, cache, evaluator, model
// gateway, guard policy and store together around one ruleset
// invocation.
//
// Grounded on spec.md §4.5 directly for step order; the
// suspension-point style (each external call isolated behind its own
// error handling, never letting a cache or policy failure propagate
// past its own step) follows the teacher's activities package pattern
// of one narrow call per workflow step.
package judgment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/triflow-ai/core/internal/canary"
	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/evaluator"
	"github.com/triflow-ai/core/internal/llmgateway"
	"github.com/triflow-ai/core/internal/metrics"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/policy"
	"github.com/triflow-ai/core/internal/store"
)

// tracer spans the evaluate call and its evaluator and model gateway
// calls, using the global TracerProvider; database writes are not
// spanned separately. No exporter is registered by this core, so otel's
// default no-op provider applies and these spans cost nothing unless an
// embedding program installs a provider.
var tracer = otel.Tracer("github.com/triflow-ai/core/internal/judgment")

// Policy selects how C3 participates in an evaluation (spec.md §4.5).
type Policy string

const (
	PolicyRuleOnly       Policy = "rule_only"
	PolicyLLMOnly        Policy = "llm_only"
	PolicyHybridWeighted Policy = "hybrid_weighted"
)

// defaultRuleWeight/defaultModelWeight are the hybrid_weighted defaults
// from spec.md §4.5 step 4.
const (
	defaultRuleWeight     = 0.6
	defaultModelWeight    = 0.4
	defaultOverrideMargin = 0.15
)

// Request is one evaluate call.
type Request struct {
	TenantID         string
	RulesetID        string
	InputData        map[string]interface{}
	Policy           Policy
	NeedExplanation  bool
	CanaryIdentifier canary.Identifiers
	ActionType       string // populated from the rule's output once known, exposed for callers that pre-know it
}

// Result is what the caller (orchestrator or HTTP handler) receives.
type Result struct {
	ExecutionID   string
	Decision      models.Decision
	Confidence    float64
	Output        map[string]interface{}
	MethodUsed    models.MethodUsed
	RiskLevel     models.RiskLevel
	TrustLevel    models.TrustLevel
	AutoExecuted  bool
	CacheHit      bool
	CanaryVersion models.CanaryVersion
}

// Engine is C8.
type Engine struct {
	store       *store.Store
	judgmentTTL time.Duration
	judgments   *cache.JudgmentCache
	gateway     llmgateway.Gateway
	evalClient  evaluator.Evaluator
	assigner    *canary.Assigner
	guards      *policy.Evaluator
	aggregator  *metrics.Aggregator
}

// New constructs C8. The script body C2 executes is looked up per call
// from ruleset_versions (see resolveScript). aggregator is C10: every
// canary observation this engine records also feeds its windowed
// rollup, so C11's breaker has something to evaluate.
func New(
	s *store.Store,
	judgmentTTL time.Duration,
	judgments *cache.JudgmentCache,
	evalClient evaluator.Evaluator,
	gateway llmgateway.Gateway,
	assigner *canary.Assigner,
	guards *policy.Evaluator,
	aggregator *metrics.Aggregator,
) *Engine {
	return &Engine{
		store:       s,
		judgmentTTL: judgmentTTL,
		judgments:   judgments,
		evalClient:  evalClient,
		gateway:     gateway,
		assigner:    assigner,
		guards:      guards,
		aggregator:  aggregator,
	}
}

// canonicalHash implements spec.md §4.5 step 2's
// sha256(canonical_json(input_data))[:32].
func canonicalHash(input map[string]interface{}) (string, error) {
	canon, err := canonicalJSON(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:32], nil
}

// canonicalJSON produces a stable byte representation by sorting map
// keys recursively, since encoding/json already sorts top-level map
// keys but nested maps need the same treatment for a true canonical form.
func canonicalJSON(v interface{}) ([]byte, error) {
	normalized := normalize(v)
	return json.Marshal(normalized)
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(t))
		for _, k := range keys {
			out[k] = normalize(t[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// Evaluate runs the full nine-step pipeline for one input against one
// ruleset.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "judgment.Evaluate", trace.WithAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("ruleset_id", req.RulesetID),
		attribute.String("policy", string(req.Policy)),
	))
	defer span.End()

	if len(req.InputData) == 0 {
		return nil, errs.New(errs.Validation, "input_data must not be empty")
	}

	ruleset, err := e.store.GetRuleset(ctx, req.TenantID, req.RulesetID)
	if err != nil {
		return nil, err
	}

	// step 1: resolve version
	version := models.VersionV1
	var deployment *models.Deployment
	if ruleset.ActiveDeploymentID != nil {
		d, err := e.store.GetDeployment(ctx, *ruleset.ActiveDeploymentID)
		if err == nil && d.Status == models.StatusCanary {
			deployment = d
			version, err = e.assigner.Assign(ctx, d, req.CanaryIdentifier)
			if err != nil {
				version = models.VersionV1
			}
		}
	}

	script, err := e.resolveScript(ctx, ruleset, deployment, version)
	if err != nil {
		return nil, err
	}

	// step 2: cache lookup
	hash, err := canonicalHash(req.InputData)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "hash input", err)
	}
	var cached Result
	if e.judgments.Get(ctx, req.TenantID, req.RulesetID, hash, &cached) {
		cached.CacheHit = true
		return &cached, nil
	}

	// step 3: evaluate script
	evalResult, err := func() (*evaluator.Result, error) {
		ctx, evalSpan := tracer.Start(ctx, "judgment.evaluateScript")
		defer evalSpan.End()
		return e.evalClient.Evaluate(ctx, evaluator.Request{
			RulesetID: req.RulesetID,
			Script:    script,
			Input:     req.InputData,
			TenantID:  req.TenantID,
		})
	}()
	if err != nil {
		e.recordFailure(ctx, req, ruleset, version, deployment)
		return nil, err
	}

	confidence := evalResult.Confidence
	methodUsed := models.MethodRuleOnly
	output := evalResult.Output
	if output == nil {
		output = map[string]interface{}{}
	}

	// step 4: merge with model
	if req.Policy == PolicyHybridWeighted && req.NeedExplanation {
		modelResult, err := e.judgeWithModel(ctx, req)
		if err == nil && modelResult != nil {
			methodUsed = models.MethodHybridWeighted
			if modelResult.Confidence > confidence+defaultOverrideMargin {
				confidence = modelResult.Confidence
				if modelResult.Output != nil {
					output = modelResult.Output
				}
			} else {
				confidence = defaultRuleWeight*confidence + defaultModelWeight*modelResult.Confidence
			}
		}
	} else if req.Policy == PolicyLLMOnly {
		modelResult, err := e.judgeWithModel(ctx, req)
		if err == nil && modelResult != nil {
			methodUsed = models.MethodLLMOnly
			confidence = modelResult.Confidence
			if modelResult.Output != nil {
				output = modelResult.Output
			}
		}
	}

	// step 5: determine risk
	actionType, _ := output["action_type"].(string)
	risk, err := e.resolveRisk(ctx, req.TenantID, actionType)
	if err != nil {
		return nil, err
	}

	// step 6: apply decision matrix
	decision, err := e.applyDecisionMatrix(ctx, req.TenantID, ruleset, risk)
	if err != nil {
		return nil, err
	}

	// step 7: effects + persistence
	autoExecuted := decision == models.DecisionAutoExecute && ruleset.TrustLevel >= models.TrustLowRiskAuto

	execution := &models.JudgmentExecution{
		TenantID:         req.TenantID,
		RulesetID:        req.RulesetID,
		InputData:        models.JSONMap(req.InputData),
		Output:           models.JSONMap(output),
		Confidence:       confidence,
		MethodUsed:       methodUsed,
		TrustLevelAtTime: ruleset.TrustLevel,
		RiskLevel:        risk,
		AutoExecuted:     autoExecuted,
		Success:          true,
	}
	if err := e.store.RecordJudgment(ctx, execution); err != nil {
		return nil, err
	}

	if deployment != nil {
		_ = e.store.RecordCanaryExecution(ctx, &models.CanaryExecutionLog{
			DeploymentID:  deployment.ID,
			ExecutionID:   execution.ID,
			CanaryVersion: version,
			Success:       true,
			LatencyMS:     evalResult.DurationMS,
			RollbackSafe:  true,
		})
		e.aggregator.RecordExecution(deployment.ID, metricsVersionType(version), true, evalResult.DurationMS)
	}

	if err := e.store.RecordAutoExecution(ctx, &models.AutoExecutionLog{
		ExecutionID:     execution.ID,
		Decision:        decision,
		ExecutionStatus: string(decision),
	}); err != nil {
		return nil, err
	}

	result := &Result{
		ExecutionID:   execution.ID,
		Decision:      decision,
		Confidence:    confidence,
		Output:        output,
		MethodUsed:    methodUsed,
		RiskLevel:     risk,
		TrustLevel:    ruleset.TrustLevel,
		AutoExecuted:  autoExecuted,
		CanaryVersion: version,
	}

	// step 8: cache store
	e.judgments.Set(ctx, req.TenantID, req.RulesetID, hash, result)

	// step 9: trust counters (level re-evaluation is deferred to C13)
	_ = e.store.RecordExecutionOutcome(ctx, req.TenantID, req.RulesetID, true)

	return result, nil
}

// Replayed pairs an original persisted execution with the result of
// re-running it through the current pipeline.
type Replayed struct {
	Original         *models.JudgmentExecution
	Replay           *Result
	ResultChanged    bool
	ConfidenceChange float64
}

// Replay re-evaluates a past execution's input against the current
// ruleset (or, when useCurrentRuleset is false, reports the original
// verbatim with no second pass — a stored execution is immutable, so
// "replay against the version at execution time" degrades to "return
// the original" until this core persists per-version script snapshots
// beyond ruleset_versions, which Evaluate does not yet address by
// version pin). useCurrentRuleset=true is the common case: does this
// input produce the same decision under today's ruleset.
func (e *Engine) Replay(ctx context.Context, tenantID, executionID string, useCurrentRuleset bool) (*Replayed, error) {
	original, err := e.store.GetJudgment(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	if !useCurrentRuleset {
		return &Replayed{Original: original}, nil
	}

	replay, err := e.Evaluate(ctx, Request{
		TenantID:        tenantID,
		RulesetID:       original.RulesetID,
		InputData:       original.InputData,
		Policy:          PolicyHybridWeighted,
		NeedExplanation: true,
	})
	if err != nil {
		return nil, err
	}

	return &Replayed{
		Original:         original,
		Replay:           replay,
		ResultChanged:    replay.AutoExecuted != original.AutoExecuted,
		ConfidenceChange: replay.Confidence - original.Confidence,
	}, nil
}

// WhatIf re-evaluates a past execution's input with modifications
// merged in, without persisting anything new (spec.md §6's what-if
// endpoint is explicitly a dry run over C8, not a write path).
func (e *Engine) WhatIf(ctx context.Context, tenantID, executionID string, modifications map[string]interface{}) (*Replayed, error) {
	original, err := e.store.GetJudgment(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]interface{}, len(original.InputData)+len(modifications))
	for k, v := range original.InputData {
		merged[k] = v
	}
	for k, v := range modifications {
		merged[k] = v
	}

	replay, err := e.Evaluate(ctx, Request{
		TenantID:        tenantID,
		RulesetID:       original.RulesetID,
		InputData:       merged,
		Policy:          PolicyHybridWeighted,
		NeedExplanation: true,
	})
	if err != nil {
		return nil, err
	}

	return &Replayed{
		Original:         original,
		Replay:           replay,
		ResultChanged:    replay.AutoExecuted != original.AutoExecuted,
		ConfidenceChange: replay.Confidence - original.Confidence,
	}, nil
}

// judgeWithModel wraps the model gateway call in its own span, the
// counterpart to evaluateScript for step 4's suspension point.
func (e *Engine) judgeWithModel(ctx context.Context, req Request) (*llmgateway.JudgeResult, error) {
	ctx, judgeSpan := tracer.Start(ctx, "judgment.judgeModel")
	defer judgeSpan.End()
	return e.gateway.Judge(ctx, llmgateway.JudgeRequest{
		TenantID:  req.TenantID,
		RulesetID: req.RulesetID,
		Input:     req.InputData,
		Tier:      llmgateway.TierMedium,
	})
}

func (e *Engine) recordFailure(ctx context.Context, req Request, ruleset *models.Ruleset, version models.CanaryVersion, deployment *models.Deployment) {
	execution := &models.JudgmentExecution{
		TenantID:         req.TenantID,
		RulesetID:        req.RulesetID,
		InputData:        models.JSONMap(req.InputData),
		Output:           models.JSONMap{},
		TrustLevelAtTime: ruleset.TrustLevel,
		RiskLevel:        models.RiskHigh,
		Success:          false,
	}
	_ = e.store.RecordJudgment(ctx, execution)
	if deployment != nil {
		_ = e.store.RecordCanaryExecution(ctx, &models.CanaryExecutionLog{
			DeploymentID:  deployment.ID,
			ExecutionID:   execution.ID,
			CanaryVersion: version,
			Success:       false,
			RollbackSafe:  true,
		})
		e.aggregator.RecordExecution(deployment.ID, metricsVersionType(version), false, 0)
	}
	_ = e.store.RecordExecutionOutcome(ctx, req.TenantID, req.RulesetID, false)
}

// metricsVersionType maps C9's v1/v2 canary slot to C10's stable/canary
// label: v1 always serves the deployment's previous (stable) script, v2
// the target (canary) script under evaluation.
func metricsVersionType(version models.CanaryVersion) models.VersionType {
	if version == models.VersionV2 {
		return models.VersionTypeCanary
	}
	return models.VersionTypeStable
}

func (e *Engine) resolveScript(ctx context.Context, ruleset *models.Ruleset, deployment *models.Deployment, version models.CanaryVersion) (string, error) {
	var targetVersion int
	switch {
	case deployment != nil && version == models.VersionV2:
		targetVersion = deployment.TargetVersion
	case deployment != nil:
		targetVersion = deployment.PreviousVersion
	default:
		targetVersion = ruleset.ActiveVersion
	}
	rv, err := e.store.GetRulesetVersion(ctx, ruleset.ID, targetVersion)
	if err != nil {
		return "", err
	}
	return rv.Script, nil
}

// resolveRisk looks up an ActionRiskDefinition by exact action_type,
// falling back to a priority-ordered pattern match, defaulting to HIGH
// when nothing matches (spec.md §4.5 tie-break).
func (e *Engine) resolveRisk(ctx context.Context, tenantID, actionType string) (models.RiskLevel, error) {
	if actionType == "" {
		return models.RiskHigh, nil
	}
	def, err := e.store.ActionRiskDefinition(ctx, tenantID, actionType)
	if err == nil {
		return def.RiskLevel, nil
	}
	if err != errs.ErrNotFound {
		return "", err
	}

	defs, err := e.store.ListActionRiskDefinitions(ctx, tenantID)
	if err != nil {
		return "", err
	}
	for _, d := range defs {
		matched, matchErr := regexp.MatchString(d.ActionType, actionType)
		if matchErr == nil && matched {
			return d.RiskLevel, nil
		}
	}
	return models.RiskHigh, nil
}

// applyDecisionMatrix implements step 6, including guard evaluation.
func (e *Engine) applyDecisionMatrix(ctx context.Context, tenantID string, ruleset *models.Ruleset, risk models.RiskLevel) (models.Decision, error) {
	row, err := e.store.DecisionMatrixRow(ctx, tenantID, ruleset.TrustLevel, risk)
	if err != nil {
		if err == errs.ErrNotFound {
			return models.DecisionRequireApproval, nil
		}
		return "", err
	}

	if row.Guards == (models.DecisionMatrixGuards{}) {
		return row.Decision, nil
	}

	lastTransition, err := e.store.LastTransitionAt(ctx, ruleset.ID)
	if err != nil {
		return "", err
	}
	secondsSince := int(24 * time.Hour / time.Second)
	if lastTransition != nil {
		secondsSince = int(time.Since(lastTransition.CreatedAt).Seconds())
	}

	negCount, err := e.store.CountNegativeSince(ctx, ruleset.ID, time.Now().Add(-24*time.Hour).Unix())
	if err != nil {
		return "", err
	}

	decision, err := e.guards.Evaluate(ctx, policy.GuardInput{
		MinTrustScore:              row.Guards.MinTrustScore,
		ActualTrustScore:           ruleset.TrustScore,
		MaxConsecutiveFailures:     row.Guards.MaxConsecutiveFailures,
		ActualConsecutiveFailures:  negCount,
		CooldownSeconds:            row.Guards.CooldownSeconds,
		SecondsSinceLastTransition: secondsSince,
	})
	if err != nil {
		return "", err
	}
	if !decision.Pass {
		return models.DecisionRequireApproval, nil
	}
	return row.Decision, nil
}
