// Package trust implements C7: trust-score composition and the
// promote/demote state machine over a ruleset's execution history.
//
// Score composition follows the teacher's multi-component weighted
// scoring style in internal/budget/manager.go (CheckBudget's weighted
// usage calculation and calculatePressureLevel's threshold ladder),
// generalized from a single usage percentage to five weighted
// components.
package trust

import (
	"context"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/triflow-ai/core/internal/config"
	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
)

// consistencyWindow is "the last N executions" used for the consistency
// component (spec.md §4.4).
const consistencyWindow = 50

// frequencyTarget is the saturation target for the frequency component.
const frequencyTarget = 500

// ageSaturationDays is the saturation point for the age component.
const ageSaturationDays = 90

// epsilon avoids division by zero in the feedback ratio.
const epsilon = 1e-6

// Engine is C7.
type Engine struct {
	store      *store.Store
	thresholds config.TrustThresholds
	weights    config.TrustWeights
}

func New(s *store.Store, thresholds config.TrustThresholds, weights config.TrustWeights) *Engine {
	return &Engine{store: s, thresholds: thresholds, weights: weights}
}

// Score computes a ruleset's current trust score and component
// breakdown from its stored counters and the accuracy/consistency
// aggregate over non-soft-deleted judgments.
func (e *Engine) Score(ctx context.Context, r *models.Ruleset) (float64, models.TrustComponents, error) {
	snap, err := e.store.RulesetAccuracy(ctx, r.ID, consistencyWindow)
	if err != nil {
		return 0, models.TrustComponents{}, err
	}

	accuracy := 0.5
	if snap.Total > 0 {
		accuracy = snap.AccuracyRate
	}

	consistency := 1.0
	if snap.RecentTotal > 1 {
		p := float64(snap.RecentSuccess) / float64(snap.RecentTotal)
		variance := p * (1 - p)
		consistency = clamp01(1 - variance*4) // variance of a Bernoulli peaks at 0.25
	}

	frequency := clamp01(math.Log(1+float64(r.ExecutionCount)) / math.Log(1+frequencyTarget))

	feedback := (float64(r.PositiveFeedback)) / (float64(r.PositiveFeedback) + float64(r.NegativeFeedback) + epsilon)

	ageDays := time.Since(r.CreatedAt).Hours() / 24
	age := clamp01(ageDays / ageSaturationDays)

	components := models.TrustComponents{
		Accuracy:    accuracy,
		Consistency: consistency,
		Frequency:   frequency,
		Feedback:    feedback,
		Age:         age,
	}

	score := clamp01(
		e.weights.Accuracy*components.Accuracy +
			e.weights.Consistency*components.Consistency +
			e.weights.Frequency*components.Frequency +
			e.weights.Feedback*components.Feedback +
			e.weights.Age*components.Age,
	)
	return score, components, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Evaluate recomputes a ruleset's score and applies the promote/demote
// state machine, persisting a TrustHistory row whenever the level
// changes. Returns the (possibly unchanged) ruleset.
func (e *Engine) Evaluate(ctx context.Context, tenantID, rulesetID string, triggeredBy models.TriggeredBy, reason string) (*models.Ruleset, error) {
	var result *models.Ruleset
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		r, err := e.store.LockRulesetForUpdate(ctx, tx, tenantID, rulesetID)
		if err != nil {
			return err
		}

		score, components, err := e.Score(ctx, r)
		if err != nil {
			return err
		}
		r.TrustScore = score
		r.TrustComponents = components
		if score > 0 {
			r.AccuracyRate = &components.Accuracy
		}

		newLevel, transitionReason, err := e.decideTransition(ctx, r, components, triggeredBy, reason)
		if err != nil {
			return err
		}

		if newLevel != r.TrustLevel {
			now := time.Now()
			prev := r.TrustLevel
			r.TrustLevel = newLevel
			if newLevel > prev {
				r.LastPromotedAt = &now
			} else {
				r.LastDemotedAt = &now
			}
			if err := e.store.RecordTrustTransition(ctx, tx, &models.TrustHistory{
				RulesetID:       r.ID,
				PreviousLevel:   prev,
				NewLevel:        newLevel,
				Reason:          transitionReason,
				TriggeredBy:     triggeredBy,
				MetricsSnapshot: components,
			}); err != nil {
				return err
			}
		}

		if err := e.store.UpdateRulesetTrust(ctx, tx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// decideTransition applies the automatic promote/demote thresholds
// (spec.md §4.4). Manual transitions are handled by SetLevel, bypassing
// thresholds.
func (e *Engine) decideTransition(ctx context.Context, r *models.Ruleset, c models.TrustComponents, triggeredBy models.TriggeredBy, reason string) (models.TrustLevel, string, error) {
	level := r.TrustLevel

	if demoteAccuracy := thresholdAt(e.thresholds.DemoteAccuracy, int(level)); c.Accuracy < demoteAccuracy && level > models.TrustProposed {
		return level - 1, "accuracy below demotion threshold", nil
	}

	negCount, err := e.store.CountNegativeSince(ctx, r.ID, time.Now().Add(-24*time.Hour).Unix())
	if err != nil {
		return level, "", err
	}
	if demoteNeg := intThresholdAt(e.thresholds.DemoteNegCount, int(level)); negCount > demoteNeg && level > models.TrustProposed {
		return level - 1, "negative feedback burst exceeded threshold", nil
	}

	if level >= models.TrustFullAuto {
		return level, "", nil
	}

	inCooldown, err := e.inCooldown(ctx, r.ID)
	if err != nil {
		return level, "", err
	}
	if inCooldown {
		return level, "", nil
	}

	promoteScore := thresholdAt(e.thresholds.PromoteScore, int(level))
	minExec := intThresholdAt(e.thresholds.MinExecutions, int(level))
	minAcc := thresholdAt(e.thresholds.MinAccuracy, int(level))
	if r.TrustScore >= promoteScore && r.ExecutionCount >= minExec && c.Accuracy >= minAcc {
		return level + 1, "met promotion thresholds", nil
	}

	return level, "", nil
}

func (e *Engine) inCooldown(ctx context.Context, rulesetID string) (bool, error) {
	last, err := e.store.LastTransitionAt(ctx, rulesetID)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	return time.Since(last.CreatedAt) < time.Duration(e.thresholds.CooldownSeconds)*time.Second, nil
}

// SetLevel performs a manual trust-level change, bypassing thresholds,
// tagged triggered_by=manual (spec.md §4.4).
func (e *Engine) SetLevel(ctx context.Context, tenantID, rulesetID string, newLevel models.TrustLevel, reason string) (*models.Ruleset, error) {
	if reason == "" {
		return nil, errs.New(errs.Validation, "manual trust level change requires a reason")
	}
	var result *models.Ruleset
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		r, err := e.store.LockRulesetForUpdate(ctx, tx, tenantID, rulesetID)
		if err != nil {
			return err
		}
		prev := r.TrustLevel
		if prev == newLevel {
			result = r
			return nil
		}
		now := time.Now()
		r.TrustLevel = newLevel
		if newLevel > prev {
			r.LastPromotedAt = &now
		} else {
			r.LastDemotedAt = &now
		}
		if err := e.store.RecordTrustTransition(ctx, tx, &models.TrustHistory{
			RulesetID:       r.ID,
			PreviousLevel:   prev,
			NewLevel:        newLevel,
			Reason:          reason,
			TriggeredBy:     models.TriggeredManual,
			MetricsSnapshot: r.TrustComponents,
		}); err != nil {
			return err
		}
		if err := e.store.UpdateRulesetTrust(ctx, tx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func thresholdAt(arr []float64, idx int) float64 {
	if idx < 0 || idx >= len(arr) {
		if len(arr) == 0 {
			return 1
		}
		return arr[len(arr)-1]
	}
	return arr[idx]
}

func intThresholdAt(arr []int, idx int) int {
	if idx < 0 || idx >= len(arr) {
		if len(arr) == 0 {
			return 0
		}
		return arr[len(arr)-1]
	}
	return arr[idx]
}
