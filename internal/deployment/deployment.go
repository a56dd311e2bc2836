// Package deployment implements C12: the deployment state machine of
// spec.md §4.9, each transition guarded by a row lock on the deployment
// and its ruleset, matching the teacher's db.Client.WithTransactionCB
// pattern.
package deployment

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/canary"
	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
)

// Notification is emitted by every transition, per spec.md §4.9's
// "always ... an operator notification message" requirement. Delivery
// is out of scope here; callers (the HTTP layer, the scheduler) decide
// where it goes.
type Notification struct {
	DeploymentID string
	RulesetID    string
	Event        string
	Detail       string
	At           time.Time
}

// Controller is C12.
type Controller struct {
	store     *store.Store
	assigner  *canary.Assigner
	judgments *cache.JudgmentCache
}

func New(s *store.Store, assigner *canary.Assigner, judgments *cache.JudgmentCache) *Controller {
	return &Controller{store: s, assigner: assigner, judgments: judgments}
}

// StartCanary transitions draft -> canary.
func (c *Controller) StartCanary(ctx context.Context, tenantID, deploymentID string, initialPct int) (*Notification, error) {
	var note *Notification
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		d, err := c.store.LockDeploymentForUpdate(ctx, tx, deploymentID)
		if err != nil {
			return err
		}
		if d.Status != models.StatusDraft {
			return errs.New(errs.Conflict, "start_canary requires status=draft")
		}
		existing, err := c.store.ActiveDeploymentForRuleset(ctx, d.RulesetID)
		if err != nil && err != errs.ErrNotFound {
			return err
		}
		if existing != nil && existing.ID != d.ID {
			return errs.New(errs.Conflict, "ruleset already has a deployment in canary")
		}

		now := time.Now()
		d.Status = models.StatusCanary
		d.StartedAt = &now
		d.CanaryTrafficPercentage = initialPct
		if err := c.store.UpdateDeploymentStatus(ctx, tx, d); err != nil {
			return err
		}
		if err := c.store.SetActiveDeployment(ctx, tx, tenantID, d.RulesetID, &d.ID); err != nil {
			return err
		}
		note = &Notification{DeploymentID: d.ID, RulesetID: d.RulesetID, Event: "start_canary", Detail: "canary started", At: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// SetTraffic updates the canary percentage for new identifiers; existing
// sticky assignments are unaffected.
func (c *Controller) SetTraffic(ctx context.Context, deploymentID string, pct int) (*Notification, error) {
	if pct < 0 || pct > 100 {
		return nil, errs.New(errs.Validation, "traffic percentage must be within 0..100")
	}
	var note *Notification
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		d, err := c.store.LockDeploymentForUpdate(ctx, tx, deploymentID)
		if err != nil {
			return err
		}
		if d.Status != models.StatusCanary {
			return errs.New(errs.Conflict, "set_traffic requires status=canary")
		}
		d.CanaryTrafficPercentage = pct
		if err := c.store.UpdateDeploymentStatus(ctx, tx, d); err != nil {
			return err
		}
		note = &Notification{DeploymentID: d.ID, RulesetID: d.RulesetID, Event: "set_traffic", Detail: "traffic updated", At: time.Now()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// Promote transitions canary -> active, deprecating the previously
// active deployment, draining assignments and invalidating the cache.
func (c *Controller) Promote(ctx context.Context, tenantID string, deploymentID string) (*Notification, error) {
	var note *Notification
	var rulesetID string
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		d, err := c.store.LockDeploymentForUpdate(ctx, tx, deploymentID)
		if err != nil {
			return err
		}
		if d.Status != models.StatusCanary {
			return errs.New(errs.Conflict, "promote requires status=canary")
		}
		rulesetID = d.RulesetID

		prior, err := c.store.ActiveDeploymentForRuleset(ctx, d.RulesetID)
		if err != nil && err != errs.ErrNotFound {
			return err
		}
		if prior != nil && prior.ID != d.ID && prior.Status == models.StatusActive {
			prior.Status = models.StatusDeprecated
			if err := c.store.UpdateDeploymentStatus(ctx, tx, prior); err != nil {
				return err
			}
		}

		now := time.Now()
		d.Status = models.StatusActive
		d.PromotedAt = &now
		if err := c.store.UpdateDeploymentStatus(ctx, tx, d); err != nil {
			return err
		}
		note = &Notification{DeploymentID: d.ID, RulesetID: d.RulesetID, Event: "promote", Detail: "promoted to active", At: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.assigner.Drain(ctx, deploymentID); err != nil {
		return nil, err
	}
	if err := c.judgments.Invalidate(ctx, tenantID, rulesetID); err != nil {
		return nil, err
	}
	return note, nil
}

// Rollback transitions canary|active -> rolled_back, restores the most
// recent deprecated deployment to active, drains assignments, and runs
// the declared compensation strategy.
func (c *Controller) Rollback(ctx context.Context, tenantID, deploymentID, reason string, triggeredBy models.TriggeredBy) (*Notification, error) {
	var note *Notification
	var rulesetID string
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		d, err := c.store.LockDeploymentForUpdate(ctx, tx, deploymentID)
		if err != nil {
			return err
		}
		if d.Status != models.StatusCanary && d.Status != models.StatusActive {
			return errs.New(errs.Conflict, "rollback requires status in (canary, active)")
		}
		rulesetID = d.RulesetID

		now := time.Now()
		d.Status = models.StatusRolledBack
		d.RolledBackAt = &now
		d.RollbackReason = reason
		if err := c.store.UpdateDeploymentStatus(ctx, tx, d); err != nil {
			return err
		}

		restored, err := c.store.MostRecentDeprecatedDeployment(ctx, d.RulesetID)
		if err != nil {
			return err
		}
		if restored != nil {
			restored.Status = models.StatusActive
			if err := c.store.UpdateDeploymentStatus(ctx, tx, restored); err != nil {
				return err
			}
			if err := c.store.SetActiveDeployment(ctx, tx, tenantID, d.RulesetID, &restored.ID); err != nil {
				return err
			}
		} else {
			if err := c.store.SetActiveDeployment(ctx, tx, tenantID, d.RulesetID, nil); err != nil {
				return err
			}
		}

		note = &Notification{DeploymentID: d.ID, RulesetID: d.RulesetID, Event: "rollback", Detail: reason, At: now}
		return applyCompensation(ctx, c.store, tx, d)
	})
	if err != nil {
		return nil, err
	}

	if err := c.assigner.Drain(ctx, deploymentID); err != nil {
		return nil, err
	}
	if err := c.judgments.Invalidate(ctx, tenantID, rulesetID); err != nil {
		return nil, err
	}
	return note, nil
}

// applyCompensation runs the declared strategy against the deployment's
// v2 canary logs, per spec.md §4.9, inside the rollback transaction.
func applyCompensation(ctx context.Context, s *store.Store, tx *sqlx.Tx, d *models.Deployment) error {
	switch d.CompensationStrategy {
	case models.CompensationIgnore, "":
		return nil
	case models.CompensationMarkAndReprocess:
		return s.MarkCanaryLogsNeedsReprocess(ctx, tx, d.ID)
	case models.CompensationSoftDelete:
		return s.SoftDeleteCanaryLogs(ctx, tx, d.ID)
	default:
		return errs.New(errs.Internal, "unknown compensation strategy")
	}
}

// ReprocessBatch fetches up to limit logs flagged for reprocessing; the
// caller re-executes them against the restored version and then calls
// MarkDone for each.
func (c *Controller) ReprocessBatch(ctx context.Context, deploymentID string, limit int) ([]models.CanaryExecutionLog, error) {
	logs, err := c.store.ListReprocessableExecutions(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// MarkDone stamps a reprocessed log row.
func (c *Controller) MarkDone(ctx context.Context, logID string) error {
	return c.store.MarkReprocessed(ctx, logID)
}
