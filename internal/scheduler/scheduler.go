// Package scheduler implements C13: the three cron-driven periodic
// drivers of spec.md §4.9/§5, each serialized across replicas by a
// Postgres advisory lock keyed by driver name.
//
// Grounded on the teacher's cron-expression validation
// (internal/server/service.go's validateCronSchedule) and its
// schedules.Manager convention of one named driver per recurring job;
// the single-writer guarantee itself is new here since the teacher
// delegates recurring execution to Temporal schedules rather than a
// local cron loop.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/breaker"
	"github.com/triflow-ai/core/internal/canary"
	"github.com/triflow-ai/core/internal/config"
	"github.com/triflow-ai/core/internal/deployment"
	"github.com/triflow-ai/core/internal/metrics"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
	"github.com/triflow-ai/core/internal/trust"
)

const (
	driverCanaryMonitor     = "canary_monitor"
	driverTrustReevaluator  = "trust_reevaluator"
	driverAssignmentSweeper = "assignment_sweeper"
)

// ValidateCronSchedule validates a cron expression, accepting both the
// standard 5-field format and descriptors like @every/@hourly.
func ValidateCronSchedule(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("empty cron expression")
	}
	if strings.HasPrefix(expr, "@") {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		_, err := parser.Parse(expr)
		return err
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	return err
}

// Scheduler is C13.
type Scheduler struct {
	store      *store.Store
	deployer   *deployment.Controller
	trust      *trust.Engine
	assigner   *canary.Assigner
	aggregator *metrics.Aggregator
	logger     *zap.Logger
	cron       *cron.Cron
	rollbackBy models.TriggeredBy
}

func New(s *store.Store, deployer *deployment.Controller, trustEngine *trust.Engine, assigner *canary.Assigner, aggregator *metrics.Aggregator, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:      s,
		deployer:   deployer,
		trust:      trustEngine,
		assigner:   assigner,
		aggregator: aggregator,
		logger:     logger,
		cron:       cron.New(),
		rollbackBy: models.TriggeredAuto,
	}
}

// Start registers the three drivers on their configured cadence and
// starts the cron loop. Each driver's schedule string must already
// have passed ValidateCronSchedule (typically at config load time).
func (s *Scheduler) Start(cfg config.SchedulerConfig) error {
	if _, err := s.cron.AddFunc(cfg.CanaryMonitorCron, s.runLocked(driverCanaryMonitor, s.canaryMonitor)); err != nil {
		return fmt.Errorf("register canary_monitor: %w", err)
	}
	if _, err := s.cron.AddFunc(cfg.TrustReevaluatorCron, s.runLocked(driverTrustReevaluator, s.trustReevaluator)); err != nil {
		return fmt.Errorf("register trust_reevaluator: %w", err)
	}
	if _, err := s.cron.AddFunc(cfg.AssignmentSweeperCron, s.runLocked(driverAssignmentSweeper, s.assignmentSweeper)); err != nil {
		return fmt.Errorf("register assignment_sweeper: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop drains the cron loop, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runLocked wraps a driver function in a per-driver advisory lock so at
// most one replica executes it at a time; a replica that fails to
// acquire the lock skips this tick rather than waiting.
func (s *Scheduler) runLocked(name string, fn func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		conn, err := s.store.Conn(ctx)
		if err != nil {
			s.logger.Warn("scheduler: checkout connection failed", zap.String("driver", name), zap.Error(err))
			return
		}
		defer conn.Close()

		held, err := s.store.TryAdvisoryLock(ctx, conn, name)
		if err != nil {
			s.logger.Warn("scheduler: advisory lock failed", zap.String("driver", name), zap.Error(err))
			return
		}
		if !held {
			s.logger.Debug("scheduler: driver already running elsewhere", zap.String("driver", name))
			return
		}
		defer func() {
			if err := s.store.AdvisoryUnlock(ctx, conn, name); err != nil {
				s.logger.Warn("scheduler: advisory unlock failed", zap.String("driver", name), zap.Error(err))
			}
		}()

		if err := fn(ctx); err != nil {
			s.logger.Error("scheduler: driver failed", zap.String("driver", name), zap.Error(err))
		}
	}
}

// canaryMonitor refreshes C10's windows for every in-flight canary
// deployment, then asks C11 to compute circuit status and auto-rolls-back
// any in CRITICAL state (spec.md §4.8).
func (s *Scheduler) canaryMonitor(ctx context.Context) error {
	deployments, err := s.store.ListCanaryDeployments(ctx)
	if err != nil {
		return err
	}
	for _, d := range deployments {
		if _, err := s.aggregator.Window(ctx, d.ID, models.VersionTypeCanary); err != nil {
			s.logger.Warn("canary_monitor: refresh canary window failed", zap.String("deployment_id", d.ID), zap.Error(err))
		}
		if _, err := s.aggregator.Window(ctx, d.ID, models.VersionTypeStable); err != nil {
			s.logger.Warn("canary_monitor: refresh stable window failed", zap.String("deployment_id", d.ID), zap.Error(err))
		}

		canaryWindow, stableWindow, err := s.store.LatestMetricsWindows(ctx, d.ID)
		if err != nil {
			s.logger.Warn("canary_monitor: read windows failed", zap.String("deployment_id", d.ID), zap.Error(err))
			continue
		}
		status := breaker.Evaluate(canaryWindow, stableWindow, d.CanaryConfig)
		if !status.ShouldHalt {
			continue
		}
		ruleset, err := s.store.GetRulesetUnscoped(ctx, d.RulesetID)
		tenantID := ""
		if err == nil && ruleset != nil {
			tenantID = ruleset.TenantID
		}
		if _, err := s.deployer.Rollback(ctx, tenantID, d.ID, status.HaltReason, s.rollbackBy); err != nil {
			s.logger.Error("canary_monitor: auto rollback failed", zap.String("deployment_id", d.ID), zap.Error(err))
		} else {
			s.logger.Warn("canary_monitor: auto rolled back", zap.String("deployment_id", d.ID), zap.String("reason", status.HaltReason))
		}
	}
	return nil
}

// trustReevaluator re-runs C7's promote/demote decision for every
// ruleset across all tenants (spec.md §4.5 step 9, §4.4).
func (s *Scheduler) trustReevaluator(ctx context.Context) error {
	rulesets, err := s.store.ListAllRulesets(ctx)
	if err != nil {
		return err
	}
	for _, r := range rulesets {
		if _, err := s.trust.Evaluate(ctx, r.TenantID, r.ID, models.TriggeredAuto, "periodic reevaluation"); err != nil {
			s.logger.Warn("trust_reevaluator: evaluate failed", zap.String("ruleset_id", r.ID), zap.Error(err))
		}
	}
	return nil
}

// assignmentSweeper deletes expired canary assignments (spec.md §4.6).
func (s *Scheduler) assignmentSweeper(ctx context.Context) error {
	n, err := s.assigner.SweepExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("assignment_sweeper: removed expired assignments", zap.Int64("count", n))
	}
	return nil
}
