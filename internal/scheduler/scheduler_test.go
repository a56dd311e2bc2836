package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/canary"
	"github.com/triflow-ai/core/internal/config"
	"github.com/triflow-ai/core/internal/deployment"
	"github.com/triflow-ai/core/internal/metrics"
	"github.com/triflow-ai/core/internal/store"
	"github.com/triflow-ai/core/internal/trust"
)

func TestValidateCronScheduleAcceptsStandardAndDescriptor(t *testing.T) {
	require.NoError(t, ValidateCronSchedule("*/30 * * * *"))
	require.NoError(t, ValidateCronSchedule("@every 1h"))
	require.NoError(t, ValidateCronSchedule("@hourly"))
}

func TestValidateCronScheduleRejectsEmptyAndGarbage(t *testing.T) {
	require.Error(t, ValidateCronSchedule(""))
	require.Error(t, ValidateCronSchedule("not a cron"))
}

func newTestScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.NewFromDB(sqlx.NewDb(db, "postgres"))

	assigner := canary.New(s)
	judgments := cache.NewJudgmentCache(cache.NewMemoryStore(16), time.Hour)
	deployer := deployment.New(s, assigner, judgments)
	trustEngine := trust.New(s, config.TrustThresholds{}, config.DefaultTrustWeights())
	aggregator := metrics.NewAggregator(s)

	return New(s, deployer, trustEngine, assigner, aggregator, zap.NewNop()), mock
}

func TestCanaryMonitorNoDeploymentsIsNoop(t *testing.T) {
	sch, mock := newTestScheduler(t)
	mock.ExpectQuery("SELECT \\* FROM deployments WHERE status = 'canary'").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ruleset_id", "status", "target_version", "previous_version",
			"canary_config", "compensation_strategy", "canary_traffic_percentage",
			"started_at", "promoted_at", "rolled_back_at", "rollback_reason", "created_at",
		}))

	err := sch.canaryMonitor(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentSweeperDeletesExpired(t *testing.T) {
	sch, mock := newTestScheduler(t)
	mock.ExpectExec("DELETE FROM canary_assignments WHERE expires_at IS NOT NULL").
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := sch.assignmentSweeper(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrustReevaluatorNoRulesetsIsNoop(t *testing.T) {
	sch, mock := newTestScheduler(t)
	mock.ExpectQuery("SELECT \\* FROM rulesets ORDER BY tenant_id, name").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "name", "active_version", "active_deployment_id",
			"trust_level", "trust_score", "trust_components", "execution_count",
			"positive_feedback", "negative_feedback", "accuracy_rate",
			"last_execution_at", "last_promoted_at", "last_demoted_at",
			"created_at", "updated_at",
		}))

	err := sch.trustReevaluator(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
