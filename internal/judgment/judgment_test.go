package judgment

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/cache"
	"github.com/triflow-ai/core/internal/canary"
	"github.com/triflow-ai/core/internal/evaluator"
	"github.com/triflow-ai/core/internal/llmgateway"
	"github.com/triflow-ai/core/internal/metrics"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/policy"
	"github.com/triflow-ai/core/internal/store"
)

func TestCanonicalHashStableAcrossKeyOrder(t *testing.T) {
	a, err := canonicalHash(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := canonicalHash(map[string]interface{}{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalHashDiffersOnValueChange(t *testing.T) {
	a, err := canonicalHash(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	b, err := canonicalHash(map[string]interface{}{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

type fakeEvaluator struct {
	result *evaluator.Result
	err    error
}

func (f fakeEvaluator) Evaluate(ctx context.Context, req evaluator.Request) (*evaluator.Result, error) {
	return f.result, f.err
}

type fakeGateway struct{}

func (fakeGateway) Judge(ctx context.Context, req llmgateway.JudgeRequest) (*llmgateway.JudgeResult, error) {
	return nil, nil
}
func (fakeGateway) Classify(ctx context.Context, req llmgateway.ClassifyRequest) (*llmgateway.ClassifyResult, error) {
	return nil, nil
}

func newMockEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := store.NewFromDB(sqlx.NewDb(db, "postgres"))

	guards, err := policy.NewEvaluator(context.Background(), false, nil)
	require.NoError(t, err)

	eng := New(
		s,
		time.Hour,
		cache.NewJudgmentCache(cache.NewMemoryStore(64), time.Hour),
		fakeEvaluator{result: &evaluator.Result{Matched: true, Confidence: 0.95, Output: map[string]interface{}{"action_type": "stop_line"}, DurationMS: 12}},
		fakeGateway{},
		canary.New(s),
		guards,
		metrics.NewAggregator(s),
	)
	return eng, mock
}

func TestEvaluateRejectsEmptyInput(t *testing.T) {
	eng, _ := newMockEngine(t)
	_, err := eng.Evaluate(context.Background(), Request{TenantID: "t1", RulesetID: "rs-1", InputData: nil})
	require.Error(t, err)
}

func TestEvaluateRuleOnlyHappyPath(t *testing.T) {
	eng, mock := newMockEngine(t)
	now := time.Now()

	rulesetCols := []string{
		"id", "tenant_id", "name", "active_version", "active_deployment_id",
		"trust_level", "trust_score", "trust_components", "execution_count",
		"positive_feedback", "negative_feedback", "accuracy_rate",
		"last_execution_at", "last_promoted_at", "last_demoted_at",
		"created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT \\* FROM rulesets").
		WithArgs("rs-1", "t1").
		WillReturnRows(sqlmock.NewRows(rulesetCols).AddRow(
			"rs-1", "t1", "line-stop", 1, nil,
			int(models.TrustLowRiskAuto), 0.8, []byte(`{}`), 10,
			8, 2, 0.8,
			nil, nil, nil,
			now, now,
		))

	versionCols := []string{"id", "ruleset_id", "version", "script", "changelog", "initial_trust_level", "created_at"}
	mock.ExpectQuery("SELECT \\* FROM ruleset_versions").
		WithArgs("rs-1", 1).
		WillReturnRows(sqlmock.NewRows(versionCols).AddRow("v1", "rs-1", 1, "script body", "", int(models.TrustProposed), now))

	actionCols := []string{"id", "tenant_id", "action_type", "risk_level", "reversible", "affects_production", "affects_finance", "affects_compliance", "priority"}
	mock.ExpectQuery("SELECT \\* FROM action_risk_definitions WHERE tenant_id = \\$1 AND action_type = \\$2").
		WithArgs("t1", "stop_line").
		WillReturnRows(sqlmock.NewRows(actionCols).AddRow("ard-1", "t1", "stop_line", string(models.RiskMedium), true, true, false, false, 1))

	matrixCols := []string{"id", "tenant_id", "trust_level", "risk_level", "decision", "guards"}
	mock.ExpectQuery("SELECT \\* FROM decision_matrix_rows").
		WithArgs("t1", int(models.TrustLowRiskAuto), string(models.RiskMedium)).
		WillReturnRows(sqlmock.NewRows(matrixCols).AddRow("dmr-1", "t1", int(models.TrustLowRiskAuto), string(models.RiskMedium), string(models.DecisionAutoExecute), []byte(`{}`)))

	mock.ExpectQuery("INSERT INTO judgment_executions").WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectQuery("INSERT INTO auto_execution_logs").WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec("UPDATE rulesets SET").WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := eng.Evaluate(context.Background(), Request{
		TenantID:  "t1",
		RulesetID: "rs-1",
		InputData: map[string]interface{}{"sensor": "temp-1", "value": 92.0},
		Policy:    PolicyRuleOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAutoExecute, result.Decision)
	assert.True(t, result.AutoExecuted)
	assert.Equal(t, models.RiskMedium, result.RiskLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}
