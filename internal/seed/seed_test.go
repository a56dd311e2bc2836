package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triflow-ai/core/internal/models"
)

func TestDecisionMatrixRowsScopedToTenant(t *testing.T) {
	rows := DecisionMatrixRows("tenant-a")
	assert.NotEmpty(t, rows)
	for _, row := range rows {
		assert.Equal(t, "tenant-a", row.TenantID)
	}
}

func TestDecisionMatrixRowsCoverEveryTrustRiskPair(t *testing.T) {
	rows := DecisionMatrixRows("tenant-a")
	assert.Len(t, rows, 16, "4 trust levels x 4 risk levels")
}

func TestDecisionMatrixNothingAutoExecutesAtCriticalRisk(t *testing.T) {
	rows := DecisionMatrixRows("tenant-a")
	for _, row := range rows {
		if row.RiskLevel == models.RiskCritical {
			assert.NotEqual(t, models.DecisionAutoExecute, row.Decision)
		}
	}
}

func TestDecisionMatrixLowestTrustNeverAutoExecutes(t *testing.T) {
	rows := DecisionMatrixRows("tenant-a")
	for _, row := range rows {
		if row.TrustLevel == models.TrustProposed {
			assert.NotEqual(t, models.DecisionAutoExecute, row.Decision)
		}
	}
}

func TestActionRiskDefinitionsScopedToTenant(t *testing.T) {
	defs := ActionRiskDefinitions("tenant-b")
	assert.NotEmpty(t, defs)
	for _, d := range defs {
		assert.Equal(t, "tenant-b", d.TenantID)
		assert.NotEmpty(t, d.ActionType)
		assert.NotEmpty(t, d.RiskLevel)
	}
}

func TestSeedResultsAreIndependentPerCall(t *testing.T) {
	a := DecisionMatrixRows("tenant-a")
	b := DecisionMatrixRows("tenant-b")
	a[0].Decision = models.DecisionReject
	assert.NotEqual(t, a[0].Decision, b[0].Decision)
}
