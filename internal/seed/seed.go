// Package seed loads the default decision matrix and action risk
// definitions a new tenant gets before they register any overrides of
// their own, following the teacher's internal/pricing package: search a
// handful of well-known paths for a YAML file, cache the parsed result,
// and fall back to compiled-in defaults when no file is found.
package seed

import (
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/triflow-ai/core/internal/models"
)

type decisionRowSeed struct {
	TrustLevel int    `yaml:"trust_level"`
	RiskLevel  string `yaml:"risk_level"`
	Decision   string `yaml:"decision"`
}

type actionRiskSeed struct {
	ActionType        string `yaml:"action_type"`
	RiskLevel         string `yaml:"risk_level"`
	Reversible        bool   `yaml:"reversible"`
	AffectsProduction bool   `yaml:"affects_production"`
	AffectsFinance    bool   `yaml:"affects_finance"`
	AffectsCompliance bool   `yaml:"affects_compliance"`
	Priority          int    `yaml:"priority"`
}

type config struct {
	DecisionMatrix    []decisionRowSeed `yaml:"decision_matrix"`
	ActionRiskDefault []actionRiskSeed  `yaml:"action_risk_definitions"`
}

var defaultPaths = []string{
	os.Getenv("SEED_CONFIG_PATH"),
	"/app/config/decision_defaults.yaml",
	"./config/decision_defaults.yaml",
	"../../config/decision_defaults.yaml",
}

var (
	mu          sync.RWMutex
	loaded      *config
	initialized bool
)

// builtinDecisionMatrix is a conservative default: nothing auto-executes
// below LowRiskAuto, and nothing auto-executes against CRITICAL risk at
// any trust level.
func builtinDecisionMatrix() []decisionRowSeed {
	return []decisionRowSeed{
		{int(models.TrustProposed), string(models.RiskLow), string(models.DecisionRequireApproval)},
		{int(models.TrustProposed), string(models.RiskMedium), string(models.DecisionRequireApproval)},
		{int(models.TrustProposed), string(models.RiskHigh), string(models.DecisionRequireApproval)},
		{int(models.TrustProposed), string(models.RiskCritical), string(models.DecisionReject)},
		{int(models.TrustAlertOnly), string(models.RiskLow), string(models.DecisionRequireApproval)},
		{int(models.TrustAlertOnly), string(models.RiskMedium), string(models.DecisionRequireApproval)},
		{int(models.TrustAlertOnly), string(models.RiskHigh), string(models.DecisionRequireApproval)},
		{int(models.TrustAlertOnly), string(models.RiskCritical), string(models.DecisionReject)},
		{int(models.TrustLowRiskAuto), string(models.RiskLow), string(models.DecisionAutoExecute)},
		{int(models.TrustLowRiskAuto), string(models.RiskMedium), string(models.DecisionRequireApproval)},
		{int(models.TrustLowRiskAuto), string(models.RiskHigh), string(models.DecisionRequireApproval)},
		{int(models.TrustLowRiskAuto), string(models.RiskCritical), string(models.DecisionReject)},
		{int(models.TrustFullAuto), string(models.RiskLow), string(models.DecisionAutoExecute)},
		{int(models.TrustFullAuto), string(models.RiskMedium), string(models.DecisionAutoExecute)},
		{int(models.TrustFullAuto), string(models.RiskHigh), string(models.DecisionRequireApproval)},
		{int(models.TrustFullAuto), string(models.RiskCritical), string(models.DecisionReject)},
	}
}

func builtinActionRiskDefinitions() []actionRiskSeed {
	return []actionRiskSeed{
		{ActionType: "^read_.*", RiskLevel: string(models.RiskLow), Reversible: true, Priority: 10},
		{ActionType: "^notify_.*", RiskLevel: string(models.RiskLow), Reversible: true, Priority: 10},
		{ActionType: "^adjust_setpoint$", RiskLevel: string(models.RiskMedium), Reversible: true, AffectsProduction: true, Priority: 20},
		{ActionType: "^restart_.*", RiskLevel: string(models.RiskHigh), Reversible: false, AffectsProduction: true, Priority: 30},
		{ActionType: "^shutdown_.*", RiskLevel: string(models.RiskCritical), Reversible: false, AffectsProduction: true, AffectsCompliance: true, Priority: 40},
		{ActionType: "^issue_refund$", RiskLevel: string(models.RiskHigh), Reversible: false, AffectsFinance: true, Priority: 30},
	}
}

func loadLocked() {
	cfg := &config{}
	for _, p := range defaultPaths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			log.Printf("seed: failed to parse %s: %v", p, err)
			continue
		}
		cfg = &tmp
		log.Printf("seed: loaded defaults from %s", p)
		break
	}
	if len(cfg.DecisionMatrix) == 0 {
		cfg.DecisionMatrix = builtinDecisionMatrix()
	}
	if len(cfg.ActionRiskDefault) == 0 {
		cfg.ActionRiskDefault = builtinActionRiskDefinitions()
	}
	loaded = cfg
	initialized = true
}

func get() *config {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// DecisionMatrixRows returns the default decision matrix for a brand
// new tenant, scoped to tenantID.
func DecisionMatrixRows(tenantID string) []models.DecisionMatrixRow {
	cfg := get()
	rows := make([]models.DecisionMatrixRow, 0, len(cfg.DecisionMatrix))
	for _, s := range cfg.DecisionMatrix {
		rows = append(rows, models.DecisionMatrixRow{
			TenantID:   tenantID,
			TrustLevel: models.TrustLevel(s.TrustLevel),
			RiskLevel:  models.RiskLevel(s.RiskLevel),
			Decision:   models.Decision(s.Decision),
		})
	}
	return rows
}

// ActionRiskDefinitions returns the default action risk catalogue for a
// brand new tenant, scoped to tenantID.
func ActionRiskDefinitions(tenantID string) []models.ActionRiskDefinition {
	cfg := get()
	defs := make([]models.ActionRiskDefinition, 0, len(cfg.ActionRiskDefault))
	for _, s := range cfg.ActionRiskDefault {
		defs = append(defs, models.ActionRiskDefinition{
			TenantID:          tenantID,
			ActionType:        s.ActionType,
			RiskLevel:         models.RiskLevel(s.RiskLevel),
			Reversible:        s.Reversible,
			AffectsProduction: s.AffectsProduction,
			AffectsFinance:    s.AffectsFinance,
			AffectsCompliance: s.AffectsCompliance,
			Priority:          s.Priority,
		})
	}
	return defs
}
