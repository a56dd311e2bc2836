// Package models holds the core's persisted domain entities (spec.md §3).
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONMap is a generic jsonb column used for free-form payloads.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	return json.Unmarshal(bytes, m)
}

// TrustLevel is the discrete automation-authority level (spec.md Glossary).
type TrustLevel int

const (
	TrustProposed     TrustLevel = 0
	TrustAlertOnly    TrustLevel = 1
	TrustLowRiskAuto  TrustLevel = 2
	TrustFullAuto     TrustLevel = 3
)

func (l TrustLevel) String() string {
	switch l {
	case TrustProposed:
		return "proposed"
	case TrustAlertOnly:
		return "alert_only"
	case TrustLowRiskAuto:
		return "low_risk_auto"
	case TrustFullAuto:
		return "full_auto"
	default:
		return "unknown"
	}
}

// RiskLevel classifies an action type (spec.md Glossary).
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// TriggeredBy identifies how a trust transition or rollback occurred.
type TriggeredBy string

const (
	TriggeredAuto     TriggeredBy = "auto"
	TriggeredManual   TriggeredBy = "manual"
	TriggeredFeedback TriggeredBy = "feedback"
)

// DeploymentStatus is the deployment state machine's current node.
type DeploymentStatus string

const (
	StatusDraft      DeploymentStatus = "draft"
	StatusCanary     DeploymentStatus = "canary"
	StatusActive     DeploymentStatus = "active"
	StatusDeprecated DeploymentStatus = "deprecated"
	StatusRolledBack DeploymentStatus = "rolled_back"
)

// CompensationStrategy is the rollback cleanup policy (spec.md Glossary).
type CompensationStrategy string

const (
	CompensationIgnore           CompensationStrategy = "ignore"
	CompensationMarkAndReprocess CompensationStrategy = "mark_and_reprocess"
	CompensationSoftDelete       CompensationStrategy = "soft_delete"
)

// CanaryVersion identifies which script a deployment's canary serves.
type CanaryVersion string

const (
	VersionV1 CanaryVersion = "v1"
	VersionV2 CanaryVersion = "v2"
)

// IdentifierType is the kind of sticky key used for canary routing.
type IdentifierType string

const (
	IdentifierUser             IdentifierType = "user"
	IdentifierSession          IdentifierType = "session"
	IdentifierWorkflowInstance IdentifierType = "workflow_instance"
)

// Decision is the outcome of applying the DecisionMatrix.
type Decision string

const (
	DecisionAutoExecute     Decision = "auto_execute"
	DecisionRequireApproval Decision = "require_approval"
	DecisionReject          Decision = "reject"
)

// MethodUsed records which evaluation path produced a judgment.
type MethodUsed string

const (
	MethodRuleOnly       MethodUsed = "rule_only"
	MethodLLMOnly        MethodUsed = "llm_only"
	MethodHybridWeighted MethodUsed = "hybrid_weighted"
)

// TrustComponents is the breakdown behind a ruleset's trust score.
type TrustComponents struct {
	Accuracy    float64 `json:"accuracy"`
	Consistency float64 `json:"consistency"`
	Frequency   float64 `json:"frequency"`
	Feedback    float64 `json:"feedback"`
	Age         float64 `json:"age"`
}

// Value implements driver.Valuer.
func (t TrustComponents) Value() (driver.Value, error) { return json.Marshal(t) }

// Scan implements sql.Scanner.
func (t *TrustComponents) Scan(value interface{}) error {
	if value == nil {
		*t = TrustComponents{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into TrustComponents", value)
	}
	return json.Unmarshal(bytes, t)
}

// Ruleset is a named, versioned classification artifact (spec.md §3).
type Ruleset struct {
	ID                  string          `db:"id" json:"ruleset_id"`
	TenantID            string          `db:"tenant_id" json:"tenant_id"`
	Name                string          `db:"name" json:"name"`
	ActiveVersion       int             `db:"active_version" json:"active_version"`
	ActiveDeploymentID  *string         `db:"active_deployment_id" json:"active_deployment_id,omitempty"`
	TrustLevel          TrustLevel      `db:"trust_level" json:"trust_level"`
	TrustScore          float64         `db:"trust_score" json:"trust_score"`
	TrustComponents     TrustComponents `db:"trust_components" json:"trust_components"`
	ExecutionCount      int             `db:"execution_count" json:"execution_count"`
	PositiveFeedback    int             `db:"positive_feedback" json:"positive_feedback"`
	NegativeFeedback    int             `db:"negative_feedback" json:"negative_feedback"`
	AccuracyRate        *float64        `db:"accuracy_rate" json:"accuracy_rate,omitempty"`
	LastExecutionAt     *time.Time      `db:"last_execution_at" json:"last_execution_at,omitempty"`
	LastPromotedAt      *time.Time      `db:"last_promoted_at" json:"last_promoted_at,omitempty"`
	LastDemotedAt       *time.Time      `db:"last_demoted_at" json:"last_demoted_at,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// RulesetVersion is an immutable revision of a ruleset's script body.
type RulesetVersion struct {
	ID                string    `db:"id" json:"version_id"`
	RulesetID         string    `db:"ruleset_id" json:"ruleset_id"`
	Version           int       `db:"version" json:"version"`
	Script            string    `db:"script" json:"script"`
	Changelog         string    `db:"changelog" json:"changelog"`
	InitialTrustLevel TrustLevel `db:"initial_trust_level" json:"initial_trust_level"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// CanaryConfig is the per-deployment circuit-breaker threshold bundle.
type CanaryConfig struct {
	MinSamples                  int     `json:"min_samples"`
	ErrorRateThreshold          float64 `json:"error_rate_threshold"`
	RelativeErrorThreshold      float64 `json:"relative_error_threshold"`
	LatencyP95Threshold         float64 `json:"latency_p95_threshold"`
	ConsecutiveFailureThreshold int     `json:"consecutive_failure_threshold"`
	AutoRollbackEnabled         bool    `json:"auto_rollback_enabled"`
}

// Value implements driver.Valuer.
func (c CanaryConfig) Value() (driver.Value, error) { return json.Marshal(c) }

// Scan implements sql.Scanner.
func (c *CanaryConfig) Scan(value interface{}) error {
	if value == nil {
		*c = CanaryConfig{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into CanaryConfig", value)
	}
	return json.Unmarshal(bytes, c)
}

// Deployment is a planned version transition for a ruleset.
type Deployment struct {
	ID                       string               `db:"id" json:"deployment_id"`
	RulesetID                string               `db:"ruleset_id" json:"ruleset_id"`
	Status                   DeploymentStatus     `db:"status" json:"status"`
	TargetVersion            int                  `db:"target_version" json:"target_version"`
	PreviousVersion          int                  `db:"previous_version" json:"previous_version"`
	CanaryConfig             CanaryConfig         `db:"canary_config" json:"canary_config"`
	CompensationStrategy     CompensationStrategy `db:"compensation_strategy" json:"compensation_strategy"`
	CanaryTrafficPercentage  int                  `db:"canary_traffic_percentage" json:"canary_traffic_percentage"`
	StartedAt                *time.Time           `db:"started_at" json:"started_at,omitempty"`
	PromotedAt               *time.Time           `db:"promoted_at" json:"promoted_at,omitempty"`
	RolledBackAt             *time.Time           `db:"rolled_back_at" json:"rolled_back_at,omitempty"`
	RollbackReason           string               `db:"rollback_reason" json:"rollback_reason,omitempty"`
	CreatedAt                time.Time            `db:"created_at" json:"created_at"`
}

// CanaryAssignment is a sticky identifier-to-version mapping.
type CanaryAssignment struct {
	ID             string         `db:"id" json:"id"`
	DeploymentID   string         `db:"deployment_id" json:"deployment_id"`
	Identifier     string         `db:"identifier" json:"identifier"`
	IdentifierType IdentifierType `db:"identifier_type" json:"identifier_type"`
	Version        CanaryVersion  `db:"version" json:"version"`
	ExpiresAt      *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// VersionType distinguishes canary vs stable in metrics windows.
type VersionType string

const (
	VersionTypeCanary VersionType = "canary"
	VersionTypeStable VersionType = "stable"
)

// DeploymentMetricsWindow is a time-bucketed aggregate (spec.md §3).
type DeploymentMetricsWindow struct {
	ID                  string      `db:"id" json:"id"`
	DeploymentID        string      `db:"deployment_id" json:"deployment_id"`
	VersionType         VersionType `db:"version_type" json:"version_type"`
	SampleCount         int         `db:"sample_count" json:"sample_count"`
	SuccessCount        int         `db:"success_count" json:"success_count"`
	ErrorCount          int         `db:"error_count" json:"error_count"`
	ErrorRate           float64     `db:"error_rate" json:"error_rate"`
	LatencyP50          float64     `db:"latency_p50" json:"latency_p50"`
	LatencyP95          float64     `db:"latency_p95" json:"latency_p95"`
	LatencyP99          float64     `db:"latency_p99" json:"latency_p99"`
	LatencyAvg          float64     `db:"latency_avg" json:"latency_avg"`
	ConsecutiveFailures int         `db:"consecutive_failures" json:"consecutive_failures"`
	WindowStart         time.Time   `db:"window_start" json:"window_start"`
	WindowEnd           time.Time   `db:"window_end" json:"window_end"`
}

// CanaryExecutionLog is one record per judgment observed during canary.
type CanaryExecutionLog struct {
	ID             string        `db:"id" json:"id"`
	DeploymentID   string        `db:"deployment_id" json:"deployment_id"`
	ExecutionID    string        `db:"execution_id" json:"execution_id"`
	CanaryVersion  CanaryVersion `db:"canary_version" json:"canary_version"`
	Success        bool          `db:"success" json:"success"`
	LatencyMS      float64       `db:"latency_ms" json:"latency_ms"`
	ErrorMessage   string        `db:"error_message" json:"error_message,omitempty"`
	RollbackSafe   bool          `db:"rollback_safe" json:"rollback_safe"`
	NeedsReprocess bool          `db:"needs_reprocess" json:"needs_reprocess"`
	ReprocessedAt  *time.Time    `db:"reprocessed_at" json:"reprocessed_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// JudgmentExecution is one append-only record per judgment call.
// RulesetID is non-nullable going forward (open question ii).
type JudgmentExecution struct {
	ID               string                 `db:"id" json:"execution_id"`
	TenantID         string                 `db:"tenant_id" json:"tenant_id"`
	RulesetID        string                 `db:"ruleset_id" json:"ruleset_id"`
	InputData        JSONMap                `db:"input_data" json:"input_data"`
	Output           JSONMap                `db:"output" json:"output"`
	Confidence       float64                `db:"confidence" json:"confidence"`
	MethodUsed       MethodUsed             `db:"method_used" json:"method_used"`
	TrustLevelAtTime TrustLevel             `db:"trust_level_at_time" json:"trust_level_at_time"`
	RiskLevel        RiskLevel              `db:"risk_level" json:"risk_level"`
	AutoExecuted     bool                   `db:"auto_executed" json:"auto_executed"`
	Success          bool                   `db:"success" json:"success"`
	NeedsReprocess   bool                   `db:"needs_reprocess" json:"needs_reprocess"`
	SoftDeleted      bool                   `db:"soft_deleted" json:"soft_deleted"`
	CreatedAt        time.Time              `db:"created_at" json:"created_at"`
}

// DecisionMatrixGuards are the optional guard conditions on a row.
type DecisionMatrixGuards struct {
	MinTrustScore           float64 `json:"min_trust_score,omitempty"`
	MaxConsecutiveFailures  int     `json:"max_consecutive_failures,omitempty"`
	CooldownSeconds         int     `json:"cooldown_seconds,omitempty"`
}

// Value implements driver.Valuer.
func (g DecisionMatrixGuards) Value() (driver.Value, error) { return json.Marshal(g) }

// Scan implements sql.Scanner.
func (g *DecisionMatrixGuards) Scan(value interface{}) error {
	if value == nil {
		*g = DecisionMatrixGuards{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into DecisionMatrixGuards", value)
	}
	return json.Unmarshal(bytes, g)
}

// DecisionMatrixRow is a per-tenant (trust_level, risk_level) -> decision row.
type DecisionMatrixRow struct {
	ID         string                `db:"id" json:"id"`
	TenantID   string                `db:"tenant_id" json:"tenant_id"`
	TrustLevel TrustLevel            `db:"trust_level" json:"trust_level"`
	RiskLevel  RiskLevel             `db:"risk_level" json:"risk_level"`
	Decision   Decision              `db:"decision" json:"decision"`
	Guards     DecisionMatrixGuards  `db:"guards" json:"guards"`
}

// ActionRiskDefinition maps an action type to its risk profile.
type ActionRiskDefinition struct {
	ID                 string    `db:"id" json:"id"`
	TenantID           string    `db:"tenant_id" json:"tenant_id"`
	ActionType         string    `db:"action_type" json:"action_type"`
	RiskLevel          RiskLevel `db:"risk_level" json:"risk_level"`
	Reversible         bool      `db:"reversible" json:"reversible"`
	AffectsProduction  bool      `db:"affects_production" json:"affects_production"`
	AffectsFinance     bool      `db:"affects_finance" json:"affects_finance"`
	AffectsCompliance  bool      `db:"affects_compliance" json:"affects_compliance"`
	Priority           int       `db:"priority" json:"priority"`
}

// AutoExecutionLog records each (judgment, decision, execution_status) outcome.
type AutoExecutionLog struct {
	ID              string    `db:"id" json:"id"`
	ExecutionID     string    `db:"execution_id" json:"execution_id"`
	Decision        Decision  `db:"decision" json:"decision"`
	ExecutionStatus string    `db:"execution_status" json:"execution_status"`
	ApprovalRef     string    `db:"approval_ref" json:"approval_ref,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// TrustHistory is the append-only source-of-truth for trust-level changes.
type TrustHistory struct {
	ID               string          `db:"id" json:"id"`
	RulesetID        string          `db:"ruleset_id" json:"ruleset_id"`
	PreviousLevel    TrustLevel      `db:"previous_level" json:"previous_level"`
	NewLevel         TrustLevel      `db:"new_level" json:"new_level"`
	Reason           string          `db:"reason" json:"reason"`
	TriggeredBy      TriggeredBy     `db:"triggered_by" json:"triggered_by"`
	MetricsSnapshot  TrustComponents `db:"metrics_snapshot" json:"metrics_snapshot"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// DataScope restricts queries to a user's visible factory/line/product/
// shift/equipment set (spec.md §4.13).
type DataScope struct {
	FactoryCodes    []string `json:"factory_codes"`
	LineCodes       []string `json:"line_codes"`
	ProductFamilies []string `json:"product_families"`
	ShiftCodes      []string `json:"shift_codes"`
	EquipmentIDs    []string `json:"equipment_ids"`
	AllAccess       bool     `json:"all_access"`
}

// FeatureFlag is one (tenant_id, feature) override row (spec.md §4.12);
// a tenant with no row for a feature falls through to the global row
// (tenant_id = ""), then to the percentage rollout, then to off.
type FeatureFlag struct {
	ID                string    `db:"id" json:"id"`
	TenantID          string    `db:"tenant_id" json:"tenant_id"`
	Feature           string    `db:"feature" json:"feature"`
	Enabled           *bool     `db:"enabled" json:"enabled,omitempty"`
	RolloutPercentage int       `db:"rollout_percentage" json:"rollout_percentage"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// AuditEntry is one append-only audit record (spec.md §4.14).
type AuditEntry struct {
	ID              string    `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	TenantID        string    `db:"tenant_id" json:"tenant_id"`
	Action          string    `db:"action" json:"action"`
	Resource        string    `db:"resource" json:"resource"`
	ResourceID      string    `db:"resource_id" json:"resource_id"`
	Method          string    `db:"method" json:"method"`
	Path            string    `db:"path" json:"path"`
	Status          int       `db:"status" json:"status"`
	IP              string    `db:"ip" json:"ip"`
	UserAgent       string    `db:"user_agent" json:"user_agent"`
	RequestBody     string    `db:"request_body" json:"request_body"`
	ResponseSummary string    `db:"response_summary" json:"response_summary"`
	MaskedCount     int       `db:"masked_count" json:"masked_count"`
	DurationMS      int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// DataSource registers an external MES/ERP endpoint a ruleset's input
// data may be backed by (spec.md §6). ConnectionConfig is stored
// encrypted at rest; callers never see the raw bytes, only whether a
// source is configured and its last observed sync status.
type DataSource struct {
	ID               string     `db:"id" json:"id"`
	TenantID         string     `db:"tenant_id" json:"tenant_id"`
	Name             string     `db:"name" json:"name"`
	SourceType       string     `db:"source_type" json:"source_type"`
	SourceSystem     string     `db:"source_system" json:"source_system,omitempty"`
	ConnectionConfig []byte     `db:"connection_config" json:"-"`
	Active           bool       `db:"active" json:"active"`
	LastSyncAt       *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	LastSyncStatus   string     `db:"last_sync_status" json:"last_sync_status,omitempty"`
	LastSyncError    string     `db:"last_sync_error" json:"last_sync_error,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
