// Package config loads the core's typed configuration from a YAML file
// (overridable via CORE_CONFIG_PATH) with environment-variable overrides
// for secrets, following the orchestrator's config.Load/Features split.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// TrustThresholds holds the per-level promotion/demotion gates from
// spec.md §4.4. Index k is the gate for leaving level k.
type TrustThresholds struct {
	PromoteScore    []float64 `mapstructure:"promote_score"`
	MinExecutions   []int     `mapstructure:"min_executions"`
	MinAccuracy     []float64 `mapstructure:"min_accuracy"`
	DemoteAccuracy  []float64 `mapstructure:"demote_accuracy"`
	DemoteNegCount  []int     `mapstructure:"demote_neg_count"`
	CooldownSeconds int       `mapstructure:"cooldown_seconds"`
}

// TrustWeights is the score-component weighting, open question (i) —
// resolved as configuration rather than compiled-in constants.
type TrustWeights struct {
	Accuracy    float64 `mapstructure:"accuracy"`
	Consistency float64 `mapstructure:"consistency"`
	Frequency   float64 `mapstructure:"frequency"`
	Feedback    float64 `mapstructure:"feedback"`
	Age         float64 `mapstructure:"age"`
}

// DefaultTrustWeights returns the "reasonable default" of equal fifths
// named in spec.md §4.4.
func DefaultTrustWeights() TrustWeights {
	return TrustWeights{Accuracy: 0.2, Consistency: 0.2, Frequency: 0.2, Feedback: 0.2, Age: 0.2}
}

// CanaryDefaults seeds CanaryConfig when a deployment does not specify one.
type CanaryDefaults struct {
	MinSamples                 int     `mapstructure:"min_samples"`
	ErrorRateThreshold         float64 `mapstructure:"error_rate_threshold"`
	RelativeErrorThreshold     float64 `mapstructure:"relative_error_threshold"`
	LatencyP95Threshold        float64 `mapstructure:"latency_p95_threshold"`
	ConsecutiveFailureThresh   int     `mapstructure:"consecutive_failure_threshold"`
	WindowSeconds              int     `mapstructure:"window_seconds"`
}

// CacheConfig configures C1.
type CacheConfig struct {
	URL            string        `mapstructure:"url"`
	JudgmentTTL    time.Duration `mapstructure:"judgment_ttl"`
	PolicyCacheCap int           `mapstructure:"policy_cache_cap"`
}

// SchedulerConfig configures C13 driver cadence.
type SchedulerConfig struct {
	CanaryMonitorCron     string `mapstructure:"canary_monitor_cron"`
	TrustReevaluatorCron  string `mapstructure:"trust_reevaluator_cron"`
	AssignmentSweeperCron string `mapstructure:"assignment_sweeper_cron"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// TimeoutConfig captures the per-suspension-point timeouts of spec.md §5.
type TimeoutConfig struct {
	Cache           time.Duration `mapstructure:"cache"`
	Evaluator       time.Duration `mapstructure:"evaluator"`
	Model           time.Duration `mapstructure:"model"`
	Database        time.Duration `mapstructure:"database"`
	DataSourceProbe time.Duration `mapstructure:"data_source_probe"`
}

// Config is the top-level typed configuration snapshot.
type Config struct {
	Environment     string          `mapstructure:"environment"`
	EncryptionKey   string          `mapstructure:"-"`
	JWTSecret       string          `mapstructure:"-"`
	HTTPAddr        string          `mapstructure:"http_addr"`
	EvaluatorURL    string          `mapstructure:"evaluator_url"`
	LLMGatewayURL   string          `mapstructure:"llm_gateway_url"`
	Database        DatabaseConfig  `mapstructure:"database"`
	Cache           CacheConfig     `mapstructure:"cache"`
	TrustThresholds TrustThresholds `mapstructure:"trust_thresholds"`
	TrustWeights    TrustWeights    `mapstructure:"trust_weights"`
	CanaryDefaults  CanaryDefaults  `mapstructure:"canary_defaults"`
	Scheduler       SchedulerConfig `mapstructure:"scheduler"`
	Timeouts        TimeoutConfig   `mapstructure:"timeouts"`
	PolicyEnabled   bool            `mapstructure:"policy_enabled"`
	PolicyFailClose bool            `mapstructure:"policy_fail_closed"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("evaluator_url", "http://evaluator:9090")
	v.SetDefault("llm_gateway_url", "http://llm-gateway:9091")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)
	v.SetDefault("cache.judgment_ttl", time.Hour)
	v.SetDefault("cache.policy_cache_cap", 1000)
	v.SetDefault("trust_thresholds.promote_score", []float64{0.6, 0.75, 0.9})
	v.SetDefault("trust_thresholds.min_executions", []int{50, 200, 1000})
	v.SetDefault("trust_thresholds.min_accuracy", []float64{0.7, 0.85, 0.95})
	v.SetDefault("trust_thresholds.demote_accuracy", []float64{0.0, 0.6, 0.75, 0.85})
	v.SetDefault("trust_thresholds.demote_neg_count", []int{0, 5, 10, 20})
	v.SetDefault("trust_thresholds.cooldown_seconds", 3600)
	v.SetDefault("trust_weights.accuracy", 0.2)
	v.SetDefault("trust_weights.consistency", 0.2)
	v.SetDefault("trust_weights.frequency", 0.2)
	v.SetDefault("trust_weights.feedback", 0.2)
	v.SetDefault("trust_weights.age", 0.2)
	v.SetDefault("canary_defaults.min_samples", 100)
	v.SetDefault("canary_defaults.error_rate_threshold", 0.05)
	v.SetDefault("canary_defaults.relative_error_threshold", 2.0)
	v.SetDefault("canary_defaults.latency_p95_threshold", 1.5)
	v.SetDefault("canary_defaults.consecutive_failure_threshold", 10)
	v.SetDefault("canary_defaults.window_seconds", 60)
	v.SetDefault("scheduler.canary_monitor_cron", "@every 30s")
	v.SetDefault("scheduler.trust_reevaluator_cron", "@every 15m")
	v.SetDefault("scheduler.assignment_sweeper_cron", "@every 1h")
	v.SetDefault("timeouts.cache", 100*time.Millisecond)
	v.SetDefault("timeouts.evaluator", 2*time.Second)
	v.SetDefault("timeouts.model", 30*time.Second)
	v.SetDefault("timeouts.database", 30*time.Second)
	v.SetDefault("timeouts.data_source_probe", 5*time.Second)
	v.SetDefault("policy_enabled", true)
	v.SetDefault("policy_fail_closed", false)
}

// Load reads the YAML config from CORE_CONFIG_PATH (or config/core.yaml)
// and layers environment-variable secrets on top.
func Load() (*Config, error) {
	path := os.Getenv("CORE_CONFIG_PATH")
	if path == "" {
		path = "config/core.yaml"
	}

	v := viper.New()
	defaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// No config file present: defaults + env only, matching the
		// teacher's tolerance for a missing features.yaml in dev.
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	c.Database.Host = envOr("POSTGRES_HOST", orDefault(c.Database.Host, "postgres"))
	c.Database.User = envOr("POSTGRES_USER", orDefault(c.Database.User, "core"))
	c.Database.Password = envOr("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Database = envOr("POSTGRES_DB", orDefault(c.Database.Database, "core"))
	c.Cache.URL = envOr("CACHE_URL", c.Cache.URL)
	c.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	c.JWTSecret = envOr("JWT_SECRET", "dev-secret-change-me")

	if c.EncryptionKey == "" && c.Environment != "dev" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is mandatory outside dev environment")
	}

	return &c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
