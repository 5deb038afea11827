package config

import "time"

// Config is the root configuration structure for Spendgate.
// It contains all configuration sections for budget enforcement, the ledger,
// pricing, the trigger queue, enforcement workflows, and telemetry.
type Config struct {
	// Budgets contains the enforcement policy: thresholds, grace period,
	// default budget, refresh period, and evaluation cadence.
	Budgets BudgetsConfig `yaml:"budgets"`

	// Ledger contains configuration for the budget ledger storage backend.
	Ledger LedgerConfig `yaml:"ledger"`

	// Pricing contains configuration for the pricing cache and refresh.
	Pricing PricingConfig `yaml:"pricing"`

	// Bus contains configuration for the durable trigger queue.
	Bus BusConfig `yaml:"bus"`

	// Workflow contains retry and persistence settings for the
	// suspension and restoration state machines.
	Workflow WorkflowConfig `yaml:"workflow"`

	// Telemetry contains configuration for logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BudgetsConfig contains the budget enforcement policy.
type BudgetsConfig struct {
	// WarnPct is the spend ratio at which a warning alert is sent,
	// expressed as a fraction of the budget limit (0 < WarnPct < CriticalPct).
	// Default: 0.70
	WarnPct float64 `yaml:"warn_pct"`

	// CriticalPct is the spend ratio at which a critical alert is sent.
	// Default: 0.90
	CriticalPct float64 `yaml:"critical_pct"`

	// DefaultBudgetUSD is the budget limit given to principals discovered
	// through usage before explicit provisioning.
	// Default: 5.00
	DefaultBudgetUSD float64 `yaml:"default_budget_usd"`

	// GracePeriod is how long access remains active after the budget is
	// exhausted, before suspension is applied.
	// Default: 5m
	GracePeriod time.Duration `yaml:"grace_period"`

	// RefreshPeriodDays is the length of a budget period in days. When a
	// period ends the budget resets and suspended principals are restored.
	// Default: 30
	RefreshPeriodDays int `yaml:"refresh_period_days"`

	// EvaluationInterval is how often the threshold evaluator scans the
	// ledger.
	// Default: 5m
	EvaluationInterval time.Duration `yaml:"evaluation_interval"`

	// RefreshCheckSchedule is the cron expression for the daily scan that
	// rolls budget periods over and triggers restorations.
	// Default: "0 2 * * *" (daily at 2 AM)
	RefreshCheckSchedule string `yaml:"refresh_check_schedule"`

	// EvaluationWorkers is the size of the worker pool used to fan out
	// per-principal evaluation.
	// Default: 8
	EvaluationWorkers int `yaml:"evaluation_workers"`
}

// LedgerConfig contains configuration for ledger persistence.
type LedgerConfig struct {
	// Backend selects the storage backend: "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLitePath is the ledger database file path.
	// Default: "data/ledger.db"
	SQLitePath string `yaml:"sqlite_path"`

	// BusyTimeout is how long SQLite waits for locks before failing.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// PricingConfig contains configuration for the pricing cache.
type PricingConfig struct {
	// SQLitePath is the persistent pricing store file path.
	// Default: "data/pricing.db"
	SQLitePath string `yaml:"sqlite_path"`

	// CacheTTL is the lifetime of the in-process pricing cache tier.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// MaxAge is how long persisted entries keep serving after refreshes
	// start failing; beyond it, static fallback rates are used.
	// Default: 48h
	MaxAge time.Duration `yaml:"max_age"`

	// FetchTimeout bounds a single pricing source fetch. A slow source
	// must never stall cost accounting.
	// Default: 10s
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// RefreshSchedule is the cron expression for the daily refresh from
	// the external pricing source.
	// Default: "0 1 * * *" (daily at 1 AM)
	RefreshSchedule string `yaml:"refresh_schedule"`
}

// BusConfig contains configuration for the durable trigger queue.
type BusConfig struct {
	// SQLitePath is the queue database file path.
	// Default: "data/queue.db"
	SQLitePath string `yaml:"sqlite_path"`

	// PollInterval is how often consumers poll for pending messages.
	// Default: 1s
	PollInterval time.Duration `yaml:"poll_interval"`

	// VisibilityTimeout is how long a dequeued message stays invisible
	// before it is redelivered to another consumer.
	// Default: 5m
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

// WorkflowConfig contains retry and persistence settings for workflows.
type WorkflowConfig struct {
	// SQLitePath is the workflow execution database file path.
	// Default: "data/workflows.db"
	SQLitePath string `yaml:"sqlite_path"`

	// StepTimeout bounds a single workflow step, including its external
	// calls (access controller, notifier).
	// Default: 30s
	StepTimeout time.Duration `yaml:"step_timeout"`

	// MaxAttempts is the retry budget per step before the execution is
	// dead-lettered.
	// Default: 5
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the first retry delay; subsequent delays grow
	// exponentially with jitter up to MaxBackoff.
	// Default: 1s
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	// Default: 1m
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains configuration for structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json", "text", or "console".
	// Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig contains configuration for Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP server.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// Namespace is the Prometheus metric namespace.
	// Default: "spendgate"
	Namespace string `yaml:"namespace"`

	// Subsystem is the Prometheus metric subsystem.
	// Default: ""
	Subsystem string `yaml:"subsystem"`
}
