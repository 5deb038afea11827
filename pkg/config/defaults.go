package config

import "time"

// Default values for configuration fields.
const (
	// Budget enforcement defaults
	DefaultWarnPct              = 0.70
	DefaultCriticalPct          = 0.90
	DefaultBudgetUSD            = 5.00
	DefaultGracePeriod          = 5 * time.Minute
	DefaultRefreshPeriodDays    = 30
	DefaultEvaluationInterval   = 5 * time.Minute
	DefaultRefreshCheckSchedule = "0 2 * * *"
	DefaultEvaluationWorkers    = 8

	// Ledger defaults
	DefaultLedgerBackend            = "sqlite"
	DefaultLedgerSQLitePath         = "data/ledger.db"
	DefaultLedgerBusyTimeout        = 5 * time.Second
	DefaultLedgerCheckpointInterval = 5 * time.Minute

	// Pricing defaults
	DefaultPricingSQLitePath      = "data/pricing.db"
	DefaultPricingCacheTTL        = 5 * time.Minute
	DefaultPricingMaxAge          = 48 * time.Hour
	DefaultPricingFetchTimeout    = 10 * time.Second
	DefaultPricingRefreshSchedule = "0 1 * * *"

	// Bus defaults
	DefaultBusSQLitePath        = "data/queue.db"
	DefaultBusPollInterval      = time.Second
	DefaultBusVisibilityTimeout = 5 * time.Minute

	// Workflow defaults
	DefaultWorkflowSQLitePath     = "data/workflows.db"
	DefaultWorkflowStepTimeout    = 30 * time.Second
	DefaultWorkflowMaxAttempts    = 5
	DefaultWorkflowInitialBackoff = time.Second
	DefaultWorkflowMaxBackoff     = time.Minute

	// Telemetry defaults
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultMetricsListenAddress = "127.0.0.1:9090"
	DefaultMetricsNamespace     = "spendgate"
)

// ApplyDefaults fills zero-valued configuration fields with defaults.
// It mutates cfg in place and is safe to call on a partially populated
// configuration loaded from YAML.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// Budgets
	if cfg.Budgets.WarnPct == 0 {
		cfg.Budgets.WarnPct = DefaultWarnPct
	}
	if cfg.Budgets.CriticalPct == 0 {
		cfg.Budgets.CriticalPct = DefaultCriticalPct
	}
	if cfg.Budgets.DefaultBudgetUSD == 0 {
		cfg.Budgets.DefaultBudgetUSD = DefaultBudgetUSD
	}
	if cfg.Budgets.GracePeriod == 0 {
		cfg.Budgets.GracePeriod = DefaultGracePeriod
	}
	if cfg.Budgets.RefreshPeriodDays == 0 {
		cfg.Budgets.RefreshPeriodDays = DefaultRefreshPeriodDays
	}
	if cfg.Budgets.EvaluationInterval == 0 {
		cfg.Budgets.EvaluationInterval = DefaultEvaluationInterval
	}
	if cfg.Budgets.RefreshCheckSchedule == "" {
		cfg.Budgets.RefreshCheckSchedule = DefaultRefreshCheckSchedule
	}
	if cfg.Budgets.EvaluationWorkers == 0 {
		cfg.Budgets.EvaluationWorkers = DefaultEvaluationWorkers
	}

	// Ledger
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.SQLitePath == "" {
		cfg.Ledger.SQLitePath = DefaultLedgerSQLitePath
	}
	if cfg.Ledger.BusyTimeout == 0 {
		cfg.Ledger.BusyTimeout = DefaultLedgerBusyTimeout
	}
	if cfg.Ledger.CheckpointInterval == 0 {
		cfg.Ledger.CheckpointInterval = DefaultLedgerCheckpointInterval
	}

	// Pricing
	if cfg.Pricing.SQLitePath == "" {
		cfg.Pricing.SQLitePath = DefaultPricingSQLitePath
	}
	if cfg.Pricing.CacheTTL == 0 {
		cfg.Pricing.CacheTTL = DefaultPricingCacheTTL
	}
	if cfg.Pricing.MaxAge == 0 {
		cfg.Pricing.MaxAge = DefaultPricingMaxAge
	}
	if cfg.Pricing.FetchTimeout == 0 {
		cfg.Pricing.FetchTimeout = DefaultPricingFetchTimeout
	}
	if cfg.Pricing.RefreshSchedule == "" {
		cfg.Pricing.RefreshSchedule = DefaultPricingRefreshSchedule
	}

	// Bus
	if cfg.Bus.SQLitePath == "" {
		cfg.Bus.SQLitePath = DefaultBusSQLitePath
	}
	if cfg.Bus.PollInterval == 0 {
		cfg.Bus.PollInterval = DefaultBusPollInterval
	}
	if cfg.Bus.VisibilityTimeout == 0 {
		cfg.Bus.VisibilityTimeout = DefaultBusVisibilityTimeout
	}

	// Workflow
	if cfg.Workflow.SQLitePath == "" {
		cfg.Workflow.SQLitePath = DefaultWorkflowSQLitePath
	}
	if cfg.Workflow.StepTimeout == 0 {
		cfg.Workflow.StepTimeout = DefaultWorkflowStepTimeout
	}
	if cfg.Workflow.MaxAttempts == 0 {
		cfg.Workflow.MaxAttempts = DefaultWorkflowMaxAttempts
	}
	if cfg.Workflow.InitialBackoff == 0 {
		cfg.Workflow.InitialBackoff = DefaultWorkflowInitialBackoff
	}
	if cfg.Workflow.MaxBackoff == 0 {
		cfg.Workflow.MaxBackoff = DefaultWorkflowMaxBackoff
	}

	// Telemetry
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// DefaultConfig returns a fully defaulted configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}
