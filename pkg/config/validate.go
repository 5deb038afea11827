package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field
	// (e.g., "budgets.warn_pct").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}

	var errs []FieldError
	add := func(field, message string) {
		errs = append(errs, FieldError{Field: field, Message: message})
	}

	// Budgets
	if cfg.Budgets.WarnPct <= 0 || cfg.Budgets.WarnPct >= 1 {
		add("budgets.warn_pct", "must be between 0 and 1 exclusive")
	}
	if cfg.Budgets.CriticalPct <= 0 || cfg.Budgets.CriticalPct >= 1 {
		add("budgets.critical_pct", "must be between 0 and 1 exclusive")
	}
	if cfg.Budgets.WarnPct >= cfg.Budgets.CriticalPct {
		add("budgets.warn_pct", "must be less than budgets.critical_pct")
	}
	if cfg.Budgets.DefaultBudgetUSD < 0 {
		add("budgets.default_budget_usd", "cannot be negative")
	}
	if cfg.Budgets.GracePeriod <= 0 {
		add("budgets.grace_period", "must be positive")
	}
	if cfg.Budgets.RefreshPeriodDays <= 0 {
		add("budgets.refresh_period_days", "must be positive")
	}
	if cfg.Budgets.EvaluationInterval < time.Second {
		add("budgets.evaluation_interval", "must be at least 1s")
	}
	if cfg.Budgets.EvaluationWorkers < 1 {
		add("budgets.evaluation_workers", "must be at least 1")
	}
	if _, err := cron.ParseStandard(cfg.Budgets.RefreshCheckSchedule); err != nil {
		add("budgets.refresh_check_schedule", fmt.Sprintf("invalid cron expression: %v", err))
	}

	// Ledger
	switch cfg.Ledger.Backend {
	case "sqlite":
		if cfg.Ledger.SQLitePath == "" {
			add("ledger.sqlite_path", "required for sqlite backend")
		}
	case "memory":
	default:
		add("ledger.backend", fmt.Sprintf("unknown backend %q (expected \"sqlite\" or \"memory\")", cfg.Ledger.Backend))
	}

	// Pricing
	if cfg.Pricing.CacheTTL <= 0 {
		add("pricing.cache_ttl", "must be positive")
	}
	if cfg.Pricing.MaxAge < cfg.Pricing.CacheTTL {
		add("pricing.max_age", "must be at least pricing.cache_ttl")
	}
	if cfg.Pricing.FetchTimeout <= 0 {
		add("pricing.fetch_timeout", "must be positive")
	}
	if _, err := cron.ParseStandard(cfg.Pricing.RefreshSchedule); err != nil {
		add("pricing.refresh_schedule", fmt.Sprintf("invalid cron expression: %v", err))
	}

	// Bus
	if cfg.Bus.PollInterval <= 0 {
		add("bus.poll_interval", "must be positive")
	}
	if cfg.Bus.VisibilityTimeout <= 0 {
		add("bus.visibility_timeout", "must be positive")
	}

	// Workflow
	if cfg.Workflow.StepTimeout <= 0 {
		add("workflow.step_timeout", "must be positive")
	}
	if cfg.Workflow.MaxAttempts < 1 {
		add("workflow.max_attempts", "must be at least 1")
	}
	if cfg.Workflow.InitialBackoff <= 0 {
		add("workflow.initial_backoff", "must be positive")
	}
	if cfg.Workflow.MaxBackoff < cfg.Workflow.InitialBackoff {
		add("workflow.max_backoff", "must be at least workflow.initial_backoff")
	}

	// Telemetry
	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("telemetry.logging.level", fmt.Sprintf("unknown level %q", cfg.Telemetry.Logging.Level))
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text", "console":
	default:
		add("telemetry.logging.format", fmt.Sprintf("unknown format %q", cfg.Telemetry.Logging.Format))
	}
	if cfg.Telemetry.Metrics.Enabled && cfg.Telemetry.Metrics.ListenAddress == "" {
		add("telemetry.metrics.listen_address", "required when metrics are enabled")
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
