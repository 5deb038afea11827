package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Use LoadConfigWithEnvOverrides to also honor environment
// variables.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	cfg.Telemetry.Metrics.Enabled = true
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention SPENDGATE_SECTION_FIELD (e.g., SPENDGATE_BUDGETS_WARN_PCT) and
// always take precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Invalid values are ignored in favor of the file value.
func applyEnvOverrides(cfg *Config) {
	// Budget overrides
	if val := os.Getenv("SPENDGATE_BUDGETS_WARN_PCT"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Budgets.WarnPct = f
		}
	}
	if val := os.Getenv("SPENDGATE_BUDGETS_CRITICAL_PCT"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Budgets.CriticalPct = f
		}
	}
	if val := os.Getenv("SPENDGATE_BUDGETS_DEFAULT_BUDGET_USD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Budgets.DefaultBudgetUSD = f
		}
	}
	if val := os.Getenv("SPENDGATE_BUDGETS_GRACE_PERIOD"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Budgets.GracePeriod = d
		}
	}
	if val := os.Getenv("SPENDGATE_BUDGETS_REFRESH_PERIOD_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Budgets.RefreshPeriodDays = n
		}
	}
	if val := os.Getenv("SPENDGATE_BUDGETS_EVALUATION_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Budgets.EvaluationInterval = d
		}
	}
	if val := os.Getenv("SPENDGATE_BUDGETS_EVALUATION_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Budgets.EvaluationWorkers = n
		}
	}

	// Ledger overrides
	if val := os.Getenv("SPENDGATE_LEDGER_BACKEND"); val != "" {
		cfg.Ledger.Backend = val
	}
	if val := os.Getenv("SPENDGATE_LEDGER_SQLITE_PATH"); val != "" {
		cfg.Ledger.SQLitePath = val
	}

	// Pricing overrides
	if val := os.Getenv("SPENDGATE_PRICING_SQLITE_PATH"); val != "" {
		cfg.Pricing.SQLitePath = val
	}
	if val := os.Getenv("SPENDGATE_PRICING_FETCH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pricing.FetchTimeout = d
		}
	}

	// Bus overrides
	if val := os.Getenv("SPENDGATE_BUS_SQLITE_PATH"); val != "" {
		cfg.Bus.SQLitePath = val
	}

	// Workflow overrides
	if val := os.Getenv("SPENDGATE_WORKFLOW_SQLITE_PATH"); val != "" {
		cfg.Workflow.SQLitePath = val
	}
	if val := os.Getenv("SPENDGATE_WORKFLOW_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Workflow.MaxAttempts = n
		}
	}

	// Telemetry overrides
	if val := os.Getenv("SPENDGATE_LOG_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("SPENDGATE_LOG_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("SPENDGATE_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Telemetry.Metrics.ListenAddress = val
	}
}
