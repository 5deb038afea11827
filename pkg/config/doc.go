// Package config provides configuration management for Spendgate.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides. It provides a type-safe
// configuration system with collected validation errors and sensible
// defaults for every field.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention SPENDGATE_SECTION_FIELD.
// For example:
//
//   - SPENDGATE_DEFAULT_BUDGET_USD overrides budgets.default_budget_usd
//   - SPENDGATE_LEDGER_SQLITE_PATH overrides ledger.sqlite_path
//   - SPENDGATE_LOG_LEVEL overrides telemetry.logging.level
//
// Environment variables always take precedence over file-based configuration.
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and swaps in a new
// immutable snapshot when the file changes. A snapshot that fails validation
// is discarded and the previous one stays in effect:
//
//	w, err := config.NewWatcher("config.yaml", logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go w.Watch(ctx, func(cfg *config.Config) {
//	    // apply new thresholds, intervals, etc.
//	})
//
// # Validation
//
// All configuration is validated automatically during loading. Every failed
// rule is collected into a ValidationError rather than failing on the first
// problem, so a broken file can be fixed in one pass.
package config
