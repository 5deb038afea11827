// Spendgate is a per-principal budget enforcement engine for metered
// LLM API usage.
//
// It tracks spend against per-principal budgets, alerts as thresholds
// are crossed, and drives suspension and restoration of access through
// durable, idempotent workflows:
//   - Usage ingestion with model-aware cost calculation
//   - Tiered pricing resolution (live, persisted, static fallback)
//   - Threshold alerts with grace periods before suspension
//   - Automatic budget refresh and access restoration
//
// Usage:
//
//	# Start the enforcement engine with default configuration
//	spendgate run
//
//	# Start with custom configuration file
//	spendgate run --config /path/to/config.yaml
//
//	# Show version information
//	spendgate version
//
//	# Validate a configuration file
//	spendgate validate --config /path/to/config.yaml
//
//	# Inspect budget records
//	spendgate budgets --format json
package main

func main() {
	Execute()
}
