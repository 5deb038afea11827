package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "spendgate",
	Short: "Spendgate - per-principal budget enforcement for LLM APIs",
	Long: `Spendgate enforces per-principal spending budgets for metered LLM API usage.

It maintains a durable budget ledger, computes request costs from tiered
pricing data, and drives enforcement through idempotent workflows:
  - Usage ingestion with model-aware cost calculation
  - Warning and critical threshold alerts with de-duplication
  - Grace periods before access suspension
  - Automatic budget refresh and access restoration`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
