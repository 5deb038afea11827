package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"spendgate-hq/spendgate/pkg/cli"
	"spendgate-hq/spendgate/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the engine.

All validation failures are collected and reported together so a broken
file can be fixed in one pass.

Examples:
  # Validate the default config
  spendgate validate

  # Validate a specific file
  spendgate validate --config /etc/spendgate/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	if err := config.Validate(cfg); err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			fmt.Printf("✗ %s invalid:\n", cfgFile)
			for _, fe := range verr.Errors {
				fmt.Printf("  - %s: %s\n", fe.Field, fe.Message)
			}
			return cli.NewConfigError("", fmt.Sprintf("%d validation errors", len(verr.Errors)))
		}
		return err
	}

	fmt.Printf("✓ %s valid\n", cfgFile)
	fmt.Printf("  ledger backend:  %s\n", cfg.Ledger.Backend)
	fmt.Printf("  default budget:  $%.2f\n", cfg.Budgets.DefaultBudgetUSD)
	fmt.Printf("  thresholds:      warn %.0f%%, critical %.0f%%\n",
		cfg.Budgets.WarnPct*100, cfg.Budgets.CriticalPct*100)
	fmt.Printf("  grace period:    %s\n", cfg.Budgets.GracePeriod)
	fmt.Printf("  refresh period:  %d days\n", cfg.Budgets.RefreshPeriodDays)
	return nil
}
