package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"spendgate-hq/spendgate/pkg/cli"
	"spendgate-hq/spendgate/pkg/config"
	"spendgate-hq/spendgate/pkg/workflow"
)

var deadLettersFlags struct {
	format string
}

var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List failed workflow executions",
	Long: `List workflow executions that exhausted their retries.

Each entry records the principal, the step that failed, the error, and
the original trigger payload, preserved for manual intervention.

Examples:
  # List dead letters
  spendgate deadletters

  # Export as JSON
  spendgate deadletters --format json`,
	RunE: listDeadLetters,
}

func init() {
	rootCmd.AddCommand(deadLettersCmd)

	deadLettersCmd.Flags().StringVar(&deadLettersFlags.format, "format", "text", "output format: text, json")
}

func listDeadLetters(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	store, err := workflow.NewSQLiteStore(&workflow.SQLiteStoreConfig{
		Path: cfg.Workflow.SQLitePath,
	})
	if err != nil {
		return cli.NewCommandError("deadletters", err)
	}
	defer store.Close()

	letters, err := store.DeadLetters(context.Background())
	if err != nil {
		return cli.NewCommandError("deadletters", err)
	}

	if len(letters) == 0 {
		fmt.Println("No dead letters found.")
		return nil
	}

	if cli.OutputFormat(deadLettersFlags.format) == cli.FormatJSON {
		formatter := cli.NewFormatter(cli.FormatJSON)
		return formatter.FormatTo(os.Stdout, letters)
	}

	for _, letter := range letters {
		fmt.Printf("%s  %-12s %-24s step=%s attempts=%d\n  %s\n",
			letter.FailedAt.Format("2006-01-02 15:04:05"),
			letter.Type, letter.PrincipalID, letter.Step, letter.Attempts, letter.Error)
	}
	return nil
}
