package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"spendgate-hq/spendgate/pkg/cli"
	"spendgate-hq/spendgate/pkg/config"
	"spendgate-hq/spendgate/pkg/costs"
	"spendgate-hq/spendgate/pkg/ledger"
	"spendgate-hq/spendgate/pkg/pricing"
	"spendgate-hq/spendgate/pkg/telemetry/logging"
)

var ingestFlags struct {
	file string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Apply usage records to the budget ledger",
	Long: `Read usage records and apply them to the budget ledger.

Records are read as JSON Lines, one usage record per line, from a file
or standard input. Each record is validated, priced through the rate
cache, and applied to the principal's budget. Records that share a
request_id with an already-applied record are ignored, so re-running
the same file is safe.

Record format:
  {"request_id":"req-1","principal_id":"svc-api","model_id":"claude-3-sonnet",
   "input_tokens":1200,"output_tokens":450}

Examples:
  # Ingest from a file
  spendgate ingest --file usage.jsonl

  # Ingest from stdin
  cat usage.jsonl | spendgate ingest`,
	RunE: ingestUsage,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&ingestFlags.file, "file", "f", "", "usage records file (JSON Lines); stdin if omitted")
}

// rawUsageLine is the wire form of one usage record.
type rawUsageLine struct {
	RequestID        string    `json:"request_id"`
	PrincipalID      string    `json:"principal_id"`
	Timestamp        time.Time `json:"timestamp"`
	ModelID          string    `json:"model_id"`
	Region           string    `json:"region"`
	InputTokens      int64     `json:"input_tokens"`
	OutputTokens     int64     `json:"output_tokens"`
	CacheWriteTokens int64     `json:"cache_write_tokens"`
	CacheReadTokens  int64     `json:"cache_read_tokens"`
}

func ingestUsage(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := logging.Setup(logging.Config{
		Level:  cfg.Telemetry.Logging.Level,
		Format: cfg.Telemetry.Logging.Format,
	}); err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	var input io.Reader = os.Stdin
	if ingestFlags.file != "" {
		f, err := os.Open(ingestFlags.file)
		if err != nil {
			return cli.NewCommandError("ingest", err)
		}
		defer f.Close()
		input = f
	}

	store, err := openLedger(cfg)
	if err != nil {
		return cli.NewCommandError("ingest", err)
	}
	defer store.Close()

	rates, pricingStore, err := openPricing(cfg, pricing.NewMetrics())
	if err != nil {
		return cli.NewCommandError("ingest", err)
	}
	defer pricingStore.Close()

	ingestor := costs.NewIngestor(rates, store, defaultsFromConfig(cfg), costs.NewMetrics())

	ctx := cli.SetupSignalHandler()
	var applied, duplicates, rejected int
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw rawUsageLine
		if err := json.Unmarshal(line, &raw); err != nil {
			return cli.NewCommandError("ingest", fmt.Errorf("line %d: %w", lineNo, err))
		}

		_, duplicate, err := ingestor.Ingest(ctx, costs.RawUsage{
			RequestID:        raw.RequestID,
			PrincipalID:      raw.PrincipalID,
			Timestamp:        raw.Timestamp,
			ModelID:          raw.ModelID,
			Region:           raw.Region,
			InputTokens:      raw.InputTokens,
			OutputTokens:     raw.OutputTokens,
			CacheWriteTokens: raw.CacheWriteTokens,
			CacheReadTokens:  raw.CacheReadTokens,
		})
		var verr costs.ValidationError
		switch {
		case errors.As(err, &verr):
			rejected++
		case errors.Is(err, context.Canceled):
			return cli.NewCommandError("ingest", err)
		case err != nil:
			return cli.NewCommandError("ingest", fmt.Errorf("line %d: %w", lineNo, err))
		case duplicate:
			duplicates++
		default:
			applied++
		}
	}
	if err := scanner.Err(); err != nil {
		return cli.NewCommandError("ingest", err)
	}

	fmt.Printf("✓ Applied %d records (%d duplicates, %d rejected)\n", applied, duplicates, rejected)
	return nil
}

// defaultsFromConfig builds the auto-provisioning defaults for
// principals first seen through usage.
func defaultsFromConfig(cfg *config.Config) ledger.ProvisionDefaults {
	return ledger.ProvisionDefaults{
		BudgetLimitUSD: cfg.Budgets.DefaultBudgetUSD,
		RefreshPeriod:  time.Duration(cfg.Budgets.RefreshPeriodDays) * 24 * time.Hour,
	}
}
