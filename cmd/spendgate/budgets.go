package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"spendgate-hq/spendgate/pkg/cli"
	"spendgate-hq/spendgate/pkg/config"
	"spendgate-hq/spendgate/pkg/ledger"
)

var budgetsFlags struct {
	format    string
	principal string
}

var budgetsCmd = &cobra.Command{
	Use:   "budgets",
	Short: "Inspect budget records",
	Long: `List budget records from the ledger.

Shows each principal's spend, limit, enforcement status, and refresh
date. Use --principal to show a single record.

Examples:
  # List all budgets
  spendgate budgets

  # Show one principal as JSON
  spendgate budgets --principal svc-api --format json

  # Export as CSV
  spendgate budgets --format csv > budgets.csv`,
	RunE: listBudgets,
}

func init() {
	rootCmd.AddCommand(budgetsCmd)

	budgetsCmd.Flags().StringVar(&budgetsFlags.format, "format", "text", "output format: text, json, csv")
	budgetsCmd.Flags().StringVar(&budgetsFlags.principal, "principal", "", "show a single principal")
}

// budgetRow is the output shape of one budget record.
type budgetRow struct {
	PrincipalID    string     `json:"principal_id"`
	SpentUSD       float64    `json:"spent_usd"`
	BudgetLimitUSD float64    `json:"budget_limit_usd"`
	Status         string     `json:"status"`
	ThresholdState string     `json:"threshold_state"`
	RefreshDate    time.Time  `json:"budget_refresh_date"`
	GraceDeadline  *time.Time `json:"grace_deadline,omitempty"`
	RefreshCount   int        `json:"refresh_count"`
}

func listBudgets(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	store, err := openLedger(cfg)
	if err != nil {
		return cli.NewCommandError("budgets", err)
	}
	defer store.Close()

	ctx := context.Background()
	var records []*ledger.BudgetRecord
	if budgetsFlags.principal != "" {
		record, err := store.Get(ctx, budgetsFlags.principal)
		if err != nil {
			return cli.NewCommandError("budgets", err)
		}
		records = []*ledger.BudgetRecord{record}
	} else {
		records, err = store.List(ctx)
		if err != nil {
			return cli.NewCommandError("budgets", err)
		}
	}

	if len(records) == 0 {
		fmt.Println("No budget records found.")
		return nil
	}

	rows := make([]budgetRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, budgetRow{
			PrincipalID:    r.PrincipalID,
			SpentUSD:       r.SpentUSD,
			BudgetLimitUSD: r.BudgetLimitUSD,
			Status:         string(r.Status),
			ThresholdState: string(r.ThresholdState),
			RefreshDate:    r.BudgetRefreshDate,
			GraceDeadline:  r.GraceDeadline,
			RefreshCount:   r.RefreshCount,
		})
	}

	switch cli.OutputFormat(budgetsFlags.format) {
	case cli.FormatJSON:
		formatter := cli.NewFormatter(cli.FormatJSON)
		return formatter.FormatTo(os.Stdout, rows)
	case cli.FormatCSV:
		formatter := &cli.CSVFormatter{Headers: []string{
			"principal_id", "spent_usd", "budget_limit_usd", "status",
			"threshold_state", "budget_refresh_date", "refresh_count",
		}}
		csvRows := make([][]string, 0, len(rows))
		for _, row := range rows {
			csvRows = append(csvRows, []string{
				row.PrincipalID,
				strconv.FormatFloat(row.SpentUSD, 'f', 6, 64),
				strconv.FormatFloat(row.BudgetLimitUSD, 'f', 2, 64),
				row.Status,
				row.ThresholdState,
				row.RefreshDate.Format(time.RFC3339),
				strconv.Itoa(row.RefreshCount),
			})
		}
		return formatter.FormatTo(os.Stdout, csvRows)
	default:
		for _, row := range rows {
			fmt.Printf("%-24s $%.4f / $%.2f  %-12s refresh %s\n",
				row.PrincipalID, row.SpentUSD, row.BudgetLimitUSD,
				row.Status, row.RefreshDate.Format("2006-01-02"))
		}
		return nil
	}
}
