package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"spendgate-hq/spendgate/pkg/access"
	"spendgate-hq/spendgate/pkg/bus"
	"spendgate-hq/spendgate/pkg/cli"
	"spendgate-hq/spendgate/pkg/config"
	"spendgate-hq/spendgate/pkg/evaluator"
	"spendgate-hq/spendgate/pkg/ledger"
	"spendgate-hq/spendgate/pkg/notify"
	"spendgate-hq/spendgate/pkg/pricing"
	"spendgate-hq/spendgate/pkg/telemetry/logging"
	"spendgate-hq/spendgate/pkg/telemetry/metrics"
	"spendgate-hq/spendgate/pkg/workflow"
)

var runFlags struct {
	logLevel string
	dryRun   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the budget enforcement engine",
	Long: `Start the budget enforcement engine with the specified configuration.

The engine periodically scans the budget ledger, sends threshold alerts,
starts grace periods for exhausted budgets, and consumes the durable
trigger queue to drive suspension and restoration workflows.

Examples:
  # Start with default config
  spendgate run

  # Start with custom config
  spendgate run --config /etc/spendgate/config.yaml

  # Validate config without starting the engine
  spendgate run --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the engine")
}

func runEngine(cmd *cobra.Command, args []string) error {
	// Load configuration, with a watcher for hot reload
	watcher, err := config.NewWatcher(cfgFile, nil)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	defer watcher.Stop()

	// Flag overrides apply to a copy; the watcher snapshot stays pristine.
	cfgVal := *watcher.Current()
	cfg := &cfgVal

	// Apply flag overrides
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
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

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Spendgate v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	refreshPeriod := time.Duration(cfg.Budgets.RefreshPeriodDays) * 24 * time.Hour

	// Budget ledger
	store, err := openLedger(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer store.Close()
	fmt.Printf("✓ Ledger initialized (%s)\n", cfg.Ledger.Backend)

	// Durable trigger queue
	queue, err := bus.NewSQLiteQueue(&bus.SQLiteQueueConfig{
		Path:              cfg.Bus.SQLitePath,
		VisibilityTimeout: cfg.Bus.VisibilityTimeout,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer queue.Close()

	// Pricing cache and its scheduled refresh. No upstream feed is
	// registered yet, so the refresh serves persisted and fallback
	// rates until a Source is wired in.
	pricingMetrics := pricing.NewMetrics()
	rates, pricingStore, err := openPricing(cfg, pricingMetrics)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer pricingStore.Close()

	refresher := pricing.NewRefresher(rates, pricing.RefresherConfig{
		Schedule: cfg.Pricing.RefreshSchedule,
	}, pricingMetrics)

	notifier := notify.NewLogNotifier(slog.Default())
	ctrl := access.NewMemoryController()

	// Threshold evaluator and its schedules
	eval := evaluator.New(store, queue, notifier, evaluator.Config{
		WarnPct:       cfg.Budgets.WarnPct,
		CriticalPct:   cfg.Budgets.CriticalPct,
		GracePeriod:   cfg.Budgets.GracePeriod,
		RefreshPeriod: refreshPeriod,
		Workers:       cfg.Budgets.EvaluationWorkers,
	}, evaluator.NewMetrics())

	scheduler := evaluator.NewScheduler(eval, evaluator.SchedulerConfig{
		EvaluationInterval:   cfg.Budgets.EvaluationInterval,
		RefreshCheckSchedule: cfg.Budgets.RefreshCheckSchedule,
	})

	// Suspension and restoration workflows
	wfStore, err := workflow.NewSQLiteStore(&workflow.SQLiteStoreConfig{
		Path: cfg.Workflow.SQLitePath,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer wfStore.Close()

	executor := workflow.NewExecutor(wfStore, ledger.AuditSink(store), notifier, workflow.ExecutorConfig{
		StepTimeout:    cfg.Workflow.StepTimeout,
		MaxAttempts:    uint(cfg.Workflow.MaxAttempts),
		InitialBackoff: cfg.Workflow.InitialBackoff,
		MaxBackoff:     cfg.Workflow.MaxBackoff,
	}, workflow.NewMetrics())

	machines := workflow.NewMachines(executor, store, ctrl, notifier, refreshPeriod)

	consumer := bus.NewConsumer(queue, bus.ConsumerConfig{
		PollInterval: cfg.Bus.PollInterval,
	})
	machines.RegisterHandlers(consumer)
	fmt.Println("✓ Workflows registered")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot reload: logging settings take effect live; storage paths and
	// schedules require a restart.
	go func() {
		_ = watcher.Watch(ctx, func(next *config.Config) {
			if _, err := logging.Setup(logging.Config{
				Level:  next.Telemetry.Logging.Level,
				Format: next.Telemetry.Logging.Format,
			}); err != nil {
				slog.Error("config reload: invalid logging settings", "error", err)
			}
		})
	}()

	// Metrics endpoint
	var metricsServer *metrics.Server
	if cfg.Telemetry.Metrics.Enabled {
		ns := cfg.Telemetry.Metrics.Namespace
		metrics.RegisterQueueDepth(ns, func() float64 {
			depth, err := queue.Depth(ctx)
			if err != nil {
				return -1
			}
			return float64(depth)
		})
		metrics.RegisterDeadLetterDepth(ns, func() float64 {
			depth, err := wfStore.DeadLetterDepth(ctx)
			if err != nil {
				return -1
			}
			return float64(depth)
		})

		metricsServer = metrics.NewServer(metrics.Config{
			ListenAddress: cfg.Telemetry.Metrics.ListenAddress,
		})
		metricsServer.Start()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Telemetry.Metrics.ListenAddress)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to start scheduler: %w", err))
	}
	defer scheduler.Stop()

	if err := refresher.Start(ctx); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to start pricing refresher: %w", err))
	}
	defer refresher.Stop()

	fmt.Println()
	fmt.Printf("✓ Evaluation every %s, refresh scan at %q, pricing refresh at %q\n",
		cfg.Budgets.EvaluationInterval, cfg.Budgets.RefreshCheckSchedule, cfg.Pricing.RefreshSchedule)
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for shutdown signal or a fatal component error
	sigChan := cli.WaitForShutdown()

	select {
	case err := <-errChan:
		return cli.NewCommandError("run", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal %s, shutting down gracefully...\n", sig)
		cancel()

		if metricsServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics shutdown failed", "error", err)
			}
		}

		fmt.Println("✓ Engine stopped")
		return nil
	}
}

// openPricing builds the pricing store and cache. The rate source is
// nil until an upstream feed is registered; resolution then serves the
// persisted tier and the static fallback table.
func openPricing(cfg *config.Config, metrics *pricing.Metrics) (*pricing.Cache, *pricing.SQLiteStore, error) {
	store, err := pricing.NewSQLiteStore(&pricing.SQLiteStoreConfig{
		Path: cfg.Pricing.SQLitePath,
	})
	if err != nil {
		return nil, nil, err
	}
	cache := pricing.NewCache(nil, store, pricing.CacheConfig{
		TTL:          cfg.Pricing.CacheTTL,
		MaxAge:       cfg.Pricing.MaxAge,
		FetchTimeout: cfg.Pricing.FetchTimeout,
	}, metrics)
	return cache, store, nil
}

// openLedger builds the configured ledger backend.
func openLedger(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Ledger.Backend {
	case "sqlite":
		return ledger.NewSQLiteStoreWithConfig(ledger.SQLiteConfig{
			DBPath:             cfg.Ledger.SQLitePath,
			CheckpointInterval: cfg.Ledger.CheckpointInterval,
			BusyTimeout:        cfg.Ledger.BusyTimeout,
		})
	case "memory":
		return ledger.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Ledger.Backend)
	}
}
