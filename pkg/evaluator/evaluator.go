package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spendgate-hq/spendgate/pkg/audit"
	"spendgate-hq/spendgate/pkg/bus"
	"spendgate-hq/spendgate/pkg/ledger"
	"spendgate-hq/spendgate/pkg/notify"
)

// Config contains the evaluation thresholds and scan parallelism.
type Config struct {
	// WarnPct is the warning threshold as a fraction of the budget
	// limit (e.g., 0.70).
	WarnPct float64

	// CriticalPct is the critical threshold as a fraction of the
	// budget limit (e.g., 0.90). Must be greater than WarnPct.
	CriticalPct float64

	// GracePeriod is how long an exceeded principal keeps access
	// before suspension is requested.
	GracePeriod time.Duration

	// RefreshPeriod is the length of a budget period, used when
	// rolling active budgets over.
	RefreshPeriod time.Duration

	// Workers is the number of principals evaluated concurrently
	// during a scan. Default: 8.
	Workers int
}

func (c *Config) applyDefaults() {
	if c.WarnPct <= 0 {
		c.WarnPct = 0.70
	}
	if c.CriticalPct <= 0 {
		c.CriticalPct = 0.90
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Minute
	}
	if c.RefreshPeriod <= 0 {
		c.RefreshPeriod = 30 * 24 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
}

// Evaluator periodically classifies every principal's spend against its
// budget and drives the enforcement state machine: threshold alerts,
// grace period entry, and suspension requests.
//
// Evaluation is read-then-conditionally-write. Every state change goes
// through a conditional ledger write, so overlapping scans and racing
// ingest cannot double-alert or move a deadline; the loser of a race
// observes ErrConflict and treats the work as already done.
type Evaluator struct {
	store    ledger.Store
	queue    bus.Queue
	notifier notify.Notifier
	config   Config
	metrics  *Metrics
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an evaluator.
func New(store ledger.Store, queue bus.Queue, notifier notify.Notifier, config Config, metrics *Metrics) *Evaluator {
	config.applyDefaults()
	return &Evaluator{
		store:    store,
		queue:    queue,
		notifier: notifier,
		config:   config,
		metrics:  metrics,
		logger:   slog.Default().With("component", "evaluator"),
		now:      time.Now,
	}
}

// EvaluateAll scans every budget record once, fanning principals out
// across the configured worker count. Per-principal failures are logged
// and do not abort the scan.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	start := e.now()

	records, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list budget records: %w", err)
	}

	exceeded := 0
	var exceededMu sync.Mutex

	work := make(chan *ledger.BudgetRecord)
	var wg sync.WaitGroup
	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range work {
				if err := e.Evaluate(ctx, record); err != nil {
					e.logger.Error("Evaluation failed",
						"principal_id", record.PrincipalID,
						"error", err,
					)
				}
				if record.Exceeded() {
					exceededMu.Lock()
					exceeded++
					exceededMu.Unlock()
				}
			}
		}()
	}

	for _, record := range records {
		select {
		case work <- record:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(work)
	wg.Wait()

	e.metrics.RecordScan(len(records), exceeded, e.now().Sub(start))
	e.logger.Debug("Evaluation scan completed",
		"principals", len(records),
		"exceeded", exceeded,
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)
	return nil
}

// Evaluate classifies a single principal and applies any due state
// changes. The record argument is a snapshot; every write re-checks
// state conditionally.
func (e *Evaluator) Evaluate(ctx context.Context, record *ledger.BudgetRecord) error {
	if record.Status == ledger.StatusSuspended {
		return nil
	}

	ratio := record.Ratio()

	if err := e.applyThresholds(ctx, record, ratio); err != nil {
		return err
	}

	if !record.Exceeded() {
		return nil
	}

	switch record.Status {
	case ledger.StatusActive:
		return e.startGrace(ctx, record)
	case ledger.StatusGracePeriod:
		return e.requestSuspensionIfDue(ctx, record)
	}
	return nil
}

// applyThresholds sends at most one alert per threshold crossing.
// The threshold state in the ledger is the deduplication record: the
// conditional write claims the right to alert, and a conflict means a
// concurrent scan already claimed it.
func (e *Evaluator) applyThresholds(ctx context.Context, record *ledger.BudgetRecord, ratio float64) error {
	var next ledger.ThresholdState
	switch {
	case ratio >= e.config.CriticalPct:
		next = ledger.ThresholdCritical
	case ratio >= e.config.WarnPct:
		next = ledger.ThresholdWarning
	default:
		return e.clearThreshold(ctx, record)
	}

	// Within the alerting band the state only escalates; dropping
	// back under the warning line clears it.
	if record.ThresholdState == next || record.ThresholdState == ledger.ThresholdCritical {
		return nil
	}

	err := e.store.SetThresholdState(ctx, record.PrincipalID, record.ThresholdState, next)
	if err == ledger.ErrConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to set threshold state: %w", err)
	}

	level := notify.LevelWarning
	if next == ledger.ThresholdCritical {
		level = notify.LevelCritical
	}
	e.metrics.RecordAlert(string(level))

	message := fmt.Sprintf("spend $%.4f of $%.2f budget (%.0f%%)",
		record.SpentUSD, record.BudgetLimitUSD, ratio*100)
	if err := e.notifier.Notify(ctx, record.PrincipalID, level, message); err != nil {
		e.logger.Error("Failed to deliver threshold alert",
			"principal_id", record.PrincipalID,
			"level", level,
			"error", err,
		)
	}
	return nil
}

// clearThreshold resets the threshold state for a record back under
// the warning line, typically after its limit was raised mid-period,
// so a later crossing alerts again. No notification is sent.
func (e *Evaluator) clearThreshold(ctx context.Context, record *ledger.BudgetRecord) error {
	if record.ThresholdState == ledger.ThresholdNormal {
		return nil
	}
	err := e.store.SetThresholdState(ctx, record.PrincipalID, record.ThresholdState, ledger.ThresholdNormal)
	if err == ledger.ErrConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to clear threshold state: %w", err)
	}
	return nil
}

// startGrace moves an exceeded active principal into the grace period.
func (e *Evaluator) startGrace(ctx context.Context, record *ledger.BudgetRecord) error {
	deadline := e.now().Add(e.config.GracePeriod)

	err := e.store.SetGrace(ctx, record.PrincipalID, deadline)
	if err == ledger.ErrConflict {
		// Already in grace or suspended; the original deadline stands.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start grace period: %w", err)
	}

	e.metrics.RecordGraceStart()
	e.logger.Info("Budget exceeded, grace period started",
		"principal_id", record.PrincipalID,
		"spent_usd", record.SpentUSD,
		"limit_usd", record.BudgetLimitUSD,
		"deadline", deadline,
	)

	e.appendAudit(ctx, record.PrincipalID, "grace_period_started", map[string]any{
		"spent_usd":      record.SpentUSD,
		"limit_usd":      record.BudgetLimitUSD,
		"grace_deadline": deadline,
	})

	message := fmt.Sprintf("budget exhausted ($%.4f of $%.2f); access will be suspended at %s",
		record.SpentUSD, record.BudgetLimitUSD, deadline.Format(time.RFC3339))
	if err := e.notifier.Notify(ctx, record.PrincipalID, notify.LevelGrace, message); err != nil {
		e.logger.Error("Failed to deliver grace notification",
			"principal_id", record.PrincipalID,
			"error", err,
		)
	}
	return nil
}

// requestSuspensionIfDue enqueues a suspension request once the grace
// deadline has passed. The message is durable; the workflow consumer
// performs the actual suspension. Enqueueing is idempotent downstream
// because the workflow is keyed by principal and deadline.
func (e *Evaluator) requestSuspensionIfDue(ctx context.Context, record *ledger.BudgetRecord) error {
	if record.GraceDeadline == nil || e.now().Before(*record.GraceDeadline) {
		return nil
	}

	env, err := bus.NewSuspensionRequired(bus.SuspensionRequired{
		PrincipalID: record.PrincipalID,
		Reason: fmt.Sprintf("budget exceeded: spent $%.4f of $%.2f",
			record.SpentUSD, record.BudgetLimitUSD),
		Deadline: *record.GraceDeadline,
	})
	if err != nil {
		return err
	}
	if err := e.queue.Enqueue(ctx, env); err != nil {
		return fmt.Errorf("failed to enqueue suspension request: %w", err)
	}

	e.metrics.RecordSuspensionRequest()
	e.logger.Info("Grace deadline passed, suspension requested",
		"principal_id", record.PrincipalID,
		"deadline", *record.GraceDeadline,
	)
	return nil
}

func (e *Evaluator) appendAudit(ctx context.Context, principalID, eventType string, details map[string]any) {
	event := audit.NewEvent("evaluator", eventType, principalID, details)
	if err := e.store.AppendAudit(ctx, event); err != nil {
		e.logger.Error("Failed to append audit event",
			"principal_id", principalID,
			"event_type", eventType,
			"error", err,
		)
	}
}
