package evaluator

import (
	"context"
	"fmt"

	"spendgate-hq/spendgate/pkg/bus"
	"spendgate-hq/spendgate/pkg/ledger"
)

// RefreshScan walks every budget record once and handles refresh dates
// that have arrived:
//
//   - a suspended principal past its refresh date gets a durable
//     restoration request; the restoration workflow resets the budget
//     and reinstates access.
//   - an active principal past its refresh date has its period rolled
//     over in place: spend back to zero, dates advanced.
//
// Principals in their grace period are left alone; the suspension in
// flight must land first, and the following restoration pass picks the
// principal up.
func (e *Evaluator) RefreshScan(ctx context.Context) error {
	records, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list budget records: %w", err)
	}

	now := e.now()
	requested, rolled := 0, 0

	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if now.Before(record.BudgetRefreshDate) {
			continue
		}

		switch record.Status {
		case ledger.StatusSuspended:
			if err := e.requestRestoration(ctx, record); err != nil {
				e.logger.Error("Failed to request restoration",
					"principal_id", record.PrincipalID,
					"error", err,
				)
				continue
			}
			requested++

		case ledger.StatusActive:
			if err := e.rolloverActive(ctx, record); err != nil {
				e.logger.Error("Failed to roll budget period over",
					"principal_id", record.PrincipalID,
					"error", err,
				)
				continue
			}
			rolled++
		}
	}

	e.metrics.RecordPeriodsRolled(rolled)
	e.logger.Info("Refresh scan completed",
		"principals", len(records),
		"restorations_requested", requested,
		"periods_rolled", rolled,
	)
	return nil
}

// requestRestoration enqueues a durable restoration request for a
// suspended principal whose refresh date has arrived.
func (e *Evaluator) requestRestoration(ctx context.Context, record *ledger.BudgetRecord) error {
	env, err := bus.NewRestorationRequired(bus.RestorationRequired{
		PrincipalID: record.PrincipalID,
		RefreshDate: record.BudgetRefreshDate,
	})
	if err != nil {
		return err
	}
	if err := e.queue.Enqueue(ctx, env); err != nil {
		return fmt.Errorf("failed to enqueue restoration request: %w", err)
	}

	e.metrics.RecordRestorationRequest()
	e.logger.Info("Refresh date arrived, restoration requested",
		"principal_id", record.PrincipalID,
		"refresh_date", record.BudgetRefreshDate,
	)
	return nil
}

// rolloverActive rolls an active principal's budget period over in
// place. The write is conditional on the principal still being active;
// a conflict means enforcement moved the principal first and the next
// scan will handle it.
func (e *Evaluator) rolloverActive(ctx context.Context, record *ledger.BudgetRecord) error {
	now := e.now()
	err := e.store.RefreshActive(ctx, record.PrincipalID, now, now.Add(e.config.RefreshPeriod))
	if err == ledger.ErrConflict {
		return nil
	}
	if err != nil {
		return err
	}

	e.appendAudit(ctx, record.PrincipalID, "budget_refreshed", map[string]any{
		"previous_spent_usd": record.SpentUSD,
		"period_start":       now,
		"next_refresh":       now.Add(e.config.RefreshPeriod),
	})
	return nil
}
