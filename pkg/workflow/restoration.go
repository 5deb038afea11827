package workflow

import (
	"context"
	"fmt"

	"spendgate-hq/spendgate/pkg/audit"
	"spendgate-hq/spendgate/pkg/bus"
	"spendgate-hq/spendgate/pkg/ledger"
	"spendgate-hq/spendgate/pkg/notify"
)

// HandleRestoration runs the restoration workflow for one trigger.
// The idempotency key is principal plus refresh date, so replayed or
// repeated triggers for the same refresh attach to one execution.
func (m *Machines) HandleRestoration(ctx context.Context, msg bus.RestorationRequired) error {
	key := fmt.Sprintf("restoration:%s:%d", msg.PrincipalID, msg.RefreshDate.UnixMilli())
	return m.executor.Run(ctx, m.restorationDefinition(), key, msg.PrincipalID, msg)
}

// restorationDefinition is the restoration machine. Ineligible
// principals exit through Skip at the first step.
func (m *Machines) restorationDefinition() Definition {
	return Definition{
		Type: TypeRestoration,
		Steps: []StepDef{
			{Name: StepValidateEligibility, Run: m.validateEligibility},
			{Name: StepRestoreAccess, Run: m.restoreAccess},
			{Name: StepVerifyRestoration, Run: m.verifyRestoration},
			{Name: StepResetBudget, Run: m.resetBudget},
			{Name: StepAuditRestoration, Run: m.auditRestoration},
		},
	}
}

// validateEligibility confirms the principal is suspended and its
// refresh date has arrived. Anything else skips the workflow.
func (m *Machines) validateEligibility(ctx context.Context, exec *Execution) error {
	record, err := m.store.Get(ctx, exec.PrincipalID)
	if err == ledger.ErrNotFound {
		return fmt.Errorf("%w: no budget record for %s", ErrSkip, exec.PrincipalID)
	}
	if err != nil {
		return err
	}

	if record.Status != ledger.StatusSuspended {
		return fmt.Errorf("%w: principal %s is %s, not suspended", ErrSkip, exec.PrincipalID, record.Status)
	}
	if m.now().Before(record.BudgetRefreshDate) {
		return fmt.Errorf("%w: refresh date %s not reached", ErrSkip, record.BudgetRefreshDate)
	}
	return nil
}

// restoreAccess reinstates access through the access controller, which
// treats repeated restores as no-ops.
func (m *Machines) restoreAccess(ctx context.Context, exec *Execution) error {
	if err := m.access.Restore(ctx, exec.PrincipalID); err != nil {
		return fmt.Errorf("failed to restore access: %w", err)
	}
	return nil
}

// verifyRestoration re-reads access state before the ledger is touched.
// A restore that silently failed must not leave the ledger claiming the
// principal is active.
func (m *Machines) verifyRestoration(ctx context.Context, exec *Execution) error {
	suspended, err := m.access.IsSuspended(ctx, exec.PrincipalID)
	if err != nil {
		return fmt.Errorf("failed to verify access state: %w", err)
	}
	if suspended {
		return fmt.Errorf("access for %s still suspended after restore", exec.PrincipalID)
	}
	return nil
}

// resetBudget resets spend and opens the next budget period in one
// conditional write keyed on the suspended status, so concurrent
// triggers reset at most once.
func (m *Machines) resetBudget(ctx context.Context, exec *Execution) error {
	now := m.now()
	err := m.store.ResetBudget(ctx, exec.PrincipalID, now, now.Add(m.refreshPeriod))
	if err == ledger.ErrConflict {
		// A previous attempt or concurrent execution already reset it.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to reset budget: %w", err)
	}
	return nil
}

// auditRestoration records the completed restoration and notifies.
func (m *Machines) auditRestoration(ctx context.Context, exec *Execution) error {
	msg, err := bus.DecodeRestorationRequired(bus.Envelope{Type: bus.TypeRestorationRequired, Payload: exec.Input})
	if err != nil {
		return err
	}

	event := audit.NewEvent("workflow.restoration", "principal_restored", exec.PrincipalID, map[string]any{
		"refresh_date": msg.RefreshDate,
	})
	if err := m.store.AppendAudit(ctx, event); err != nil {
		return fmt.Errorf("failed to audit restoration: %w", err)
	}

	if err := m.notifier.Notify(ctx, exec.PrincipalID, notify.LevelRestored, "access restored with a fresh budget period"); err != nil {
		m.logger.Error("Failed to deliver restoration notification",
			"principal_id", exec.PrincipalID,
			"error", err,
		)
	}
	return nil
}

// RegisterHandlers wires both workflows into a bus consumer.
func (m *Machines) RegisterHandlers(consumer *bus.Consumer) {
	consumer.Handle(bus.TypeSuspensionRequired, func(ctx context.Context, env bus.Envelope) error {
		msg, err := bus.DecodeSuspensionRequired(env)
		if err != nil {
			return err
		}
		return m.HandleSuspension(ctx, msg)
	})
	consumer.Handle(bus.TypeRestorationRequired, func(ctx context.Context, env bus.Envelope) error {
		msg, err := bus.DecodeRestorationRequired(env)
		if err != nil {
			return err
		}
		return m.HandleRestoration(ctx, msg)
	})
}
