package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spendgate-hq/spendgate/pkg/access"
	"spendgate-hq/spendgate/pkg/audit"
	"spendgate-hq/spendgate/pkg/bus"
	"spendgate-hq/spendgate/pkg/ledger"
	"spendgate-hq/spendgate/pkg/notify"
)

// Machines binds the suspension and restoration workflow definitions to
// their dependencies and exposes trigger handlers for the bus consumer.
type Machines struct {
	executor *Executor
	store    ledger.Store
	access   access.Controller
	notifier notify.Notifier
	logger   *slog.Logger

	// refreshPeriod is the length of the budget period granted on
	// restoration.
	refreshPeriod time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewMachines creates the workflow machines.
func NewMachines(executor *Executor, store ledger.Store, ctrl access.Controller, notifier notify.Notifier, refreshPeriod time.Duration) *Machines {
	if refreshPeriod <= 0 {
		refreshPeriod = 30 * 24 * time.Hour
	}
	return &Machines{
		executor:      executor,
		store:         store,
		access:        ctrl,
		notifier:      notifier,
		logger:        slog.Default().With("component", "workflow.machines"),
		refreshPeriod: refreshPeriod,
		now:           time.Now,
	}
}

// HandleSuspension runs the suspension workflow for one trigger.
// The idempotency key is principal plus grace deadline, so replayed or
// repeated triggers for the same grace period attach to one execution.
func (m *Machines) HandleSuspension(ctx context.Context, msg bus.SuspensionRequired) error {
	key := fmt.Sprintf("suspension:%s:%d", msg.PrincipalID, msg.Deadline.UnixMilli())
	return m.executor.Run(ctx, m.suspensionDefinition(), key, msg.PrincipalID, msg)
}

// suspensionDefinition is the linear suspension machine. Every step is
// idempotent; a crashed execution re-runs its current step on resume.
func (m *Machines) suspensionDefinition() Definition {
	return Definition{
		Type: TypeSuspension,
		Steps: []StepDef{
			{Name: StepNotifyGrace, Run: m.notifyGrace},
			{Name: StepWaitGrace, Run: m.waitGrace},
			{Name: StepNotifyFinal, Run: m.notifyFinal},
			{Name: StepApplySuspension, Run: m.applySuspension},
			{Name: StepUpdateStatus, Run: m.updateStatus},
			{Name: StepAuditSuspension, Run: m.auditSuspension},
		},
	}
}

// notifyGrace confirms the principal is still in its grace period and
// sends the grace notification. A principal that left the grace period
// since the trigger was produced (restored, or already suspended) makes
// the workflow moot.
func (m *Machines) notifyGrace(ctx context.Context, exec *Execution) error {
	record, err := m.store.Get(ctx, exec.PrincipalID)
	if err == ledger.ErrNotFound {
		return fmt.Errorf("%w: no budget record for %s", ErrSkip, exec.PrincipalID)
	}
	if err != nil {
		return err
	}
	if record.Status != ledger.StatusGracePeriod {
		return fmt.Errorf("%w: principal %s is %s, not in grace period", ErrSkip, exec.PrincipalID, record.Status)
	}

	message := fmt.Sprintf("budget exhausted ($%.4f of $%.2f); suspension pending",
		record.SpentUSD, record.BudgetLimitUSD)
	if err := m.notifier.Notify(ctx, exec.PrincipalID, notify.LevelGrace, message); err != nil {
		return fmt.Errorf("failed to send grace notification: %w", err)
	}
	return nil
}

// waitGrace delays until the grace deadline. The deadline is read from
// the budget record, never recomputed, so a retried execution waits out
// the same deadline. Triggers normally arrive after the deadline and
// this step returns immediately.
func (m *Machines) waitGrace(ctx context.Context, exec *Execution) error {
	record, err := m.store.Get(ctx, exec.PrincipalID)
	if err != nil {
		return err
	}
	if record.GraceDeadline == nil {
		return nil
	}

	remaining := record.GraceDeadline.Sub(m.now())
	if remaining <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("grace deadline %s not reached: %w", record.GraceDeadline, ctx.Err())
	case <-time.After(remaining):
		return nil
	}
}

// notifyFinal sends the last warning before access is revoked.
func (m *Machines) notifyFinal(ctx context.Context, exec *Execution) error {
	message := "grace period expired; access is being suspended"
	if err := m.notifier.Notify(ctx, exec.PrincipalID, notify.LevelFinal, message); err != nil {
		return fmt.Errorf("failed to send final notification: %w", err)
	}
	return nil
}

// applySuspension revokes access through the access controller, which
// treats repeated suspends as no-ops.
func (m *Machines) applySuspension(ctx context.Context, exec *Execution) error {
	if err := m.access.Suspend(ctx, exec.PrincipalID); err != nil {
		return fmt.Errorf("failed to suspend access: %w", err)
	}
	return nil
}

// updateStatus commits the suspension to the ledger, conditional on the
// principal still being in its grace period. Losing that condition to a
// concurrent restoration ends the workflow without effect.
func (m *Machines) updateStatus(ctx context.Context, exec *Execution) error {
	err := m.store.Suspend(ctx, exec.PrincipalID)
	if err == nil {
		return nil
	}
	if err != ledger.ErrConflict {
		return err
	}

	record, getErr := m.store.Get(ctx, exec.PrincipalID)
	if getErr != nil {
		return getErr
	}
	if record.Status == ledger.StatusSuspended {
		// A previous attempt of this step already committed.
		return nil
	}
	// A restoration won the race; do not overwrite the newer state.
	return fmt.Errorf("%w: principal %s is %s, suspension superseded", ErrSkip, exec.PrincipalID, record.Status)
}

// auditSuspension records the completed suspension and notifies.
func (m *Machines) auditSuspension(ctx context.Context, exec *Execution) error {
	msg, err := bus.DecodeSuspensionRequired(bus.Envelope{Type: bus.TypeSuspensionRequired, Payload: exec.Input})
	if err != nil {
		return err
	}

	event := audit.NewEvent("workflow.suspension", "principal_suspended", exec.PrincipalID, map[string]any{
		"reason":         msg.Reason,
		"grace_deadline": msg.Deadline,
	})
	if err := m.store.AppendAudit(ctx, event); err != nil {
		return fmt.Errorf("failed to audit suspension: %w", err)
	}

	if err := m.notifier.Notify(ctx, exec.PrincipalID, notify.LevelSuspended, "access suspended until next budget refresh"); err != nil {
		m.logger.Error("Failed to deliver suspension notification",
			"principal_id", exec.PrincipalID,
			"error", err,
		)
	}
	return nil
}
