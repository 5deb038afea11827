package workflow

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"spendgate-hq/spendgate/pkg/access"
	"spendgate-hq/spendgate/pkg/bus"
	"spendgate-hq/spendgate/pkg/ledger"
	"spendgate-hq/spendgate/pkg/notify"
)

func fastExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		StepTimeout:    time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

type machineFixture struct {
	ledger   *ledger.MemoryStore
	execs    *MemoryStore
	ctrl     *access.MemoryController
	recorder *notify.Recorder
	machines *Machines
	clock    time.Time
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()
	f := &machineFixture{
		ledger:   ledger.NewMemoryStore(),
		execs:    NewMemoryStore(),
		ctrl:     access.NewMemoryController(),
		recorder: &notify.Recorder{},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	executor := NewExecutor(f.execs, ledger.AuditSink(f.ledger), f.recorder, fastExecutorConfig(), nil)
	f.machines = NewMachines(executor, f.ledger, f.ctrl, f.recorder, 30*24*time.Hour)
	f.machines.now = func() time.Time { return f.clock }
	return f
}

// seedGrace creates a principal in its grace period with an expired
// deadline, ready for suspension.
func (f *machineFixture) seedGrace(t *testing.T, principalID string) time.Time {
	t.Helper()
	ctx := context.Background()

	record := ledger.NewBudgetRecord(principalID, ledger.ProvisionDefaults{
		BudgetLimitUSD: 1.00,
		RefreshPeriod:  30 * 24 * time.Hour,
	}, f.clock.Add(-time.Hour))
	record.SpentUSD = 1.50
	if err := f.ledger.Create(ctx, record); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	deadline := f.clock.Add(-time.Minute)
	if err := f.ledger.SetGrace(ctx, principalID, deadline); err != nil {
		t.Fatalf("failed to enter grace: %v", err)
	}
	return deadline
}

// seedSuspended creates a suspended principal whose refresh date has
// already arrived.
func (f *machineFixture) seedSuspended(t *testing.T, principalID string) time.Time {
	t.Helper()
	deadline := f.seedGrace(t, principalID)
	_ = deadline

	ctx := context.Background()
	if err := f.ledger.Suspend(ctx, principalID); err != nil {
		t.Fatalf("failed to suspend: %v", err)
	}
	if err := f.ctrl.Suspend(ctx, principalID); err != nil {
		t.Fatalf("failed to suspend access: %v", err)
	}

	record, err := f.ledger.Get(ctx, principalID)
	if err != nil {
		t.Fatalf("failed to read record: %v", err)
	}

	// Move the clock past the refresh date.
	f.clock = record.BudgetRefreshDate.Add(time.Hour)
	return record.BudgetRefreshDate
}

// ============================================================================
// Suspension
// ============================================================================

func TestSuspension_HappyPath(t *testing.T) {
	f := newMachineFixture(t)
	deadline := f.seedGrace(t, "svc-api")
	ctx := context.Background()

	err := f.machines.HandleSuspension(ctx, bus.SuspensionRequired{
		PrincipalID: "svc-api",
		Reason:      "budget exceeded",
		Deadline:    deadline,
	})
	if err != nil {
		t.Fatalf("HandleSuspension failed: %v", err)
	}

	suspended, err := f.ctrl.IsSuspended(ctx, "svc-api")
	if err != nil {
		t.Fatalf("IsSuspended failed: %v", err)
	}
	if !suspended {
		t.Error("access not suspended")
	}

	record, err := f.ledger.Get(ctx, "svc-api")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != ledger.StatusSuspended {
		t.Errorf("status = %q, want %q", record.Status, ledger.StatusSuspended)
	}

	if n := len(f.recorder.ByLevel(notify.LevelFinal)); n != 1 {
		t.Errorf("final notifications = %d, want 1", n)
	}
	if n := len(f.recorder.ByLevel(notify.LevelSuspended)); n != 1 {
		t.Errorf("suspended notifications = %d, want 1", n)
	}

	events, err := f.ledger.AuditEvents(ctx, "svc-api")
	if err != nil {
		t.Fatalf("AuditEvents failed: %v", err)
	}
	found := false
	for _, e := range events {
		if e.EventType == "principal_suspended" {
			found = true
		}
	}
	if !found {
		t.Error("expected principal_suspended audit event")
	}
}

func TestSuspension_DuplicateTriggersSuspendOnce(t *testing.T) {
	f := newMachineFixture(t)
	deadline := f.seedGrace(t, "svc-api")
	ctx := context.Background()

	msg := bus.SuspensionRequired{PrincipalID: "svc-api", Reason: "budget exceeded", Deadline: deadline}

	if err := f.machines.HandleSuspension(ctx, msg); err != nil {
		t.Fatalf("first HandleSuspension failed: %v", err)
	}
	notificationsAfterFirst := len(f.recorder.Sent)

	// Redelivered trigger for the same principal and deadline.
	if err := f.machines.HandleSuspension(ctx, msg); err != nil {
		t.Fatalf("second HandleSuspension failed: %v", err)
	}

	if len(f.recorder.Sent) != notificationsAfterFirst {
		t.Errorf("duplicate trigger produced %d new notifications",
			len(f.recorder.Sent)-notificationsAfterFirst)
	}

	key := "suspension:svc-api:" + strconv.FormatInt(deadline.UnixMilli(), 10)
	exec, ok := f.execs.Execution(key)
	if !ok {
		t.Fatal("execution not found")
	}
	if exec.State != StateSucceeded {
		t.Errorf("execution state = %q, want %q", exec.State, StateSucceeded)
	}
}

func TestSuspension_SkipsWhenPrincipalNoLongerInGrace(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()

	// Active principal: a stale trigger after a restoration.
	record := ledger.NewBudgetRecord("svc-api", ledger.ProvisionDefaults{
		BudgetLimitUSD: 1.00,
		RefreshPeriod:  30 * 24 * time.Hour,
	}, f.clock)
	if err := f.ledger.Create(ctx, record); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	err := f.machines.HandleSuspension(ctx, bus.SuspensionRequired{
		PrincipalID: "svc-api",
		Deadline:    f.clock.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("HandleSuspension failed: %v", err)
	}

	got, err := f.ledger.Get(ctx, "svc-api")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != ledger.StatusActive {
		t.Errorf("status = %q, want untouched %q", got.Status, ledger.StatusActive)
	}
	suspended, _ := f.ctrl.IsSuspended(ctx, "svc-api")
	if suspended {
		t.Error("stale trigger suspended access")
	}
}

func TestSuspension_PersistentFailureIsDeadLettered(t *testing.T) {
	f := newMachineFixture(t)
	deadline := f.seedGrace(t, "svc-api")
	f.ctrl.SuspendErr = errors.New("access controller unavailable")
	ctx := context.Background()

	err := f.machines.HandleSuspension(ctx, bus.SuspensionRequired{
		PrincipalID: "svc-api",
		Deadline:    deadline,
	})
	if err == nil {
		t.Fatal("expected failure when access controller is down")
	}

	letters, err := f.execs.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	letter := letters[0]
	if letter.Step != StepApplySuspension {
		t.Errorf("dead letter step = %q, want %q", letter.Step, StepApplySuspension)
	}
	if letter.PrincipalID != "svc-api" {
		t.Errorf("dead letter principal = %q, want svc-api", letter.PrincipalID)
	}
	if letter.Error == "" || letter.Attempts == 0 {
		t.Errorf("dead letter missing context: error=%q attempts=%d", letter.Error, letter.Attempts)
	}

	// Failure raises a high-severity notification and an audit event.
	if n := len(f.recorder.ByLevel(notify.LevelCritical)); n != 1 {
		t.Errorf("critical notifications = %d, want 1", n)
	}
	events, _ := f.ledger.AuditEvents(ctx, "svc-api")
	found := false
	for _, e := range events {
		if e.EventType == "workflow_failed" {
			found = true
		}
	}
	if !found {
		t.Error("expected workflow_failed audit event")
	}

	// The ledger was never moved to suspended.
	record, _ := f.ledger.Get(ctx, "svc-api")
	if record.Status != ledger.StatusGracePeriod {
		t.Errorf("status = %q, want %q preserved", record.Status, ledger.StatusGracePeriod)
	}
}

// flakyController fails its first n Suspend calls, then recovers.
type flakyController struct {
	*access.MemoryController
	failures int
}

func (c *flakyController) Suspend(ctx context.Context, principalID string) error {
	if c.failures > 0 {
		c.failures--
		return errors.New("transient outage")
	}
	return c.MemoryController.Suspend(ctx, principalID)
}

func TestSuspension_TransientFailureIsRetried(t *testing.T) {
	f := newMachineFixture(t)
	deadline := f.seedGrace(t, "svc-api")
	ctx := context.Background()

	flaky := &flakyController{MemoryController: f.ctrl, failures: 2}
	executor := NewExecutor(f.execs, ledger.AuditSink(f.ledger), f.recorder, fastExecutorConfig(), nil)
	machines := NewMachines(executor, f.ledger, flaky, f.recorder, 30*24*time.Hour)
	machines.now = func() time.Time { return f.clock }

	err := machines.HandleSuspension(ctx, bus.SuspensionRequired{
		PrincipalID: "svc-api",
		Deadline:    deadline,
	})
	if err != nil {
		t.Fatalf("HandleSuspension failed despite retries: %v", err)
	}

	record, _ := f.ledger.Get(ctx, "svc-api")
	if record.Status != ledger.StatusSuspended {
		t.Errorf("status = %q, want %q after retried suspension", record.Status, ledger.StatusSuspended)
	}
	if depth, _ := f.execs.DeadLetterDepth(ctx); depth != 0 {
		t.Errorf("dead letters = %d, want 0 for recovered execution", depth)
	}
}

// ============================================================================
// Restoration
// ============================================================================

func TestRestoration_HappyPath(t *testing.T) {
	f := newMachineFixture(t)
	refreshDate := f.seedSuspended(t, "svc-api")
	ctx := context.Background()

	err := f.machines.HandleRestoration(ctx, bus.RestorationRequired{
		PrincipalID: "svc-api",
		RefreshDate: refreshDate,
	})
	if err != nil {
		t.Fatalf("HandleRestoration failed: %v", err)
	}

	suspended, _ := f.ctrl.IsSuspended(ctx, "svc-api")
	if suspended {
		t.Error("access still suspended")
	}

	record, err := f.ledger.Get(ctx, "svc-api")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != ledger.StatusActive {
		t.Errorf("status = %q, want %q", record.Status, ledger.StatusActive)
	}
	if record.SpentUSD != 0 {
		t.Errorf("spent = %v, want 0", record.SpentUSD)
	}
	if record.RefreshCount != 1 {
		t.Errorf("refresh count = %d, want 1", record.RefreshCount)
	}
	if record.GraceDeadline != nil {
		t.Error("grace deadline not cleared")
	}
	if record.ThresholdState != ledger.ThresholdNormal {
		t.Errorf("threshold state = %q, want %q", record.ThresholdState, ledger.ThresholdNormal)
	}
	if !record.BudgetRefreshDate.After(f.clock) {
		t.Errorf("refresh date %v not advanced past %v", record.BudgetRefreshDate, f.clock)
	}

	if n := len(f.recorder.ByLevel(notify.LevelRestored)); n != 1 {
		t.Errorf("restored notifications = %d, want 1", n)
	}
	events, _ := f.ledger.AuditEvents(ctx, "svc-api")
	found := false
	for _, e := range events {
		if e.EventType == "principal_restored" {
			found = true
		}
	}
	if !found {
		t.Error("expected principal_restored audit event")
	}
}

func TestRestoration_SkipsIneligiblePrincipal(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()

	// Active principal: restoration does not apply.
	record := ledger.NewBudgetRecord("svc-api", ledger.ProvisionDefaults{
		BudgetLimitUSD: 1.00,
		RefreshPeriod:  30 * 24 * time.Hour,
	}, f.clock)
	record.SpentUSD = 0.40
	if err := f.ledger.Create(ctx, record); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	err := f.machines.HandleRestoration(ctx, bus.RestorationRequired{
		PrincipalID: "svc-api",
		RefreshDate: f.clock.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("HandleRestoration failed: %v", err)
	}

	got, _ := f.ledger.Get(ctx, "svc-api")
	if got.SpentUSD != 0.40 {
		t.Errorf("spent = %v, want 0.40 untouched by skipped restoration", got.SpentUSD)
	}
	if got.RefreshCount != 0 {
		t.Errorf("refresh count = %d, want 0", got.RefreshCount)
	}
}

func TestRestoration_SkipsBeforeRefreshDate(t *testing.T) {
	f := newMachineFixture(t)
	refreshDate := f.seedSuspended(t, "svc-api")
	ctx := context.Background()

	// Rewind the clock to before the refresh date.
	f.clock = refreshDate.Add(-time.Hour)

	err := f.machines.HandleRestoration(ctx, bus.RestorationRequired{
		PrincipalID: "svc-api",
		RefreshDate: refreshDate,
	})
	if err != nil {
		t.Fatalf("HandleRestoration failed: %v", err)
	}

	record, _ := f.ledger.Get(ctx, "svc-api")
	if record.Status != ledger.StatusSuspended {
		t.Errorf("status = %q, want %q before refresh date", record.Status, ledger.StatusSuspended)
	}
}

// stuckController reports success from Restore but never actually
// clears the suspension.
type stuckController struct {
	*access.MemoryController
}

func (c *stuckController) Restore(ctx context.Context, principalID string) error {
	return nil
}

func TestRestoration_VerificationFailureNeverMarksActive(t *testing.T) {
	f := newMachineFixture(t)
	refreshDate := f.seedSuspended(t, "svc-api")
	ctx := context.Background()

	stuck := &stuckController{MemoryController: f.ctrl}
	executor := NewExecutor(f.execs, ledger.AuditSink(f.ledger), f.recorder, fastExecutorConfig(), nil)
	machines := NewMachines(executor, f.ledger, stuck, f.recorder, 30*24*time.Hour)
	machines.now = func() time.Time { return f.clock }

	err := machines.HandleRestoration(ctx, bus.RestorationRequired{
		PrincipalID: "svc-api",
		RefreshDate: refreshDate,
	})
	if err == nil {
		t.Fatal("expected failure when restore never takes effect")
	}

	record, _ := f.ledger.Get(ctx, "svc-api")
	if record.Status != ledger.StatusSuspended {
		t.Errorf("status = %q, want %q when verification failed", record.Status, ledger.StatusSuspended)
	}

	letters, _ := f.execs.DeadLetters(ctx)
	if len(letters) != 1 || letters[0].Step != StepVerifyRestoration {
		t.Errorf("dead letters = %+v, want one at %q", letters, StepVerifyRestoration)
	}
}
