package evaluator

import (
	"context"
	"testing"
	"time"

	"spendgate-hq/spendgate/pkg/bus"
	"spendgate-hq/spendgate/pkg/ledger"
	"spendgate-hq/spendgate/pkg/notify"
)

func testConfig() Config {
	return Config{
		WarnPct:       0.70,
		CriticalPct:   0.90,
		GracePeriod:   5 * time.Minute,
		RefreshPeriod: 30 * 24 * time.Hour,
		Workers:       2,
	}
}

type fixture struct {
	store    *ledger.MemoryStore
	queue    *bus.MemoryQueue
	recorder *notify.Recorder
	eval     *Evaluator
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    ledger.NewMemoryStore(),
		queue:    bus.NewMemoryQueue(5 * time.Minute),
		recorder: &notify.Recorder{},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.eval = New(f.store, f.queue, f.recorder, testConfig(), nil)
	f.eval.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// seed creates an active record with the given limit and spend.
func (f *fixture) seed(t *testing.T, principalID string, limit, spent float64) {
	t.Helper()
	record := ledger.NewBudgetRecord(principalID, ledger.ProvisionDefaults{
		BudgetLimitUSD: limit,
		RefreshPeriod:  30 * 24 * time.Hour,
	}, f.clock)
	record.SpentUSD = spent
	if err := f.store.Create(context.Background(), record); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
}

// spend replaces the principal's spent amount via a usage event.
func (f *fixture) spend(t *testing.T, principalID, requestID string, costUSD float64) {
	t.Helper()
	_, _, err := f.store.ApplyUsage(context.Background(), ledger.UsageEvent{
		RequestID:   requestID,
		PrincipalID: principalID,
		Timestamp:   f.clock,
		ModelID:     "claude-3-sonnet",
		CostUSD:     costUSD,
	}, ledger.ProvisionDefaults{BudgetLimitUSD: 5, RefreshPeriod: 30 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("failed to apply usage: %v", err)
	}
}

func (f *fixture) evaluateAll(t *testing.T) {
	t.Helper()
	if err := f.eval.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}
}

func (f *fixture) record(t *testing.T, principalID string) *ledger.BudgetRecord {
	t.Helper()
	record, err := f.store.Get(context.Background(), principalID)
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	return record
}

// ============================================================================
// Full enforcement walkthrough
// ============================================================================

// TestEvaluator_DollarBudgetWalkthrough drives one principal with a
// $1.00 budget from first spend through suspension request.
func TestEvaluator_DollarBudgetWalkthrough(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "svc-api", 1.00, 0)

	// Spend $0.50: no alerts.
	f.spend(t, "svc-api", "req-1", 0.50)
	f.evaluateAll(t)
	if n := len(f.recorder.Sent); n != 0 {
		t.Fatalf("notifications at 50%% = %d, want 0", n)
	}

	// Spend to $0.75: one warning, threshold state records it.
	f.spend(t, "svc-api", "req-2", 0.25)
	f.evaluateAll(t)
	if n := len(f.recorder.ByLevel(notify.LevelWarning)); n != 1 {
		t.Fatalf("warning alerts at 75%% = %d, want 1", n)
	}
	if state := f.record(t, "svc-api").ThresholdState; state != ledger.ThresholdWarning {
		t.Errorf("threshold state = %q, want %q", state, ledger.ThresholdWarning)
	}

	// Re-evaluate without new spend: no duplicate warning.
	f.evaluateAll(t)
	if n := len(f.recorder.ByLevel(notify.LevelWarning)); n != 1 {
		t.Fatalf("warning alerts after re-evaluation = %d, want 1", n)
	}

	// Spend to $0.95: escalates to critical.
	f.spend(t, "svc-api", "req-3", 0.20)
	f.evaluateAll(t)
	if n := len(f.recorder.ByLevel(notify.LevelCritical)); n != 1 {
		t.Fatalf("critical alerts at 95%% = %d, want 1", n)
	}

	// Spend to $1.05: exceeded, grace period starts.
	f.spend(t, "svc-api", "req-4", 0.10)
	f.evaluateAll(t)

	record := f.record(t, "svc-api")
	if record.Status != ledger.StatusGracePeriod {
		t.Fatalf("status = %q, want %q", record.Status, ledger.StatusGracePeriod)
	}
	if record.GraceDeadline == nil {
		t.Fatal("grace deadline not set")
	}
	wantDeadline := f.clock.Add(5 * time.Minute)
	if !record.GraceDeadline.Equal(wantDeadline) {
		t.Errorf("grace deadline = %v, want %v", record.GraceDeadline, wantDeadline)
	}
	if n := len(f.recorder.ByLevel(notify.LevelGrace)); n != 1 {
		t.Errorf("grace notifications = %d, want 1", n)
	}

	// Still inside the grace window: no suspension request yet.
	f.advance(time.Minute)
	f.evaluateAll(t)
	if depth, _ := f.queue.Depth(context.Background()); depth != 0 {
		t.Fatalf("queue depth inside grace window = %d, want 0", depth)
	}

	// Past the deadline: exactly one suspension request.
	f.advance(5 * time.Minute)
	f.evaluateAll(t)

	env, err := f.queue.Receive(context.Background())
	if err != nil || env == nil {
		t.Fatalf("Receive = (%v, %v), want suspension request", env, err)
	}
	msg, err := bus.DecodeSuspensionRequired(*env)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.PrincipalID != "svc-api" {
		t.Errorf("principal = %q, want svc-api", msg.PrincipalID)
	}
	if !msg.Deadline.Equal(wantDeadline) {
		t.Errorf("message deadline = %v, want %v", msg.Deadline, wantDeadline)
	}
}

// ============================================================================
// Threshold de-duplication and edge cases
// ============================================================================

func TestEvaluator_RepeatedScansSendOneAlertPerCrossing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "svc-api", 1.00, 0.80)

	for i := 0; i < 5; i++ {
		f.evaluateAll(t)
	}

	if n := len(f.recorder.ByLevel(notify.LevelWarning)); n != 1 {
		t.Errorf("warning alerts after 5 scans = %d, want 1", n)
	}
}

func TestEvaluator_SkipsWarningWhenAlreadyCritical(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "svc-api", 1.00, 0.95)

	// First scan jumps straight to critical; no warning alert is owed.
	f.evaluateAll(t)
	if n := len(f.recorder.ByLevel(notify.LevelCritical)); n != 1 {
		t.Errorf("critical alerts = %d, want 1", n)
	}
	if n := len(f.recorder.ByLevel(notify.LevelWarning)); n != 0 {
		t.Errorf("warning alerts = %d, want 0 when crossing both at once", n)
	}
}

func TestEvaluator_ClearsThresholdWhenBackUnderWarning(t *testing.T) {
	f := newFixture(t)

	// A raised limit leaves an old threshold state above the actual
	// ratio; the scan clears it without alerting.
	record := ledger.NewBudgetRecord("svc-api", ledger.ProvisionDefaults{
		BudgetLimitUSD: 10.00,
		RefreshPeriod:  30 * 24 * time.Hour,
	}, f.clock)
	record.SpentUSD = 0.95
	record.ThresholdState = ledger.ThresholdCritical
	if err := f.store.Create(context.Background(), record); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	f.evaluateAll(t)

	got := f.record(t, "svc-api")
	if got.ThresholdState != ledger.ThresholdNormal {
		t.Errorf("threshold state = %q, want %q", got.ThresholdState, ledger.ThresholdNormal)
	}
	if n := len(f.recorder.Sent); n != 0 {
		t.Errorf("notifications on downgrade = %d, want 0", n)
	}

	// Crossing the warning line afterwards alerts again.
	f.spend(t, "svc-api", "req-raise", 6.50)
	f.evaluateAll(t)
	if n := len(f.recorder.ByLevel(notify.LevelWarning)); n != 1 {
		t.Errorf("warning alerts after re-crossing = %d, want 1", n)
	}
}

func TestEvaluator_ZeroLimitIsAlwaysExceeded(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "svc-free", 0, 0.0001)

	f.evaluateAll(t)

	record := f.record(t, "svc-free")
	if record.Status != ledger.StatusGracePeriod {
		t.Errorf("status = %q, want %q for zero-limit principal with any spend",
			record.Status, ledger.StatusGracePeriod)
	}
}

func TestEvaluator_GraceDeadlineIsStable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "svc-api", 1.00, 1.50)

	f.evaluateAll(t)
	first := f.record(t, "svc-api").GraceDeadline
	if first == nil {
		t.Fatal("grace deadline not set")
	}

	// Later scans while still in grace must not move the deadline.
	f.advance(2 * time.Minute)
	f.evaluateAll(t)

	second := f.record(t, "svc-api").GraceDeadline
	if !second.Equal(*first) {
		t.Errorf("grace deadline moved: %v -> %v", first, second)
	}
}

func TestEvaluator_SuspendedPrincipalsAreSkipped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "svc-api", 1.00, 2.00)

	// Walk the record to suspended.
	f.evaluateAll(t)
	if err := f.store.Suspend(context.Background(), "svc-api"); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	before := len(f.recorder.Sent)
	f.evaluateAll(t)

	if len(f.recorder.Sent) != before {
		t.Error("evaluation of suspended principal produced notifications")
	}
	if depth, _ := f.queue.Depth(context.Background()); depth != 0 {
		t.Error("evaluation of suspended principal enqueued messages")
	}
}

func TestEvaluator_EvaluateAllCoversEveryPrincipal(t *testing.T) {
	f := newFixture(t)
	principals := []string{"svc-a", "svc-b", "svc-c", "svc-d", "svc-e"}
	for _, p := range principals {
		f.seed(t, p, 1.00, 0.80)
	}

	f.evaluateAll(t)

	warned := make(map[string]bool)
	for _, n := range f.recorder.ByLevel(notify.LevelWarning) {
		warned[n.PrincipalID] = true
	}
	for _, p := range principals {
		if !warned[p] {
			t.Errorf("principal %s received no warning", p)
		}
	}
}

// ============================================================================
// Refresh scan
// ============================================================================

func TestRefreshScan_RequestsRestorationForSuspended(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "svc-api", 1.00, 2.00)

	// Drive to suspended.
	f.evaluateAll(t)
	if err := f.store.Suspend(context.Background(), "svc-api"); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	// Before the refresh date: nothing happens.
	if err := f.eval.RefreshScan(context.Background()); err != nil {
		t.Fatalf("RefreshScan failed: %v", err)
	}
	if depth, _ := f.queue.Depth(context.Background()); depth != 0 {
		t.Fatalf("queue depth before refresh date = %d, want 0", depth)
	}

	// Past the refresh date: one restoration request.
	f.advance(31 * 24 * time.Hour)
	if err := f.eval.RefreshScan(context.Background()); err != nil {
		t.Fatalf("RefreshScan failed: %v", err)
	}

	env, err := f.queue.Receive(context.Background())
	if err != nil || env == nil {
		t.Fatalf("Receive = (%v, %v), want restoration request", env, err)
	}
	msg, err := bus.DecodeRestorationRequired(*env)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.PrincipalID != "svc-api" {
		t.Errorf("principal = %q, want svc-api", msg.PrincipalID)
	}
}

func TestRefreshScan_RollsActivePeriodsOver(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "svc-api", 1.00, 0.40)

	f.advance(31 * 24 * time.Hour)
	if err := f.eval.RefreshScan(context.Background()); err != nil {
		t.Fatalf("RefreshScan failed: %v", err)
	}

	record := f.record(t, "svc-api")
	if record.SpentUSD != 0 {
		t.Errorf("spent after rollover = %v, want 0", record.SpentUSD)
	}
	if record.Status != ledger.StatusActive {
		t.Errorf("status = %q, want %q", record.Status, ledger.StatusActive)
	}
	if record.RefreshCount != 1 {
		t.Errorf("refresh count = %d, want 1", record.RefreshCount)
	}
	if !record.BudgetRefreshDate.After(f.clock) {
		t.Errorf("refresh date %v not advanced past now %v", record.BudgetRefreshDate, f.clock)
	}
}

func TestRefreshScan_LeavesGracePrincipalsAlone(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "svc-api", 1.00, 2.00)
	f.evaluateAll(t) // enters grace

	f.advance(31 * 24 * time.Hour)
	if err := f.eval.RefreshScan(context.Background()); err != nil {
		t.Fatalf("RefreshScan failed: %v", err)
	}

	record := f.record(t, "svc-api")
	if record.Status != ledger.StatusGracePeriod {
		t.Errorf("status = %q, want %q untouched by refresh scan",
			record.Status, ledger.StatusGracePeriod)
	}
	if record.SpentUSD != 2.00 {
		t.Errorf("spent = %v, want 2.00 untouched", record.SpentUSD)
	}
}
