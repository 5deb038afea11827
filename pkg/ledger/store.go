package ledger

import (
	"context"
	"time"

	"spendgate-hq/spendgate/pkg/audit"
)

// Store is the budget ledger: the single owner of BudgetRecord mutation.
//
// All other components request mutations through the Store so that invariant
// checking happens in one place. Writes that depend on current state are
// conditional (compare-and-swap on status or threshold state); a losing
// concurrent writer receives ErrConflict, re-reads, and re-evaluates.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the budget record for a principal, or ErrNotFound.
	Get(ctx context.Context, principalID string) (*BudgetRecord, error)

	// Create inserts a new record. It fails with ErrConflict if a record
	// already exists for the principal.
	Create(ctx context.Context, record *BudgetRecord) error

	// List returns all budget records.
	List(ctx context.Context) ([]*BudgetRecord, error)

	// ApplyUsage atomically records a usage event: it deduplicates by the
	// event's RequestID, increments the principal's SpentUSD by the event
	// cost, appends the usage record, and appends audit events, all in
	// one transaction. If no record exists for the principal, one is
	// created from defaults with the event cost as its initial spend.
	//
	// A duplicate RequestID is a silent no-op: the current record is
	// returned with duplicate=true and no error.
	ApplyUsage(ctx context.Context, event UsageEvent, defaults ProvisionDefaults) (record *BudgetRecord, duplicate bool, err error)

	// SetThresholdState transitions the principal's threshold state from
	// expected to next. ErrConflict means another writer got there first
	// and the caller's alert is already covered.
	SetThresholdState(ctx context.Context, principalID string, expected, next ThresholdState) error

	// SetGrace moves an active principal into the grace period with the
	// given deadline. ErrConflict means the principal is not active; in
	// particular, a record already in grace keeps its original deadline.
	SetGrace(ctx context.Context, principalID string, deadline time.Time) error

	// Suspend sets status to suspended only if the current status is
	// grace_period, guarding against a racing restoration.
	Suspend(ctx context.Context, principalID string) error

	// ResetBudget restores a suspended principal: spent to zero, status
	// active, refresh date advanced, refresh count incremented, grace
	// deadline and threshold state cleared, one conditional write keyed
	// on status == suspended so concurrent triggers reset at most once.
	ResetBudget(ctx context.Context, principalID string, periodStart, nextRefresh time.Time) error

	// RefreshActive rolls an active principal's budget period over:
	// spent to zero, period start and refresh date advanced, refresh
	// count incremented. Conditional on status == active.
	RefreshActive(ctx context.Context, principalID string, periodStart, nextRefresh time.Time) error

	// AppendAudit appends one audit event to the ledger's audit trail.
	AppendAudit(ctx context.Context, event audit.Event) error

	// Close releases resources held by the store.
	Close() error
}

// AuditSink adapts a Store's audit trail to the audit.Sink interface.
func AuditSink(s Store) audit.Sink {
	return audit.SinkFunc(s.AppendAudit)
}
