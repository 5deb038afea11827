package ledger

import (
	"errors"
	"math"
	"time"
)

// Status is the enforcement state of a principal's budget.
//
// Status transitions only along active -> grace_period -> suspended -> active.
// Any other transition is rejected by the store with ErrConflict.
type Status string

const (
	// StatusActive means the principal has access and spend is accumulating.
	StatusActive Status = "active"

	// StatusGracePeriod means the budget is exhausted and the principal is
	// inside the bounded grace window before suspension.
	StatusGracePeriod Status = "grace_period"

	// StatusSuspended means access has been revoked pending the next
	// budget refresh date.
	StatusSuspended Status = "suspended"
)

// ThresholdState is the last alert level sent for a principal, used to
// de-duplicate warning and critical notifications.
type ThresholdState string

const (
	// ThresholdNormal means no alert is outstanding.
	ThresholdNormal ThresholdState = "normal"

	// ThresholdWarning means a warning alert has been sent for the
	// current period.
	ThresholdWarning ThresholdState = "warning"

	// ThresholdCritical means a critical alert has been sent for the
	// current period.
	ThresholdCritical ThresholdState = "critical"
)

// Store errors. Conditional operations report lost races as ErrConflict so
// callers can re-read and re-evaluate instead of failing.
var (
	// ErrNotFound is returned when no budget record exists for a principal.
	ErrNotFound = errors.New("budget record not found")

	// ErrConflict is returned when a conditional write's precondition no
	// longer holds. It is not a failure: the caller re-reads and decides.
	ErrConflict = errors.New("conditional write conflict")

	// ErrDuplicateEvent is returned internally when a usage event's
	// request ID has already been applied. ApplyUsage converts this into
	// a silent no-op for callers.
	ErrDuplicateEvent = errors.New("duplicate usage event")
)

// BudgetRecord is the durable per-principal budget state. One record exists
// per principal; records are created on first usage or first provisioning
// and are reset, never deleted.
type BudgetRecord struct {
	// PrincipalID is the unique identity whose usage is tracked.
	PrincipalID string

	// BudgetLimitUSD is the spend limit for the current period.
	// A zero limit is treated as always-exceeded.
	BudgetLimitUSD float64

	// SpentUSD is the accumulated spend for the current period.
	// Monotonically non-decreasing within a period; reset on refresh.
	SpentUSD float64

	// Status is the current enforcement state.
	Status Status

	// ThresholdState is the last alert level sent, for de-duplication.
	ThresholdState ThresholdState

	// BudgetPeriodStart is when the current budget period began.
	BudgetPeriodStart time.Time

	// BudgetRefreshDate is when the budget next resets and suspended
	// principals become eligible for restoration.
	BudgetRefreshDate time.Time

	// GraceDeadline is set iff Status is StatusGracePeriod. Once set it
	// never moves; retried evaluations read it rather than recompute it.
	GraceDeadline *time.Time

	// RefreshCount is the number of completed budget periods.
	RefreshCount int

	// CreatedAt is when the record was first provisioned.
	CreatedAt time.Time

	// LastUpdated is the time of the most recent mutation.
	LastUpdated time.Time
}

// Ratio returns spent/limit. A non-positive limit reports +Inf so that a
// zero-limit record classifies as exceeded without dividing by zero.
func (r *BudgetRecord) Ratio() float64 {
	if r.BudgetLimitUSD <= 0 {
		return math.Inf(1)
	}
	return r.SpentUSD / r.BudgetLimitUSD
}

// Exceeded reports whether the record's spend has reached its limit.
func (r *BudgetRecord) Exceeded() bool {
	return r.Ratio() >= 1.0
}

// UsageEvent is one immutable, append-only usage record. RequestID is the
// idempotency key: applying the same event twice increments spend once.
type UsageEvent struct {
	// RequestID uniquely identifies the upstream API request.
	RequestID string

	// PrincipalID is the identity that made the request.
	PrincipalID string

	// Timestamp is when the usage occurred.
	Timestamp time.Time

	// ModelID identifies the model invoked.
	ModelID string

	// Region is the region the request was served from.
	Region string

	// Token counts from the provider response.
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64

	// CostUSD is the computed monetary cost of the event.
	CostUSD float64

	// PricingSource records where the rates came from ("live", "cached",
	// or "fallback").
	PricingSource string
}

// ProvisionDefaults describes the budget given to a principal discovered
// through usage before any explicit provisioning.
type ProvisionDefaults struct {
	// BudgetLimitUSD is the default budget limit.
	BudgetLimitUSD float64

	// RefreshPeriod is how long a budget period lasts.
	RefreshPeriod time.Duration
}

// NewBudgetRecord builds a fresh active record for a principal using the
// provision defaults.
func NewBudgetRecord(principalID string, defaults ProvisionDefaults, now time.Time) *BudgetRecord {
	now = now.UTC()
	return &BudgetRecord{
		PrincipalID:       principalID,
		BudgetLimitUSD:    defaults.BudgetLimitUSD,
		SpentUSD:          0,
		Status:            StatusActive,
		ThresholdState:    ThresholdNormal,
		BudgetPeriodStart: now,
		BudgetRefreshDate: now.Add(defaults.RefreshPeriod),
		RefreshCount:      0,
		CreatedAt:         now,
		LastUpdated:       now,
	}
}
