package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"spendgate-hq/spendgate/pkg/audit"
)

// MemoryStore implements Store using in-memory maps. All data is lost when
// the process exits; it exists for tests and local experimentation.
//
// MemoryStore is thread-safe. All conditional writes run under a single
// mutex, which gives the same linearizable semantics the SQLite store gets
// from its single-writer connection.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*BudgetRecord
	usage   map[string]UsageEvent
	trail   []audit.Event
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*BudgetRecord),
		usage:   make(map[string]UsageEvent),
	}
}

// Get returns a copy of the budget record for a principal.
func (m *MemoryStore) Get(ctx context.Context, principalID string) (*BudgetRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[principalID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(record), nil
}

// Create inserts a new record, failing with ErrConflict if one exists.
func (m *MemoryStore) Create(ctx context.Context, record *BudgetRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.PrincipalID == "" {
		return fmt.Errorf("principal id cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.PrincipalID]; exists {
		return ErrConflict
	}
	m.records[record.PrincipalID] = cloneRecord(record)
	return nil
}

// List returns copies of all budget records ordered by principal ID.
func (m *MemoryStore) List(ctx context.Context) ([]*BudgetRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]*BudgetRecord, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, cloneRecord(record))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].PrincipalID < records[j].PrincipalID
	})
	return records, nil
}

// ApplyUsage implements the atomic usage application. See Store.ApplyUsage.
func (m *MemoryStore) ApplyUsage(ctx context.Context, event UsageEvent, defaults ProvisionDefaults) (*BudgetRecord, bool, error) {
	if event.RequestID == "" {
		return nil, false, fmt.Errorf("request id cannot be empty")
	}
	if event.PrincipalID == "" {
		return nil, false, fmt.Errorf("principal id cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.usage[event.RequestID]; seen {
		record, ok := m.records[event.PrincipalID]
		if !ok {
			return nil, true, ErrNotFound
		}
		return cloneRecord(record), true, nil
	}

	now := time.Now().UTC()
	record, ok := m.records[event.PrincipalID]
	if !ok {
		record = NewBudgetRecord(event.PrincipalID, defaults, now)
		m.records[event.PrincipalID] = record
		m.trail = append(m.trail, audit.NewEvent("ledger", "budget_auto_created", event.PrincipalID, map[string]any{
			"budget_limit_usd": record.BudgetLimitUSD,
			"initial_cost":     event.CostUSD,
			"model_id":         event.ModelID,
			"reason":           "usage_detected_without_existing_budget",
		}))
	}
	record.SpentUSD += event.CostUSD
	record.LastUpdated = now

	m.usage[event.RequestID] = event
	m.trail = append(m.trail, audit.NewEvent("ledger", "usage_cost_calculated", event.PrincipalID, map[string]any{
		"request_id":     event.RequestID,
		"model_id":       event.ModelID,
		"region":         event.Region,
		"cost_usd":       event.CostUSD,
		"input_tokens":   event.InputTokens,
		"output_tokens":  event.OutputTokens,
		"pricing_source": event.PricingSource,
	}))

	return cloneRecord(record), false, nil
}

// SetThresholdState transitions threshold state from expected to next.
func (m *MemoryStore) SetThresholdState(ctx context.Context, principalID string, expected, next ThresholdState) error {
	return m.mutate(ctx, principalID, func(record *BudgetRecord) error {
		if record.ThresholdState != expected {
			return ErrConflict
		}
		record.ThresholdState = next
		return nil
	})
}

// SetGrace moves an active principal to grace_period with the deadline.
func (m *MemoryStore) SetGrace(ctx context.Context, principalID string, deadline time.Time) error {
	return m.mutate(ctx, principalID, func(record *BudgetRecord) error {
		if record.Status != StatusActive {
			return ErrConflict
		}
		d := deadline.UTC()
		record.Status = StatusGracePeriod
		record.GraceDeadline = &d
		return nil
	})
}

// Suspend sets status to suspended only from grace_period.
func (m *MemoryStore) Suspend(ctx context.Context, principalID string) error {
	return m.mutate(ctx, principalID, func(record *BudgetRecord) error {
		if record.Status != StatusGracePeriod {
			return ErrConflict
		}
		record.Status = StatusSuspended
		return nil
	})
}

// ResetBudget restores a suspended principal in one conditional mutation.
func (m *MemoryStore) ResetBudget(ctx context.Context, principalID string, periodStart, nextRefresh time.Time) error {
	return m.mutate(ctx, principalID, func(record *BudgetRecord) error {
		if record.Status != StatusSuspended {
			return ErrConflict
		}
		record.Status = StatusActive
		record.SpentUSD = 0
		record.ThresholdState = ThresholdNormal
		record.GraceDeadline = nil
		record.BudgetPeriodStart = periodStart.UTC()
		record.BudgetRefreshDate = nextRefresh.UTC()
		record.RefreshCount++
		return nil
	})
}

// RefreshActive rolls an active principal's budget period over.
func (m *MemoryStore) RefreshActive(ctx context.Context, principalID string, periodStart, nextRefresh time.Time) error {
	return m.mutate(ctx, principalID, func(record *BudgetRecord) error {
		if record.Status != StatusActive {
			return ErrConflict
		}
		record.SpentUSD = 0
		record.ThresholdState = ThresholdNormal
		record.BudgetPeriodStart = periodStart.UTC()
		record.BudgetRefreshDate = nextRefresh.UTC()
		record.RefreshCount++
		return nil
	})
}

// AppendAudit appends one audit event to the in-memory trail.
func (m *MemoryStore) AppendAudit(ctx context.Context, event audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trail = append(m.trail, event)
	return nil
}

// AuditEvents returns the audit trail for a principal in append order.
func (m *MemoryStore) AuditEvents(ctx context.Context, principalID string) ([]audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []audit.Event
	for _, event := range m.trail {
		if event.PrincipalID == principalID {
			events = append(events, event)
		}
	}
	return events, nil
}

// UsageEventCount returns how many distinct usage events have been applied.
func (m *MemoryStore) UsageEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.usage)
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) mutate(ctx context.Context, principalID string, fn func(*BudgetRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[principalID]
	if !ok {
		return ErrNotFound
	}
	if err := fn(record); err != nil {
		return err
	}
	record.LastUpdated = time.Now().UTC()
	return nil
}

func cloneRecord(record *BudgetRecord) *BudgetRecord {
	clone := *record
	if record.GraceDeadline != nil {
		d := *record.GraceDeadline
		clone.GraceDeadline = &d
	}
	return &clone
}
