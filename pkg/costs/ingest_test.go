package costs

import (
	"context"
	"errors"
	"testing"
	"time"

	"spendgate-hq/spendgate/pkg/ledger"
	"spendgate-hq/spendgate/pkg/pricing"
)

func testDefaults() ledger.ProvisionDefaults {
	return ledger.ProvisionDefaults{
		BudgetLimitUSD: 5.00,
		RefreshPeriod:  30 * 24 * time.Hour,
	}
}

func testIngestor(store ledger.Store) *Ingestor {
	// A fixed sonnet-class rate keeps expected costs easy to compute.
	cache := pricing.NewCache(
		pricing.SourceFunc(func(ctx context.Context, modelID, region string) (pricing.Rate, error) {
			return pricing.Rate{InputPerK: 0.003, OutputPerK: 0.015}, nil
		}),
		nil, pricing.CacheConfig{}, nil,
	)
	return NewIngestor(cache, store, testDefaults(), nil)
}

func TestIngest_AppliesCostToLedger(t *testing.T) {
	store := ledger.NewMemoryStore()
	ing := testIngestor(store)

	record, duplicate, err := ing.Ingest(context.Background(), RawUsage{
		RequestID:    "req-1",
		PrincipalID:  "svc-api",
		ModelID:      "claude-3-sonnet",
		Region:       "us-east-1",
		InputTokens:  1000,
		OutputTokens: 1000,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if duplicate {
		t.Error("first ingest reported duplicate")
	}

	want := 0.003 + 0.015
	if !almostEqual(record.SpentUSD, want) {
		t.Errorf("spent = %v, want %v", record.SpentUSD, want)
	}
	if record.BudgetLimitUSD != 5.00 {
		t.Errorf("auto-provisioned limit = %v, want 5.00", record.BudgetLimitUSD)
	}
}

func TestIngest_DuplicateRequestIDIsNoOp(t *testing.T) {
	store := ledger.NewMemoryStore()
	ing := testIngestor(store)

	raw := RawUsage{
		RequestID:   "req-1",
		PrincipalID: "svc-api",
		ModelID:     "claude-3-sonnet",
		InputTokens: 1000,
	}

	first, _, err := ing.Ingest(context.Background(), raw)
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}

	second, duplicate, err := ing.Ingest(context.Background(), raw)
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if !duplicate {
		t.Error("replayed request not reported as duplicate")
	}
	if second.SpentUSD != first.SpentUSD {
		t.Errorf("spent moved on duplicate: %v -> %v", first.SpentUSD, second.SpentUSD)
	}
	if store.UsageEventCount() != 1 {
		t.Errorf("usage event count = %d, want 1", store.UsageEventCount())
	}
}

func TestIngest_RejectsInvalidRecords(t *testing.T) {
	tests := []struct {
		name      string
		raw       RawUsage
		wantField string
	}{
		{
			name:      "missing request id",
			raw:       RawUsage{PrincipalID: "svc-api", ModelID: "claude-3-sonnet"},
			wantField: "request_id",
		},
		{
			name:      "missing principal",
			raw:       RawUsage{RequestID: "req-1", ModelID: "claude-3-sonnet"},
			wantField: "principal_id",
		},
		{
			name:      "missing model",
			raw:       RawUsage{RequestID: "req-1", PrincipalID: "svc-api"},
			wantField: "model_id",
		},
		{
			name: "negative tokens",
			raw: RawUsage{
				RequestID:   "req-1",
				PrincipalID: "svc-api",
				ModelID:     "claude-3-sonnet",
				InputTokens: -5,
			},
			wantField: "input_tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ledger.NewMemoryStore()
			ing := testIngestor(store)

			_, _, err := ing.Ingest(context.Background(), tt.raw)

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", verr.Field, tt.wantField)
			}

			// The ledger must not have moved.
			if store.UsageEventCount() != 0 {
				t.Errorf("usage event count = %d, want 0 for rejected record", store.UsageEventCount())
			}

			// But the rejection is audited.
			events, err := store.AuditEvents(context.Background(), tt.raw.PrincipalID)
			if err != nil {
				t.Fatalf("AuditEvents failed: %v", err)
			}
			found := false
			for _, e := range events {
				if e.EventType == "usage_rejected" {
					found = true
				}
			}
			if !found {
				t.Error("expected usage_rejected audit event")
			}
		})
	}
}

func TestIngest_RecordsPricingSourceOnEvent(t *testing.T) {
	store := ledger.NewMemoryStore()
	// No source and no store forces the fallback table.
	cache := pricing.NewCache(nil, nil, pricing.CacheConfig{}, nil)
	ing := NewIngestor(cache, store, testDefaults(), nil)

	record, _, err := ing.Ingest(context.Background(), RawUsage{
		RequestID:   "req-1",
		PrincipalID: "svc-api",
		ModelID:     "claude-3-opus",
		InputTokens: 1000,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	// Fallback opus input rate is 0.015/1K.
	if !almostEqual(record.SpentUSD, 0.015) {
		t.Errorf("spent = %v, want fallback-priced 0.015", record.SpentUSD)
	}
}

func TestIngest_AutoProvisionStartsActive(t *testing.T) {
	store := ledger.NewMemoryStore()
	ing := testIngestor(store)

	record, _, err := ing.Ingest(context.Background(), RawUsage{
		RequestID:   "req-1",
		PrincipalID: "svc-new",
		ModelID:     "claude-3-haiku",
		InputTokens: 100,
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if record.Status != ledger.StatusActive {
		t.Errorf("status = %q, want %q", record.Status, ledger.StatusActive)
	}
	if record.BudgetRefreshDate.IsZero() {
		t.Error("auto-provisioned record has no refresh date")
	}
}
