package costs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spendgate-hq/spendgate/pkg/audit"
	"spendgate-hq/spendgate/pkg/ledger"
	"spendgate-hq/spendgate/pkg/pricing"
)

// RawUsage is one usage record as delivered by the metering source,
// before validation and cost attribution.
type RawUsage struct {
	// RequestID uniquely identifies the upstream API request and is the
	// deduplication key. Required.
	RequestID string

	// PrincipalID identifies the billed principal. Required.
	PrincipalID string

	// Timestamp is when the request completed. Zero means now.
	Timestamp time.Time

	// ModelID identifies the model that served the request. Required.
	ModelID string

	// Region is the deployment region the request ran in.
	Region string

	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// ValidationError reports why a raw usage record was rejected. Rejected
// records are dropped after an audit entry; they never reach the ledger.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the validation failure message.
func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid usage record: %s: %s", e.Field, e.Message)
}

// validate returns the first validation failure, or nil.
func (r RawUsage) validate() error {
	switch {
	case r.RequestID == "":
		return ValidationError{Field: "request_id", Message: "required"}
	case r.PrincipalID == "":
		return ValidationError{Field: "principal_id", Message: "required"}
	case r.ModelID == "":
		return ValidationError{Field: "model_id", Message: "required"}
	case r.InputTokens < 0:
		return ValidationError{Field: "input_tokens", Message: "cannot be negative"}
	case r.OutputTokens < 0:
		return ValidationError{Field: "output_tokens", Message: "cannot be negative"}
	case r.CacheWriteTokens < 0:
		return ValidationError{Field: "cache_write_tokens", Message: "cannot be negative"}
	case r.CacheReadTokens < 0:
		return ValidationError{Field: "cache_read_tokens", Message: "cannot be negative"}
	}
	return nil
}

// Ingestor turns raw usage records into priced ledger entries. Each
// record is validated, priced through the rate cache, and applied to
// the ledger in one atomic, deduplicated operation.
type Ingestor struct {
	rates    *pricing.Cache
	store    ledger.Store
	defaults ledger.ProvisionDefaults
	metrics  *Metrics
	logger   *slog.Logger
}

// NewIngestor creates an ingestor writing to the given ledger store.
func NewIngestor(rates *pricing.Cache, store ledger.Store, defaults ledger.ProvisionDefaults, metrics *Metrics) *Ingestor {
	return &Ingestor{
		rates:    rates,
		store:    store,
		defaults: defaults,
		metrics:  metrics,
		logger:   slog.Default().With("component", "costs.ingestor"),
	}
}

// Ingest validates, prices, and applies one raw usage record. It
// returns the principal's budget record after the spend increment.
// duplicate is true when the record's RequestID was already applied;
// the returned record then reflects current state and no spend moved.
//
// A ValidationError means the record was dropped: an audit entry is
// written but the ledger is untouched.
func (i *Ingestor) Ingest(ctx context.Context, raw RawUsage) (record *ledger.BudgetRecord, duplicate bool, err error) {
	if err := raw.validate(); err != nil {
		i.metrics.RecordIngest("rejected")
		i.logger.Warn("Dropping invalid usage record",
			"request_id", raw.RequestID,
			"principal_id", raw.PrincipalID,
			"error", err,
		)
		i.auditRejection(ctx, raw, err)
		return nil, false, err
	}

	if raw.Timestamp.IsZero() {
		raw.Timestamp = time.Now()
	}

	rate, err := i.rates.GetRate(ctx, raw.ModelID, raw.Region)
	if err != nil {
		i.metrics.RecordIngest("error")
		return nil, false, fmt.Errorf("failed to resolve rate for %s: %w", raw.ModelID, err)
	}

	usage := TokenUsage{
		InputTokens:      raw.InputTokens,
		OutputTokens:     raw.OutputTokens,
		CacheWriteTokens: raw.CacheWriteTokens,
		CacheReadTokens:  raw.CacheReadTokens,
	}
	cost := Calculate(rate, usage)

	event := ledger.UsageEvent{
		RequestID:        raw.RequestID,
		PrincipalID:      raw.PrincipalID,
		Timestamp:        raw.Timestamp,
		ModelID:          raw.ModelID,
		Region:           raw.Region,
		InputTokens:      raw.InputTokens,
		OutputTokens:     raw.OutputTokens,
		CacheWriteTokens: raw.CacheWriteTokens,
		CacheReadTokens:  raw.CacheReadTokens,
		CostUSD:          cost,
		PricingSource:    rate.Source,
	}

	record, duplicate, err = i.store.ApplyUsage(ctx, event, i.defaults)
	if err != nil {
		i.metrics.RecordIngest("error")
		return nil, false, fmt.Errorf("failed to apply usage for %s: %w", raw.PrincipalID, err)
	}

	if duplicate {
		i.metrics.RecordIngest("duplicate")
		i.logger.Debug("Duplicate usage record ignored",
			"request_id", raw.RequestID,
			"principal_id", raw.PrincipalID,
		)
		return record, true, nil
	}

	i.metrics.RecordIngest("ok")
	i.metrics.RecordCost(raw.ModelID, rate.Source, cost)
	i.logger.Debug("Usage applied",
		"request_id", raw.RequestID,
		"principal_id", raw.PrincipalID,
		"model_id", raw.ModelID,
		"cost_usd", cost,
		"pricing_source", rate.Source,
		"spent_usd", record.SpentUSD,
	)
	return record, false, nil
}

// auditRejection records a dropped usage record in the audit trail.
// Audit failures here are logged and swallowed; rejection handling must
// not fail the ingest path twice.
func (i *Ingestor) auditRejection(ctx context.Context, raw RawUsage, cause error) {
	event := audit.NewEvent("costs.ingestor", "usage_rejected", raw.PrincipalID, map[string]any{
		"request_id": raw.RequestID,
		"model_id":   raw.ModelID,
		"reason":     cause.Error(),
	})
	if err := i.store.AppendAudit(ctx, event); err != nil {
		i.logger.Error("Failed to audit rejected usage record", "error", err)
	}
}
