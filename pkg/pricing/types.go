package pricing

import (
	"context"
	"errors"
	"time"
)

// Rate source values, recorded on every resolved rate and propagated
// onto usage events so that spend figures can be traced back to the
// pricing data that produced them.
const (
	// SourceLive means the rate came directly from the upstream pricing
	// feed during this resolution.
	SourceLive = "live"

	// SourceCached means the upstream feed was unavailable and a
	// previously persisted rate within the staleness bound was used.
	SourceCached = "cached"

	// SourceFallback means no usable persisted rate existed and the
	// built-in static table supplied the rate.
	SourceFallback = "fallback"
)

// ErrRateNotFound is returned when no rate exists for a model/region pair.
var ErrRateNotFound = errors.New("pricing: rate not found")

// Rate is the price of one model in one region, expressed in USD per
// 1000 tokens. Cache reads are not priced separately; callers bill them
// at a fixed fraction of the input rate.
type Rate struct {
	// ModelID identifies the model (e.g., "anthropic.claude-3-sonnet").
	ModelID string `json:"model_id"`

	// Region is the deployment region the rate applies to.
	Region string `json:"region"`

	// InputPerK is the USD price per 1000 input tokens.
	InputPerK float64 `json:"input_per_k"`

	// OutputPerK is the USD price per 1000 output tokens.
	OutputPerK float64 `json:"output_per_k"`

	// Source records where this rate came from (live, cached, fallback).
	Source string `json:"source"`

	// FetchedAt is when the rate was obtained from its source.
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how old the rate is relative to now.
func (r Rate) Age(now time.Time) time.Duration {
	return now.Sub(r.FetchedAt)
}

// Source fetches current rates from an upstream pricing feed.
// Implementations must honor context cancellation.
type Source interface {
	// FetchRate returns the current rate for a model in a region.
	// It returns ErrRateNotFound if the feed has no entry for the pair.
	FetchRate(ctx context.Context, modelID, region string) (Rate, error)
}

// Store persists rates between process restarts so that a feed outage
// does not force every resolution onto the static fallback table.
type Store interface {
	// Put inserts or replaces the persisted rate for the rate's
	// model/region pair.
	Put(ctx context.Context, rate Rate) error

	// Get returns the persisted rate for a model/region pair, or
	// ErrRateNotFound if none has been persisted.
	Get(ctx context.Context, modelID, region string) (Rate, error)

	// Close releases the store's resources.
	Close() error
}
