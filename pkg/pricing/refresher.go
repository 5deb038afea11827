package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"
)

// RefresherConfig contains configuration for the scheduled rate refresh.
type RefresherConfig struct {
	// Schedule is a standard cron expression (e.g., "0 1 * * *" for
	// daily at 1 AM). If empty, the refresher does nothing.
	Schedule string

	// MaxTries bounds the per-pair retry attempts during a refresh run.
	// Default: 4.
	MaxTries uint
}

// Refresher re-fetches every known rate on a cron schedule so that the
// in-memory and persisted tiers stay ahead of the staleness bound.
// Individual fetch failures are retried with exponential backoff; a
// pair that still fails keeps serving its previous rate.
type Refresher struct {
	cache   *Cache
	config  RefresherConfig
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	running bool
}

// NewRefresher creates a refresher for the given cache.
func NewRefresher(cache *Cache, config RefresherConfig, metrics *Metrics) *Refresher {
	if config.MaxTries == 0 {
		config.MaxTries = 4
	}
	return &Refresher{
		cache:   cache,
		config:  config,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "pricing.refresher"),
		metrics: metrics,
	}
}

// Start begins scheduled refreshing. It returns an error if the cron
// expression is invalid. The scheduler stops when ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.Schedule == "" {
		r.logger.Info("refresh schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(r.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", r.config.Schedule, err)
	}

	_, err := r.cron.AddFunc(r.config.Schedule, func() {
		if err := r.RefreshAll(ctx); err != nil {
			r.logger.Error("scheduled rate refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule rate refresh: %w", err)
	}

	r.cron.Start()
	r.running = true

	r.logger.Info("pricing refresher started", "schedule", r.config.Schedule)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// RefreshAll re-fetches every model/region pair the cache has seen.
// It returns an error only when the context is cancelled; per-pair
// failures are logged and counted but do not abort the run.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	keys := r.cache.knownKeys()
	if len(keys) == 0 {
		r.logger.Debug("no known rates to refresh")
		return nil
	}

	start := time.Now()
	failed := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.refreshOne(ctx, key); err != nil {
			failed++
			r.logger.Warn("rate refresh failed, keeping previous rate",
				"model_id", key.modelID,
				"region", key.region,
				"error", err,
			)
		}
	}

	result := "ok"
	if failed > 0 {
		result = "partial"
	}
	if failed == len(keys) {
		result = "failed"
	}
	r.metrics.RecordRefreshRun(result)

	r.logger.Info("rate refresh completed",
		"pairs", len(keys),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// refreshOne re-fetches a single pair with exponential backoff.
func (r *Refresher) refreshOne(ctx context.Context, key cacheKey) error {
	rate, err := backoff.Retry(ctx, func() (Rate, error) {
		rate, err := r.cache.fetchLive(ctx, key.modelID, key.region)
		if err == ErrRateNotFound {
			// The feed does not know this model; retrying will not help.
			return Rate{}, backoff.Permanent(err)
		}
		return rate, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.config.MaxTries),
	)
	if err != nil {
		return err
	}

	r.cache.put(key, rate)
	return nil
}

// Stop stops the scheduler and waits for any running job to complete.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		stopCtx := r.cron.Stop()
		<-stopCtx.Done()
		r.running = false
		r.logger.Info("pricing refresher stopped")
	}
}

// NextRun returns the next scheduled refresh time, if any.
func (r *Refresher) NextRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
