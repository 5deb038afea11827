package pricing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CacheConfig contains configuration for the rate cache.
type CacheConfig struct {
	// TTL is how long an in-memory rate is served without consulting
	// the upstream feed again. Default: 5 minutes.
	TTL time.Duration

	// MaxAge is the staleness bound for persisted rates. A persisted
	// rate older than this is ignored and the static fallback table is
	// used instead. Default: 48 hours.
	MaxAge time.Duration

	// FetchTimeout bounds each upstream feed call. Default: 10 seconds.
	FetchTimeout time.Duration
}

func (c *CacheConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 48 * time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
}

// Cache resolves model rates through a three-tier lookup: a fresh
// in-memory entry, then the upstream feed, then the persisted store
// within its staleness bound, and finally the static fallback table.
// GetRate never returns an error for a missing rate; the fallback table
// guarantees a result so cost attribution continues during feed outages.
type Cache struct {
	source  Source
	store   Store
	config  CacheConfig
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	entries map[cacheKey]Rate

	// now is replaceable in tests.
	now func() time.Time
}

type cacheKey struct {
	modelID string
	region  string
}

// NewCache creates a rate cache. source may be nil, in which case
// resolution goes straight to the persisted store and fallback table.
// store may also be nil; resolution then skips the persisted tier.
func NewCache(source Source, store Store, config CacheConfig, metrics *Metrics) *Cache {
	config.applyDefaults()
	return &Cache{
		source:  source,
		store:   store,
		config:  config,
		logger:  slog.Default().With("component", "pricing.cache"),
		metrics: metrics,
		entries: make(map[cacheKey]Rate),
		now:     time.Now,
	}
}

// GetRate resolves the rate for a model in a region. The returned
// rate's Source field records which tier satisfied the lookup.
func (c *Cache) GetRate(ctx context.Context, modelID, region string) (Rate, error) {
	key := cacheKey{modelID: modelID, region: region}
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && entry.Age(now) < c.config.TTL {
		c.metrics.RecordResolution(entry.Source)
		return entry, nil
	}

	if rate, err := c.fetchLive(ctx, modelID, region); err == nil {
		c.put(key, rate)
		c.metrics.RecordResolution(SourceLive)
		return rate, nil
	} else if ctx.Err() != nil {
		return Rate{}, ctx.Err()
	}

	if c.store != nil {
		rate, err := c.store.Get(ctx, modelID, region)
		if err == nil && rate.Age(now) <= c.config.MaxAge {
			c.put(key, rate)
			c.metrics.RecordResolution(SourceCached)
			return rate, nil
		}
		if err == nil {
			c.logger.Warn("Persisted rate exceeds staleness bound, using fallback table",
				"model_id", modelID,
				"region", region,
				"age", rate.Age(now).String(),
			)
		} else if err != ErrRateNotFound {
			c.logger.Error("Failed to read persisted rate", "model_id", modelID, "error", err)
		}
		if ctx.Err() != nil {
			return Rate{}, ctx.Err()
		}
	}

	rate := FallbackRate(modelID, region, now)
	c.put(key, rate)
	c.metrics.RecordResolution(SourceFallback)
	c.logger.Warn("Using fallback rate",
		"model_id", modelID,
		"region", region,
		"input_per_k", rate.InputPerK,
		"output_per_k", rate.OutputPerK,
	)
	return rate, nil
}

// fetchLive fetches from the upstream feed and persists the result.
func (c *Cache) fetchLive(ctx context.Context, modelID, region string) (Rate, error) {
	if c.source == nil {
		return Rate{}, ErrRateNotFound
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	rate, err := c.source.FetchRate(fetchCtx, modelID, region)
	if err != nil {
		c.metrics.RecordFetchError()
		if err != ErrRateNotFound {
			c.logger.Warn("Pricing feed fetch failed",
				"model_id", modelID,
				"region", region,
				"error", err,
			)
		}
		return Rate{}, err
	}

	rate.ModelID = modelID
	rate.Region = region
	rate.Source = SourceLive
	if rate.FetchedAt.IsZero() {
		rate.FetchedAt = c.now()
	}

	if c.store != nil {
		if err := c.store.Put(ctx, rate); err != nil {
			c.logger.Error("Failed to persist fetched rate", "model_id", modelID, "error", err)
		}
	}
	return rate, nil
}

func (c *Cache) put(key cacheKey, rate Rate) {
	c.mu.Lock()
	c.entries[key] = rate
	c.mu.Unlock()
}

// Invalidate drops the in-memory entry for a model/region pair so the
// next resolution consults the feed again.
func (c *Cache) Invalidate(modelID, region string) {
	c.mu.Lock()
	delete(c.entries, cacheKey{modelID: modelID, region: region})
	c.mu.Unlock()
}

// knownKeys returns the model/region pairs currently held in memory.
func (c *Cache) knownKeys() []cacheKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]cacheKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}
