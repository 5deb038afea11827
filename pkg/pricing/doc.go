// Package pricing resolves per-model token rates for cost attribution.
//
// Rates are expressed in USD per 1000 tokens and resolved through a
// three-tier lookup:
//
//  1. An in-memory cache serves recent rates without any I/O. Entries
//     expire after a configurable TTL.
//  2. On a miss, the upstream pricing feed is consulted with a bounded
//     timeout. Successful fetches are persisted and cached.
//  3. When the feed is unavailable, a rate persisted from an earlier
//     fetch is served as long as it is within the staleness bound.
//     Past that bound a built-in static fallback table answers, so
//     resolution never fails outright.
//
// Every resolved Rate carries its Source (live, cached, or fallback),
// which callers record alongside computed costs for traceability.
//
// # Refreshing
//
// Refresher re-fetches all known rates on a cron schedule, retrying
// transient feed failures with exponential backoff. A pair that cannot
// be refreshed keeps serving its previous rate until the next run.
//
// # Usage
//
//	store, err := pricing.NewSQLiteStore(&pricing.SQLiteStoreConfig{Path: "data/pricing.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cache := pricing.NewCache(feed, store, pricing.CacheConfig{}, pricing.NewMetrics())
//
//	rate, err := cache.GetRate(ctx, "anthropic.claude-3-sonnet", "us-east-1")
package pricing
