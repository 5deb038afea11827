// Package costs attributes monetary cost to metered API usage.
//
// The cost of a request is computed from its token counts and the
// per-1K-token rate for its model and region:
//
//	cost = input/1000*inRate + output/1000*outRate
//	     + cacheWrite/1000*inRate + cacheRead/1000*inRate*0.10
//
// Cache writes bill at the full input rate; cache reads at 10% of it.
//
// Ingestor is the write path into the budget ledger. Each raw usage
// record is validated, priced through the pricing cache, and applied to
// the ledger atomically. Records sharing a RequestID are applied at
// most once, so a replayed delivery cannot double-bill a principal.
// Invalid records are dropped with an audit entry rather than failing
// the batch they arrived in.
package costs
