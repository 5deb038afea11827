package costs

import (
	"spendgate-hq/spendgate/pkg/pricing"
)

// CacheReadFraction is the fraction of the input token rate billed for
// cache-read tokens. Cache writes bill at the full input rate.
const CacheReadFraction = 0.10

// TokenUsage holds the token counts from one metered API request.
type TokenUsage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// Total returns the total number of tokens across all categories.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheWriteTokens + u.CacheReadTokens
}

// Calculate returns the USD cost of the given token usage at the given
// rate. Rates are per 1000 tokens; cache writes bill at the input rate
// and cache reads at CacheReadFraction of it.
func Calculate(rate pricing.Rate, usage TokenUsage) float64 {
	inputCost := float64(usage.InputTokens) / 1000 * rate.InputPerK
	outputCost := float64(usage.OutputTokens) / 1000 * rate.OutputPerK
	cacheWriteCost := float64(usage.CacheWriteTokens) / 1000 * rate.InputPerK
	cacheReadCost := float64(usage.CacheReadTokens) / 1000 * rate.InputPerK * CacheReadFraction

	return inputCost + outputCost + cacheWriteCost + cacheReadCost
}
