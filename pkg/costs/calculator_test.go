package costs

import (
	"math"
	"testing"

	"spendgate-hq/spendgate/pkg/pricing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestCalculate(t *testing.T) {
	sonnet := pricing.Rate{InputPerK: 0.003, OutputPerK: 0.015}

	tests := []struct {
		name  string
		rate  pricing.Rate
		usage TokenUsage
		want  float64
	}{
		{
			name:  "input and output only",
			rate:  sonnet,
			usage: TokenUsage{InputTokens: 1000, OutputTokens: 1000},
			want:  0.003 + 0.015,
		},
		{
			name:  "zero tokens cost nothing",
			rate:  sonnet,
			usage: TokenUsage{},
			want:  0,
		},
		{
			name:  "cache write bills at input rate",
			rate:  sonnet,
			usage: TokenUsage{CacheWriteTokens: 2000},
			want:  2 * 0.003,
		},
		{
			name:  "cache read bills at a tenth of input rate",
			rate:  sonnet,
			usage: TokenUsage{CacheReadTokens: 10000},
			want:  10 * 0.003 * 0.10,
		},
		{
			name: "all categories combined",
			rate: sonnet,
			usage: TokenUsage{
				InputTokens:      500,
				OutputTokens:     200,
				CacheWriteTokens: 1000,
				CacheReadTokens:  5000,
			},
			want: 0.5*0.003 + 0.2*0.015 + 1*0.003 + 5*0.003*0.10,
		},
		{
			name:  "sub-1K counts scale linearly",
			rate:  pricing.Rate{InputPerK: 0.015, OutputPerK: 0.075},
			usage: TokenUsage{InputTokens: 100, OutputTokens: 50},
			want:  0.1*0.015 + 0.05*0.075,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.rate, tt.usage)
			if !almostEqual(got, tt.want) {
				t.Errorf("Calculate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculate_CacheReadIsTenthOfEquivalentInput(t *testing.T) {
	rate := pricing.Rate{InputPerK: 0.003, OutputPerK: 0.015}

	asInput := Calculate(rate, TokenUsage{InputTokens: 7500})
	asCacheRead := Calculate(rate, TokenUsage{CacheReadTokens: 7500})

	if !almostEqual(asCacheRead, asInput*CacheReadFraction) {
		t.Errorf("cache read cost = %v, want %v (10%% of input cost %v)",
			asCacheRead, asInput*CacheReadFraction, asInput)
	}
}

func TestTokenUsage_Total(t *testing.T) {
	u := TokenUsage{InputTokens: 1, OutputTokens: 2, CacheWriteTokens: 3, CacheReadTokens: 4}
	if got := u.Total(); got != 10 {
		t.Errorf("Total() = %d, want 10", got)
	}
}
