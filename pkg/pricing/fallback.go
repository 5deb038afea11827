package pricing

import (
	"strings"
	"time"
)

// fallbackEntry maps a model identifier substring to static per-1K-token
// USD rates. Entries are matched in order, so more specific substrings
// must come before more general ones.
type fallbackEntry struct {
	substring  string
	inputPerK  float64
	outputPerK float64
}

// fallbackTable holds conservative static rates used when neither the
// upstream feed nor the persisted store can supply a rate. Values track
// published on-demand prices and are reviewed when new model families
// ship.
var fallbackTable = []fallbackEntry{
	{"claude-sonnet-4-long-context", 0.006, 0.0225},
	{"claude-3-5-haiku", 0.001, 0.005},
	{"claude-3-opus", 0.015, 0.075},
	{"claude-3-sonnet", 0.003, 0.015},
	{"claude-3-haiku", 0.00025, 0.00125},
	{"opus", 0.015, 0.075},
	{"sonnet", 0.003, 0.015},
	{"haiku", 0.001, 0.005},
}

// defaultFallback is applied when no table entry matches the model ID.
var defaultFallback = fallbackEntry{substring: "", inputPerK: 0.003, outputPerK: 0.015}

// FallbackRate returns the static rate for a model. It always succeeds:
// unrecognized models receive the default entry. The returned rate is
// stamped with SourceFallback and the supplied time.
func FallbackRate(modelID, region string, now time.Time) Rate {
	entry := defaultFallback
	lowered := strings.ToLower(modelID)
	for _, e := range fallbackTable {
		if strings.Contains(lowered, e.substring) {
			entry = e
			break
		}
	}

	return Rate{
		ModelID:    modelID,
		Region:     region,
		InputPerK:  entry.inputPerK,
		OutputPerK: entry.outputPerK,
		Source:     SourceFallback,
		FetchedAt:  now,
	}
}
