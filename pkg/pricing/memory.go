package pricing

import (
	"context"
	"sync"
)

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, modelID, region string) (Rate, error)

// FetchRate calls f.
func (f SourceFunc) FetchRate(ctx context.Context, modelID, region string) (Rate, error) {
	return f(ctx, modelID, region)
}

// MemoryStore implements Store entirely in memory. It backs the memory
// ledger configuration and tests; persisted rates do not survive
// process restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	rates map[cacheKey]Rate
}

// NewMemoryStore creates an empty in-memory rate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rates: make(map[cacheKey]Rate)}
}

// Put inserts or replaces the rate for the rate's model/region pair.
func (s *MemoryStore) Put(ctx context.Context, rate Rate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[cacheKey{modelID: rate.ModelID, region: rate.Region}] = rate
	return nil
}

// Get returns the stored rate for a model/region pair, stamped
// SourceCached like its SQLite counterpart.
func (s *MemoryStore) Get(ctx context.Context, modelID, region string) (Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate, ok := s.rates[cacheKey{modelID: modelID, region: region}]
	if !ok {
		return Rate{}, ErrRateNotFound
	}
	rate.Source = SourceCached
	return rate, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
