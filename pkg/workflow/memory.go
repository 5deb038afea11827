package workflow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements ExecutionStore entirely in memory, mirroring
// the SQLite store's semantics for the memory backend and tests.
type MemoryStore struct {
	mu         sync.Mutex
	byKey      map[string]*Execution
	byID       map[string]*Execution
	deadLetter []DeadLetter
}

// NewMemoryStore creates an empty in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]*Execution),
		byID:  make(map[string]*Execution),
	}
}

// Begin returns the execution for exec.IdempotencyKey, inserting exec
// if none exists for the key yet.
func (s *MemoryStore) Begin(ctx context.Context, exec Execution) (*Execution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[exec.IdempotencyKey]; ok {
		copied := *existing
		return &copied, false, nil
	}

	exec.State = StateRunning
	exec.UpdatedAt = exec.CreatedAt
	stored := exec
	s.byKey[exec.IdempotencyKey] = &stored
	s.byID[exec.ID] = &stored

	copied := stored
	return &copied, true, nil
}

// SetStep persists the step an execution has reached.
func (s *MemoryStore) SetStep(ctx context.Context, id string, step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exec, ok := s.byID[id]; ok {
		exec.CurrentStep = step
		exec.Attempts++
		exec.UpdatedAt = time.Now()
	}
	return nil
}

// Finish moves an execution to a terminal state.
func (s *MemoryStore) Finish(ctx context.Context, id string, state State, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exec, ok := s.byID[id]; ok {
		exec.State = state
		exec.LastError = lastError
		exec.UpdatedAt = time.Now()
	}
	return nil
}

// AddDeadLetter appends a dead letter.
func (s *MemoryStore) AddDeadLetter(ctx context.Context, letter DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetter = append(s.deadLetter, letter)
	return nil
}

// DeadLetters returns all dead letters, oldest first.
func (s *MemoryStore) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, len(s.deadLetter))
	copy(out, s.deadLetter)
	return out, nil
}

// DeadLetterDepth returns the number of dead letters.
func (s *MemoryStore) DeadLetterDepth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadLetter), nil
}

// Execution returns the stored execution for an idempotency key, for
// tests and inspection.
func (s *MemoryStore) Execution(key string) (*Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	copied := *exec
	return &copied, true
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
