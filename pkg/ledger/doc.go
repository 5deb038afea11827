// Package ledger is the durable budget ledger: per-principal budget state
// with atomic spend increments and conditional status transitions.
//
// # Overview
//
// The ledger is the single source of truth for enforcement. It exclusively
// owns BudgetRecord mutation; the cost calculator, threshold evaluator, and
// enforcement workflows all request mutations through the Store interface so
// invariants are checked in one place:
//
//   - spent_usd never decreases within a budget period
//   - grace_deadline is set iff status is grace_period
//   - status only transitions along active -> grace_period -> suspended -> active
//
// # Concurrency
//
// Components never lock around the ledger. Every state-dependent write is a
// conditional operation whose precondition travels with it (status or
// threshold-state compare-and-swap); losing a race yields ErrConflict and
// the caller re-reads and re-evaluates. Spend application serializes within
// a principal at the storage layer via atomic increments.
//
// # Backends
//
//   - SQLiteStore: WAL-mode SQLite persistence for single-instance deployments
//   - MemoryStore: map-based store for tests and local runs
//
// # Usage
//
//	store, err := ledger.NewSQLiteStore("data/ledger.db")
//	if err != nil { ... }
//	defer store.Close()
//
//	record, dup, err := store.ApplyUsage(ctx, event, defaults)
//	if dup {
//	    // at-least-once delivery replayed an event; nothing changed
//	}
package ledger
