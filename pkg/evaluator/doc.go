// Package evaluator classifies per-principal spend against budget
// thresholds and drives enforcement.
//
// Two scans run on independent cadences:
//
//   - The threshold scan (every few minutes) compares each principal's
//     spend ratio against the warning and critical thresholds, sends at
//     most one alert per crossing, moves exhausted principals into the
//     grace period, and requests suspension once a grace deadline has
//     passed.
//   - The refresh scan (daily) requests restoration for suspended
//     principals whose refresh date has arrived and rolls active
//     budget periods over in place.
//
// All state changes are conditional writes against the ledger, so
// overlapping scans, racing ingest, and process restarts cannot send a
// duplicate alert or shorten a grace period. Suspension and restoration
// are never performed inline; the evaluator enqueues durable requests
// that the workflow consumer executes.
package evaluator
