// Package workflow runs the suspension and restoration state machines.
//
// Each workflow is an ordered list of idempotent steps. The executor
// persists the step an execution has reached after every transition,
// so a process crash resumes the execution from its current step, not
// from the beginning, and already-completed steps are never rolled
// back. Recovery is forward-only.
//
// # Idempotency
//
// Executions are deduplicated by an idempotency key derived from the
// trigger: principal plus grace deadline for suspension, principal
// plus refresh date for restoration. The trigger bus delivers
// at-least-once, so a redelivered message finds the existing execution
// and either resumes it or, if it already reached a terminal state,
// does nothing.
//
// # Failure handling
//
// Each step runs under a timeout and is retried with exponential
// backoff up to a bounded attempt budget. A step that exhausts its
// budget moves the execution to the failed state, preserves the full
// context (input, step, error, attempt count) in the dead-letter table
// for manual replay, appends an audit event, and raises a
// high-severity notification. A step may instead return ErrSkip to end
// the workflow cleanly when its precondition no longer holds, such as
// restoring a principal that is not suspended.
package workflow
