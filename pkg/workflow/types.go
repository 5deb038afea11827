package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Type identifies a workflow kind.
type Type string

const (
	// TypeSuspension revokes an exhausted principal's access.
	TypeSuspension Type = "suspension"

	// TypeRestoration reinstates a suspended principal.
	TypeRestoration Type = "restoration"
)

// Step identifies one stage of a workflow. The step reached is persisted
// after every transition, so a crashed execution resumes from the step
// it was on rather than from the beginning.
type Step string

// Suspension workflow steps, in order.
const (
	StepNotifyGrace     Step = "notify_grace"
	StepWaitGrace       Step = "wait_grace"
	StepNotifyFinal     Step = "notify_final"
	StepApplySuspension Step = "apply_suspension"
	StepUpdateStatus    Step = "update_status"
	StepAuditSuspension Step = "audit_suspension"
)

// Restoration workflow steps, in order.
const (
	StepValidateEligibility Step = "validate_eligibility"
	StepRestoreAccess       Step = "restore_access"
	StepVerifyRestoration   Step = "verify_restoration"
	StepResetBudget         Step = "reset_budget"
	StepAuditRestoration    Step = "audit_restoration"
)

// State is the lifecycle state of one execution.
type State string

const (
	// StateRunning means the execution has steps left to run.
	StateRunning State = "running"

	// StateSucceeded means every step completed.
	StateSucceeded State = "succeeded"

	// StateSkipped means a step determined the workflow does not apply
	// (e.g., restoration of a principal that is not suspended).
	StateSkipped State = "skipped"

	// StateFailed means a step exhausted its retries. The execution
	// context is preserved in the dead-letter table for manual replay.
	StateFailed State = "failed"
)

// ErrSkip is returned by a step to terminate the workflow cleanly
// without running its remaining steps.
var ErrSkip = errors.New("workflow: skipped")

// Execution is the persisted state of one workflow run. Executions are
// deduplicated by IdempotencyKey, so redelivered trigger messages
// attach to the existing execution instead of starting a second one.
type Execution struct {
	// ID uniquely identifies the execution.
	ID string

	// IdempotencyKey deduplicates executions. For suspension it is
	// principal+grace deadline; for restoration, principal+refresh date.
	IdempotencyKey string

	// Type is the workflow kind.
	Type Type

	// PrincipalID is the principal the workflow acts on.
	PrincipalID string

	// Input is the JSON-encoded trigger payload.
	Input json.RawMessage

	// CurrentStep is the step the execution has reached.
	CurrentStep Step

	// State is the lifecycle state.
	State State

	// Attempts counts executor runs of this execution, across restarts.
	Attempts int

	// LastError holds the most recent step failure, if any.
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the execution has finished.
func (e *Execution) Terminal() bool {
	return e.State == StateSucceeded || e.State == StateSkipped || e.State == StateFailed
}

// DeadLetter preserves a failed execution's context for manual replay.
type DeadLetter struct {
	// ID uniquely identifies the dead letter.
	ID string

	// ExecutionID is the failed execution.
	ExecutionID string

	// Type is the workflow kind.
	Type Type

	// PrincipalID is the principal the workflow acted on.
	PrincipalID string

	// Step is the step that exhausted its retries.
	Step Step

	// Input is the original trigger payload.
	Input json.RawMessage

	// Error is the final error message.
	Error string

	// Attempts is the retry count at failure.
	Attempts int

	// FailedAt is when the execution was declared failed.
	FailedAt time.Time
}

// ExecutionStore persists executions and dead letters.
// Implementations must be safe for concurrent use.
type ExecutionStore interface {
	// Begin returns the execution for the idempotency key, creating it
	// at the first step if none exists. created reports whether this
	// call created it.
	Begin(ctx context.Context, exec Execution) (current *Execution, created bool, err error)

	// SetStep persists the step an execution has reached.
	SetStep(ctx context.Context, id string, step Step) error

	// Finish moves an execution to a terminal state.
	Finish(ctx context.Context, id string, state State, lastError string) error

	// AddDeadLetter appends a dead letter.
	AddDeadLetter(ctx context.Context, letter DeadLetter) error

	// DeadLetters returns all dead letters, oldest first.
	DeadLetters(ctx context.Context) ([]DeadLetter, error)

	// DeadLetterDepth returns the number of dead letters.
	DeadLetterDepth(ctx context.Context) (int, error)

	// Close releases the store's resources.
	Close() error
}
