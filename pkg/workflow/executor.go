package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"spendgate-hq/spendgate/pkg/audit"
	"spendgate-hq/spendgate/pkg/notify"
)

// ExecutorConfig contains retry and timeout policy for workflow steps.
type ExecutorConfig struct {
	// StepTimeout bounds each attempt of each step. Default: 30 seconds.
	StepTimeout time.Duration

	// MaxAttempts is the attempt budget per step before the execution
	// is declared failed and dead-lettered. Default: 5.
	MaxAttempts uint

	// InitialBackoff is the first retry delay. Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay. Default: 1 minute.
	MaxBackoff time.Duration
}

func (c *ExecutorConfig) applyDefaults() {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
}

// StepFunc runs one workflow step. Steps must be idempotent: a crashed
// execution re-runs its current step on resume. Returning ErrSkip (or
// an error wrapping it) ends the workflow cleanly without running the
// remaining steps.
type StepFunc func(ctx context.Context, exec *Execution) error

// StepDef pairs a step name with its implementation.
type StepDef struct {
	Name Step
	Run  StepFunc
}

// Definition is an ordered workflow: steps run front to back, each
// retried on failure, with progress persisted between steps.
type Definition struct {
	Type  Type
	Steps []StepDef
}

// Executor runs workflow definitions with persisted progress, per-step
// retry with exponential backoff, and dead-lettering of executions
// that exhaust their retries.
type Executor struct {
	store    ExecutionStore
	sink     audit.Sink
	notifier notify.Notifier
	config   ExecutorConfig
	metrics  *Metrics
	logger   *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(store ExecutionStore, sink audit.Sink, notifier notify.Notifier, config ExecutorConfig, metrics *Metrics) *Executor {
	config.applyDefaults()
	return &Executor{
		store:    store,
		sink:     sink,
		notifier: notifier,
		config:   config,
		metrics:  metrics,
		logger:   slog.Default().With("component", "workflow.executor"),
	}
}

// Run executes a workflow for the given idempotency key. If an
// execution already exists for the key it is resumed from its persisted
// step, or treated as done if it already reached a terminal state, so
// redelivered triggers cannot run a workflow twice.
func (x *Executor) Run(ctx context.Context, def Definition, idempotencyKey, principalID string, input any) error {
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", def.Type)
	}

	body, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to encode workflow input: %w", err)
	}

	exec, created, err := x.store.Begin(ctx, Execution{
		ID:             uuid.NewString(),
		IdempotencyKey: idempotencyKey,
		Type:           def.Type,
		PrincipalID:    principalID,
		Input:          body,
		CurrentStep:    def.Steps[0].Name,
		State:          StateRunning,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return err
	}

	if exec.Terminal() {
		x.logger.Debug("Workflow already finished, ignoring trigger",
			"type", def.Type,
			"principal_id", principalID,
			"state", exec.State,
		)
		return nil
	}

	start := 0
	if !created {
		for i, step := range def.Steps {
			if step.Name == exec.CurrentStep {
				start = i
				break
			}
		}
		x.logger.Info("Resuming workflow",
			"type", def.Type,
			"principal_id", principalID,
			"step", exec.CurrentStep,
		)
	}

	for i := start; i < len(def.Steps); i++ {
		step := def.Steps[i]
		if err := x.store.SetStep(ctx, exec.ID, step.Name); err != nil {
			return err
		}

		if err := x.runStep(ctx, step, exec); err != nil {
			if errors.Is(err, ErrSkip) {
				if err := x.store.Finish(ctx, exec.ID, StateSkipped, ""); err != nil {
					return err
				}
				x.metrics.RecordExecution(string(def.Type), string(StateSkipped))
				x.logger.Info("Workflow skipped",
					"type", def.Type,
					"principal_id", principalID,
					"step", step.Name,
				)
				return nil
			}
			return x.fail(ctx, def, exec, step, err)
		}
	}

	if err := x.store.Finish(ctx, exec.ID, StateSucceeded, ""); err != nil {
		return err
	}
	x.metrics.RecordExecution(string(def.Type), string(StateSucceeded))
	x.logger.Info("Workflow completed",
		"type", def.Type,
		"principal_id", principalID,
	)
	return nil
}

// runStep runs one step with per-attempt timeouts and exponential
// backoff until it succeeds, skips, or exhausts the attempt budget.
func (x *Executor) runStep(ctx context.Context, step StepDef, exec *Execution) error {
	attempt := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = x.config.InitialBackoff
	bo.MaxInterval = x.config.MaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		stepCtx, cancel := context.WithTimeout(ctx, x.config.StepTimeout)
		defer cancel()

		err := step.Run(stepCtx, exec)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrSkip) {
			return struct{}{}, backoff.Permanent(err)
		}

		x.metrics.RecordStepRetry(string(exec.Type), string(step.Name))
		x.logger.Warn("Workflow step failed",
			"type", exec.Type,
			"principal_id", exec.PrincipalID,
			"step", step.Name,
			"attempt", attempt,
			"error", err,
		)
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(x.config.MaxAttempts),
	)
	return err
}

// fail records a terminal failure: the execution is marked failed, its
// context is dead-lettered for manual replay, and the failure is both
// audited and raised as a high-severity notification.
func (x *Executor) fail(ctx context.Context, def Definition, exec *Execution, step StepDef, cause error) error {
	if err := x.store.Finish(ctx, exec.ID, StateFailed, cause.Error()); err != nil {
		x.logger.Error("Failed to mark execution failed", "execution_id", exec.ID, "error", err)
	}

	letter := DeadLetter{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		Type:        def.Type,
		PrincipalID: exec.PrincipalID,
		Step:        step.Name,
		Input:       exec.Input,
		Error:       cause.Error(),
		Attempts:    int(x.config.MaxAttempts),
		FailedAt:    time.Now(),
	}
	if err := x.store.AddDeadLetter(ctx, letter); err != nil {
		x.logger.Error("Failed to dead-letter execution", "execution_id", exec.ID, "error", err)
	}

	x.metrics.RecordExecution(string(def.Type), string(StateFailed))
	x.metrics.RecordDeadLetter(string(def.Type))
	x.logger.Error("Workflow failed",
		"type", def.Type,
		"principal_id", exec.PrincipalID,
		"step", step.Name,
		"error", cause,
	)

	if x.sink != nil {
		event := audit.NewEvent("workflow.executor", "workflow_failed", exec.PrincipalID, map[string]any{
			"workflow_type": string(def.Type),
			"step":          string(step.Name),
			"error":         cause.Error(),
			"execution_id":  exec.ID,
		})
		if err := x.sink.Append(ctx, event); err != nil {
			x.logger.Error("Failed to audit workflow failure", "error", err)
		}
	}

	if x.notifier != nil {
		message := fmt.Sprintf("%s workflow failed at step %s: %v", def.Type, step.Name, cause)
		if err := x.notifier.Notify(ctx, exec.PrincipalID, notify.LevelCritical, message); err != nil {
			x.logger.Error("Failed to deliver workflow failure notification", "error", err)
		}
	}

	return fmt.Errorf("workflow %s failed at step %s: %w", def.Type, step.Name, cause)
}
