// Package access defines the external access controller contract.
//
// The access controller is the collaborator that physically applies and
// lifts suspensions (IAM policy detachment, API key revocation, gateway
// deny-lists). The engine only requires that its operations are idempotent:
// suspending an already-suspended principal and restoring an already-active
// principal are both no-ops.
package access

import (
	"context"
	"sync"
)

// Controller applies and lifts access suspensions for principals.
//
// All methods must be idempotent and must honor context cancellation;
// callers wrap invocations in per-call timeouts.
type Controller interface {
	// Suspend revokes the principal's access to the metered API.
	Suspend(ctx context.Context, principalID string) error

	// Restore reinstates the principal's access.
	Restore(ctx context.Context, principalID string) error

	// IsSuspended reports whether the principal's access is currently
	// revoked at the controller.
	IsSuspended(ctx context.Context, principalID string) (bool, error)
}

// MemoryController is an in-process Controller used in tests and local runs.
// It records suspension state in a map and is safe for concurrent use.
type MemoryController struct {
	mu        sync.RWMutex
	suspended map[string]bool

	// Optional fault injection for tests. When set, the corresponding
	// operation returns the error instead of mutating state.
	SuspendErr error
	RestoreErr error
}

// NewMemoryController creates an empty in-memory controller.
func NewMemoryController() *MemoryController {
	return &MemoryController{
		suspended: make(map[string]bool),
	}
}

// Suspend marks the principal suspended. Repeated calls are no-ops.
func (c *MemoryController) Suspend(ctx context.Context, principalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.SuspendErr != nil {
		return c.SuspendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended[principalID] = true
	return nil
}

// Restore clears the principal's suspension. Repeated calls are no-ops.
func (c *MemoryController) Restore(ctx context.Context, principalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.RestoreErr != nil {
		return c.RestoreErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.suspended, principalID)
	return nil
}

// IsSuspended reports the recorded suspension state.
func (c *MemoryController) IsSuspended(ctx context.Context, principalID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.suspended[principalID], nil
}
