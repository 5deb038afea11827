// Package audit defines the append-only audit event stream produced by every
// state transition in the budget engine.
//
// Audit events are the system of record for enforcement decisions: budget
// creation, spend application, threshold changes, grace-period entry,
// suspension, restoration, and workflow failures all emit one event. Sinks
// are append-only; events are never updated or deleted.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a single audit record.
type Event struct {
	// EventID uniquely identifies the event.
	EventID string `json:"event_id"`

	// EventTime is when the event occurred.
	EventTime time.Time `json:"event_time"`

	// EventSource identifies the component that produced the event
	// (e.g., "costs.calculator", "evaluator", "workflow.suspension").
	EventSource string `json:"event_source"`

	// EventType is the event name (e.g., "budget_auto_created",
	// "grace_period_started", "user_suspended").
	EventType string `json:"event_type"`

	// PrincipalID is the affected principal, or "system" for events not
	// tied to a single principal.
	PrincipalID string `json:"principal_id"`

	// Details carries free-form event context.
	Details map[string]any `json:"details,omitempty"`
}

// NewEvent constructs an event with a fresh ID and the current time.
func NewEvent(source, eventType, principalID string, details map[string]any) Event {
	if principalID == "" {
		principalID = "system"
	}
	return Event{
		EventID:     uuid.NewString(),
		EventTime:   time.Now().UTC(),
		EventSource: source,
		EventType:   eventType,
		PrincipalID: principalID,
		Details:     details,
	}
}

// Sink receives audit events. Implementations must be safe for concurrent
// use. Append failures are surfaced to the caller; callers decide whether
// an audit failure aborts the surrounding operation.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

// Append calls f(ctx, event).
func (f SinkFunc) Append(ctx context.Context, event Event) error {
	return f(ctx, event)
}
