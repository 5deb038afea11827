package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message types carried on the bus.
const (
	// TypeSuspensionRequired asks the suspension workflow to revoke a
	// principal's access once its grace deadline has passed.
	TypeSuspensionRequired = "suspension_required"

	// TypeRestorationRequired asks the restoration workflow to restore
	// a suspended principal whose refresh date has arrived.
	TypeRestorationRequired = "restoration_required"
)

// Envelope is one durable message. Delivery is at-least-once: a message
// that is received but never acknowledged becomes visible again after
// the queue's visibility timeout, with Attempts incremented.
type Envelope struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// Type selects the consumer handler (e.g., TypeSuspensionRequired).
	Type string `json:"type"`

	// Payload is the JSON-encoded message body.
	Payload []byte `json:"payload"`

	// Attempts counts deliveries of this message so far.
	Attempts int `json:"attempts"`

	// EnqueuedAt is when the message was first enqueued.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// AvailableAt is when the message next becomes visible to Receive.
	AvailableAt time.Time `json:"available_at"`
}

// SuspensionRequired is the payload of a TypeSuspensionRequired message.
type SuspensionRequired struct {
	// PrincipalID is the principal to suspend.
	PrincipalID string `json:"principal_id"`

	// Reason describes why suspension was requested.
	Reason string `json:"reason"`

	// Deadline is the grace deadline that expired. Together with the
	// principal it forms the workflow idempotency key, so a message
	// replay cannot start a second workflow for the same expiry.
	Deadline time.Time `json:"deadline"`
}

// RestorationRequired is the payload of a TypeRestorationRequired message.
type RestorationRequired struct {
	// PrincipalID is the principal to restore.
	PrincipalID string `json:"principal_id"`

	// RefreshDate is the refresh date that arrived. Together with the
	// principal it forms the workflow idempotency key.
	RefreshDate time.Time `json:"refresh_date"`
}

// NewSuspensionRequired wraps a SuspensionRequired payload in an envelope.
func NewSuspensionRequired(msg SuspensionRequired) (Envelope, error) {
	return newEnvelope(TypeSuspensionRequired, msg)
}

// NewRestorationRequired wraps a RestorationRequired payload in an envelope.
func NewRestorationRequired(msg RestorationRequired) (Envelope, error) {
	return newEnvelope(TypeRestorationRequired, msg)
}

func newEnvelope(msgType string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	now := time.Now()
	return Envelope{
		ID:          uuid.NewString(),
		Type:        msgType,
		Payload:     body,
		EnqueuedAt:  now,
		AvailableAt: now,
	}, nil
}

// DecodeSuspensionRequired extracts the payload of a
// TypeSuspensionRequired envelope.
func DecodeSuspensionRequired(env Envelope) (SuspensionRequired, error) {
	if env.Type != TypeSuspensionRequired {
		return SuspensionRequired{}, fmt.Errorf("envelope type is %q, not %q", env.Type, TypeSuspensionRequired)
	}
	var msg SuspensionRequired
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return SuspensionRequired{}, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}

// DecodeRestorationRequired extracts the payload of a
// TypeRestorationRequired envelope.
func DecodeRestorationRequired(env Envelope) (RestorationRequired, error) {
	if env.Type != TypeRestorationRequired {
		return RestorationRequired{}, fmt.Errorf("envelope type is %q, not %q", env.Type, TypeRestorationRequired)
	}
	var msg RestorationRequired
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return RestorationRequired{}, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}

// Queue is a durable message queue with at-least-once delivery.
// Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue appends a message. It is durable once Enqueue returns.
	Enqueue(ctx context.Context, env Envelope) error

	// Receive claims the oldest visible message, making it invisible
	// for the visibility timeout and incrementing its attempt count.
	// It returns (nil, nil) when no message is visible.
	Receive(ctx context.Context) (*Envelope, error)

	// Ack removes a delivered message permanently.
	Ack(ctx context.Context, id string) error

	// Depth returns the number of messages in the queue, visible or not.
	Depth(ctx context.Context) (int, error)

	// Close releases the queue's resources.
	Close() error
}
