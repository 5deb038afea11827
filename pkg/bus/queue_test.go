package bus

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// queueFactories lets every semantic test run against both backends.
var queueFactories = map[string]func(t *testing.T, visibility time.Duration) Queue{
	"sqlite": func(t *testing.T, visibility time.Duration) Queue {
		q, err := NewSQLiteQueue(&SQLiteQueueConfig{
			Path:              filepath.Join(t.TempDir(), "queue.db"),
			VisibilityTimeout: visibility,
		})
		if err != nil {
			t.Fatalf("failed to create sqlite queue: %v", err)
		}
		t.Cleanup(func() { q.Close() })
		return q
	},
	"memory": func(t *testing.T, visibility time.Duration) Queue {
		return NewMemoryQueue(visibility)
	},
}

func TestQueue_EnqueueReceiveAck(t *testing.T) {
	for name, factory := range queueFactories {
		t.Run(name, func(t *testing.T) {
			q := factory(t, 5*time.Minute)
			ctx := context.Background()

			env, err := NewSuspensionRequired(SuspensionRequired{
				PrincipalID: "svc-api",
				Reason:      "budget exceeded",
				Deadline:    time.Now(),
			})
			if err != nil {
				t.Fatalf("NewSuspensionRequired failed: %v", err)
			}

			if err := q.Enqueue(ctx, env); err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}

			got, err := q.Receive(ctx)
			if err != nil {
				t.Fatalf("Receive failed: %v", err)
			}
			if got == nil {
				t.Fatal("Receive returned nil for a visible message")
			}
			if got.ID != env.ID {
				t.Errorf("received id = %q, want %q", got.ID, env.ID)
			}
			if got.Attempts != 1 {
				t.Errorf("attempts = %d, want 1", got.Attempts)
			}

			msg, err := DecodeSuspensionRequired(*got)
			if err != nil {
				t.Fatalf("DecodeSuspensionRequired failed: %v", err)
			}
			if msg.PrincipalID != "svc-api" {
				t.Errorf("principal = %q, want svc-api", msg.PrincipalID)
			}

			if err := q.Ack(ctx, got.ID); err != nil {
				t.Fatalf("Ack failed: %v", err)
			}

			depth, err := q.Depth(ctx)
			if err != nil {
				t.Fatalf("Depth failed: %v", err)
			}
			if depth != 0 {
				t.Errorf("depth = %d, want 0 after ack", depth)
			}
		})
	}
}

func TestQueue_ReceivedMessageIsInvisible(t *testing.T) {
	for name, factory := range queueFactories {
		t.Run(name, func(t *testing.T) {
			q := factory(t, 5*time.Minute)
			ctx := context.Background()

			env, _ := NewRestorationRequired(RestorationRequired{PrincipalID: "svc-api", RefreshDate: time.Now()})
			if err := q.Enqueue(ctx, env); err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}

			first, err := q.Receive(ctx)
			if err != nil || first == nil {
				t.Fatalf("first Receive = (%v, %v), want message", first, err)
			}

			second, err := q.Receive(ctx)
			if err != nil {
				t.Fatalf("second Receive failed: %v", err)
			}
			if second != nil {
				t.Error("claimed message was delivered again inside visibility window")
			}
		})
	}
}

func TestQueue_UnackedMessageIsRedelivered(t *testing.T) {
	for name, factory := range queueFactories {
		t.Run(name, func(t *testing.T) {
			q := factory(t, 50*time.Millisecond)
			ctx := context.Background()

			env, _ := NewSuspensionRequired(SuspensionRequired{PrincipalID: "svc-api"})
			if err := q.Enqueue(ctx, env); err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}

			first, err := q.Receive(ctx)
			if err != nil || first == nil {
				t.Fatalf("first Receive = (%v, %v), want message", first, err)
			}

			// Never ack; wait out the visibility timeout.
			time.Sleep(80 * time.Millisecond)

			second, err := q.Receive(ctx)
			if err != nil {
				t.Fatalf("redelivery Receive failed: %v", err)
			}
			if second == nil {
				t.Fatal("expected redelivery after visibility timeout")
			}
			if second.Attempts != 2 {
				t.Errorf("attempts = %d, want 2 on redelivery", second.Attempts)
			}
		})
	}
}

func TestQueue_FIFOWithinVisible(t *testing.T) {
	for name, factory := range queueFactories {
		t.Run(name, func(t *testing.T) {
			q := factory(t, 5*time.Minute)
			ctx := context.Background()

			for i, principal := range []string{"first", "second", "third"} {
				env, _ := NewSuspensionRequired(SuspensionRequired{PrincipalID: principal})
				env.EnqueuedAt = env.EnqueuedAt.Add(time.Duration(i) * time.Millisecond)
				if err := q.Enqueue(ctx, env); err != nil {
					t.Fatalf("Enqueue failed: %v", err)
				}
			}

			for _, want := range []string{"first", "second", "third"} {
				got, err := q.Receive(ctx)
				if err != nil || got == nil {
					t.Fatalf("Receive = (%v, %v), want message", got, err)
				}
				msg, err := DecodeSuspensionRequired(*got)
				if err != nil {
					t.Fatalf("decode failed: %v", err)
				}
				if msg.PrincipalID != want {
					t.Errorf("delivery order: got %q, want %q", msg.PrincipalID, want)
				}
			}
		})
	}
}

func TestQueue_DuplicateEnqueueIsNoOp(t *testing.T) {
	for name, factory := range queueFactories {
		t.Run(name, func(t *testing.T) {
			q := factory(t, 5*time.Minute)
			ctx := context.Background()

			env, _ := NewSuspensionRequired(SuspensionRequired{PrincipalID: "svc-api"})
			if err := q.Enqueue(ctx, env); err != nil {
				t.Fatalf("first Enqueue failed: %v", err)
			}
			if err := q.Enqueue(ctx, env); err != nil {
				t.Fatalf("second Enqueue failed: %v", err)
			}

			depth, err := q.Depth(ctx)
			if err != nil {
				t.Fatalf("Depth failed: %v", err)
			}
			if depth != 1 {
				t.Errorf("depth = %d, want 1 after duplicate enqueue", depth)
			}
		})
	}
}

func TestDecode_WrongType(t *testing.T) {
	env, _ := NewSuspensionRequired(SuspensionRequired{PrincipalID: "svc-api"})

	if _, err := DecodeRestorationRequired(env); err == nil {
		t.Error("expected error decoding suspension envelope as restoration")
	}
}

// ============================================================================
// Consumer
// ============================================================================

func TestConsumer_DispatchesAndAcks(t *testing.T) {
	q := NewMemoryQueue(5 * time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, _ := NewSuspensionRequired(SuspensionRequired{PrincipalID: "svc-api"})
	if err := q.Enqueue(ctx, env); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	handled := make(chan string, 1)
	consumer := NewConsumer(q, ConsumerConfig{PollInterval: 10 * time.Millisecond})
	consumer.Handle(TypeSuspensionRequired, func(ctx context.Context, env Envelope) error {
		msg, err := DecodeSuspensionRequired(env)
		if err != nil {
			return err
		}
		handled <- msg.PrincipalID
		return nil
	})

	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	select {
	case principal := <-handled:
		if principal != "svc-api" {
			t.Errorf("handled principal = %q, want svc-api", principal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}

	// Give the ack a moment, then verify the queue drained.
	deadline := time.Now().Add(time.Second)
	for {
		depth, err := q.Depth(ctx)
		if err != nil {
			t.Fatalf("Depth failed: %v", err)
		}
		if depth == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue depth = %d, want 0 after successful handling", depth)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestConsumer_FailedHandlerLeavesMessageForRedelivery(t *testing.T) {
	q := NewMemoryQueue(30 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, _ := NewSuspensionRequired(SuspensionRequired{PrincipalID: "svc-api"})
	if err := q.Enqueue(ctx, env); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	deliveries := make(chan int, 16)
	consumer := NewConsumer(q, ConsumerConfig{PollInterval: 10 * time.Millisecond})
	consumer.Handle(TypeSuspensionRequired, func(ctx context.Context, env Envelope) error {
		deliveries <- env.Attempts
		if env.Attempts < 2 {
			return errors.New("transient failure")
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	seen := 0
	timeout := time.After(3 * time.Second)
	for seen < 2 {
		select {
		case <-deliveries:
			seen++
		case <-timeout:
			t.Fatalf("saw %d deliveries, want 2 (redelivery after failure)", seen)
		}
	}

	cancel()
	<-done
}
