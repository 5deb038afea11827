package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one delivered message. Returning nil acknowledges
// the message; returning an error leaves it for redelivery after the
// visibility timeout.
type Handler func(ctx context.Context, env Envelope) error

// ConsumerConfig contains configuration for the poll loop.
type ConsumerConfig struct {
	// PollInterval is how long to sleep when the queue is empty.
	// Default: 1 second.
	PollInterval time.Duration

	// MaxDeliveries caps redelivery of a message that keeps failing.
	// A message delivered more than this many times is dropped with an
	// error log instead of being retried forever. Default: 10.
	MaxDeliveries int
}

// Consumer polls a queue and dispatches messages to handlers by type.
type Consumer struct {
	queue  Queue
	config ConsumerConfig
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewConsumer creates a consumer for the given queue.
func NewConsumer(queue Queue, config ConsumerConfig) *Consumer {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxDeliveries <= 0 {
		config.MaxDeliveries = 10
	}
	return &Consumer{
		queue:    queue,
		config:   config,
		logger:   slog.Default().With("component", "bus.consumer"),
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for a message type. Registering a type
// twice replaces the previous handler.
func (c *Consumer) Handle(msgType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// Run polls the queue and dispatches messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer started", "poll_interval", c.config.PollInterval.String())

	for {
		env, err := c.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to receive message", "error", err)
		}

		if env == nil {
			select {
			case <-ctx.Done():
				c.logger.Info("Consumer stopped")
				return nil
			case <-time.After(c.config.PollInterval):
			}
			continue
		}

		c.dispatch(ctx, *env)
	}
}

// dispatch runs the handler for one message and acknowledges on success.
func (c *Consumer) dispatch(ctx context.Context, env Envelope) {
	c.mu.Lock()
	handler, ok := c.handlers[env.Type]
	c.mu.Unlock()

	if !ok {
		c.logger.Error("No handler for message type, dropping",
			"type", env.Type,
			"message_id", env.ID,
		)
		c.ack(ctx, env)
		return
	}

	if env.Attempts > c.config.MaxDeliveries {
		c.logger.Error("Message exceeded delivery limit, dropping",
			"type", env.Type,
			"message_id", env.ID,
			"attempts", env.Attempts,
		)
		c.ack(ctx, env)
		return
	}

	if err := handler(ctx, env); err != nil {
		c.logger.Warn("Handler failed, message will be redelivered",
			"type", env.Type,
			"message_id", env.ID,
			"attempts", env.Attempts,
			"error", err,
		)
		return
	}

	c.ack(ctx, env)
}

func (c *Consumer) ack(ctx context.Context, env Envelope) {
	if err := c.queue.Ack(ctx, env.ID); err != nil {
		c.logger.Error("Failed to ack message",
			"message_id", env.ID,
			"error", err,
		)
	}
}
