// Package notify defines the notification contract for budget alerts.
//
// Delivery mechanics (email, chat, SMS) live outside the engine; the engine
// only emits typed notifications at the configured severity. The built-in
// LogNotifier writes notifications to the structured log, which is the
// default for local runs and tests.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Level is the notification severity.
type Level string

const (
	// LevelWarning is sent when spend crosses the warn threshold.
	LevelWarning Level = "warning"

	// LevelCritical is sent when spend crosses the critical threshold.
	LevelCritical Level = "critical"

	// LevelGrace is sent when a principal enters the grace period.
	LevelGrace Level = "grace"

	// LevelFinal is the last warning before suspension is applied.
	LevelFinal Level = "final"

	// LevelSuspended is sent after access has been revoked.
	LevelSuspended Level = "suspended"

	// LevelRestored is sent after access has been reinstated.
	LevelRestored Level = "restored"
)

// Notifier delivers a notification about a principal's budget state.
// Implementations must be safe for concurrent use and should honor
// context cancellation; callers wrap invocations in per-call timeouts.
type Notifier interface {
	Notify(ctx context.Context, principalID string, level Level, message string) error
}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
// A nil logger falls back to slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify logs the notification. Warning-class levels log at Warn, the
// rest at Info.
func (n *LogNotifier) Notify(ctx context.Context, principalID string, level Level, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attrs := []any{"principal_id", principalID, "level", string(level)}
	switch level {
	case LevelWarning, LevelCritical, LevelGrace, LevelFinal:
		n.logger.Warn(message, attrs...)
	default:
		n.logger.Info(message, attrs...)
	}
	return nil
}

// Recorder captures notifications in memory for tests.
type Recorder struct {
	mu sync.Mutex

	// Sent holds every delivered notification in order.
	Sent []Notification

	// Err, when set, is returned by Notify without recording.
	Err error
}

// Notification is one recorded delivery.
type Notification struct {
	PrincipalID string
	Level       Level
	Message     string
}

// Notify records the notification.
func (r *Recorder) Notify(ctx context.Context, principalID string, level Level, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Sent = append(r.Sent, Notification{PrincipalID: principalID, Level: level, Message: message})
	return nil
}

// ByLevel returns recorded notifications matching the level.
func (r *Recorder) ByLevel(level Level) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.Sent {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out
}
