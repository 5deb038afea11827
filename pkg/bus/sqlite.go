package bus

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// schema holds the durable message table. available_at implements the
// visibility timeout: Receive only claims rows whose available_at has
// passed, and claiming pushes it into the future.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id           TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    payload      TEXT NOT NULL,
    attempts     INTEGER NOT NULL DEFAULT 0,
    enqueued_at  INTEGER NOT NULL,
    available_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_available
    ON messages (available_at, enqueued_at);
`

// SQLiteQueueConfig contains configuration for the SQLite queue.
type SQLiteQueueConfig struct {
	// Path is the database file path.
	Path string

	// VisibilityTimeout is how long a received message stays invisible
	// before an unacknowledged delivery is retried. Default: 5 minutes.
	VisibilityTimeout time.Duration

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// SQLiteQueue implements Queue using SQLite. A single writer connection
// serializes claims, so two concurrent receivers can never claim the
// same message.
type SQLiteQueue struct {
	db         *sql.DB
	visibility time.Duration
	logger     *slog.Logger
}

// NewSQLiteQueue opens (creating if necessary) the queue database at
// the configured path.
func NewSQLiteQueue(config *SQLiteQueueConfig) (*SQLiteQueue, error) {
	if config == nil {
		config = &SQLiteQueueConfig{Path: "data/queue.db"}
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 5 * time.Minute
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "bus.queue")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", config.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}

	logger.Info("Message queue initialized",
		"path", config.Path,
		"visibility_timeout", config.VisibilityTimeout.String(),
	)

	return &SQLiteQueue{
		db:         db,
		visibility: config.VisibilityTimeout,
		logger:     logger,
	}, nil
}

// Enqueue appends a message. Re-enqueueing an ID that is already queued
// is a no-op, which lets producers retry an enqueue safely.
func (q *SQLiteQueue) Enqueue(ctx context.Context, env Envelope) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, type, payload, attempts, enqueued_at, available_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, env.ID, env.Type, string(env.Payload), env.Attempts,
		env.EnqueuedAt.UnixMilli(), env.AvailableAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue %s message: %w", env.Type, err)
	}
	return nil
}

// Receive claims the oldest visible message. The claim is a single
// conditional UPDATE, so concurrent receivers cannot claim the same row.
func (q *SQLiteQueue) Receive(ctx context.Context) (*Envelope, error) {
	now := time.Now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin receive transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		env         Envelope
		payload     string
		enqueuedMs  int64
		availableMs int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, type, payload, attempts, enqueued_at, available_at
		FROM messages
		WHERE available_at <= ?
		ORDER BY enqueued_at
		LIMIT 1
	`, now.UnixMilli()).Scan(&env.ID, &env.Type, &payload, &env.Attempts, &enqueuedMs, &availableMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select visible message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET attempts = attempts + 1, available_at = ?
		WHERE id = ? AND available_at <= ?
	`, now.Add(q.visibility).UnixMilli(), env.ID, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to claim message %s: %w", env.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected == 0 {
		// Another receiver claimed it between the select and the update.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit receive: %w", err)
	}

	env.Payload = []byte(payload)
	env.Attempts++
	env.EnqueuedAt = time.UnixMilli(enqueuedMs)
	env.AvailableAt = now.Add(q.visibility)
	return &env, nil
}

// Ack removes a delivered message permanently. Acking an already
// removed message is a no-op.
func (q *SQLiteQueue) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", id, err)
	}
	return nil
}

// Depth returns the number of messages in the queue, visible or not.
func (q *SQLiteQueue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
