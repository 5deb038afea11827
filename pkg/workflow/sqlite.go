package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id              TEXT PRIMARY KEY,
    idempotency_key TEXT NOT NULL UNIQUE,
    type            TEXT NOT NULL,
    principal_id    TEXT NOT NULL,
    input           TEXT NOT NULL,
    current_step    TEXT NOT NULL,
    state           TEXT NOT NULL,
    attempts        INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_principal
    ON executions (principal_id, type);

CREATE TABLE IF NOT EXISTS dead_letters (
    id           TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL,
    type         TEXT NOT NULL,
    principal_id TEXT NOT NULL,
    step         TEXT NOT NULL,
    input        TEXT NOT NULL,
    error        TEXT NOT NULL,
    attempts     INTEGER NOT NULL,
    failed_at    INTEGER NOT NULL
);
`

// SQLiteStoreConfig contains configuration for the SQLite execution store.
type SQLiteStoreConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// SQLiteStore implements ExecutionStore using SQLite. The unique
// idempotency key makes execution creation a race that exactly one
// caller wins; everyone else attaches to the winner's row.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if necessary) the workflow database at
// the configured path.
func NewSQLiteStore(config *SQLiteStoreConfig) (*SQLiteStore, error) {
	if config == nil {
		config = &SQLiteStoreConfig{Path: "data/workflows.db"}
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "workflow.store")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow database: %w", err)
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
		return nil, fmt.Errorf("failed to create workflow schema: %w", err)
	}

	logger.Info("Workflow store initialized", "path", config.Path)

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Begin returns the execution for exec.IdempotencyKey, inserting exec
// if no execution exists for the key yet.
func (s *SQLiteStore) Begin(ctx context.Context, exec Execution) (*Execution, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, idempotency_key, type, principal_id, input, current_step, state, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, exec.ID, exec.IdempotencyKey, string(exec.Type), exec.PrincipalID, string(exec.Input),
		string(exec.CurrentStep), string(StateRunning),
		exec.CreatedAt.UnixMilli(), exec.CreatedAt.UnixMilli())
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read begin result: %w", err)
	}

	current, err := s.getByKey(ctx, exec.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return current, affected > 0, nil
}

func (s *SQLiteStore) getByKey(ctx context.Context, key string) (*Execution, error) {
	var (
		exec      Execution
		input     string
		createdMs int64
		updatedMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, type, principal_id, input, current_step, state, attempts, last_error, created_at, updated_at
		FROM executions
		WHERE idempotency_key = ?
	`, key).Scan(&exec.ID, &exec.IdempotencyKey, &exec.Type, &exec.PrincipalID, &input,
		&exec.CurrentStep, &exec.State, &exec.Attempts, &exec.LastError, &createdMs, &updatedMs)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution %s: %w", key, err)
	}

	exec.Input = []byte(input)
	exec.CreatedAt = time.UnixMilli(createdMs)
	exec.UpdatedAt = time.UnixMilli(updatedMs)
	return &exec, nil
}

// SetStep persists the step an execution has reached and counts the
// visit as an attempt.
func (s *SQLiteStore) SetStep(ctx context.Context, id string, step Step) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET current_step = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ?
	`, string(step), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to set step for execution %s: %w", id, err)
	}
	return nil
}

// Finish moves an execution to a terminal state.
func (s *SQLiteStore) Finish(ctx context.Context, id string, state State, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET state = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, string(state), lastError, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to finish execution %s: %w", id, err)
	}
	return nil
}

// AddDeadLetter appends a dead letter.
func (s *SQLiteStore) AddDeadLetter(ctx context.Context, letter DeadLetter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, execution_id, type, principal_id, step, input, error, attempts, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, letter.ID, letter.ExecutionID, string(letter.Type), letter.PrincipalID, string(letter.Step),
		string(letter.Input), letter.Error, letter.Attempts, letter.FailedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to add dead letter: %w", err)
	}
	return nil
}

// DeadLetters returns all dead letters, oldest first.
func (s *SQLiteStore) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, type, principal_id, step, input, error, attempts, failed_at
		FROM dead_letters
		ORDER BY failed_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			letter   DeadLetter
			input    string
			failedMs int64
		)
		if err := rows.Scan(&letter.ID, &letter.ExecutionID, &letter.Type, &letter.PrincipalID,
			&letter.Step, &input, &letter.Error, &letter.Attempts, &failedMs); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		letter.Input = []byte(input)
		letter.FailedAt = time.UnixMilli(failedMs)
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

// DeadLetterDepth returns the number of dead letters.
func (s *SQLiteStore) DeadLetterDepth(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
