package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"spendgate-hq/spendgate/pkg/audit"
)

// SQLiteStore implements Store using SQLite for persistence. It is suitable
// for single-instance deployments where budget state must survive restarts.
//
// The store uses a write-ahead log (WAL) for better concurrent performance
// and periodic checkpointing to balance write performance with durability.
// Conditional writes are expressed as UPDATE statements whose WHERE clause
// carries the precondition; zero affected rows maps to ErrConflict.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	getStmt      *sql.Stmt
	usageStmt    *sql.Stmt
	addSpendStmt *sql.Stmt
	auditStmt    *sql.Stmt
}

// SQLiteConfig configures the SQLite ledger store.
type SQLiteConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes.
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a ledger store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig creates a ledger store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	store := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go store.checkpointLoop()

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS budget_records (
		principal_id        TEXT PRIMARY KEY,
		budget_limit_usd    REAL NOT NULL,
		spent_usd           REAL NOT NULL DEFAULT 0,
		status              TEXT NOT NULL,
		threshold_state     TEXT NOT NULL,
		budget_period_start INTEGER NOT NULL,
		budget_refresh_date INTEGER NOT NULL,
		grace_deadline      INTEGER,
		refresh_count       INTEGER NOT NULL DEFAULT 0,
		created_at          INTEGER NOT NULL,
		last_updated        INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_events (
		request_id          TEXT PRIMARY KEY,
		principal_id        TEXT NOT NULL,
		ts                  INTEGER NOT NULL,
		model_id            TEXT NOT NULL,
		region              TEXT NOT NULL,
		input_tokens        INTEGER NOT NULL,
		output_tokens       INTEGER NOT NULL,
		cache_write_tokens  INTEGER NOT NULL,
		cache_read_tokens   INTEGER NOT NULL,
		cost_usd            REAL NOT NULL,
		pricing_source      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_principal ON usage_events(principal_id, ts);

	CREATE TABLE IF NOT EXISTS audit_events (
		event_id     TEXT PRIMARY KEY,
		event_time   INTEGER NOT NULL,
		event_source TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		principal_id TEXT NOT NULL,
		details      TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_principal ON audit_events(principal_id, event_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`
		SELECT principal_id, budget_limit_usd, spent_usd, status, threshold_state,
		       budget_period_start, budget_refresh_date, grace_deadline,
		       refresh_count, created_at, last_updated
		FROM budget_records
		WHERE principal_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.usageStmt, err = s.db.Prepare(`
		INSERT INTO usage_events (request_id, principal_id, ts, model_id, region,
			input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
			cost_usd, pricing_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare usage statement: %w", err)
	}

	s.addSpendStmt, err = s.db.Prepare(`
		UPDATE budget_records
		SET spent_usd = spent_usd + ?, last_updated = ?
		WHERE principal_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare spend statement: %w", err)
	}

	s.auditStmt, err = s.db.Prepare(`
		INSERT INTO audit_events (event_id, event_time, event_source, event_type, principal_id, details)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit statement: %w", err)
	}

	return nil
}

// Get returns the budget record for a principal.
func (s *SQLiteStore) Get(ctx context.Context, principalID string) (*BudgetRecord, error) {
	if principalID == "" {
		return nil, fmt.Errorf("principal id cannot be empty")
	}
	return scanRecord(s.getStmt.QueryRowContext(ctx, principalID))
}

// Create inserts a new record, failing with ErrConflict if one exists.
func (s *SQLiteStore) Create(ctx context.Context, record *BudgetRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.PrincipalID == "" {
		return fmt.Errorf("principal id cannot be empty")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_records (principal_id, budget_limit_usd, spent_usd, status,
			threshold_state, budget_period_start, budget_refresh_date, grace_deadline,
			refresh_count, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (principal_id) DO NOTHING`,
		record.PrincipalID,
		record.BudgetLimitUSD,
		record.SpentUSD,
		string(record.Status),
		string(record.ThresholdState),
		record.BudgetPeriodStart.UnixMilli(),
		record.BudgetRefreshDate.UnixMilli(),
		nullableMilli(record.GraceDeadline),
		record.RefreshCount,
		record.CreatedAt.UnixMilli(),
		record.LastUpdated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// List returns all budget records.
func (s *SQLiteStore) List(ctx context.Context) ([]*BudgetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT principal_id, budget_limit_usd, spent_usd, status, threshold_state,
		       budget_period_start, budget_refresh_date, grace_deadline,
		       refresh_count, created_at, last_updated
		FROM budget_records
		ORDER BY principal_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*BudgetRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// ApplyUsage atomically deduplicates, increments spend, and appends the
// usage and audit records. See Store.ApplyUsage for semantics.
func (s *SQLiteStore) ApplyUsage(ctx context.Context, event UsageEvent, defaults ProvisionDefaults) (*BudgetRecord, bool, error) {
	if event.RequestID == "" {
		return nil, false, fmt.Errorf("request id cannot be empty")
	}
	if event.PrincipalID == "" {
		return nil, false, fmt.Errorf("principal id cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Idempotency gate: the usage event insert conflicts on request_id.
	res, err := tx.StmtContext(ctx, s.usageStmt).ExecContext(ctx,
		event.RequestID,
		event.PrincipalID,
		event.Timestamp.UnixMilli(),
		event.ModelID,
		event.Region,
		event.InputTokens,
		event.OutputTokens,
		event.CacheWriteTokens,
		event.CacheReadTokens,
		event.CostUSD,
		event.PricingSource,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert usage event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		record, err := scanRecord(tx.StmtContext(ctx, s.getStmt).QueryRowContext(ctx, event.PrincipalID))
		if err != nil {
			return nil, true, err
		}
		return record, true, tx.Commit()
	}

	now := time.Now().UTC()
	res, err = tx.StmtContext(ctx, s.addSpendStmt).ExecContext(ctx,
		event.CostUSD, now.UnixMilli(), event.PrincipalID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to increment spend: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		// Usage arrived before provisioning: create the record with the
		// event cost as initial spend.
		record := NewBudgetRecord(event.PrincipalID, defaults, now)
		record.SpentUSD = event.CostUSD
		_, err = tx.ExecContext(ctx, `
			INSERT INTO budget_records (principal_id, budget_limit_usd, spent_usd, status,
				threshold_state, budget_period_start, budget_refresh_date, grace_deadline,
				refresh_count, created_at, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0, ?, ?)`,
			record.PrincipalID,
			record.BudgetLimitUSD,
			record.SpentUSD,
			string(record.Status),
			string(record.ThresholdState),
			record.BudgetPeriodStart.UnixMilli(),
			record.BudgetRefreshDate.UnixMilli(),
			record.CreatedAt.UnixMilli(),
			record.LastUpdated.UnixMilli(),
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to auto-provision record: %w", err)
		}
		if err := s.appendAuditTx(ctx, tx, audit.NewEvent("ledger", "budget_auto_created", event.PrincipalID, map[string]any{
			"budget_limit_usd": record.BudgetLimitUSD,
			"initial_cost":     event.CostUSD,
			"model_id":         event.ModelID,
			"reason":           "usage_detected_without_existing_budget",
		})); err != nil {
			return nil, false, err
		}
	}

	if err := s.appendAuditTx(ctx, tx, audit.NewEvent("ledger", "usage_cost_calculated", event.PrincipalID, map[string]any{
		"request_id":     event.RequestID,
		"model_id":       event.ModelID,
		"region":         event.Region,
		"cost_usd":       event.CostUSD,
		"input_tokens":   event.InputTokens,
		"output_tokens":  event.OutputTokens,
		"pricing_source": event.PricingSource,
	})); err != nil {
		return nil, false, err
	}

	record, err := scanRecord(tx.StmtContext(ctx, s.getStmt).QueryRowContext(ctx, event.PrincipalID))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit usage: %w", err)
	}
	return record, false, nil
}

// SetThresholdState transitions threshold state from expected to next.
func (s *SQLiteStore) SetThresholdState(ctx context.Context, principalID string, expected, next ThresholdState) error {
	return s.conditionalUpdate(ctx, principalID, `
		UPDATE budget_records
		SET threshold_state = ?, last_updated = ?
		WHERE principal_id = ? AND threshold_state = ?`,
		string(next), time.Now().UTC().UnixMilli(), principalID, string(expected))
}

// SetGrace moves an active principal to grace_period with the deadline.
func (s *SQLiteStore) SetGrace(ctx context.Context, principalID string, deadline time.Time) error {
	return s.conditionalUpdate(ctx, principalID, `
		UPDATE budget_records
		SET status = ?, grace_deadline = ?, last_updated = ?
		WHERE principal_id = ? AND status = ?`,
		string(StatusGracePeriod), deadline.UnixMilli(), time.Now().UTC().UnixMilli(),
		principalID, string(StatusActive))
}

// Suspend sets status to suspended only from grace_period.
func (s *SQLiteStore) Suspend(ctx context.Context, principalID string) error {
	return s.conditionalUpdate(ctx, principalID, `
		UPDATE budget_records
		SET status = ?, last_updated = ?
		WHERE principal_id = ? AND status = ?`,
		string(StatusSuspended), time.Now().UTC().UnixMilli(),
		principalID, string(StatusGracePeriod))
}

// ResetBudget restores a suspended principal in one conditional write.
func (s *SQLiteStore) ResetBudget(ctx context.Context, principalID string, periodStart, nextRefresh time.Time) error {
	return s.conditionalUpdate(ctx, principalID, `
		UPDATE budget_records
		SET status = ?, spent_usd = 0, threshold_state = ?, grace_deadline = NULL,
		    budget_period_start = ?, budget_refresh_date = ?,
		    refresh_count = refresh_count + 1, last_updated = ?
		WHERE principal_id = ? AND status = ?`,
		string(StatusActive), string(ThresholdNormal),
		periodStart.UnixMilli(), nextRefresh.UnixMilli(), time.Now().UTC().UnixMilli(),
		principalID, string(StatusSuspended))
}

// RefreshActive rolls an active principal's budget period over.
func (s *SQLiteStore) RefreshActive(ctx context.Context, principalID string, periodStart, nextRefresh time.Time) error {
	return s.conditionalUpdate(ctx, principalID, `
		UPDATE budget_records
		SET spent_usd = 0, threshold_state = ?,
		    budget_period_start = ?, budget_refresh_date = ?,
		    refresh_count = refresh_count + 1, last_updated = ?
		WHERE principal_id = ? AND status = ?`,
		string(ThresholdNormal),
		periodStart.UnixMilli(), nextRefresh.UnixMilli(), time.Now().UTC().UnixMilli(),
		principalID, string(StatusActive))
}

// AppendAudit appends one audit event.
func (s *SQLiteStore) AppendAudit(ctx context.Context, event audit.Event) error {
	var details []byte
	var err error
	if event.Details != nil {
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}
	_, err = s.auditStmt.ExecContext(ctx,
		event.EventID,
		event.EventTime.UnixMilli(),
		event.EventSource,
		event.EventType,
		event.PrincipalID,
		string(details),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// AuditEvents returns the audit trail for a principal in event-time order.
// It exists for inspection and tests; the trail itself is append-only.
func (s *SQLiteStore) AuditEvents(ctx context.Context, principalID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_time, event_source, event_type, principal_id, details
		FROM audit_events
		WHERE principal_id = ?
		ORDER BY event_time`, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event   audit.Event
			eventMs int64
			details sql.NullString
		)
		if err := rows.Scan(&event.EventID, &eventMs, &event.EventSource,
			&event.EventType, &event.PrincipalID, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		event.EventTime = time.UnixMilli(eventMs).UTC()
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &event.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close releases resources. Close is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)
		for _, stmt := range []*sql.Stmt{s.getStmt, s.usageStmt, s.addSpendStmt, s.auditStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})
	return closeErr
}

func (s *SQLiteStore) conditionalUpdate(ctx context.Context, principalID, query string, args ...any) error {
	if principalID == "" {
		return fmt.Errorf("principal id cannot be empty")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("conditional update failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing record from a lost race.
		if _, err := s.Get(ctx, principalID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) appendAuditTx(ctx context.Context, tx *sql.Tx, event audit.Event) error {
	var details []byte
	var err error
	if event.Details != nil {
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}
	_, err = tx.StmtContext(ctx, s.auditStmt).ExecContext(ctx,
		event.EventID,
		event.EventTime.UnixMilli(),
		event.EventSource,
		event.EventType,
		event.PrincipalID,
		string(details),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*BudgetRecord, error) {
	var (
		record        BudgetRecord
		status        string
		threshold     string
		periodStartMs int64
		refreshMs     int64
		graceMs       sql.NullInt64
		createdMs     int64
		updatedMs     int64
	)
	err := row.Scan(
		&record.PrincipalID,
		&record.BudgetLimitUSD,
		&record.SpentUSD,
		&status,
		&threshold,
		&periodStartMs,
		&refreshMs,
		&graceMs,
		&record.RefreshCount,
		&createdMs,
		&updatedMs,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	record.Status = Status(status)
	record.ThresholdState = ThresholdState(threshold)
	record.BudgetPeriodStart = time.UnixMilli(periodStartMs).UTC()
	record.BudgetRefreshDate = time.UnixMilli(refreshMs).UTC()
	if graceMs.Valid {
		t := time.UnixMilli(graceMs.Int64).UTC()
		record.GraceDeadline = &t
	}
	record.CreatedAt = time.UnixMilli(createdMs).UTC()
	record.LastUpdated = time.UnixMilli(updatedMs).UTC()
	return &record, nil
}

func nullableMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
