package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// schema holds the persisted rate table. One row per model/region pair;
// Put replaces the row wholesale.
const schema = `
CREATE TABLE IF NOT EXISTS rates (
    model_id     TEXT NOT NULL,
    region       TEXT NOT NULL,
    input_per_k  REAL NOT NULL,
    output_per_k REAL NOT NULL,
    fetched_at   INTEGER NOT NULL,
    PRIMARY KEY (model_id, region)
);
`

// SQLiteStoreConfig contains configuration for the SQLite rate store.
type SQLiteStoreConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

// SQLiteStore implements Store using SQLite. Persisted rates survive
// process restarts, letting resolutions ride out feed outages on data
// newer than the staleness bound.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if necessary) the rate database at the
// configured path.
func NewSQLiteStore(config *SQLiteStoreConfig) (*SQLiteStore, error) {
	if config == nil {
		config = &SQLiteStoreConfig{Path: "data/pricing.db"}
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "pricing.store")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pricing database: %w", err)
	}

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
		return nil, fmt.Errorf("failed to create pricing schema: %w", err)
	}

	logger.Info("Pricing store initialized", "path", config.Path)

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Put inserts or replaces the persisted rate for the rate's model/region
// pair. The rate's source is not persisted; rates read back from the
// store are always stamped SourceCached.
func (s *SQLiteStore) Put(ctx context.Context, rate Rate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rates (model_id, region, input_per_k, output_per_k, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (model_id, region) DO UPDATE SET
			input_per_k  = excluded.input_per_k,
			output_per_k = excluded.output_per_k,
			fetched_at   = excluded.fetched_at
	`, rate.ModelID, rate.Region, rate.InputPerK, rate.OutputPerK, rate.FetchedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to persist rate for %s/%s: %w", rate.ModelID, rate.Region, err)
	}
	return nil
}

// Get returns the persisted rate for a model/region pair.
func (s *SQLiteStore) Get(ctx context.Context, modelID, region string) (Rate, error) {
	var (
		rate      Rate
		fetchedMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT input_per_k, output_per_k, fetched_at
		FROM rates
		WHERE model_id = ? AND region = ?
	`, modelID, region).Scan(&rate.InputPerK, &rate.OutputPerK, &fetchedMs)
	if err == sql.ErrNoRows {
		return Rate{}, ErrRateNotFound
	}
	if err != nil {
		return Rate{}, fmt.Errorf("failed to read rate for %s/%s: %w", modelID, region, err)
	}

	rate.ModelID = modelID
	rate.Region = region
	rate.Source = SourceCached
	rate.FetchedAt = time.UnixMilli(fetchedMs)
	return rate, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
