// Package sqlite implements the durable store over four entities:
// candles, tickers, filters and triggers. A single write connection with
// WAL mode is sufficient for the screener's write rate.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database handle.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens the database, enables WAL mode and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer discipline; readers share the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			market     TEXT    NOT NULL,
			timestamp  INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			UNIQUE (symbol, market, timestamp)
		);
		CREATE INDEX IF NOT EXISTS idx_candles_pair_ts
			ON candles (symbol, market, timestamp DESC);

		CREATE TABLE IF NOT EXISTS tickers (
			symbol     TEXT    NOT NULL,
			market     TEXT    NOT NULL,
			volume_24h REAL    NOT NULL DEFAULT 0,
			last_price REAL    NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, market)
		);

		CREATE TABLE IF NOT EXISTS filters (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT    NOT NULL,
			type        TEXT    NOT NULL,
			enabled     INTEGER NOT NULL DEFAULT 1,
			config_json TEXT    NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS triggers (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			filter_id    INTEGER NOT NULL,
			filter_name  TEXT    NOT NULL,
			filter_type  TEXT    NOT NULL,
			symbol       TEXT    NOT NULL,
			market       TEXT    NOT NULL,
			triggered_at INTEGER NOT NULL,
			data_json    TEXT    NOT NULL,
			notified     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_triggers_filter_symbol_ts
			ON triggers (filter_id, symbol, triggered_at DESC);
		CREATE INDEX IF NOT EXISTS idx_triggers_ts
			ON triggers (triggered_at DESC);

		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// SweepCandles deletes candle rows older than keep. Returns rows deleted.
func (s *Store) SweepCandles(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM candles WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep candles: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SweepTriggers deletes trigger rows older than keepDays days.
func (s *Store) SweepTriggers(ctx context.Context, keepDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -keepDays).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE triggered_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep triggers: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Setting reads one settings row. Returns ("", nil) when absent.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting upserts one settings row.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
