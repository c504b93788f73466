package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// InitSQLite opens the audit database and creates the schemas for runs,
// the colony journal and the latest snapshot per run.
func InitSQLite(dbPath string) (*sqlx.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := createSchemas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}

	return db, nil
}

// ConfigurePool applies connection pool limits.
func ConfigurePool(db *sqlx.DB, maxOpen, maxIdle int) {
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
}

func createSchemas(db *sqlx.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			colony_name TEXT NOT NULL,
			started_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS journal (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts_unix_ns INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			source TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);`,
		`CREATE TABLE IF NOT EXISTS colony_snapshots (
			run_id TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			alive BOOLEAN NOT NULL,
			population INTEGER NOT NULL,
			digest TEXT NOT NULL,
			state_json TEXT NOT NULL,
			updated_unix_ns INTEGER NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_journal_run_seq ON journal(run_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_event_type ON journal(event_type);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_tick ON journal(tick);`,
	}

	ctx := context.Background()
	for _, query := range schemas {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	return nil
}
