package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of RunStore.
//
// It keeps the run ledger in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-instance deployments that still want run history to survive
//     restarts
//
// SQLiteStore uses WAL mode for concurrent reads.
//
// Schema:
//   - workflow_runs: one row per run (status, current step index, owner
//     lease)
//   - workflow_step_records: per-step attempts and outcome
type SQLiteStore struct {
	*sqlLedger
	path string
}

var sqliteDialect = sqlDialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			status TEXT NOT NULL,
			step_index INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			owner TEXT NOT NULL DEFAULT '',
			heartbeat_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status)`,
		`CREATE TABLE IF NOT EXISTS workflow_step_records (
			run_id TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
			step_index INTEGER NOT NULL,
			name TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			finished_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, step_index)
		)`,
	},
	upsertStep: `
		INSERT INTO workflow_step_records (run_id, step_index, name, attempts, status, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_index) DO UPDATE SET
			name = excluded.name,
			attempts = excluded.attempts,
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at
	`,
	columnExists: `SELECT COUNT(*) FROM pragma_table_info('workflow_runs') WHERE name = ?`,
	addColumns: []columnMigration{
		{"owner", `ALTER TABLE workflow_runs ADD COLUMN owner TEXT NOT NULL DEFAULT ''`},
		{"heartbeat_at", `ALTER TABLE workflow_runs ADD COLUMN heartbeat_at INTEGER NOT NULL DEFAULT 0`},
	},
}

// NewSQLiteStore creates a new SQLite-backed run ledger.
//
// The path parameter specifies the database file location:
//   - "./devspace.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store creates the file and tables when missing, enables WAL mode and
// foreign keys, and waits up to 5 seconds on locks.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./devspace.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	st := &SQLiteStore{
		sqlLedger: newSQLLedger(db, sqliteDialect),
		path:      path,
	}
	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return st, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}
