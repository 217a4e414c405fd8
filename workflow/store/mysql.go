package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of RunStore.
//
// Designed for:
//   - Production deployments where several server instances share one ledger
//   - Audit trails of background jobs
//
// Note that sharing the ledger does not share live output: the run registry
// stays local to the process that executes the run.
type MySQLStore struct {
	*sqlLedger
}

var mysqlDialect = sqlDialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			workflow VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			step_index INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL,
			owner VARCHAR(255) NOT NULL DEFAULT '',
			heartbeat_at BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			finished_at BIGINT NULL,
			INDEX idx_workflow_runs_status (status),
			INDEX idx_workflow_runs_created (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS workflow_step_records (
			run_id VARCHAR(64) NOT NULL,
			step_index INT NOT NULL,
			name VARCHAR(255) NOT NULL,
			attempts INT NOT NULL,
			status VARCHAR(16) NOT NULL,
			error TEXT NOT NULL,
			finished_at BIGINT NOT NULL,
			PRIMARY KEY (run_id, step_index),
			CONSTRAINT fk_step_records_run FOREIGN KEY (run_id)
				REFERENCES workflow_runs(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertStep: `
		INSERT INTO workflow_step_records (run_id, step_index, name, attempts, status, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			attempts = VALUES(attempts),
			status = VALUES(status),
			error = VALUES(error),
			finished_at = VALUES(finished_at)
	`,
	columnExists: `
		SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = 'workflow_runs' AND column_name = ?
	`,
	addColumns: []columnMigration{
		{"owner", `ALTER TABLE workflow_runs ADD COLUMN owner VARCHAR(255) NOT NULL DEFAULT ''`},
		{"heartbeat_at", `ALTER TABLE workflow_runs ADD COLUMN heartbeat_at BIGINT NOT NULL DEFAULT 0`},
	},
}

// NewMySQLStore creates a new MySQL-backed run ledger.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example:
//
//	user:password@tcp(localhost:3306)/devspace
//
// Never hardcode credentials; pass the DSN through configuration
// (ledger.dsn / DEVSPACE_LEDGER_DSN).
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	st := &MySQLStore{sqlLedger: newSQLLedger(db, mysqlDialect)}
	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return st, nil
}
