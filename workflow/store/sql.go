package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// sqlDialect holds the statements that differ between SQL backends.
type sqlDialect struct {
	name       string
	schema     []string
	upsertStep string

	// columnExists counts the columns named by its single argument in
	// workflow_runs.
	columnExists string

	// addColumns upgrades ledgers created before the column existed.
	addColumns []columnMigration
}

type columnMigration struct {
	column string
	stmt   string
}

// sqlLedger implements RunStore on top of database/sql. SQLiteStore and
// MySQLStore embed it and supply their dialect.
//
// Timestamps are stored as Unix nanoseconds so both drivers scan them without
// driver-specific time parsing options.
type sqlLedger struct {
	db      *sql.DB
	dialect sqlDialect

	mu     sync.RWMutex
	closed bool

	now func() time.Time
}

func newSQLLedger(db *sql.DB, dialect sqlDialect) *sqlLedger {
	return &sqlLedger{db: db, dialect: dialect, now: time.Now}
}

// createTables creates the ledger schema if it doesn't exist.
func (l *sqlLedger) createTables(ctx context.Context) error {
	for _, stmt := range l.dialect.schema {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", l.dialect.name, err)
		}
	}
	for _, m := range l.dialect.addColumns {
		var n int
		if err := l.db.QueryRowContext(ctx, l.dialect.columnExists, m.column).Scan(&n); err != nil {
			return fmt.Errorf("failed to inspect %s schema: %w", l.dialect.name, err)
		}
		if n > 0 {
			continue
		}
		if _, err := l.db.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("failed to add column %s: %w", m.column, err)
		}
	}
	return nil
}

func (l *sqlLedger) checkOpen() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// CreateRun implements RunStore.
func (l *sqlLedger) CreateRun(ctx context.Context, run Run) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	now := l.now().UTC().UnixNano()
	query := `
		INSERT INTO workflow_runs (id, workflow, status, step_index, error, owner, heartbeat_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, '', ?, ?, ?, ?)
	`
	if _, err := l.db.ExecContext(ctx, query, run.ID, run.Workflow, string(StatusRunning), run.Owner, now, now, now); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// AdvanceStep implements RunStore.
func (l *sqlLedger) AdvanceStep(ctx context.Context, runID string, index int) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	query := `
		UPDATE workflow_runs
		SET step_index = ?, updated_at = ?
		WHERE id = ? AND step_index <= ?
	`
	res, err := l.db.ExecContext(ctx, query, index, l.now().UTC().UnixNano(), runID, index)
	if err != nil {
		return fmt.Errorf("failed to advance step: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	// Nothing changed: unknown run, regression, or a same-value update that
	// the driver reports as zero affected rows.
	run, err := l.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if index < run.StepIndex {
		return ErrStepRegression
	}
	return nil
}

// SaveStepRecord implements RunStore.
func (l *sqlLedger) SaveStepRecord(ctx context.Context, rec StepRecord) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = l.now()
	}

	_, err := l.db.ExecContext(ctx, l.dialect.upsertStep,
		rec.RunID, rec.Index, rec.Name, rec.Attempts, string(rec.Status), rec.Error, finished.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save step record: %w", err)
	}
	return nil
}

// FinishRun implements RunStore.
func (l *sqlLedger) FinishRun(ctx context.Context, runID string, status RunStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	if err := l.checkOpen(); err != nil {
		return err
	}

	now := l.now().UTC().UnixNano()
	query := `
		UPDATE workflow_runs
		SET status = ?, error = ?, updated_at = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := l.db.ExecContext(ctx, query, string(status), errMsg, now, now, runID, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := l.GetRun(ctx, runID); err != nil {
		return err
	}
	return ErrAlreadyFinished
}

// GetRun implements RunStore.
func (l *sqlLedger) GetRun(ctx context.Context, runID string) (Run, error) {
	if err := l.checkOpen(); err != nil {
		return Run{}, err
	}

	query := `
		SELECT id, workflow, status, step_index, error, owner, heartbeat_at, created_at, updated_at, finished_at
		FROM workflow_runs
		WHERE id = ?
	`
	run, err := scanRun(l.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}

// ListSteps implements RunStore.
func (l *sqlLedger) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	if _, err := l.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	query := `
		SELECT run_id, step_index, name, attempts, status, error, finished_at
		FROM workflow_step_records
		WHERE run_id = ?
		ORDER BY step_index ASC
	`
	rows, err := l.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	records := make([]StepRecord, 0)
	for rows.Next() {
		var (
			rec      StepRecord
			status   string
			finished int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Index, &rec.Name, &rec.Attempts, &status, &rec.Error, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}
		rec.Status = RunStatus(status)
		rec.FinishedAt = time.Unix(0, finished).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListRuns implements RunStore.
func (l *sqlLedger) ListRuns(ctx context.Context, status RunStatus) ([]Run, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, workflow, status, step_index, error, owner, heartbeat_at, created_at, updated_at, finished_at
		FROM workflow_runs
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Heartbeat implements RunStore.
func (l *sqlLedger) Heartbeat(ctx context.Context, owner string) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	query := `
		UPDATE workflow_runs
		SET heartbeat_at = ?
		WHERE owner = ? AND status = ?
	`
	if _, err := l.db.ExecContext(ctx, query, l.now().UTC().UnixNano(), owner, string(StatusRunning)); err != nil {
		return fmt.Errorf("failed to renew run leases: %w", err)
	}
	return nil
}

// ExpireRun implements RunStore.
func (l *sqlLedger) ExpireRun(ctx context.Context, runID string, staleBefore time.Time, errMsg string) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	now := l.now().UTC().UnixNano()
	query := `
		UPDATE workflow_runs
		SET status = ?, error = ?, updated_at = ?, finished_at = ?
		WHERE id = ? AND status = ? AND heartbeat_at < ?
	`
	res, err := l.db.ExecContext(ctx, query,
		string(StatusFailed), errMsg, now, now, runID, string(StatusRunning), staleBefore.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to expire run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to expire run: %w", err)
	}
	if n > 0 {
		return nil
	}

	run, err := l.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return ErrAlreadyFinished
	}
	return ErrLeaseHeld
}

// Close closes the database connection.
//
// After Close, all operations will return an error.
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (l *sqlLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

// Ping verifies the database connection is alive.
func (l *sqlLedger) Ping(ctx context.Context) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	return l.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run                         Run
		status                      string
		heartbeat, created, updated int64
		finished                    sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.Workflow, &status, &run.StepIndex, &run.Error, &run.Owner, &heartbeat, &created, &updated, &finished); err != nil {
		return Run{}, err
	}
	run.Status = RunStatus(status)
	run.HeartbeatAt = time.Unix(0, heartbeat).UTC()
	run.CreatedAt = time.Unix(0, created).UTC()
	run.UpdatedAt = time.Unix(0, updated).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		run.FinishedAt = &t
	}
	return run, nil
}
