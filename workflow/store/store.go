// Package store provides the durable run ledger for workflow executions.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run ID does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyFinished is returned by FinishRun when the run already reached a
// terminal status. A run becomes terminal exactly once.
var ErrAlreadyFinished = errors.New("run already finished")

// ErrStepRegression is returned by AdvanceStep when the new index is lower
// than the recorded one. The step index only moves forward.
var ErrStepRegression = errors.New("step index cannot move backwards")

// ErrLeaseHeld is returned by ExpireRun when the run's owner renewed its
// heartbeat after the staleness cutoff.
var ErrLeaseHeld = errors.New("run lease is still held")

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	// StatusRunning means the run is executing (or was, before a crash).
	StatusRunning RunStatus = "running"

	// StatusCompleted means every step finished successfully.
	StatusCompleted RunStatus = "completed"

	// StatusFailed means a step failed fatally or exhausted its retries.
	StatusFailed RunStatus = "failed"
)

// Terminal reports whether s is completed or failed.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run is the ledger row for one workflow execution.
type Run struct {
	// ID is the opaque run identifier handed to clients.
	ID string `json:"runId"`

	// Workflow names the step sequence this run executes.
	Workflow string `json:"workflowName"`

	// Status is running until the run turns completed or failed.
	Status RunStatus `json:"status"`

	// StepIndex is the index of the next step to execute. It equals the
	// number of steps that completed successfully.
	StepIndex int `json:"currentStepIndex"`

	// Error holds the failure reason of a failed run.
	Error string `json:"error,omitempty"`

	// Owner identifies the engine instance executing the run.
	Owner string `json:"owner,omitempty"`

	// HeartbeatAt is the last time the owner reported the run alive.
	HeartbeatAt time.Time `json:"heartbeatAt"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// StepRecord captures the outcome of one step of a run.
type StepRecord struct {
	RunID string `json:"runId"`

	// Index is the zero-based position of the step in its workflow.
	Index int `json:"index"`

	// Name is the step's declared name.
	Name string `json:"name"`

	// Attempts counts executions, including the first one.
	Attempts int `json:"attempts"`

	// Status is completed or failed.
	Status RunStatus `json:"status"`

	// Error holds the last error returned by the step.
	Error string `json:"error,omitempty"`

	FinishedAt time.Time `json:"finishedAt"`
}

// RunStore persists workflow runs and their step outcomes.
//
// The workflow engine is the only writer. The HTTP layer reads runs to let
// clients discover failures by polling.
//
// Implementations:
//   - MemStore: in-memory, for tests and development
//   - SQLiteStore: single-file database (modernc.org/sqlite)
//   - MySQLStore: shared database for multi-instance deployments
type RunStore interface {
	// CreateRun inserts a new run with status running, step index 0 and a
	// heartbeat of now. run.Owner is stored as given.
	CreateRun(ctx context.Context, run Run) error

	// AdvanceStep records that the run is about to execute step index.
	// Returns ErrStepRegression if index is lower than the current value
	// and ErrNotFound for unknown runs.
	AdvanceStep(ctx context.Context, runID string, index int) error

	// SaveStepRecord stores the outcome of a step. Saving the same
	// (runID, index) twice replaces the previous record.
	SaveStepRecord(ctx context.Context, rec StepRecord) error

	// FinishRun moves the run to a terminal status. Returns
	// ErrAlreadyFinished if the run is already terminal.
	FinishRun(ctx context.Context, runID string, status RunStatus, errMsg string) error

	// GetRun loads a run. Returns ErrNotFound for unknown IDs.
	GetRun(ctx context.Context, runID string) (Run, error)

	// ListSteps returns the step records of a run ordered by index.
	ListSteps(ctx context.Context, runID string) ([]StepRecord, error)

	// ListRuns returns runs with the given status, oldest first.
	// An empty status lists every run.
	ListRuns(ctx context.Context, status RunStatus) ([]Run, error)

	// Heartbeat renews the lease of every running run owned by owner.
	Heartbeat(ctx context.Context, owner string) error

	// ExpireRun fails a running run whose last heartbeat is older than
	// staleBefore. Returns ErrLeaseHeld when the heartbeat is newer and
	// ErrAlreadyFinished when the run is terminal.
	ExpireRun(ctx context.Context, runID string, staleBefore time.Time, errMsg string) error
}
