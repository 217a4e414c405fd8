package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of RunStore.
//
// Designed for:
//   - Testing and development
//   - Single-process deployments where losing run history on restart is fine
//
// MemStore is thread-safe and supports concurrent access.
type MemStore struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	steps map[string]map[int]StepRecord // runID -> index -> record
	order []string                      // run IDs in creation order

	now func() time.Time
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:  make(map[string]*Run),
		steps: make(map[string]map[int]StepRecord),
		now:   time.Now,
	}
}

// CreateRun implements RunStore.
func (m *MemStore) CreateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	now := m.now().UTC()
	run.Status = StatusRunning
	run.StepIndex = 0
	run.CreatedAt = now
	run.UpdatedAt = now
	run.HeartbeatAt = now
	run.FinishedAt = nil

	m.runs[run.ID] = &run
	m.order = append(m.order, run.ID)
	return nil
}

// AdvanceStep implements RunStore.
func (m *MemStore) AdvanceStep(_ context.Context, runID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if index < run.StepIndex {
		return ErrStepRegression
	}
	run.StepIndex = index
	run.UpdatedAt = m.now().UTC()
	return nil
}

// SaveStepRecord implements RunStore.
func (m *MemStore) SaveStepRecord(_ context.Context, rec StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[rec.RunID]; !ok {
		return ErrNotFound
	}
	if m.steps[rec.RunID] == nil {
		m.steps[rec.RunID] = make(map[int]StepRecord)
	}
	m.steps[rec.RunID][rec.Index] = rec
	return nil
}

// FinishRun implements RunStore.
func (m *MemStore) FinishRun(_ context.Context, runID string, status RunStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if run.Status.Terminal() {
		return ErrAlreadyFinished
	}

	now := m.now().UTC()
	run.Status = status
	run.Error = errMsg
	run.UpdatedAt = now
	run.FinishedAt = &now
	return nil
}

// GetRun implements RunStore.
func (m *MemStore) GetRun(_ context.Context, runID string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return copyRun(run), nil
}

// ListSteps implements RunStore.
func (m *MemStore) ListSteps(_ context.Context, runID string) ([]StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.runs[runID]; !ok {
		return nil, ErrNotFound
	}

	records := make([]StepRecord, 0, len(m.steps[runID]))
	for _, rec := range m.steps[runID] {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

// ListRuns implements RunStore.
func (m *MemStore) ListRuns(_ context.Context, status RunStatus) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []Run
	for _, id := range m.order {
		run := m.runs[id]
		if status != "" && run.Status != status {
			continue
		}
		runs = append(runs, copyRun(run))
	}
	return runs, nil
}

// Heartbeat implements RunStore.
func (m *MemStore) Heartbeat(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	for _, run := range m.runs {
		if run.Owner == owner && run.Status == StatusRunning {
			run.HeartbeatAt = now
		}
	}
	return nil
}

// ExpireRun implements RunStore.
func (m *MemStore) ExpireRun(_ context.Context, runID string, staleBefore time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if run.Status.Terminal() {
		return ErrAlreadyFinished
	}
	if !run.HeartbeatAt.Before(staleBefore) {
		return ErrLeaseHeld
	}

	now := m.now().UTC()
	run.Status = StatusFailed
	run.Error = errMsg
	run.UpdatedAt = now
	run.FinishedAt = &now
	return nil
}

func copyRun(run *Run) Run {
	out := *run
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
