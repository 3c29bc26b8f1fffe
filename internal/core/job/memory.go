package job

import (
	"context"
	"sync"
	"time"

	"bggsync/internal/syncerr"
)

// MemoryStore is an in-process Store for the CLI runner and tests.
type MemoryStore struct {
	mu       sync.Mutex
	runs     map[string]*Run
	outcomes map[string][]Outcome
	seen     map[string]map[string]struct{}
	progress map[string]Progress
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     map[string]*Run{},
		outcomes: map[string][]Outcome{},
		seen:     map[string]map[string]struct{}{},
		progress: map[string]Progress{},
	}
}

func (m *MemoryStore) run(runID string) (*Run, error) {
	r, ok := m.runs[runID]
	if !ok {
		return nil, syncerr.Wrap(syncerr.ErrNotFound, "job", "run "+runID, nil)
	}
	return r, nil
}

func (m *MemoryStore) InitPending(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Status = StatusPending
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m.runs[run.RunID] = &run
	return nil
}

func (m *MemoryStore) SetProcessing(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.run(runID)
	if err != nil {
		return err
	}
	r.Status = StatusProcessing
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) MarkDispatched(_ context.Context, runID string, total, dispatched, batches int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.run(runID)
	if err != nil {
		return err
	}
	r.Total, r.Dispatched, r.Batches = total, dispatched, batches
	r.DispatchDone = true
	settle(r, r.Summary)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Fail(_ context.Context, runID string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.run(runID)
	if err != nil {
		return err
	}
	r.Status = StatusFailed
	if cause != nil {
		r.Error = cause.Error()
	}
	return nil
}

func (m *MemoryStore) RecordOutcome(_ context.Context, runID string, o Outcome) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := m.seen[runID]
	if seen == nil {
		seen = map[string]struct{}{}
		m.seen[runID] = seen
	}
	r := m.runs[runID]
	if r == nil {
		r = &Run{RunID: runID, Status: StatusProcessing, CreatedAt: time.Now().UTC()}
		m.runs[runID] = r
	}
	if _, dup := seen[o.ItemID]; dup {
		return r.Summary, nil
	}
	seen[o.ItemID] = struct{}{}
	m.outcomes[runID] = append(m.outcomes[runID], o)
	summary := r.Summary
	summary.Add(o)
	settle(r, summary)
	r.UpdatedAt = time.Now().UTC()
	return summary, nil
}

func (m *MemoryStore) Get(_ context.Context, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.run(runID)
	if err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Outcomes(_ context.Context, runID string) ([]Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Outcome(nil), m.outcomes[runID]...), nil
}

func (m *MemoryStore) AuthErrors(_ context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		return r.Summary.AuthErrors, nil
	}
	return 0, nil
}

func (m *MemoryStore) LoadProgress(_ context.Context, runID, itemID string) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress[progressKey(runID, itemID)], nil
}

func (m *MemoryStore) SaveProgress(_ context.Context, runID, itemID string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[progressKey(runID, itemID)] = p
	return nil
}
