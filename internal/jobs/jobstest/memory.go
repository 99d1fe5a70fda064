// Package jobstest provides an in-memory job store for tests.
package jobstest

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/cuongbtq/image-jobs/internal/jobs"
)

// MemoryStore is a jobs.Store kept in memory. Ids are sequential ("1", "2", ...).
// An error set with SetErr is returned from every store call until cleared.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int
	jobs   map[string]*jobs.Job
	order  []string
	err    error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*jobs.Job)}
}

// Enqueue implements jobs.Store
func (m *MemoryStore) Enqueue(_ context.Context, name string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.jobs[id] = &jobs.Job{
		ID:      id,
		Name:    name,
		Payload: append([]byte(nil), payload...),
		State:   jobs.StateWaiting,
	}
	m.order = append(m.order, id)
	return id, nil
}

// Fetch implements jobs.Store
func (m *MemoryStore) Fetch(_ context.Context, id string) (*jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ListWaiting implements jobs.Store
func (m *MemoryStore) ListWaiting(_ context.Context) ([]*jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*jobs.Job
	for _, id := range m.order {
		if j := m.jobs[id]; j.State == jobs.StateWaiting {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountWaiting implements jobs.Store
func (m *MemoryStore) CountWaiting(ctx context.Context) (int, error) {
	waiting, err := m.ListWaiting(ctx)
	return len(waiting), err
}

// SetErr makes every following store call fail with err. Pass nil to recover.
func (m *MemoryStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Len returns the number of jobs ever enqueued
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Activate moves a waiting job to active and returns its execution handle
func (m *MemoryStore) Activate(id string) *Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.State == jobs.StateWaiting {
		j.State = jobs.StateActive
	}
	return &Execution{store: m, id: id}
}

// Finish applies the terminal outcome of a handler run, as the queue engine would
func (m *MemoryStore) Finish(id string, handlerErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.State.IsTerminal() {
		return
	}
	if handlerErr != nil {
		j.State = jobs.StateFailed
		j.Error = handlerErr.Error()
		j.Result = nil
		return
	}
	j.State = jobs.StateCompleted
	j.Progress = 100
}

// Execution is the worker-side handle for one MemoryStore job
type Execution struct {
	store    *MemoryStore
	id       string
	mu       sync.Mutex
	reported []int
}

// JobID implements jobs.Execution
func (e *Execution) JobID() string { return e.id }

// UpdateProgress implements jobs.Execution
func (e *Execution) UpdateProgress(_ context.Context, progress int) error {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	if e.store.err != nil {
		return e.store.err
	}
	if j, ok := e.store.jobs[e.id]; ok && progress > j.Progress {
		j.Progress = progress
	}
	e.mu.Lock()
	e.reported = append(e.reported, progress)
	e.mu.Unlock()
	return nil
}

// SetResult implements jobs.Execution
func (e *Execution) SetResult(_ context.Context, result []byte) error {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	if e.store.err != nil {
		return e.store.err
	}
	if j, ok := e.store.jobs[e.id]; ok {
		j.Result = json.RawMessage(append([]byte(nil), result...))
	}
	return nil
}

// Reported returns every progress value passed to UpdateProgress, in order
func (e *Execution) Reported() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.reported...)
}
