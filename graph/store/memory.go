package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// States are stored as JSON so a loaded state never aliases a saved one.
// MemStore is thread-safe.
//
// Limitations:
//   - Data is lost when process terminates
//   - Not suitable for multiple server instances
//   - Memory usage grows with workflow history until runs are deleted
type MemStore[S any] struct {
	mu    sync.RWMutex
	steps map[string][]memRecord // runID -> steps ordered by step number
	now   func() time.Time
}

type memRecord struct {
	step    int
	nodeID  string
	state   []byte
	savedAt time.Time
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore[MyState]()
//	engine := graph.New(reducer, st, emitter)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps: make(map[string][]memRecord),
		now:   time.Now,
	}
}

// SaveStep persists a workflow execution step.
func (m *MemStore[S]) SaveStep(_ context.Context, runID string, step int, nodeID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := memRecord{step: step, nodeID: nodeID, state: data, savedAt: m.now()}
	records := m.steps[runID]
	for i := range records {
		if records[i].step == step {
			records[i] = rec
			return nil
		}
	}

	// Keep records ordered by step so LoadLatest reads the tail.
	idx := len(records)
	for idx > 0 && records[idx-1].step > step {
		idx--
	}
	records = append(records, memRecord{})
	copy(records[idx+1:], records[idx:])
	records[idx] = rec
	m.steps[runID] = records
	return nil
}

// LoadLatest retrieves the most recent step for a run.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (state S, step int, err error) {
	m.mu.RLock()
	records := m.steps[runID]
	var latest memRecord
	if len(records) > 0 {
		latest = records[len(records)-1]
	}
	m.mu.RUnlock()

	if len(records) == 0 {
		return state, 0, ErrNotFound
	}

	if err := json.Unmarshal(latest.state, &state); err != nil {
		var zero S
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, latest.step, nil
}

// History returns every step saved for runID in step order.
func (m *MemStore[S]) History(_ context.Context, runID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	records := append([]memRecord(nil), m.steps[runID]...)
	m.mu.RUnlock()

	if len(records) == 0 {
		return nil, ErrNotFound
	}

	history := make([]StepRecord[S], 0, len(records))
	for _, rec := range records {
		var state S
		if err := json.Unmarshal(rec.state, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		history = append(history, StepRecord[S]{Step: rec.step, NodeID: rec.nodeID, State: state, SavedAt: rec.savedAt})
	}
	return history, nil
}

// Delete removes every step of runID.
func (m *MemStore[S]) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.steps, runID)
	return nil
}

// DeleteBefore removes runs whose latest step was saved before cutoff.
func (m *MemStore[S]) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for runID, records := range m.steps {
		var last time.Time
		for _, rec := range records {
			if rec.savedAt.After(last) {
				last = rec.savedAt
			}
		}
		if last.Before(cutoff) {
			delete(m.steps, runID)
			removed++
		}
	}
	return removed, nil
}
