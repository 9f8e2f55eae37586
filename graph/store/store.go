// Package store persists workflow state between engine steps and across
// suspended runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run ID does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store provides persistence for workflow state.
//
// It enables:
//   - Step-by-step state persistence during execution
//   - Latest state retrieval for resumption of suspended runs
//   - Expiry of idle runs
//
// Implementations:
//   - MemStore: in-process maps (tests, single instance)
//   - SQLiteStore: single-file database
//   - MySQLStore, PostgresStore: shared relational storage
//   - RedisStore: key per run with a TTL
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type Store[S any] interface {
	// SaveStep persists the state after a node execution step.
	// Each step is identified by runID + step number. Saving an existing
	// step replaces it.
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest retrieves the most recent state for a given run.
	//
	// Returns ErrNotFound if runID doesn't exist.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)

	// Delete removes every step of runID. Deleting an unknown run is not
	// an error.
	Delete(ctx context.Context, runID string) error

	// DeleteBefore removes runs whose latest step was saved before cutoff
	// and reports how many runs were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StepRecord represents a single execution step in the workflow history.
type StepRecord[S any] struct {
	// Step is the sequential step number (1-indexed).
	Step int `json:"step"`

	// NodeID identifies which node produced this state.
	NodeID string `json:"node_id"`

	// State is the workflow state after this step completed.
	State S `json:"state"`

	// SavedAt is when the step was persisted.
	SavedAt time.Time `json:"saved_at"`
}
