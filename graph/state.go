package graph

import (
	"encoding/json"
	"fmt"
)

// Reducer merges the Delta returned by a node into the running state.
//
// Because nodes receive their own copy of the state, a reducer that simply
// returns delta implements ownership transfer: the node hands back the whole
// state it was given.
type Reducer[S any] func(prev, delta S) S

// Replace is the ownership-transfer reducer.
func Replace[S any](_, delta S) S {
	return delta
}

// cursor reads and writes the resume point stored inside the state.
type cursor[S any] struct {
	get func(S) string
	set func(S, string) S
}

// deepCopy creates a deep copy of state S using JSON round-trip serialization.
//
// Only exported, JSON-serializable fields survive the copy. State types must
// already satisfy this to be persisted by a Store.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
