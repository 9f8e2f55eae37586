// Package graph provides the workflow execution engine: nodes, edges,
// conditional branches, interrupt edges and a resumable run cursor.
package graph

import "fmt"

// Edge represents an unconditional or predicate-guarded connection between
// two nodes in the workflow graph.
//
// Edges are evaluated in registration order after any branch registered for
// the same source node; the first edge whose predicate holds wins.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID.
	To string

	// When is an optional predicate that determines if this edge should be traversed.
	// If nil, the edge is unconditional (always traverse).
	When Predicate[S]
}

// Predicate is a function that evaluates state to determine if an edge should be traversed.
//
// Predicates should be pure functions (deterministic, no side effects).
//
// Type parameter S is the state type to evaluate.
type Predicate[S any] func(state S) bool

// branch is a conditional edge whose router yields a label from a closed set.
type branch[S any] struct {
	// resolve returns the router label (formatted for diagnostics) and the
	// target registered for it. ok is false when the label has no target.
	resolve func(state S) (label string, to string, ok bool)
}

// Branch registers a conditional edge on the engine.
//
// After node from completes, router is evaluated on the resulting state and
// control passes to targets[label]. Label types are meant to be small closed
// enums declared next to the router; a label with no registered target is a
// configuration bug and fails the run with a RoutingError.
//
// Only one branch may be registered per source node.
//
// Example:
//
//	type verdict int
//
//	const (
//	    verdictPass verdict = iota
//	    verdictFail
//	)
//
//	graph.Branch(engine, "check", func(s MyState) verdict {
//	    if s.Score > 0.8 {
//	        return verdictPass
//	    }
//	    return verdictFail
//	}, map[verdict]string{verdictPass: "publish", verdictFail: "revise"})
func Branch[S any, L comparable](e *Engine[S], from string, router func(S) L, targets map[L]string) error {
	if from == "" {
		return &EngineError{Message: "branch source node ID cannot be empty"}
	}
	if router == nil {
		return &EngineError{Message: "branch router cannot be nil"}
	}
	if len(targets) == 0 {
		return &EngineError{Message: "branch from " + from + " has no targets"}
	}

	table := make(map[L]string, len(targets))
	for label, to := range targets {
		if to == "" {
			return &EngineError{
				Message: fmt.Sprintf("branch from %s: empty target for label %v", from, label),
				Code:    "INVALID_BRANCH",
			}
		}
		table[label] = to
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.branches[from]; exists {
		return &EngineError{
			Message: "duplicate branch from node: " + from,
			Code:    "DUPLICATE_BRANCH",
		}
	}

	e.branches[from] = branch[S]{
		resolve: func(state S) (string, string, bool) {
			label := router(state)
			to, ok := table[label]
			return fmt.Sprint(label), to, ok
		},
	}
	return nil
}
