package graph

import "context"

// Node is one step of a workflow.
//
// The engine passes every node a private deep copy of the state, so a node
// may mutate its argument and hand it back as the Delta.
type Node[S any] interface {
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is what a node hands back to the engine.
type NodeResult[S any] struct {
	// Delta is merged into the running state by the engine's reducer.
	Delta S

	// Route overrides the registered edges. The zero value defers to
	// interrupt edges, then the branch, then plain edges.
	Route Next

	// Err fails the run. The state saved after the previous step stays
	// the recovery point.
	Err error
}

// Next is an explicit routing decision. Set at most one of To and
// Terminal.
type Next struct {
	To       string
	Terminal bool
}

// Stop ends the run. The engine records End as the cursor.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto routes to nodeID.
//
// Explicit routes are not replayed on resume: a run suspended after a node
// resumes through the edges registered for that node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc adapts a function to Node.
//
//	review := graph.NodeFunc[Draft](func(ctx context.Context, d Draft) graph.NodeResult[Draft] {
//	    d.Reviewed = true
//	    return graph.NodeResult[Draft]{Delta: d}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run calls f.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError attributes a failure to the node that produced it.
type NodeError struct {
	Message string

	// Code is a machine-readable classification such as NODE_TIMEOUT.
	Code string

	NodeID string
	Cause  error
}

func (e *NodeError) Error() string {
	if e.NodeID == "" {
		return e.Message
	}
	return "node " + e.NodeID + ": " + e.Message
}

// Unwrap returns the cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
