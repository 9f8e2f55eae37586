package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dshills/tailorgraph/graph/emit"
	"github.com/dshills/tailorgraph/graph/store"
)

// End is the cursor value of a run that has finished. Branch targets may
// name End to terminate from a router.
const End = "__end__"

// Engine orchestrates stateful, resumable workflow execution.
//
// The Engine is the runtime that:
//   - Manages workflow graph topology (nodes, edges, branches, interrupts)
//   - Executes nodes one at a time on a private copy of the state
//   - Merges node output via the reducer
//   - Persists state at each step via the store
//   - Emits observability events via the emitter
//   - Enforces execution limits (MaxSteps, timeouts, retries)
//   - Suspends at interrupt edges and resumes from the state's cursor
//
// Type parameter S is the state type shared across the workflow.
//
// Example:
//
//	st := store.NewMemStore[MyState]()
//	engine := graph.New(graph.Replace[MyState], st, emit.NewNullEmitter(), graph.WithMaxSteps(100))
//	engine.Add("process", processNode)
//	engine.StartAt("process")
//
//	final, err := engine.Run(ctx, "run-001", MyState{Query: "hello"})
type Engine[S any] struct {
	mu sync.RWMutex

	// reducer merges node output into the running state
	reducer Reducer[S]

	// nodes maps node IDs to Node implementations
	nodes map[string]Node[S]

	// edges defines predicate-guarded transitions between nodes
	edges []Edge[S]

	// branches maps a source node to its conditional router
	branches map[string]branch[S]

	// interrupts maps a source node to the predicate that suspends the run
	interrupts map[string]Predicate[S]

	// policies holds per-node timeout and retry configuration
	policies map[string]NodePolicy

	// cursor reads and writes the resume point inside the state
	cursor *cursor[S]

	// startNode is the entry point for workflow execution
	startNode string

	// store persists workflow state after every step
	store store.Store[S]

	// emitter receives observability events
	emitter emit.Emitter

	// opts contains execution configuration
	opts Options

	// optErr holds the first error returned by an Option
	optErr error
}

// New creates a new Engine with the given reducer, store, emitter and options.
//
// Option errors are reported by the first call to Run.
//
// Example:
//
//	engine := graph.New(
//	    graph.Replace[MyState],
//	    store.NewMemStore[MyState](),
//	    emit.NewLogEmitter(logger, false),
//	    graph.WithMaxSteps(100),
//	)
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, options ...Option) *Engine[S] {
	cfg := &engineConfig{}
	var optErr error
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil && optErr == nil {
			optErr = err
		}
	}

	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	return &Engine[S]{
		reducer:    reducer,
		nodes:      make(map[string]Node[S]),
		edges:      make([]Edge[S], 0),
		branches:   make(map[string]branch[S]),
		interrupts: make(map[string]Predicate[S]),
		policies:   make(map[string]NodePolicy),
		store:      st,
		emitter:    emitter,
		opts:       cfg.opts,
		optErr:     optErr,
	}
}

// Add registers a node in the workflow graph.
//
// Node IDs must be unique within the workflow and may not be End.
//
// Example:
//
//	processNode := NodeFunc[MyState](func(ctx context.Context, s MyState) NodeResult[MyState] {
//	    s.Result = "processed"
//	    return NodeResult[MyState]{Delta: s, Route: Stop()}
//	})
//
//	err := engine.Add("process", processNode)
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if nodeID == End {
		return &EngineError{Message: "node ID " + End + " is reserved", Code: "RESERVED_NODE_ID"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry point for workflow execution.
//
// The start node runs when Run is given a state with an empty cursor.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect creates an edge between two nodes.
//
// Edges can be:
//   - Unconditional: Always traverse (predicate = nil)
//   - Conditional: Only traverse if predicate returns true
//
// Explicit routing via NodeResult.Route and branches registered with Branch
// take precedence over edges.
//
// Node existence is not validated here to allow flexible graph construction
// order; a dangling target fails the run when it is reached.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Interrupt registers an interrupt edge after node from.
//
// When from completes and when holds on the resulting state, the engine
// persists the state with its cursor at from and returns ErrSuspended.
// A later Run on that state resumes by routing out of from once the caller
// has changed the state so that when no longer holds.
func (e *Engine[S]) Interrupt(from string, when Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "interrupt source node ID cannot be empty"}
	}
	if when == nil {
		return &EngineError{Message: "interrupt predicate cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.interrupts[from]; exists {
		return &EngineError{
			Message: "duplicate interrupt after node: " + from,
			Code:    "DUPLICATE_INTERRUPT",
		}
	}

	e.interrupts[from] = when
	return nil
}

// SetPolicy attaches a timeout and retry policy to a node.
func (e *Engine[S]) SetPolicy(nodeID string, policy NodePolicy) error {
	if nodeID == "" {
		return &EngineError{Message: "policy node ID cannot be empty"}
	}
	if policy.Timeout < 0 {
		return &EngineError{Message: "policy timeout cannot be negative", Code: "INVALID_POLICY"}
	}
	if policy.RetryPolicy != nil {
		if err := policy.RetryPolicy.Validate(); err != nil {
			return &EngineError{Message: "node " + nodeID + ": " + err.Error(), Code: "INVALID_POLICY", Cause: err}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies[nodeID] = policy
	return nil
}

// TrackCursor tells the engine where the state keeps its resume point.
//
// get returns the ID of the last completed node ("" for a fresh state, End
// for a finished one). set returns a copy of the state with the cursor
// replaced. Without a tracked cursor every Run starts at the start node.
func (e *Engine[S]) TrackCursor(get func(S) string, set func(S, string) S) error {
	if get == nil || set == nil {
		return &EngineError{Message: "cursor accessors cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cursor = &cursor[S]{get: get, set: set}
	return nil
}

// Run executes the workflow until it finishes, suspends or fails.
//
// Run is the single entry point for fresh and resumed runs. The state's
// cursor decides where execution picks up:
//   - "" starts at the start node
//   - End returns the state unchanged
//   - a node whose interrupt predicate still holds returns ErrSuspended
//   - any other node routes to that node's successor
//
// Step numbers continue from the last step persisted for runID. MaxSteps
// bounds the steps executed by this call.
//
// On error Run returns the last state it committed, which is also the state
// held by the store.
//
// Example:
//
//	final, err := engine.Run(ctx, "run-001", MyState{Query: "hello"})
//	if errors.Is(err, graph.ErrSuspended) {
//	    // collect input, update final, then call Run again
//	}
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	if err := e.validate(); err != nil {
		e.opts.Metrics.RecordRun("failed")
		return initial, err
	}

	state := initial
	next, done, err := e.resumePoint(state)
	if done {
		return state, nil
	}
	if err != nil {
		if errors.Is(err, ErrSuspended) {
			e.opts.Metrics.RecordRun("suspended")
		} else {
			e.opts.Metrics.RecordRun("failed")
		}
		return state, err
	}

	_, step, err := e.store.LoadLatest(ctx, runID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.opts.Metrics.RecordRun("failed")
		return state, &EngineError{Message: "failed to load latest step: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}

	executed := 0
	for {
		executed++
		step++

		if e.opts.MaxSteps > 0 && executed > e.opts.MaxSteps {
			e.emit(runID, step, next, "run failed", map[string]interface{}{"error": ErrMaxStepsExceeded.Error()})
			e.opts.Metrics.RecordRun("failed")
			return state, &EngineError{
				Message: "workflow exceeded MaxSteps limit",
				Code:    "MAX_STEPS_EXCEEDED",
				Cause:   ErrMaxStepsExceeded,
			}
		}

		if err := ctx.Err(); err != nil {
			e.opts.Metrics.RecordRun("failed")
			return state, err
		}

		outcome, nextState, nextNode, err := e.step(ctx, runID, step, next, state)
		if err != nil {
			e.emit(runID, step, next, "run failed", map[string]interface{}{"error": err.Error()})
			e.opts.Metrics.RecordRun("failed")
			return state, err
		}
		state = nextState

		switch outcome {
		case stepTerminal:
			e.emit(runID, step, next, "run completed", nil)
			e.opts.Metrics.RecordRun("completed")
			return state, nil
		case stepSuspended:
			e.emit(runID, step, next, "run suspended", nil)
			e.opts.Metrics.IncrementSuspensions(next)
			e.opts.Metrics.RecordRun("suspended")
			return state, ErrSuspended
		}

		next = nextNode
	}
}

type stepOutcome int

const (
	stepContinue stepOutcome = iota
	stepTerminal
	stepSuspended
)

// step executes one node, commits its output and decides what follows.
func (e *Engine[S]) step(ctx context.Context, runID string, step int, nodeID string, state S) (stepOutcome, S, string, error) {
	e.mu.RLock()
	node, exists := e.nodes[nodeID]
	e.mu.RUnlock()

	if !exists {
		return stepContinue, state, "", &EngineError{
			Message: "node not found during execution: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	result, err := e.runNode(ctx, runID, step, nodeID, node, state)
	if err != nil {
		return stepContinue, state, "", err
	}

	merged := e.reducer(state, result.Delta)
	if v, ok := any(merged).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return stepContinue, state, "", &EngineError{
				Message: "node " + nodeID + " produced invalid state: " + err.Error(),
				Code:    "INVALID_STATE",
				Cause:   err,
			}
		}
	}

	outcome := stepContinue
	var nextNode string

	switch {
	case result.Route.Terminal:
		outcome = stepTerminal
	case e.suspends(nodeID, merged):
		outcome = stepSuspended
	default:
		nextNode, err = e.route(nodeID, result.Route, merged)
		if err != nil {
			return stepContinue, state, "", err
		}
		if nextNode == End {
			outcome = stepTerminal
		}
	}

	if e.cursor != nil {
		if outcome == stepTerminal {
			merged = e.cursor.set(merged, End)
		} else {
			merged = e.cursor.set(merged, nodeID)
		}
	}

	if err := e.store.SaveStep(ctx, runID, step, nodeID, merged); err != nil {
		return stepContinue, state, "", &EngineError{
			Message: "failed to save step: " + err.Error(),
			Code:    "STORE_ERROR",
			Cause:   err,
		}
	}

	meta := map[string]interface{}{}
	if nextNode != "" {
		meta["next"] = nextNode
	}
	e.emit(runID, step, nodeID, "node completed", meta)

	return outcome, merged, nextNode, nil
}

// runNode executes a node on a private copy of state, applying the node's
// timeout and retry policy.
func (e *Engine[S]) runNode(ctx context.Context, runID string, step int, nodeID string, node Node[S], state S) (NodeResult[S], error) {
	e.mu.RLock()
	policy, hasPolicy := e.policies[nodeID]
	e.mu.RUnlock()

	var policyRef *NodePolicy
	if hasPolicy {
		policyRef = &policy
	}

	for attempt := 1; ; attempt++ {
		input, err := deepCopy(state)
		if err != nil {
			return NodeResult[S]{}, &EngineError{Message: "failed to copy state for node " + nodeID, Code: "STATE_COPY", Cause: err}
		}

		start := time.Now()
		result, err := runBounded(ctx, node, nodeID, input, policyRef.timeout(e.opts.DefaultNodeTimeout))
		if err == nil {
			err = result.Err
		}

		latency := time.Since(start)
		switch {
		case err == nil:
			e.opts.Metrics.RecordStepLatency(nodeID, latency, "success")
			return result, nil
		case isTimeout(err):
			e.opts.Metrics.RecordStepLatency(nodeID, latency, "timeout")
		default:
			e.opts.Metrics.RecordStepLatency(nodeID, latency, "error")
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		if !policyRef.retryPolicy().shouldRetry(attempt, err) {
			return result, wrapNodeError(nodeID, err)
		}

		rp := policyRef.RetryPolicy
		delay := Backoff(attempt-1, rp.BaseDelay, rp.MaxDelay)
		e.opts.Metrics.IncrementRetries(nodeID)
		e.emit(runID, step, nodeID, "node retry", map[string]interface{}{
			"attempt":  attempt,
			"error":    err.Error(),
			"delay_ms": delay.Milliseconds(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}

// resumePoint returns the node to execute first for the given state.
// done is true when the state's cursor is already End.
func (e *Engine[S]) resumePoint(state S) (next string, done bool, err error) {
	e.mu.RLock()
	c := e.cursor
	start := e.startNode
	e.mu.RUnlock()

	if c == nil {
		return start, false, nil
	}

	at := c.get(state)
	switch at {
	case "":
		return start, false, nil
	case End:
		return "", true, nil
	}

	e.mu.RLock()
	_, known := e.nodes[at]
	e.mu.RUnlock()
	if !known {
		return "", false, &EngineError{Message: "state cursor names unknown node: " + at, Code: "UNKNOWN_CURSOR"}
	}

	if e.suspends(at, state) {
		return "", false, ErrSuspended
	}

	next, err = e.route(at, Next{}, state)
	if err != nil {
		return "", false, err
	}
	if next == End {
		return "", true, nil
	}
	return next, false, nil
}

// suspends reports whether an interrupt edge after nodeID holds on state.
func (e *Engine[S]) suspends(nodeID string, state S) bool {
	e.mu.RLock()
	when, ok := e.interrupts[nodeID]
	e.mu.RUnlock()
	return ok && when(state)
}

// route picks the successor of from: an explicit Route.To, then a branch,
// then the first matching edge.
func (e *Engine[S]) route(from string, explicit Next, state S) (string, error) {
	if explicit.To != "" {
		return explicit.To, nil
	}

	e.mu.RLock()
	b, hasBranch := e.branches[from]
	e.mu.RUnlock()

	if hasBranch {
		label, to, ok := b.resolve(state)
		if !ok {
			e.opts.Metrics.IncrementRoutingErrors(from)
			return "", &RoutingError{From: from, Label: label}
		}
		return to, nil
	}

	if to := e.evaluateEdges(from, state); to != "" {
		return to, nil
	}

	return "", &EngineError{
		Message: "no valid route from node: " + from,
		Code:    "NO_ROUTE",
	}
}

// evaluateEdges finds the first matching edge from the given node.
//
// Edges are evaluated in registration order; a nil predicate always
// matches. Returns empty string if no edges match.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}

	return ""
}

func (e *Engine[S]) validate() error {
	if e.optErr != nil {
		return e.optErr
	}
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}
	if _, exists := e.nodes[e.startNode]; !exists {
		return &EngineError{Message: "start node does not exist: " + e.startNode, Code: "NODE_NOT_FOUND"}
	}
	return nil
}

func (e *Engine[S]) emit(runID string, step int, nodeID, msg string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (p *NodePolicy) retryPolicy() *RetryPolicy {
	if p == nil {
		return nil
	}
	return p.RetryPolicy
}

func isTimeout(err error) bool {
	var engineErr *EngineError
	return errors.As(err, &engineErr) && engineErr.Code == "NODE_TIMEOUT"
}

// wrapNodeError attributes a node failure to its node. Errors that already
// carry engine context are returned as is.
func wrapNodeError(nodeID string, err error) error {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		if nodeErr.NodeID == "" {
			nodeErr.NodeID = nodeID
		}
		return err
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return err
	}
	return &NodeError{
		Message: err.Error(),
		Code:    "NODE_FAILED",
		NodeID:  nodeID,
		Cause:   err,
	}
}
