package emit

// Event represents an observability event emitted during workflow execution.
//
// The engine emits:
//   - "node completed" after a step is persisted (Meta["next"] names the successor)
//   - "node retry" before a retry (Meta: attempt, error, delay_ms)
//   - "run suspended" when an interrupt edge parks the run
//   - "run completed" when the run reaches End
//   - "run failed" when the run stops on an error (Meta["error"])
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string

	// Step is the sequential step number in the run (1-indexed).
	Step int

	// NodeID identifies which node emitted this event.
	// Empty string for workflow-level events.
	NodeID string

	// Msg is a human-readable description of the event.
	Msg string

	// Meta contains additional structured data specific to this event.
	Meta map[string]interface{}
}
