// Package emit provides event emission and observability for graph execution.
package emit

// Emitter receives and processes observability events from workflow execution.
//
// Implementations should be:
//   - Non-blocking: Avoid slowing down workflow execution
//   - Thread-safe: May be called concurrently from multiple runs
//   - Resilient: Handle failures gracefully (don't crash workflow)
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Emit should not panic. Errors should be handled internally.
	Emit(event Event)
}

// Fanout forwards every event to each of its emitters in order.
//
// Example:
//
//	emitter := emit.Fanout{emit.NewLogEmitter(logger), emit.NewOTelEmitter(tracer)}
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(event Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(event)
		}
	}
}
