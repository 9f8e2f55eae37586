package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Reply is one scripted oracle answer: a value marshaled to JSON, or an error.
// Delay holds the answer back as a slow provider would.
type Reply struct {
	Value any
	Err   error
	Delay time.Duration
}

// Call records one invocation of a Scripted oracle.
type Call struct {
	Shape  string
	Prompt string
}

// Scripted is a deterministic Oracle for tests. Replies are queued per shape
// name; the last reply for a shape repeats once the queue is drained.
// Scripted values are validated against the shape schema, so fixtures drift
// with the schemas they stand in for.
type Scripted struct {
	mu      sync.Mutex
	replies map[string][]Reply
	next    map[string]int
	calls   []Call
	schemas *validator
}

// NewScripted returns an empty Scripted oracle.
func NewScripted() *Scripted {
	return &Scripted{
		replies: make(map[string][]Reply),
		next:    make(map[string]int),
		schemas: newValidator(),
	}
}

// On queues replies for shape.
func (s *Scripted) On(shape string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replies[shape] = append(s.replies[shape], replies...)
	return s
}

// Calls returns a copy of the recorded invocations.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Call(nil), s.calls...)
}

// Count returns how many times shape was invoked.
func (s *Scripted) Count(shape string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.calls {
		if c.Shape == shape {
			n++
		}
	}
	return n
}

// Invoke implements Oracle.
func (s *Scripted) Invoke(ctx context.Context, prompt string, shape Shape) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &OracleError{Shape: shape.Name, Err: err}
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Shape: shape.Name, Prompt: prompt})
	queue := s.replies[shape.Name]
	if len(queue) == 0 {
		s.mu.Unlock()
		return nil, &OracleError{Shape: shape.Name, Err: fmt.Errorf("no scripted reply for shape %q", shape.Name)}
	}
	idx := s.next[shape.Name]
	if idx < len(queue)-1 {
		s.next[shape.Name] = idx + 1
	} else {
		idx = len(queue) - 1
	}
	reply := queue[idx]
	s.mu.Unlock()

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &OracleError{Shape: shape.Name, Transient: true, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if reply.Err != nil {
		return nil, reply.Err
	}

	raw, err := json.Marshal(reply.Value)
	if err != nil {
		return nil, &OracleError{Shape: shape.Name, Err: err}
	}
	if err := s.schemas.validate(shape, raw); err != nil {
		return nil, &OracleError{Shape: shape.Name, Err: err}
	}
	return raw, nil
}
