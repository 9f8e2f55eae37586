// Package oracle turns a prompt plus a JSON Schema into a validated JSON
// value. Workflow steps depend on the Oracle interface only, so they can be
// exercised against the Scripted fake.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidOutput is wrapped by OracleError when the model's reply is not
// JSON or does not conform to the requested shape.
var ErrInvalidOutput = errors.New("oracle output does not match shape")

// Shape names a desired output and the JSON Schema it must satisfy.
type Shape struct {
	// Name identifies the shape in logs, cost attribution and fakes.
	Name string

	// Schema is a JSON Schema document.
	Schema string
}

// Oracle produces a structured value for a prompt.
type Oracle interface {
	Invoke(ctx context.Context, prompt string, shape Shape) (json.RawMessage, error)
}

// Func adapts an ordinary function to Oracle.
type Func func(ctx context.Context, prompt string, shape Shape) (json.RawMessage, error)

// Invoke implements Oracle.
func (f Func) Invoke(ctx context.Context, prompt string, shape Shape) (json.RawMessage, error) {
	return f(ctx, prompt, shape)
}

// Ask invokes o and decodes the reply into T.
func Ask[T any](ctx context.Context, o Oracle, prompt string, shape Shape) (T, error) {
	var out T
	raw, err := o.Invoke(ctx, prompt, shape)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &OracleError{Shape: shape.Name, Err: fmt.Errorf("%w: %v", ErrInvalidOutput, err)}
	}
	return out, nil
}

// OracleError reports a failed oracle call.
type OracleError struct {
	// Shape is the name of the requested output shape.
	Shape string

	// Transient is true when the failure came from the provider and a
	// later retry of the whole run may succeed.
	Transient bool

	Err error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Shape, e.Err)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}
