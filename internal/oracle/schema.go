package oracle

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validator compiles shape schemas once and validates replies against them.
// It is safe for concurrent use.
type validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func newValidator() *validator {
	return &validator{cache: make(map[string]*jsonschema.Schema)}
}

// validate checks raw against shape's schema. A shape without a schema
// only has to be well-formed JSON.
func (v *validator) validate(shape Shape, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if shape.Schema == "" {
		return nil
	}

	sch, err := v.compile(shape)
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOutput, violations(err))
	}
	return nil
}

func (v *validator) compile(shape Shape) (*jsonschema.Schema, error) {
	key := shape.Name + "\x00" + shape.Schema

	v.mu.RLock()
	sch, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return sch, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if sch, ok := v.cache[key]; ok {
		return sch, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(shape.Schema))
	if err != nil {
		return nil, fmt.Errorf("shape %s: unmarshal schema: %w", shape.Name, err)
	}

	url := fmt.Sprintf("tailorgraph://shapes/%d/%s.json", len(v.cache), shape.Name)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("shape %s: add schema: %w", shape.Name, err)
	}
	sch, err = c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("shape %s: compile schema: %w", shape.Name, err)
	}

	v.cache[key] = sch
	return sch, nil
}

// violations flattens a validation error tree into one line.
func violations(err error) string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var leaves []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, "/"+strings.Join(e.InstanceLocation, "/")+": "+e.Error())
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(leaves, "; ")
}

// extractJSON pulls the JSON value out of a model reply, tolerating
// markdown fences and leading or trailing prose.
func extractJSON(text string) []byte {
	s := strings.TrimSpace(text)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	if s == "" || s[0] == '{' || s[0] == '[' {
		return []byte(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return []byte(s)
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return []byte(s[start:])
	}
	return []byte(s[start : end+1])
}
