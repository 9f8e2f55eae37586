package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleSystem, Content: "b"},
		{Role: RoleAssistant, Content: "hi"},
	})

	if system != "a\n\nb" {
		t.Errorf("system = %q, want %q", system, "a\n\nb")
	}
	if len(rest) != 2 || rest[0].Role != RoleUser || rest[1].Role != RoleAssistant {
		t.Errorf("rest = %+v", rest)
	}
}

func TestProviderError_Temporary(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{"rate limit", &ProviderError{Provider: "openai", StatusCode: 429, Err: errors.New("slow down")}, true},
		{"server error", &ProviderError{Provider: "openai", StatusCode: 503, Err: errors.New("unavailable")}, true},
		{"bad request", &ProviderError{Provider: "openai", StatusCode: 400, Err: errors.New("bad")}, false},
		{"auth", &ProviderError{Provider: "openai", StatusCode: 401, Err: errors.New("no key")}, false},
		{"transport", &ProviderError{Provider: "openai", Err: errors.New("connection reset")}, true},
		{"canceled", &ProviderError{Provider: "openai", Err: context.Canceled}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Temporary(); got != tt.want {
				t.Errorf("Temporary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTemporary_Wrapped(t *testing.T) {
	err := fmt.Errorf("oracle: %w", &ProviderError{Provider: "anthropic", StatusCode: 529, Err: errors.New("overloaded")})
	if !IsTemporary(err) {
		t.Error("expected wrapped 529 to be temporary")
	}
	if IsTemporary(errors.New("plain")) {
		t.Error("plain errors are not temporary")
	}
}

func TestProviderError_Message(t *testing.T) {
	err := &ProviderError{Provider: "google", StatusCode: 500, Err: errors.New("boom")}
	if got := err.Error(); got != "google: status 500: boom" {
		t.Errorf("Error() = %q", got)
	}
	cause := errors.New("dial tcp")
	if !errors.Is(&ProviderError{Provider: "google", Err: cause}, cause) {
		t.Error("expected Unwrap to expose cause")
	}
}
