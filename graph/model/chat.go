// Package model provides LLM integration adapters.
package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ChatModel defines the interface for LLM chat providers.
//
// It abstracts the differences between providers (OpenAI, Anthropic,
// Google) behind a single request/response shape. Implementations must
// respect context cancellation and report provider failures as
// *ProviderError so callers can tell transient failures from permanent ones.
//
// Example usage:
//
//	m := anthropic.NewChatModel(apiKey, "claude-sonnet-4-5", model.Settings{Temperature: 0.7, MaxTokens: 4000})
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "Reply with JSON only."},
//	    {Role: model.RoleUser, Content: prompt},
//	})
type ChatModel interface {
	// Chat sends messages to the LLM and returns the response.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string

	// Content contains the message text.
	Content string
}

// Standard role constants for LLM conversations.
const (
	// RoleSystem sets context and output instructions.
	RoleSystem = "system"

	// RoleUser carries the prompt.
	RoleUser = "user"

	// RoleAssistant carries earlier model replies.
	RoleAssistant = "assistant"
)

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text contains the LLM's generated response.
	Text string

	// Model is the model that produced the response, as reported by the
	// provider when available.
	Model string

	// Usage reports the tokens consumed by the call.
	Usage Usage
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Settings carries the sampling parameters shared by every adapter.
type Settings struct {
	// Temperature controls sampling randomness.
	Temperature float64

	// MaxTokens caps the response length. Zero uses the adapter default.
	MaxTokens int

	// JSONMode asks providers that support it to constrain output to a
	// single JSON object.
	JSONMode bool
}

// SplitSystem separates system messages from the conversation. Providers
// that take the system prompt out of band use it; multiple system messages
// are joined with blank lines.
func SplitSystem(messages []Message) (system string, rest []Message) {
	rest = make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

// ProviderError reports a failed call to an LLM provider.
type ProviderError struct {
	// Provider names the adapter ("anthropic", "openai", "google").
	Provider string

	// StatusCode is the HTTP status returned by the provider, or 0 when the
	// request never got a response.
	StatusCode int

	Err error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the call may succeed: rate limits,
// server errors, timeouts and transport failures.
func (e *ProviderError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == 0:
		return !errors.Is(e.Err, context.Canceled)
	}
	return false
}

// IsTemporary reports whether err wraps a temporary ProviderError.
func IsTemporary(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Temporary()
}
