// Package google adapts Google's Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dshills/tailorgraph/graph/model"
)

// DefaultModel is used when NewChatModel receives an empty model name.
const DefaultModel = "gemini-2.0-flash"

// ChatModel implements model.ChatModel for Google's Gemini models.
//
// System messages become the model's system instruction; earlier turns are
// sent as chat history and the final message as the prompt.
type ChatModel struct {
	modelName string
	settings  model.Settings
	timeout   time.Duration
	client    generator
}

// Option configures a ChatModel.
type Option func(*ChatModel)

// WithRequestTimeout bounds each Gemini call. A call that overruns it fails
// with a retryable ProviderError rather than a context error.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *ChatModel) {
		m.timeout = d
	}
}

// request is one Gemini call in SDK terms.
type request struct {
	system  string
	history []*genai.Content
	prompt  []genai.Part
}

// generator performs a Gemini call. It allows for mocking in tests.
type generator interface {
	generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
}

// NewChatModel creates a ChatModel.
func NewChatModel(apiKey, modelName string, settings model.Settings, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	m := &ChatModel{
		modelName: modelName,
		settings:  settings,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName, settings: settings},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequestTimeout returns the per-call bound set by WithRequestTimeout.
func (m *ChatModel) RequestTimeout() time.Duration {
	return m.timeout
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	system, rest := model.SplitSystem(messages)
	if len(rest) == 0 {
		return model.ChatOut{}, errors.New("google: at least one non-system message is required")
	}

	history := make([]*genai.Content, 0, len(rest)-1)
	for _, msg := range rest[:len(rest)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}

	callCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	resp, err := m.client.generate(callCtx, request{
		system:  system,
		history: history,
		prompt:  []genai.Part{genai.Text(rest[len(rest)-1].Content)},
	})
	if err != nil {
		if ctx.Err() == nil && callCtx.Err() != nil {
			return model.ChatOut{}, &model.ProviderError{
				Provider:   "google",
				StatusCode: http.StatusGatewayTimeout,
				Err:        fmt.Errorf("request timed out after %v", m.timeout),
			}
		}
		return model.ChatOut{}, translateError(err)
	}

	out := convertResponse(resp)
	out.Model = m.modelName
	return out, nil
}

// defaultClient opens a Gemini client per call and closes it afterwards.
type defaultClient struct {
	apiKey    string
	modelName string
	settings  model.Settings
}

func (c *defaultClient) generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	gm := client.GenerativeModel(c.modelName)
	gm.SetTemperature(float32(c.settings.Temperature))
	if c.settings.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(c.settings.MaxTokens))
	}
	if c.settings.JSONMode {
		gm.ResponseMIMEType = "application/json"
	}
	if req.system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}

	cs := gm.StartChat()
	cs.History = req.history
	return cs.SendMessage(ctx, req.prompt...)
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	var out model.ChatOut
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out.Text = text.String()
	return out
}

func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &SafetyFilterError{reason: blockReason(blocked), category: blockCategory(blocked)}
	}

	perr := &model.ProviderError{Provider: "google", Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		perr.StatusCode = apiErr.Code
		return perr
	}
	if st, ok := status.FromError(err); ok {
		perr.StatusCode = httpStatus(st.Code())
	}
	return perr
}

// httpStatus maps gRPC status codes onto the HTTP statuses ProviderError
// classifies.
func httpStatus(code codes.Code) int {
	switch code {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Internal, codes.Unknown:
		return http.StatusInternalServerError
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	}
	return 0
}

func blockReason(b *genai.BlockedError) string {
	if b.PromptFeedback != nil {
		return b.PromptFeedback.BlockReason.String()
	}
	if b.Candidate != nil {
		return b.Candidate.FinishReason.String()
	}
	return "unknown"
}

func blockCategory(b *genai.BlockedError) string {
	var ratings []*genai.SafetyRating
	if b.Candidate != nil {
		ratings = b.Candidate.SafetyRatings
	} else if b.PromptFeedback != nil {
		ratings = b.PromptFeedback.SafetyRatings
	}
	for _, r := range ratings {
		if r.Blocked {
			return r.Category.String()
		}
	}
	return "unspecified"
}

// SafetyFilterError reports content blocked by Gemini's safety filters.
// It is never temporary: resending the same prompt is blocked again.
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("content blocked: %s", safetyErr.Category())
//	}
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
