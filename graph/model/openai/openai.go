// Package openai adapts OpenAI's Chat Completions API to model.ChatModel.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/tailorgraph/graph/model"
)

// DefaultModel is used when NewChatModel receives an empty model name.
const DefaultModel = "gpt-4o"

// ChatModel implements model.ChatModel for OpenAI's GPT models.
//
// Example usage:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini", model.Settings{JSONMode: true})
//	out, err := m.Chat(ctx, messages)
type ChatModel struct {
	modelName string
	settings  model.Settings
	client    completionsAPI
}

type completionsAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// NewChatModel creates a ChatModel. Extra request options are passed
// through to the SDK client; option.WithBaseURL points it at any
// OpenAI-compatible endpoint.
func NewChatModel(apiKey, modelName string, settings model.Settings, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &ChatModel{
		modelName: modelName,
		settings:  settings,
		client:    &client.Chat.Completions,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}
	if len(messages) == 0 {
		return model.ChatOut{}, errors.New("openai: at least one message is required")
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(m.modelName),
		Messages:    convertMessages(messages),
		Temperature: openai.Float(m.settings.Temperature),
	}
	if m.settings.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(m.settings.MaxTokens))
	}
	if m.settings.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	completion, err := m.client.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, &model.ProviderError{Provider: "openai", Err: errors.New("response contained no choices")}
	}

	name := completion.Model
	if name == "" {
		name = m.modelName
	}
	return model.ChatOut{
		Text:  completion.Choices[0].Message.Content,
		Model: name,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	perr := &model.ProviderError{Provider: "openai", Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		perr.StatusCode = apiErr.StatusCode
	}
	return perr
}
