package anthropic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/tailorgraph/graph/model"
)

type fakeMessages struct {
	resp   *anthropic.Message
	err    error
	params []anthropic.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = append(f.params, params)
	return f.resp, f.err
}

func TestNewChatModel_Defaults(t *testing.T) {
	m := NewChatModel("test-key", "", model.Settings{})
	if m.modelName != DefaultModel {
		t.Errorf("modelName = %q, want %q", m.modelName, DefaultModel)
	}
	if m.client == nil {
		t.Error("expected SDK client to be wired")
	}
}

func TestChat_SystemPromptAndUsage(t *testing.T) {
	fake := &fakeMessages{resp: &anthropic.Message{
		Model: "claude-sonnet-4-5",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: `{"ok":`},
			{Type: "text", Text: `true}`},
		},
		Usage: anthropic.Usage{InputTokens: 120, OutputTokens: 8},
	}}
	m := &ChatModel{modelName: "claude-sonnet-4-5", settings: model.Settings{Temperature: 0.2, MaxTokens: 256}, client: fake}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "Reply with JSON."},
		{Role: model.RoleUser, Content: "Is this ok?"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if out.Text != `{"ok":true}` {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Usage.InputTokens != 120 || out.Usage.OutputTokens != 8 {
		t.Errorf("Usage = %+v", out.Usage)
	}

	if len(fake.params) != 1 {
		t.Fatalf("expected 1 request, got %d", len(fake.params))
	}
	req := fake.params[0]
	if len(req.System) != 1 || req.System[0].Text != "Reply with JSON." {
		t.Errorf("System = %+v", req.System)
	}
	if len(req.Messages) != 1 {
		t.Errorf("expected system message to be lifted out, got %d messages", len(req.Messages))
	}
	if req.MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want 256", req.MaxTokens)
	}
}

func TestChat_DefaultMaxTokens(t *testing.T) {
	fake := &fakeMessages{resp: &anthropic.Message{}}
	m := &ChatModel{modelName: DefaultModel, client: fake}

	out, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if fake.params[0].MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", fake.params[0].MaxTokens, defaultMaxTokens)
	}
	if out.Model != DefaultModel {
		t.Errorf("Model = %q, want fallback to configured name", out.Model)
	}
}

func TestChat_RequiresConversation(t *testing.T) {
	m := &ChatModel{modelName: DefaultModel, client: &fakeMessages{}}
	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleSystem, Content: "only system"}})
	if err == nil {
		t.Fatal("expected error for system-only conversation")
	}
}

func TestChat_TranslatesAPIError(t *testing.T) {
	apiErr := &anthropic.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: http.StatusTooManyRequests},
	}
	m := &ChatModel{modelName: DefaultModel, client: &fakeMessages{err: apiErr}}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}})

	var perr *model.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if perr.StatusCode != http.StatusTooManyRequests || !perr.Temporary() {
		t.Errorf("got status %d temporary=%v", perr.StatusCode, perr.Temporary())
	}
}

func TestChat_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeMessages{}
	m := &ChatModel{modelName: DefaultModel, client: fake}
	if _, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "hi"}}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if len(fake.params) != 0 {
		t.Error("canceled call should not reach the API")
	}
}
