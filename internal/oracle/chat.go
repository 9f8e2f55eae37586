package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph"
	"github.com/dshills/tailorgraph/graph/model"
)

const systemPrompt = `You produce structured data for an automated pipeline.
Respond with exactly one JSON value that conforms to the JSON Schema below.
Do not wrap it in markdown and do not add commentary.

JSON Schema:
`

// ChatOracle implements Oracle on top of a chat model.
//
// Provider failures that model.IsTemporary reports as transient and replies
// that fail schema validation are retried with exponential backoff.
type ChatOracle struct {
	model       model.ChatModel
	costs       *model.CostTracker
	logger      *zap.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	schemas     *validator
}

// Default retry backoff bounds.
const (
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultMaxDelay  = 10 * time.Second
)

// ChatOption configures a ChatOracle.
type ChatOption func(*ChatOracle)

// WithCostTracker records token usage and cost for every successful call.
func WithCostTracker(ct *model.CostTracker) ChatOption {
	return func(o *ChatOracle) { o.costs = ct }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *zap.Logger) ChatOption {
	return func(o *ChatOracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetry sets the attempt budget per call and the backoff bounds.
// maxAttempts below 1 is treated as 1.
func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) ChatOption {
	return func(o *ChatOracle) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		o.maxAttempts = maxAttempts
		o.baseDelay = baseDelay
		o.maxDelay = maxDelay
	}
}

// NewChatOracle creates a ChatOracle backed by m. By default each call gets
// three attempts starting at a 500ms backoff.
func NewChatOracle(m model.ChatModel, opts ...ChatOption) *ChatOracle {
	o := &ChatOracle{
		model:       m,
		logger:      zap.NewNop(),
		maxAttempts: 3,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		schemas:     newValidator(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "oracle"))
	return o
}

// Invoke implements Oracle.
func (o *ChatOracle) Invoke(ctx context.Context, prompt string, shape Shape) (json.RawMessage, error) {
	messages := []model.Message{
		{Role: model.RoleSystem, Content: systemPrompt + shape.Schema},
		{Role: model.RoleUser, Content: prompt},
	}

	var lastErr error
	transient := false
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, attempt-1); err != nil {
				return nil, &OracleError{Shape: shape.Name, Err: err}
			}
		}

		start := time.Now()
		out, err := o.model.Chat(ctx, messages)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, &OracleError{Shape: shape.Name, Err: err}
			}
			lastErr, transient = err, model.IsTemporary(err)
			o.logger.Warn("oracle call failed",
				zap.String("shape", shape.Name),
				zap.Int("attempt", attempt),
				zap.Bool("transient", transient),
				zap.Error(err),
			)
			if !transient {
				break
			}
			continue
		}

		cost := 0.0
		if o.costs != nil {
			cost = o.costs.Record(out.Model, out.Usage, shape.Name)
		}

		raw := extractJSON(out.Text)
		if err := o.schemas.validate(shape, raw); err != nil {
			lastErr, transient = err, false
			o.logger.Warn("oracle reply rejected",
				zap.String("shape", shape.Name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		o.logger.Debug("oracle call",
			zap.String("shape", shape.Name),
			zap.String("model", out.Model),
			zap.Int("input_tokens", out.Usage.InputTokens),
			zap.Int("output_tokens", out.Usage.OutputTokens),
			zap.Float64("cost_usd", cost),
			zap.Duration("latency", time.Since(start)),
		)
		return json.RawMessage(raw), nil
	}

	return nil, &OracleError{Shape: shape.Name, Transient: transient, Err: lastErr}
}

// sleep waits out the backoff before retry number retry (one-based).
func (o *ChatOracle) sleep(ctx context.Context, retry int) error {
	timer := time.NewTimer(graph.Backoff(retry-1, o.baseDelay, o.maxDelay))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
