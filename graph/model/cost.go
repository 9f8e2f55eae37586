package model

import (
	"sync"
	"time"
)

// Pricing defines input and output token costs for an LLM model.
// Prices are in USD per 1M tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for the models the adapters default to. Unknown models
// are tracked with zero cost; override with SetPricing.
var defaultPricing = map[string]Pricing{
	"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":           {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":      {InputPer1M: 0.40, OutputPer1M: 1.60},
	"claude-sonnet-4-5": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-sonnet-4-0": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-haiku-4-5":  {InputPer1M: 1.00, OutputPer1M: 5.00},
	"claude-opus-4-1":   {InputPer1M: 15.00, OutputPer1M: 75.00},
	"gemini-1.5-pro":    {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":  {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.0-flash":  {InputPer1M: 0.10, OutputPer1M: 0.40},
}

// Call records a single LLM invocation.
type Call struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	// Label attributes the call, usually the prompt shape that issued it.
	Label string
}

// CostTracker accumulates token usage and cost across LLM calls.
// It is safe for concurrent use.
type CostTracker struct {
	mu      sync.RWMutex
	pricing map[string]Pricing
	calls   []Call
	total   float64
	byModel map[string]float64
	input   int64
	output  int64
}

// NewCostTracker returns a tracker seeded with the default pricing table.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]Pricing, len(defaultPricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		byModel: make(map[string]float64),
	}
}

// Record adds one call to the tracker and returns its cost in USD.
func (ct *CostTracker) Record(model string, usage Usage, label string) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	p := ct.pricing[model]
	cost := float64(usage.InputTokens)/1_000_000.0*p.InputPer1M +
		float64(usage.OutputTokens)/1_000_000.0*p.OutputPer1M

	ct.calls = append(ct.calls, Call{
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		Label:        label,
	})
	ct.total += cost
	ct.byModel[model] += cost
	ct.input += int64(usage.InputTokens)
	ct.output += int64(usage.OutputTokens)
	return cost
}

// SetPricing overrides the price of a model.
func (ct *CostTracker) SetPricing(model string, p Pricing) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.pricing[model] = p
}

// TotalCost returns the cumulative cost in USD.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return ct.total
}

// CostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	out := make(map[string]float64, len(ct.byModel))
	for k, v := range ct.byModel {
		out[k] = v
	}
	return out
}

// Calls returns a copy of the call history.
func (ct *CostTracker) Calls() []Call {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return append([]Call(nil), ct.calls...)
}

// Tokens returns cumulative input and output token counts.
func (ct *CostTracker) Tokens() (input, output int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return ct.input, ct.output
}
