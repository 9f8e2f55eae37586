package graph

import "time"

// Options configures Engine execution behavior.
//
// Zero values are valid:
//   - MaxSteps: 0 means no limit (loops must exit on their own)
//   - DefaultNodeTimeout: 0 means nodes run until their context ends
//   - Metrics: nil disables metrics
type Options struct {
	// MaxSteps limits the number of steps executed by a single Run call.
	// Steps from earlier invocations of the same run do not count.
	MaxSteps int

	// DefaultNodeTimeout bounds nodes that have no NodePolicy.Timeout.
	DefaultNodeTimeout time.Duration

	// Metrics receives step latency, retry, suspension and routing metrics.
	Metrics *PrometheusMetrics
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(
//	    reducer, store, emitter,
//	    graph.WithMaxSteps(100),
//	    graph.WithDefaultNodeTimeout(2*time.Minute),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts Options
}

// WithOptions applies a complete Options struct. Later options override it.
func WithOptions(opts Options) Option {
	return func(cfg *engineConfig) error {
		cfg.opts = opts
		return nil
	}
}

// WithMaxSteps limits workflow execution to prevent infinite loops.
//
// Workflow loops (A → B → A) are fully supported. Use MaxSteps to stop a
// run whose loop exit is missing or misconfigured. When MaxSteps is
// exceeded, Run returns an EngineError with code MAX_STEPS_EXCEEDED.
//
// Recommended values:
//   - Simple workflows (3-5 nodes): MaxSteps = 20
//   - Workflows with loops: MaxSteps = depth × max_iterations
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the maximum execution time for nodes without
// an explicit NodePolicy.Timeout.
//
// When exceeded, the node's context is cancelled and the step fails with an
// EngineError coded NODE_TIMEOUT.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "default node timeout cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(reducer, store, emitter, graph.WithMetrics(metrics))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}
