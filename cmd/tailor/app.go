package main

import (
	"context"
	"errors"
	"fmt"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaioption "github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph"
	"github.com/dshills/tailorgraph/graph/emit"
	"github.com/dshills/tailorgraph/graph/model"
	"github.com/dshills/tailorgraph/graph/model/anthropic"
	"github.com/dshills/tailorgraph/graph/model/google"
	"github.com/dshills/tailorgraph/graph/model/openai"
	"github.com/dshills/tailorgraph/graph/store"
	"github.com/dshills/tailorgraph/internal/config"
	"github.com/dshills/tailorgraph/internal/oracle"
	"github.com/dshills/tailorgraph/internal/tailor"
	"github.com/dshills/tailorgraph/internal/telemetry"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers
	registry  *prometheus.Registry
	metrics   *graph.PrometheusMetrics
	costs     *model.CostTracker
	oracle    oracle.Oracle
	store     store.Store[tailor.State]
	redis     *redis.Client
	ping      func(context.Context) error
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		costs:    model.NewCostTracker(),
		ping:     func(context.Context) error { return nil },
	}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = graph.NewPrometheusMetrics(a.registry)

	a.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}

	chat, err := newChatModel(cfg.LLM)
	if err != nil {
		return nil, err
	}
	a.oracle = oracle.NewChatOracle(chat,
		oracle.WithCostTracker(a.costs),
		oracle.WithLogger(logger),
		oracle.WithRetry(cfg.LLM.MaxRetries, oracle.DefaultBaseDelay, oracle.DefaultMaxDelay),
	)

	if cfg.Store.Driver == "redis" || cfg.Session.DistributedLock {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		a.closers = append(a.closers, a.redis.Close)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// newChatModel builds the configured provider adapter.
func newChatModel(cfg config.LLMConfig) (model.ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider)
	}
	settings := model.Settings{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		JSONMode:    true,
	}
	switch cfg.Provider {
	case "anthropic":
		var opts []anthropicoption.RequestOption
		if cfg.Timeout > 0 {
			opts = append(opts, anthropicoption.WithRequestTimeout(cfg.Timeout))
		}
		return anthropic.NewChatModel(cfg.APIKey, cfg.Model, settings, opts...), nil
	case "openai":
		var opts []openaioption.RequestOption
		if cfg.Timeout > 0 {
			opts = append(opts, openaioption.WithRequestTimeout(cfg.Timeout))
		}
		return openai.NewChatModel(cfg.APIKey, cfg.Model, settings, opts...), nil
	case "google":
		var opts []google.Option
		if cfg.Timeout > 0 {
			opts = append(opts, google.WithRequestTimeout(cfg.Timeout))
		}
		return google.NewChatModel(cfg.APIKey, cfg.Model, settings, opts...), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// openStore opens the configured session store backend.
func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg.Store
	switch cfg.Driver {
	case "memory":
		a.store = store.NewMemStore[tailor.State]()
	case "sqlite":
		st, err := store.NewSQLiteStore[tailor.State](cfg.DSN)
		if err != nil {
			return err
		}
		a.store, a.ping = st, st.Ping
		a.closers = append(a.closers, st.Close)
	case "mysql":
		st, err := store.NewMySQLStore[tailor.State](cfg.DSN)
		if err != nil {
			return err
		}
		a.store, a.ping = st, st.Ping
		a.closers = append(a.closers, st.Close)
	case "postgres":
		st, err := store.NewPostgresStore[tailor.State](ctx, cfg.DSN)
		if err != nil {
			return err
		}
		a.store, a.ping = st, st.Ping
		a.closers = append(a.closers, func() error { st.Close(); return nil })
	case "redis":
		st := store.NewRedisStore[tailor.State](a.redis, cfg.KeyPrefix, a.cfg.Session.TTL)
		if err := st.Ping(ctx); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.store, a.ping = st, st.Ping
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	a.logger.Info("session store opened", zap.String("driver", cfg.Driver))
	return nil
}

// emitter sends engine events to the log and, when tracing is on, to spans.
func (a *app) emitter() emit.Emitter {
	log := emit.NewLogEmitter(a.logger.With(zap.String("component", "engine")))
	if !a.telemetry.Enabled() {
		return log
	}
	return emit.Fanout{log, emit.NewOTelEmitter(a.telemetry.Tracer("github.com/dshills/tailorgraph/graph"))}
}

// workflow builds a tailoring workflow that saves through st.
func (a *app) workflow(st store.Store[tailor.State]) (*tailor.Workflow, error) {
	return tailor.New(a.oracle, st, a.emitter(), tailor.Config{
		ATSThreshold: a.cfg.Workflow.ATSThreshold,
		MaxSteps:     a.cfg.Workflow.MaxSteps,
		StepTimeout:  a.cfg.Workflow.StepTimeout,
		StepAttempts: a.cfg.Workflow.StepAttempts,
		Metrics:      a.metrics,
	}, a.logger)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	errs = append(errs, a.telemetry.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", zap.Error(err))
	}

	input, output := a.costs.Tokens()
	a.logger.Info("llm usage",
		zap.Int64("input_tokens", input),
		zap.Int64("output_tokens", output),
		zap.Float64("cost_usd", a.costs.TotalCost()),
	)
}
