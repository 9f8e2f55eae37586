// Package server exposes tailoring sessions over HTTP with a websocket
// push channel for state updates.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/internal/ingest"
	"github.com/dshills/tailorgraph/internal/session"
	"github.com/dshills/tailorgraph/internal/tailor"
)

// Sessions is the session API served over HTTP. *session.Manager
// implements it.
type Sessions interface {
	Create(ctx context.Context, in session.NewSession) (string, tailor.State, error)
	Feedback(ctx context.Context, id string, answer tailor.Answer) (tailor.State, error)
	Continue(ctx context.Context, id string) (tailor.State, error)
	Get(ctx context.Context, id string) (tailor.State, error)
	Delete(ctx context.Context, id string) error
}

// Subscriber streams session updates. *session.Broker implements it.
type Subscriber interface {
	Subscribe(sessionID string) (<-chan session.Update, func())
}

// JobFetcher resolves a job posting URL to its description.
type JobFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config tunes the HTTP layer.
type Config struct {
	// CORSOrigins are the browser origins allowed to call the API and
	// open websockets.
	CORSOrigins []string

	// RateLimit is the sustained requests per second allowed per client
	// address. Zero disables rate limiting.
	RateLimit float64
	RateBurst int

	// MaxUploadBytes bounds request bodies, including PDF uploads.
	MaxUploadBytes int64

	// WriteTimeout bounds each websocket message write.
	WriteTimeout time.Duration
}

// Server routes HTTP requests to the session API.
type Server struct {
	sessions Sessions
	updates  Subscriber
	fetcher  JobFetcher
	extract  func([]byte) (string, error)
	cfg      Config
	validate *validator.Validate
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	health   func(context.Context) error
	requests *prometheus.CounterVec
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithJobFetcher replaces the default job page fetcher.
func WithJobFetcher(f JobFetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// WithMetrics serves /metrics from g and registers request counters on r.
func WithMetrics(r prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
		if r != nil {
			s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tailorgraph",
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			}, []string{"route", "code"})
			r.MustRegister(s.requests)
		}
	}
}

// WithHealthCheck makes /health report failures of check, such as an
// unreachable store.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(s *Server) { s.health = check }
}

// New returns a Server.
func New(sessions Sessions, updates Subscriber, cfg Config, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &Server{
		sessions: sessions,
		updates:  updates,
		fetcher:  ingest.NewJobFetcher(30 * time.Second),
		extract:  ingest.ExtractText,
		cfg:      cfg,
		validate: validator.New(),
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "http"))
	return s
}

// Handler returns the routed handler with middleware applied. ctx stops
// background cleanup of rate limiter state.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("GET /sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDelete)
	mux.HandleFunc("POST /sessions/{id}/feedback", s.handleFeedback)
	mux.HandleFunc("POST /sessions/{id}/continue", s.handleContinue)
	mux.HandleFunc("GET /sessions/{id}/ws", s.handleUpdates)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestLogger(s.logger, s.requests),
		CORS(s.cfg.CORSOrigins),
	}
	if s.cfg.RateLimit > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, s.cfg.RateLimit, s.cfg.RateBurst))
	}
	return Chain(mux, middlewares...)
}
