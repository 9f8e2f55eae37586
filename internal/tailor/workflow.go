// Package tailor implements the resume tailoring workflow: intent routing,
// requirement analysis, the per-gap suggestion loop with human
// verification, synthesis and report rendering.
//
// The workflow runs on a graph.Engine. It suspends whenever a suggestion
// needs human review: Run returns with State.WaitingForHuman set, the
// caller records the answer with Resume and calls Run again.
package tailor

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph"
	"github.com/dshills/tailorgraph/graph/emit"
	"github.com/dshills/tailorgraph/graph/store"
	"github.com/dshills/tailorgraph/internal/oracle"
)

// ErrEmptyResume is returned by Run for a new session without a resume.
var ErrEmptyResume = errors.New("resume text is empty")

// Config tunes the workflow.
type Config struct {
	// ATSThreshold is the compatibility score below which the resume is
	// rewritten once for ATS compatibility.
	ATSThreshold float64

	// MaxSteps bounds the steps of one Run call. Zero means unlimited.
	MaxSteps int

	// StepTimeout bounds each step. Resume analysis instead applies it to
	// each requirement. Zero means no timeout.
	StepTimeout time.Duration

	// StepAttempts is the number of times an oracle-backed step is tried
	// when it fails with a transient oracle error. Values below 2 disable
	// step retries.
	StepAttempts int

	// Metrics receives engine metrics. Nil disables them.
	Metrics *graph.PrometheusMetrics
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ATSThreshold: 80,
		MaxSteps:     1000,
		StepTimeout:  5 * time.Minute,
		StepAttempts: 2,
	}
}

// Workflow runs tailoring sessions.
type Workflow struct {
	engine *graph.Engine[State]
	logger *zap.Logger
}

// New builds the workflow graph. The store receives the state after every
// step; the emitter receives engine events.
func New(o oracle.Oracle, st store.Store[State], emitter emit.Emitter, cfg Config, logger *zap.Logger) (*Workflow, error) {
	if o == nil {
		return nil, errors.New("tailor: oracle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	logger = logger.With(zap.String("component", "workflow"))

	engine := graph.New(graph.Replace[State], st, emitter,
		graph.WithMaxSteps(cfg.MaxSteps),
		graph.WithDefaultNodeTimeout(cfg.StepTimeout),
		graph.WithMetrics(cfg.Metrics),
	)

	s := &steps{oracle: o, logger: logger, atsThreshold: cfg.ATSThreshold, itemTimeout: cfg.StepTimeout}
	if err := build(engine, s, cfg); err != nil {
		return nil, err
	}
	return &Workflow{engine: engine, logger: logger}, nil
}

// Run advances the session until it completes or suspends for review.
//
// A suspended state comes back with a nil error and WaitingForHuman set;
// calling Run again before Resume returns it unchanged, and so does calling
// Run on a completed state. On failure Run returns the last state saved to
// the store, from which the session can be retried.
func (w *Workflow) Run(ctx context.Context, sessionID string, s State) (State, error) {
	if s.Cursor == "" && strings.TrimSpace(s.Resume) == "" {
		return s, ErrEmptyResume
	}

	out, err := w.engine.Run(ctx, sessionID, s)
	if errors.Is(err, graph.ErrSuspended) {
		return out, nil
	}
	if err != nil {
		w.logger.Error("workflow failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return out, err
}

func build(e *graph.Engine[State], s *steps, cfg Config) error {
	nodes := []struct {
		name   StepName
		fn     func(context.Context, State) graph.NodeResult[State]
		oracle bool
	}{
		{StepClassifyIntent, s.classifyIntent, true},
		{StepDirectEdit, s.directEdit, true},
		{StepExtractRequirements, s.extractRequirements, true},
		{StepAnalyzeResume, s.analyzeResume, true},
		{StepPrioritizeGaps, s.prioritizeGaps, true},
		{StepGenerateSuggestion, s.generateSuggestion, true},
		{StepRequestVerification, s.requestVerification, false},
		{StepProcessFeedback, s.processFeedback, false},
		{StepImplementChanges, s.implementChanges, true},
		{StepScoreCompatibility, s.scoreCompatibility, true},
		{StepFinalReview, s.finalReview, true},
		{StepRenderReport, s.renderReport, false},
	}
	for _, n := range nodes {
		if err := e.Add(string(n.name), graph.NodeFunc[State](n.fn)); err != nil {
			return err
		}
		policy := graph.NodePolicy{Unbounded: n.name == StepAnalyzeResume}
		if n.oracle && cfg.StepAttempts > 1 {
			policy.Timeout = cfg.StepTimeout
			policy.RetryPolicy = &graph.RetryPolicy{
				MaxAttempts: cfg.StepAttempts,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
				Retryable:   transientOracleError,
			}
		}
		if policy.Unbounded || policy.RetryPolicy != nil {
			if err := e.SetPolicy(string(n.name), policy); err != nil {
				return err
			}
		}
	}

	if err := e.StartAt(string(StepClassifyIntent)); err != nil {
		return err
	}
	if err := e.TrackCursor(
		func(s State) string { return string(s.Cursor) },
		func(s State, at string) State { s.Cursor = StepName(at); return s },
	); err != nil {
		return err
	}

	if err := graph.Branch(e, string(StepClassifyIntent), intentRoute, map[RequestKind]string{
		KindTailor:     string(StepExtractRequirements),
		KindDirectEdit: string(StepDirectEdit),
	}); err != nil {
		return err
	}

	loop := map[loopLabel]string{
		loopNextGap: string(StepGenerateSuggestion),
		loopDone:    string(StepImplementChanges),
	}
	if err := graph.Branch(e, string(StepPrioritizeGaps), gapLoop, loop); err != nil {
		return err
	}
	if err := graph.Branch(e, string(StepProcessFeedback), gapLoop, loop); err != nil {
		return err
	}

	if err := e.Interrupt(string(StepRequestVerification), func(s State) bool { return s.WaitingForHuman }); err != nil {
		return err
	}

	chain := [][2]StepName{
		{StepDirectEdit, StepRenderReport},
		{StepExtractRequirements, StepAnalyzeResume},
		{StepAnalyzeResume, StepPrioritizeGaps},
		{StepGenerateSuggestion, StepRequestVerification},
		{StepRequestVerification, StepProcessFeedback},
		{StepImplementChanges, StepScoreCompatibility},
		{StepScoreCompatibility, StepFinalReview},
		{StepFinalReview, StepRenderReport},
	}
	for _, c := range chain {
		if err := e.Connect(string(c[0]), string(c[1]), nil); err != nil {
			return err
		}
	}
	return nil
}

// transientOracleError reports whether a failed step may succeed on retry.
func transientOracleError(err error) bool {
	var oerr *oracle.OracleError
	return errors.As(err, &oerr) && oerr.Transient
}
