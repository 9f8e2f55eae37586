package tailor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph"
	"github.com/dshills/tailorgraph/internal/oracle"
)

// implementChanges rewrites the resume with every approved suggestion.
func (st *steps) implementChanges(ctx context.Context, s State) graph.NodeResult[State] {
	reply, err := oracle.Ask[documentReply](ctx, st.oracle, implementPrompt(s), implementShape)
	if err != nil {
		return failed(s, err)
	}
	s.TailoredResume = reply.Resume
	st.logger.Info("changes implemented", zap.Int("approved", len(s.approved())))
	return next(s)
}

// scoreCompatibility scores the resume for ATS compatibility and rewrites
// it once when the score falls below the threshold.
func (st *steps) scoreCompatibility(ctx context.Context, s State) graph.NodeResult[State] {
	analysis, err := oracle.Ask[ATSAnalysis](ctx, st.oracle, atsPrompt(s), atsShape)
	if err != nil {
		return failed(s, err)
	}
	s.QualityScore = analysis.Score

	if analysis.Score < st.atsThreshold {
		reply, err := oracle.Ask[documentReply](ctx, st.oracle, atsRewritePrompt(s, analysis.Improvements), atsRewriteShape)
		if err != nil {
			return failed(s, err)
		}
		s.TailoredResume = reply.Resume
		analysis.Optimized = true
	}
	s.ATS = &analysis

	st.logger.Info("ats scored",
		zap.Float64("score", analysis.Score),
		zap.Bool("optimized", analysis.Optimized),
	)
	return next(s)
}

// finalReview critiques the resume, applies requested adjustments in one
// pass and keeps the strengths as final notes.
func (st *steps) finalReview(ctx context.Context, s State) graph.NodeResult[State] {
	review, err := oracle.Ask[FinalReview](ctx, st.oracle, reviewPrompt(s), reviewShape)
	if err != nil {
		return failed(s, err)
	}

	adjustments := nonBlank(review.Adjustments)
	if len(adjustments) > 0 {
		reply, err := oracle.Ask[documentReply](ctx, st.oracle, polishPrompt(s, adjustments), polishShape)
		if err != nil {
			return failed(s, err)
		}
		s.TailoredResume = reply.Resume
	}

	review.Adjustments = adjustments
	s.Review = &review
	s.FinalNotes = nonBlank(review.Strengths)
	return next(s)
}

// renderReport assembles the final output. Direct edits have already
// rendered theirs.
func (st *steps) renderReport(_ context.Context, s State) graph.NodeResult[State] {
	if !s.EditCompleted {
		s.RenderedOutput = Render(s)
	}
	return graph.NodeResult[State]{Delta: s, Route: graph.Stop()}
}

func nonBlank(items []string) []string {
	var out []string
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			out = append(out, item)
		}
	}
	return out
}
