package tailor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph"
	"github.com/dshills/tailorgraph/internal/oracle"
)

// loopLabel is the outcome of the gap loop router.
type loopLabel int

const (
	loopNextGap loopLabel = iota
	loopDone
)

func (l loopLabel) String() string {
	if l == loopNextGap {
		return "next_gap"
	}
	return "done"
}

// gapLoop continues while gaps remain unprocessed.
func gapLoop(s State) loopLabel {
	if s.CurrentGapIndex < len(s.Gaps) {
		return loopNextGap
	}
	return loopDone
}

// generateSuggestion proposes an edit for the current gap. It is a no-op
// once every gap is processed, and reuses a suggestion already generated
// for the current gap.
func (st *steps) generateSuggestion(ctx context.Context, s State) graph.NodeResult[State] {
	idx := s.CurrentGapIndex
	if idx >= len(s.Gaps) || len(s.Suggestions) > idx {
		return next(s)
	}

	gap := s.Gaps[idx]
	reply, err := oracle.Ask[suggestionReply](ctx, st.oracle, suggestionPrompt(s, gap), suggestionShape)
	if err != nil {
		return failed(s, err)
	}

	sug := Suggestion{
		Skill:        gap.Skill,
		Section:      reply.Section,
		OriginalText: reply.OriginalText,
		NewText:      reply.NewText,
		Explanation:  reply.Explanation,
		Confidence:   reply.Confidence,
	}
	s.Suggestions = append(s.Suggestions, sug)
	s.CurrentSuggestion = &sug
	st.logger.Debug("suggestion generated",
		zap.Int("gap", idx),
		zap.String("skill", gap.Skill),
		zap.String("confidence", string(sug.Confidence)),
	)
	return next(s)
}

// requestVerification auto-approves high-confidence suggestions and parks
// the workflow on a question for everything else.
func (st *steps) requestVerification(_ context.Context, s State) graph.NodeResult[State] {
	if s.CurrentSuggestion == nil {
		return next(s)
	}
	idx := s.CurrentGapIndex

	if s.CurrentSuggestion.Confidence == ConfidenceHigh {
		s.Suggestions[idx].Approved = true
		s.Suggestions[idx].AutoApproved = true
		cur := s.Suggestions[idx]
		s.CurrentSuggestion = &cur
		s.HumanFeedback = &Answer{Choice: ChoiceYes}
		return next(s)
	}

	s.WaitingForHuman = true
	s.PendingQuestion = verificationQuestion(*s.CurrentSuggestion)
	s.PendingOptions = append([]Choice(nil), VerificationOptions...)
	s.HumanFeedback = nil
	st.logger.Info("awaiting verification",
		zap.Int("gap", idx),
		zap.String("skill", s.CurrentSuggestion.Skill),
	)
	return next(s)
}

// processFeedback applies the answer to the current suggestion and
// advances the loop by one gap. Without an answer it does nothing.
func (st *steps) processFeedback(_ context.Context, s State) graph.NodeResult[State] {
	if s.HumanFeedback == nil || s.WaitingForHuman || s.CurrentSuggestion == nil {
		return next(s)
	}

	idx := s.CurrentGapIndex
	if idx >= len(s.Suggestions) {
		return failed(s, fmt.Errorf("%w: feedback for gap %d without a suggestion", ErrInvalidState, idx))
	}

	sug := s.Suggestions[idx]
	switch s.HumanFeedback.Choice {
	case ChoiceYes:
		sug.Approved = true
	case ChoiceNo:
		sug.Approved = false
	case ChoiceYesModify:
		sug.NewText = s.HumanFeedback.ModifiedText
		sug.Approved = true
	default:
		return failed(s, fmt.Errorf("%w: %q", ErrInvalidAnswer, s.HumanFeedback.Choice))
	}
	sug.Reviewed = true

	s.Suggestions[idx] = sug
	s.CurrentSuggestion = nil
	s.HumanFeedback = nil
	s.CurrentGapIndex++
	st.logger.Debug("feedback applied",
		zap.Int("gap", idx),
		zap.Bool("approved", sug.Approved),
	)
	return next(s)
}
