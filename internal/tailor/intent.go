package tailor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph"
	"github.com/dshills/tailorgraph/internal/oracle"
)

// classifyIntent decides between tailoring and a direct edit. A session
// without a free-text request is a tailoring session and costs no call.
func (st *steps) classifyIntent(ctx context.Context, s State) graph.NodeResult[State] {
	if s.RequestKind != "" {
		return next(s)
	}
	if strings.TrimSpace(s.Request) == "" {
		s.RequestKind = KindTailor
		return next(s)
	}

	reply, err := oracle.Ask[intentReply](ctx, st.oracle, intentPrompt(s), intentShape)
	if err != nil {
		return failed(s, err)
	}

	s.RequestKind = reply.RequestKind
	if s.RequestKind == KindDirectEdit {
		instruction := strings.TrimSpace(reply.Instruction)
		if instruction == "" {
			instruction = s.Request
		}
		s.EditTarget = &EditTarget{Section: strings.TrimSpace(reply.Section), Instruction: instruction}
	}
	st.logger.Info("request classified", zap.String("request_kind", string(s.RequestKind)))
	return next(s)
}

// intentRoute labels the branch after classification.
func intentRoute(s State) RequestKind {
	return s.RequestKind
}

// directEdit applies a single requested change and renders its output,
// bypassing the analysis pipeline.
func (st *steps) directEdit(ctx context.Context, s State) graph.NodeResult[State] {
	reply, err := oracle.Ask[directEditReply](ctx, st.oracle, directEditPrompt(s), directEditShape)
	if err != nil {
		return failed(s, err)
	}

	s.TailoredResume = reply.Resume
	s.EditCompleted = true
	s.RenderedOutput = RenderEdit(s, reply.Summary)
	return next(s)
}
