package tailor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/graph"
	"github.com/dshills/tailorgraph/internal/oracle"
)

// extractRequirements derives the job requirements and company context.
func (st *steps) extractRequirements(ctx context.Context, s State) graph.NodeResult[State] {
	reqs, err := oracle.Ask[requirementsReply](ctx, st.oracle, requirementsPrompt(s), requirementsShape)
	if err != nil {
		return failed(s, err)
	}
	company, err := oracle.Ask[CompanyContext](ctx, st.oracle, companyPrompt(s), companyShape)
	if err != nil {
		return failed(s, err)
	}

	s.Requirements = reqs.Requirements
	s.CompanyContext = &company
	st.logger.Info("requirements extracted", zap.Int("requirements", len(s.Requirements)))
	return next(s)
}

// analyzeResume sorts every requirement into a match or a gap. The step
// itself has no deadline; each requirement gets its own. An oracle failure
// or an expired deadline for one requirement skips it and records a
// warning.
func (st *steps) analyzeResume(ctx context.Context, s State) graph.NodeResult[State] {
	matches := make([]MatchedSkill, 0, len(s.Requirements))
	gaps := make([]Gap, 0, len(s.Requirements))
	var warnings []string

	for _, req := range s.Requirements {
		match, gap, err := st.analyzeRequirement(ctx, s, req)
		if err != nil {
			if ctx.Err() != nil {
				return failed(s, ctx.Err())
			}
			var oerr *oracle.OracleError
			if !errors.As(err, &oerr) && !errors.Is(err, context.DeadlineExceeded) {
				return failed(s, err)
			}
			st.logger.Warn("requirement skipped", zap.String("skill", req.Skill), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("Could not analyze %q: %v", req.Skill, err))
			continue
		}
		if match != nil {
			matches = append(matches, *match)
		} else {
			gaps = append(gaps, *gap)
		}
	}

	s.Matches = matches
	s.Gaps = gaps
	s.Warnings = append(s.Warnings, warnings...)
	s.CurrentGapIndex = 0
	s.Suggestions = nil
	s.CurrentSuggestion = nil
	st.logger.Info("resume analyzed",
		zap.Int("matches", len(matches)),
		zap.Int("gaps", len(gaps)),
		zap.Int("skipped", len(warnings)),
	)
	return next(s)
}

func (st *steps) analyzeRequirement(ctx context.Context, s State, req Requirement) (*MatchedSkill, *Gap, error) {
	if st.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.itemTimeout)
		defer cancel()
	}

	m, err := oracle.Ask[matchReply](ctx, st.oracle, matchPrompt(s, req), matchShape)
	if err != nil {
		return nil, nil, err
	}
	if m.Matched {
		return &MatchedSkill{
			Skill:      req.Skill,
			Evidence:   m.Evidence,
			Section:    m.Section,
			Confidence: m.Confidence,
			Relevance:  m.Relevance,
		}, nil, nil
	}

	g, err := oracle.Ask[gapReply](ctx, st.oracle, gapPrompt(s, req), gapShape)
	if err != nil {
		return nil, nil, err
	}
	return nil, &Gap{
		Skill:         req.Skill,
		RequiredLevel: req.ExperienceLevel,
		Importance:    req.Importance,
		EvidenceFound: g.EvidenceFound,
		SectionFound:  g.SectionFound,
		Impact:        g.Impact,
	}, nil
}

// prioritizeGaps scores the gaps and stable-sorts them by descending
// priority. Gaps the oracle did not score keep priority 0.
func (st *steps) prioritizeGaps(ctx context.Context, s State) graph.NodeResult[State] {
	if len(s.Gaps) == 0 {
		return next(s)
	}

	reply, err := oracle.Ask[prioritizeReply](ctx, st.oracle, prioritizePrompt(s), prioritizeShape)
	if err != nil {
		return failed(s, err)
	}

	priority := make(map[string]int, len(reply.Improvements))
	for _, imp := range reply.Improvements {
		key := strings.ToLower(strings.TrimSpace(imp.Skill))
		if _, seen := priority[key]; !seen {
			priority[key] = imp.Priority
		}
	}
	for i := range s.Gaps {
		s.Gaps[i].Priority = priority[strings.ToLower(strings.TrimSpace(s.Gaps[i].Skill))]
	}
	sort.SliceStable(s.Gaps, func(i, j int) bool {
		return s.Gaps[i].Priority > s.Gaps[j].Priority
	})

	s.Improvements = reply.Improvements
	return next(s)
}
