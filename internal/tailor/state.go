package tailor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RequestKind classifies what the user asked for.
type RequestKind string

const (
	KindTailor     RequestKind = "tailor_resume"
	KindDirectEdit RequestKind = "direct_edit"
)

// UnmarshalJSON accepts only the declared kinds. The empty string means
// the request has not been classified yet.
func (k *RequestKind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch kind := RequestKind(raw); kind {
	case "", KindTailor, KindDirectEdit:
		*k = kind
		return nil
	}
	return fmt.Errorf("unknown request kind %q", raw)
}

// Confidence grades a suggestion. Only high-confidence suggestions skip
// human review.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence normalizes free text to a Confidence. Anything that is
// not recognizably high or medium is treated as low.
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// UnmarshalJSON normalizes via ParseConfidence.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ParseConfidence(raw)
	return nil
}

// Importance ranks a job requirement.
type Importance string

const (
	ImportanceHigh   Importance = "High"
	ImportanceMedium Importance = "Medium"
	ImportanceLow    Importance = "Low"
)

// UnmarshalJSON normalizes case. Unrecognized values become Medium.
func (i *Importance) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high":
		*i = ImportanceHigh
	case "low":
		*i = ImportanceLow
	default:
		*i = ImportanceMedium
	}
	return nil
}

// Choice is an answer to a verification question.
type Choice string

const (
	ChoiceYes       Choice = "Yes"
	ChoiceNo        Choice = "No"
	ChoiceYesModify Choice = "Yes with modifications"
)

// VerificationOptions are offered for every suggestion that needs review.
var VerificationOptions = []Choice{ChoiceYes, ChoiceNo, ChoiceYesModify}

// Answer is a human decision on the pending suggestion.
type Answer struct {
	Choice Choice `json:"answer"`

	// ModifiedText replaces the suggested text. Required when Choice is
	// ChoiceYesModify.
	ModifiedText string `json:"modified_text,omitempty"`
}

// EditTarget describes a direct edit request.
type EditTarget struct {
	Section     string `json:"section"`
	Instruction string `json:"instruction"`
}

// CompanyContext captures the employer traits inferred from the posting.
type CompanyContext struct {
	Culture     string   `json:"culture"`
	Industry    string   `json:"industry"`
	Terminology []string `json:"terminology"`
	Formality   string   `json:"formality"`
	CompanySize string   `json:"company_size,omitempty"`
	TechStack   []string `json:"tech_stack,omitempty"`
}

// Requirement is one skill or qualification demanded by the job.
type Requirement struct {
	Skill           string     `json:"skill"`
	Importance      Importance `json:"importance"`
	ExperienceLevel string     `json:"experience_level"`
}

// MatchedSkill is a requirement the resume already demonstrates.
type MatchedSkill struct {
	Skill      string     `json:"skill"`
	Evidence   string     `json:"evidence"`
	Section    string     `json:"section"`
	Confidence Confidence `json:"confidence"`
	Relevance  string     `json:"relevance"`
}

// Gap is a requirement the resume does not adequately demonstrate.
type Gap struct {
	Skill         string     `json:"skill"`
	RequiredLevel string     `json:"required_level"`
	Importance    Importance `json:"importance"`
	EvidenceFound string     `json:"resume_evidence"`
	SectionFound  string     `json:"section"`
	Impact        string     `json:"impact"`
	Priority      int        `json:"priority"`
}

// Improvement is the prioritization detail for one gap.
type Improvement struct {
	Skill          string `json:"skill"`
	Impact         string `json:"impact"`
	Addressability string `json:"addressability"`
	Priority       int    `json:"priority"`
	Approach       string `json:"approach"`
	Rationale      string `json:"rationale,omitempty"`
}

// Suggestion is a proposed edit addressing one gap.
type Suggestion struct {
	Skill        string     `json:"skill"`
	Section      string     `json:"section"`
	OriginalText string     `json:"original_text"`
	NewText      string     `json:"new_text"`
	Explanation  string     `json:"explanation"`
	Confidence   Confidence `json:"confidence"`
	Approved     bool       `json:"approved"`

	// Reviewed is set once the decision on Approved is final.
	Reviewed bool `json:"reviewed"`

	// AutoApproved marks suggestions accepted without asking.
	AutoApproved bool `json:"auto_approved,omitempty"`
}

// ATSAnalysis is the applicant tracking system compatibility assessment.
type ATSAnalysis struct {
	Score           float64            `json:"score"`
	KeywordDensity  map[string]float64 `json:"keyword_density,omitempty"`
	JobTitleMatches []string           `json:"job_title_matches,omitempty"`
	FormatIssues    []string           `json:"format_issues,omitempty"`
	Improvements    []string           `json:"improvements,omitempty"`
	Optimized       bool               `json:"optimized"`
}

// FinalReview is the closing critique of the tailored resume.
type FinalReview struct {
	Adjustments []string `json:"adjustments"`
	Strengths   []string `json:"strengths"`
	Confidence  string   `json:"confidence"`
}

// State is the record threaded through every workflow step.
//
// Steps receive their own copy and return the whole updated record.
type State struct {
	// Input.
	JobDescription string `json:"job_description"`
	Resume         string `json:"resume"`
	Request        string `json:"request,omitempty"`

	// Classification.
	RequestKind   RequestKind `json:"request_kind,omitempty"`
	EditTarget    *EditTarget `json:"edit_target,omitempty"`
	EditCompleted bool        `json:"edit_completed"`

	// Analysis.
	CompanyContext *CompanyContext `json:"company_context,omitempty"`
	Requirements   []Requirement   `json:"requirements"`
	Matches        []MatchedSkill  `json:"matches"`
	Gaps           []Gap           `json:"gaps"`
	Improvements   []Improvement   `json:"prioritized_improvements,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`

	// Gap loop.
	CurrentGapIndex   int          `json:"current_gap_index"`
	Suggestions       []Suggestion `json:"suggestions"`
	CurrentSuggestion *Suggestion  `json:"current_suggestion,omitempty"`

	// Suspension.
	WaitingForHuman bool     `json:"waiting_for_human"`
	PendingQuestion string   `json:"pending_question,omitempty"`
	PendingOptions  []Choice `json:"pending_options,omitempty"`
	HumanFeedback   *Answer  `json:"human_feedback,omitempty"`

	// Output.
	TailoredResume string       `json:"tailored_resume"`
	QualityScore   float64      `json:"ats_score"`
	ATS            *ATSAnalysis `json:"ats_analysis,omitempty"`
	Review         *FinalReview `json:"final_review,omitempty"`
	FinalNotes     []string     `json:"final_notes"`
	RenderedOutput string       `json:"output"`

	// Cursor is the last completed step.
	Cursor StepName `json:"cursor,omitempty"`
}

// NewState returns the initial state for a session.
func NewState(resume, jobDescription, request string) State {
	return State{
		Resume:         resume,
		JobDescription: jobDescription,
		Request:        request,
	}
}

// Done reports whether the workflow has completed.
func (s State) Done() bool {
	return s.Cursor == StepEnd
}

// ErrInvalidState is wrapped by every State.Validate failure.
var ErrInvalidState = errors.New("invalid workflow state")

// Validate checks the invariants that must hold after every step.
func (s State) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
	}

	if !s.Cursor.Valid() {
		return fail("unknown cursor %q", s.Cursor)
	}

	idx, gaps, sugs := s.CurrentGapIndex, len(s.Gaps), len(s.Suggestions)
	if idx < 0 || idx > gaps {
		return fail("current_gap_index %d outside [0, %d]", idx, gaps)
	}
	if sugs != idx && sugs != idx+1 {
		return fail("%d suggestions for gap index %d", sugs, idx)
	}
	if sugs > gaps {
		return fail("%d suggestions exceed %d gaps", sugs, gaps)
	}

	for i := 0; i < idx; i++ {
		if !s.Suggestions[i].Reviewed {
			return fail("suggestion %d passed without review", i)
		}
	}
	if sugs == idx+1 {
		if s.Suggestions[idx].Reviewed {
			return fail("suggestion %d reviewed before the loop advanced", idx)
		}
		if s.CurrentSuggestion == nil || *s.CurrentSuggestion != s.Suggestions[idx] {
			return fail("current suggestion out of sync with suggestion %d", idx)
		}
	}

	waiting := s.PendingQuestion != "" && s.HumanFeedback == nil
	if s.WaitingForHuman != waiting {
		return fail("waiting_for_human=%v with pending question set=%v and feedback set=%v",
			s.WaitingForHuman, s.PendingQuestion != "", s.HumanFeedback != nil)
	}

	if s.RequestKind == KindDirectEdit && s.EditTarget == nil {
		return fail("direct edit without an edit target")
	}
	return nil
}

// approved returns the suggestions accepted for implementation.
func (s State) approved() []Suggestion {
	var out []Suggestion
	for _, sug := range s.Suggestions {
		if sug.Reviewed && sug.Approved {
			out = append(out, sug)
		}
	}
	return out
}
