package tailor

import (
	"encoding/json"
	"fmt"

	"github.com/dshills/tailorgraph/graph"
)

// StepName identifies a workflow step. It doubles as the resume cursor
// stored in State: the name of the last step that completed.
type StepName string

// The closed set of workflow steps.
const (
	StepClassifyIntent      StepName = "classify_intent"
	StepDirectEdit          StepName = "direct_edit"
	StepExtractRequirements StepName = "extract_requirements"
	StepAnalyzeResume       StepName = "analyze_resume"
	StepPrioritizeGaps      StepName = "prioritize_gaps"
	StepGenerateSuggestion  StepName = "generate_suggestion"
	StepRequestVerification StepName = "request_verification"
	StepProcessFeedback     StepName = "process_feedback"
	StepImplementChanges    StepName = "implement_changes"
	StepScoreCompatibility  StepName = "score_compatibility"
	StepFinalReview         StepName = "final_review"
	StepRenderReport        StepName = "render_report"

	// StepEnd marks a completed workflow.
	StepEnd StepName = graph.End
)

var knownSteps = map[StepName]bool{
	StepClassifyIntent:      true,
	StepDirectEdit:          true,
	StepExtractRequirements: true,
	StepAnalyzeResume:       true,
	StepPrioritizeGaps:      true,
	StepGenerateSuggestion:  true,
	StepRequestVerification: true,
	StepProcessFeedback:     true,
	StepImplementChanges:    true,
	StepScoreCompatibility:  true,
	StepFinalReview:         true,
	StepRenderReport:        true,
	StepEnd:                 true,
}

// Valid reports whether s is one of the declared steps. The empty name is
// valid and means the workflow has not started.
func (s StepName) Valid() bool {
	return s == "" || knownSteps[s]
}

// UnmarshalJSON rejects unknown step names so a corrupted cursor fails on
// load rather than on resume.
func (s *StepName) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	name := StepName(raw)
	if !name.Valid() {
		return fmt.Errorf("unknown workflow step %q", raw)
	}
	*s = name
	return nil
}
