package tailor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// resumeTemplate is the section layout every rewritten resume follows.
const resumeTemplate = `1. Name and contact details
2. Professional title
3. Summary
4. Skills
5. Experience
6. Education`

func asJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func intentPrompt(s State) string {
	return fmt.Sprintf(`Classify this request about a resume.

Use "direct_edit" when the user asks for a specific change to a specific part of the resume
(for example "rewrite my summary to be shorter"). In that case also return the section to edit
and the instruction to apply. Use "tailor_resume" for everything else, including requests to
tailor the resume to the job description.

Request:
%s`, s.Request)
}

func directEditPrompt(s State) string {
	return fmt.Sprintf(`Apply this edit to the resume and return the complete updated resume.
Change only what the instruction asks for and keep the original formatting.

Section: %s
Instruction: %s

Resume:
%s`, s.EditTarget.Section, s.EditTarget.Instruction, s.Resume)
}

func requirementsPrompt(s State) string {
	return fmt.Sprintf(`Extract the key requirements from this job description.

For each requirement identify:
1. The specific skill or qualification
2. Its importance (High, Medium or Low)
3. The experience level required

Job description:
%s`, s.JobDescription)
}

func companyPrompt(s State) string {
	return fmt.Sprintf(`Analyze this job description and describe the employer:
1. Company culture and values
2. Industry specifics
3. Key terminology and buzzwords
4. Level of formality expected
5. Company size (Small, Medium or Large)
6. Technologies used

Job description:
%s`, s.JobDescription)
}

func matchPrompt(s State, req Requirement) string {
	return fmt.Sprintf(`Does this resume demonstrate %s at the %s level?

Set "matched" to true only if the resume clearly demonstrates it, and then describe the
evidence, the section it appears in, your confidence (high, medium or low) and how directly
the evidence relates to the requirement. Set "matched" to false otherwise.

Resume:
%s`, req.Skill, req.ExperienceLevel, s.Resume)
}

func gapPrompt(s State, req Requirement) string {
	return fmt.Sprintf(`The resume does not adequately demonstrate %s at the %s level.

Report what evidence related to this skill exists in the resume (or "None found"), which section
it appears in (or "Missing"), and how the gap affects fit for the job.

Resume:
%s`, req.Skill, req.ExperienceLevel, s.Resume)
}

func prioritizePrompt(s State) string {
	return fmt.Sprintf(`Prioritize which of these skill gaps should be addressed in the resume.

For each gap determine:
1. Impact (high, medium or low): how important it is for the job
2. Addressability (high, medium or low): whether the resume can reasonably be tailored to address it
3. Priority (1 to 10): overall priority to fix
4. Approach: how to address it
5. Rationale: why it matters

Return one entry per gap, using the gap's skill name unchanged.

Gaps:
%s

Current resume:
%s`, asJSON(s.Gaps), s.Resume)
}

func suggestionPrompt(s State, gap Gap) string {
	var approach string
	for _, imp := range s.Improvements {
		if strings.EqualFold(imp.Skill, gap.Skill) && imp.Approach != "" {
			approach = "\nSuggested approach: " + imp.Approach + "\n"
			break
		}
	}
	return fmt.Sprintf(`Propose one specific change to this resume that addresses the gap below.

Provide the section to modify, the original text (empty if adding new text), the new text,
why the change helps, and your confidence (high, medium or low). Never invent experience the
resume does not support; use low confidence when the change stretches the evidence.

Gap:
%s
%s
Job requirements:
%s

Resume:
%s`, asJSON(gap), approach, asJSON(s.Requirements), s.Resume)
}

func implementPrompt(s State) string {
	return fmt.Sprintf(`Update this resume with the approved changes and return the complete updated resume.

The result must follow this structure:
%s

Current resume:
%s

Changes to make, by section:
%s

Job requirements:
%s

Company context:
%s`, resumeTemplate, s.Resume, asJSON(changesBySection(s.approved())), asJSON(s.Requirements), asJSON(s.CompanyContext))
}

func atsPrompt(s State) string {
	return fmt.Sprintf(`Analyze this resume for applicant tracking system (ATS) compatibility and score it from 0 to 100.

Check:
1. Keyword density compared to the job description
2. Use of industry-standard job titles
3. Formatting that could confuse ATS parsers
4. Use of bullet points and sections

List concrete improvements that would raise the score.

Resume:
%s

Job description:
%s`, s.TailoredResume, s.JobDescription)
}

func atsRewritePrompt(s State, improvements []string) string {
	return fmt.Sprintf(`Update this resume to improve ATS compatibility by addressing these issues,
and return the complete updated resume.

Improvements needed:
%s

Current resume:
%s`, asJSON(improvements), s.TailoredResume)
}

func reviewPrompt(s State) string {
	return fmt.Sprintf(`Perform a final review of this tailored resume.

Check:
1. Overall coherence and flow
2. Highlighting of key qualifications
3. Consistency of formatting and style
4. Grammar and spelling
5. Length and level of detail

List any adjustments still needed (empty if none), the strengths of the resume, and your
confidence that it is well tailored.

Resume:
%s

Job description:
%s`, s.TailoredResume, s.JobDescription)
}

func polishPrompt(s State, adjustments []string) string {
	return fmt.Sprintf(`Make these final adjustments to the resume and return the complete finalized resume.

Adjustments:
%s

Current resume:
%s`, asJSON(adjustments), s.TailoredResume)
}

// sectionChanges groups approved suggestions for one resume section.
type sectionChanges struct {
	Section string       `json:"section"`
	Changes []Suggestion `json:"changes"`
}

// changesBySection groups suggestions by section in order of first
// appearance.
func changesBySection(sugs []Suggestion) []sectionChanges {
	var out []sectionChanges
	index := make(map[string]int)
	for _, sug := range sugs {
		i, ok := index[sug.Section]
		if !ok {
			i = len(out)
			index[sug.Section] = i
			out = append(out, sectionChanges{Section: sug.Section})
		}
		out[i].Changes = append(out[i].Changes, sug)
	}
	return out
}

// verificationQuestion renders the question put to the user for a
// suggestion awaiting review.
func verificationQuestion(sug Suggestion) string {
	return fmt.Sprintf("Should we make this change to the resume?\n\nOriginal: %s\n\nSuggested: %s\n\nRationale: %s",
		sug.OriginalText, sug.NewText, sug.Explanation)
}
