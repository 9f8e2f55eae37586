package tailor

import (
	"strconv"
	"strings"
)

// Render produces the markdown summary of a completed tailoring session
// followed by the tailored resume.
func Render(s State) string {
	var b strings.Builder

	b.WriteString("# Resume Tailoring Summary\n\n")

	b.WriteString("## Job Fit Analysis\n")
	b.WriteString("- Matched Skills: " + strconv.Itoa(len(s.Matches)) + "\n")
	b.WriteString("- Addressed Gaps: " + strconv.Itoa(addressedGaps(s)) + "\n")
	b.WriteString("- ATS Compatibility Score: " + strconv.FormatFloat(s.QualityScore, 'f', -1, 64) + "/100\n\n")

	b.WriteString("## Key Improvements Made\n")
	for _, sug := range s.approved() {
		b.WriteString("- " + sug.Section + ": " + sug.Explanation + "\n")
	}

	b.WriteString("\n## Resume Strengths\n")
	for _, note := range s.FinalNotes {
		b.WriteString("- " + note + "\n")
	}

	if len(s.Warnings) > 0 {
		b.WriteString("\n## Analysis Warnings\n")
		for _, w := range s.Warnings {
			b.WriteString("- " + w + "\n")
		}
	}

	b.WriteString("\n## Tailored Resume\n\n")
	b.WriteString(s.TailoredResume)
	return b.String()
}

// RenderEdit produces the output of a direct edit.
func RenderEdit(s State, summary string) string {
	var b strings.Builder

	b.WriteString("# Resume Edit Summary\n\n")
	b.WriteString("## Change Made\n")
	section := "Resume"
	if s.EditTarget != nil && s.EditTarget.Section != "" {
		section = s.EditTarget.Section
	}
	if summary == "" && s.EditTarget != nil {
		summary = s.EditTarget.Instruction
	}
	b.WriteString("- " + section + ": " + summary + "\n")

	b.WriteString("\n## Updated Resume\n\n")
	b.WriteString(s.TailoredResume)
	return b.String()
}

// addressedGaps counts gaps with at least one approved suggestion.
func addressedGaps(s State) int {
	approved := make(map[string]bool)
	for _, sug := range s.approved() {
		approved[sug.Skill] = true
	}
	n := 0
	for _, g := range s.Gaps {
		if approved[g.Skill] {
			n++
		}
	}
	return n
}
