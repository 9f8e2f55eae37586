package tailor

import "github.com/dshills/tailorgraph/internal/oracle"

// Output shapes requested from the oracle, one per kind of call.
var (
	intentShape = oracle.Shape{Name: "classify_intent", Schema: `{
  "type": "object",
  "properties": {
    "request_kind": {"enum": ["tailor_resume", "direct_edit"]},
    "section": {"type": "string"},
    "instruction": {"type": "string"}
  },
  "required": ["request_kind"]
}`}

	directEditShape = oracle.Shape{Name: "direct_edit", Schema: `{
  "type": "object",
  "properties": {
    "resume": {"type": "string", "minLength": 1},
    "summary": {"type": "string"}
  },
  "required": ["resume"]
}`}

	requirementsShape = oracle.Shape{Name: "extract_requirements", Schema: `{
  "type": "object",
  "properties": {
    "requirements": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "skill": {"type": "string", "minLength": 1},
          "importance": {"type": "string"},
          "experience_level": {"type": "string"}
        },
        "required": ["skill", "importance", "experience_level"]
      }
    }
  },
  "required": ["requirements"]
}`}

	companyShape = oracle.Shape{Name: "company_context", Schema: `{
  "type": "object",
  "properties": {
    "culture": {"type": "string"},
    "industry": {"type": "string"},
    "terminology": {"type": "array", "items": {"type": "string"}},
    "formality": {"type": "string"},
    "company_size": {"type": "string"},
    "tech_stack": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["culture", "industry", "terminology", "formality"]
}`}

	matchShape = oracle.Shape{Name: "skill_match", Schema: `{
  "type": "object",
  "properties": {
    "matched": {"type": "boolean"},
    "evidence": {"type": "string"},
    "section": {"type": "string"},
    "confidence": {"type": "string"},
    "relevance": {"type": "string"}
  },
  "required": ["matched"]
}`}

	gapShape = oracle.Shape{Name: "gap_analysis", Schema: `{
  "type": "object",
  "properties": {
    "resume_evidence": {"type": "string"},
    "section": {"type": "string"},
    "impact": {"type": "string"}
  },
  "required": ["resume_evidence", "section", "impact"]
}`}

	prioritizeShape = oracle.Shape{Name: "prioritize_gaps", Schema: `{
  "type": "object",
  "properties": {
    "improvements": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "skill": {"type": "string"},
          "impact": {"type": "string"},
          "addressability": {"type": "string"},
          "priority": {"type": "integer", "minimum": 1, "maximum": 10},
          "approach": {"type": "string"},
          "rationale": {"type": "string"}
        },
        "required": ["skill", "priority"]
      }
    }
  },
  "required": ["improvements"]
}`}

	suggestionShape = oracle.Shape{Name: "suggestion", Schema: `{
  "type": "object",
  "properties": {
    "section": {"type": "string", "minLength": 1},
    "original_text": {"type": "string"},
    "new_text": {"type": "string", "minLength": 1},
    "explanation": {"type": "string"},
    "confidence": {"type": "string"}
  },
  "required": ["section", "new_text", "explanation", "confidence"]
}`}

	atsShape = oracle.Shape{Name: "ats_analysis", Schema: `{
  "type": "object",
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 100},
    "keyword_density": {"type": "object", "additionalProperties": {"type": "number"}},
    "job_title_matches": {"type": "array", "items": {"type": "string"}},
    "format_issues": {"type": "array", "items": {"type": "string"}},
    "improvements": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["score"]
}`}

	reviewShape = oracle.Shape{Name: "final_review", Schema: `{
  "type": "object",
  "properties": {
    "adjustments": {"type": "array", "items": {"type": "string"}},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "string"}
  },
  "required": ["adjustments", "strengths"]
}`}

	implementShape  = documentShape("implement_changes")
	atsRewriteShape = documentShape("ats_rewrite")
	polishShape     = documentShape("final_polish")
)

// documentShape asks for a complete rewritten resume.
func documentShape(name string) oracle.Shape {
	return oracle.Shape{Name: name, Schema: `{
  "type": "object",
  "properties": {"resume": {"type": "string", "minLength": 1}},
  "required": ["resume"]
}`}
}

type intentReply struct {
	RequestKind RequestKind `json:"request_kind"`
	Section     string      `json:"section"`
	Instruction string      `json:"instruction"`
}

type directEditReply struct {
	Resume  string `json:"resume"`
	Summary string `json:"summary"`
}

type requirementsReply struct {
	Requirements []Requirement `json:"requirements"`
}

type matchReply struct {
	Matched    bool       `json:"matched"`
	Evidence   string     `json:"evidence"`
	Section    string     `json:"section"`
	Confidence Confidence `json:"confidence"`
	Relevance  string     `json:"relevance"`
}

type gapReply struct {
	EvidenceFound string `json:"resume_evidence"`
	SectionFound  string `json:"section"`
	Impact        string `json:"impact"`
}

type prioritizeReply struct {
	Improvements []Improvement `json:"improvements"`
}

type suggestionReply struct {
	Section      string     `json:"section"`
	OriginalText string     `json:"original_text"`
	NewText      string     `json:"new_text"`
	Explanation  string     `json:"explanation"`
	Confidence   Confidence `json:"confidence"`
}

type documentReply struct {
	Resume string `json:"resume"`
}
