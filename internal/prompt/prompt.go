// Package prompt assembles the user prompt a judge sends to its model.
// Building is deterministic and side-effect-free: the same inputs always
// produce byte-identical output, and the built prompt is persisted
// verbatim on the evaluation row for audit.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mpetrov/arbiter/internal/model"
)

// Input is the question data a prompt is built from. Both live submission
// questions and golden-set questions reduce to this shape; neither carries
// a model answer or marks, so the corresponding policy flags are accepted
// but have nothing to render.
type Input struct {
	TemplateQuestionID string
	Type               string
	Text               string
	StudentChoice      string
	StudentReasoning   string
}

// FromQuestion adapts a submission question for prompt building.
func FromQuestion(q model.Question) Input {
	return Input{
		TemplateQuestionID: q.TemplateQuestionID,
		Type:               q.Type,
		Text:               q.Text,
		StudentChoice:      q.StudentChoice,
		StudentReasoning:   q.StudentReasoning,
	}
}

// FromGolden adapts a golden-set question for prompt building.
func FromGolden(g model.GoldenQuestion) Input {
	return Input{
		TemplateQuestionID: g.TemplateQuestionID,
		Type:               g.Type,
		Text:               g.Text,
		StudentChoice:      g.StudentChoice,
		StudentReasoning:   g.StudentReasoning,
	}
}

// Build renders the labeled sections enabled by the judge's field policy,
// in a fixed order, followed by an unconditional instruction block fixing
// the required JSON output shape. Disabled sections are omitted entirely;
// attachments are listed by name and media type only, never embedded.
func Build(in Input, policy model.FieldPolicy, attachments []model.Attachment) string {
	var parts []string

	if policy.IncludeQuestionID {
		parts = append(parts, "Question ID: "+in.TemplateQuestionID)
	}
	if policy.IncludeQuestionType {
		parts = append(parts, "Question Type: "+in.Type)
	}
	if policy.IncludeQuestionText {
		parts = append(parts, "Question: "+in.Text)
	}
	if policy.IncludeStudentAnswer {
		parts = append(parts,
			"Student's Answer:",
			"- Choice: "+orNA(in.StudentChoice),
			"- Reasoning: "+orNA(in.StudentReasoning),
		)
	}
	if len(attachments) > 0 {
		parts = append(parts, "Attached Files:")
		for i, att := range attachments {
			parts = append(parts, fmt.Sprintf("%d. %s (%s)", i+1, att.FileName, att.MediaType))
		}
	}

	parts = append(parts,
		"Please evaluate this answer and respond with a JSON object containing:",
		"{",
		`  "verdict": "pass" | "fail" | "inconclusive",`,
		`  "reasoning": "brief explanation of your evaluation"`,
		"}",
	)

	return strings.Join(parts, "\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
