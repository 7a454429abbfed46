package model

import (
	"strings"
	"time"
)

// Verdict is the closed classification a judge assigns to one answer.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
)

// NormalizeVerdict maps arbitrary text onto the closed verdict set.
// Anything that is not a case-insensitive exact "pass" or "fail" is
// inconclusive.
func NormalizeVerdict(s string) Verdict {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(VerdictPass):
		return VerdictPass
	case string(VerdictFail):
		return VerdictFail
	default:
		return VerdictInconclusive
	}
}

// Submission is one uploaded batch of answered questions.
type Submission struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Name       string    `json:"name"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Question is a single question/answer pair inside a submission.
// TemplateQuestionID is the stable cross-submission key: many Question rows
// in different submissions share one template ID, and judge assignments
// match on it.
type Question struct {
	ID                 string `json:"id"`
	SubmissionID       string `json:"submission_id"`
	TemplateQuestionID string `json:"template_question_id"`
	Text               string `json:"text"`
	Type               string `json:"type"`
	StudentChoice      string `json:"student_choice,omitempty"`
	StudentReasoning   string `json:"student_reasoning,omitempty"`
	HasAttachments     bool   `json:"has_attachments"`
}

// Attachment describes a file associated with a question. Only the
// descriptor is known here; binary content lives outside the engine.
type Attachment struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	FileName   string `json:"file_name"`
	MediaType  string `json:"media_type"`
	SizeBytes  int64  `json:"size_bytes"`
}

// FieldPolicy controls which structured fields a judge sees in its prompt.
type FieldPolicy struct {
	IncludeQuestionID    bool `json:"include_question_id"`
	IncludeQuestionType  bool `json:"include_question_type"`
	IncludeQuestionText  bool `json:"include_question_text"`
	IncludeStudentAnswer bool `json:"include_student_answer"`
	IncludeModelAnswer   bool `json:"include_model_answer"`
	IncludeMarks         bool `json:"include_marks"`
}

// MinSystemPromptLen is the shortest system prompt a judge may carry.
const MinSystemPromptLen = 10

// Judge is a configured evaluator persona: a system prompt bound to an LLM
// model plus a field-inclusion policy.
type Judge struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	SystemPrompt string      `json:"system_prompt"`
	ModelID      string      `json:"model_id"`
	Active       bool        `json:"active"`
	FieldPolicy  FieldPolicy `json:"field_policy"`
}

// JudgeAssignment binds a judge to every question sharing a template ID.
type JudgeAssignment struct {
	TemplateQuestionID string `json:"template_question_id"`
	JudgeID            string `json:"judge_id"`
}

// Evaluation is the write-once record of one judge run over one question.
// Failed runs are recorded too, with Verdict inconclusive and Error set.
type Evaluation struct {
	ID            string    `json:"id"`
	SubmissionID  string    `json:"submission_id"`
	QuestionID    string    `json:"question_id"`
	JudgeID       string    `json:"judge_id"`
	Verdict       Verdict   `json:"verdict"`
	Reasoning     string    `json:"reasoning"`
	ModelID       string    `json:"model_id"`
	DurationMs    int64     `json:"duration_ms"`
	PromptSent    string    `json:"prompt_sent"`
	RawResponse   string    `json:"raw_response"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	EstimatedCost float64   `json:"estimated_cost"`
	RetryCount    int       `json:"retry_count"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// GoldenQuestion is a ground-truth-labeled reference question used only
// for calibration. The set is append-only and deduplicated per account by
// template question ID.
type GoldenQuestion struct {
	ID                   string  `json:"id"`
	AccountID            string  `json:"account_id"`
	TemplateQuestionID   string  `json:"template_question_id"`
	Text                 string  `json:"text"`
	Type                 string  `json:"type"`
	StudentChoice        string  `json:"student_choice,omitempty"`
	StudentReasoning     string  `json:"student_reasoning,omitempty"`
	GroundTruthVerdict   Verdict `json:"ground_truth_verdict"`
	GroundTruthReasoning string  `json:"ground_truth_reasoning"`
}

// CalibrationRun summarizes one calibration of one judge against the
// golden set. Immutable after creation; re-running creates a new row.
type CalibrationRun struct {
	ID                 string         `json:"id"`
	JudgeID            string         `json:"judge_id"`
	JudgeName          string         `json:"judge_name"`
	ModelID            string         `json:"model_id"`
	TotalQuestions     int            `json:"total_questions"`
	CorrectPredictions int            `json:"correct_predictions"`
	Accuracy           float64        `json:"accuracy"`
	PrecisionPass      float64        `json:"precision_pass"`
	RecallPass         float64        `json:"recall_pass"`
	F1Pass             float64        `json:"f1_pass"`
	PrecisionFail      float64        `json:"precision_fail"`
	RecallFail         float64        `json:"recall_fail"`
	F1Fail             float64        `json:"f1_fail"`
	ConfusionMatrix    map[string]int `json:"confusion_matrix"`
	PassedThreshold    bool           `json:"passed_threshold"`
	CreatedAt          time.Time      `json:"created_at"`
}

// CalibrationResult is the per-question detail behind a CalibrationRun.
type CalibrationResult struct {
	ID                 string  `json:"id"`
	CalibrationRunID   string  `json:"calibration_run_id"`
	GoldenQuestionID   string  `json:"golden_question_id"`
	PredictedVerdict   Verdict `json:"predicted_verdict"`
	PredictedReasoning string  `json:"predicted_reasoning"`
	GroundTruthVerdict Verdict `json:"ground_truth_verdict"`
	IsCorrect          bool    `json:"is_correct"`
}

// RunSummary aggregates one evaluation run. Counters are local to the run
// invocation; nothing is accumulated in process-wide state.
type RunSummary struct {
	Planned   int      `json:"planned"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}
