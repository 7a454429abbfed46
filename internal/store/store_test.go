package store

import (
	"errors"
	"testing"

	"github.com/mpetrov/arbiter/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestJudge(t *testing.T, s *Store, name, modelID string, active bool) model.Judge {
	t.Helper()
	j := model.Judge{
		Name:         name,
		SystemPrompt: "You are a strict grader for " + name + ".",
		ModelID:      modelID,
		Active:       active,
		FieldPolicy: model.FieldPolicy{
			IncludeQuestionText:  true,
			IncludeStudentAnswer: true,
		},
	}
	id, err := s.InsertJudge(j)
	if err != nil {
		t.Fatalf("insertTestJudge: %v", err)
	}
	j.ID = id
	return j
}

func insertTestSubmission(t *testing.T, s *Store, name string) string {
	t.Helper()
	id, err := s.InsertSubmission(model.Submission{Name: name})
	if err != nil {
		t.Fatalf("insertTestSubmission: %v", err)
	}
	return id
}

func TestJudgeCRUD(t *testing.T) {
	s := newTestStore(t)

	j := insertTestJudge(t, s, "Strict Judge", "gpt-4o", true)

	got, err := s.GetJudge(j.ID)
	if err != nil {
		t.Fatalf("GetJudge: %v", err)
	}
	if got.Name != "Strict Judge" || got.ModelID != "gpt-4o" || !got.Active {
		t.Errorf("judge = %+v", got)
	}
	if !got.FieldPolicy.IncludeQuestionText || got.FieldPolicy.IncludeMarks {
		t.Errorf("field policy not round-tripped: %+v", got.FieldPolicy)
	}

	// Not found.
	if _, err := s.GetJudge("no-such-id"); !IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}

	// Update.
	got.Name = "Lenient Judge"
	got.Active = false
	if err := s.UpdateJudge(got); err != nil {
		t.Fatalf("UpdateJudge: %v", err)
	}
	updated, err := s.GetJudge(j.ID)
	if err != nil {
		t.Fatalf("GetJudge after update: %v", err)
	}
	if updated.Name != "Lenient Judge" || updated.Active {
		t.Errorf("update not applied: %+v", updated)
	}

	// Update of a missing judge reports not-found.
	missing := got
	missing.ID = "no-such-id"
	if err := s.UpdateJudge(missing); !IsNotFound(err) {
		t.Errorf("expected not-found on missing update, got %v", err)
	}

	list, err := s.ListJudges()
	if err != nil {
		t.Fatalf("ListJudges: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 judge, got %d", len(list))
	}
}

func TestJudgeSystemPromptInvariant(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertJudge(model.Judge{Name: "Bad", SystemPrompt: "short", ModelID: "gpt-4o"})
	if !errors.Is(err, ErrSystemPromptTooShort) {
		t.Errorf("insert err = %v, want ErrSystemPromptTooShort", err)
	}

	j := insertTestJudge(t, s, "Good", "gpt-4o", true)
	j.SystemPrompt = "tiny"
	if err := s.UpdateJudge(j); !errors.Is(err, ErrSystemPromptTooShort) {
		t.Errorf("update err = %v, want ErrSystemPromptTooShort", err)
	}
}

func TestGetActiveJudge(t *testing.T) {
	s := newTestStore(t)
	active := insertTestJudge(t, s, "Active", "gpt-4o", true)
	inactive := insertTestJudge(t, s, "Inactive", "gpt-4o", false)

	if _, err := s.GetActiveJudge(active.ID); err != nil {
		t.Errorf("active judge should resolve: %v", err)
	}
	if _, err := s.GetActiveJudge(inactive.ID); !IsNotFound(err) {
		t.Errorf("inactive judge err = %v, want not-found", err)
	}
}

func TestSubmissionsAndQuestions(t *testing.T) {
	s := newTestStore(t)
	subID := insertTestSubmission(t, s, "batch-1")

	qID, err := s.InsertQuestion(model.Question{
		SubmissionID:       subID,
		TemplateQuestionID: "Q-1",
		Text:               "What is TCP?",
		Type:               "short_answer",
		StudentReasoning:   "A reliable transport protocol.",
		HasAttachments:     true,
	})
	if err != nil {
		t.Fatalf("InsertQuestion: %v", err)
	}
	if _, err := s.InsertQuestion(model.Question{
		SubmissionID:       subID,
		TemplateQuestionID: "Q-2",
		Text:               "What is UDP?",
		Type:               "short_answer",
	}); err != nil {
		t.Fatalf("InsertQuestion: %v", err)
	}

	subs, err := s.ListSubmissions()
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 1 || subs[0].Name != "batch-1" {
		t.Fatalf("submissions = %+v", subs)
	}
	if subs[0].AccountID != DefaultAccountID {
		t.Errorf("account = %q, want default scoping", subs[0].AccountID)
	}

	questions, err := s.ListQuestions(subID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].TemplateQuestionID != "Q-1" || !questions[0].HasAttachments {
		t.Errorf("question = %+v", questions[0])
	}

	// Attachments.
	if _, err := s.InsertAttachment(model.Attachment{
		QuestionID: qID, FileName: "sketch.png", MediaType: "image/png", SizeBytes: 12345,
	}); err != nil {
		t.Fatalf("InsertAttachment: %v", err)
	}
	atts, err := s.ListAttachments(qID)
	if err != nil {
		t.Fatalf("ListAttachments: %v", err)
	}
	if len(atts) != 1 || atts[0].FileName != "sketch.png" {
		t.Errorf("attachments = %+v", atts)
	}
}

func TestAssignments(t *testing.T) {
	s := newTestStore(t)
	j := insertTestJudge(t, s, "J", "gpt-4o", true)

	a := model.JudgeAssignment{TemplateQuestionID: "Q-1", JudgeID: j.ID}
	if err := s.InsertAssignment(a); err != nil {
		t.Fatalf("InsertAssignment: %v", err)
	}
	// Duplicates are ignored, not errors.
	if err := s.InsertAssignment(a); err != nil {
		t.Fatalf("duplicate InsertAssignment: %v", err)
	}

	list, err := s.ListAssignments()
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(list))
	}
}

func TestInsertEvaluation(t *testing.T) {
	s := newTestStore(t)

	id, err := s.InsertEvaluation(model.Evaluation{
		SubmissionID:  "sub-1",
		QuestionID:    "q-1",
		JudgeID:       "j-1",
		Verdict:       model.VerdictPass,
		Reasoning:     "correct",
		ModelID:       "gpt-4o",
		DurationMs:    120,
		PromptSent:    "Question: ...",
		RawResponse:   `{"verdict":"pass","reasoning":"correct"}`,
		InputTokens:   10,
		OutputTokens:  5,
		EstimatedCost: 0.0001,
	})
	if err != nil {
		t.Fatalf("InsertEvaluation: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated ID")
	}

	evals, err := s.ListEvaluations(0)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(evals) != 1 {
		t.Fatalf("expected 1 evaluation, got %d", len(evals))
	}
	e := evals[0]
	if e.Verdict != model.VerdictPass || e.RetryCount != 0 || e.Error != "" {
		t.Errorf("evaluation = %+v", e)
	}
	if e.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestGoldenQuestionDedup(t *testing.T) {
	s := newTestStore(t)

	g := model.GoldenQuestion{
		TemplateQuestionID: "Q-1",
		Text:               "What is TCP?",
		Type:               "short_answer",
		GroundTruthVerdict: model.VerdictPass,
	}
	_, inserted, err := s.InsertGoldenQuestion(g)
	if err != nil {
		t.Fatalf("InsertGoldenQuestion: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should be reported as inserted")
	}

	// Same template ID, same account: skipped.
	_, inserted, err = s.InsertGoldenQuestion(g)
	if err != nil {
		t.Fatalf("duplicate InsertGoldenQuestion: %v", err)
	}
	if inserted {
		t.Error("duplicate insert should be skipped")
	}

	// Same template ID, different account: separate golden set.
	g.AccountID = "tenant-b"
	_, inserted, err = s.InsertGoldenQuestion(g)
	if err != nil {
		t.Fatalf("cross-account InsertGoldenQuestion: %v", err)
	}
	if !inserted {
		t.Error("other account should keep its own golden set")
	}

	list, err := s.ListGoldenQuestions("")
	if err != nil {
		t.Fatalf("ListGoldenQuestions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("default account golden set = %d rows, want 1", len(list))
	}
}

func TestListGoldenQuestionsOrder(t *testing.T) {
	s := newTestStore(t)
	for _, tqid := range []string{"Q-3", "Q-1", "Q-2"} {
		if _, _, err := s.InsertGoldenQuestion(model.GoldenQuestion{
			TemplateQuestionID: tqid,
			Text:               "text " + tqid,
			Type:               "short_answer",
			GroundTruthVerdict: model.VerdictFail,
		}); err != nil {
			t.Fatalf("InsertGoldenQuestion(%s): %v", tqid, err)
		}
	}
	list, err := s.ListGoldenQuestions("")
	if err != nil {
		t.Fatalf("ListGoldenQuestions: %v", err)
	}
	want := []string{"Q-1", "Q-2", "Q-3"}
	for i, g := range list {
		if g.TemplateQuestionID != want[i] {
			t.Errorf("position %d = %q, want %q", i, g.TemplateQuestionID, want[i])
		}
	}
}

func TestCalibrationPersistence(t *testing.T) {
	s := newTestStore(t)

	run := model.CalibrationRun{
		JudgeID:            "j-1",
		JudgeName:          "Strict",
		ModelID:            "claude-3-haiku-20240307",
		TotalQuestions:     3,
		CorrectPredictions: 2,
		Accuracy:           66.67,
		ConfusionMatrix: map[string]int{
			"pass_as_pass": 1,
			"pass_as_fail": 1,
			"fail_as_fail": 1,
		},
		PassedThreshold: false,
	}
	runID, err := s.InsertCalibrationRun(run)
	if err != nil {
		t.Fatalf("InsertCalibrationRun: %v", err)
	}

	results := []model.CalibrationResult{
		{CalibrationRunID: runID, GoldenQuestionID: "g-1", PredictedVerdict: model.VerdictPass, GroundTruthVerdict: model.VerdictPass, IsCorrect: true},
		{CalibrationRunID: runID, GoldenQuestionID: "g-2", PredictedVerdict: model.VerdictFail, GroundTruthVerdict: model.VerdictPass, IsCorrect: false},
		{CalibrationRunID: runID, GoldenQuestionID: "g-3", PredictedVerdict: model.VerdictFail, GroundTruthVerdict: model.VerdictFail, IsCorrect: true},
	}
	if err := s.InsertCalibrationResults(results); err != nil {
		t.Fatalf("InsertCalibrationResults: %v", err)
	}

	runs, err := s.ListCalibrationRuns()
	if err != nil {
		t.Fatalf("ListCalibrationRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].ConfusionMatrix["pass_as_fail"] != 1 {
		t.Errorf("confusion matrix not round-tripped: %+v", runs[0].ConfusionMatrix)
	}

	got, err := s.ListCalibrationResults(runID)
	if err != nil {
		t.Fatalf("ListCalibrationResults: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMetadata("missing")
	if err != nil || v != "" {
		t.Fatalf("GetMetadata(missing) = (%q, %v), want empty", v, err)
	}

	if err := s.SetMetadata("k", "v1"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata("k", "v2"); err != nil {
		t.Fatalf("SetMetadata upsert: %v", err)
	}
	v, err = s.GetMetadata("k")
	if err != nil || v != "v2" {
		t.Fatalf("GetMetadata = (%q, %v), want v2", v, err)
	}

	if err := s.TouchMetadata(MetaLastEvaluationRunAt); err != nil {
		t.Fatalf("TouchMetadata: %v", err)
	}
	v, err = s.GetMetadata(MetaLastEvaluationRunAt)
	if err != nil || v == "" {
		t.Fatalf("touched key = (%q, %v), want timestamp", v, err)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	insertTestJudge(t, s, "J", "gpt-4o", true)
	subID := insertTestSubmission(t, s, "batch")
	if _, err := s.InsertQuestion(model.Question{SubmissionID: subID, TemplateQuestionID: "Q-1", Text: "t", Type: "short_answer"}); err != nil {
		t.Fatal(err)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.Judges != 1 || st.Submissions != 1 || st.Questions != 1 {
		t.Errorf("stats = %+v", st)
	}
}
