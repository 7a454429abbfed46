package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mpetrov/arbiter/internal/model"
	"github.com/mpetrov/arbiter/internal/provider"
	"github.com/mpetrov/arbiter/internal/store"
)

// stubProvider scripts provider responses by call index.
type stubProvider struct {
	fn       func(call int, req provider.Request) (string, error)
	calls    int
	requests []provider.Request
}

func (p *stubProvider) Call(_ context.Context, req provider.Request) (string, error) {
	call := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	return p.fn(call, req)
}

type stubResolver struct {
	p   provider.Provider
	err error
}

func (r stubResolver) ForModel(string) (provider.Provider, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.p, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedTriple inserts one judge, one submission with one question, and the
// assignment binding them. Returns the judge ID.
func seedTriple(t *testing.T, s *store.Store, tqID string, active bool) string {
	t.Helper()
	judgeID, err := s.InsertJudge(model.Judge{
		Name:         "strict-grader",
		SystemPrompt: "You grade short answers strictly.",
		ModelID:      "gpt-4o",
		Active:       active,
		FieldPolicy: model.FieldPolicy{
			IncludeQuestionText:  true,
			IncludeStudentAnswer: true,
		},
	})
	if err != nil {
		t.Fatalf("insert judge: %v", err)
	}
	subID, err := s.InsertSubmission(model.Submission{Name: "batch-1"})
	if err != nil {
		t.Fatalf("insert submission: %v", err)
	}
	if _, err := s.InsertQuestion(model.Question{
		SubmissionID:       subID,
		TemplateQuestionID: tqID,
		Text:               "What does TCP stand for?",
		Type:               "short_answer",
		StudentChoice:      "",
		StudentReasoning:   "Transmission Control Protocol",
	}); err != nil {
		t.Fatalf("insert question: %v", err)
	}
	if err := s.InsertAssignment(model.JudgeAssignment{TemplateQuestionID: tqID, JudgeID: judgeID}); err != nil {
		t.Fatalf("insert assignment: %v", err)
	}
	return judgeID
}

func newRunnerNoSleep(s *store.Store, r provider.Resolver) (*EvaluationRunner, *[]time.Duration) {
	er := NewEvaluationRunner(s, r)
	var slept []time.Duration
	er.sleep = func(d time.Duration) { slept = append(slept, d) }
	return er, &slept
}

func TestEvaluationRunSuccess(t *testing.T) {
	s := newTestStore(t)
	seedTriple(t, s, "tq-1", true)

	p := &stubProvider{fn: func(int, provider.Request) (string, error) {
		return `{"verdict": "pass", "reasoning": "correct expansion"}`, nil
	}}
	r, _ := newRunnerNoSleep(s, stubResolver{p: p})

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Planned != 1 || summary.Completed != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want planned 1 completed 1", summary)
	}

	evals, err := s.ListEvaluations(10)
	if err != nil {
		t.Fatalf("list evaluations: %v", err)
	}
	if len(evals) != 1 {
		t.Fatalf("got %d evaluations, want 1", len(evals))
	}
	e := evals[0]
	if e.Verdict != model.VerdictPass {
		t.Errorf("verdict = %q, want pass", e.Verdict)
	}
	if e.Reasoning != "correct expansion" {
		t.Errorf("reasoning = %q", e.Reasoning)
	}
	if e.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", e.RetryCount)
	}
	if e.InputTokens == 0 || e.OutputTokens == 0 || e.EstimatedCost == 0 {
		t.Errorf("telemetry missing: tokens %d/%d cost %v", e.InputTokens, e.OutputTokens, e.EstimatedCost)
	}
	if e.PromptSent == "" || e.RawResponse == "" {
		t.Error("prompt or raw response not recorded")
	}

	if len(p.requests) != 1 {
		t.Fatalf("provider called %d times, want 1", len(p.requests))
	}
	if p.requests[0].Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", p.requests[0].Temperature)
	}
}

func TestEvaluationRetryThenSuccess(t *testing.T) {
	s := newTestStore(t)
	seedTriple(t, s, "tq-1", true)

	p := &stubProvider{fn: func(call int, _ provider.Request) (string, error) {
		if call < 2 {
			return "", errors.New("upstream 503")
		}
		return `{"verdict": "fail", "reasoning": "wrong"}`, nil
	}}
	r, slept := newRunnerNoSleep(s, stubResolver{p: p})

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Completed != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 completed", summary)
	}

	wantSleeps := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != len(wantSleeps) {
		t.Fatalf("slept %v, want %v", *slept, wantSleeps)
	}
	for i, d := range wantSleeps {
		if (*slept)[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], d)
		}
	}

	evals, _ := s.ListEvaluations(10)
	if evals[0].RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", evals[0].RetryCount)
	}
	if evals[0].Verdict != model.VerdictFail {
		t.Errorf("verdict = %q, want fail", evals[0].Verdict)
	}
}

func TestEvaluationRetriesExhausted(t *testing.T) {
	s := newTestStore(t)
	seedTriple(t, s, "tq-1", true)

	p := &stubProvider{fn: func(int, provider.Request) (string, error) {
		return "", errors.New("upstream 503")
	}}
	r, _ := newRunnerNoSleep(s, stubResolver{p: p})

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Failed != 1 || summary.Completed != 0 {
		t.Fatalf("summary = %+v, want 1 failed", summary)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("errors = %v, want 1 entry", summary.Errors)
	}
	if p.calls != 3 {
		t.Errorf("provider called %d times, want 3", p.calls)
	}

	// The failure is still an audit row.
	evals, _ := s.ListEvaluations(10)
	if len(evals) != 1 {
		t.Fatalf("got %d evaluations, want 1", len(evals))
	}
	e := evals[0]
	if e.Verdict != model.VerdictInconclusive {
		t.Errorf("verdict = %q, want inconclusive", e.Verdict)
	}
	if e.Reasoning != "LLM API call failed after retries" {
		t.Errorf("reasoning = %q", e.Reasoning)
	}
	if e.Error == "" {
		t.Error("last error not recorded")
	}
	if e.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", e.RetryCount)
	}
	if e.OutputTokens != 0 || e.EstimatedCost != 0 {
		t.Errorf("failed call should carry no output telemetry: %d/%v", e.OutputTokens, e.EstimatedCost)
	}
}

func TestEvaluationInactiveJudge(t *testing.T) {
	s := newTestStore(t)
	seedTriple(t, s, "tq-1", false)

	p := &stubProvider{fn: func(int, provider.Request) (string, error) {
		t.Fatal("provider must not be called for an inactive judge")
		return "", nil
	}}
	r, _ := newRunnerNoSleep(s, stubResolver{p: p})

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Planned != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 planned 1 failed", summary)
	}
	if !strings.Contains(summary.Errors[0], "not found or inactive") {
		t.Errorf("error = %q", summary.Errors[0])
	}
}

func TestEvaluationUnroutableModel(t *testing.T) {
	s := newTestStore(t)
	seedTriple(t, s, "tq-1", true)

	r, _ := newRunnerNoSleep(s, stubResolver{err: provider.ErrNoCredential})

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", summary)
	}
	if !errorsContain(summary.Errors, "no API key") {
		t.Errorf("errors = %v", summary.Errors)
	}
	// Configuration failures leave no evaluation row.
	evals, _ := s.ListEvaluations(10)
	if len(evals) != 0 {
		t.Errorf("got %d evaluations, want 0", len(evals))
	}
}

func TestEvaluationContainment(t *testing.T) {
	s := newTestStore(t)

	// Four healthy triples plus one whose judge is inactive.
	seedTriple(t, s, "tq-1", true)
	seedTriple(t, s, "tq-2", true)
	seedTriple(t, s, "tq-3", false)
	seedTriple(t, s, "tq-4", true)
	seedTriple(t, s, "tq-5", true)

	p := &stubProvider{fn: func(int, provider.Request) (string, error) {
		return `{"verdict": "pass", "reasoning": "ok"}`, nil
	}}
	r, _ := newRunnerNoSleep(s, stubResolver{p: p})

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Planned != 5 {
		t.Fatalf("planned = %d, want 5", summary.Planned)
	}
	if summary.Completed+summary.Failed != summary.Planned {
		t.Fatalf("completed %d + failed %d != planned %d", summary.Completed, summary.Failed, summary.Planned)
	}
	if summary.Completed != 4 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 4 completed 1 failed", summary)
	}
}

func TestEvaluationContextCancelled(t *testing.T) {
	s := newTestStore(t)
	seedTriple(t, s, "tq-1", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &stubProvider{fn: func(int, provider.Request) (string, error) {
		return `{"verdict": "pass", "reasoning": "ok"}`, nil
	}}
	r, _ := newRunnerNoSleep(s, stubResolver{p: p})

	_, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times after cancellation", p.calls)
	}
}

func TestEvaluationRecordsRunTimestamp(t *testing.T) {
	s := newTestStore(t)
	seedTriple(t, s, "tq-1", true)

	p := &stubProvider{fn: func(int, provider.Request) (string, error) {
		return `{"verdict": "pass", "reasoning": "ok"}`, nil
	}}
	r, _ := newRunnerNoSleep(s, stubResolver{p: p})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	ts, err := s.GetMetadata(store.MetaLastEvaluationRunAt)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if ts == "" {
		t.Error("last run timestamp not recorded")
	}
}

func errorsContain(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}
