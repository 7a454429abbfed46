// Package runner orchestrates the evaluation and calibration pipelines:
// prompt building, provider dispatch with retry, verdict parsing, cost
// telemetry, and persistence. One logical worker processes work strictly
// sequentially, so there is at most one outstanding provider call per run.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mpetrov/arbiter/internal/cost"
	"github.com/mpetrov/arbiter/internal/model"
	"github.com/mpetrov/arbiter/internal/prompt"
	"github.com/mpetrov/arbiter/internal/provider"
	"github.com/mpetrov/arbiter/internal/store"
	"github.com/mpetrov/arbiter/internal/verdict"
)

const (
	// maxAttempts is the total provider-call budget per triple.
	maxAttempts = 3

	// evalTemperature allows natural variance across repeated evaluation
	// runs; calibration uses 0 instead.
	evalTemperature = 0.3

	// maxRunErrors caps the error messages carried in a run summary.
	maxRunErrors = 10
)

// backoffDelay is the wait before retry attempt n (zero-based): the first
// retry is immediate, then 2s, 4s. No jitter.
func backoffDelay(attempt int) time.Duration {
	if attempt == 0 {
		return 0
	}
	return time.Duration(1<<attempt) * time.Second
}

// EvaluationRunner runs every assigned judge over every submitted
// question. All counters live in the returned summary; the runner keeps
// no state between runs, so concurrent runs are safe.
type EvaluationRunner struct {
	store     *store.Store
	providers provider.Resolver
	sleep     func(time.Duration)
}

// NewEvaluationRunner creates a runner over the given store and provider
// resolver.
func NewEvaluationRunner(s *store.Store, providers provider.Resolver) *EvaluationRunner {
	return &EvaluationRunner{store: s, providers: providers, sleep: time.Sleep}
}

// Run evaluates every (submission, question, judge-assignment) triple and
// returns the run's counters. Per-triple failures are contained: one bad
// triple never halts the iteration. The context is checked before each
// triple; cancellation returns the partial summary with the context error.
func (r *EvaluationRunner) Run(ctx context.Context) (model.RunSummary, error) {
	summary := model.RunSummary{Errors: []string{}}

	submissions, err := r.store.ListSubmissions()
	if err != nil {
		return summary, fmt.Errorf("list submissions: %w", err)
	}
	assignments, err := r.store.ListAssignments()
	if err != nil {
		return summary, fmt.Errorf("list assignments: %w", err)
	}

	for _, sub := range submissions {
		questions, err := r.store.ListQuestions(sub.ID)
		if err != nil {
			slog.Error("list questions failed", "submission_id", sub.ID, "error", err)
			continue
		}
		for _, q := range questions {
			for _, a := range assignments {
				if a.TemplateQuestionID != q.TemplateQuestionID {
					continue
				}
				if err := ctx.Err(); err != nil {
					return summary, err
				}
				summary.Planned++
				r.evaluateTriple(ctx, sub, q, a, &summary)
			}
		}
	}

	if err := r.store.TouchMetadata(store.MetaLastEvaluationRunAt); err != nil {
		slog.Warn("record run timestamp failed", "error", err)
	}

	slog.Info("evaluation run finished",
		"planned", summary.Planned,
		"completed", summary.Completed,
		"failed", summary.Failed,
	)
	return summary, nil
}

// evaluateTriple processes one (submission, question, assignment) triple
// and ends it in exactly one of Completed or Failed.
func (r *EvaluationRunner) evaluateTriple(ctx context.Context, sub model.Submission, q model.Question, a model.JudgeAssignment, summary *model.RunSummary) {
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(summary, fmt.Sprintf("evaluation panic for question %s judge %s: %v", q.ID, a.JudgeID, rec))
		}
	}()

	// Missing or inactive judge is a configuration mismatch, not a
	// transient failure: no retry, no evaluation row.
	judge, err := r.store.GetActiveJudge(a.JudgeID)
	if err != nil {
		r.fail(summary, fmt.Sprintf("judge %s not found or inactive", a.JudgeID))
		return
	}

	// Same for an unroutable model or missing credential: retrying cannot
	// conjure an API key, so fail before any HTTP call.
	p, err := r.providers.ForModel(judge.ModelID)
	if err != nil {
		r.fail(summary, fmt.Sprintf("judge %s: %v", judge.Name, err))
		return
	}

	var attachments []model.Attachment
	if q.HasAttachments {
		attachments, err = r.store.ListAttachments(q.ID)
		if err != nil {
			slog.Warn("list attachments failed", "question_id", q.ID, "error", err)
		}
	}

	userPrompt := prompt.Build(prompt.FromQuestion(q), judge.FieldPolicy, attachments)
	inputTokens := cost.Tokens(judge.SystemPrompt + "\n\n" + userPrompt)

	start := time.Now()
	raw, retryCount, lastErr := r.callWithRetry(ctx, p, provider.Request{
		ModelID:      judge.ModelID,
		SystemPrompt: judge.SystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  evalTemperature,
	})
	durationMs := time.Since(start).Milliseconds()

	if lastErr != nil {
		// Retries exhausted: persist the failure as an inconclusive
		// evaluation with the last error kept verbatim for diagnosis.
		_, insErr := r.store.InsertEvaluation(model.Evaluation{
			SubmissionID: sub.ID,
			QuestionID:   q.ID,
			JudgeID:      judge.ID,
			Verdict:      model.VerdictInconclusive,
			Reasoning:    "LLM API call failed after retries",
			Error:        lastErr.Error(),
			ModelID:      judge.ModelID,
			DurationMs:   durationMs,
			PromptSent:   userPrompt,
			InputTokens:  inputTokens,
			RetryCount:   maxAttempts,
		})
		if insErr != nil {
			slog.Error("insert failed evaluation", "question_id", q.ID, "error", insErr)
		}
		r.fail(summary, lastErr.Error())
		return
	}

	parsed := verdict.Parse(raw)
	est := cost.EstimateCall(judge.ModelID, judge.SystemPrompt+"\n\n"+userPrompt, raw)

	_, err = r.store.InsertEvaluation(model.Evaluation{
		SubmissionID:  sub.ID,
		QuestionID:    q.ID,
		JudgeID:       judge.ID,
		Verdict:       parsed.Verdict,
		Reasoning:     parsed.Reasoning,
		ModelID:       judge.ModelID,
		DurationMs:    durationMs,
		PromptSent:    userPrompt,
		RawResponse:   raw,
		InputTokens:   est.InputTokens,
		OutputTokens:  est.OutputTokens,
		EstimatedCost: est.CostUSD,
		RetryCount:    retryCount,
	})
	if err != nil {
		r.fail(summary, fmt.Sprintf("insert evaluation for question %s: %v", q.ID, err))
		return
	}
	summary.Completed++
}

// callWithRetry attempts the provider call up to maxAttempts times with
// exponential backoff, and reports the zero-based index of the attempt
// that succeeded. On exhaustion retryCount is maxAttempts and the last
// error is returned.
func (r *EvaluationRunner) callWithRetry(ctx context.Context, p provider.Provider, req provider.Request) (raw string, retryCount int, err error) {
	return callWithRetry(ctx, p, req, r.sleep)
}

func callWithRetry(ctx context.Context, p provider.Provider, req provider.Request, sleep func(time.Duration)) (string, int, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if d := backoffDelay(attempt); d > 0 {
			sleep(d)
		}
		raw, err := p.Call(ctx, req)
		if err == nil {
			return raw, attempt, nil
		}
		lastErr = err
		slog.Warn("provider call failed", "model", req.ModelID, "attempt", attempt+1, "error", err)
	}
	return "", maxAttempts, lastErr
}

func (r *EvaluationRunner) fail(summary *model.RunSummary, msg string) {
	summary.Failed++
	if len(summary.Errors) < maxRunErrors {
		summary.Errors = append(summary.Errors, msg)
	}
	slog.Error("evaluation failed", "error", msg)
}
