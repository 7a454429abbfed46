package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mpetrov/arbiter/internal/model"
	"github.com/mpetrov/arbiter/internal/prompt"
	"github.com/mpetrov/arbiter/internal/provider"
	"github.com/mpetrov/arbiter/internal/store"
	"github.com/mpetrov/arbiter/internal/verdict"
)

var (
	// ErrJudgeNotFound means the requested judge does not exist.
	ErrJudgeNotFound = errors.New("judge not found")

	// ErrNoGoldenQuestions means the golden set is empty and there is
	// nothing to calibrate against.
	ErrNoGoldenQuestions = errors.New("no golden questions available")
)

// CalibrationRunner scores a single judge against the golden set and
// produces a persisted run with a confusion matrix and per-class metrics.
type CalibrationRunner struct {
	store     *store.Store
	providers provider.Resolver
	sleep     func(time.Duration)
}

// NewCalibrationRunner creates a runner over the given store and provider
// resolver.
func NewCalibrationRunner(s *store.Store, providers provider.Resolver) *CalibrationRunner {
	return &CalibrationRunner{store: s, providers: providers, sleep: time.Sleep}
}

// Run calibrates the judge against every golden question. Preconditions
// (unknown judge, empty golden set, unroutable model) fail the whole run
// before any provider call; after that, per-question provider failures are
// recorded as inconclusive and counted incorrect, so every golden question
// increments the confusion matrix exactly once.
func (r *CalibrationRunner) Run(ctx context.Context, judgeID string) (model.CalibrationRun, error) {
	judge, err := r.store.GetJudge(judgeID)
	if err != nil {
		if store.IsNotFound(err) {
			return model.CalibrationRun{}, ErrJudgeNotFound
		}
		return model.CalibrationRun{}, fmt.Errorf("get judge: %w", err)
	}

	golden, err := r.store.ListGoldenQuestions(store.DefaultAccountID)
	if err != nil {
		return model.CalibrationRun{}, fmt.Errorf("list golden questions: %w", err)
	}
	if len(golden) == 0 {
		return model.CalibrationRun{}, ErrNoGoldenQuestions
	}

	p, err := r.providers.ForModel(judge.ModelID)
	if err != nil {
		return model.CalibrationRun{}, fmt.Errorf("judge %s: %w", judge.Name, err)
	}

	matrix := NewConfusionMatrix()
	results := make([]model.CalibrationResult, 0, len(golden))
	correct := 0

	for _, g := range golden {
		if err := ctx.Err(); err != nil {
			return model.CalibrationRun{}, err
		}
		res := r.scoreQuestion(ctx, p, judge, g)
		matrix.Add(g.GroundTruthVerdict, res.PredictedVerdict)
		if res.IsCorrect {
			correct++
		}
		results = append(results, res)
	}

	accuracy := float64(correct) / float64(len(golden)) * 100
	passMetrics := matrix.MetricsFor(model.VerdictPass)
	failMetrics := matrix.MetricsFor(model.VerdictFail)

	run := model.CalibrationRun{
		JudgeID:            judge.ID,
		JudgeName:          judge.Name,
		ModelID:            judge.ModelID,
		TotalQuestions:     len(golden),
		CorrectPredictions: correct,
		Accuracy:           accuracy,
		PrecisionPass:      passMetrics.Precision,
		RecallPass:         passMetrics.Recall,
		F1Pass:             passMetrics.F1,
		PrecisionFail:      failMetrics.Precision,
		RecallFail:         failMetrics.Recall,
		F1Fail:             failMetrics.F1,
		ConfusionMatrix:    matrix,
		PassedThreshold:    accuracy >= accuracyThreshold,
	}
	runID, err := r.store.InsertCalibrationRun(run)
	if err != nil {
		return model.CalibrationRun{}, fmt.Errorf("insert calibration run: %w", err)
	}
	run.ID = runID

	for i := range results {
		results[i].CalibrationRunID = runID
	}
	if err := r.store.InsertCalibrationResults(results); err != nil {
		return model.CalibrationRun{}, fmt.Errorf("insert calibration results: %w", err)
	}

	if err := r.store.TouchMetadata(store.MetaLastCalibrationRunAt); err != nil {
		slog.Warn("record run timestamp failed", "error", err)
	}

	slog.Info("calibration run finished",
		"judge", judge.Name,
		"questions", run.TotalQuestions,
		"accuracy", run.Accuracy,
		"passed_threshold", run.PassedThreshold,
	)
	return run, nil
}

// scoreQuestion evaluates one golden question at temperature 0 and
// compares the prediction against the ground truth.
func (r *CalibrationRunner) scoreQuestion(ctx context.Context, p provider.Provider, judge model.Judge, g model.GoldenQuestion) model.CalibrationResult {
	userPrompt := prompt.Build(prompt.FromGolden(g), judge.FieldPolicy, nil)

	raw, _, err := callWithRetry(ctx, p, provider.Request{
		ModelID:      judge.ModelID,
		SystemPrompt: judge.SystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0,
	}, r.sleep)

	if err != nil {
		// A dead provider call still consumes the golden question: the
		// prediction defaults to inconclusive and counts as incorrect.
		return model.CalibrationResult{
			GoldenQuestionID:   g.ID,
			GroundTruthVerdict: g.GroundTruthVerdict,
			PredictedVerdict:   model.VerdictInconclusive,
			PredictedReasoning: fmt.Sprintf("API error: %v", err),
			IsCorrect:          false,
		}
	}

	parsed := verdict.Parse(raw)
	return model.CalibrationResult{
		GoldenQuestionID:   g.ID,
		GroundTruthVerdict: g.GroundTruthVerdict,
		PredictedVerdict:   parsed.Verdict,
		PredictedReasoning: parsed.Reasoning,
		IsCorrect:          parsed.Verdict == g.GroundTruthVerdict,
	}
}
