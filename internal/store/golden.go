package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrov/arbiter/internal/model"
)

// InsertGoldenQuestion appends one golden-set question. The set is
// deduplicated per account by template question ID: a duplicate upload is
// skipped, reported by the returned flag, never overwritten.
func (s *Store) InsertGoldenQuestion(g model.GoldenQuestion) (id string, inserted bool, err error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.AccountID == "" {
		g.AccountID = DefaultAccountID
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO golden_questions (id, account_id, template_question_id, text, type,
			student_choice, student_reasoning, ground_truth_verdict, ground_truth_reasoning)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.AccountID, g.TemplateQuestionID, g.Text, g.Type,
		g.StudentChoice, g.StudentReasoning, model.NormalizeVerdict(string(g.GroundTruthVerdict)), g.GroundTruthReasoning,
	)
	if err != nil {
		return "", false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	return g.ID, n > 0, nil
}

// ListGoldenQuestions returns the account's golden set sorted by template
// question ID, the stable iteration order calibration depends on.
func (s *Store) ListGoldenQuestions(accountID string) ([]model.GoldenQuestion, error) {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	rows, err := s.db.Query(
		`SELECT id, account_id, template_question_id, text, type, student_choice, student_reasoning,
			ground_truth_verdict, ground_truth_reasoning
		 FROM golden_questions WHERE account_id = ? ORDER BY template_question_id`, accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.GoldenQuestion
	for rows.Next() {
		var g model.GoldenQuestion
		if err := rows.Scan(&g.ID, &g.AccountID, &g.TemplateQuestionID, &g.Text, &g.Type,
			&g.StudentChoice, &g.StudentReasoning, &g.GroundTruthVerdict, &g.GroundTruthReasoning); err != nil {
			return nil, err
		}
		questions = append(questions, g)
	}
	return questions, rows.Err()
}

// InsertCalibrationRun persists a run summary. The confusion matrix is
// stored as JSON alongside the derived metrics.
func (s *Store) InsertCalibrationRun(run model.CalibrationRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	matrix, err := json.Marshal(run.ConfusionMatrix)
	if err != nil {
		return "", fmt.Errorf("marshal confusion matrix: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO calibration_runs (id, judge_id, judge_name, model_id, total_questions,
			correct_predictions, accuracy, precision_pass, recall_pass, f1_pass,
			precision_fail, recall_fail, f1_fail, confusion_matrix, passed_threshold, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JudgeID, run.JudgeName, run.ModelID, run.TotalQuestions,
		run.CorrectPredictions, run.Accuracy, run.PrecisionPass, run.RecallPass, run.F1Pass,
		run.PrecisionFail, run.RecallFail, run.F1Fail, string(matrix), run.PassedThreshold, run.CreatedAt,
	)
	return run.ID, err
}

// InsertCalibrationResults persists the per-question details of one run in
// a single transaction.
func (s *Store) InsertCalibrationResults(results []model.CalibrationResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range results {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		_, err := tx.Exec(
			`INSERT INTO calibration_results (id, calibration_run_id, golden_question_id,
				predicted_verdict, predicted_reasoning, ground_truth_verdict, is_correct)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CalibrationRunID, r.GoldenQuestionID,
			r.PredictedVerdict, r.PredictedReasoning, r.GroundTruthVerdict, r.IsCorrect,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListCalibrationRuns returns run summaries, newest first.
func (s *Store) ListCalibrationRuns() ([]model.CalibrationRun, error) {
	rows, err := s.db.Query(
		`SELECT id, judge_id, judge_name, model_id, total_questions, correct_predictions,
			accuracy, precision_pass, recall_pass, f1_pass, precision_fail, recall_fail, f1_fail,
			confusion_matrix, passed_threshold, created_at
		 FROM calibration_runs ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.CalibrationRun
	for rows.Next() {
		var run model.CalibrationRun
		var matrix string
		if err := rows.Scan(&run.ID, &run.JudgeID, &run.JudgeName, &run.ModelID, &run.TotalQuestions,
			&run.CorrectPredictions, &run.Accuracy, &run.PrecisionPass, &run.RecallPass, &run.F1Pass,
			&run.PrecisionFail, &run.RecallFail, &run.F1Fail, &matrix, &run.PassedThreshold, &run.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(matrix), &run.ConfusionMatrix); err != nil {
			return nil, fmt.Errorf("unmarshal confusion matrix for run %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListCalibrationResults returns the per-question details of one run.
func (s *Store) ListCalibrationResults(runID string) ([]model.CalibrationResult, error) {
	rows, err := s.db.Query(
		`SELECT id, calibration_run_id, golden_question_id, predicted_verdict, predicted_reasoning,
			ground_truth_verdict, is_correct
		 FROM calibration_results WHERE calibration_run_id = ? ORDER BY golden_question_id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.CalibrationResult
	for rows.Next() {
		var r model.CalibrationResult
		if err := rows.Scan(&r.ID, &r.CalibrationRunID, &r.GoldenQuestionID, &r.PredictedVerdict,
			&r.PredictedReasoning, &r.GroundTruthVerdict, &r.IsCorrect); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
