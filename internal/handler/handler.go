// Package handler exposes the evaluation engine over a JSON HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mpetrov/arbiter/internal/model"
	"github.com/mpetrov/arbiter/internal/runner"
	"github.com/mpetrov/arbiter/internal/store"
)

// defaultEvaluationLimit caps the evaluation feed when the client does not
// ask for a specific page size.
const defaultEvaluationLimit = 100

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store        *store.Store
	evaluations  *runner.EvaluationRunner
	calibrations *runner.CalibrationRunner
}

// New creates a new Handler.
func New(s *store.Store, ev *runner.EvaluationRunner, cal *runner.CalibrationRunner) *Handler {
	return &Handler{store: s, evaluations: ev, calibrations: cal}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/runs/evaluations", h.handleRunEvaluations)
		r.Post("/runs/calibration", h.handleRunCalibration)

		r.Post("/judges", h.handleCreateJudge)
		r.Get("/judges", h.handleListJudges)
		r.Put("/judges/{judgeID}", h.handleUpdateJudge)

		r.Post("/assignments", h.handleCreateAssignment)
		r.Get("/assignments", h.handleListAssignments)

		r.Post("/submissions", h.handleCreateSubmission)
		r.Post("/golden-set", h.handleUploadGoldenSet)

		r.Get("/evaluations", h.handleListEvaluations)
		r.Get("/calibration-runs", h.handleListCalibrationRuns)
		r.Get("/calibration-runs/{runID}/results", h.handleListCalibrationResults)

		r.Get("/status", h.handleStatus)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// handleRunEvaluations triggers one full evaluation pass. Partial failures
// are reported in the body, not the status code.
func (h *Handler) handleRunEvaluations(w http.ResponseWriter, r *http.Request) {
	summary, err := h.evaluations.Run(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		model.RunSummary
	}{Success: true, RunSummary: summary})
}

func (h *Handler) handleRunCalibration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JudgeID string `json:"judge_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.JudgeID == "" {
		respondError(w, http.StatusBadRequest, "judge_id is required")
		return
	}

	run, err := h.calibrations.Run(r.Context(), req.JudgeID)
	switch {
	case errors.Is(err, runner.ErrJudgeNotFound):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, struct {
		Success            bool    `json:"success"`
		CalibrationRunID   string  `json:"calibration_run_id"`
		Accuracy           float64 `json:"accuracy"`
		PassedThreshold    bool    `json:"passed_threshold"`
		TotalQuestions     int     `json:"total_questions"`
		CorrectPredictions int     `json:"correct_predictions"`
	}{
		Success:            true,
		CalibrationRunID:   run.ID,
		Accuracy:           run.Accuracy,
		PassedThreshold:    run.PassedThreshold,
		TotalQuestions:     run.TotalQuestions,
		CorrectPredictions: run.CorrectPredictions,
	})
}

func (h *Handler) handleCreateJudge(w http.ResponseWriter, r *http.Request) {
	var judge model.Judge
	if !decodeJSON(w, r, &judge) {
		return
	}
	id, err := h.store.InsertJudge(judge)
	if err != nil {
		if errors.Is(err, store.ErrSystemPromptTooShort) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	judge.ID = id
	respondJSON(w, http.StatusCreated, judge)
}

func (h *Handler) handleListJudges(w http.ResponseWriter, r *http.Request) {
	judges, err := h.store.ListJudges()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if judges == nil {
		judges = []model.Judge{}
	}
	respondJSON(w, http.StatusOK, judges)
}

func (h *Handler) handleUpdateJudge(w http.ResponseWriter, r *http.Request) {
	var judge model.Judge
	if !decodeJSON(w, r, &judge) {
		return
	}
	judge.ID = chi.URLParam(r, "judgeID")

	err := h.store.UpdateJudge(judge)
	switch {
	case errors.Is(err, store.ErrSystemPromptTooShort):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case store.IsNotFound(err):
		respondError(w, http.StatusNotFound, "judge not found")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, judge)
}

func (h *Handler) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var a model.JudgeAssignment
	if !decodeJSON(w, r, &a) {
		return
	}
	if a.TemplateQuestionID == "" || a.JudgeID == "" {
		respondError(w, http.StatusBadRequest, "template_question_id and judge_id are required")
		return
	}
	if _, err := h.store.GetJudge(a.JudgeID); err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "judge not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.store.InsertAssignment(a); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.store.ListAssignments()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if assignments == nil {
		assignments = []model.JudgeAssignment{}
	}
	respondJSON(w, http.StatusOK, assignments)
}

func (h *Handler) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := defaultEvaluationLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	evals, err := h.store.ListEvaluations(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if evals == nil {
		evals = []model.Evaluation{}
	}
	respondJSON(w, http.StatusOK, evals)
}

func (h *Handler) handleListCalibrationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListCalibrationRuns()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []model.CalibrationRun{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleListCalibrationResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.store.ListCalibrationResults(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []model.CalibrationResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lastEval, err := h.store.GetMetadata(store.MetaLastEvaluationRunAt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lastCal, err := h.store.GetMetadata(store.MetaLastCalibrationRunAt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, struct {
		store.Stats
		LastEvaluationRunAt  string `json:"last_evaluation_run_at,omitempty"`
		LastCalibrationRunAt string `json:"last_calibration_run_at,omitempty"`
	}{Stats: stats, LastEvaluationRunAt: lastEval, LastCalibrationRunAt: lastCal})
}
