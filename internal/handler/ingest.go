package handler

import (
	"fmt"
	"net/http"

	"github.com/mpetrov/arbiter/internal/model"
)

type submissionQuestion struct {
	TemplateQuestionID string             `json:"template_question_id"`
	Text               string             `json:"text"`
	Type               string             `json:"type"`
	StudentChoice      string             `json:"student_choice"`
	StudentReasoning   string             `json:"student_reasoning"`
	Attachments        []model.Attachment `json:"attachments"`
}

type submissionRequest struct {
	Name      string               `json:"name"`
	AccountID string               `json:"account_id"`
	Questions []submissionQuestion `json:"questions"`
}

// handleCreateSubmission ingests one submission with its questions and
// attachment descriptors. Binary attachment content is never accepted
// here; only the descriptors travel with the question.
func (h *Handler) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Questions) == 0 {
		respondError(w, http.StatusBadRequest, "questions must not be empty")
		return
	}
	for i, q := range req.Questions {
		if q.TemplateQuestionID == "" || q.Text == "" {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("question %d: template_question_id and text are required", i))
			return
		}
	}

	subID, err := h.store.InsertSubmission(model.Submission{
		Name:      req.Name,
		AccountID: req.AccountID,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for _, q := range req.Questions {
		questionID, err := h.store.InsertQuestion(model.Question{
			SubmissionID:       subID,
			TemplateQuestionID: q.TemplateQuestionID,
			Text:               q.Text,
			Type:               q.Type,
			StudentChoice:      q.StudentChoice,
			StudentReasoning:   q.StudentReasoning,
			HasAttachments:     len(q.Attachments) > 0,
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, a := range q.Attachments {
			a.QuestionID = questionID
			if _, err := h.store.InsertAttachment(a); err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"submission_id": subID,
		"questions":     len(req.Questions),
	})
}

type goldenSetRequest struct {
	AccountID string                 `json:"account_id"`
	Questions []model.GoldenQuestion `json:"questions"`
}

// handleUploadGoldenSet appends golden questions, skipping any template
// question ID the account has already uploaded. The golden set is
// append-only: re-uploads never overwrite existing ground truth.
func (h *Handler) handleUploadGoldenSet(w http.ResponseWriter, r *http.Request) {
	var req goldenSetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Questions) == 0 {
		respondError(w, http.StatusBadRequest, "questions must not be empty")
		return
	}
	for i, g := range req.Questions {
		if g.TemplateQuestionID == "" || g.Text == "" {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("question %d: template_question_id and text are required", i))
			return
		}
		if v := model.NormalizeVerdict(string(g.GroundTruthVerdict)); v == model.VerdictInconclusive {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("question %d: ground_truth_verdict must be pass or fail", i))
			return
		}
	}

	inserted, skipped := 0, 0
	for _, g := range req.Questions {
		if g.AccountID == "" {
			g.AccountID = req.AccountID
		}
		_, ok, err := h.store.InsertGoldenQuestion(g)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}

	respondJSON(w, http.StatusCreated, map[string]int{
		"inserted": inserted,
		"skipped":  skipped,
	})
}
