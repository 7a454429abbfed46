package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrov/arbiter/internal/model"

	_ "modernc.org/sqlite"
)

// ErrSystemPromptTooShort is returned when a judge is written with a
// system prompt under the minimum length.
var ErrSystemPromptTooShort = fmt.Errorf("judge system prompt must be at least %d characters", model.MinSystemPromptLen)

// DefaultAccountID scopes records when no caller identity is supplied.
// Identity resolution is an external collaborator; the store only needs a
// stable scoping key for golden-set deduplication.
const DefaultAccountID = "default"

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL DEFAULT 'default',
		name TEXT NOT NULL,
		uploaded_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL,
		template_question_id TEXT NOT NULL,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		student_choice TEXT NOT NULL DEFAULT '',
		student_reasoning TEXT NOT NULL DEFAULT '',
		has_attachments INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		media_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS judges (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		system_prompt TEXT NOT NULL,
		model_id TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		include_question_id INTEGER NOT NULL DEFAULT 0,
		include_question_type INTEGER NOT NULL DEFAULT 1,
		include_question_text INTEGER NOT NULL DEFAULT 1,
		include_student_answer INTEGER NOT NULL DEFAULT 1,
		include_model_answer INTEGER NOT NULL DEFAULT 0,
		include_marks INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS judge_assignments (
		template_question_id TEXT NOT NULL,
		judge_id TEXT NOT NULL,
		PRIMARY KEY (template_question_id, judge_id),
		FOREIGN KEY (judge_id) REFERENCES judges(id)
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		judge_id TEXT NOT NULL,
		verdict TEXT NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		model_id TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		prompt_sent TEXT NOT NULL DEFAULT '',
		raw_response TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		estimated_cost REAL NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS golden_questions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL DEFAULT 'default',
		template_question_id TEXT NOT NULL,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		student_choice TEXT NOT NULL DEFAULT '',
		student_reasoning TEXT NOT NULL DEFAULT '',
		ground_truth_verdict TEXT NOT NULL,
		ground_truth_reasoning TEXT NOT NULL DEFAULT '',
		UNIQUE (account_id, template_question_id)
	);

	CREATE TABLE IF NOT EXISTS calibration_runs (
		id TEXT PRIMARY KEY,
		judge_id TEXT NOT NULL,
		judge_name TEXT NOT NULL,
		model_id TEXT NOT NULL,
		total_questions INTEGER NOT NULL,
		correct_predictions INTEGER NOT NULL,
		accuracy REAL NOT NULL,
		precision_pass REAL NOT NULL,
		recall_pass REAL NOT NULL,
		f1_pass REAL NOT NULL,
		precision_fail REAL NOT NULL,
		recall_fail REAL NOT NULL,
		f1_fail REAL NOT NULL,
		confusion_matrix TEXT NOT NULL DEFAULT '{}',
		passed_threshold INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS calibration_results (
		id TEXT PRIMARY KEY,
		calibration_run_id TEXT NOT NULL,
		golden_question_id TEXT NOT NULL,
		predicted_verdict TEXT NOT NULL,
		predicted_reasoning TEXT NOT NULL DEFAULT '',
		ground_truth_verdict TEXT NOT NULL,
		is_correct INTEGER NOT NULL,
		FOREIGN KEY (calibration_run_id) REFERENCES calibration_runs(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertSubmission stores a submission, generating its ID when empty.
func (s *Store) InsertSubmission(sub model.Submission) (string, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.AccountID == "" {
		sub.AccountID = DefaultAccountID
	}
	if sub.UploadedAt.IsZero() {
		sub.UploadedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO submissions (id, account_id, name, uploaded_at) VALUES (?, ?, ?, ?)`,
		sub.ID, sub.AccountID, sub.Name, sub.UploadedAt,
	)
	return sub.ID, err
}

// ListSubmissions returns all submissions, newest first.
func (s *Store) ListSubmissions() ([]model.Submission, error) {
	rows, err := s.db.Query(`SELECT id, account_id, name, uploaded_at FROM submissions ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.AccountID, &sub.Name, &sub.UploadedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// InsertQuestion stores a question, generating its ID when empty.
func (s *Store) InsertQuestion(q model.Question) (string, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO questions (id, submission_id, template_question_id, text, type, student_choice, student_reasoning, has_attachments)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.SubmissionID, q.TemplateQuestionID, q.Text, q.Type, q.StudentChoice, q.StudentReasoning, q.HasAttachments,
	)
	return q.ID, err
}

// ListQuestions returns the questions of one submission.
func (s *Store) ListQuestions(submissionID string) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, submission_id, template_question_id, text, type, student_choice, student_reasoning, has_attachments
		 FROM questions WHERE submission_id = ? ORDER BY template_question_id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SubmissionID, &q.TemplateQuestionID, &q.Text, &q.Type,
			&q.StudentChoice, &q.StudentReasoning, &q.HasAttachments); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// InsertAttachment stores an attachment descriptor.
func (s *Store) InsertAttachment(a model.Attachment) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO attachments (id, question_id, file_name, media_type, size_bytes) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.QuestionID, a.FileName, a.MediaType, a.SizeBytes,
	)
	return a.ID, err
}

// ListAttachments returns the attachment descriptors of one question.
func (s *Store) ListAttachments(questionID string) ([]model.Attachment, error) {
	rows, err := s.db.Query(
		`SELECT id, question_id, file_name, media_type, size_bytes FROM attachments WHERE question_id = ? ORDER BY file_name`,
		questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var atts []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.FileName, &a.MediaType, &a.SizeBytes); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// InsertJudge stores a judge configuration, enforcing the system prompt
// length invariant.
func (s *Store) InsertJudge(j model.Judge) (string, error) {
	if len(j.SystemPrompt) < model.MinSystemPromptLen {
		return "", ErrSystemPromptTooShort
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	p := j.FieldPolicy
	_, err := s.db.Exec(
		`INSERT INTO judges (id, name, system_prompt, model_id, active,
			include_question_id, include_question_type, include_question_text,
			include_student_answer, include_model_answer, include_marks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, j.SystemPrompt, j.ModelID, j.Active,
		p.IncludeQuestionID, p.IncludeQuestionType, p.IncludeQuestionText,
		p.IncludeStudentAnswer, p.IncludeModelAnswer, p.IncludeMarks,
	)
	return j.ID, err
}

// UpdateJudge replaces a judge's configuration. Returns sql.ErrNoRows if
// the judge does not exist.
func (s *Store) UpdateJudge(j model.Judge) error {
	if len(j.SystemPrompt) < model.MinSystemPromptLen {
		return ErrSystemPromptTooShort
	}
	p := j.FieldPolicy
	res, err := s.db.Exec(
		`UPDATE judges SET name = ?, system_prompt = ?, model_id = ?, active = ?,
			include_question_id = ?, include_question_type = ?, include_question_text = ?,
			include_student_answer = ?, include_model_answer = ?, include_marks = ?
		 WHERE id = ?`,
		j.Name, j.SystemPrompt, j.ModelID, j.Active,
		p.IncludeQuestionID, p.IncludeQuestionType, p.IncludeQuestionText,
		p.IncludeStudentAnswer, p.IncludeModelAnswer, p.IncludeMarks,
		j.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const judgeColumns = `id, name, system_prompt, model_id, active,
	include_question_id, include_question_type, include_question_text,
	include_student_answer, include_model_answer, include_marks`

func scanJudge(scan func(...any) error) (model.Judge, error) {
	var j model.Judge
	err := scan(&j.ID, &j.Name, &j.SystemPrompt, &j.ModelID, &j.Active,
		&j.FieldPolicy.IncludeQuestionID, &j.FieldPolicy.IncludeQuestionType,
		&j.FieldPolicy.IncludeQuestionText, &j.FieldPolicy.IncludeStudentAnswer,
		&j.FieldPolicy.IncludeModelAnswer, &j.FieldPolicy.IncludeMarks)
	return j, err
}

// GetJudge returns a judge by ID (sql.ErrNoRows when missing).
func (s *Store) GetJudge(id string) (model.Judge, error) {
	row := s.db.QueryRow(`SELECT `+judgeColumns+` FROM judges WHERE id = ?`, id)
	return scanJudge(row.Scan)
}

// GetActiveJudge returns a judge by ID only if it is active.
func (s *Store) GetActiveJudge(id string) (model.Judge, error) {
	row := s.db.QueryRow(`SELECT `+judgeColumns+` FROM judges WHERE id = ? AND active = 1`, id)
	return scanJudge(row.Scan)
}

// ListJudges returns all judges.
func (s *Store) ListJudges() ([]model.Judge, error) {
	rows, err := s.db.Query(`SELECT ` + judgeColumns + ` FROM judges ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var judges []model.Judge
	for rows.Next() {
		j, err := scanJudge(rows.Scan)
		if err != nil {
			return nil, err
		}
		judges = append(judges, j)
	}
	return judges, rows.Err()
}

// InsertAssignment binds a judge to a template question. Duplicate pairs
// are ignored (the relation has no ordering or multiplicity semantics).
func (s *Store) InsertAssignment(a model.JudgeAssignment) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO judge_assignments (template_question_id, judge_id) VALUES (?, ?)`,
		a.TemplateQuestionID, a.JudgeID,
	)
	return err
}

// ListAssignments returns all judge assignments.
func (s *Store) ListAssignments() ([]model.JudgeAssignment, error) {
	rows, err := s.db.Query(`SELECT template_question_id, judge_id FROM judge_assignments ORDER BY template_question_id, judge_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []model.JudgeAssignment
	for rows.Next() {
		var a model.JudgeAssignment
		if err := rows.Scan(&a.TemplateQuestionID, &a.JudgeID); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// InsertEvaluation appends a write-once evaluation record. There is no
// update or delete: re-running a judge produces new rows.
func (s *Store) InsertEvaluation(e model.Evaluation) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO evaluations (id, submission_id, question_id, judge_id, verdict, reasoning,
			model_id, duration_ms, prompt_sent, raw_response, input_tokens, output_tokens,
			estimated_cost, retry_count, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SubmissionID, e.QuestionID, e.JudgeID, e.Verdict, e.Reasoning,
		e.ModelID, e.DurationMs, e.PromptSent, e.RawResponse, e.InputTokens, e.OutputTokens,
		e.EstimatedCost, e.RetryCount, e.Error, e.CreatedAt,
	)
	return e.ID, err
}

// ListEvaluations returns evaluation records, newest first, capped at limit
// (0 means no cap).
func (s *Store) ListEvaluations(limit int) ([]model.Evaluation, error) {
	query := `SELECT id, submission_id, question_id, judge_id, verdict, reasoning,
		model_id, duration_ms, prompt_sent, raw_response, input_tokens, output_tokens,
		estimated_cost, retry_count, error, created_at
		FROM evaluations ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var evals []model.Evaluation
	for rows.Next() {
		var e model.Evaluation
		if err := rows.Scan(&e.ID, &e.SubmissionID, &e.QuestionID, &e.JudgeID, &e.Verdict, &e.Reasoning,
			&e.ModelID, &e.DurationMs, &e.PromptSent, &e.RawResponse, &e.InputTokens, &e.OutputTokens,
			&e.EstimatedCost, &e.RetryCount, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// IsNotFound reports whether err means a requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
