package store

import (
	"database/sql"
	"time"
)

// Metadata keys recorded by the runners and surfaced by the status
// endpoint. "Most recent run" is always determined from timestamps, never
// from row order.
const (
	MetaLastEvaluationRunAt  = "last_evaluation_run_at"
	MetaLastCalibrationRunAt = "last_calibration_run_at"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// TouchMetadata records the current time under key in RFC 3339 form.
func (s *Store) TouchMetadata(key string) error {
	return s.SetMetadata(key, time.Now().UTC().Format(time.RFC3339))
}

// Stats summarizes row counts for the status endpoint.
type Stats struct {
	Submissions     int `json:"submissions"`
	Questions       int `json:"questions"`
	Judges          int `json:"judges"`
	Assignments     int `json:"assignments"`
	Evaluations     int `json:"evaluations"`
	GoldenQuestions int `json:"golden_questions"`
	CalibrationRuns int `json:"calibration_runs"`
}

// GetStats counts the rows in each primary table.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"submissions", &st.Submissions},
		{"questions", &st.Questions},
		{"judges", &st.Judges},
		{"judge_assignments", &st.Assignments},
		{"evaluations", &st.Evaluations},
		{"golden_questions", &st.GoldenQuestions},
		{"calibration_runs", &st.CalibrationRuns},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + c.table).Scan(c.dst); err != nil {
			return st, err
		}
	}
	return st, nil
}
