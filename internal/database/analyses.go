package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Insight is one coaching observation about a run
type Insight struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"` // tip, positive, or warning
}

// Recommendation is one actionable coaching suggestion
type Recommendation struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Analysis is the AI-generated coaching feedback for a run.
// Each run has at most one analysis.
type Analysis struct {
	ID              int64
	RunID           int64
	UserID          string
	Summary         string
	Insights        []Insight
	Recommendations []Recommendation
	CreatedAt       time.Time
}

// GetAnalysis retrieves the analysis for a run.
// Returns nil, nil when none exists.
func (db *DB) GetAnalysis(runID int64) (*Analysis, error) {
	var a Analysis
	var insightsJSON, recsJSON string
	var createdAt int64

	err := db.conn.QueryRow(`
		SELECT id, run_id, user_id, summary, insights, recommendations, created_at
		FROM run_analyses WHERE run_id = ?
	`, runID).Scan(&a.ID, &a.RunID, &a.UserID, &a.Summary,
		&insightsJSON, &recsJSON, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	if err := json.Unmarshal([]byte(insightsJSON), &a.Insights); err != nil {
		return nil, fmt.Errorf("failed to decode insights: %w", err)
	}
	if err := json.Unmarshal([]byte(recsJSON), &a.Recommendations); err != nil {
		return nil, fmt.Errorf("failed to decode recommendations: %w", err)
	}

	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// InsertAnalysis stores a new analysis. The UNIQUE constraint on run_id
// arbitrates concurrent inserts: when another request already won the
// race, no row is written and ErrAnalysisExists is returned so the
// caller can re-read the winner.
func (db *DB) InsertAnalysis(a *Analysis) error {
	insightsJSON, err := json.Marshal(a.Insights)
	if err != nil {
		return fmt.Errorf("failed to encode insights: %w", err)
	}
	recsJSON, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to encode recommendations: %w", err)
	}

	now := time.Now().Unix()

	result, err := db.conn.Exec(`
		INSERT INTO run_analyses (run_id, user_id, summary, insights, recommendations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, a.RunID, a.UserID, a.Summary, string(insightsJSON), string(recsJSON), now)

	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAnalysisExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get analysis id: %w", err)
	}
	a.ID = id
	a.CreatedAt = time.Unix(now, 0)

	return nil
}
