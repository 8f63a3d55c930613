package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Run represents one Strava running activity mapped locally
type Run struct {
	ID               int64
	UserID           string
	StravaActivityID string
	Name             string
	Date             time.Time
	DistanceMeters   int64
	DurationSeconds  int64
	Pace             float64
	AvgHeartRate     int64
	Cadence          *int64
	ElevationGain    int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RunWithAnalysis annotates a run with whether an analysis exists for it
type RunWithAnalysis struct {
	Run
	Analyzed bool
}

// RunUpdate is the set of fields a webhook update may overwrite.
// UserID and StravaActivityID are identity fields, never rewritten
// post-creation, so they are excluded by construction.
type RunUpdate struct {
	Name           string
	Date           time.Time
	DistanceMeters int64
	DurationSeconds int64
	Pace           float64
	AvgHeartRate   int64
	Cadence        *int64
	ElevationGain  int64
}

// UpsertRuns inserts or updates a batch of runs keyed by
// strava_activity_id. On conflict all mapped fields are replaced;
// user_id and strava_activity_id are never touched on update.
func (db *DB) UpsertRuns(runs []*Run) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO runs (
			user_id, strava_activity_id, name, date, distance, duration,
			pace, avg_heart_rate, cadence, elevation_gain, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strava_activity_id) DO UPDATE SET
			name = excluded.name,
			date = excluded.date,
			distance = excluded.distance,
			duration = excluded.duration,
			pace = excluded.pace,
			avg_heart_rate = excluded.avg_heart_rate,
			cadence = excluded.cadence,
			elevation_gain = excluded.elevation_gain,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, r := range runs {
		_, err := stmt.Exec(r.UserID, r.StravaActivityID, r.Name, r.Date.Unix(),
			r.DistanceMeters, r.DurationSeconds, r.Pace, r.AvgHeartRate,
			r.Cadence, r.ElevationGain, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert run %s: %w", r.StravaActivityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run upsert: %w", err)
	}
	return nil
}

// GetRun retrieves a run by local ID, scoped to the owning user
func (db *DB) GetRun(runID int64, userID string) (*Run, error) {
	return db.scanRun(db.conn.QueryRow(`
		SELECT id, user_id, strava_activity_id, name, date, distance, duration,
		       pace, avg_heart_rate, cadence, elevation_gain, created_at, updated_at
		FROM runs WHERE id = ? AND user_id = ?
	`, runID, userID))
}

// GetRunByStravaID retrieves a run by Strava activity ID for a user.
// Returns nil, nil when no run matches.
func (db *DB) GetRunByStravaID(stravaActivityID, userID string) (*Run, error) {
	run, err := db.scanRun(db.conn.QueryRow(`
		SELECT id, user_id, strava_activity_id, name, date, distance, duration,
		       pace, avg_heart_rate, cadence, elevation_gain, created_at, updated_at
		FROM runs WHERE strava_activity_id = ? AND user_id = ?
	`, stravaActivityID, userID))
	if err == ErrRunNotFound {
		return nil, nil
	}
	return run, err
}

// ListRunsWithAnalysis returns all of a user's runs, each annotated with
// whether an analysis exists, ordered by date descending (newest first)
func (db *DB) ListRunsWithAnalysis(userID string) ([]*RunWithAnalysis, error) {
	rows, err := db.conn.Query(`
		SELECT r.id, r.user_id, r.strava_activity_id, r.name, r.date,
		       r.distance, r.duration, r.pace, r.avg_heart_rate, r.cadence,
		       r.elevation_gain, r.created_at, r.updated_at,
		       a.id IS NOT NULL
		FROM runs r
		LEFT JOIN run_analyses a ON a.run_id = r.id
		WHERE r.user_id = ?
		ORDER BY r.date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunWithAnalysis
	for rows.Next() {
		var r RunWithAnalysis
		var date, createdAt, updatedAt int64
		err := rows.Scan(&r.ID, &r.UserID, &r.StravaActivityID, &r.Name, &date,
			&r.DistanceMeters, &r.DurationSeconds, &r.Pace, &r.AvgHeartRate,
			&r.Cadence, &r.ElevationGain, &createdAt, &updatedAt, &r.Analyzed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Date = time.Unix(date, 0)
		r.CreatedAt = time.Unix(createdAt, 0)
		r.UpdatedAt = time.Unix(updatedAt, 0)
		runs = append(runs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// UpdateRun applies a partial update to an existing run
func (db *DB) UpdateRun(runID int64, userID string, u RunUpdate) error {
	result, err := db.conn.Exec(`
		UPDATE runs
		SET name = ?, date = ?, distance = ?, duration = ?, pace = ?,
		    avg_heart_rate = ?, cadence = ?, elevation_gain = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, u.Name, u.Date.Unix(), u.DistanceMeters, u.DurationSeconds, u.Pace,
		u.AvgHeartRate, u.Cadence, u.ElevationGain, time.Now().Unix(),
		runID, userID)

	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRunNotFound
	}

	return nil
}

// UpdateRunCadence backfills the cadence of an existing run
func (db *DB) UpdateRunCadence(runID int64, userID string, cadence int64) error {
	result, err := db.conn.Exec(`
		UPDATE runs SET cadence = ?, updated_at = ? WHERE id = ? AND user_id = ?
	`, cadence, time.Now().Unix(), runID, userID)

	if err != nil {
		return fmt.Errorf("failed to update run cadence: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRunNotFound
	}

	return nil
}

// DeleteRunByStravaID removes the run matching (strava_activity_id,
// user_id). Deleting an absent run is a no-op, not an error.
func (db *DB) DeleteRunByStravaID(stravaActivityID, userID string) error {
	_, err := db.conn.Exec(`
		DELETE FROM runs WHERE strava_activity_id = ? AND user_id = ?
	`, stravaActivityID, userID)

	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

func (db *DB) scanRun(row *sql.Row) (*Run, error) {
	var r Run
	var date, createdAt, updatedAt int64

	err := row.Scan(&r.ID, &r.UserID, &r.StravaActivityID, &r.Name, &date,
		&r.DistanceMeters, &r.DurationSeconds, &r.Pace, &r.AvgHeartRate,
		&r.Cadence, &r.ElevationGain, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	r.Date = time.Unix(date, 0)
	r.CreatedAt = time.Unix(createdAt, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}
