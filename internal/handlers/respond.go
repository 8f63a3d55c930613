package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"stridecoach/internal/coach"
	"stridecoach/internal/database"
	"stridecoach/internal/syncer"
)

// runView is the API shape of a stored run
type runView struct {
	ID               int64   `json:"id"`
	StravaActivityID string  `json:"strava_activity_id"`
	Name             string  `json:"name"`
	Date             string  `json:"date"`
	Distance         int64   `json:"distance"`
	Duration         int64   `json:"duration"`
	Pace             float64 `json:"pace"`
	AvgHR            int64   `json:"avgHR"`
	Cadence          *int64  `json:"cadence"`
	Elevation        int64   `json:"elevation"`
	Analyzed         bool    `json:"analyzed"`
}

func toRunView(r *database.RunWithAnalysis) runView {
	return runView{
		ID:               r.ID,
		StravaActivityID: r.StravaActivityID,
		Name:             r.Name,
		Date:             r.Date.UTC().Format(time.RFC3339),
		Distance:         r.DistanceMeters,
		Duration:         r.DurationSeconds,
		Pace:             r.Pace,
		AvgHR:            r.AvgHeartRate,
		Cadence:          r.Cadence,
		Elevation:        r.ElevationGain,
		Analyzed:         r.Analyzed,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps domain errors to status codes. NotFound is
// surfaced as such; TokenExpired is distinct so the caller knows
// reconnection, not retry, is needed; everything else is a generic
// failure with the detail kept to the logs.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, database.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "User profile not found")
	case errors.Is(err, database.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "Run not found")
	case errors.Is(err, syncer.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "Strava token expired")
	case errors.Is(err, coach.ErrMalformedResponse):
		writeError(w, http.StatusInternalServerError, fallback)
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
