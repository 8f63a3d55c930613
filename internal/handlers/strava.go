package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"stridecoach/internal/middleware"
	"stridecoach/internal/syncer"
)

// StravaHandler handles account connection and activity sync endpoints
type StravaHandler struct {
	engine *syncer.Engine
	logger *slog.Logger
}

// NewStravaHandler creates a new Strava handler
func NewStravaHandler(engine *syncer.Engine) *StravaHandler {
	return &StravaHandler{
		engine: engine,
		logger: slog.Default(),
	}
}

// HandleConnect links the authenticated user to a Strava account by
// exchanging the posted authorization code
func (h *StravaHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Authorization code is required")
		return
	}

	h.logger.Info("Connecting Strava account", "user_id", userID)

	tokens, err := h.engine.Connect(r.Context(), userID, req.Code)
	if err != nil {
		h.logger.Error("Failed to connect Strava account", "user_id", userID, "error", err)
		writeDomainError(w, err, "Failed to connect Strava account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"athlete": map[string]interface{}{
			"id":        tokens.Athlete.ID,
			"username":  tokens.Athlete.Username,
			"firstname": tokens.Athlete.Firstname,
			"lastname":  tokens.Athlete.Lastname,
			"profile":   tokens.Athlete.ProfileMedium,
		},
	})
}

// HandleActivities runs a full resync and returns the user's stored
// runs, newest first, with analysis flags
func (h *StravaHandler) HandleActivities(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	h.logger.Info("Syncing activities", "user_id", userID)

	runs, err := h.engine.FullResync(r.Context(), userID)
	if err != nil {
		h.logger.Error("Full resync failed", "user_id", userID, "error", err)
		writeDomainError(w, err, "Failed to fetch activities from Strava")
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toRunView(run))
	}

	writeJSON(w, http.StatusOK, views)
}
