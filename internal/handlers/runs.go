package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stridecoach/internal/analysis"
	"stridecoach/internal/middleware"
)

// RunsHandler handles the run analysis endpoint
type RunsHandler struct {
	gate   *analysis.Gate
	logger *slog.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(gate *analysis.Gate) *RunsHandler {
	return &RunsHandler{
		gate:   gate,
		logger: slog.Default(),
	}
}

// HandleAnalyze returns coaching feedback for one run, generating it on
// first request and serving the stored copy afterwards
func (h *RunsHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())

	runID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	h.logger.Info("Analyzing run", "user_id", userID, "run_id", runID)

	result, err := h.gate.Analyze(r.Context(), userID, runID)
	if err != nil {
		h.logger.Error("Failed to analyze run", "user_id", userID, "run_id", runID, "error", err)
		writeDomainError(w, err, "Failed to analyze run")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":              result.Analysis.ID,
		"summary":         result.Analysis.Summary,
		"insights":        result.Analysis.Insights,
		"recommendations": result.Analysis.Recommendations,
		"fromCache":       result.FromCache,
	})
}
