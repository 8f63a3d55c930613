package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"stridecoach/internal/config"
	"stridecoach/internal/syncer"
)

// WebhookHandler handles Strava webhook callbacks
type WebhookHandler struct {
	engine *syncer.Engine
	config *config.Config
	logger *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(engine *syncer.Engine, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		engine: engine,
		config: cfg,
		logger: slog.Default(),
	}
}

// HandleVerification handles GET requests for subscription verification
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	hubMode := r.URL.Query().Get("hub.mode")
	hubChallenge := r.URL.Query().Get("hub.challenge")
	hubVerifyToken := r.URL.Query().Get("hub.verify_token")

	h.logger.Info("Webhook verification request", "hub.mode", hubMode)

	if hubMode != "subscribe" || hubVerifyToken != h.config.StravaVerifyToken {
		h.logger.Warn("Invalid verify token")
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": hubChallenge})

	h.logger.Info("Webhook verification successful")
}

// HandleEvent handles POST requests for webhook events. The event
// source receives its acknowledgment before reconciliation begins;
// reconciliation outcomes are observable only via logs and metrics.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var event syncer.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.logger.Error("Invalid JSON in webhook body", "error", err)
		writeError(w, http.StatusBadRequest, "Bad request")
		return
	}

	h.logger.Info("Received webhook event",
		"object_type", event.ObjectType,
		"object_id", event.ObjectID,
		"aspect_type", event.AspectType,
		"owner_id", event.OwnerID,
	)

	// Ack first: Strava expects a 200 within two seconds
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	h.engine.Dispatch(event)
}
