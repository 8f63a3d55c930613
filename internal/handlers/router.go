package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stridecoach/internal/metrics"
	"stridecoach/internal/middleware"
)

// RouterDeps holds everything the router needs
type RouterDeps struct {
	JWTSecret   string
	RateLimiter *middleware.RateLimiter

	Strava  *StravaHandler
	Runs    *RunsHandler
	Chat    *ChatHandler
	Webhook *WebhookHandler
}

// NewRouter wires all API endpoints. Webhook and health routes sit
// outside the auth chain; everything under /api requires a bearer
// token and is rate limited per user.
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Webhook endpoints (provider-facing, no user auth)
	r.With(middleware.Metrics(metrics.EndpointWebhook)).
		Get("/webhook/strava", deps.Webhook.HandleVerification)
	r.With(middleware.Metrics(metrics.EndpointWebhook)).
		Post("/webhook/strava", deps.Webhook.HandleEvent)

	// Health check endpoint
	r.With(middleware.Metrics(metrics.EndpointHealth)).
		Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

	// Authenticated API
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(deps.JWTSecret))
		r.Use(deps.RateLimiter.Middleware())

		r.With(middleware.Metrics(metrics.EndpointConnect)).
			Post("/api/strava/connect", deps.Strava.HandleConnect)
		r.With(middleware.Metrics(metrics.EndpointActivities)).
			Get("/api/strava/activities", deps.Strava.HandleActivities)
		r.With(middleware.Metrics(metrics.EndpointAnalyze)).
			Post("/api/runs/{id}/analyze", deps.Runs.HandleAnalyze)
		r.With(middleware.Metrics(metrics.EndpointChat)).
			Post("/api/chat", deps.Chat.HandleChat)
	})

	return r
}
