package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Results
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"

	// HTTP endpoints
	EndpointConnect    = "strava_connect"
	EndpointActivities = "strava_activities"
	EndpointAnalyze    = "runs_analyze"
	EndpointChat       = "chat"
	EndpointWebhook    = "webhook_callback"
	EndpointHealth     = "health"

	// Webhook aspect types
	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"

	// AI operations
	AIOpAnalyze = "analyze_run"
	AIOpChat    = "chat"

	// Analysis sources
	AnalysisSourceCache     = "cache"
	AnalysisSourceGenerated = "generated"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Sync Metrics
var (
	SyncRunsUpsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_runs_upserted_total",
			Help: "Total number of runs written by full resyncs and webhook events",
		},
	)

	FullResyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "full_resyncs_total",
			Help: "Total number of full resync attempts",
		},
		[]string{"result"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events processed by aspect and result",
		},
		[]string{"aspect_type", "result"},
	)
)

// AI Metrics
var (
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of model completion requests",
		},
		[]string{"operation", "result"},
	)

	AnalysisRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_requests_total",
			Help: "Total number of analysis requests by source",
		},
		[]string{"source"},
	)
)
