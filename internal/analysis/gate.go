// Package analysis enforces the at-most-one coaching analysis per run
// invariant and arbitrates cache hits against fresh generation.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"stridecoach/internal/coach"
	"stridecoach/internal/database"
	"stridecoach/internal/metrics"
	"stridecoach/internal/strava"
)

// Store is the subset of the persistent store the gate needs
type Store interface {
	GetRun(runID int64, userID string) (*database.Run, error)
	UpdateRunCadence(runID int64, userID string, cadence int64) error
	GetAnalysis(runID int64) (*database.Analysis, error)
	InsertAnalysis(a *database.Analysis) error
	GetProfile(userID string) (*database.UserProfile, error)
}

// Provider fetches activity detail for best-effort cadence enrichment
type Provider interface {
	GetActivity(ctx context.Context, accessToken string, activityID int64) (*strava.Activity, error)
}

// Coach generates structured coaching feedback
type Coach interface {
	AnalyzeRun(ctx context.Context, m coach.RunMetrics) (*coach.RunAnalysis, error)
}

// Result is an analysis plus whether it was served from the store
type Result struct {
	Analysis  *database.Analysis
	FromCache bool
}

// Gate arbitrates analysis requests for runs
type Gate struct {
	store    Store
	provider Provider
	coach    Coach
	logger   *slog.Logger
}

// NewGate creates an analysis gate
func NewGate(store Store, provider Provider, coachClient Coach) *Gate {
	return &Gate{
		store:    store,
		provider: provider,
		coach:    coachClient,
		logger:   slog.Default(),
	}
}

// Analyze returns the coaching analysis for a run, generating one if
// none exists. The model is invoked at most once per run: an existing
// analysis is returned as a cache hit without touching the model, and
// a losing race against a concurrent insert re-reads the winner.
func (g *Gate) Analyze(ctx context.Context, userID string, runID int64) (*Result, error) {
	run, err := g.store.GetRun(runID, userID)
	if err != nil {
		return nil, err
	}

	existing, err := g.store.GetAnalysis(runID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		g.logger.Info("Returning cached analysis", "run_id", runID)
		metrics.AnalysisRequestsTotal.WithLabelValues(metrics.AnalysisSourceCache).Inc()
		return &Result{Analysis: existing, FromCache: true}, nil
	}

	// Best-effort cadence enrichment: a failure here is logged and
	// ignored, the analysis proceeds with whatever data is available.
	if run.Cadence == nil || *run.Cadence == 0 {
		g.enrichCadence(ctx, run)
	}

	generated, err := g.coach.AnalyzeRun(ctx, coach.MetricsForRun(run))
	if err != nil {
		return nil, err
	}

	a := &database.Analysis{
		RunID:           runID,
		UserID:          userID,
		Summary:         generated.Summary,
		Insights:        generated.Insights,
		Recommendations: generated.Recommendations,
	}

	if err := g.store.InsertAnalysis(a); err != nil {
		if errors.Is(err, database.ErrAnalysisExists) {
			// A concurrent request won the insert; return its result
			winner, readErr := g.store.GetAnalysis(runID)
			if readErr != nil {
				return nil, readErr
			}
			if winner != nil {
				g.logger.Info("Lost analysis insert race, returning winner", "run_id", runID)
				metrics.AnalysisRequestsTotal.WithLabelValues(metrics.AnalysisSourceCache).Inc()
				return &Result{Analysis: winner, FromCache: true}, nil
			}
		}
		return nil, err
	}

	g.logger.Info("Saved analysis", "run_id", runID, "analysis_id", a.ID)
	metrics.AnalysisRequestsTotal.WithLabelValues(metrics.AnalysisSourceGenerated).Inc()
	return &Result{Analysis: a, FromCache: false}, nil
}

// enrichCadence backfills a missing cadence from one provider detail
// call. Partial data is acceptable; a failed enrichment is not fatal.
func (g *Gate) enrichCadence(ctx context.Context, run *database.Run) {
	profile, err := g.store.GetProfile(run.UserID)
	if err != nil {
		g.logger.Warn("Failed to load profile for cadence enrichment", "run_id", run.ID, "error", err)
		return
	}
	if profile.TokenExpired(time.Now()) {
		g.logger.Warn("Token expired, skipping cadence enrichment", "run_id", run.ID)
		return
	}

	activityID, err := strconv.ParseInt(run.StravaActivityID, 10, 64)
	if err != nil {
		g.logger.Warn("Invalid strava activity id", "run_id", run.ID, "error", err)
		return
	}

	activity, err := g.provider.GetActivity(ctx, profile.AccessToken, activityID)
	if err != nil {
		g.logger.Warn("Failed to fetch cadence", "run_id", run.ID, "error", err)
		return
	}

	cadence := strava.DoubledCadence(activity.AverageCadence)
	if cadence == 0 {
		return
	}

	if err := g.store.UpdateRunCadence(run.ID, run.UserID, cadence); err != nil {
		g.logger.Warn("Failed to persist cadence", "run_id", run.ID, "error", err)
		return
	}

	run.Cadence = &cadence
	g.logger.Info("Backfilled cadence", "run_id", run.ID, "cadence", cadence)
}
