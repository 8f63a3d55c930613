// Package syncer reconciles Strava activity state into the local run
// store, both via user-triggered full resyncs and webhook events.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"stridecoach/internal/database"
	"stridecoach/internal/metrics"
	"stridecoach/internal/strava"
)

// ErrTokenExpired indicates the stored access token is past its expiry.
// There is no refresh path: the user must reconnect their account.
var ErrTokenExpired = errors.New("strava token expired")

// ProfileStore is the subset of the store the engine needs for
// token-lifecycle decisions
type ProfileStore interface {
	GetProfile(userID string) (*database.UserProfile, error)
	GetProfileByStravaID(stravaID string) (*database.UserProfile, error)
	SaveConnection(userID string, conn database.StravaConnection) error
}

// RunStore is the subset of the store the engine reconciles into
type RunStore interface {
	UpsertRuns(runs []*database.Run) error
	ListRunsWithAnalysis(userID string) ([]*database.RunWithAnalysis, error)
	GetRunByStravaID(stravaActivityID, userID string) (*database.Run, error)
	UpdateRun(runID int64, userID string, u database.RunUpdate) error
	DeleteRunByStravaID(stravaActivityID, userID string) error
}

// Provider performs the OAuth exchange and activity reads
type Provider interface {
	ExchangeCode(ctx context.Context, code string) (*strava.TokenResponse, error)
	ListActivities(ctx context.Context, accessToken string) ([]strava.Activity, error)
	GetActivity(ctx context.Context, accessToken string, activityID int64) (*strava.Activity, error)
}

// Event is an inbound provider webhook event
type Event struct {
	AspectType string `json:"aspect_type"`
	ObjectType string `json:"object_type"`
	ObjectID   int64  `json:"object_id"`
	OwnerID    int64  `json:"owner_id"`
}

// Engine orchestrates full resyncs and webhook reconciliation. It holds
// no state across calls; every operation re-reads what it needs.
type Engine struct {
	profiles ProfileStore
	runs     RunStore
	provider Provider
	logger   *slog.Logger
}

// NewEngine creates a sync engine
func NewEngine(profiles ProfileStore, runs RunStore, provider Provider) *Engine {
	return &Engine{
		profiles: profiles,
		runs:     runs,
		provider: provider,
		logger:   slog.Default(),
	}
}

// Connect exchanges an authorization code for tokens and saves the
// user's Strava connection
func (e *Engine) Connect(ctx context.Context, userID, code string) (*strava.TokenResponse, error) {
	tokens, err := e.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	err = e.profiles.SaveConnection(userID, database.StravaConnection{
		StravaID:     strconv.FormatInt(tokens.Athlete.ID, 10),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Connected Strava account", "user_id", userID, "athlete_id", tokens.Athlete.ID)
	return tokens, nil
}

// FullResync re-fetches the user's recent activities, upserts the runs
// among them, and returns the complete stored run list annotated with
// analysis flags, newest first. The re-read after the write is
// deliberate: the response reflects stored state, not just this batch.
func (e *Engine) FullResync(ctx context.Context, userID string) ([]*database.RunWithAnalysis, error) {
	profile, err := e.profiles.GetProfile(userID)
	if err != nil {
		metrics.FullResyncsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	// Expiry is checked before any provider call is attempted
	if profile.TokenExpired(time.Now()) {
		metrics.FullResyncsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, ErrTokenExpired
	}

	activities, err := e.provider.ListActivities(ctx, profile.AccessToken)
	if err != nil {
		metrics.FullResyncsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	// Non-running activity types are silently dropped
	var runs []*database.Run
	for i := range activities {
		if activities[i].Type != strava.ActivityTypeRun {
			continue
		}
		runs = append(runs, strava.ToRun(&activities[i], userID))
	}

	if err := e.runs.UpsertRuns(runs); err != nil {
		metrics.FullResyncsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	metrics.SyncRunsUpsertedTotal.Add(float64(len(runs)))

	stored, err := e.runs.ListRunsWithAnalysis(userID)
	if err != nil {
		metrics.FullResyncsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	e.logger.Info("Full resync complete", "user_id", userID,
		"fetched", len(activities), "runs_upserted", len(runs), "stored", len(stored))

	metrics.FullResyncsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	return stored, nil
}

// Dispatch hands an acknowledged webhook event to reconciliation on a
// background goroutine. The event source has already received its 200:
// any failure here is logged and counted, never propagated.
func (e *Engine) Dispatch(ev Event) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Webhook reconciliation panicked",
					"aspect_type", ev.AspectType, "object_id", ev.ObjectID, "panic", r)
				metrics.WebhookEventsTotal.WithLabelValues(ev.AspectType, metrics.ResultFailure).Inc()
			}
		}()

		if err := e.HandleEvent(context.Background(), ev); err != nil {
			e.logger.Error("Webhook reconciliation failed",
				"aspect_type", ev.AspectType, "object_id", ev.ObjectID,
				"owner_id", ev.OwnerID, "error", err)
			metrics.WebhookEventsTotal.WithLabelValues(ev.AspectType, metrics.ResultFailure).Inc()
			return
		}
		metrics.WebhookEventsTotal.WithLabelValues(ev.AspectType, metrics.ResultSuccess).Inc()
	}()
}

// HandleEvent reconciles one provider event against the run store.
// Expected misses (unknown athlete, non-activity object, non-running
// activity) are no-ops, not errors.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) error {
	if ev.ObjectType != "activity" {
		e.logger.Info("Ignoring non-activity event", "object_type", ev.ObjectType)
		return nil
	}

	profile, err := e.profiles.GetProfileByStravaID(strconv.FormatInt(ev.OwnerID, 10))
	if err != nil {
		return err
	}
	if profile == nil {
		// The athlete is not a registered user of this system
		e.logger.Info("No user for athlete, skipping event", "owner_id", ev.OwnerID)
		return nil
	}

	switch ev.AspectType {
	case "create":
		return e.handleCreate(ctx, profile, ev.ObjectID)
	case "update":
		return e.handleUpdate(ctx, profile, ev.ObjectID)
	case "delete":
		return e.handleDelete(profile, ev.ObjectID)
	default:
		e.logger.Warn("Unknown aspect_type, skipping", "aspect_type", ev.AspectType)
		return nil
	}
}

func (e *Engine) handleCreate(ctx context.Context, profile *database.UserProfile, activityID int64) error {
	// An expired token aborts silently; a later manual resync is the
	// recovery path.
	if profile.TokenExpired(time.Now()) {
		e.logger.Warn("Token expired, skipping create event",
			"user_id", profile.UserID, "activity_id", activityID)
		return nil
	}

	activity, err := e.provider.GetActivity(ctx, profile.AccessToken, activityID)
	if err != nil {
		return fmt.Errorf("failed to fetch activity %d: %w", activityID, err)
	}

	if activity.Type != strava.ActivityTypeRun {
		e.logger.Info("Activity is not a run, skipping",
			"activity_id", activityID, "type", activity.Type)
		return nil
	}

	// Single-element batch through the same path as a full resync, so
	// there is exactly one reconciliation logic.
	run := strava.ToRun(activity, profile.UserID)
	if err := e.runs.UpsertRuns([]*database.Run{run}); err != nil {
		return err
	}

	metrics.SyncRunsUpsertedTotal.Inc()
	e.logger.Info("Stored run from webhook", "user_id", profile.UserID, "activity_id", activityID)
	return nil
}

func (e *Engine) handleUpdate(ctx context.Context, profile *database.UserProfile, activityID int64) error {
	stravaActivityID := strconv.FormatInt(activityID, 10)

	run, err := e.runs.GetRunByStravaID(stravaActivityID, profile.UserID)
	if err != nil {
		return err
	}
	if run == nil {
		// First we've heard of this activity: the update is a create
		e.logger.Info("Run not found for update, treating as create", "activity_id", activityID)
		return e.handleCreate(ctx, profile, activityID)
	}

	if profile.TokenExpired(time.Now()) {
		e.logger.Warn("Token expired, skipping update event",
			"user_id", profile.UserID, "activity_id", activityID)
		return nil
	}

	activity, err := e.provider.GetActivity(ctx, profile.AccessToken, activityID)
	if err != nil {
		return fmt.Errorf("failed to fetch activity %d: %w", activityID, err)
	}

	// Identity fields are excluded from the write by construction
	if err := e.runs.UpdateRun(run.ID, profile.UserID, strava.ToRunUpdate(activity)); err != nil {
		return err
	}

	e.logger.Info("Updated run from webhook", "user_id", profile.UserID, "activity_id", activityID)
	return nil
}

func (e *Engine) handleDelete(profile *database.UserProfile, activityID int64) error {
	stravaActivityID := strconv.FormatInt(activityID, 10)

	// Idempotent: deleting an absent run is a no-op
	if err := e.runs.DeleteRunByStravaID(stravaActivityID, profile.UserID); err != nil {
		return err
	}

	e.logger.Info("Deleted run from webhook", "user_id", profile.UserID, "activity_id", activityID)
	return nil
}
