package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stridecoach/internal/analysis"
	"stridecoach/internal/coach"
	"stridecoach/internal/config"
	"stridecoach/internal/database"
	"stridecoach/internal/middleware"
	"stridecoach/internal/strava"
	"stridecoach/internal/syncer"
)

const (
	testJWTSecret = "test-secret"
	testUserID    = "a81bc81b-dead-4e5d-abff-90865d1e13b1"
)

// memStore is an in-memory stand-in for the persistent store, shared
// across the engine, gate, and chat handler in router tests. Guarded
// by a mutex because webhook reconciliation writes from a goroutine.
type memStore struct {
	mu            sync.Mutex
	profiles      map[string]*database.UserProfile
	runs          map[int64]*database.Run
	analyses      map[int64]*database.Analysis
	conversations map[string]*database.Conversation

	nextRunID  int64
	nextID     int64
	nextConvID int64
}

func newMemStore() *memStore {
	return &memStore{
		profiles:      make(map[string]*database.UserProfile),
		runs:          make(map[int64]*database.Run),
		analyses:      make(map[int64]*database.Analysis),
		conversations: make(map[string]*database.Conversation),
		nextRunID:     1,
		nextID:        1,
		nextConvID:    1,
	}
}

func (s *memStore) GetProfile(userID string) (*database.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, database.ErrProfileNotFound
	}
	return p, nil
}

func (s *memStore) GetProfileByStravaID(stravaID string) (*database.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.profiles {
		if p.StravaID == stravaID {
			return p, nil
		}
	}
	return nil, nil
}

func (s *memStore) SaveConnection(userID string, conn database.StravaConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[userID] = &database.UserProfile{
		UserID:         userID,
		StravaID:       conn.StravaID,
		AccessToken:    conn.AccessToken,
		RefreshToken:   conn.RefreshToken,
		TokenExpiresAt: time.Unix(conn.ExpiresAt, 0),
	}
	return nil
}

func (s *memStore) UpsertRuns(runs []*database.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range runs {
		replaced := false
		for _, existing := range s.runs {
			if existing.StravaActivityID == r.StravaActivityID {
				r.ID = existing.ID
				s.runs[r.ID] = r
				replaced = true
				break
			}
		}
		if !replaced {
			r.ID = s.nextRunID
			s.nextRunID++
			s.runs[r.ID] = r
		}
	}
	return nil
}

func (s *memStore) ListRunsWithAnalysis(userID string) ([]*database.RunWithAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*database.RunWithAnalysis
	for _, r := range s.runs {
		if r.UserID != userID {
			continue
		}
		_, analyzed := s.analyses[r.ID]
		out = append(out, &database.RunWithAnalysis{Run: *r, Analyzed: analyzed})
	}
	return out, nil
}

func (s *memStore) GetRun(runID int64, userID string) (*database.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok || r.UserID != userID {
		return nil, database.ErrRunNotFound
	}
	return r, nil
}

func (s *memStore) GetRunByStravaID(stravaActivityID, userID string) (*database.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		if r.StravaActivityID == stravaActivityID && r.UserID == userID {
			return r, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpdateRun(runID int64, userID string, u database.RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok || r.UserID != userID {
		return database.ErrRunNotFound
	}
	r.Name = u.Name
	r.Date = u.Date
	r.DistanceMeters = u.DistanceMeters
	r.DurationSeconds = u.DurationSeconds
	r.Pace = u.Pace
	r.AvgHeartRate = u.AvgHeartRate
	r.Cadence = u.Cadence
	r.ElevationGain = u.ElevationGain
	return nil
}

func (s *memStore) UpdateRunCadence(runID int64, userID string, cadence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok || r.UserID != userID {
		return database.ErrRunNotFound
	}
	r.Cadence = &cadence
	return nil
}

func (s *memStore) DeleteRunByStravaID(stravaActivityID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.runs {
		if r.StravaActivityID == stravaActivityID && r.UserID == userID {
			delete(s.runs, id)
			return nil
		}
	}
	return nil
}

func (s *memStore) GetAnalysis(runID int64) (*database.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.analyses[runID], nil
}

func (s *memStore) InsertAnalysis(a *database.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.analyses[a.RunID]; exists {
		return database.ErrAnalysisExists
	}
	a.ID = s.nextID
	s.nextID++
	s.analyses[a.RunID] = a
	return nil
}

func (s *memStore) GetConversation(userID string, runID int64) (*database.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conversations[fmt.Sprintf("%s/%d", userID, runID)], nil
}

func (s *memStore) CreateConversation(userID string, runID int64, messages []database.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[fmt.Sprintf("%s/%d", userID, runID)] = &database.Conversation{
		ID:       s.nextConvID,
		UserID:   userID,
		RunID:    runID,
		Messages: messages,
	}
	s.nextConvID++
	return nil
}

func (s *memStore) UpdateConversation(conversationID int64, messages []database.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if c.ID == conversationID {
			c.Messages = messages
			return nil
		}
	}
	return fmt.Errorf("conversation not found")
}

type stubProvider struct {
	tokens       *strava.TokenResponse
	activities   []strava.Activity
	activityByID map[int64]*strava.Activity
}

func (p *stubProvider) ExchangeCode(ctx context.Context, code string) (*strava.TokenResponse, error) {
	if p.tokens == nil {
		return nil, &strava.HTTPError{StatusCode: 400, Body: "bad code"}
	}
	return p.tokens, nil
}

func (p *stubProvider) ListActivities(ctx context.Context, accessToken string) ([]strava.Activity, error) {
	return p.activities, nil
}

func (p *stubProvider) GetActivity(ctx context.Context, accessToken string, activityID int64) (*strava.Activity, error) {
	a, ok := p.activityByID[activityID]
	if !ok {
		return nil, &strava.HTTPError{StatusCode: 404, Body: "not found"}
	}
	return a, nil
}

type stubCoach struct {
	analysis *coach.RunAnalysis
	answer   string
	calls    int
}

func (c *stubCoach) AnalyzeRun(ctx context.Context, m coach.RunMetrics) (*coach.RunAnalysis, error) {
	c.calls++
	return c.analysis, nil
}

func (c *stubCoach) Chat(ctx context.Context, question string, m coach.RunMetrics) (string, error) {
	return c.answer, nil
}

type testEnv struct {
	store    *memStore
	provider *stubProvider
	coach    *stubCoach
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	provider := &stubProvider{activityByID: make(map[int64]*strava.Activity)}
	stubC := &stubCoach{
		analysis: &coach.RunAnalysis{
			Summary: "Solid effort.",
			Insights: []database.Insight{
				{Title: "Even pacing", Detail: "Consistent splits.", Type: "positive"},
			},
			Recommendations: []database.Recommendation{
				{Title: "Recovery", Detail: "Easy day tomorrow."},
			},
		},
		answer: "Keep your easy days easy.",
	}

	engine := syncer.NewEngine(store, store, provider)
	gate := analysis.NewGate(store, provider, stubC)

	rl := middleware.NewRateLimiter(600, 100)
	t.Cleanup(rl.Stop)

	cfg := &config.Config{StravaVerifyToken: "verify-me"}

	handler := NewRouter(&RouterDeps{
		JWTSecret:   testJWTSecret,
		RateLimiter: rl,
		Strava:      NewStravaHandler(engine),
		Runs:        NewRunsHandler(gate),
		Chat:        NewChatHandler(store, stubC),
		Webhook:     NewWebhookHandler(engine, cfg),
	})

	return &testEnv{store: store, provider: provider, coach: stubC, handler: handler}
}

func bearerToken(t *testing.T) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   testUserID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return "Bearer " + signed
}

func (env *testEnv) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", bearerToken(t))
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) seedConnectedUser(t *testing.T) {
	t.Helper()

	err := env.store.SaveConnection(testUserID, database.StravaConnection{
		StravaID:    "111",
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Failed to seed profile: %v", err)
	}
}

func (env *testEnv) seedRun(t *testing.T) *database.Run {
	t.Helper()

	run := &database.Run{
		UserID:           testUserID,
		StravaActivityID: "1001",
		Name:             "Morning Run",
		Date:             time.Now(),
		DistanceMeters:   5000,
		DurationSeconds:  1500,
		Pace:             5.0,
		AvgHeartRate:     150,
	}
	if err := env.store.UpsertRuns([]*database.Run{run}); err != nil {
		t.Fatalf("Failed to seed run: %v", err)
	}
	return run
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("Expected OK body, got %q", rec.Body.String())
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/strava/connect"},
		{http.MethodGet, "/api/strava/activities"},
		{http.MethodPost, "/api/runs/1/analyze"},
		{http.MethodPost, "/api/chat"},
	}

	for _, p := range paths {
		rec := env.do(t, p.method, p.path, "", false)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestConnectEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.provider.tokens = &strava.TokenResponse{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(6 * time.Hour).Unix(),
		Athlete:      strava.Athlete{ID: 12345, Username: "runner", Firstname: "Sam"},
	}

	rec := env.do(t, http.MethodPost, "/api/strava/connect", `{"code":"auth-code"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Athlete struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"athlete"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Success || resp.Athlete.ID != 12345 {
		t.Errorf("Unexpected response: %+v", resp)
	}

	profile, err := env.store.GetProfile(testUserID)
	if err != nil {
		t.Fatalf("Expected profile to be saved: %v", err)
	}
	if profile.StravaID != "12345" {
		t.Errorf("Expected strava id 12345, got %s", profile.StravaID)
	}
}

func TestConnectMissingCode(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/strava/connect", `{}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != "Authorization code is required" {
		t.Errorf("Unexpected error message: %q", resp["error"])
	}
}

func TestActivitiesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedConnectedUser(t)
	env.provider.activities = []strava.Activity{
		{ID: 1, Type: "Run", Name: "Morning Run", StartDate: time.Now().UTC(), Distance: 5000, MovingTime: 1500, AverageHeartrate: 150},
		{ID: 2, Type: "Ride", Name: "Commute", StartDate: time.Now().UTC(), Distance: 12000, MovingTime: 1800},
	}

	rec := env.do(t, http.MethodGet, "/api/strava/activities", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var views []runView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(views))
	}
	if views[0].Name != "Morning Run" {
		t.Errorf("Expected Morning Run, got %s", views[0].Name)
	}
	if views[0].Pace != 5.0 {
		t.Errorf("Expected pace 5.0, got %v", views[0].Pace)
	}
	if views[0].Analyzed {
		t.Error("Expected fresh run to be unanalyzed")
	}
	if views[0].Cadence != nil {
		t.Errorf("Expected null cadence, got %v", *views[0].Cadence)
	}
}

func TestActivitiesExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	env.store.SaveConnection(testUserID, database.StravaConnection{
		StravaID:    "111",
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(-time.Hour).Unix(),
	})

	rec := env.do(t, http.MethodGet, "/api/strava/activities", "", true)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != "Strava token expired" {
		t.Errorf("Unexpected error message: %q", resp["error"])
	}
}

func TestActivitiesNoProfile(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/strava/activities", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unconnected user, got %d", rec.Code)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedConnectedUser(t)
	run := env.seedRun(t)

	path := fmt.Sprintf("/api/runs/%d/analyze", run.ID)

	rec := env.do(t, http.MethodPost, path, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var first struct {
		Summary   string `json:"summary"`
		FromCache bool   `json:"fromCache"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if first.Summary != "Solid effort." {
		t.Errorf("Unexpected summary: %q", first.Summary)
	}
	if first.FromCache {
		t.Error("Expected first analysis to be fresh")
	}

	// The second request serves the stored analysis without a model call
	rec = env.do(t, http.MethodPost, path, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var second struct {
		FromCache bool `json:"fromCache"`
	}
	json.Unmarshal(rec.Body.Bytes(), &second)
	if !second.FromCache {
		t.Error("Expected second analysis to come from cache")
	}
	if env.coach.calls != 1 {
		t.Errorf("Expected exactly 1 model call across both requests, got %d", env.coach.calls)
	}
}

func TestAnalyzeUnknownRun(t *testing.T) {
	env := newTestEnv(t)
	env.seedConnectedUser(t)

	rec := env.do(t, http.MethodPost, "/api/runs/999/analyze", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestAnalyzeInvalidRunID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/runs/abc/analyze", "", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestChatEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedConnectedUser(t)
	run := env.seedRun(t)

	body := fmt.Sprintf(`{"run_id": %d, "question": "Was this too fast?"}`, run.ID)
	rec := env.do(t, http.MethodPost, "/api/chat", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["answer"] != "Keep your easy days easy." {
		t.Errorf("Unexpected answer: %q", resp["answer"])
	}

	conv, err := env.store.GetConversation(testUserID, run.ID)
	if err != nil {
		t.Fatalf("Failed to get conversation: %v", err)
	}
	if conv == nil || len(conv.Messages) != 2 {
		t.Fatalf("Expected conversation with 2 messages, got %+v", conv)
	}
	if conv.Messages[0].Role != "user" || conv.Messages[1].Role != "assistant" {
		t.Error("Expected user then assistant turns")
	}

	// A second question appends to the same conversation
	rec = env.do(t, http.MethodPost, "/api/chat", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	conv, _ = env.store.GetConversation(testUserID, run.ID)
	if len(conv.Messages) != 4 {
		t.Errorf("Expected 4 messages after second question, got %d", len(conv.Messages))
	}
}

func TestChatMissingFields(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{}`, `{"run_id": 1}`, `{"question": "hi"}`, `not json`} {
		rec := env.do(t, http.MethodPost, "/api/chat", body, true)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestChatUnknownRun(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/chat", `{"run_id": 42, "question": "hi"}`, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
