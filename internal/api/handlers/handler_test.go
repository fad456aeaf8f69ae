//nolint:noctx // Test file uses http.NewRequest for simplicity
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devhub-community/reputation-engine/internal/events"
	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/presence"
	"github.com/devhub-community/reputation-engine/internal/reputation"
	"github.com/devhub-community/reputation-engine/internal/service/award"
	"github.com/devhub-community/reputation-engine/internal/service/leaderboard"
	"github.com/devhub-community/reputation-engine/internal/service/milestones"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// Mock Award Service
type mockAwardService struct {
	actions  *reputation.Actions
	requests []award.Request
	result   *award.Result
	err      error
	users    map[string]bool
}

func (m *mockAwardService) Award(_ context.Context, req award.Request) (*award.Result, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if _, err := m.actions.Validate(req.UserID, req.ActionType, req.Delta); err != nil {
		return nil, err
	}
	return m.result, nil
}

func (m *mockAwardService) Actions() *reputation.Actions { return m.actions }

func (m *mockAwardService) CreateAccount(_ context.Context, userID string) (*models.UserReputation, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	created := !m.users[userID]
	m.users[userID] = true
	return &models.UserReputation{UserID: userID, Rank: models.RankBeginner}, created, nil
}

func (m *mockAwardService) DeleteAccount(_ context.Context, userID string) error {
	if !m.users[userID] {
		return fmt.Errorf("%w: %s", reputation.ErrUserNotFound, userID)
	}
	delete(m.users, userID)
	return nil
}

// Mock Read Service
type mockReadService struct {
	entries     []leaderboard.Entry
	standings   map[string]*leaderboard.Standing
	activities  []models.Activity
	invalidated int
	lastLimit   int
	lastOffset  int
	lastBefore  int64
}

func (m *mockReadService) Leaderboard(_ context.Context, limit, offset int) ([]leaderboard.Entry, error) {
	m.lastLimit, m.lastOffset = limit, offset
	return m.entries, nil
}

func (m *mockReadService) Invalidate(context.Context) { m.invalidated++ }

func (m *mockReadService) Standing(_ context.Context, userID string) (*leaderboard.Standing, error) {
	st, ok := m.standings[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", reputation.ErrUserNotFound, userID)
	}
	return st, nil
}

func (m *mockReadService) Activities(_ context.Context, userID string, beforeID int64, limit int) ([]models.Activity, error) {
	if _, ok := m.standings[userID]; !ok {
		return nil, fmt.Errorf("%w: %s", reputation.ErrUserNotFound, userID)
	}
	m.lastBefore, m.lastLimit = beforeID, limit
	if len(m.activities) > limit {
		return m.activities[:limit], nil
	}
	return m.activities, nil
}

// Mock Milestone Service
type mockMilestoneService struct {
	catalog []milestones.CatalogEntry
	earned  map[string][]milestones.EarnedMilestone
}

func (m *mockMilestoneService) Catalog(context.Context) ([]milestones.CatalogEntry, error) {
	return m.catalog, nil
}

func (m *mockMilestoneService) UserMilestones(_ context.Context, userID string) ([]milestones.EarnedMilestone, error) {
	return m.earned[userID], nil
}

type testDeps struct {
	awards   *mockAwardService
	reads    *mockReadService
	ms       *mockMilestoneService
	registry *presence.Registry
	router   *gin.Engine
}

func setupTestRouter(t *testing.T) *testDeps {
	t.Helper()
	gin.SetMode(gin.TestMode)

	actions, err := reputation.NewActions(nil, reputation.DefaultMaxDelta)
	require.NoError(t, err)

	d := &testDeps{
		awards:   &mockAwardService{actions: actions, users: map[string]bool{}},
		reads:    &mockReadService{standings: map[string]*leaderboard.Standing{}},
		ms:       &mockMilestoneService{earned: map[string][]milestones.EarnedMilestone{}},
		registry: presence.NewRegistry(4),
	}
	log := logger.New("debug", "text", "stdout")
	h := NewHandlerWithInterfaces(d.awards, d.reads, d.ms, d.registry, StreamConfig{Buffer: 8, Heartbeat: time.Hour}, log)
	d.router = NewRouter(h, RouterOptions{
		MetricsPath: "/metrics",
		Health: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
		},
	}, log)
	return d
}

func (d *testDeps) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, http.NoBody)
	}
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPostAward_DefaultDelta(t *testing.T) {
	d := setupTestRouter(t)
	d.awards.result = &award.Result{UserID: "alice", NewPoints: 15, NewRank: models.RankBeginner, Delta: 15}

	w := d.do("POST", "/api/v1/awards", `{"user_id":"alice","action_type":"answer_given"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, d.awards.requests, 1)
	assert.Equal(t, int64(15), d.awards.requests[0].Delta)
	assert.Equal(t, float64(15), decode(t, w)["new_points"])
}

func TestPostAward_ExplicitDeltaAndTime(t *testing.T) {
	d := setupTestRouter(t)
	d.awards.result = &award.Result{UserID: "alice"}

	w := d.do("POST", "/api/v1/awards", `{"user_id":"alice","action_type":"post_liked","delta":-1,"occurred_at":"2024-03-10T08:00:00Z"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, d.awards.requests, 1)
	assert.Equal(t, int64(-1), d.awards.requests[0].Delta)
	assert.Equal(t, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), d.awards.requests[0].OccurredAt.UTC())
}

func TestPostAward_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		retryable  bool
	}{
		{name: "malformed body", body: `{"user_id":`, wantStatus: http.StatusBadRequest},
		{name: "missing action", body: `{"user_id":"alice"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown action", body: `{"user_id":"alice","action_type":"nope"}`, wantStatus: http.StatusBadRequest},
		{name: "delta too large", body: `{"user_id":"alice","action_type":"post_liked","delta":99999}`, wantStatus: http.StatusBadRequest},
		{name: "user not found", body: `{"user_id":"ghost","action_type":"post_liked"}`, serviceErr: reputation.ErrUserNotFound, wantStatus: http.StatusNotFound},
		{name: "storage down", body: `{"user_id":"alice","action_type":"post_liked"}`, serviceErr: fmt.Errorf("%w: %w", reputation.ErrPersistence, errors.New("conn reset")), wantStatus: http.StatusServiceUnavailable, retryable: true},
		{name: "unexpected", body: `{"user_id":"alice","action_type":"post_liked"}`, serviceErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupTestRouter(t)
			d.awards.err = tt.serviceErr

			w := d.do("POST", "/api/v1/awards", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			resp := decode(t, w)
			assert.NotEmpty(t, resp["error"])
			if tt.retryable {
				assert.Equal(t, true, resp["retryable"])
			}
		})
	}
}

func TestCreateAndDeleteUser(t *testing.T) {
	d := setupTestRouter(t)

	assert.Equal(t, http.StatusCreated, d.do("POST", "/api/v1/users/alice", "").Code)
	assert.Equal(t, http.StatusOK, d.do("POST", "/api/v1/users/alice", "").Code)

	assert.Equal(t, http.StatusNoContent, d.do("DELETE", "/api/v1/users/alice", "").Code)
	assert.Equal(t, 1, d.reads.invalidated)
	assert.Equal(t, http.StatusNotFound, d.do("DELETE", "/api/v1/users/alice", "").Code)
}

func TestGetReputation(t *testing.T) {
	d := setupTestRouter(t)
	d.reads.standings["alice"] = &leaderboard.Standing{UserID: "alice", Points: 120, Rank: models.RankBeginner}

	w := d.do("GET", "/api/v1/users/alice/reputation", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(120), decode(t, w)["points"])

	assert.Equal(t, http.StatusNotFound, d.do("GET", "/api/v1/users/ghost/reputation", "").Code)
}

func TestGetActivities(t *testing.T) {
	d := setupTestRouter(t)
	d.reads.standings["alice"] = &leaderboard.Standing{UserID: "alice"}
	d.reads.activities = []models.Activity{{ID: 30}, {ID: 20}}

	w := d.do("GET", "/api/v1/users/alice/activities?limit=2&before=40", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(40), d.reads.lastBefore)

	resp := decode(t, w)
	assert.Len(t, resp["activities"], 2)
	assert.Equal(t, "20", resp["next_before"])
	// IDs are serialized as strings to survive JavaScript clients.
	first := resp["activities"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "30", first["id"])

	assert.Equal(t, http.StatusBadRequest, d.do("GET", "/api/v1/users/alice/activities?before=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, d.do("GET", "/api/v1/users/alice/activities?limit=0", "").Code)
}

func TestGetLeaderboard(t *testing.T) {
	d := setupTestRouter(t)
	d.reads.entries = []leaderboard.Entry{{Position: 1, UserID: "bob", Points: 700}}

	w := d.do("GET", "/api/v1/leaderboard?limit=5&offset=10", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, d.reads.lastLimit)
	assert.Equal(t, 10, d.reads.lastOffset)
	assert.Equal(t, float64(1), decode(t, w)["total_entries"])

	assert.Equal(t, http.StatusBadRequest, d.do("GET", "/api/v1/leaderboard?limit=1001", "").Code)
	assert.Equal(t, http.StatusBadRequest, d.do("GET", "/api/v1/leaderboard?offset=-1", "").Code)
}

func TestMilestoneRoutes(t *testing.T) {
	d := setupTestRouter(t)
	d.ms.catalog = []milestones.CatalogEntry{{MilestoneRule: models.MilestoneRule{ID: "curious_mind"}, Holders: 3}}
	d.ms.earned["alice"] = []milestones.EarnedMilestone{{MilestoneRule: models.MilestoneRule{ID: "curious_mind"}}}

	w := d.do("GET", "/api/v1/milestones", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = d.do("GET", "/api/v1/users/alice/milestones", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])
}

func TestHealthAndMetrics(t *testing.T) {
	d := setupTestRouter(t)

	w := d.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = d.do("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHealthUnhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandlerWithInterfaces(nil, nil, nil, presence.NewRegistry(1), StreamConfig{}, logger.Nop())
	router := NewRouter(h, RouterOptions{Health: map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	}}, logger.Nop())

	req, _ := http.NewRequest("GET", "/health", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStream_RequiresUser(t *testing.T) {
	d := setupTestRouter(t)
	assert.Equal(t, http.StatusUnauthorized, d.do("GET", "/api/v1/stream", "").Code)
}

// readEvent returns the next SSE event name and data.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "" && name != "":
			return name, data
		}
	}
}

func openStream(t *testing.T, ctx context.Context, url, userID string) (*http.Response, *bufio.Reader) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/v1/stream", http.NoBody)
	require.NoError(t, err)
	req.Header.Set(UserIDHeader, userID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", mediaType)

	r := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, r)
	require.Equal(t, "connected", name)
	return resp, r
}

func TestStream_DeliversEvents(t *testing.T) {
	d := setupTestRouter(t)
	srv := httptest.NewServer(d.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp, r := openStream(t, ctx, srv.URL, "alice")
	defer resp.Body.Close()

	ch := d.registry.Lookup("alice")
	require.NotNil(t, ch)
	require.NoError(t, ch.Push(context.Background(), events.ScoreChanged{UserID: "alice", NewTotal: 42, NewRank: models.RankBeginner}))

	name, data := readEvent(t, r)
	assert.Equal(t, events.NameScoreChanged, name)

	var payload events.ScoreChanged
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.Equal(t, int64(42), payload.NewTotal)

	cancel()
	assert.Eventually(t, func() bool { return d.registry.Lookup("alice") == nil }, time.Second, 10*time.Millisecond)
}

func TestStream_NewConnectionReplacesOld(t *testing.T) {
	d := setupTestRouter(t)
	srv := httptest.NewServer(d.router)
	defer srv.Close()

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	resp1, _ := openStream(t, ctx1, srv.URL, "bob")
	defer resp1.Body.Close()
	first := d.registry.Lookup("bob")

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	resp2, _ := openStream(t, ctx2, srv.URL, "bob")
	defer resp2.Body.Close()

	second := d.registry.Lookup("bob")
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Eventually(t, first.Closed, time.Second, 10*time.Millisecond)

	// The replaced stream's cleanup must not remove the new registration.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, second, d.registry.Lookup("bob"))
}
