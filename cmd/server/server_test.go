package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/idea-forge/internal/app"
	"github.com/ZanzyTHEbar/idea-forge/internal/config"
	"github.com/ZanzyTHEbar/idea-forge/internal/security"
)

const testAdminToken = "admin-secret"

type testServer struct {
	t      *testing.T
	app    *app.App
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.DataDir = t.TempDir()
	cfg.AI.APIKey = ""
	cfg.Redis.Addr = ""
	cfg.Server.AdminToken = testAdminToken
	cfg.RateLimit.IPLimitPerMin = 1000
	cfg.Auth.JWTSecret = "test-secret"

	a, err := app.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, a.Start(ctx))

	return &testServer{t: t, app: a, router: newServer(a).router()}
}

func (ts *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) admin(method, path string, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(ts.t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.AdminTokenHeader, testAdminToken)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// session starts a new account and returns its token and id
func (ts *testServer) session(name string) (string, string) {
	ts.t.Helper()
	w := ts.do(http.MethodPost, "/api/session", "", map[string]string{"display_name": name})
	require.Equal(ts.t, http.StatusOK, w.Code, w.Body.String())

	var session struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(ts.t, w, &session)
	require.NotEmpty(ts.t, session.Token)
	return session.Token, session.User.ID
}

func (ts *testServer) influence(userID string) float64 {
	ts.t.Helper()
	w := ts.do(http.MethodGet, "/api/users/"+userID+"/influence", "", nil)
	require.Equal(ts.t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(ts.t, w, &body)
	return body["points"].(float64)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type ideaBody struct {
	ID              string   `json:"id"`
	AuthorID        string   `json:"author_id"`
	Score           *float64 `json:"score"`
	Status          string   `json:"status"`
	Tags            []string `json:"tags"`
	RemixChainDepth int      `json:"remix_chain_depth"`
	RemixCount      int      `json:"remix_count"`
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET /health", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST /health", method: http.MethodPost, expectedStatus: http.StatusNotFound},
		{name: "DELETE /health", method: http.MethodDelete, expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(tt.method, "/health", "", nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	w := ts.do(http.MethodGet, "/health", "", nil)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["redis"])
	assert.Equal(t, false, body["ai"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestHealthServicesAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health/services", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var services map[string]interface{}
	decode(t, w, &services)
	for _, key := range []string{"services", "circuit_breakers", "database", "redis", "embedding_cache", "leaderboard", "feed"} {
		assert.Contains(t, services, key)
	}

	w = ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var metrics map[string]interface{}
	decode(t, w, &metrics)
	assert.Contains(t, metrics, "ratelimit")
	assert.Contains(t, metrics, "feed")
}

func TestSubmitIdea(t *testing.T) {
	ts := newTestServer(t)
	token, userID := ts.session("ada")

	w := ts.do(http.MethodPost, "/api/ideas", token, map[string]interface{}{
		"text": "A <b>shared</b> tool library for apartment buildings",
		"tags": []string{"#Community", "sharing"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var submission struct {
		Idea     ideaBody `json:"idea"`
		Fallback bool     `json:"fallback"`
		Streak   struct {
			Streak struct {
				CurrentStreak int `json:"current_streak"`
			} `json:"streak"`
		} `json:"streak"`
	}
	decode(t, w, &submission)

	assert.True(t, submission.Fallback, "no AI key configured")
	assert.Equal(t, "analysis_failed", submission.Idea.Status)
	require.NotNil(t, submission.Idea.Score)
	assert.GreaterOrEqual(t, *submission.Idea.Score, 4.0)
	assert.LessOrEqual(t, *submission.Idea.Score, 9.0)
	assert.Equal(t, []string{"community", "sharing"}, submission.Idea.Tags)
	assert.Equal(t, 1, submission.Streak.Streak.CurrentStreak)

	w = ts.do(http.MethodGet, "/api/ideas/"+submission.Idea.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stored struct {
		Text string `json:"text"`
	}
	decode(t, w, &stored)
	assert.Equal(t, "A shared tool library for apartment buildings", stored.Text, "markup is stripped")

	assert.Equal(t, float64(15), ts.influence(userID), "first streak day")

	w = ts.do(http.MethodGet, "/api/users/"+userID+"/streak", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var streak map[string]interface{}
	decode(t, w, &streak)
	assert.Equal(t, false, streak["participated_today"])
}

func TestSubmitIdea_Rejections(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.session("bob")

	tests := []struct {
		name           string
		token          string
		body           interface{}
		expectedStatus int
	}{
		{name: "no session", body: map[string]string{"text": "idea"}, expectedStatus: http.StatusUnauthorized},
		{name: "bad token", token: "not-a-jwt", body: map[string]string{"text": "idea"}, expectedStatus: http.StatusUnauthorized},
		{name: "missing text", token: token, body: map[string]string{}, expectedStatus: http.StatusBadRequest},
		{name: "script", token: token, body: map[string]string{"text": "javascript:alert(1)"}, expectedStatus: http.StatusBadRequest},
		{name: "too long", token: token, body: map[string]string{"text": strings.Repeat("a", 5001)}, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/api/ideas", tt.token, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}

	w := ts.do(http.MethodGet, "/api/ideas/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionResume(t *testing.T) {
	ts := newTestServer(t)
	token, userID := ts.session("cleo")

	w := ts.do(http.MethodPost, "/api/session", token, map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)
	var session struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(t, w, &session)
	assert.Equal(t, userID, session.User.ID)

	w = ts.do(http.MethodPost, "/api/session", "", map[string]string{"user_id": userID})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &session)
	assert.NotEqual(t, userID, session.User.ID, "a user id alone does not resume an account")
}

func TestRemixFlow(t *testing.T) {
	ts := newTestServer(t)
	authorToken, authorID := ts.session("author")
	remixerToken, remixerID := ts.session("remixer")

	w := ts.do(http.MethodPost, "/api/ideas", authorToken, map[string]string{"text": "Solar powered phone kiosks for markets"})
	require.Equal(t, http.StatusCreated, w.Code)
	var submission struct {
		Idea ideaBody `json:"idea"`
	}
	decode(t, w, &submission)
	parent := submission.Idea

	w = ts.do(http.MethodPost, "/api/ideas/"+parent.ID+"/remix", remixerToken, map[string]string{"text": "Solar kiosks that also rent power banks"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var result struct {
		Idea     ideaBody `json:"idea"`
		Warnings []string `json:"warnings"`
	}
	decode(t, w, &result)

	assert.Empty(t, result.Warnings)
	assert.Equal(t, 1, result.Idea.RemixChainDepth)
	assert.Contains(t, result.Idea.Tags, "remix")
	require.NotNil(t, result.Idea.Score)
	assert.Greater(t, *result.Idea.Score, *parent.Score)
	assert.LessOrEqual(t, *result.Idea.Score, 10.0)

	assert.Equal(t, float64(8), ts.influence(remixerID))
	assert.Equal(t, float64(15+5), ts.influence(authorID))

	w = ts.do(http.MethodGet, "/api/ideas/"+result.Idea.ID+"/lineage", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lineage struct {
		Depth     int        `json:"depth"`
		Ancestors []ideaBody `json:"ancestors"`
	}
	decode(t, w, &lineage)
	require.Equal(t, 1, lineage.Depth)
	assert.Equal(t, parent.ID, lineage.Ancestors[0].ID)
	assert.Equal(t, 1, lineage.Ancestors[0].RemixCount)

	w = ts.do(http.MethodGet, "/api/ideas/"+parent.ID+"/remixes", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), result.Idea.ID)

	w = ts.do(http.MethodPost, "/api/ideas/missing/remix", remixerToken, map[string]string{"text": "orphan"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVCInterest(t *testing.T) {
	ts := newTestServer(t)
	authorToken, authorID := ts.session("founder")
	investorToken, _ := ts.session("investor")

	w := ts.do(http.MethodPost, "/api/ideas", authorToken, map[string]string{"text": "Refill stations for cleaning products"})
	require.Equal(t, http.StatusCreated, w.Code)
	var submission struct {
		Idea ideaBody `json:"idea"`
	}
	decode(t, w, &submission)

	w = ts.do(http.MethodPost, "/api/ideas/"+submission.Idea.ID+"/vc-interest", investorToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(15+20), ts.influence(authorID))

	w = ts.do(http.MethodPost, "/api/ideas/"+submission.Idea.ID+"/vc-interest", authorToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "authors cannot back their own idea")
}

func TestModulesAndCombinations(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.session("maker")

	create := func(moduleType, content string) string {
		w := ts.do(http.MethodPost, "/api/modules", token, map[string]string{"module_type": moduleType, "content": content})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var module struct {
			ID      string `json:"id"`
			Version int    `json:"version"`
		}
		decode(t, w, &module)
		return module.ID
	}
	problem := create("problem", "Small farms lose produce before it reaches buyers")
	solution := create("solution", "Shared cold storage booked by the hour")

	w := ts.do(http.MethodPut, "/api/modules/"+solution, token, map[string]string{"module_type": "solution", "content": "Solar cold rooms booked by the hour"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated struct {
		Version int `json:"version"`
	}
	decode(t, w, &updated)
	assert.Equal(t, 2, updated.Version)

	w = ts.do(http.MethodPost, "/api/modules/"+problem+"/questions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var questions struct {
		Questions []string `json:"questions"`
		Fallback  bool     `json:"fallback"`
	}
	decode(t, w, &questions)
	assert.True(t, questions.Fallback)
	assert.NotEmpty(t, questions.Questions)

	pair := map[string][]string{"module_ids": {solution, problem}}
	type comboBody struct {
		ID      string  `json:"id"`
		Novelty float64 `json:"novelty_score"`
		Overall float64 `json:"overall_score"`
	}
	for i := 0; i < 2; i++ {
		w = ts.do(http.MethodPost, "/api/combinations/evaluate", token, pair)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var combo comboBody
		decode(t, w, &combo)
		assert.Empty(t, combo.ID)
		assert.Equal(t, 5.0, combo.Novelty, "evaluation alone records nothing")
		assert.Greater(t, combo.Overall, 0.0)
	}

	w = ts.do(http.MethodPost, "/api/combinations", token, pair)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var saved comboBody
	decode(t, w, &saved)
	assert.NotEmpty(t, saved.ID)

	w = ts.do(http.MethodPost, "/api/combinations/evaluate", token, pair)
	require.Equal(t, http.StatusOK, w.Code)
	var repeat comboBody
	decode(t, w, &repeat)
	assert.Equal(t, 1.0, repeat.Novelty, "a saved combination is no longer novel")

	w = ts.do(http.MethodPost, "/api/combinations/evaluate", token, map[string][]string{"module_ids": {problem, "missing"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(http.MethodPost, "/api/combinations", token, map[string][]string{"module_ids": {problem, "missing"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPost, "/api/modules", token, map[string]string{"module_type": "horoscope", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvitations(t *testing.T) {
	ts := newTestServer(t)
	inviterToken, inviterID := ts.session("inviter")
	inviteeToken, _ := ts.session("invitee")

	w := ts.do(http.MethodPost, "/api/invitations", inviterToken, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var invitation struct {
		Code string `json:"code"`
	}
	decode(t, w, &invitation)
	require.NotEmpty(t, invitation.Code)

	w = ts.do(http.MethodPost, "/api/invitations/"+invitation.Code+"/accept", inviterToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "own invitation")

	w = ts.do(http.MethodPost, "/api/invitations/"+invitation.Code+"/accept", inviteeToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(50), ts.influence(inviterID))

	w = ts.do(http.MethodPost, "/api/invitations/"+invitation.Code+"/accept", inviteeToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "already used")

	w = ts.do(http.MethodGet, "/api/invitations/"+invitation.Code, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accepted"`)
}

func TestLeaderboard(t *testing.T) {
	ts := newTestServer(t)
	token, userID := ts.session("leader")

	w := ts.do(http.MethodPost, "/api/ideas", token, map[string]string{"text": "Neighbourhood seed swap app"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(http.MethodGet, "/api/leaderboard?window=weekly&limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var board struct {
		Window  string `json:"window"`
		Entries []struct {
			UserID string `json:"user_id"`
			Points int    `json:"points"`
		} `json:"entries"`
	}
	decode(t, w, &board)
	assert.Equal(t, "weekly", board.Window)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, userID, board.Entries[0].UserID)
	assert.Equal(t, 15, board.Entries[0].Points)

	w = ts.do(http.MethodGet, "/api/leaderboard?window=yearly", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/api/users/"+userID+"/influence/history", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "daily_streak")
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/admin/repair-scores", "", map[string]bool{"dry_run": true})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	today := time.Now().UTC().Format("2006-01-02")
	w = ts.admin(http.MethodPost, "/admin/challenges", map[string]string{"date": today, "keyword": "solar", "theme": "energy"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(http.MethodGet, "/api/challenges/today", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "solar")

	token, userID := ts.session("challenger")
	w = ts.do(http.MethodPost, "/api/ideas", token, map[string]string{"text": "Solar dryers for fruit"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"challenge_awarded":true`)
	assert.Equal(t, float64(15+10), ts.influence(userID))

	w = ts.admin(http.MethodPost, "/admin/challenges", map[string]string{"date": "tomorrow", "keyword": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.admin(http.MethodPost, "/admin/repair-scores", map[string]interface{}{"dry_run": true})
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Scanned int  `json:"scanned"`
		DryRun  bool `json:"dry_run"`
	}
	decode(t, w, &report)
	assert.True(t, report.DryRun)
	assert.Zero(t, report.Scanned, "submitted ideas always carry a score")

	w = ts.admin(http.MethodPost, "/admin/influence/recompute", map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"users":1}`, w.Body.String())

	w = ts.admin(http.MethodPost, "/admin/embeddings/backfill", map[string]int{"limit": 10})
	assert.Equal(t, http.StatusInternalServerError, w.Code, "no embedding service configured")

	w = ts.admin(http.MethodGet, "/admin/ratelimit", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFeedStreamsTableEvents(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.session("streamer")

	srv := httptest.NewServer(ts.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/feed?tables=ideas", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, ": connected"), line)

	w := ts.do(http.MethodPost, "/api/ideas", token, map[string]string{"text": "Bike repair vans for office parks"})
	require.Equal(t, http.StatusCreated, w.Code)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			assert.Equal(t, "event: ideas\n", line)
			break
		}
	}
}

func TestFeedRequiresSubscription(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/feed", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
