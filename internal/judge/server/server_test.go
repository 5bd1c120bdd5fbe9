package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"rankoj/internal/common/cache"
	"rankoj/internal/judge/contest"
	"rankoj/internal/judge/dispatch"
	"rankoj/internal/judge/model"
	"rankoj/internal/judge/pool"
	"rankoj/internal/judge/problem"
	"rankoj/internal/judge/repository"
	"rankoj/internal/judge/runner"
	"rankoj/internal/judge/scoring"
)

const testAdminSecret = "test-admin-secret"

// echoRunner answers every test case with its expected output.
type echoRunner struct {
	expected map[string]string
}

func (r *echoRunner) Execute(ctx context.Context, req runner.ExecRequest) (model.ExecutionResult, error) {
	return model.ExecutionResult{Stdout: r.expected[req.TestCaseID], RuntimeMs: 2}, nil
}

func (r *echoRunner) Release(submissionID string) {}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	prob := model.Problem{
		ID:          "p1",
		Title:       "Echo",
		Difficulty:  model.DifficultyEasy,
		TimeLimitMs: 500,
		MemoryMB:    64,
		ScoringMode: model.ScoringAllOrNothing,
		TestCases: []model.TestCase{
			{ID: "tc1", Input: "a", Expected: "1"},
			{ID: "tc2", Input: "b", Expected: "2", Hidden: true},
		},
	}
	store := problem.NewMemoryStore()
	if err := store.Register(prob); err != nil {
		t.Fatal(err)
	}

	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithConfig(&cache.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	eng, err := scoring.NewEngine(scoring.DefaultConfig(), store, c)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 9, 6, 12, 30, 0, 0, time.UTC)
	contests, err := contest.NewManager(func() time.Time { return now }, eng)
	if err != nil {
		t.Fatal(err)
	}
	if err := contests.Register(model.Contest{
		ID:         "future",
		ProblemIDs: []string{"p1"},
		StartAt:    now.Add(time.Hour),
		EndAt:      now.Add(2 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	profiles, err := runner.NewProfileRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub()
	d, err := dispatch.NewDispatcher(dispatch.Config{}, dispatch.Options{
		Problems: store,
		Profiles: profiles,
		Runner:   &echoRunner{expected: map[string]string{"tc1": "1", "tc2": "2"}},
		Pool:     pool.Config{Workers: 2, QueueCapacity: 16},
		Status:   repository.NewStatusRepository(c, time.Hour),
		Scoring:  eng,
		Contests: contests,
		Notifier: hub,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	t.Cleanup(cancel)

	cfg := DefaultConfig()
	cfg.AdminSecret = testAdminSecret
	return NewRouter(cfg, NewJudgeController(d, contests, hub))
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	return w, env
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"admin": true,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testAdminSecret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func submitAndWait(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w, env := doJSON(t, router, http.MethodPost, "/api/v1/submissions", gin.H{
		"user_id":     "alice",
		"problem_id":  "p1",
		"language":    "python3",
		"source_code": "print(1)",
	}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		SubmissionID string `json:"submission_id"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatal(err)
	}
	if created.SubmissionID == "" || created.Status != "Queued" {
		t.Fatalf("create response = %+v", created)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, env := doJSON(t, router, http.MethodGet, "/api/v1/submissions/"+created.SubmissionID, nil, "")
		var sub model.Submission
		if err := json.Unmarshal(env.Data, &sub); err == nil {
			if sub.Status == model.StatusCompleted || sub.Status == model.StatusSystemError {
				return created.SubmissionID
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("submission never completed")
	return ""
}

func TestHealth(t *testing.T) {
	router := newTestServer(t)
	w, _ := doJSON(t, router, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-Trace-Id") == "" {
		t.Error("trace id header missing")
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	router := newTestServer(t)
	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/submissions", gin.H{
		"problem_id": "p1",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateRejectsEmptySource(t *testing.T) {
	router := newTestServer(t)
	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/submissions", gin.H{
		"user_id":     "alice",
		"problem_id":  "p1",
		"language":    "python3",
		"source_code": "",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateRejectsScheduledContest(t *testing.T) {
	router := newTestServer(t)
	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/submissions", gin.H{
		"user_id":     "alice",
		"problem_id":  "p1",
		"contest_id":  "future",
		"language":    "python3",
		"source_code": "print(1)",
	}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestGetStatusNotFound(t *testing.T) {
	router := newTestServer(t)
	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/submissions/nope", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHiddenResultsRedactedForNonAdmins(t *testing.T) {
	router := newTestServer(t)
	id := submitAndWait(t, router)

	_, env := doJSON(t, router, http.MethodGet, "/api/v1/submissions/"+id, nil, "")
	var sub model.Submission
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		t.Fatal(err)
	}
	if sub.FinalVerdict != model.VerdictAccepted {
		t.Fatalf("final verdict = %s, want Accepted", sub.FinalVerdict)
	}
	if len(sub.Results) != 1 || sub.Results[0].TestCaseID != "tc1" {
		t.Errorf("non-admin results = %+v, want hidden case omitted", sub.Results)
	}

	_, env = doJSON(t, router, http.MethodGet, "/api/v1/submissions/"+id, nil, adminToken(t))
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		t.Fatal(err)
	}
	if len(sub.Results) != 2 {
		t.Errorf("admin results = %d, want 2", len(sub.Results))
	}
}

func TestInvalidTokenIsNotAdmin(t *testing.T) {
	router := newTestServer(t)
	id := submitAndWait(t, router)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"admin": true,
	}).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatal(err)
	}
	w, env := doJSON(t, router, http.MethodGet, "/api/v1/submissions/"+id, nil, forged)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var sub model.Submission
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		t.Fatal(err)
	}
	if len(sub.Results) != 1 {
		t.Errorf("forged token results = %d, want redacted view", len(sub.Results))
	}
}

func TestLeaderboardPaths(t *testing.T) {
	router := newTestServer(t)

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/contests/nope/leaderboard", nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown contest status = %d, want 404", w.Code)
	}

	// Scheduled contests have no leaderboard yet.
	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/contests/future/leaderboard", nil, "")
	if w.Code == http.StatusOK {
		t.Errorf("scheduled contest leaderboard status = %d, want error", w.Code)
	}
}
