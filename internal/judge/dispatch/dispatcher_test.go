package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"rankoj/internal/common/cache"
	"rankoj/internal/judge/contest"
	"rankoj/internal/judge/model"
	"rankoj/internal/judge/pool"
	"rankoj/internal/judge/problem"
	"rankoj/internal/judge/repository"
	"rankoj/internal/judge/runner"
	"rankoj/internal/judge/scoring"
	appErr "rankoj/pkg/errors"
)

// memCache is an in-memory cache.Cache for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string]string
	zs   map[string]map[string]float64
}

func newMemCache() *memCache {
	return &memCache{
		data: make(map[string]string),
		zs:   make(map[string]map[string]float64),
	}
}

func (m *memCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	return nil
}

func (m *memCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = toString(value)
	return true, nil
}

func (m *memCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memCache) Exists(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
	}
	return n, nil
}

func (m *memCache) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }

func (m *memCache) ZAdd(ctx context.Context, key string, members ...cache.ZMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zs[key] == nil {
		m.zs[key] = make(map[string]float64)
	}
	for _, member := range members {
		m.zs[key][member.Member] = member.Score
	}
	return nil
}

func (m *memCache) ZRem(ctx context.Context, key string, members ...string) error { return nil }

func (m *memCache) ZScore(ctx context.Context, key, member string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zs[key][member], nil
}

func (m *memCache) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]cache.ZMember, error) {
	return nil, nil
}

func (m *memCache) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zs[key])), nil
}

func (m *memCache) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	return nil
}

func (m *memCache) Ping(ctx context.Context) error { return nil }
func (m *memCache) Close() error                   { return nil }

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// scriptedRunner returns canned outcomes per test case id.
type scriptedRunner struct {
	mu       sync.Mutex
	results  map[string]model.ExecutionResult
	errs     map[string]error
	failures map[string]int // remaining infra failures per test case
	delays   map[string]time.Duration
	released []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		results:  make(map[string]model.ExecutionResult),
		errs:     make(map[string]error),
		failures: make(map[string]int),
		delays:   make(map[string]time.Duration),
	}
}

func (r *scriptedRunner) Execute(ctx context.Context, req runner.ExecRequest) (model.ExecutionResult, error) {
	r.mu.Lock()
	res := r.results[req.TestCaseID]
	err := r.errs[req.TestCaseID]
	delay := r.delays[req.TestCaseID]
	if left := r.failures[req.TestCaseID]; left > 0 {
		r.failures[req.TestCaseID] = left - 1
		r.mu.Unlock()
		return model.ExecutionResult{}, appErr.New(appErr.SandboxFailed)
	}
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.ExecutionResult{}, ctx.Err()
		}
	}
	if err != nil {
		return model.ExecutionResult{}, err
	}
	return res, nil
}

func (r *scriptedRunner) Release(submissionID string) {
	r.mu.Lock()
	r.released = append(r.released, submissionID)
	r.mu.Unlock()
}

func (r *scriptedRunner) accept(tcIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range tcIDs {
		r.results[id] = model.ExecutionResult{Stdout: "ok", RuntimeMs: 3}
	}
}

func (r *scriptedRunner) reject(tcIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range tcIDs {
		r.results[id] = model.ExecutionResult{Stdout: "nope"}
	}
}

type fixture struct {
	dispatcher *Dispatcher
	runner     *scriptedRunner
	scoring    *scoring.Engine
	contests   *contest.Manager
	clock      time.Time
	cancel     context.CancelFunc
}

func testProblem(mode model.ScoringMode, cases int) model.Problem {
	p := model.Problem{
		ID:          "p1",
		Title:       "Echo",
		Difficulty:  model.DifficultyEasy,
		TimeLimitMs: 500,
		MemoryMB:    64,
		ScoringMode: mode,
	}
	ids := []string{"tc1", "tc2", "tc3", "tc4"}
	for i := 0; i < cases; i++ {
		p.TestCases = append(p.TestCases, model.TestCase{
			ID: ids[i], Input: "in", Expected: "ok", Hidden: i == cases-1,
		})
	}
	return p
}

func newFixture(t *testing.T, prob model.Problem, poolCfg pool.Config) *fixture {
	t.Helper()
	store := problem.NewMemoryStore()
	if err := store.Register(prob); err != nil {
		t.Fatal(err)
	}
	profiles, err := runner.NewProfileRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	mc := newMemCache()
	eng, err := scoring.NewEngine(scoring.DefaultConfig(), store, mc)
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2026, 9, 6, 12, 30, 0, 0, time.UTC)
	contests, err := contest.NewManager(func() time.Time { return clock }, eng)
	if err != nil {
		t.Fatal(err)
	}
	start := clock.Add(-30 * time.Minute)
	if err := contests.Register(model.Contest{
		ID:         "c1",
		ProblemIDs: []string{"p1"},
		StartAt:    start,
		EndAt:      start.Add(2 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	sr := newScriptedRunner()
	d, err := NewDispatcher(Config{}, Options{
		Problems: store,
		Profiles: profiles,
		Runner:   sr,
		Pool:     poolCfg,
		Status:   repository.NewStatusRepository(mc, time.Hour),
		Scoring:  eng,
		Contests: contests,
		Clock:    func() time.Time { return clock },
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	t.Cleanup(cancel)

	return &fixture{
		dispatcher: d,
		runner:     sr,
		scoring:    eng,
		contests:   contests,
		clock:      clock,
		cancel:     cancel,
	}
}

func submitInput() SubmitInput {
	return SubmitInput{
		UserID:     "alice",
		ProblemID:  "p1",
		Language:   "python3",
		SourceCode: "print('ok')",
	}
}

func waitTerminal(t *testing.T, d *Dispatcher, id string) *model.Submission {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sub, err := d.GetStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if sub.Status == model.StatusCompleted || sub.Status == model.StatusSystemError {
			return sub
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("submission never reached a terminal state")
	return nil
}

func TestSubmitAcceptedAllCases(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 2), pool.Config{Workers: 2, QueueCapacity: 16})
	fx.runner.accept("tc1", "tc2")

	id, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if err != nil {
		t.Fatal(err)
	}

	sub := waitTerminal(t, fx.dispatcher, id)
	if sub.Status != model.StatusCompleted || sub.FinalVerdict != model.VerdictAccepted {
		t.Fatalf("got %s/%s, want Completed/Accepted", sub.Status, sub.FinalVerdict)
	}
	if sub.ScoreFraction != 1 {
		t.Errorf("score fraction = %v, want 1", sub.ScoreFraction)
	}
	if len(sub.Results) != 2 || sub.Results[0].TestCaseID != "tc1" || sub.Results[1].TestCaseID != "tc2" {
		t.Errorf("results out of order: %+v", sub.Results)
	}
}

func TestResultsAssembledInOrderUnderOutOfOrderCompletion(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 3), pool.Config{Workers: 3, QueueCapacity: 16})
	fx.runner.accept("tc1", "tc2", "tc3")
	fx.runner.mu.Lock()
	fx.runner.delays["tc1"] = 80 * time.Millisecond
	fx.runner.delays["tc2"] = 40 * time.Millisecond
	fx.runner.mu.Unlock()

	id, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if err != nil {
		t.Fatal(err)
	}

	sub := waitTerminal(t, fx.dispatcher, id)
	want := []string{"tc1", "tc2", "tc3"}
	if len(sub.Results) != len(want) {
		t.Fatalf("results = %d, want %d", len(sub.Results), len(want))
	}
	for i, tcID := range want {
		if sub.Results[i].TestCaseID != tcID {
			t.Errorf("result %d = %s, want %s", i, sub.Results[i].TestCaseID, tcID)
		}
	}
}

func TestAllOrNothingShortCircuits(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 3), pool.Config{Workers: 1, QueueCapacity: 16})
	fx.runner.reject("tc1")
	fx.runner.accept("tc2", "tc3")

	id, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if err != nil {
		t.Fatal(err)
	}

	sub := waitTerminal(t, fx.dispatcher, id)
	if sub.FinalVerdict != model.VerdictWrongAnswer {
		t.Fatalf("final verdict = %s, want WrongAnswer", sub.FinalVerdict)
	}
	if sub.ScoreFraction != 0 {
		t.Errorf("score fraction = %v, want 0", sub.ScoreFraction)
	}
	if len(sub.Results) != 1 || sub.Results[0].TestCaseID != "tc1" {
		t.Errorf("short-circuited results = %+v, want only tc1", sub.Results)
	}
}

func TestPartialScoringRunsAllCases(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringPartialByTestCase, 3), pool.Config{Workers: 1, QueueCapacity: 16})
	fx.runner.accept("tc1", "tc3")
	fx.runner.reject("tc2")

	id, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if err != nil {
		t.Fatal(err)
	}

	sub := waitTerminal(t, fx.dispatcher, id)
	if sub.FinalVerdict != model.VerdictWrongAnswer {
		t.Fatalf("final verdict = %s, want WrongAnswer", sub.FinalVerdict)
	}
	if len(sub.Results) != 3 {
		t.Fatalf("partial scoring must run every case, got %d results", len(sub.Results))
	}
	want := 2.0 / 3.0
	if diff := sub.ScoreFraction - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score fraction = %v, want %v", sub.ScoreFraction, want)
	}
}

func TestCompileErrorShortCircuitsAnyMode(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringPartialByTestCase, 3), pool.Config{Workers: 1, QueueCapacity: 16})
	fx.runner.mu.Lock()
	for _, id := range []string{"tc1", "tc2", "tc3"} {
		fx.runner.errs[id] = appErr.New(appErr.CompilationFailed)
	}
	fx.runner.mu.Unlock()

	id, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if err != nil {
		t.Fatal(err)
	}

	sub := waitTerminal(t, fx.dispatcher, id)
	if sub.Status != model.StatusCompleted || sub.FinalVerdict != model.VerdictCompileError {
		t.Fatalf("got %s/%s, want Completed/CompileError", sub.Status, sub.FinalVerdict)
	}
}

func TestInfraFaultRetriedOnce(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 2), pool.Config{Workers: 1, QueueCapacity: 16})
	fx.runner.accept("tc1", "tc2")
	fx.runner.mu.Lock()
	fx.runner.failures["tc2"] = 1
	fx.runner.mu.Unlock()

	id, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if err != nil {
		t.Fatal(err)
	}

	sub := waitTerminal(t, fx.dispatcher, id)
	if sub.Status != model.StatusCompleted || sub.FinalVerdict != model.VerdictAccepted {
		t.Fatalf("got %s/%s, want Completed/Accepted after one retry", sub.Status, sub.FinalVerdict)
	}
}

func TestSecondInfraFaultIsTerminal(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 1), pool.Config{Workers: 1, QueueCapacity: 16})
	fx.runner.mu.Lock()
	fx.runner.failures["tc1"] = 2
	fx.runner.mu.Unlock()

	id, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if err != nil {
		t.Fatal(err)
	}

	sub := waitTerminal(t, fx.dispatcher, id)
	if sub.Status != model.StatusSystemError {
		t.Fatalf("status = %s, want SystemError", sub.Status)
	}
	if sub.FinalVerdict != "" {
		t.Errorf("system error must not carry a verdict, got %s", sub.FinalVerdict)
	}
}

func TestSubmitValidation(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 1), pool.Config{Workers: 1, QueueCapacity: 16})
	ctx := context.Background()

	empty := submitInput()
	empty.SourceCode = ""
	if _, err := fx.dispatcher.Submit(ctx, empty); !appErr.Is(err, appErr.CodeEmpty) {
		t.Errorf("empty code: got %v, want CodeEmpty", err)
	}

	lang := submitInput()
	lang.Language = "brainfuck"
	if _, err := fx.dispatcher.Submit(ctx, lang); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Errorf("bad language: got %v, want LanguageNotSupported", err)
	}

	missing := submitInput()
	missing.ProblemID = "p404"
	if _, err := fx.dispatcher.Submit(ctx, missing); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Errorf("unknown problem: got %v, want ProblemNotFound", err)
	}

	big := submitInput()
	big.SourceCode = string(make([]byte, defaultMaxCodeBytes+1))
	if _, err := fx.dispatcher.Submit(ctx, big); !appErr.Is(err, appErr.CodeTooLarge) {
		t.Errorf("oversized code: got %v, want CodeTooLarge", err)
	}
}

func TestSubmitRejectedWhenQueueFull(t *testing.T) {
	// Three test cases cannot fit a capacity-1 queue even when idle.
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 3), pool.Config{Workers: 1, QueueCapacity: 1})

	_, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("got %v, want JudgeQueueFull", err)
	}
	// A rejected submission must not be queryable.
	if _, err := fx.dispatcher.GetStatus(context.Background(), "whatever"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Errorf("got %v, want SubmissionNotFound", err)
	}
}

func TestContestGateRejectsScheduled(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 1), pool.Config{Workers: 1, QueueCapacity: 16})
	if err := fx.contests.Register(model.Contest{
		ID:         "future",
		ProblemIDs: []string{"p1"},
		StartAt:    fx.clock.Add(time.Hour),
		EndAt:      fx.clock.Add(2 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	in := submitInput()
	in.ContestID = "future"
	if _, err := fx.dispatcher.Submit(context.Background(), in); !appErr.Is(err, appErr.ContestNotStarted) {
		t.Fatalf("got %v, want ContestNotStarted", err)
	}
}

func TestCompletedContestSubmissionReachesScoring(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 1), pool.Config{Workers: 1, QueueCapacity: 16})
	fx.runner.accept("tc1")

	in := submitInput()
	in.ContestID = "c1"
	id, err := fx.dispatcher.Submit(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, fx.dispatcher, id)

	snap, err := fx.contests.Leaderboard(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Rows) != 1 || snap.Rows[0].UserID != "alice" || snap.Rows[0].Score != 100 {
		t.Fatalf("leaderboard = %+v, want alice with 100", snap.Rows)
	}
}

func TestRunnerReleasedAfterDrain(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 2), pool.Config{Workers: 2, QueueCapacity: 16})
	fx.runner.accept("tc1", "tc2")

	id, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, fx.dispatcher, id)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fx.runner.mu.Lock()
		released := len(fx.runner.released) == 1 && fx.runner.released[0] == id
		fx.runner.mu.Unlock()
		if released {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("runner workspace was never released")
}

func TestShutdownCompletesAfterDrain(t *testing.T) {
	fx := newFixture(t, testProblem(model.ScoringAllOrNothing, 2), pool.Config{Workers: 2, QueueCapacity: 16})
	fx.runner.accept("tc1", "tc2")

	id, err := fx.dispatcher.Submit(context.Background(), submitInput())
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, fx.dispatcher, id)

	// Shutdown must return well before the deadline once the pool drains;
	// only a stuck result loop would push it into the timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fx.dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
