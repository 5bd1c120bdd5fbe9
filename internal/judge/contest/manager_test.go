package contest

import (
	"context"
	"testing"
	"time"

	"rankoj/internal/judge/model"
	"rankoj/internal/judge/scoring"
	appErr "rankoj/pkg/errors"
)

type fakeProblemStore struct{}

func (fakeProblemStore) GetProblem(ctx context.Context, id string) (model.Problem, error) {
	return model.Problem{
		ID:          id,
		Difficulty:  model.DifficultyEasy,
		ScoringMode: model.ScoringAllOrNothing,
		TestCases:   []model.TestCase{{ID: "t1"}},
	}, nil
}

// travelClock is a settable clock for lifecycle tests.
type travelClock struct {
	now time.Time
}

func (c *travelClock) Now() time.Time { return c.now }

func testContest() model.Contest {
	start := time.Date(2026, 9, 6, 12, 0, 0, 0, time.UTC)
	freeze := start.Add(90 * time.Minute)
	return model.Contest{
		ID:         "c1",
		ProblemIDs: []string{"p1"},
		StartAt:    start,
		EndAt:      start.Add(2 * time.Hour),
		FreezeAt:   &freeze,
	}
}

func newTestManager(t *testing.T, clock *travelClock) (*Manager, *scoring.Engine) {
	t.Helper()
	eng, err := scoring.NewEngine(scoring.DefaultConfig(), fakeProblemStore{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(clock.Now, eng)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Register(testContest()); err != nil {
		t.Fatal(err)
	}
	return m, eng
}

func accepted(id, user string, at time.Time) *model.Submission {
	return &model.Submission{
		ID:           id,
		UserID:       user,
		ProblemID:    "p1",
		ContestID:    "c1",
		SubmittedAt:  at,
		Status:       model.StatusCompleted,
		FinalVerdict: model.VerdictAccepted,
	}
}

func TestRegisterValidation(t *testing.T) {
	clock := &travelClock{now: time.Now()}
	m, _ := newTestManager(t, clock)

	if err := m.Register(testContest()); err == nil {
		t.Error("duplicate contest id must be rejected")
	}
	bad := testContest()
	bad.ID = "c2"
	bad.EndAt = bad.StartAt
	if err := m.Register(bad); err == nil {
		t.Error("empty contest window must be rejected")
	}
	outside := testContest()
	outside.ID = "c3"
	early := outside.StartAt.Add(-time.Minute)
	outside.FreezeAt = &early
	if err := m.Register(outside); err == nil {
		t.Error("freeze before start must be rejected")
	}
}

func TestGateFollowsLifecycle(t *testing.T) {
	c := testContest()
	clock := &travelClock{now: c.StartAt.Add(-time.Hour)}
	m, _ := newTestManager(t, clock)
	ctx := context.Background()

	if err := m.Gate(ctx, "c1"); !appErr.Is(err, appErr.ContestNotStarted) {
		t.Errorf("scheduled contest: got %v, want ContestNotStarted", err)
	}

	clock.now = c.StartAt.Add(time.Minute)
	if err := m.Gate(ctx, "c1"); err != nil {
		t.Errorf("running contest: got %v, want nil", err)
	}

	// Judging continues during the freeze.
	clock.now = c.FreezeAt.Add(time.Minute)
	if err := m.Gate(ctx, "c1"); err != nil {
		t.Errorf("frozen contest: got %v, want nil", err)
	}

	clock.now = c.EndAt
	if err := m.Gate(ctx, "c1"); !appErr.Is(err, appErr.ContestEnded) {
		t.Errorf("ended contest: got %v, want ContestEnded", err)
	}

	if err := m.Gate(ctx, ""); err != nil {
		t.Errorf("practice submission: got %v, want nil", err)
	}
	if err := m.Gate(ctx, "nope"); !appErr.Is(err, appErr.ContestNotFound) {
		t.Errorf("unknown contest: got %v, want ContestNotFound", err)
	}
}

func TestLeaderboardFreezeInvariant(t *testing.T) {
	c := testContest()
	clock := &travelClock{now: c.StartAt.Add(time.Minute)}
	m, eng := newTestManager(t, clock)
	ctx := context.Background()

	m.CheckFreeze(ctx, "c1")
	if err := eng.OnSubmissionCompleted(ctx, accepted("s1", "alice", clock.now)); err != nil {
		t.Fatal(err)
	}

	// Cross the freeze boundary; bob's solve lands after it and must be
	// pinned out of the visible board.
	clock.now = c.FreezeAt.Add(time.Minute)
	m.CheckFreeze(ctx, "c1")
	if err := eng.OnSubmissionCompleted(ctx, accepted("s2", "bob", clock.now)); err != nil {
		t.Fatal(err)
	}

	snap, err := m.Leaderboard(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Frozen {
		t.Error("snapshot during freeze must be marked frozen")
	}
	if len(snap.Rows) != 1 || snap.Rows[0].UserID != "alice" {
		t.Fatalf("frozen board must pin pre-freeze standings, got %+v", snap.Rows)
	}

	// After the end, the full standings are revealed.
	clock.now = c.EndAt.Add(time.Minute)
	snap, err = m.Leaderboard(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Frozen {
		t.Error("final standings must not be frozen")
	}
	if len(snap.Rows) != 2 {
		t.Fatalf("final standings rows = %d, want 2", len(snap.Rows))
	}
}

func TestLeaderboardBeforeStart(t *testing.T) {
	c := testContest()
	clock := &travelClock{now: c.StartAt.Add(-time.Hour)}
	m, _ := newTestManager(t, clock)

	if _, err := m.Leaderboard(context.Background(), "c1"); !appErr.Is(err, appErr.LeaderboardNotAvailable) {
		t.Errorf("got %v, want LeaderboardNotAvailable", err)
	}
}
