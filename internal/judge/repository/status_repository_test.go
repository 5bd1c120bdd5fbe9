package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"rankoj/internal/common/cache"
	"rankoj/internal/judge/model"
	appErr "rankoj/pkg/errors"
)

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithConfig(&cache.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestStatusSaveGetRoundTrip(t *testing.T) {
	repo := NewStatusRepository(newTestCache(t), time.Hour)
	ctx := context.Background()

	sub := &model.Submission{
		ID:           "s1",
		UserID:       "alice",
		ProblemID:    "p1",
		Language:     "python3",
		SubmittedAt:  time.Date(2026, 9, 6, 12, 0, 0, 0, time.UTC),
		Status:       model.StatusCompleted,
		FinalVerdict: model.VerdictAccepted,
		Results: []model.TestCaseResult{
			{TestCaseID: "tc1", Verdict: model.VerdictAccepted, RuntimeMs: 12},
		},
		ScoreFraction: 1,
	}
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "alice" || got.Status != model.StatusCompleted || got.FinalVerdict != model.VerdictAccepted {
		t.Errorf("loaded submission = %+v", got)
	}
	if len(got.Results) != 1 || got.Results[0].TestCaseID != "tc1" {
		t.Errorf("results = %+v", got.Results)
	}
}

func TestStatusSourceCodeNeverCached(t *testing.T) {
	c := newTestCache(t)
	repo := NewStatusRepository(c, time.Hour)
	ctx := context.Background()

	sub := &model.Submission{ID: "s1", UserID: "alice", SourceCode: "print(42)", Status: model.StatusQueued}
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatal(err)
	}

	raw, err := c.Get(ctx, "judge:submission:s1")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := repo.Get(ctx, "s1"); got.SourceCode != "" {
		t.Error("source code must not round-trip through the cache")
	}
	if len(raw) == 0 {
		t.Fatal("snapshot missing from cache")
	}
}

func TestStatusGetMissing(t *testing.T) {
	repo := NewStatusRepository(newTestCache(t), time.Hour)
	if _, err := repo.Get(context.Background(), "nope"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Errorf("got %v, want SubmissionNotFound", err)
	}
}
