// Package scoring turns completed submissions into contest standings.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rankoj/internal/common/cache"
	"rankoj/internal/judge/model"
	"rankoj/internal/judge/problem"
	appErr "rankoj/pkg/errors"
	"rankoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const leaderboardKeyPrefix = "judge:leaderboard:"

// Config holds the contest scoring constants.
type Config struct {
	// PenaltyMinutes is charged per wrong attempt on a problem the user
	// eventually solves.
	PenaltyMinutes int64 `yaml:"penaltyMinutes"`

	PointsEasy   float64 `yaml:"pointsEasy"`
	PointsMedium float64 `yaml:"pointsMedium"`
	PointsHard   float64 `yaml:"pointsHard"`
}

// DefaultConfig returns the usual competitive-programming constants.
func DefaultConfig() Config {
	return Config{
		PenaltyMinutes: 20,
		PointsEasy:     100,
		PointsMedium:   200,
		PointsHard:     300,
	}
}

func (c Config) points(d model.Difficulty) float64 {
	switch d {
	case model.DifficultyEasy:
		return c.PointsEasy
	case model.DifficultyMedium:
		return c.PointsMedium
	case model.DifficultyHard:
		return c.PointsHard
	default:
		return c.PointsEasy
	}
}

// Engine accumulates per-contest standings from completed submissions.
// All updates for one contest are serialized behind that contest's mutex, so
// standings are a deterministic function of the submission sequence.
type Engine struct {
	cfg      Config
	problems problem.Store
	cache    cache.Cache // optional standings mirror

	mu     sync.Mutex
	boards map[string]*contestBoard
}

// problemProgress tracks one user's state on one problem.
type problemProgress struct {
	bestFraction  float64
	wrongAttempts int64
	solved        bool
}

type contestBoard struct {
	mu        sync.Mutex
	entries   map[string]*model.ContestEntry
	progress  map[string]map[string]*problemProgress
	processed map[string]struct{}
}

func newContestBoard() *contestBoard {
	return &contestBoard{
		entries:   make(map[string]*model.ContestEntry),
		progress:  make(map[string]map[string]*problemProgress),
		processed: make(map[string]struct{}),
	}
}

// NewEngine creates a scoring engine. The cache is optional; when present the
// engine mirrors standings into a sorted set per contest.
func NewEngine(cfg Config, problems problem.Store, c cache.Cache) (*Engine, error) {
	if problems == nil {
		return nil, fmt.Errorf("problem store is required")
	}
	if cfg.PenaltyMinutes <= 0 {
		cfg.PenaltyMinutes = DefaultConfig().PenaltyMinutes
	}
	if cfg.PointsEasy <= 0 {
		cfg.PointsEasy = DefaultConfig().PointsEasy
	}
	if cfg.PointsMedium <= 0 {
		cfg.PointsMedium = DefaultConfig().PointsMedium
	}
	if cfg.PointsHard <= 0 {
		cfg.PointsHard = DefaultConfig().PointsHard
	}
	return &Engine{
		cfg:      cfg,
		problems: problems,
		cache:    c,
		boards:   make(map[string]*contestBoard),
	}, nil
}

func (e *Engine) board(contestID string) *contestBoard {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.boards[contestID]
	if !ok {
		b = newContestBoard()
		e.boards[contestID] = b
	}
	return b
}

// OnSubmissionCompleted applies one completed submission to its contest's
// standings. Practice submissions and non-Completed statuses are ignored.
// Duplicate deliveries of the same submission id have no effect.
func (e *Engine) OnSubmissionCompleted(ctx context.Context, sub *model.Submission) error {
	if sub.ContestID == "" || sub.Status != model.StatusCompleted {
		return nil
	}

	b := e.board(sub.ContestID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, seen := b.processed[sub.ID]; seen {
		return nil
	}
	b.processed[sub.ID] = struct{}{}

	if err := e.apply(ctx, b, sub); err != nil {
		return err
	}
	e.mirror(ctx, sub.ContestID, b)
	return nil
}

// apply mutates the board under its lock.
func (e *Engine) apply(ctx context.Context, b *contestBoard, sub *model.Submission) error {
	prob, err := e.problems.GetProblem(ctx, sub.ProblemID)
	if err != nil {
		return appErr.Wrapf(err, appErr.ReplayFailed, "score submission %s", sub.ID)
	}

	userProgress, ok := b.progress[sub.UserID]
	if !ok {
		userProgress = make(map[string]*problemProgress)
		b.progress[sub.UserID] = userProgress
	}
	prog, ok := userProgress[sub.ProblemID]
	if !ok {
		prog = &problemProgress{}
		userProgress[sub.ProblemID] = prog
	}

	// Attempts after the problem is solved change nothing.
	if prog.solved {
		return nil
	}

	entry, ok := b.entries[sub.UserID]
	if !ok {
		entry = &model.ContestEntry{
			ContestID: sub.ContestID,
			UserID:    sub.UserID,
			Solved:    make(map[string]struct{}),
		}
		b.entries[sub.UserID] = entry
	}

	accepted := sub.FinalVerdict == model.VerdictAccepted
	fraction := sub.ScoreFraction
	if accepted {
		fraction = 1
	}

	// Score reflects the best fraction achieved per problem; all-or-nothing
	// fractions are 0 or 1, which degenerates to classic first-solve points.
	if fraction > prog.bestFraction {
		entry.Score += e.cfg.points(prob.Difficulty) * (fraction - prog.bestFraction)
		prog.bestFraction = fraction
	}

	if accepted {
		prog.solved = true
		entry.PenaltyMinutes += prog.wrongAttempts * e.cfg.PenaltyMinutes
		entry.Solved[sub.ProblemID] = struct{}{}
		if sub.SubmittedAt.After(entry.LastAcceptedAt) {
			entry.LastAcceptedAt = sub.SubmittedAt
		}
	} else {
		prog.wrongAttempts++
	}
	return nil
}

// Leaderboard builds the live standings snapshot for a contest.
// Order: score desc, penalty asc, earlier last accept, then user id.
func (e *Engine) Leaderboard(ctx context.Context, contestID string) *model.LeaderboardSnapshot {
	b := e.board(contestID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshotLocked(contestID, b)
}

func snapshotLocked(contestID string, b *contestBoard) *model.LeaderboardSnapshot {
	entries := make([]*model.ContestEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, c := entries[i], entries[j]
		if a.Score != c.Score {
			return a.Score > c.Score
		}
		if a.PenaltyMinutes != c.PenaltyMinutes {
			return a.PenaltyMinutes < c.PenaltyMinutes
		}
		if !a.LastAcceptedAt.Equal(c.LastAcceptedAt) {
			return a.LastAcceptedAt.Before(c.LastAcceptedAt)
		}
		return a.UserID < c.UserID
	})

	rows := make([]model.LeaderboardRow, 0, len(entries))
	for i, entry := range entries {
		rows = append(rows, model.LeaderboardRow{
			UserID:         entry.UserID,
			Score:          entry.Score,
			PenaltyMinutes: entry.PenaltyMinutes,
			Rank:           i + 1,
		})
	}
	return &model.LeaderboardSnapshot{
		ContestID:   contestID,
		GeneratedAt: time.Now(),
		Rows:        rows,
	}
}

// Replay rebuilds one contest's standings from its completed-submission log.
// The log must be in completion order; the result is deterministic.
func (e *Engine) Replay(ctx context.Context, contestID string, log []*model.Submission) error {
	b := e.board(contestID)
	b.mu.Lock()
	defer b.mu.Unlock()

	fresh := newContestBoard()
	for _, sub := range log {
		if sub.ContestID != contestID || sub.Status != model.StatusCompleted {
			continue
		}
		if _, seen := fresh.processed[sub.ID]; seen {
			continue
		}
		fresh.processed[sub.ID] = struct{}{}
		if err := e.apply(ctx, fresh, sub); err != nil {
			return err
		}
	}

	b.entries = fresh.entries
	b.progress = fresh.progress
	b.processed = fresh.processed
	e.mirror(ctx, contestID, b)
	return nil
}

// mirror pushes the standings into a redis sorted set for external readers.
// Failures are logged; the in-memory board stays authoritative.
func (e *Engine) mirror(ctx context.Context, contestID string, b *contestBoard) {
	if e.cache == nil {
		return
	}
	members := make([]cache.ZMember, 0, len(b.entries))
	for _, entry := range b.entries {
		// Penalty folded in as a small negative component so the set's
		// descending order roughly tracks the real standings.
		members = append(members, cache.ZMember{
			Member: entry.UserID,
			Score:  entry.Score*1e6 - float64(entry.PenaltyMinutes),
		})
	}
	if len(members) == 0 {
		return
	}
	if err := e.cache.ZAdd(ctx, leaderboardKeyPrefix+contestID, members...); err != nil {
		logger.Warn(ctx, "leaderboard mirror update failed",
			zap.String("contest_id", contestID),
			zap.Error(err),
		)
	}
}
