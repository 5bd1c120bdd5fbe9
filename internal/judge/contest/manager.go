// Package contest drives contest lifecycle purely from the wall clock.
package contest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rankoj/internal/judge/model"
	"rankoj/internal/judge/scoring"
	appErr "rankoj/pkg/errors"
	"rankoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// Clock supplies the current time. Injected so lifecycle tests can travel.
type Clock func() time.Time

// Manager owns contest definitions and the freeze-aware leaderboard view.
// State is never stored; it is derived from the schedule at each call, which
// makes transitions monotonic by construction.
type Manager struct {
	clock   Clock
	scoring *scoring.Engine

	mu       sync.RWMutex
	contests map[string]model.Contest
	frozen   map[string]*model.LeaderboardSnapshot
}

// NewManager creates a contest manager over the scoring engine.
func NewManager(clock Clock, eng *scoring.Engine) (*Manager, error) {
	if clock == nil {
		clock = time.Now
	}
	if eng == nil {
		return nil, fmt.Errorf("scoring engine is required")
	}
	return &Manager{
		clock:    clock,
		scoring:  eng,
		contests: make(map[string]model.Contest),
		frozen:   make(map[string]*model.LeaderboardSnapshot),
	}, nil
}

// Register adds a contest definition. Schedules must be well formed.
func (m *Manager) Register(c model.Contest) error {
	if c.ID == "" {
		return appErr.ValidationError("contest.id", "must not be empty")
	}
	if !c.StartAt.Before(c.EndAt) {
		return appErr.ValidationError("contest.schedule", "startAt must precede endAt")
	}
	if c.FreezeAt != nil && (c.FreezeAt.Before(c.StartAt) || c.FreezeAt.After(c.EndAt)) {
		return appErr.ValidationError("contest.freezeAt", "must fall inside the contest window")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.contests[c.ID]; exists {
		return appErr.ValidationError("contest.id", "already registered")
	}
	m.contests[c.ID] = c
	return nil
}

// Get returns a contest definition.
func (m *Manager) Get(id string) (model.Contest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contests[id]
	if !ok {
		return model.Contest{}, appErr.New(appErr.ContestNotFound)
	}
	return c, nil
}

// IDs returns the registered contest ids.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.contests))
	for id := range m.contests {
		ids = append(ids, id)
	}
	return ids
}

// Gate decides whether a submission for the contest is accepted right now.
// An empty contest id is a practice submission and always passes. Judging
// continues during a freeze, so Frozen passes too.
func (m *Manager) Gate(ctx context.Context, contestID string) error {
	if contestID == "" {
		return nil
	}
	c, err := m.Get(contestID)
	if err != nil {
		return err
	}
	switch c.StateAt(m.clock()) {
	case model.ContestScheduled:
		return appErr.New(appErr.ContestNotStarted)
	case model.ContestEnded:
		return appErr.New(appErr.ContestEnded)
	default:
		m.ensureFrozen(ctx, c)
		return nil
	}
}

// CheckFreeze pins the freeze snapshot before post-freeze results become
// visible. The dispatcher calls it ahead of each scoring update.
func (m *Manager) CheckFreeze(ctx context.Context, contestID string) {
	if contestID == "" {
		return
	}
	c, err := m.Get(contestID)
	if err != nil {
		return
	}
	m.ensureFrozen(ctx, c)
}

// Leaderboard returns the contest standings respecting the freeze window:
// live while Running, pinned to the freeze snapshot while Frozen, and the
// full final standings once Ended.
func (m *Manager) Leaderboard(ctx context.Context, contestID string) (*model.LeaderboardSnapshot, error) {
	c, err := m.Get(contestID)
	if err != nil {
		return nil, err
	}
	switch c.StateAt(m.clock()) {
	case model.ContestScheduled:
		return nil, appErr.New(appErr.LeaderboardNotAvailable)
	case model.ContestFrozen:
		m.ensureFrozen(ctx, c)
		m.mu.RLock()
		snap := m.frozen[contestID]
		m.mu.RUnlock()
		if snap == nil {
			return nil, appErr.New(appErr.LeaderboardNotAvailable)
		}
		return snap, nil
	default:
		return m.scoring.Leaderboard(ctx, contestID), nil
	}
}

// ensureFrozen captures the freeze snapshot exactly once, the first time the
// contest is observed at or past its freeze boundary.
func (m *Manager) ensureFrozen(ctx context.Context, c model.Contest) {
	if c.FreezeAt == nil {
		return
	}
	now := m.clock()
	if now.Before(*c.FreezeAt) || !now.Before(c.EndAt) {
		return
	}
	m.mu.RLock()
	_, captured := m.frozen[c.ID]
	m.mu.RUnlock()
	if captured {
		return
	}

	snap := m.scoring.Leaderboard(ctx, c.ID)
	snap.Frozen = true

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, captured := m.frozen[c.ID]; captured {
		return
	}
	m.frozen[c.ID] = snap
	logger.Info(ctx, "leaderboard frozen",
		zap.String("contest_id", c.ID),
		zap.Time("freeze_at", *c.FreezeAt),
	)
}
