// Package problem provides read-only access to the problem catalogue
// consumed by the judge. The catalogue itself is owned by an external
// service; the judge only needs ordered test cases, limits and metadata.
package problem

import (
	"context"
	"sort"
	"sync"

	"rankoj/internal/judge/model"
	appErr "rankoj/pkg/errors"
)

// Store is the read-only lookup contract required by the judge.
type Store interface {
	// GetProblem returns a published problem with its ordered test cases.
	GetProblem(ctx context.Context, id string) (model.Problem, error)
}

// MemoryStore is an in-process Store seeded from configuration or fixtures.
// Problems are immutable once registered.
type MemoryStore struct {
	mu       sync.RWMutex
	problems map[string]model.Problem
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory problem store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{problems: make(map[string]model.Problem)}
}

// Register adds a problem to the store. Registering an id twice is rejected
// because published problems are immutable.
func (s *MemoryStore) Register(p model.Problem) error {
	if p.ID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	if len(p.TestCases) == 0 {
		return appErr.New(appErr.ProblemCorrupt).WithMessagef("problem %s has no test cases", p.ID)
	}
	if p.ScoringMode == "" {
		p.ScoringMode = model.ScoringAllOrNothing
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.problems[p.ID]; exists {
		return appErr.Newf(appErr.InvalidValue, "problem %s already registered", p.ID)
	}
	s.problems[p.ID] = p
	return nil
}

// GetProblem implements Store.
func (s *MemoryStore) GetProblem(ctx context.Context, id string) (model.Problem, error) {
	if id == "" {
		return model.Problem{}, appErr.ValidationError("problem_id", "required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[id]
	if !ok {
		return model.Problem{}, appErr.New(appErr.ProblemNotFound).WithMessagef("problem %s not found", id)
	}
	return p, nil
}

// IDs returns all registered problem ids in sorted order.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.problems))
	for id := range s.problems {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
