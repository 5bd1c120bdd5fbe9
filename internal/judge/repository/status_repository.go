package repository

import (
	"context"
	"encoding/json"
	"time"

	"rankoj/internal/common/cache"
	"rankoj/internal/judge/model"
	appErr "rankoj/pkg/errors"
)

const (
	statusKeyPrefix  = "judge:submission:"
	defaultStatusTTL = 24 * time.Hour
)

// StatusRepository mirrors live submission state in the cache so status
// polls never touch the judging path.
type StatusRepository struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewStatusRepository creates a cache-backed status repository.
func NewStatusRepository(c cache.Cache, ttl time.Duration) *StatusRepository {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &StatusRepository{cache: c, ttl: ttl}
}

// Save stores the current submission snapshot.
func (r *StatusRepository) Save(ctx context.Context, sub *model.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return appErr.Wrap(err, appErr.CacheError)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+sub.ID, string(data), r.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "save submission status failed")
	}
	return nil
}

// Get loads a submission snapshot. A missing key maps to SubmissionNotFound.
func (r *StatusRepository) Get(ctx context.Context, id string) (*model.Submission, error) {
	data, err := r.cache.Get(ctx, statusKeyPrefix+id)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load submission status failed")
	}
	if data == "" {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	var sub model.Submission
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return nil, appErr.Wrap(err, appErr.CacheError)
	}
	return &sub, nil
}
