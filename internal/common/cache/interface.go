// Package cache abstracts the key-value store used for status mirrors and
// leaderboard snapshots.
package cache

import (
	"context"
	"time"
)

// Cache defines the unified interface for cache operations.
// This abstraction allows switching between cache implementations
// without changing business logic.
type Cache interface {
	BasicOps
	ZSetOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key.
	// Returns "" with a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation)
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists checks if one or more keys exist
	// Returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// ZMember is a scored member of a sorted set.
type ZMember struct {
	Member string
	Score  float64
}

// ZSetOps defines sorted set operations (used by the leaderboard mirror)
type ZSetOps interface {
	// ZAdd adds one or more members with scores to a sorted set
	ZAdd(ctx context.Context, key string, members ...ZMember) error

	// ZRem removes one or more members from a sorted set
	ZRem(ctx context.Context, key string, members ...string) error

	// ZScore returns the score of a member in a sorted set
	ZScore(ctx context.Context, key, member string) (float64, error)

	// ZRevRangeWithScores returns members with scores in descending order.
	// start and stop are zero-based indexes.
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// ZCard returns the number of members in a sorted set
	ZCard(ctx context.Context, key string) (int64, error)

	// ZRemRangeByRank removes members in a sorted set by index range
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error
}
