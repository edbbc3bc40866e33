package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// UpdateFunc computes the next bucket state from the current one. current
// is nil when the bucket has never been used or its entry has expired.
// Backends with optimistic concurrency may call it more than once; only
// the result of the last call is persisted.
type UpdateFunc func(current *BucketState) BucketState

// Storage is the interface for bucket state backends.
type Storage interface {
	// Update atomically reads the state stored under key, applies fn and
	// writes the result with the given TTL. Two concurrent updates of the
	// same key never observe the same current state.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error

	// Get returns the stored state for key, or false when there is none.
	Get(ctx context.Context, key string) (*BucketState, bool, error)

	// Close releases resources held by the backend.
	Close() error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// ErrConflict is returned when an optimistic update kept losing races
// until its retry budget ran out.
var ErrConflict = errors.New("ratelimit: too many concurrent updates")

// conflictBackOff returns the retry schedule for optimistic update conflicts.
// Retries start almost immediately and stay short since a conflict means
// another request just finished the same read-modify-write.
func conflictBackOff(ctx context.Context, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
}
