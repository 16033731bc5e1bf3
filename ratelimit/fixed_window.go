/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ratekit/go-ratekit/kvstore"
)

const fixedWindowKeyPrefix = "ratelimit:fw"

// FixedWindowLimiter implements the fixed window algorithm: requests are
// counted per identifier within windows of fixed length, and the counter
// resets when a new window begins.
//
// The counter lives in the storage backend under a key derived from the
// identifier and the current window index, so a single atomic
// increment-with-expiry renders the whole verdict; no identifier-scoped lock
// is needed.
//
// With jitter enabled, each identifier's window boundaries are shifted by a
// per-identifier offset in [0, jitterMax) derived from a hash of the
// identifier. The offset is stable across calls and across instances, so many
// identifiers configured with the same window do not all reset at the same
// instant.
type FixedWindowLimiter struct {
	store     kvstore.Store
	jitterMax time.Duration
	nowFunc   func() time.Time
}

var _ RateLimiter = (*FixedWindowLimiter)(nil)
var _ StorageAccessor = (*FixedWindowLimiter)(nil)

// FixedWindowOption is a functional option for the FixedWindowLimiter.
type FixedWindowOption func(*FixedWindowLimiter)

// WithJitter spreads window boundaries of different identifiers apart by a
// deterministic per-identifier offset in [0, max).
func WithJitter(max time.Duration) FixedWindowOption {
	return func(l *FixedWindowLimiter) {
		l.jitterMax = max
	}
}

// NewFixedWindowLimiter creates a new fixed window strategy over the given
// storage backend.
func NewFixedWindowLimiter(store kvstore.Store, options ...FixedWindowOption) (*FixedWindowLimiter, error) {
	if store == nil {
		return nil, &ConfigurationError{Reason: "storage backend is required"}
	}
	l := &FixedWindowLimiter{store: store, nowFunc: time.Now}
	for _, opt := range options {
		opt(l)
	}
	if l.jitterMax < 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("jitter should not be negative, got %s", l.jitterMax)}
	}
	return l, nil
}

// Allow checks whether one more request from the subject named by key fits
// into the budget. The first request of a new window is always allowed unless
// rate.Count is 0.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, rate Rate) (Decision, error) {
	if err := rate.Validate(); err != nil {
		return Decision{}, err
	}
	if rate.Count == 0 {
		// No budget at all; no window will ever admit, so there is no state
		// worth keeping and the hint is always the full window length.
		return Decision{Allow: false, RetryAfter: rate.Duration}, nil
	}

	now := l.nowFunc()
	jitter := l.jitterOffset(key)
	window := rate.Duration

	// A request arriving exactly at a boundary belongs to the new window.
	idx := (now.UnixNano() - int64(jitter)) / int64(window)
	storageKey := fmt.Sprintf("%s:%s:%d", fixedWindowKeyPrefix, key, idx)

	count, err := l.store.IncrBy(ctx, storageKey, 1, window+jitter)
	if err != nil {
		return Decision{}, &StorageError{Key: key, Err: err}
	}
	if count < 1 {
		return Decision{}, &StrategyError{
			Algorithm: AlgorithmFixedWindow,
			Key:       key,
			Reason:    fmt.Sprintf("post-increment count is %d, expected at least 1", count),
		}
	}

	if count <= int64(rate.Count) {
		return Decision{Allow: true, Remaining: int64(rate.Count) - count}, nil
	}

	windowEnd := time.Unix(0, (idx+1)*int64(window)).Add(jitter)
	retryAfter := windowEnd.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allow: false, Remaining: 0, RetryAfter: retryAfter}, nil
}

// GetData returns a raw value from the underlying storage backend.
// Implements StorageAccessor interface.
func (l *FixedWindowLimiter) GetData(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, false, &StorageError{Key: key, Err: err}
	}
	return value, ok, nil
}

// SetData stores a raw value in the underlying storage backend.
// Implements StorageAccessor interface.
func (l *FixedWindowLimiter) SetData(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := l.store.Set(ctx, key, value, ttl); err != nil {
		return &StorageError{Key: key, Err: err}
	}
	return nil
}

func (l *FixedWindowLimiter) jitterOffset(key string) time.Duration {
	if l.jitterMax <= 0 {
		return 0
	}
	return time.Duration(xxhash.Sum64String(key) % uint64(l.jitterMax))
}
