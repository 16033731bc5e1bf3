/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ratekit/go-ratekit/kvstore"
)

const tokenBucketKeyPrefix = "ratelimit:tb"

// tokenBucketCASRetries bounds the compare-and-swap retry loop within a
// single check. Exceeding it is reported as storage contention, never as a
// verdict.
const tokenBucketCASRetries = 10

// errCASConflict marks a lost compare-and-swap race; the check is retried
// with backoff.
var errCASConflict = errors.New("rate limit state changed concurrently")

// bucketState is the persisted per-identifier token bucket record.
type bucketState struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"last_refill"` // nanoseconds since epoch
}

// TokenBucketLimiter implements the token bucket algorithm: each identifier
// owns a bucket that refills at rate.Count/rate.Duration tokens per second up
// to its capacity, and each admitted request consumes one token. Bursts up to
// the capacity are admitted instantly while the long-term average rate stays
// bounded.
//
// The read-compute-write cycle is serialized per identifier with the
// backend's compare-and-swap primitive: a check that loses the race reloads
// the state and retries with backoff, a bounded number of times. This keeps
// checks for the same identifier linearizable across processes without any
// locks, and checks for different identifiers never contend with each other.
type TokenBucketLimiter struct {
	store    kvstore.Store
	capacity int // 0 means "use rate.Count"
	nowFunc  func() time.Time
}

var _ RateLimiter = (*TokenBucketLimiter)(nil)
var _ StorageAccessor = (*TokenBucketLimiter)(nil)

// TokenBucketOption is a functional option for the TokenBucketLimiter.
type TokenBucketOption func(*TokenBucketLimiter)

// WithBucketCapacity sets the maximum number of tokens the bucket can hold,
// which is also the maximum instant burst. By default the capacity equals the
// rate's request limit.
func WithBucketCapacity(capacity int) TokenBucketOption {
	return func(l *TokenBucketLimiter) {
		l.capacity = capacity
	}
}

// NewTokenBucketLimiter creates a new token bucket strategy over the given
// storage backend.
func NewTokenBucketLimiter(store kvstore.Store, options ...TokenBucketOption) (*TokenBucketLimiter, error) {
	if store == nil {
		return nil, &ConfigurationError{Reason: "storage backend is required"}
	}
	l := &TokenBucketLimiter{store: store, nowFunc: time.Now}
	for _, opt := range options {
		opt(l)
	}
	if l.capacity < 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("bucket capacity should not be negative, got %d", l.capacity)}
	}
	return l, nil
}

// Allow checks whether one more request from the subject named by key fits
// into the budget. A missing bucket initializes full.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string, rate Rate) (Decision, error) {
	if err := rate.Validate(); err != nil {
		return Decision{}, err
	}
	if rate.Count == 0 {
		// Zero refill rate, no token will ever become available.
		return Decision{Allow: false, RetryAfter: rate.Duration}, nil
	}

	capacity := l.capacity
	if capacity == 0 {
		capacity = rate.Count
	}
	refillRate := float64(rate.Count) / rate.Duration.Seconds()

	var dec Decision
	attempt := func() error {
		var err error
		dec, err = l.checkOnce(ctx, key, rate, capacity, refillRate)
		if err != nil && !errors.Is(err, errCASConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond
	bo.MaxInterval = 10 * time.Millisecond

	err := backoff.Retry(attempt, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), tokenBucketCASRetries))
	if err != nil {
		if errors.Is(err, errCASConflict) {
			return Decision{}, &StorageError{Key: key, Err: ErrStorageContention}
		}
		return Decision{}, err
	}
	return dec, nil
}

// checkOnce performs one read-compute-write cycle. It fails with
// errCASConflict if another check for the same identifier interleaved.
func (l *TokenBucketLimiter) checkOnce(
	ctx context.Context, key string, rate Rate, capacity int, refillRate float64,
) (Decision, error) {
	storageKey := fmt.Sprintf("%s:%s:bucket", tokenBucketKeyPrefix, key)
	stateTTL := 2 * rate.Duration

	prevRaw, exists, err := l.store.Get(ctx, storageKey)
	if err != nil {
		return Decision{}, &StorageError{Key: key, Err: err}
	}

	now := l.nowFunc()
	tokens := float64(capacity)
	if exists {
		var st bucketState
		if err = json.Unmarshal(prevRaw, &st); err != nil {
			return Decision{}, &StorageError{Key: key, Err: fmt.Errorf("malformed bucket state: %w", err)}
		}
		elapsed := now.Sub(time.Unix(0, st.LastRefill))
		if elapsed < 0 {
			elapsed = 0
		}
		tokens = st.Tokens + elapsed.Seconds()*refillRate
		if tokens > float64(capacity) {
			tokens = float64(capacity)
		}
		if st.Tokens < 0 {
			return Decision{}, &StrategyError{
				Algorithm: AlgorithmTokenBucket,
				Key:       key,
				Reason:    fmt.Sprintf("stored token count is negative: %f", st.Tokens),
			}
		}
	}

	var dec Decision
	if tokens >= 1 {
		tokens--
		dec = Decision{Allow: true, Remaining: int64(tokens)}
	} else {
		// Tokens keep accruing even on denial; only the refill timestamp
		// advances here.
		dec = Decision{
			Allow:      false,
			Remaining:  0,
			RetryAfter: time.Duration(math.Ceil((1-tokens)/refillRate)) * time.Second,
		}
	}

	newRaw, err := json.Marshal(bucketState{Tokens: tokens, LastRefill: now.UnixNano()})
	if err != nil {
		return Decision{}, &StorageError{Key: key, Err: err}
	}
	swapped, err := l.store.CompareAndSwap(ctx, storageKey, prevRaw, newRaw, stateTTL)
	if err != nil {
		return Decision{}, &StorageError{Key: key, Err: err}
	}
	if !swapped {
		return Decision{}, errCASConflict
	}
	return dec, nil
}

// GetData returns a raw value from the underlying storage backend.
// Implements StorageAccessor interface.
func (l *TokenBucketLimiter) GetData(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, false, &StorageError{Key: key, Err: err}
	}
	return value, ok, nil
}

// SetData stores a raw value in the underlying storage backend.
// Implements StorageAccessor interface.
func (l *TokenBucketLimiter) SetData(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := l.store.Set(ctx, key, value, ttl); err != nil {
		return &StorageError{Key: key, Err: err}
	}
	return nil
}
