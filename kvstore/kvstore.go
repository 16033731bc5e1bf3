/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package kvstore

import (
	"context"
	"time"
)

// Store is a minimal key-value storage contract for per-identifier
// rate limiting state.
type Store interface {
	// Get returns the value stored under key. ok is false if the key is absent
	// (including entries whose TTL has elapsed). Implementations fail with a
	// non-nil error only on transport-level problems.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any prior value. If ttl is
	// positive, the entry becomes absent after ttl has elapsed from this call.
	// The TTL countdown is reset on every Set, even if the value is unchanged.
	// A non-positive ttl stores the entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// IncrBy atomically adds delta to the integer stored under key, treating
	// an absent key as 0, and returns the post-increment value. If the call
	// created the key, ttlIfNew is attached to it. The increment and the
	// conditional expiry are indivisible from the caller's perspective.
	IncrBy(ctx context.Context, key string, delta int64, ttlIfNew time.Duration) (int64, error)

	// CompareAndSwap atomically replaces the value stored under key with new
	// and attaches ttl to it, but only if the current value equals old.
	// A nil old means "create only if the key is absent". It reports whether
	// the swap happened.
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (swapped bool, err error)
}
