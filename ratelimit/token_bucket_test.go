/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/ratekit/go-ratekit/kvstore"
)

func TestTokenBucketLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	t.Run("missing bucket initializes full and admits a burst", func(t *testing.T) {
		limiter, err := NewTokenBucketLimiter(kvstore.NewMemory())
		require.NoError(t, err)
		limiter.nowFunc = func() time.Time { return start }

		rate := Rate{Count: 10, Duration: time.Minute}
		for i := 0; i < 10; i++ {
			dec, allowErr := limiter.Allow(ctx, "client-1", rate)
			require.NoError(t, allowErr)
			require.True(t, dec.Allow, "burst request %d should be admitted", i+1)
			require.Equal(t, int64(9-i), dec.Remaining)
		}

		// Bucket is drained, refill is 10/60 tokens per second, so the next
		// whole token arrives in 6 seconds.
		dec, err := limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.False(t, dec.Allow)
		require.Equal(t, 6*time.Second, dec.RetryAfter)
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		limiter, err := NewTokenBucketLimiter(kvstore.NewMemory())
		require.NoError(t, err)
		now := start
		limiter.nowFunc = func() time.Time { return now }

		rate := Rate{Count: 2, Duration: time.Minute}
		for i := 0; i < 2; i++ {
			dec, allowErr := limiter.Allow(ctx, "client-1", rate)
			require.NoError(t, allowErr)
			require.True(t, dec.Allow)
		}
		dec, err := limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.False(t, dec.Allow)

		// One token accrues every 30 seconds.
		now = start.Add(30 * time.Second)
		dec, err = limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.True(t, dec.Allow)

		dec, err = limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.False(t, dec.Allow, "only one token should have accrued")
	})

	t.Run("bucket never fills above capacity", func(t *testing.T) {
		limiter, err := NewTokenBucketLimiter(kvstore.NewMemory())
		require.NoError(t, err)
		now := start
		limiter.nowFunc = func() time.Time { return now }

		rate := Rate{Count: 3, Duration: time.Minute}
		dec, err := limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.True(t, dec.Allow)

		// A long idle period must not bank more than the capacity.
		now = start.Add(time.Hour)
		for i := 0; i < 3; i++ {
			dec, err = limiter.Allow(ctx, "client-1", rate)
			require.NoError(t, err)
			require.True(t, dec.Allow)
		}
		dec, err = limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.False(t, dec.Allow)
	})

	t.Run("tokens accrue while requests are being denied", func(t *testing.T) {
		limiter, err := NewTokenBucketLimiter(kvstore.NewMemory())
		require.NoError(t, err)
		now := start
		limiter.nowFunc = func() time.Time { return now }

		rate := Rate{Count: 1, Duration: time.Minute}
		dec, err := limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.True(t, dec.Allow)

		dec, err = limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.False(t, dec.Allow)
		require.Equal(t, time.Minute, dec.RetryAfter)

		// Half a token accrued since the drain; the denial must not reset it.
		now = start.Add(30 * time.Second)
		dec, err = limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.False(t, dec.Allow)
		require.Equal(t, 30*time.Second, dec.RetryAfter)

		now = start.Add(60 * time.Second)
		dec, err = limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.True(t, dec.Allow)
	})

	t.Run("explicit capacity caps the burst independently of the rate", func(t *testing.T) {
		limiter, err := NewTokenBucketLimiter(kvstore.NewMemory(), WithBucketCapacity(3))
		require.NoError(t, err)
		limiter.nowFunc = func() time.Time { return start }

		rate := Rate{Count: 10, Duration: time.Minute}
		for i := 0; i < 3; i++ {
			dec, allowErr := limiter.Allow(ctx, "client-1", rate)
			require.NoError(t, allowErr)
			require.True(t, dec.Allow)
		}
		dec, err := limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		require.False(t, dec.Allow)
	})

	t.Run("zero limit denies with the full period as the hint", func(t *testing.T) {
		limiter, err := NewTokenBucketLimiter(kvstore.NewMemory())
		require.NoError(t, err)

		dec, err := limiter.Allow(ctx, "client-1", Rate{Count: 0, Duration: time.Minute})
		require.NoError(t, err)
		require.False(t, dec.Allow)
		require.Equal(t, time.Minute, dec.RetryAfter)
	})

	t.Run("identifiers do not affect each other", func(t *testing.T) {
		limiter, err := NewTokenBucketLimiter(kvstore.NewMemory())
		require.NoError(t, err)
		limiter.nowFunc = func() time.Time { return start }

		rate := Rate{Count: 1, Duration: time.Minute}
		dec, err := limiter.Allow(ctx, "client-a", rate)
		require.NoError(t, err)
		require.True(t, dec.Allow)
		dec, err = limiter.Allow(ctx, "client-a", rate)
		require.NoError(t, err)
		require.False(t, dec.Allow)

		dec, err = limiter.Allow(ctx, "client-b", rate)
		require.NoError(t, err)
		require.True(t, dec.Allow)
	})

	t.Run("invalid rate", func(t *testing.T) {
		limiter, err := NewTokenBucketLimiter(kvstore.NewMemory())
		require.NoError(t, err)

		_, err = limiter.Allow(ctx, "client-1", Rate{Count: 1, Duration: 0})
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("negative capacity is rejected at construction", func(t *testing.T) {
		_, err := NewTokenBucketLimiter(kvstore.NewMemory(), WithBucketCapacity(-1))
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestTokenBucketLimiter_MalformedState(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	limiter, err := NewTokenBucketLimiter(store)
	require.NoError(t, err)

	storageKey := fmt.Sprintf("%s:%s:bucket", tokenBucketKeyPrefix, "client-1")
	require.NoError(t, store.Set(ctx, storageKey, []byte("{not json"), 0))

	_, err = limiter.Allow(ctx, "client-1", Rate{Count: 1, Duration: time.Minute})
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, "client-1", storageErr.Key)
}

func TestTokenBucketLimiter_Concurrency(t *testing.T) {
	ctx := context.Background()
	limiter, err := NewTokenBucketLimiter(kvstore.NewMemory())
	require.NoError(t, err)

	const capacity = 5
	const n = 20
	rate := Rate{Count: capacity, Duration: time.Hour}

	var allowedCount, contendedCount atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			dec, allowErr := limiter.Allow(ctx, "client-1", rate)
			if allowErr != nil {
				// Exceeding the bounded retries under heavy contention is a
				// legal outcome, but it must be reported as such.
				require.ErrorIs(t, allowErr, ErrStorageContention)
				contendedCount.Inc()
				return
			}
			if dec.Allow {
				allowedCount.Inc()
			}
		}()
	}
	wg.Wait()

	// Contention is transient: a check that gave up has neither consumed nor
	// stranded a token, so a serial re-run must complete every verdict.
	for i := 0; i < int(contendedCount.Load()); i++ {
		dec, err := limiter.Allow(ctx, "client-1", rate)
		require.NoError(t, err)
		if dec.Allow {
			allowedCount.Inc()
		}
	}

	// The compare-and-swap cycle must not hand out the same token twice or
	// lose one: exactly the capacity is admitted.
	require.Equal(t, capacity, int(allowedCount.Load()))
}

func TestTokenBucketLimiter_StateTTL(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	limiter, err := NewTokenBucketLimiter(store)
	require.NoError(t, err)

	rate := Rate{Count: 1, Duration: 50 * time.Millisecond}
	dec, err := limiter.Allow(ctx, "client-1", rate)
	require.NoError(t, err)
	require.True(t, dec.Allow)
	require.Equal(t, 1, store.Len())

	// State lives for twice the period, then an idle bucket is dropped.
	time.Sleep(60 * time.Millisecond)
	store.Cleanup()
	require.Equal(t, 1, store.Len())

	time.Sleep(60 * time.Millisecond)
	store.Cleanup()
	require.Equal(t, 0, store.Len())
}
