/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTimeout is a default per-operation timeout for the Redis store.
const DefaultRedisTimeout = 5 * time.Second

// incrByScript atomically increments a counter and attaches a TTL only when
// the call created the key. Executed server-side so that concurrent callers
// cannot observe the increment without the expiry.
var incrByScript = redis.NewScript(`
local created = redis.call('EXISTS', KEYS[1]) == 0
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
if created and tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return v
`)

// casScript implements compare-and-swap. An empty ARGV[1] means "create only
// if absent".
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '' then
	if cur then return 0 end
else
	if not cur or cur ~= ARGV[1] then return 0 end
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// Redis is a Store implementation backed by a Redis server (or cluster)
// shared by all cooperating processes.
//
// Atomicity of IncrBy and CompareAndSwap relies on Redis executing Lua
// scripts as a single isolated operation. Scripts are sent with EVALSHA and
// transparently reloaded on NOSCRIPT, so a Redis restart does not require
// recreating the store.
//
// CompareAndSwap encodes "absent" as an empty script argument, so empty
// values cannot be distinguished from absent keys; the rate limiting
// strategies never store empty values.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	timeout   time.Duration
}

// RedisOption is a functional option for the Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix sets a prefix that is prepended to every key.
// Useful when several applications share one Redis database.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.keyPrefix = prefix
	}
}

// WithTimeout bounds every storage round trip with the given timeout.
// A timed out operation is reported as a storage failure, it is never
// retried within the same call.
func WithTimeout(timeout time.Duration) RedisOption {
	return func(r *Redis) {
		r.timeout = timeout
	}
}

// NewRedis creates a new Redis-backed store. The client's lifetime is owned
// by the caller.
func NewRedis(client redis.UniversalClient, options ...RedisOption) *Redis {
	r := &Redis{client: client, timeout: DefaultRedisTimeout}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Ping verifies connectivity to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	value, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key with an optional TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// IncrBy atomically adds delta to the integer stored under key, attaching
// ttlIfNew if the call created the key.
func (r *Redis) IncrBy(ctx context.Context, key string, delta int64, ttlIfNew time.Duration) (int64, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	res, err := incrByScript.Run(ctx, r.client, []string{r.keyPrefix + key},
		delta, ttlIfNew.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incrby %q: %w", key, err)
	}
	return res, nil
}

// CompareAndSwap atomically replaces the value stored under key if the
// current value equals old (nil old means the key must be absent).
func (r *Redis) CompareAndSwap(ctx context.Context, key string, old, newVal []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	res, err := casScript.Run(ctx, r.client, []string{r.keyPrefix + key},
		string(old), string(newVal), strconv.FormatInt(ttl.Milliseconds(), 10)).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-swap %q: %w", key, err)
	}
	return res == 1, nil
}

func (r *Redis) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
