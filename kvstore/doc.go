/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

// Package kvstore provides a minimal key-value storage abstraction used by the
// rate limiting strategies to keep per-identifier state.
//
// The Store interface deliberately exposes only four operations: get, set with
// TTL, atomic increment with conditional expiry, and compare-and-swap. The
// first two cover arbitrary-value storage, IncrBy makes fixed-window counting
// correct under concurrency, and CompareAndSwap lets strategies whose update
// depends on a prior read (token bucket) serialize their read-compute-write
// cycle without an external lock.
//
// Two implementations are provided:
//
//   - Memory: process-local store for single-instance deployments and tests.
//     Expired entries are dropped lazily on access; RunPeriodicCleanup may be
//     used to sweep them in the background.
//   - Redis: shared store for multiple cooperating processes, backed by
//     redis/go-redis. Atomicity of IncrBy and CompareAndSwap is guaranteed by
//     server-side Lua scripts executed in a single round trip.
//
// All Store methods are safe for concurrent use.
package kvstore
