/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

// Package ratelimit provides an admission-control engine that decides, per
// identifier and per protected operation, whether a request proceeds or is
// rejected based on a configured rate budget.
//
// The primary entry point is the Engine:
//
//	store := kvstore.NewMemory()
//	limiter, _ := ratelimit.NewFixedWindowLimiter(store)
//	engine, _ := ratelimit.NewEngine(limiter, ratelimit.Rate{Count: 100, Duration: time.Minute})
//	dec, err := engine.Check(ctx, identifier)
//
// The returned Decision reports whether the request is allowed and, on deny,
// how long the caller should wait before retrying. A non-nil error is a
// failure to render a verdict (typically a StorageError), never a deny: the
// integrating system decides its own fail-open or fail-closed policy.
//
// # Strategies
//
// Two strategies implement the RateLimiter contract:
//
//   - FixedWindowLimiter counts requests per identifier in windows of fixed
//     length. Counting relies on the backend's atomic increment-with-expiry,
//     so it is lock-free and cheap. Optional per-identifier jitter
//     desynchronizes window resets across identifiers.
//   - TokenBucketLimiter admits bursts up to a capacity while enforcing a
//     steady average rate via continuous refill. Its read-compute-write cycle
//     is serialized per identifier with the backend's compare-and-swap.
//
// Both operate over a kvstore.Store, so a single strategy instance works with
// the in-process store (single instance) or Redis (many cooperating
// processes) without changes. Custom strategies can be built on the same
// Store; the provided ones also expose raw storage access via the
// StorageAccessor interface.
//
// # Attaching to a transport
//
// RequestProcessor and the RequestHandler interface form the seam for
// framework glue: the glue extracts an identifier (ClientIdentifier
// implements the default address+path policy), and translates OnReject and
// OnError into whatever its protocol requires. The engine only supplies the
// verdict and the retry-after estimate. Denied requests may optionally wait
// in a bounded per-identifier backlog instead of being rejected immediately.
//
// # Configuration
//
// Config carries the per-operation settings (budget, algorithm, jitter,
// bucket capacity, backlog) and validates them eagerly at registration time.
// NewEngineFromConfig and NewRequestProcessorFromConfig wire everything up.
package ratelimit
