/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"

	"github.com/rs/xid"

	"github.com/ratekit/go-ratekit/log"
)

// LogFieldKey is the name of the logged field that contains the identifier of
// the rate-limited subject.
const LogFieldKey = "rate_limit_key"

// Engine renders allow/deny verdicts for identifiers against a single rate
// budget using a configured strategy. It owns no persistent state; all
// mutable state lives in the strategy's storage backend.
//
// An Engine is constructed explicitly by the integrating application and
// passed by reference to call sites; there is no process-wide default. The
// budget and the strategy are fixed at construction (one Engine per protected
// operation), and misconfiguration is reported by NewEngine, never during a
// check.
type Engine struct {
	limiter    RateLimiter
	rate       Rate
	algorithm  string
	instanceID string
	logger     log.FieldLogger
	metrics    MetricsCollector
}

// EngineOption is a functional option for the Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for the engine. Storage failures and denied checks
// are logged with the identifier being processed.
func WithLogger(logger log.FieldLogger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetricsCollector sets a metrics collector for the engine.
func WithMetricsCollector(mc MetricsCollector) EngineOption {
	return func(e *Engine) {
		if mc != nil {
			e.metrics = mc
		}
	}
}

// NewEngine creates a new decision engine for the given strategy and budget.
func NewEngine(limiter RateLimiter, rate Rate, options ...EngineOption) (*Engine, error) {
	if limiter == nil {
		return nil, &ConfigurationError{Reason: "rate limiter strategy is required"}
	}
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		limiter:    limiter,
		rate:       rate,
		algorithm:  algorithmName(limiter),
		instanceID: xid.New().String(),
		logger:     log.NewDisabledLogger(),
		metrics:    disabledMetrics{},
	}
	for _, opt := range options {
		opt(e)
	}
	e.logger = e.logger.With(log.String("rate_limit_instance", e.instanceID))
	return e, nil
}

// Rate returns the engine's budget.
func (e *Engine) Rate() Rate {
	return e.rate
}

// Check renders the verdict for one request from the subject named by
// identifier. A storage or strategy failure is returned as a distinguishable
// error, never mapped to an allow or deny verdict; the caller chooses its own
// fail-open or fail-closed policy. Failures are scoped to the identifier
// being processed and never corrupt other identifiers' state.
func (e *Engine) Check(ctx context.Context, identifier string) (Decision, error) {
	dec, err := e.limiter.Allow(ctx, identifier, e.rate)
	if err != nil {
		var storageErr *StorageError
		if errors.As(err, &storageErr) {
			e.metrics.IncStorageErrors(e.algorithm)
		}
		e.logger.Error("rate limit check failed", log.String(LogFieldKey, identifier), log.Error(err))
		return Decision{}, err
	}
	if !dec.Allow {
		e.logger.Debug("rate limit exceeded",
			log.String(LogFieldKey, identifier), log.Duration("retry_after", dec.RetryAfter))
	}
	return dec, nil
}

func algorithmName(limiter RateLimiter) string {
	switch limiter.(type) {
	case *FixedWindowLimiter:
		return AlgorithmFixedWindow
	case *TokenBucketLimiter:
		return AlgorithmTokenBucket
	default:
		return "custom"
	}
}
