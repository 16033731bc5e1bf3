/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultBacklogTimeout determines the default timeout for backlog processing.
const DefaultBacklogTimeout = time.Second * 5

// backlogSlotsProvider provides backlog slots per identifier.
type backlogSlotsProvider func(identifier string) chan struct{}

// Params contains data that relates to the rate limiting procedure and could
// be used for rejecting a request or handling an occurred error.
type Params struct {
	Identifier          string
	RequestBacklogged   bool
	EstimatedRetryAfter time.Duration
}

// RequestHandler abstracts a single admission-controlled request. It is the
// seam at which transport glue (HTTP middleware, gRPC interceptors, job
// runners) attaches to the engine; the engine itself never formats responses
// or headers.
type RequestHandler interface {
	// GetContext returns the request context.
	GetContext() context.Context

	// GetIdentifier extracts the rate limiting identifier from the request.
	// Returns the identifier, whether to bypass rate limiting, and an error.
	GetIdentifier() (identifier string, bypass bool, err error)

	// Execute processes the actual request.
	Execute() error

	// OnReject handles request rejection when the rate limit is exceeded.
	OnReject(params Params) error

	// OnError handles failures that occur during rate limiting.
	OnError(params Params, err error) error
}

// RequestProcessor drives the admission-control flow for any request type:
// extract identifier, check the budget, execute or reject, with optional
// backlog queuing of denied requests.
type RequestProcessor struct {
	engine          *Engine
	getBacklogSlots backlogSlotsProvider
	backlogTimeout  time.Duration
}

// BacklogParams defines parameters for the backlog processing.
// When Limit is positive, up to Limit denied requests per identifier wait for
// a free admission slot instead of being rejected immediately.
type BacklogParams struct {
	MaxKeys int
	Limit   int
	Timeout time.Duration
}

// NewRequestProcessor creates a new request processor on top of the engine.
func NewRequestProcessor(engine *Engine, backlogParams BacklogParams) (*RequestProcessor, error) {
	if engine == nil {
		return nil, &ConfigurationError{Reason: "engine is required"}
	}
	if backlogParams.Limit < 0 {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("backlog limit should not be negative, got %d", backlogParams.Limit)}
	}
	if backlogParams.MaxKeys < 0 {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("max keys for backlog should not be negative, got %d", backlogParams.MaxKeys)}
	}
	var getBacklogSlots backlogSlotsProvider
	if backlogParams.Limit > 0 {
		getBacklogSlots = newBacklogSlotsProvider(backlogParams.Limit, backlogParams.MaxKeys)
	}
	if backlogParams.Timeout == 0 {
		backlogParams.Timeout = DefaultBacklogTimeout
	}
	return &RequestProcessor{
		engine:          engine,
		getBacklogSlots: getBacklogSlots,
		backlogTimeout:  backlogParams.Timeout,
	}, nil
}

// ProcessRequest runs the admission-control flow for one request.
func (p *RequestProcessor) ProcessRequest(rh RequestHandler) error {
	ctx := rh.GetContext()

	identifier, bypass, err := rh.GetIdentifier()
	if err != nil {
		return rh.OnError(Params{Identifier: identifier}, fmt.Errorf("get identifier for rate limit: %w", err))
	}
	if bypass { // Rate limiting is bypassed for this request.
		return rh.Execute()
	}

	dec, err := p.engine.Check(ctx, identifier)
	if err != nil {
		return rh.OnError(Params{Identifier: identifier}, fmt.Errorf("rate limit: %w", err))
	}
	if dec.Allow {
		return rh.Execute()
	}

	if p.getBacklogSlots == nil { // Backlogging is disabled.
		p.engine.metrics.IncRejects(p.engine.algorithm, false)
		return rh.OnReject(Params{
			Identifier:          identifier,
			RequestBacklogged:   false,
			EstimatedRetryAfter: dec.RetryAfter,
		})
	}

	return p.processBacklog(rh, identifier, dec.RetryAfter)
}

func (p *RequestProcessor) processBacklog(rh RequestHandler, identifier string, retryAfter time.Duration) error {
	ctx := rh.GetContext()

	backlogSlots := p.getBacklogSlots(identifier)
	backlogged := false
	select {
	case backlogSlots <- struct{}{}:
		backlogged = true
	default:
		// There are no free slots in the backlog, reject the request immediately.
		p.engine.metrics.IncRejects(p.engine.algorithm, false)
		return rh.OnReject(Params{
			Identifier:          identifier,
			RequestBacklogged:   backlogged,
			EstimatedRetryAfter: retryAfter,
		})
	}

	freeBacklogSlotIfNeeded := func() {
		if backlogged {
			select {
			case <-backlogSlots:
				backlogged = false
			default:
			}
		}
	}
	defer freeBacklogSlotIfNeeded()

	backlogTimeoutTimer := time.NewTimer(p.backlogTimeout)
	defer backlogTimeoutTimer.Stop()

	retryTimer := time.NewTimer(retryAfter)
	defer retryTimer.Stop()

	for {
		select {
		case <-retryTimer.C:
			// Will do another check of the rate limit.
		case <-backlogTimeoutTimer.C:
			freeBacklogSlotIfNeeded()
			p.engine.metrics.IncRejects(p.engine.algorithm, true)
			return rh.OnReject(Params{
				Identifier:          identifier,
				RequestBacklogged:   backlogged,
				EstimatedRetryAfter: retryAfter,
			})
		case <-ctx.Done():
			freeBacklogSlotIfNeeded()
			return rh.OnError(Params{
				Identifier:          identifier,
				RequestBacklogged:   backlogged,
				EstimatedRetryAfter: retryAfter,
			}, ctx.Err())
		}

		dec, err := p.engine.Check(ctx, identifier)
		if err != nil {
			freeBacklogSlotIfNeeded()
			return rh.OnError(Params{
				Identifier:          identifier,
				RequestBacklogged:   backlogged,
				EstimatedRetryAfter: retryAfter,
			}, fmt.Errorf("rate limit: %w", err))
		}
		if dec.Allow {
			freeBacklogSlotIfNeeded()
			return rh.Execute()
		}
		retryAfter = dec.RetryAfter

		if !retryTimer.Stop() {
			select {
			case <-retryTimer.C:
			default:
			}
		}
		retryTimer.Reset(retryAfter)
	}
}

// newBacklogSlotsProvider creates a new backlog slots provider. With maxKeys
// of 0 a single slots zone is shared by all identifiers; otherwise per-key
// zones are kept in an LRU to bound memory for high-cardinality identifiers.
func newBacklogSlotsProvider(backlogLimit, maxKeys int) backlogSlotsProvider {
	if maxKeys == 0 {
		backlogSlots := make(chan struct{}, backlogLimit)
		return func(identifier string) chan struct{} {
			return backlogSlots
		}
	}
	keysZone, _ := lru.New[string, chan struct{}](maxKeys) // Error is always nil here.
	return func(identifier string) chan struct{} {
		if slots, ok := keysZone.Get(identifier); ok {
			return slots
		}
		newSlots := make(chan struct{}, backlogLimit)
		if prev, ok, _ := keysZone.PeekOrAdd(identifier, newSlots); ok {
			return prev
		}
		return newSlots
	}
}
