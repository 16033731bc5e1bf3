/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"time"

	"github.com/ratekit/go-ratekit/kvstore"
)

// Rate-limiting algorithms.
const (
	AlgorithmFixedWindow = "fixed_window"
	AlgorithmTokenBucket = "token_bucket"
)

// BacklogConfig represents a configuration for backlog processing of denied
// requests.
type BacklogConfig struct {
	// Limit is the maximum number of denied requests per identifier that wait
	// for a free admission slot instead of being rejected immediately.
	// 0 disables backlogging.
	Limit int `mapstructure:"limit" yaml:"limit" json:"limit"`

	// Timeout is how long a request may stay backlogged.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// MaxKeys bounds the number of per-identifier backlog zones kept in
	// memory. 0 means a single zone shared by all identifiers.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
}

// Config represents a configuration for one protected operation's rate
// limiting. Configuration can be loaded in different formats (YAML, JSON)
// using config.Loader, or with json.Unmarshal/yaml.Unmarshal functions
// directly.
type Config struct {
	// Rate is the budget, e.g. "100/m" for at most 100 requests per minute.
	Rate Rate `mapstructure:"rate" yaml:"rate" json:"rate"`

	// Algorithm selects the strategy: "fixed_window" or "token_bucket".
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`

	// Jitter desynchronizes window resets of different identifiers.
	// Fixed window only.
	Jitter time.Duration `mapstructure:"jitter" yaml:"jitter" json:"jitter"`

	// BucketCapacity is the maximum burst size. Token bucket only;
	// defaults to Rate.Count.
	BucketCapacity int `mapstructure:"bucketCapacity" yaml:"bucketCapacity" json:"bucketCapacity"`

	// Backlog configures backlog processing of denied requests.
	Backlog BacklogConfig `mapstructure:"backlog" yaml:"backlog" json:"backlog"`
}

// Validate validates configuration. It is called at registration time so that
// misconfiguration never manifests as a runtime surprise under load.
func (c *Config) Validate() error {
	if err := c.Rate.Validate(); err != nil {
		return err
	}
	switch c.Algorithm {
	case AlgorithmFixedWindow:
		if c.BucketCapacity != 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("bucket capacity is not supported by %q", c.Algorithm)}
		}
	case AlgorithmTokenBucket:
		if c.Jitter != 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("jitter is not supported by %q", c.Algorithm)}
		}
		if c.BucketCapacity < 0 {
			return &ConfigurationError{
				Reason: fmt.Sprintf("bucket capacity should not be negative, got %d", c.BucketCapacity)}
		}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown rate limit algorithm %q", c.Algorithm)}
	}
	if c.Jitter < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("jitter should not be negative, got %s", c.Jitter)}
	}
	if c.Backlog.Limit < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("backlog limit should not be negative, got %d", c.Backlog.Limit)}
	}
	if c.Backlog.MaxKeys < 0 {
		return &ConfigurationError{
			Reason: fmt.Sprintf("backlog max keys should not be negative, got %d", c.Backlog.MaxKeys)}
	}
	return nil
}

// NewEngineFromConfig creates a decision engine with the strategy selected by
// the configuration, operating over the given storage backend. The strategy
// is fixed at this point, not discovered at call time.
func NewEngineFromConfig(cfg *Config, store kvstore.Store, options ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Reason: "config is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var limiter RateLimiter
	var err error
	switch cfg.Algorithm {
	case AlgorithmFixedWindow:
		limiter, err = NewFixedWindowLimiter(store, WithJitter(cfg.Jitter))
	case AlgorithmTokenBucket:
		limiter, err = NewTokenBucketLimiter(store, WithBucketCapacity(cfg.BucketCapacity))
	}
	if err != nil {
		return nil, err
	}
	return NewEngine(limiter, cfg.Rate, options...)
}

// NewRequestProcessorFromConfig creates an engine and a request processor
// with backlog settings taken from the configuration.
func NewRequestProcessorFromConfig(cfg *Config, store kvstore.Store, options ...EngineOption) (*RequestProcessor, error) {
	engine, err := NewEngineFromConfig(cfg, store, options...)
	if err != nil {
		return nil, err
	}
	return NewRequestProcessor(engine, BacklogParams{
		MaxKeys: cfg.Backlog.MaxKeys,
		Limit:   cfg.Backlog.Limit,
		Timeout: cfg.Backlog.Timeout,
	})
}
