/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package ratelimit

import (
	"errors"
	"fmt"
)

// ErrStorageContention is wrapped into a StorageError when a strategy gives
// up on its bounded retry loop because of concurrent updates to the same
// identifier's state.
var ErrStorageContention = errors.New("too much contention on rate limit state")

// ConfigurationError reports an invalid rate limiting setup. It is returned
// eagerly at construction time, never during a check.
type ConfigurationError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return "invalid rate limiting configuration: " + e.Reason
}

// StorageError reports a storage backend failure (unreachable, timed out, or
// returned malformed data) during a check. It is distinguishable from a deny
// verdict so that the integrating system can apply an explicit fail-open or
// fail-closed policy.
type StorageError struct {
	// Key is the identifier that was being processed when the failure
	// occurred. Failures are scoped to this identifier only.
	Key string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("rate limit storage failure for key %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// StrategyError reports an internal invariant violation detected by a
// strategy. It is a programming defect, not an operational condition.
type StrategyError struct {
	Algorithm string
	Key       string
	Reason    string
}

// Error implements the error interface.
func (e *StrategyError) Error() string {
	return fmt.Sprintf("rate limit strategy %q invariant violation for key %q: %s", e.Algorithm, e.Key, e.Reason)
}
