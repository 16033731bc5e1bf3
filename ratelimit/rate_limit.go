/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rate describes a rate budget: at most Count requests per Duration.
// Count == 0 is a valid budget that denies every request.
type Rate struct {
	Count    int
	Duration time.Duration
}

// Validate checks that the rate describes a usable budget.
func (r Rate) Validate() error {
	if r.Count < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("requests limit should not be negative, got %d", r.Count)}
	}
	if r.Duration <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("window duration should be positive, got %s", r.Duration)}
	}
	return nil
}

// String returns a string representation of the rate in the "N/(s|m|h)" form,
// falling back to "N/<duration>" for periods other than exactly one second,
// minute or hour. Implements fmt.Stringer interface.
func (r Rate) String() string {
	if r.Count == 0 && r.Duration == 0 {
		return ""
	}
	var d string
	switch r.Duration {
	case time.Second:
		d = "s"
	case time.Minute:
		d = "m"
	case time.Hour:
		d = "h"
	default:
		d = r.Duration.String()
	}
	return fmt.Sprintf("%d/%s", r.Count, d)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (r *Rate) UnmarshalText(text []byte) error {
	return r.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (r *Rate) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return r.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *Rate) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return r.unmarshal(text)
}

func (r *Rate) unmarshal(rate string) error {
	if rate == "" {
		*r = Rate{}
		return nil
	}
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for rate %q, should be N/(s|m|h) or N/<duration>, for example 10/s, 100/m, 5/1m30s", rate)
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) != 2 {
		return incorrectFormatErr
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return incorrectFormatErr
	}
	var dur time.Duration
	switch unit := strings.ToLower(parts[1]); unit {
	case "s":
		dur = time.Second
	case "m":
		dur = time.Minute
	case "h":
		dur = time.Hour
	default:
		// Rates built in code may carry an arbitrary period (see String),
		// accept what the marshaled form produces.
		if dur, err = time.ParseDuration(unit); err != nil || dur <= 0 {
			return incorrectFormatErr
		}
	}
	*r = Rate{Count: count, Duration: dur}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (r Rate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (r Rate) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// Decision is a rate limiting verdict for a single request.
type Decision struct {
	// Allow reports whether the request may proceed.
	Allow bool

	// Remaining is the number of whole admission slots left after this
	// decision is applied.
	Remaining int64

	// RetryAfter is 0 when allowed; when denied it is the time the caller
	// should wait before the next check is likely to succeed.
	RetryAfter time.Duration
}

// RateLimiter is a capability contract implemented by rate limiting
// strategies. Implementations must be safe for concurrent use and for reuse
// across many identifiers.
type RateLimiter interface {
	// Allow checks whether one more request from the subject named by key fits
	// into the budget described by rate. A non-nil error is a failure to
	// render a verdict (see StorageError), never a deny.
	Allow(ctx context.Context, key string, rate Rate) (Decision, error)
}

// StorageAccessor provides raw access to the strategy's storage backend for
// custom strategies built on top of the provided ones.
type StorageAccessor interface {
	GetData(ctx context.Context, key string) (value []byte, ok bool, err error)
	SetData(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ClientIdentifier builds an identifier from a client address and an
// operation path. It is the default identifier policy: distinct clients and
// distinct operations get independent budgets.
func ClientIdentifier(clientAddr, operationPath string) string {
	return "ip:" + clientAddr + "|path:" + operationPath
}
