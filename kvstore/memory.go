/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Store implementation.
//
// All state lives in a map guarded by a mutex; the critical sections are
// short (map access plus an integer parse at most), so contention stays low
// even for hot identifiers. Expired entries are removed lazily on access,
// which is enough to satisfy the Store contract: no caller ever observes an
// expired value as present. For long-lived processes with high-cardinality
// keys, RunPeriodicCleanup reclaims memory for identifiers that stopped
// sending requests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nowFunc func() time.Time
}

// NewMemory creates a new in-process store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		nowFunc: time.Now,
	}
}

// Get returns the value stored under key. It never fails.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getEntry(key)
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with an optional TTL. It never fails.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

// IncrBy atomically adds delta to the integer stored under key.
// It fails if the stored value is not a decimal integer.
func (m *Memory) IncrBy(_ context.Context, key string, delta int64, ttlIfNew time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.getEntry(key)
	if !ok {
		m.entries[key] = memoryEntry{
			value:     []byte(strconv.FormatInt(delta, 10)),
			expiresAt: m.expiry(ttlIfNew),
		}
		return delta, nil
	}

	cur, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value under key %q is not an integer", key)
	}
	cur += delta
	e.value = []byte(strconv.FormatInt(cur, 10))
	m.entries[key] = e
	return cur, nil
}

// CompareAndSwap atomically replaces the value stored under key if the current
// value equals old (nil old means the key must be absent). It never fails.
func (m *Memory) CompareAndSwap(_ context.Context, key string, old, newVal []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.getEntry(key)
	if old == nil {
		if ok {
			return false, nil
		}
	} else {
		if !ok || string(e.value) != string(old) {
			return false, nil
		}
	}
	m.entries[key] = memoryEntry{value: newVal, expiresAt: m.expiry(ttl)}
	return true, nil
}

// Len returns the number of live (non-expired) entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFunc()
	n := 0
	for _, e := range m.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Cleanup removes all expired entries.
func (m *Memory) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFunc()
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}

// RunPeriodicCleanup runs a cleanup of expired entries with the specified
// interval. It's a blocking call and should typically be called in a separate
// goroutine. The sweep holds the store lock only for its own pass, so
// concurrent checks are not blocked for longer than a single map scan.
func (m *Memory) RunPeriodicCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// getEntry returns the live entry for key, dropping it if the TTL elapsed.
// Callers must hold mu.
func (m *Memory) getEntry(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(m.nowFunc()) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.nowFunc().Add(ttl)
}
