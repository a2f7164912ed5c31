// Package store provides counter backends for github.com/jassus213/go-admission/ratelimiter.
//
// Currently supported backends:
//   - MemoryStore: in-process counters for single-instance deployments and as a fallback
//   - RedisStore: Redis-based counters shared by every instance
//   - FailoverStore: a primary store with transparent fallback behind a circuit breaker
//
// Stores implement the ratelimiter.Store interface, whose single Increment
// operation is atomic per key.
//
// Example usage:
//
//	ctx := context.Background()
//	local := store.NewMemory(ctx, time.Minute) // cleanup interval = 1 minute
//	shared := store.NewRedis(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//	counters := store.NewFailover(shared, local)
//	limiter := ratelimiter.New(registry, counters)
package store

import (
	"context"
	"sync"
	"time"

	"github.com/jassus213/go-admission/ratelimiter"
)

// fixedWindowEntry stores the counter and window bounds for a key.
type fixedWindowEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of ratelimiter.Store.
//
// A window is anchored at the first hit for a key and resets, together with
// its count, once now >= windowStart+window. An optional background goroutine
// removes expired entries.
//
// Note: MemoryStore is private to one process and loses all counters on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]fixedWindowEntry
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the store's time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemory creates a new MemoryStore instance.
//
// ctx: a parent context used to manage the lifecycle of the background cleanup goroutine.
// cleanupInterval: interval at which expired entries are removed. Pass 0 to disable cleanup.
//
// Example:
//
//	ctx := context.Background()
//	store := store.NewMemory(ctx, time.Minute)
func NewMemory(ctx context.Context, cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	store := &MemoryStore{
		entries: make(map[string]fixedWindowEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}

	if cleanupInterval > 0 {
		go store.runCleanup(ctx, cleanupInterval)
	}

	return store
}

// Increment atomically increases the counter for key in its fixed window.
//
// Example:
//
//	counter, err := store.Increment(ctx, "rl:5:email:203.0.113.7", time.Hour)
func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (ratelimiter.Counter, error) {
	if err := ctx.Err(); err != nil {
		return ratelimiter.Counter{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, found := s.entries[key]
	if found && !now.Before(e.expiresAt) {
		found = false
	}

	if !found {
		e = fixedWindowEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		e.count++
	}

	s.entries[key] = e
	return ratelimiter.Counter{Count: e.count, ResetAt: e.expiresAt}, nil
}

// Len returns the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// runCleanup periodically removes expired entries until ctx is done.
func (s *MemoryStore) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
