// Package ratelimiter provides per-action, per-identifier fixed window rate
// limiting over a pluggable counter store.
//
// The package defines four core abstractions:
//   - Policy and Registry: the fixed set of actions and their {Limit, Window}
//   - Store: backend interface for counters (e.g., MemoryStore, RedisStore)
//   - Limiter: evaluates a request against its action's policy
//   - Result: outcome of a check, used to populate HTTP headers
package ratelimiter

import (
	"context"
	"math"
	"time"
)

// Counter is the state of one fixed window after an increment.
type Counter struct {
	// Count is the number of hits recorded in the current window, including this one.
	Count int64
	// ResetAt is the instant the current window ends.
	ResetAt time.Time
}

// Store defines the interface for storing rate-limiting counters.
//
// This abstraction allows interchangeable backends such as in-memory stores
// or Redis for distributed rate limiting. The store is owned by the Limiter;
// nothing else reads or writes its counters.
type Store interface {
	// Increment atomically increments the counter for key and returns it.
	//
	// If the key does not exist, or its window has elapsed, the counter is
	// created with a value of 1 and a window starting now.
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)
}

// Result contains the outcome of a rate limit check.
//
// It provides the necessary data to populate standard rate-limiting HTTP headers
// such as `X-RateLimit-Limit`, `X-RateLimit-Remaining`, and `X-RateLimit-Reset`.
type Result struct {
	// Action is the policy name the request was checked against.
	Action string
	// Known is false when the action has no registered policy.
	Known bool
	// Allowed indicates whether the request is permitted.
	Allowed bool
	// Limit is the total number of requests allowed in the current window.
	Limit int64
	// Remaining is the number of requests left in the current window.
	Remaining int64
	// ResetAt is when the current window ends.
	ResetAt time.Time
	// RetryAfter is set on blocked results; never less than one second.
	RetryAfter time.Duration
}

// ResetUnix returns ResetAt as epoch seconds, rounded up.
func (r Result) ResetUnix() int64 {
	if r.ResetAt.IsZero() {
		return 0
	}
	sec := r.ResetAt.Unix()
	if r.ResetAt.Nanosecond() > 0 {
		sec++
	}
	return sec
}

// RetryAfterSeconds returns RetryAfter in whole seconds, minimum 1.
func (r Result) RetryAfterSeconds() int64 {
	secs := int64(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func retryAfter(resetAt, now time.Time) time.Duration {
	secs := math.Ceil(resetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
