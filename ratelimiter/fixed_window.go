package ratelimiter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jassus213/go-admission/logging"
)

// ErrUnknownAction is reported through the logger when a check names an
// action with no registered policy.
var ErrUnknownAction = errors.New("ratelimiter: unknown action")

// UnknownActionPolicy decides what happens to checks against unregistered
// action names.
type UnknownActionPolicy int

const (
	// FailOpen allows the request. A typo in an action name must not take
	// legitimate traffic offline.
	FailOpen UnknownActionPolicy = iota
	// FailClosed blocks the request.
	FailClosed
)

// Limiter implements the "Fixed Window" rate-limiting algorithm for every
// action in a Registry.
//
// Each {action, identifier} pair owns one counter. The counter and its window
// start reset together once the window has elapsed.
//
// Example usage:
//
//	st := store.NewMemory(ctx, time.Minute)
//	limiter := ratelimiter.New(ratelimiter.MustRegistry(ratelimiter.DefaultPolicies()...), st)
//	result, err := limiter.Allow(ctx, ratelimiter.ActionFetchURL, "203.0.113.7")
//	if result.Allowed {
//	    // process request
//	} else {
//	    // reject request
//	}
type Limiter struct {
	registry *Registry
	store    Store
	prefix   string
	unknown  UnknownActionPolicy
	now      func() time.Time
	logger   logging.Logger
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithKeyPrefix sets the prefix of every counter key. Default "rl".
func WithKeyPrefix(prefix string) LimiterOption {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// WithUnknownActionPolicy sets the behavior for unregistered actions.
func WithUnknownActionPolicy(p UnknownActionPolicy) LimiterOption {
	return func(l *Limiter) {
		l.unknown = p
	}
}

// WithClock overrides the time source used for Retry-After computation.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLimiterLogger sets the limiter's logger.
func WithLimiterLogger(logger logging.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logging.OrNop(logger)
	}
}

// New creates a Limiter over registry and store.
func New(registry *Registry, store Store, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		registry: registry,
		store:    store,
		prefix:   "rl",
		unknown:  FailOpen,
		now:      time.Now,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the counter key for an {action, identifier} pair, laid out as
// <prefix>:<len(action)>:<action>:<identifier>. Action names contain ':'
// themselves, so the length keeps distinct pairs on distinct keys.
func (l *Limiter) Key(action, identifier string) string {
	key := strconv.Itoa(len(action)) + ":" + action + ":" + identifier
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}

// Registry returns the limiter's policies.
func (l *Limiter) Registry() *Registry {
	return l.registry
}

// Allow checks whether one more request for identifier is allowed under the
// action's policy. An empty identifier is counted as Anonymous.
//
// It returns a Result struct containing details that can be used for HTTP headers:
//
//   - Allowed: true if the request is within the limit
//   - Limit: maximum number of requests in the window
//   - Remaining: requests left in the current window
//   - ResetAt: when the window rolls over
//
// A store error is returned as-is together with a non-allowed Result; callers
// decide how to surface it.
func (l *Limiter) Allow(ctx context.Context, action, identifier string) (Result, error) {
	policy, ok := l.registry.Lookup(action)
	if !ok {
		return l.unknownResult(action), nil
	}
	if identifier == "" {
		identifier = Anonymous
	}

	counter, err := l.store.Increment(ctx, l.Key(action, identifier), policy.Window)
	if err != nil {
		return Result{Action: action, Known: true, Limit: policy.Limit}, err
	}

	remaining := policy.Limit - counter.Count
	if remaining < 0 {
		remaining = 0
	}
	result := Result{
		Action:    action,
		Known:     true,
		Allowed:   counter.Count <= policy.Limit,
		Limit:     policy.Limit,
		Remaining: remaining,
		ResetAt:   counter.ResetAt,
	}
	if !result.Allowed {
		result.RetryAfter = retryAfter(counter.ResetAt, l.now())
	}
	return result, nil
}

// AllowAll checks actions in order and stops at the first block, so a
// per-minute policy listed before a daily cap keeps bursts from draining the
// daily budget. When every check passes, the result with the fewest
// remaining requests is returned.
func (l *Limiter) AllowAll(ctx context.Context, identifier string, actions ...string) (Result, error) {
	var tightest Result
	haveKnown := false
	for _, action := range actions {
		res, err := l.Allow(ctx, action, identifier)
		if err != nil || !res.Allowed {
			return res, err
		}
		if !res.Known {
			continue
		}
		if !haveKnown || res.Remaining < tightest.Remaining {
			tightest = res
			haveKnown = true
		}
	}
	if !haveKnown {
		return Result{Allowed: true}, nil
	}
	return tightest, nil
}

func (l *Limiter) unknownResult(action string) Result {
	if l.unknown == FailClosed {
		l.logger.Error("rate limit check against unregistered action, blocking",
			"action", action, "error", ErrUnknownAction)
		return Result{Action: action, Allowed: false, RetryAfter: time.Second}
	}
	l.logger.Warn("rate limit check against unregistered action, allowing",
		"action", action, "error", ErrUnknownAction)
	return Result{Action: action, Allowed: true}
}
