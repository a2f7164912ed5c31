package store

import (
	"context"
	"time"

	"github.com/jassus213/go-admission/logging"
	"github.com/jassus213/go-admission/ratelimiter"
)

// FailoverStore sends increments to a primary (usually shared) store and
// falls back to a local store when the primary fails. Semantics are identical
// on both paths; only cross-instance accuracy is lost while degraded.
type FailoverStore struct {
	primary  ratelimiter.Store
	fallback ratelimiter.Store
	breaker  *CircuitBreaker
	logger   logging.Logger
}

// FailoverOption configures a FailoverStore.
type FailoverOption func(*FailoverStore)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *CircuitBreaker) FailoverOption {
	return func(s *FailoverStore) {
		if cb != nil {
			s.breaker = cb
		}
	}
}

// WithFailoverLogger sets the logger used for breaker transitions.
func WithFailoverLogger(l logging.Logger) FailoverOption {
	return func(s *FailoverStore) {
		s.logger = logging.OrNop(l)
	}
}

// NewFailover creates a FailoverStore.
func NewFailover(primary, fallback ratelimiter.Store, opts ...FailoverOption) *FailoverStore {
	s := &FailoverStore{
		primary:  primary,
		fallback: fallback,
		breaker:  NewCircuitBreaker(CircuitOptions{}),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment implements ratelimiter.Store.
func (s *FailoverStore) Increment(ctx context.Context, key string, window time.Duration) (ratelimiter.Counter, error) {
	if s.breaker.Allow() {
		counter, err := s.primary.Increment(ctx, key, window)
		if err == nil {
			if s.breaker.OnSuccess() {
				s.logger.Info("rate limit primary store recovered")
			}
			return counter, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.breaker.OnAbandoned()
			return ratelimiter.Counter{}, ctxErr
		}
		if s.breaker.OnFailure() {
			s.logger.Warn("rate limit primary store unavailable, using local fallback",
				"error", err)
		} else {
			s.logger.Debug("rate limit primary store call failed", "key", key, "error", err)
		}
	}
	return s.fallback.Increment(ctx, key, window)
}

// Degraded reports whether the breaker currently routes around the primary.
func (s *FailoverStore) Degraded() bool {
	return s.breaker.State() != CircuitClosed
}
