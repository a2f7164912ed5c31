package store

import (
	"sync/atomic"
	"time"
)

// CircuitState represents breaker state.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitOptions configures breaker thresholds.
type CircuitOptions struct {
	FailureThreshold int64
	OpenDuration     time.Duration
	HalfOpenMaxCalls int64
	// Now overrides the time source. Defaults to time.Now.
	Now func() time.Time
}

// CircuitBreaker tracks consecutive primary failures. While open, callers
// skip the primary entirely until OpenDuration has elapsed.
type CircuitBreaker struct {
	state            atomic.Int32
	openUntil        atomic.Int64
	failures         atomic.Int64
	halfOpenInFlight atomic.Int64
	opts             CircuitOptions
}

// NewCircuitBreaker constructs a breaker with defaults.
func NewCircuitBreaker(opts CircuitOptions) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = 5 * time.Second
	}
	if opts.HalfOpenMaxCalls <= 0 {
		opts.HalfOpenMaxCalls = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cb := &CircuitBreaker{opts: opts}
	cb.state.Store(int32(CircuitClosed))
	return cb
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// Allow reports whether the call should proceed.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}
	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.opts.Now().UnixNano() < cb.openUntil.Load() {
			return false
		}
		if cb.state.CompareAndSwap(int32(CircuitOpen), int32(CircuitHalfOpen)) {
			cb.halfOpenInFlight.Store(0)
		}
		return cb.admitHalfOpen()
	case CircuitHalfOpen:
		return cb.admitHalfOpen()
	default:
		return true
	}
}

func (cb *CircuitBreaker) admitHalfOpen() bool {
	if cb.halfOpenInFlight.Add(1) <= cb.opts.HalfOpenMaxCalls {
		return true
	}
	cb.halfOpenInFlight.Add(-1)
	return false
}

// OnSuccess records a successful call and reports whether it closed the breaker.
func (cb *CircuitBreaker) OnSuccess() bool {
	if cb == nil {
		return false
	}
	cb.failures.Store(0)
	if CircuitState(cb.state.Load()) == CircuitHalfOpen {
		cb.halfOpenInFlight.Add(-1)
		return cb.state.CompareAndSwap(int32(CircuitHalfOpen), int32(CircuitClosed))
	}
	return false
}

// OnFailure records a failure and reports whether it opened the breaker.
func (cb *CircuitBreaker) OnFailure() bool {
	if cb == nil {
		return false
	}
	openUntil := cb.opts.Now().Add(cb.opts.OpenDuration).UnixNano()
	state := CircuitState(cb.state.Load())
	if state == CircuitHalfOpen {
		cb.halfOpenInFlight.Add(-1)
		cb.openUntil.Store(openUntil)
		return cb.state.CompareAndSwap(int32(CircuitHalfOpen), int32(CircuitOpen))
	}
	if cb.failures.Add(1) >= cb.opts.FailureThreshold {
		cb.openUntil.Store(openUntil)
		return cb.state.CompareAndSwap(int32(CircuitClosed), int32(CircuitOpen))
	}
	return false
}

// OnAbandoned releases a half-open slot for a call that ended without a
// verdict, e.g. because the caller's context was canceled.
func (cb *CircuitBreaker) OnAbandoned() {
	if cb == nil {
		return
	}
	if CircuitState(cb.state.Load()) == CircuitHalfOpen {
		cb.halfOpenInFlight.Add(-1)
	}
}
