package ratelimiter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jassus213/go-admission/logging"
)

// ErrorExceeded is passed to the ErrorHandler when a client exceeds the rate limit.
//
// Users can use errors.Is(err, ratelimiter.ErrorExceeded) to detect
// this specific condition.
var ErrorExceeded = errors.New("rate limit exceeded")

// KeyFunc extracts an explicit identifier (e.g. an authenticated user ID)
// from a request. Returning "" lets the middleware fall back to the client IP
// and then to Anonymous.
type KeyFunc func(r *http.Request) (string, error)

// ErrorHandler writes the response for a request that exceeded its limit.
//
// This allows custom responses, e.g., JSON, headers, or logging.
//
// Example:
//
//	func myHandler(w http.ResponseWriter, r *http.Request, err error, result Result) {
//	    w.Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds(), 10))
//	    w.WriteHeader(http.StatusTooManyRequests)
//	}
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error, result Result)

// InternalErrorHandler writes the response when the key function or the
// counter store fails. The default sends a bare 500.
type InternalErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Config holds all configurable options for the rate limiter middleware.
//
// Users typically create a Config via NewConfig and provide functional options.
type Config struct {
	KeyFunc      KeyFunc
	ErrorHandler ErrorHandler
	// InternalErrorHandler is used by net/http middleware. Gin middleware
	// records the error on the context instead.
	InternalErrorHandler InternalErrorHandler
	Logger               logging.Logger
	// TrustProxyHeaders lets net/http middleware read X-Forwarded-For and
	// X-Real-IP. Gin middleware uses the engine's trusted proxy settings instead.
	TrustProxyHeaders bool
}

// Option defines a functional option type for configuring the rate limiter middleware.
//
// Example:
//
//	cfg := NewConfig(
//	    WithLogger(myLogger),
//	    WithKeyFunc(myKeyFunc),
//	)
type Option func(*Config)

// NewConfig creates a Config with default settings, then applies
// any provided functional options.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		KeyFunc: func(r *http.Request) (string, error) {
			return IdentityFromContext(r.Context()), nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error, result Result) {
			WriteBlocked(w, result)
		},
		InternalErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		},
		Logger: logging.Nop(),
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithKeyFunc returns an Option to set a custom KeyFunc.
func WithKeyFunc(f KeyFunc) Option {
	return func(c *Config) {
		if f != nil {
			c.KeyFunc = f
		}
	}
}

// WithErrorHandler returns an Option to set a custom ErrorHandler.
func WithErrorHandler(f ErrorHandler) Option {
	return func(c *Config) {
		if f != nil {
			c.ErrorHandler = f
		}
	}
}

// WithInternalErrorHandler returns an Option to set a custom InternalErrorHandler.
func WithInternalErrorHandler(f InternalErrorHandler) Option {
	return func(c *Config) {
		if f != nil {
			c.InternalErrorHandler = f
		}
	}
}

// WithLogger returns an Option to set a custom Logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithTrustProxyHeaders returns an Option that makes net/http middleware
// derive the client IP from forwarding headers.
func WithTrustProxyHeaders(trust bool) Option {
	return func(c *Config) {
		c.TrustProxyHeaders = trust
	}
}

// SetHeaders stamps the X-RateLimit-* headers for a known policy.
func SetHeaders(h http.Header, result Result) {
	if !result.Known {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetUnix(), 10))
}

// WriteBlocked writes the standard 429 response:
// body {"error":"Too Many Requests"}, X-RateLimit-* headers and Retry-After.
// A result without a known policy (an unknown action under FailClosed) gets
// only Retry-After and a zero X-RateLimit-Remaining.
func WriteBlocked(w http.ResponseWriter, result Result) {
	h := w.Header()
	SetHeaders(h, result)
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds(), 10))
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Too Many Requests"})
}
