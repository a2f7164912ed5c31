// Package gin adapts the admission guards to Gin.
//
// A typical chain is
//
//	router.Use(ginmw.Errors(sanitizer), ginmw.CSRF(guard))
//	router.GET("/api/image-proxy", ginmw.RateLimiter(limiter, ratelimiter.ActionFetchURL), proxy)
//
// Errors goes first so it can recover panics raised by everything after it.
package gin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jassus213/go-admission/apierror"
	"github.com/jassus213/go-admission/csrf"
	"github.com/jassus213/go-admission/ratelimiter"
)

// Context keys set by the middleware.
const (
	CSRFTokenKey = "admission.csrf_token"
	RateLimitKey = "admission.rate_limit"
	OperationKey = "admission.operation"
	sanitizerKey = "admission.sanitizer"
)

// RateLimiter creates a new Gin middleware handler that checks each request
// against one action's policy.
//
// The identifier comes from the configured KeyFunc (an authenticated user ID
// by default), then from c.ClientIP(), which honors the engine's trusted
// proxy settings, then ratelimiter.Anonymous. X-RateLimit-* headers are set
// on allowed and blocked responses alike.
//
// Example:
//
//	router.POST("/api/reports/email", ginmw.RateLimiter(limiter, ratelimiter.ActionEmail), sendReport)
func RateLimiter(limiter *ratelimiter.Limiter, action string, options ...ratelimiter.Option) gin.HandlerFunc {
	return RateLimiterAll(limiter, []string{action}, options...)
}

// RateLimiterAll checks several actions in order, e.g. a per-minute policy
// followed by a daily cap, and blocks on the first one exhausted.
func RateLimiterAll(limiter *ratelimiter.Limiter, actions []string, options ...ratelimiter.Option) gin.HandlerFunc {
	cfg := ratelimiter.NewConfig(options...)

	return func(c *gin.Context) {
		explicit, err := cfg.KeyFunc(c.Request)
		if err != nil {
			cfg.Logger.Error("failed to extract rate limit key", "error", err, "path", c.Request.URL.Path)
			Fail(c, err)
			return
		}
		id := ratelimiter.Identify(explicit, c.ClientIP())

		result, err := limiter.AllowAll(c.Request.Context(), id, actions...)
		if err != nil {
			cfg.Logger.Error("rate limiter failed", "identifier", id, "action", result.Action, "error", err)
			Fail(c, err)
			return
		}
		c.Set(RateLimitKey, result)

		if !result.Allowed {
			cfg.Logger.Debug("request denied",
				"identifier", id, "action", result.Action, "limit", result.Limit)
			cfg.ErrorHandler(c.Writer, c.Request, ratelimiter.ErrorExceeded, result)
			c.Abort()
			return
		}

		ratelimiter.SetHeaders(c.Writer.Header(), result)
		cfg.Logger.Debug("request allowed",
			"identifier", id, "action", result.Action, "remaining", result.Remaining)
		c.Next()
	}
}

// CSRF applies the double-submit check. Minted tokens are set as a cookie,
// stored on the request context and under CSRFTokenKey.
func CSRF(guard *csrf.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := guard.Check(c.Request)
		if d.Cookie != nil {
			http.SetCookie(c.Writer, d.Cookie)
		}
		if !d.Allowed {
			csrf.WriteRejected(c.Writer)
			c.Abort()
			return
		}
		if d.Token != "" {
			c.Request = c.Request.WithContext(csrf.WithToken(c.Request.Context(), d.Token))
			c.Set(CSRFTokenKey, d.Token)
		}
		c.Next()
	}
}

// Errors routes panics and errors recorded with c.Error through the
// sanitizer once the chain completes. *apierror.ClientError values are
// echoed with their own status instead.
func Errors(s *apierror.Sanitizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(sanitizerKey, s)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			c.Abort()
			write(c, s, rec)
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		if status, msg, ok := apierror.IsClientError(err); ok {
			if !c.Writer.Written() {
				c.JSON(status, gin.H{"success": false, "error": msg})
			}
			return
		}
		write(c, s, err)
	}
}

func write(c *gin.Context, s *apierror.Sanitizer, v any) {
	ctx := errorContext(c)
	if c.Writer.Written() {
		// Headers are gone; the failure can still be logged.
		s.Sanitize(v, ctx)
		return
	}
	s.Write(c.Writer, c.Request, v, ctx)
}

func errorContext(c *gin.Context) apierror.Context {
	return apierror.Context{
		Route:     c.FullPath(),
		Operation: c.GetString(OperationKey),
		UserID:    ratelimiter.IdentityFromContext(c.Request.Context()),
		Extra:     map[string]any{"method": c.Request.Method},
	}
}

// SetOperation labels the current request for error reports.
func SetOperation(c *gin.Context, op string) {
	c.Set(OperationKey, strings.TrimSpace(op))
}

// Fail records err and aborts. With Errors installed the sanitizer writes
// the response; otherwise a bare 500 is sent.
func Fail(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	_ = c.Error(err)
	if _, ok := c.Get(sanitizerKey); ok {
		c.Abort()
		return
	}
	c.AbortWithStatus(http.StatusInternalServerError)
}

// CSRFToken returns the token stored by CSRF.
func CSRFToken(c *gin.Context) string {
	return c.GetString(CSRFTokenKey)
}

// RateLimitResult returns the result stored by RateLimiter.
func RateLimitResult(c *gin.Context) (ratelimiter.Result, bool) {
	v, ok := c.Get(RateLimitKey)
	if !ok {
		return ratelimiter.Result{}, false
	}
	res, ok := v.(ratelimiter.Result)
	return res, ok
}
