// Package nethttp adapts the admission guards to the standard net/http library.
package nethttp

import (
	"net/http"
	"strings"

	"github.com/jassus213/go-admission/apierror"
	"github.com/jassus213/go-admission/csrf"
	"github.com/jassus213/go-admission/ratelimiter"
)

// Middleware creates a new middleware handler for the standard `net/http` library.
//
// It wraps an existing `http.Handler` and checks incoming requests against the
// action's policy. Allowed responses carry the standard `X-RateLimit-*`
// headers; blocked ones also get `Retry-After`. The behavior can be
// customized using functional options.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.Handle("POST /api/reports/email", nethttp.Middleware(limiter, ratelimiter.ActionEmail)(sendReport))
//	http.ListenAndServe(":8080", mux)
func Middleware(limiter *ratelimiter.Limiter, action string, options ...ratelimiter.Option) func(http.Handler) http.Handler {
	return MiddlewareAll(limiter, []string{action}, options...)
}

// MiddlewareAll checks several actions in order and blocks on the first one
// exhausted.
func MiddlewareAll(limiter *ratelimiter.Limiter, actions []string, options ...ratelimiter.Option) func(http.Handler) http.Handler {
	cfg := ratelimiter.NewConfig(options...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			explicit, err := cfg.KeyFunc(r)
			if err != nil {
				cfg.Logger.Error("failed to extract rate limit key", "error", err, "path", r.URL.Path)
				cfg.InternalErrorHandler(w, r, err)
				return
			}
			id := ratelimiter.Identify(explicit, ratelimiter.ClientIP(r, cfg.TrustProxyHeaders))

			result, err := limiter.AllowAll(r.Context(), id, actions...)
			if err != nil {
				cfg.Logger.Error("rate limiter failed", "identifier", id, "action", result.Action, "error", err)
				cfg.InternalErrorHandler(w, r, err)
				return
			}

			if !result.Allowed {
				cfg.Logger.Debug("request denied",
					"identifier", id, "action", result.Action, "limit", result.Limit)
				cfg.ErrorHandler(w, r, ratelimiter.ErrorExceeded, result)
				return
			}

			ratelimiter.SetHeaders(w.Header(), result)
			cfg.Logger.Debug("request allowed",
				"identifier", id, "action", result.Action, "remaining", result.Remaining)
			next.ServeHTTP(w, r)
		})
	}
}

// WithSanitizer routes key function and store failures through s, so they
// get the same 500 envelope as errors returned to Handle.
//
//	mux.Handle("POST /api/reports/email", nethttp.Middleware(limiter, ratelimiter.ActionEmail,
//	    nethttp.WithSanitizer(sanitizer))(sendReport))
func WithSanitizer(s *apierror.Sanitizer) ratelimiter.Option {
	if s == nil {
		return func(*ratelimiter.Config) {}
	}
	return ratelimiter.WithInternalErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
		s.Write(w, r, apierror.WithStack(err), errorContext(r))
	})
}

// CSRF applies the double-submit check. A minted token is set as a cookie
// and stored on the request context for csrf.TokenFromContext.
func CSRF(guard *csrf.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := guard.Check(r)
			if d.Cookie != nil {
				http.SetCookie(w, d.Cookie)
			}
			if !d.Allowed {
				csrf.WriteRejected(w)
				return
			}
			if d.Token != "" {
				r = r.WithContext(csrf.WithToken(r.Context(), d.Token))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc is an http handler that reports failure by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts h to http.Handler. Returned errors and panics go through the
// sanitizer with the route taken from the ServeMux pattern, so Handle must
// be registered on the mux directly rather than wrapping it.
//
//	mux.Handle("GET /api/patients/{patientId}", nethttp.Handle(sanitizer, getPatient))
func Handle(s *apierror.Sanitizer, h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			fail(s, tw, r, rec)
		}()

		err := h(tw, r)
		if err == nil {
			return
		}
		if status, msg, ok := apierror.IsClientError(err); ok {
			if !tw.wrote {
				apierror.WriteJSON(tw, status, map[string]any{"success": false, "error": msg})
			}
			return
		}
		fail(s, tw, r, err)
	})
}

func fail(s *apierror.Sanitizer, w *trackingWriter, r *http.Request, v any) {
	ctx := errorContext(r)
	if w.wrote {
		s.Sanitize(v, ctx)
		return
	}
	s.Write(w, r, v, ctx)
}

func errorContext(r *http.Request) apierror.Context {
	return apierror.Context{
		Route:  routeOf(r.Pattern),
		UserID: ratelimiter.IdentityFromContext(r.Context()),
		Extra:  map[string]any{"method": r.Method},
	}
}

// routeOf strips the method and host from a ServeMux pattern.
func routeOf(pattern string) string {
	if _, rest, ok := strings.Cut(pattern, " "); ok {
		pattern = strings.TrimSpace(rest)
	}
	if i := strings.IndexByte(pattern, '/'); i > 0 {
		pattern = pattern[i:]
	}
	return pattern
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *trackingWriter) WriteHeader(status int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
