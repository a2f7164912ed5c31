// Package csrf implements the double-submit cookie check for state-changing requests.
//
// A token is minted lazily on the first safe request that lacks one and sent
// back as a cookie. Unsafe requests must echo the same token in a header;
// cross-origin pages can neither read the cookie nor set custom headers.
//
// Example:
//
//	guard := csrf.New(csrf.DefaultConfig())
//	decision := guard.Check(r)
//	if decision.Cookie != nil {
//	    http.SetCookie(w, decision.Cookie)
//	}
//	if !decision.Allowed {
//	    csrf.WriteRejected(w)
//	    return
//	}
package csrf

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jassus213/go-admission/logging"
)

// Transport names.
const (
	DefaultCookieName = "csrf-token"
	DefaultHeaderName = "X-CSRF-Token"
)

// Error is a rejection with an internal code. Codes are for logs; clients
// always see the same generic message.
type Error struct {
	Code string
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

var (
	// ErrTokenMissing is returned when the cookie or the header is absent.
	ErrTokenMissing = &Error{Code: "CSRF_TOKEN_MISSING", msg: "csrf: token missing"}
	// ErrTokenInvalid is returned when both are present but differ.
	ErrTokenInvalid = &Error{Code: "CSRF_TOKEN_INVALID", msg: "csrf: token mismatch"}
)

// CodeOf returns the rejection code carried by err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Validate compares the cookie and header tokens. Both must be present and
// byte-equal; no normalization is applied.
func Validate(cookieToken, headerToken string) error {
	if cookieToken == "" || headerToken == "" {
		return ErrTokenMissing
	}
	if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
		return ErrTokenInvalid
	}
	return nil
}

// Config configures a Guard.
type Config struct {
	CookieName string
	HeaderName string
	// ProtectedPrefix limits validation to paths under it. Empty protects every path.
	ProtectedPrefix string
	Bypass          Bypass
	SameSite        http.SameSite
	Secure          bool
	// MaxAge of the minted cookie. Zero makes it a session cookie.
	MaxAge time.Duration
}

// DefaultConfig protects /api/ with SameSite=Strict cookies.
func DefaultConfig() Config {
	return Config{
		CookieName:      DefaultCookieName,
		HeaderName:      DefaultHeaderName,
		ProtectedPrefix: "/api/",
		Bypass:          DefaultBypass(),
		SameSite:        http.SameSiteStrictMode,
	}
}

// Decision is the outcome of Guard.Check.
type Decision struct {
	Allowed bool
	// Bypassed is set when the path is exempt.
	Bypassed bool
	// Token is the request's token, either read from the cookie or minted.
	Token string
	// Cookie is non-nil when a token was minted and must be set on the response.
	Cookie *http.Cookie
	// Err is an *Error when the request is rejected.
	Err error
}

// Guard validates requests against the double-submit rule.
type Guard struct {
	cfg    Config
	tokens TokenSource
	logger logging.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithTokenSource overrides the token generator.
func WithTokenSource(s TokenSource) Option {
	return func(g *Guard) {
		if s != nil {
			g.tokens = s
		}
	}
}

// WithLogger sets the guard's logger.
func WithLogger(l logging.Logger) Option {
	return func(g *Guard) {
		g.logger = logging.OrNop(l)
	}
}

// New creates a Guard. Empty names in cfg fall back to the defaults.
func New(cfg Config, opts ...Option) *Guard {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteStrictMode
	}
	g := &Guard{
		cfg:    cfg,
		tokens: RandomTokens{},
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the guard's effective configuration.
func (g *Guard) Config() Config {
	return g.cfg
}

// Check evaluates r. Bypass rules are applied before the method check.
func (g *Guard) Check(r *http.Request) Decision {
	p := r.URL.Path
	if g.cfg.Bypass.Match(p) {
		return Decision{Allowed: true, Bypassed: true}
	}

	cookieToken := g.cookieToken(r)

	if isSafeMethod(r.Method) {
		if cookieToken != "" {
			return Decision{Allowed: true, Token: cookieToken}
		}
		token, err := g.tokens.NewToken()
		if err != nil {
			g.logger.Error("csrf token generation failed", "error", err, "path", p)
			return Decision{Allowed: true}
		}
		return Decision{Allowed: true, Token: token, Cookie: g.newCookie(token)}
	}

	if g.cfg.ProtectedPrefix != "" && !strings.HasPrefix(p, g.cfg.ProtectedPrefix) {
		return Decision{Allowed: true, Token: cookieToken}
	}

	if err := Validate(cookieToken, r.Header.Get(g.cfg.HeaderName)); err != nil {
		g.logger.Warn("csrf validation failed",
			"code", CodeOf(err), "method", r.Method, "path", p)
		return Decision{Allowed: false, Err: err}
	}
	return Decision{Allowed: true, Token: cookieToken}
}

// cookieToken reads the named cookie out of however many the client sent.
func (g *Guard) cookieToken(r *http.Request) string {
	c, err := r.Cookie(g.cfg.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (g *Guard) newCookie(token string) *http.Cookie {
	c := &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    token,
		Path:     "/",
		SameSite: g.cfg.SameSite,
		Secure:   g.cfg.Secure,
		// Client script copies the cookie into the header.
		HttpOnly: false,
	}
	if g.cfg.MaxAge > 0 {
		c.MaxAge = int(g.cfg.MaxAge / time.Second)
	}
	return c
}

func isSafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// WriteRejected writes the standard 403 response.
func WriteRejected(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid CSRF token"})
}

type tokenKey struct{}

// WithToken stores the request's token on ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token stored by WithToken.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
