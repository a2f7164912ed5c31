// Package outbound guards server-initiated fetches of user-supplied URLs.
//
// A URL passes only if its scheme is http or https, its host is on an explicit
// allow-list, and every address the host resolves to is publicly routable.
// SafeDialer repeats the address check at connect time and dials the vetted
// address, so a hostname that rebinds between validation and fetch still
// cannot reach a private network.
package outbound

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/jassus213/go-admission/logging"
	"github.com/jassus213/go-admission/runmode"
)

// RejectError is a validation or policy rejection. Reason is safe to show
// to the caller.
type RejectError struct {
	Reason string
	Status int
}

func (e *RejectError) Error() string {
	return e.Reason
}

var (
	ErrMissingURL       = &RejectError{Reason: "URL parameter is required", Status: http.StatusBadRequest}
	ErrInvalidURL       = &RejectError{Reason: "Invalid URL format", Status: http.StatusBadRequest}
	ErrProtocol         = &RejectError{Reason: "Only HTTP and HTTPS protocols are allowed", Status: http.StatusBadRequest}
	ErrDomainNotAllowed = &RejectError{Reason: "Domain is not in the allowed domains list", Status: http.StatusBadRequest}
	ErrPrivateAddress   = &RejectError{Reason: "Access to private or local IP addresses is not allowed", Status: http.StatusBadRequest}
	ErrDisabled         = &RejectError{Reason: "Not available in production", Status: http.StatusForbidden}
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// DefaultAllowedDomains is the built-in allow-list. Subdomains of each entry
// are allowed too.
func DefaultAllowedDomains() []string {
	return []string{
		"openfoodfacts.org",
		"api.nal.usda.gov",
		"fdc.nal.usda.gov",
	}
}

// Config configures a Validator.
type Config struct {
	AllowedDomains []string
	// DisableInProduction turns every fetch into ErrDisabled when Mode is production.
	DisableInProduction bool
	Mode                runmode.Mode
}

// Validator checks outbound URLs.
type Validator struct {
	allowed  []string
	disabled bool
	resolver Resolver
	logger   logging.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithResolver overrides DNS resolution.
func WithResolver(r Resolver) Option {
	return func(v *Validator) {
		if r != nil {
			v.resolver = r
		}
	}
}

// WithLogger sets the validator's logger.
func WithLogger(l logging.Logger) Option {
	return func(v *Validator) {
		v.logger = logging.OrNop(l)
	}
}

// NewValidator builds a Validator. The allow-list is copied and normalized.
func NewValidator(cfg Config, opts ...Option) *Validator {
	allowed := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		d = normalizeHost(d)
		if d != "" {
			allowed = append(allowed, d)
		}
	}
	v := &Validator{
		allowed:  allowed,
		disabled: cfg.DisableInProduction && cfg.Mode.IsProduction(),
		resolver: net.DefaultResolver,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Enabled reports whether outbound fetching is available at all.
func (v *Validator) Enabled() bool {
	return !v.disabled
}

// Resolver returns the resolver the validator classifies addresses with.
func (v *Validator) Resolver() Resolver {
	return v.resolver
}

// Validate parses raw and applies every rule. On success the parsed URL is
// returned; on failure the error is one of the Err* rejections.
func (v *Validator) Validate(ctx context.Context, raw string) (*url.URL, error) {
	if v.disabled {
		return nil, ErrDisabled
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return nil, ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, v.reject(ErrProtocol, raw)
	}
	host := normalizeHost(u.Hostname())
	if host == "" {
		return nil, ErrInvalidURL
	}

	if isBlockedHostname(host) {
		return nil, v.reject(ErrPrivateAddress, raw)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return nil, v.reject(ErrPrivateAddress, raw)
		}
		return nil, v.reject(ErrDomainNotAllowed, raw)
	}
	if !v.isAllowed(host) {
		return nil, v.reject(ErrDomainNotAllowed, raw)
	}

	addrs, err := v.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		v.logger.Warn("outbound host did not resolve", "host", host, "error", err)
		return nil, ErrDomainNotAllowed
	}
	for _, addr := range addrs {
		if IsBlockedAddr(addr) {
			v.logger.Warn("outbound host resolved to blocked address",
				"host", host, "addr", addr.String())
			return nil, ErrPrivateAddress
		}
	}
	return u, nil
}

func (v *Validator) isAllowed(host string) bool {
	for _, d := range v.allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (v *Validator) reject(err *RejectError, raw string) error {
	v.logger.Warn("outbound url rejected", "reason", err.Reason, "url", raw)
	return err
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
