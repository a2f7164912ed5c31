package ratelimiter

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Anonymous is the identifier used when neither an explicit identity nor a
// client IP is available.
const Anonymous = "anonymous"

type identityKey struct{}

// WithIdentity returns a context carrying an authenticated identifier (user
// or admin ID). Authentication middleware calls this; the default KeyFunc
// reads it back.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identifier stored by WithIdentity.
func IdentityFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(string)
	return id
}

// Identify resolves the counter identifier: explicit first, then the client
// IP, then Anonymous.
func Identify(explicit, clientIP string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if ip := strings.TrimSpace(clientIP); ip != "" {
		return ip
	}
	return Anonymous
}

// ClientIP extracts the caller's address from r. Forwarding headers are only
// consulted when trustProxy is set, since any client can forge them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip := net.ParseIP(xrip); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.Trim(r.RemoteAddr, "[]")
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
