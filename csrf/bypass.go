package csrf

import (
	"path"
	"strings"
)

// Bypass lists request paths that never go through token validation.
type Bypass struct {
	// Prefixes match the start of the path, e.g. "/_next/static/".
	Prefixes []string
	// Extensions match the path suffix, case-insensitive, e.g. ".png".
	Extensions []string
	// Patterns are path.Match globs, e.g. "/api/webhooks/*".
	Patterns []string
}

// DefaultBypass covers static assets and webhook receivers, which are
// authenticated by signed payloads. Extensions match anywhere, including
// under the protected prefix, so the list is kept to icon formats; scripts
// and styles are served from the static prefixes.
func DefaultBypass() Bypass {
	return Bypass{
		Prefixes:   []string{"/_next/static/", "/_next/image", "/static/"},
		Extensions: []string{".ico", ".png", ".svg"},
		Patterns:   []string{"/api/webhooks/*", "/api/webhooks/*/*"},
	}
}

// Match reports whether p is exempt.
func (b Bypass) Match(p string) bool {
	for _, prefix := range b.Prefixes {
		if prefix != "" && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	if ext != "" {
		for _, e := range b.Extensions {
			if strings.EqualFold(e, ext) {
				return true
			}
		}
	}
	for _, pattern := range b.Patterns {
		if ok, err := path.Match(pattern, p); err == nil && ok {
			return true
		}
	}
	return false
}

// Validate checks that every pattern is a well-formed glob.
func (b Bypass) Validate() error {
	for _, pattern := range b.Patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return err
		}
	}
	return nil
}
