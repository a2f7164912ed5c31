// Package runmode defines the process-wide runtime mode that gates error
// verbosity and production-only kill switches.
//
// The mode is parsed once at startup and handed to constructors; no package
// in this module reads the environment at request time.
package runmode

import (
	"fmt"
	"strings"
)

// Mode distinguishes production from development and test deployments.
type Mode int

const (
	// Development exposes error details to clients.
	Development Mode = iota
	// Test behaves like Development.
	Test
	// Production hides internal detail and enables kill switches.
	Production
)

// String returns the canonical lowercase name of the mode.
func (m Mode) String() string {
	switch m {
	case Production:
		return "production"
	case Test:
		return "test"
	default:
		return "development"
	}
}

// IsProduction reports whether m is Production.
func (m Mode) IsProduction() bool {
	return m == Production
}

// Verbose reports whether error details may leave the process.
func (m Mode) Verbose() bool {
	return m != Production
}

// Parse converts a mode name into a Mode. The empty string is Development.
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "development", "dev":
		return Development, nil
	case "test":
		return Test, nil
	case "production", "prod":
		return Production, nil
	default:
		return Development, fmt.Errorf("runmode: unknown mode %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so a Mode can be decoded
// straight from TOML.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
