// Package apierror turns unexpected failures into safe HTTP 500 responses.
//
// In production the body is always
//
//	{"success":false,"error":"Internal server error","code":"ERR_..."}
//
// no matter what the error says. Outside production the real message, a
// stack and the request context are included. Every failure is logged with
// full detail in both modes.
package apierror

import (
	"strings"
	"unicode"
)

// CodeUnknown is used when no route is known.
const CodeUnknown = "ERR_UNKNOWN"

// Code derives a stable error code from a route pattern: dynamic segment
// brackets are dropped, the rest is upper-cased and every run of
// non-alphanumeric characters becomes one underscore.
//
//	/api/patients/[patientId]/vitals/[vitalId] -> ERR__API_PATIENTS_PATIENTID_VITALS_VITALID
func Code(route string) string {
	if route == "" {
		return CodeUnknown
	}
	var b strings.Builder
	b.WriteString("ERR_")
	inRun := false
	for _, r := range route {
		if r == '[' || r == ']' {
			continue
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	return b.String()
}
