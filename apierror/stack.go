package apierror

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const maxFrames = 32

type stackError struct {
	err error
	pcs []uintptr
}

func (e *stackError) Error() string { return e.err.Error() }
func (e *stackError) Unwrap() error { return e.err }

// WithStack records the caller's stack on err. Wrapping an error that
// already carries a stack is a no-op.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var se *stackError
	if errors.As(err, &se) {
		return err
	}
	return &stackError{err: err, pcs: callers(3)}
}

// Stack returns the formatted stack recorded by WithStack, or "".
func Stack(err error) string {
	var se *stackError
	if !errors.As(err, &se) {
		return ""
	}
	return formatStack(se.err.Error(), se.pcs)
}

func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}

// formatStack renders one "    at fn (file:line)" line per frame under the
// message.
func formatStack(msg string, pcs []uintptr) string {
	var b strings.Builder
	b.WriteString(msg)
	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			fmt.Fprintf(&b, "\n    at %s (%s:%d)", f.Function, f.File, f.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}
