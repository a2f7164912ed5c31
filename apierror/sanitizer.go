package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/jassus213/go-admission/logging"
	"github.com/jassus213/go-admission/runmode"
)

// Client-facing messages.
const (
	MsgInternal   = "Internal server error"
	MsgUnexpected = "An unexpected error occurred"
)

// RequestIDHeader carries the correlation ID of a sanitized failure.
const RequestIDHeader = "X-Request-ID"

// Context describes where a failure happened.
type Context struct {
	Route     string
	Operation string
	UserID    string
	Extra     map[string]any
}

func (c Context) fields() map[string]any {
	m := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		m[k] = v
	}
	if c.Route != "" {
		m["route"] = c.Route
	}
	if c.Operation != "" {
		m["operation"] = c.Operation
	}
	if c.UserID != "" {
		m["userId"] = c.UserID
	}
	return m
}

// Envelope is the 500 response body.
type Envelope struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
	Stack   string         `json:"stack,omitempty"`
}

// Sanitizer builds error responses for one runtime mode.
type Sanitizer struct {
	mode   runmode.Mode
	logger logging.Logger
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithLogger sets the logger that receives the unredacted failure.
func WithLogger(l logging.Logger) Option {
	return func(s *Sanitizer) {
		s.logger = logging.OrNop(l)
	}
}

// NewSanitizer returns a Sanitizer for mode.
func NewSanitizer(mode runmode.Mode, opts ...Option) *Sanitizer {
	s := &Sanitizer{mode: mode, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the sanitizer's runtime mode.
func (s *Sanitizer) Mode() runmode.Mode {
	return s.mode
}

// Sanitize logs v and returns the status and body to send. v is usually an
// error but may be any recovered panic value.
func (s *Sanitizer) Sanitize(v any, ctx Context) (int, Envelope) {
	return s.sanitize(v, ctx, "")
}

// Write sanitizes v and writes the response. The request's X-Request-ID is
// reused when present, otherwise a new one is generated; either way it is
// echoed on the response and logged.
func (s *Sanitizer) Write(w http.ResponseWriter, r *http.Request, v any, ctx Context) {
	id := RequestID(r)
	w.Header().Set(RequestIDHeader, id)
	status, env := s.sanitize(v, ctx, id)
	WriteJSON(w, status, env)
}

func (s *Sanitizer) sanitize(v any, ctx Context, requestID string) (int, Envelope) {
	message, stack := describe(v)

	s.logger.Error("request failed",
		"error", message,
		"stack", stack,
		"route", ctx.Route,
		"operation", ctx.Operation,
		"user_id", ctx.UserID,
		"request_id", requestID,
	)

	env := Envelope{Success: false, Code: Code(ctx.Route)}
	if s.mode.IsProduction() {
		env.Error = MsgInternal
		return http.StatusInternalServerError, env
	}

	env.Error = MsgUnexpected
	if _, isErr := v.(error); isErr && message != "" {
		env.Error = message
	}
	env.Stack = stack
	if fields := ctx.fields(); len(fields) > 0 {
		env.Context = fields
	}
	return http.StatusInternalServerError, env
}

// describe extracts a log message and a stack from v. A stack recorded with
// WithStack wins; otherwise the current goroutine's stack is used, which
// inside a deferred recover still includes the panicking frames.
func describe(v any) (message, stack string) {
	switch x := v.(type) {
	case nil:
		message = MsgUnexpected
	case error:
		var st string
		message, st = errorText(x)
		if st != "" {
			return message, st
		}
	case string:
		message = x
	default:
		message = fmt.Sprintf("%v", x)
	}

	head := message
	if _, isErr := v.(error); !isErr {
		head = MsgUnexpected
	}
	return message, formatStack(head, callers(4))
}

// errorText returns err's message and recorded stack. An Error method that
// panics, as on a typed-nil pointer, yields MsgUnexpected.
func errorText(err error) (message, stack string) {
	defer func() {
		if recover() != nil {
			message, stack = MsgUnexpected, ""
		}
	}()
	return err.Error(), Stack(err)
}

// RequestID returns the request's X-Request-ID or a new UUID.
func RequestID(r *http.Request) string {
	if r != nil {
		if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= 128 {
			return id
		}
	}
	return uuid.NewString()
}

// WriteJSON writes v as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// BadRequest writes a 400 echoing msg. Use it for failures caused by the
// caller's own input; msg must not describe internal state.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": msg})
}

// IsClientError reports whether err is a 4xx that should be echoed rather
// than sanitized.
func IsClientError(err error) (status int, msg string, ok bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Status, ce.Message, true
	}
	return 0, "", false
}

// ClientError is an expected failure with a message safe to show the caller.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string { return e.Message }

// NewClientError returns a ClientError, defaulting status to 400.
func NewClientError(status int, msg string) *ClientError {
	if status < 400 || status > 499 {
		status = http.StatusBadRequest
	}
	return &ClientError{Status: status, Message: msg}
}
