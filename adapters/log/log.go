package stdlogadapter

import (
	"fmt"
	"log"
	"strings"
)

// Level orders the standard logger's output.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" onto a Level.
// Anything else is LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger implements logging.Logger using Go standard library log.
type StdLogger struct {
	logger *log.Logger
	min    Level
}

// New creates a new StdLogger that prints everything from LevelDebug up.
// If nil is passed, uses the default logger.
func New(l *log.Logger) *StdLogger {
	return NewWithLevel(l, LevelDebug)
}

// NewWithLevel creates a StdLogger that drops messages below min.
func NewWithLevel(l *log.Logger, min Level) *StdLogger {
	if l == nil {
		l = log.Default()
	}
	return &StdLogger{
		logger: l,
		min:    min,
	}
}

func (s *StdLogger) Debug(msg string, keysAndValues ...any) {
	s.print(LevelDebug, "[DEBUG] ", msg, keysAndValues)
}

func (s *StdLogger) Info(msg string, keysAndValues ...any) {
	s.print(LevelInfo, "[INFO] ", msg, keysAndValues)
}

func (s *StdLogger) Warn(msg string, keysAndValues ...any) {
	s.print(LevelWarn, "[WARN] ", msg, keysAndValues)
}

func (s *StdLogger) Error(msg string, keysAndValues ...any) {
	s.print(LevelError, "[ERROR] ", msg, keysAndValues)
}

func (s *StdLogger) print(level Level, prefix, msg string, keysAndValues []any) {
	if level < s.min {
		return
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(keysAndValues[i]))
		b.WriteByte('=')
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, "%v", keysAndValues[i+1])
		} else {
			b.WriteString("(MISSING)")
		}
	}
	s.logger.Print(b.String())
}
