package zerologadapter

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ZerologLogger implements logging.Logger using zerolog.
type ZerologLogger struct {
	logger zerolog.Logger
}

// New creates a new ZerologLogger. If nil is passed, uses zerolog's global logger.
func New(l *zerolog.Logger) *ZerologLogger {
	if l == nil {
		l = &log.Logger
	}
	return &ZerologLogger{
		logger: *l,
	}
}

// Debug logs a debug-level message with key/value fields.
func (z *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	z.emit(z.logger.Debug(), msg, keysAndValues)
}

// Info logs an info-level message with key/value fields.
func (z *ZerologLogger) Info(msg string, keysAndValues ...any) {
	z.emit(z.logger.Info(), msg, keysAndValues)
}

// Warn logs a warn-level message with key/value fields.
func (z *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	z.emit(z.logger.Warn(), msg, keysAndValues)
}

// Error logs an error-level message with key/value fields.
func (z *ZerologLogger) Error(msg string, keysAndValues ...any) {
	z.emit(z.logger.Error(), msg, keysAndValues)
}

func (z *ZerologLogger) emit(e *zerolog.Event, msg string, keysAndValues []any) {
	if e == nil {
		return
	}
	if len(keysAndValues) > 0 {
		e = e.Fields(keysAndValues)
	}
	e.Msg(msg)
}
