package zapadapter

import (
	"go.uber.org/zap"
)

// ZapLogger is an adapter that implements the logging.Logger interface
// using a zap.SugaredLogger internally.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// New creates a new ZapLogger from a zap.Logger.
//
// If a nil logger is provided, it uses zap.NewNop() internally, which
// is a no-op logger that discards all messages.
//
// Example:
//
//	zapLogger := zapadapter.New(logger)
func New(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{logger: l.Sugar()}
}

// Debug logs a debug-level message with loosely typed key/value pairs.
//
// Example:
//
//	zapLogger.Debug("request allowed", "key", key, "remaining", 3)
func (z *ZapLogger) Debug(msg string, keysAndValues ...any) {
	z.logger.Debugw(msg, keysAndValues...)
}

// Info logs an info-level message.
func (z *ZapLogger) Info(msg string, keysAndValues ...any) {
	z.logger.Infow(msg, keysAndValues...)
}

// Warn logs a warn-level message.
func (z *ZapLogger) Warn(msg string, keysAndValues ...any) {
	z.logger.Warnw(msg, keysAndValues...)
}

// Error logs an error-level message.
//
// Example:
//
//	zapLogger.Error("counter store failed", "key", key, "error", err)
func (z *ZapLogger) Error(msg string, keysAndValues ...any) {
	z.logger.Errorw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries.
func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}
