// Package logging defines the logger interface shared by every guard.
//
// Implement this interface to provide your own logging backend, or use one of
// the adapters under adapters/ (zerolog, zap, logrus, standard log).
//
// Example:
//
//	logger := zerologadapter.New(nil)
//	limiter := ratelimiter.New(registry, st, ratelimiter.WithLimiterLogger(logger))
package logging

// Logger is a leveled, structured logger. keysAndValues are alternating
// string keys and arbitrary values.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return noopLogger{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
