package admission

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	stdlogadapter "github.com/jassus213/go-admission/adapters/log"
	logrusadapter "github.com/jassus213/go-admission/adapters/logrus"
	zapadapter "github.com/jassus213/go-admission/adapters/zap"
	zerologadapter "github.com/jassus213/go-admission/adapters/zerolog"
	"github.com/jassus213/go-admission/config"
	"github.com/jassus213/go-admission/logging"
	"github.com/jassus213/go-admission/runmode"
)

// NewLogger builds the logger selected by cfg.Backend writing to w.
// Production output is JSON; other modes use each library's human format.
// The returned flush func must be called before exit.
func NewLogger(cfg config.LogConfig, mode runmode.Mode, w io.Writer) (logging.Logger, func() error, error) {
	noflush := func() error { return nil }
	level := strings.ToLower(cfg.Level)

	switch strings.ToLower(cfg.Backend) {
	case "", "zerolog":
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("admission: log level: %w", err)
		}
		out := w
		if !mode.IsProduction() {
			out = zerolog.ConsoleWriter{Out: w, NoColor: true}
		}
		zl := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
		return zerologadapter.New(&zl), noflush, nil

	case "zap":
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, fmt.Errorf("admission: log level: %w", err)
		}
		encCfg := zap.NewProductionEncoderConfig()
		encoder := zapcore.NewJSONEncoder(encCfg)
		if !mode.IsProduction() {
			encCfg = zap.NewDevelopmentEncoderConfig()
			encoder = zapcore.NewConsoleEncoder(encCfg)
		}
		zl := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), lvl))
		adapter := zapadapter.New(zl)
		return adapter, adapter.Sync, nil

	case "logrus":
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("admission: log level: %w", err)
		}
		ll := logrus.New()
		ll.SetOutput(w)
		ll.SetLevel(lvl)
		if mode.IsProduction() {
			ll.SetFormatter(&logrus.JSONFormatter{})
		} else {
			ll.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
		}
		return logrusadapter.New(ll), noflush, nil

	case "log":
		return stdlogadapter.NewWithLevel(log.New(w, "", log.LstdFlags), stdlogadapter.ParseLevel(level)), noflush, nil

	default:
		return nil, nil, fmt.Errorf("admission: unknown log backend %q", cfg.Backend)
	}
}
