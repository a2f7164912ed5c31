// Command admission-server runs the admission-guarded API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/gin-gonic/gin"

	"github.com/jassus213/go-admission"
	"github.com/jassus213/go-admission/config"
	"github.com/jassus213/go-admission/internal/server"
	"github.com/jassus213/go-admission/runmode"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "admission-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.mode != "" {
		mode, err := runmode.Parse(f.mode)
		if err != nil {
			return err
		}
		cfg.Mode = mode
	}

	if f.printCfg {
		return toml.NewEncoder(stdout).Encode(redacted(cfg))
	}

	logger, flush, err := admission.NewLogger(cfg.Log, cfg.Mode, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = flush() }()

	if cfg.Mode.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	stack, err := admission.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	srv, err := server.New(stack, cfg)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

func redacted(cfg config.Config) config.Config {
	if cfg.Webhooks.Secret != "" {
		cfg.Webhooks.Secret = "[redacted]"
	}
	if cfg.Redis.URL != "" {
		cfg.Redis.URL = redactURL(cfg.Redis.URL)
	}
	return cfg
}
