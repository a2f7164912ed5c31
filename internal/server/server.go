// Package server hosts the admission-guarded HTTP API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jassus213/go-admission"
	"github.com/jassus213/go-admission/config"
)

// Server serves the API over HTTP.
type Server struct {
	stack    *admission.Stack
	cfg      config.Config
	engine   *gin.Engine
	srv      *http.Server
	webhooks *webhookVerifier
}

// New builds the router. The stack is borrowed; the caller closes it.
func New(stack *admission.Stack, cfg config.Config) (*Server, error) {
	if stack == nil {
		return nil, errors.New("server: admission stack is required")
	}
	s := &Server{
		stack:    stack,
		cfg:      cfg,
		webhooks: newWebhookVerifier(cfg.Webhooks.Secret, cfg.Webhooks.MaxBody),
	}
	engine, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.srv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration,
	}
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx is done, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.stack.Logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.stack.Logger.Info("http server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
