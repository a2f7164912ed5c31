package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	ginmw "github.com/jassus213/go-admission/middleware/gin"
	"github.com/jassus213/go-admission/ratelimiter"
)

func (s *Server) routes() (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(s.cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server: trusted proxies: %w", err)
	}

	r.Use(
		ginmw.Errors(s.stack.Sanitizer),
		s.accessLog(),
		ginmw.CSRF(s.stack.CSRF),
	)

	api := r.Group("/api")
	api.GET("/health", s.health)
	api.GET("/csrf-token", s.csrfToken)
	api.GET("/image-proxy",
		ginmw.RateLimiter(s.stack.Limiter, ratelimiter.ActionFetchURL, ratelimiter.WithLogger(s.stack.Logger)),
		s.imageProxy,
	)
	api.POST("/webhooks/:provider", s.webhook)

	return r, nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.stack.Logger.Debug("request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"elapsed", time.Since(start),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()

	deps := gin.H{}
	for name, err := range s.stack.Health(ctx) {
		if err != nil {
			deps[name] = "unavailable"
			continue
		}
		deps[name] = "ok"
	}
	// A lost Redis degrades accuracy, not availability.
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   s.stack.Mode.String(),
		"store":  s.stack.StoreName(),
		"deps":   deps,
	})
}

func (s *Server) csrfToken(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"csrfToken": ginmw.CSRFToken(c)})
}
