// Package admission wires the request-admission guards from configuration:
// the per-action rate limiter and its counter store, the CSRF guard, the
// outbound URL guard with its fetcher, and the error sanitizer.
//
// Example:
//
//	cfg, _ := config.Load("config.toml")
//	logger, flush, _ := admission.NewLogger(cfg.Log, cfg.Mode, os.Stderr)
//	defer flush()
//	stack, err := admission.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer stack.Close()
package admission

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jassus213/go-admission/apierror"
	"github.com/jassus213/go-admission/config"
	"github.com/jassus213/go-admission/csrf"
	"github.com/jassus213/go-admission/logging"
	"github.com/jassus213/go-admission/outbound"
	"github.com/jassus213/go-admission/ratelimiter"
	"github.com/jassus213/go-admission/runmode"
	"github.com/jassus213/go-admission/store"
)

// Stack holds the constructed guards. Build it with New.
type Stack struct {
	Mode      runmode.Mode
	Logger    logging.Logger
	Limiter   *ratelimiter.Limiter
	CSRF      *csrf.Guard
	Validator *outbound.Validator
	Fetcher   *outbound.Fetcher
	Sanitizer *apierror.Sanitizer

	memory   *store.MemoryStore
	redis    *store.RedisStore
	failover *store.FailoverStore
	closers  []func() error
	cancel   context.CancelFunc
}

// Option customizes New.
type Option func(*options)

type options struct {
	redisClient redis.UniversalClient
	resolver    outbound.Resolver
	transport   http.RoundTripper
	now         func() time.Time
}

// WithRedisClient uses client instead of dialing cfg.Redis.URL. The caller
// keeps ownership of client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = client }
}

// WithResolver overrides DNS resolution for the outbound guard.
func WithResolver(r outbound.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithTransport overrides the fetcher's transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithClock overrides the time source of the limiter and the in-process store.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds every guard from cfg. ctx bounds background work such as the
// in-process store's cleanup; Close releases the rest.
func New(ctx context.Context, cfg config.Config, logger logging.Logger, opts ...Option) (*Stack, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger = logging.OrNop(logger)

	registry, err := ratelimiter.NewRegistry(cfg.Policies()...)
	if err != nil {
		return nil, fmt.Errorf("admission: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stack{Mode: cfg.Mode, Logger: logger, cancel: cancel}

	var memOpts []store.MemoryOption
	if o.now != nil {
		memOpts = append(memOpts, store.WithMemoryClock(o.now))
	}
	s.memory = store.NewMemory(ctx, cfg.RateLimit.CleanupInterval.Duration, memOpts...)

	var counters ratelimiter.Store = s.memory
	client := o.redisClient
	if client == nil && cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("admission: redis url: %w", err)
		}
		c := redis.NewClient(redisOpts)
		s.closers = append(s.closers, c.Close)
		client = c
	}
	if client != nil {
		s.redis = store.NewRedis(client)
		breaker := store.NewCircuitBreaker(store.CircuitOptions{
			FailureThreshold: int64(cfg.Redis.FailureThreshold),
			OpenDuration:     cfg.Redis.OpenDuration.Duration,
			Now:              o.now,
		})
		s.failover = store.NewFailover(s.redis, s.memory,
			store.WithBreaker(breaker), store.WithFailoverLogger(logger))
		counters = s.failover
		if err := s.redis.Ping(ctx); err != nil {
			logger.Warn("redis unreachable at startup, counting in-process until it recovers", "error", err)
		}
	}

	limiterOpts := []ratelimiter.LimiterOption{
		ratelimiter.WithKeyPrefix(cfg.RateLimit.KeyPrefix),
		ratelimiter.WithLimiterLogger(logger),
	}
	if cfg.RateLimit.UnknownAction == "block" {
		limiterOpts = append(limiterOpts, ratelimiter.WithUnknownActionPolicy(ratelimiter.FailClosed))
	}
	if o.now != nil {
		limiterOpts = append(limiterOpts, ratelimiter.WithClock(o.now))
	}
	s.Limiter = ratelimiter.New(registry, counters, limiterOpts...)

	csrfCfg, err := csrfConfig(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.CSRF = csrf.New(csrfCfg, csrf.WithLogger(logger))

	var validatorOpts []outbound.Option
	validatorOpts = append(validatorOpts, outbound.WithLogger(logger))
	if o.resolver != nil {
		validatorOpts = append(validatorOpts, outbound.WithResolver(o.resolver))
	}
	s.Validator = outbound.NewValidator(outbound.Config{
		AllowedDomains:      cfg.Outbound.AllowedDomains,
		DisableInProduction: cfg.Outbound.DisableInProduction,
		Mode:                cfg.Mode,
	}, validatorOpts...)

	fetcherOpts := []outbound.FetcherOption{outbound.WithFetcherLogger(logger)}
	if o.transport != nil {
		fetcherOpts = append(fetcherOpts, outbound.WithTransport(o.transport))
	}
	s.Fetcher = outbound.NewFetcher(s.Validator, outbound.FetchConfig{
		Timeout:       cfg.Outbound.Timeout.Duration,
		MaxBodyBytes:  cfg.Outbound.MaxBodyBytes,
		MaxRedirects:  cfg.Outbound.MaxRedirects,
		UpstreamRPS:   cfg.Outbound.UpstreamRPS,
		UpstreamBurst: cfg.Outbound.UpstreamBurst,
	}, fetcherOpts...)

	s.Sanitizer = apierror.NewSanitizer(cfg.Mode, apierror.WithLogger(logger))

	logger.Info("admission stack ready",
		"mode", cfg.Mode.String(),
		"store", s.StoreName(),
		"actions", strings.Join(registry.Actions(), ","),
		"outbound_enabled", s.Validator.Enabled(),
	)
	return s, nil
}

func csrfConfig(cfg config.Config) (csrf.Config, error) {
	c := csrf.DefaultConfig()
	if cfg.CSRF.CookieName != "" {
		c.CookieName = cfg.CSRF.CookieName
	}
	if cfg.CSRF.HeaderName != "" {
		c.HeaderName = cfg.CSRF.HeaderName
	}
	c.ProtectedPrefix = cfg.CSRF.ProtectedPrefix
	switch strings.ToLower(cfg.CSRF.SameSite) {
	case "", "strict":
		c.SameSite = http.SameSiteStrictMode
	case "lax":
		c.SameSite = http.SameSiteLaxMode
	case "none":
		// Browsers drop SameSite=None cookies without Secure.
		c.SameSite = http.SameSiteNoneMode
		c.Secure = true
	default:
		return csrf.Config{}, fmt.Errorf("admission: csrf same_site %q", cfg.CSRF.SameSite)
	}
	c.Secure = c.Secure || cfg.CSRF.Secure || cfg.Mode.IsProduction()
	c.MaxAge = cfg.CSRF.MaxAge.Duration
	c.Bypass.Prefixes = append(c.Bypass.Prefixes, cfg.CSRF.BypassPrefixes...)
	c.Bypass.Extensions = append(c.Bypass.Extensions, cfg.CSRF.BypassExtensions...)
	c.Bypass.Patterns = append(c.Bypass.Patterns, cfg.CSRF.BypassPatterns...)
	if err := c.Bypass.Validate(); err != nil {
		return csrf.Config{}, fmt.Errorf("admission: %w", err)
	}
	return c, nil
}

// StoreName describes the active counter backend.
func (s *Stack) StoreName() string {
	switch {
	case s.failover == nil:
		return "memory"
	case s.failover.Degraded():
		return "redis (degraded, memory fallback)"
	default:
		return "redis"
	}
}

// Health reports the state of shared dependencies. A nil map entry means healthy.
func (s *Stack) Health(ctx context.Context) map[string]error {
	h := map[string]error{"memory": nil}
	if s.redis != nil {
		h["redis"] = s.redis.Ping(ctx)
	}
	return h
}

// Close stops background work and closes connections New opened.
func (s *Stack) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
