// Package config loads the admission server configuration from TOML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jassus213/go-admission/ratelimiter"
	"github.com/jassus213/go-admission/runmode"
)

// Duration is a time.Duration decoded from strings like "90s" or "24h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerConfig struct {
	Addr              string   `toml:"addr"`
	TrustedProxies    []string `toml:"trusted_proxies"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
}

type LogConfig struct {
	// Backend is one of zerolog, zap, logrus, log.
	Backend string `toml:"backend"`
	Level   string `toml:"level"`
}

type RedisConfig struct {
	// URL enables the shared store, e.g. redis://localhost:6379/0. Empty
	// runs on in-process counters only.
	URL              string   `toml:"url"`
	FailureThreshold int      `toml:"failure_threshold"`
	OpenDuration     Duration `toml:"open_duration"`
}

type PolicyConfig struct {
	Action string   `toml:"action"`
	Limit  int64    `toml:"limit"`
	Window Duration `toml:"window"`
}

type RateLimitConfig struct {
	KeyPrefix string `toml:"key_prefix"`
	// UnknownAction is "allow" or "block".
	UnknownAction   string   `toml:"unknown_action"`
	CleanupInterval Duration `toml:"cleanup_interval"`
	// Policies override defaults with the same action and add new ones.
	Policies []PolicyConfig `toml:"policy"`
}

type CSRFConfig struct {
	CookieName      string `toml:"cookie_name"`
	HeaderName      string `toml:"header_name"`
	ProtectedPrefix string `toml:"protected_prefix"`
	// SameSite is strict, lax or none.
	SameSite string   `toml:"same_site"`
	Secure   bool     `toml:"secure"`
	MaxAge   Duration `toml:"max_age"`
	// Extra bypass rules, appended to the built-in ones.
	BypassPrefixes   []string `toml:"bypass_prefixes"`
	BypassExtensions []string `toml:"bypass_extensions"`
	BypassPatterns   []string `toml:"bypass_patterns"`
}

type OutboundConfig struct {
	AllowedDomains      []string `toml:"allowed_domains"`
	DisableInProduction bool     `toml:"disable_in_production"`
	Timeout             Duration `toml:"timeout"`
	MaxBodyBytes        int64    `toml:"max_body_bytes"`
	MaxRedirects        int      `toml:"max_redirects"`
	UpstreamRPS         float64  `toml:"upstream_rps"`
	UpstreamBurst       int      `toml:"upstream_burst"`
}

type WebhookConfig struct {
	// Secret signs inbound webhook payloads (HMAC-SHA256). Empty rejects
	// every webhook.
	Secret  string `toml:"secret"`
	MaxBody int64  `toml:"max_body"`
}

// Config is the full server configuration.
type Config struct {
	Mode      runmode.Mode    `toml:"mode"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Redis     RedisConfig     `toml:"redis"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	CSRF      CSRFConfig      `toml:"csrf"`
	Outbound  OutboundConfig  `toml:"outbound"`
	Webhooks  WebhookConfig   `toml:"webhooks"`
}

// MaxFetchTimeout caps the outbound fetch budget.
const MaxFetchTimeout = 10 * time.Second

// Default returns a configuration that runs a development server on
// in-process counters.
func Default() Config {
	return Config{
		Mode: runmode.Development,
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{5 * time.Second},
			ShutdownTimeout:   Duration{10 * time.Second},
		},
		Log: LogConfig{Backend: "zerolog", Level: "info"},
		Redis: RedisConfig{
			FailureThreshold: 3,
			OpenDuration:     Duration{5 * time.Second},
		},
		RateLimit: RateLimitConfig{
			KeyPrefix:       "rl",
			UnknownAction:   "allow",
			CleanupInterval: Duration{time.Minute},
		},
		CSRF: CSRFConfig{
			CookieName:      "csrf-token",
			HeaderName:      "X-CSRF-Token",
			ProtectedPrefix: "/api/",
			SameSite:        "strict",
		},
		Outbound: OutboundConfig{
			AllowedDomains:      []string{"openfoodfacts.org", "api.nal.usda.gov", "fdc.nal.usda.gov"},
			DisableInProduction: true,
			Timeout:             Duration{5 * time.Second},
			MaxBodyBytes:        5 << 20,
			MaxRedirects:        3,
			UpstreamRPS:         5,
			UpstreamBurst:       10,
		},
		Webhooks: WebhookConfig{MaxBody: 1 << 20},
	}
}

// Load reads path over Default, applies environment overrides and validates
// the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses TOML text over Default without env overrides or validation.
func Decode(data string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies APP_ENV, ADDR, REDIS_URL, LOG_BACKEND, LOG_LEVEL and
// WEBHOOK_SECRET.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("APP_ENV"); ok && v != "" {
		mode, err := runmode.Parse(v)
		if err != nil {
			return fmt.Errorf("config: APP_ENV: %w", err)
		}
		c.Mode = mode
	}
	if v, ok := lookup("ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("REDIS_URL"); ok {
		c.Redis.URL = v
	}
	if v, ok := lookup("LOG_BACKEND"); ok && v != "" {
		c.Log.Backend = strings.ToLower(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("WEBHOOK_SECRET"); ok {
		c.Webhooks.Secret = v
	}
	return nil
}

var (
	logBackends = map[string]bool{"zerolog": true, "zap": true, "logrus": true, "log": true}
	logLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	sameSites   = map[string]bool{"strict": true, "lax": true, "none": true}
)

// Validate reports every problem in c at once.
func (c Config) Validate() error {
	var errs []error
	if c.Mode < runmode.Development || c.Mode > runmode.Production {
		errs = append(errs, fmt.Errorf("mode %d is not a known runtime mode", int(c.Mode)))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if !logBackends[c.Log.Backend] {
		errs = append(errs, fmt.Errorf("log.backend %q is not one of zerolog, zap, logrus, log", c.Log.Backend))
	}
	if !logLevels[c.Log.Level] {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Redis.URL != "" && c.Redis.FailureThreshold < 1 {
		errs = append(errs, errors.New("redis.failure_threshold must be positive"))
	}
	switch c.RateLimit.UnknownAction {
	case "allow", "block":
	default:
		errs = append(errs, fmt.Errorf("rate_limit.unknown_action %q is not allow or block", c.RateLimit.UnknownAction))
	}
	for i, p := range c.RateLimit.Policies {
		if p.Action == "" {
			errs = append(errs, fmt.Errorf("rate_limit.policy[%d]: action is required", i))
		}
		if p.Limit <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.policy[%d] %s: limit must be positive", i, p.Action))
		}
		if p.Window.Duration <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.policy[%d] %s: window must be positive", i, p.Action))
		}
	}
	if !sameSites[strings.ToLower(c.CSRF.SameSite)] {
		errs = append(errs, fmt.Errorf("csrf.same_site %q is not strict, lax or none", c.CSRF.SameSite))
	}
	if len(c.Outbound.AllowedDomains) == 0 {
		errs = append(errs, errors.New("outbound.allowed_domains must not be empty"))
	}
	if t := c.Outbound.Timeout.Duration; t <= 0 || t > MaxFetchTimeout {
		errs = append(errs, fmt.Errorf("outbound.timeout %s must be in (0, %s]", t, MaxFetchTimeout))
	}
	if c.Outbound.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("outbound.max_body_bytes must be positive"))
	}
	if c.Webhooks.MaxBody <= 0 {
		errs = append(errs, errors.New("webhooks.max_body must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// Policies merges the configured policies over ratelimiter.DefaultPolicies.
// The result is sorted by action.
func (c Config) Policies() []ratelimiter.Policy {
	byAction := make(map[string]ratelimiter.Policy)
	for _, p := range ratelimiter.DefaultPolicies() {
		byAction[p.Action] = p
	}
	for _, p := range c.RateLimit.Policies {
		byAction[p.Action] = ratelimiter.Policy{Action: p.Action, Limit: p.Limit, Window: p.Window.Duration}
	}
	out := make([]ratelimiter.Policy, 0, len(byAction))
	for _, p := range byAction {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}
