package outbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/jassus213/go-admission/logging"
)

// ErrTooLarge is returned when the remote body exceeds the configured cap.
var ErrTooLarge = errors.New("outbound: response body too large")

// UpstreamError reports a non-2xx answer from the remote host.
type UpstreamError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("outbound: %s answered %d", e.URL, e.StatusCode)
}

// FetchConfig bounds a Fetcher.
type FetchConfig struct {
	// Timeout bounds the whole fetch, including redirects and body read.
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxRedirects int
	// UpstreamRPS and UpstreamBurst throttle this process's requests to
	// remote hosts. Zero RPS disables throttling.
	UpstreamRPS   float64
	UpstreamBurst int
	UserAgent     string
}

// DefaultFetchConfig returns a 5s, 5 MiB, 3-redirect budget.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:       5 * time.Second,
		MaxBodyBytes:  5 << 20,
		MaxRedirects:  3,
		UpstreamRPS:   5,
		UpstreamBurst: 10,
		UserAgent:     "go-admission/1.0",
	}
}

// Response is a fully read remote resource.
type Response struct {
	URL         *url.URL
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher performs validated, bounded GET requests.
type Fetcher struct {
	validator *Validator
	client    *http.Client
	cfg       FetchConfig
	limiter   *rate.Limiter
	logger    logging.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransport replaces the pinned transport. Tests use this to route
// validated requests to a local server.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) {
		if rt != nil {
			f.client.Transport = rt
		}
	}
}

// WithFetcherLogger sets the fetcher's logger.
func WithFetcherLogger(l logging.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logging.OrNop(l)
	}
}

// NewFetcher builds a Fetcher whose transport only dials addresses the
// validator's resolver classifies as public.
func NewFetcher(v *Validator, cfg FetchConfig, opts ...FetcherOption) *Fetcher {
	def := DefaultFetchConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	dialer := NewSafeDialer(v.Resolver(), cfg.Timeout)
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	f := &Fetcher{
		validator: v,
		cfg:       cfg,
		logger:    logging.Nop(),
	}
	f.client = &http.Client{
		Transport:     transport,
		Timeout:       cfg.Timeout,
		CheckRedirect: f.checkRedirect,
	}
	if cfg.UpstreamRPS > 0 {
		burst := cfg.UpstreamBurst
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), burst)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Validator returns the fetcher's validator.
func (f *Fetcher) Validator() *Validator {
	return f.validator
}

// Fetch validates raw and downloads it. Rejections are *RejectError; every
// other error (timeouts, upstream failures) is an internal failure.
func (f *Fetcher) Fetch(ctx context.Context, raw string) (*Response, error) {
	u, err := f.validator.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("outbound: upstream throttle: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("outbound: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		var reject *RejectError
		if errors.As(err, &reject) {
			return nil, reject
		}
		return nil, fmt.Errorf("outbound: fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{URL: u.Redacted(), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("outbound: read %s: %w", u.Host, err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, ErrTooLarge
	}

	f.logger.Debug("outbound fetch complete",
		"host", u.Host, "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))

	return &Response{
		URL:         resp.Request.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > f.cfg.MaxRedirects {
		return fmt.Errorf("outbound: stopped after %d redirects", f.cfg.MaxRedirects)
	}
	if _, err := f.validator.Validate(req.Context(), req.URL.String()); err != nil {
		return err
	}
	return nil
}
