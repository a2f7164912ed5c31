package outbound

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jassus213/go-admission/runmode"
)

// routeTo sends every connection to srv regardless of the requested host.
func routeTo(srv *httptest.Server) http.RoundTripper {
	addr := srv.Listener.Addr().String()
	return &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}

func newTestFetcher(t *testing.T, h http.Handler, cfg FetchConfig) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewFetcher(newTestValidator(), cfg, WithTransport(routeTo(srv)))
}

func TestFetcher_Success(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpegbytes"))
	}), DefaultFetchConfig())

	resp, err := f.Fetch(context.Background(), "http://static.openfoodfacts.org/x.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ContentType != "image/jpeg" || string(resp.Body) != "jpegbytes" {
		t.Fatalf("unexpected response %q %q", resp.ContentType, resp.Body)
	}
}

func TestFetcher_RejectsBeforeNetwork(t *testing.T) {
	t.Parallel()

	hit := false
	f := newTestFetcher(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hit = true
	}), DefaultFetchConfig())

	_, err := f.Fetch(context.Background(), "http://evil.com/x.jpg")
	if !errors.Is(err, ErrDomainNotAllowed) {
		t.Fatalf("expected ErrDomainNotAllowed, got %v", err)
	}
	if hit {
		t.Fatalf("rejected url must not be fetched")
	}
}

func TestFetcher_RedirectToPrivateAddress(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data/", http.StatusFound)
	}), DefaultFetchConfig())

	_, err := f.Fetch(context.Background(), "http://static.openfoodfacts.org/x.jpg")
	var reject *RejectError
	if !errors.As(err, &reject) || reject != ErrPrivateAddress {
		t.Fatalf("expected ErrPrivateAddress, got %v", err)
	}
}

func TestFetcher_RedirectWithinAllowList(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host == "static.openfoodfacts.org" {
			http.Redirect(w, r, "http://openfoodfacts.org/final.png", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}), DefaultFetchConfig())

	resp, err := f.Fetch(context.Background(), "http://static.openfoodfacts.org/x.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.URL.Host != "openfoodfacts.org" {
		t.Fatalf("expected final url on openfoodfacts.org, got %s", resp.URL)
	}
}

func TestFetcher_TooManyRedirects(t *testing.T) {
	t.Parallel()

	cfg := DefaultFetchConfig()
	cfg.MaxRedirects = 1
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/again", http.StatusFound)
	}), cfg)

	_, err := f.Fetch(context.Background(), "http://static.openfoodfacts.org/x.png")
	if err == nil || !strings.Contains(err.Error(), "redirects") {
		t.Fatalf("expected redirect limit error, got %v", err)
	}
}

func TestFetcher_UpstreamError(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), DefaultFetchConfig())

	_, err := f.Fetch(context.Background(), "http://api.nal.usda.gov/fdc/v1/food/1")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusNotFound {
		t.Fatalf("expected UpstreamError 404, got %v", err)
	}
}

func TestFetcher_BodyCap(t *testing.T) {
	t.Parallel()

	cfg := DefaultFetchConfig()
	cfg.MaxBodyBytes = 8
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}), cfg)

	if _, err := f.Fetch(context.Background(), "http://static.openfoodfacts.org/big.jpg"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestFetcher_Timeout(t *testing.T) {
	t.Parallel()

	cfg := DefaultFetchConfig()
	cfg.Timeout = 50 * time.Millisecond
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}), cfg)

	start := time.Now()
	_, err := f.Fetch(context.Background(), "http://static.openfoodfacts.org/slow.jpg")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var reject *RejectError
	if errors.As(err, &reject) {
		t.Fatalf("timeout must not be a rejection, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("fetch did not honor timeout")
	}
}

func TestFetcher_DisabledInProduction(t *testing.T) {
	t.Parallel()

	v := NewValidator(Config{
		AllowedDomains:      DefaultAllowedDomains(),
		DisableInProduction: true,
		Mode:                runmode.Production,
	}, WithResolver(testResolver()))
	f := NewFetcher(v, DefaultFetchConfig())
	if _, err := f.Fetch(context.Background(), "https://static.openfoodfacts.org/x.jpg"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}
