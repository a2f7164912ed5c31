package outbound

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/jassus213/go-admission/runmode"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	raw, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	addrs := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		addrs = append(addrs, netip.MustParseAddr(s))
	}
	return addrs, nil
}

func testResolver() fakeResolver {
	return fakeResolver{
		"static.openfoodfacts.org": {"151.101.1.1"},
		"openfoodfacts.org":        {"151.101.1.2"},
		"api.nal.usda.gov":         {"52.1.2.3", "2600:1f18::1"},
		"fdc.nal.usda.gov":         {"52.1.2.4"},
		"rebind.openfoodfacts.org": {"127.0.0.1"},
		"mixed.openfoodfacts.org":  {"151.101.1.3", "10.1.2.3"},
		"v6.openfoodfacts.org":     {"::ffff:192.168.0.10"},
		"evil.com":                 {"6.6.6.6"},
	}
}

func newTestValidator() *Validator {
	return NewValidator(Config{AllowedDomains: DefaultAllowedDomains()}, WithResolver(testResolver()))
}

func TestValidator_Allows(t *testing.T) {
	t.Parallel()

	v := newTestValidator()
	for _, raw := range []string{
		"https://static.openfoodfacts.org/x.jpg",
		"https://openfoodfacts.org/",
		"https://api.nal.usda.gov/fdc/v1/foods/search?query=apple",
		"http://fdc.nal.usda.gov/food-details/1",
		"HTTPS://Static.OpenFoodFacts.ORG./images/a.png",
	} {
		u, err := v.Validate(context.Background(), raw)
		if err != nil {
			t.Fatalf("Validate(%q) = %v", raw, err)
		}
		if u == nil || u.Host == "" {
			t.Fatalf("Validate(%q) returned no url", raw)
		}
	}
}

func TestValidator_Rejects(t *testing.T) {
	t.Parallel()

	v := newTestValidator()
	cases := []struct {
		raw  string
		want error
	}{
		{raw: "", want: ErrMissingURL},
		{raw: "   ", want: ErrMissingURL},
		{raw: "not a url", want: ErrInvalidURL},
		{raw: "http://[::1", want: ErrInvalidURL},
		{raw: "http:///nohost", want: ErrInvalidURL},
		{raw: "file:///etc/passwd", want: ErrProtocol},
		{raw: "ftp://x", want: ErrProtocol},
		{raw: "javascript:alert(1)", want: ErrProtocol},
		{raw: "gopher://static.openfoodfacts.org/", want: ErrProtocol},
		{raw: "dict://static.openfoodfacts.org:11211/", want: ErrProtocol},
		{raw: "https://evil.com", want: ErrDomainNotAllowed},
		{raw: "https://openfoodfacts.org.evil.com/", want: ErrDomainNotAllowed},
		{raw: "https://evilopenfoodfacts.org/", want: ErrDomainNotAllowed},
		{raw: "https://api.nal.usda.gov@evil.com/", want: ErrDomainNotAllowed},
		{raw: "https://unknown.openfoodfacts.org/", want: ErrDomainNotAllowed},
		{raw: "http://8.8.8.8/", want: ErrDomainNotAllowed},
		{raw: "http://127.0.0.1/admin", want: ErrPrivateAddress},
		{raw: "http://169.254.169.254/latest/meta-data/", want: ErrPrivateAddress},
		{raw: "http://192.168.1.1/config", want: ErrPrivateAddress},
		{raw: "http://10.0.0.1", want: ErrPrivateAddress},
		{raw: "http://172.16.0.1", want: ErrPrivateAddress},
		{raw: "http://0.0.0.0/", want: ErrPrivateAddress},
		{raw: "http://localhost:3000/api", want: ErrPrivateAddress},
		{raw: "http://app.localhost/", want: ErrPrivateAddress},
		{raw: "http://metadata.google.internal/computeMetadata/v1/", want: ErrPrivateAddress},
		{raw: "http://[::1]/", want: ErrPrivateAddress},
		{raw: "http://[::ffff:127.0.0.1]/", want: ErrPrivateAddress},
		{raw: "http://[fe80::1]/", want: ErrPrivateAddress},
		{raw: "https://rebind.openfoodfacts.org/x.jpg", want: ErrPrivateAddress},
		{raw: "https://mixed.openfoodfacts.org/x.jpg", want: ErrPrivateAddress},
		{raw: "https://v6.openfoodfacts.org/x.jpg", want: ErrPrivateAddress},
	}
	for _, tc := range cases {
		u, err := v.Validate(context.Background(), tc.raw)
		if !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q) = %v, want %v", tc.raw, err, tc.want)
		}
		if u != nil {
			t.Fatalf("Validate(%q) returned url on rejection", tc.raw)
		}
	}
}

func TestValidator_ReasonsMatchContract(t *testing.T) {
	t.Parallel()

	if ErrDomainNotAllowed.Error() != "Domain is not in the allowed domains list" {
		t.Fatalf("unexpected reason %q", ErrDomainNotAllowed.Error())
	}
	if ErrPrivateAddress.Error() != "Access to private or local IP addresses is not allowed" {
		t.Fatalf("unexpected reason %q", ErrPrivateAddress.Error())
	}
	if ErrDisabled.Status != 403 || ErrProtocol.Status != 400 {
		t.Fatalf("unexpected statuses")
	}
}

func TestValidator_KillSwitch(t *testing.T) {
	t.Parallel()

	prod := NewValidator(Config{
		AllowedDomains:      DefaultAllowedDomains(),
		DisableInProduction: true,
		Mode:                runmode.Production,
	}, WithResolver(testResolver()))
	if prod.Enabled() {
		t.Fatalf("expected disabled in production")
	}
	if _, err := prod.Validate(context.Background(), "https://static.openfoodfacts.org/x.jpg"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}

	for _, mode := range []runmode.Mode{runmode.Development, runmode.Test} {
		v := NewValidator(Config{
			AllowedDomains:      DefaultAllowedDomains(),
			DisableInProduction: true,
			Mode:                mode,
		}, WithResolver(testResolver()))
		if !v.Enabled() {
			t.Fatalf("%v: expected enabled", mode)
		}
	}

	open := NewValidator(Config{AllowedDomains: DefaultAllowedDomains(), Mode: runmode.Production}, WithResolver(testResolver()))
	if !open.Enabled() {
		t.Fatalf("kill switch must be opt-in")
	}
}

func TestIsBlockedAddr(t *testing.T) {
	t.Parallel()

	blocked := []string{
		"127.0.0.1", "127.255.255.254", "10.20.30.40", "172.31.255.255", "192.168.0.1",
		"169.254.169.254", "0.0.0.0", "0.1.2.3", "100.64.0.1", "::1", "::", "fe80::abcd",
		"fd00::1", "::ffff:10.0.0.1", "224.0.0.1",
	}
	for _, s := range blocked {
		if !IsBlockedAddr(netip.MustParseAddr(s)) {
			t.Fatalf("%s must be blocked", s)
		}
	}
	public := []string{"8.8.8.8", "151.101.1.1", "172.32.0.1", "192.169.0.1", "2606:4700::1111"}
	for _, s := range public {
		if IsBlockedAddr(netip.MustParseAddr(s)) {
			t.Fatalf("%s must not be blocked", s)
		}
	}
	if !IsBlockedAddr(netip.Addr{}) {
		t.Fatalf("invalid address must be blocked")
	}
}
