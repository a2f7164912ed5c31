package outbound

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"
)

// SafeDialer resolves the target itself, refuses blocked addresses and dials
// the exact address it checked.
type SafeDialer struct {
	resolver Resolver
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewSafeDialer returns a dialer classifying addresses through resolver.
func NewSafeDialer(resolver Resolver, timeout time.Duration) *SafeDialer {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	d := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &SafeDialer{resolver: resolver, dial: d.DialContext}
}

// DialContext has the signature of http.Transport.DialContext.
func (d *SafeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	if addr, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{addr}
	} else {
		addrs, err = d.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, err
		}
	}
	if len(addrs) == 0 {
		return nil, ErrDomainNotAllowed
	}
	for _, addr := range addrs {
		if IsBlockedAddr(addr) {
			return nil, ErrPrivateAddress
		}
	}

	var errs []error
	for _, addr := range addrs {
		conn, err := d.dial(ctx, network, net.JoinHostPort(addr.Unmap().String(), port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
