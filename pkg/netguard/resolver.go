package netguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/polisai/ogis/pkg/domain"
)

// Lookuper resolves a hostname to its address set. *net.Resolver satisfies it.
type Lookuper interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ContextDialer opens a connection to a literal address. *net.Dialer satisfies it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ErrNoAddresses is returned when a hostname resolves to an empty address set.
var ErrNoAddresses = errors.New("no addresses")

// SafeResolver resolves hostnames and refuses any whose address set contains a
// non-global address. It is safe for concurrent use and meant to be shared for
// the lifetime of the process.
type SafeResolver struct {
	lookuper Lookuper
	dialer   ContextDialer
	logger   *slog.Logger
}

// ResolverOption customizes a SafeResolver.
type ResolverOption func(*SafeResolver)

// WithLookuper replaces the system resolver.
func WithLookuper(l Lookuper) ResolverOption {
	return func(r *SafeResolver) {
		if l != nil {
			r.lookuper = l
		}
	}
}

// WithDialer replaces the dialer used to connect to validated addresses.
func WithDialer(d ContextDialer) ResolverOption {
	return func(r *SafeResolver) {
		if d != nil {
			r.dialer = d
		}
	}
}

// WithLogger sets the logger used for rejected resolutions.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *SafeResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewSafeResolver builds a resolver that dials with the given connect timeout.
func NewSafeResolver(connectTimeout time.Duration, opts ...ResolverOption) *SafeResolver {
	r := &SafeResolver{
		lookuper: net.DefaultResolver,
		dialer:   &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns every address host resolves to, or an error wrapping
// domain.ErrPrivateAddressBlocked if any one of them is not global.
// A literal IP host is classified without a lookup.
func (r *SafeResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if !IsGlobal(addr) {
			r.logger.Warn("netguard: blocked literal address", "host", host)
			return nil, fmt.Errorf("netguard: address %s: %w", addr, domain.ErrPrivateAddressBlocked)
		}
		return []netip.Addr{addr}, nil
	}

	addrs, err := r.lookuper.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("netguard: resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("netguard: resolve %s: %w", host, ErrNoAddresses)
	}

	for _, addr := range addrs {
		if !IsGlobal(addr) {
			r.logger.Warn("netguard: blocked resolution",
				"host", host,
				"address", addr.String(),
				"address_count", len(addrs),
			)
			return nil, fmt.Errorf("netguard: %s resolves to %s: %w", host, addr, domain.ErrPrivateAddressBlocked)
		}
	}
	return addrs, nil
}

// DialContext resolves the host part of address through Resolve and connects
// to the validated addresses in order. It is meant for http.Transport.DialContext.
func (r *SafeResolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("netguard: dial %s: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("netguard: dial %s: invalid port: %w", address, err)
	}

	addrs, err := r.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, addr := range addrs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		target := netip.AddrPortFrom(addr, uint16(port)).String()
		conn, dialErr := r.dialer.DialContext(ctx, network, target)
		if dialErr == nil {
			return conn, nil
		}
		errs = append(errs, dialErr)
	}
	return nil, fmt.Errorf("netguard: dial %s: %w", address, errors.Join(errs...))
}
