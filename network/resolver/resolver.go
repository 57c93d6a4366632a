// Package resolver caches host name lookups with a TTL and an IP family preference.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/bitrise-io/go-davtransfer/network/failure"
	"github.com/bitrise-io/go-utils/v2/log"
)

// DefaultTTL is how long a resolved address list is served from the cache.
const DefaultTTL = 30 * time.Second

// LookupFunc performs a system level resolution of a host name.
type LookupFunc func(ctx context.Context, hostname string) ([]netip.Addr, error)

// AddressRecord is the cached resolution state of one host.
type AddressRecord struct {
	Hostname   string
	Addresses  []netip.Addr
	PreferIPv4 bool
	ResolvedAt time.Time
}

type entry struct {
	mu     sync.Mutex
	record *AddressRecord
}

// Resolver is an injectable DNS cache. The zero value is not usable, use New.
type Resolver struct {
	ttl    time.Duration
	lookup LookupFunc
	now    func() time.Time
	dialer *net.Dialer
	logger log.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// Option ...
type Option func(*Resolver)

// WithTTL ...
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// WithLookupFunc replaces the system resolver.
func WithLookupFunc(fn LookupFunc) Option {
	return func(r *Resolver) {
		r.lookup = fn
	}
}

// WithClock ...
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithDialer sets the dialer used by DialContext.
func WithDialer(dialer *net.Dialer) Option {
	return func(r *Resolver) {
		r.dialer = dialer
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New ...
func New(opts ...Option) *Resolver {
	r := &Resolver{
		ttl:     DefaultTTL,
		lookup:  systemLookup,
		now:     time.Now,
		dialer:  &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second},
		logger:  log.NewLogger(),
		entries: map[string]*entry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the ordered addresses of hostname, resolving it when the cache is empty or expired.
// The returned slice is owned by the caller.
func (r *Resolver) Lookup(ctx context.Context, hostname string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(hostname); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}

	e := r.entry(hostname)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now()
	if e.record != nil && len(e.record.Addresses) > 0 && now.Sub(e.record.ResolvedAt) < r.ttl {
		return copyAddrs(e.record.Addresses), nil
	}

	addrs, err := r.lookup(ctx, hostname)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%w: %s", failure.ErrHostUnknown, hostname)
		}
		return nil, fmt.Errorf("resolve %s: %w", hostname, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", failure.ErrHostUnknown, hostname)
	}

	preferIPv4 := false
	if e.record != nil {
		preferIPv4 = e.record.PreferIPv4
	}
	e.record = &AddressRecord{
		Hostname:   hostname,
		Addresses:  SortAddresses(unmapAll(addrs), preferIPv4),
		PreferIPv4: preferIPv4,
		ResolvedAt: now,
	}
	r.logger.Debugf("Resolved %s to %v (preferIPv4=%v)", hostname, e.record.Addresses, preferIPv4)

	return copyAddrs(e.record.Addresses), nil
}

// SetPreference re-sorts the cached addresses of hostname for the given family preference.
// It never triggers a resolution.
func (r *Resolver) SetPreference(hostname string, preferIPv4 bool) {
	e := r.entry(hostname)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil {
		e.record = &AddressRecord{Hostname: hostname, Addresses: []netip.Addr{}, PreferIPv4: preferIPv4}
		return
	}
	e.record.PreferIPv4 = preferIPv4
	e.record.Addresses = SortAddresses(e.record.Addresses, preferIPv4)
}

// IsIPv6First reports whether hostname currently leads with an IPv6 address
// while an IPv4 alternative is cached.
func (r *Resolver) IsIPv6First(hostname string) bool {
	record, ok := r.Record(hostname)
	if !ok || len(record.Addresses) == 0 {
		return false
	}
	if !isIPv6(record.Addresses[0]) {
		return false
	}
	for _, addr := range record.Addresses[1:] {
		if !isIPv6(addr) {
			return true
		}
	}
	return false
}

// Record returns a snapshot of the cached record of hostname.
func (r *Resolver) Record(hostname string) (AddressRecord, bool) {
	r.mu.Lock()
	e, ok := r.entries[hostname]
	r.mu.Unlock()
	if !ok {
		return AddressRecord{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil {
		return AddressRecord{}, false
	}
	record := *e.record
	record.Addresses = copyAddrs(e.record.Addresses)
	return record, true
}

// Clear drops every cached record.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[string]*entry{}
}

// DialContext dials the resolved addresses of the host in address in cache order
// and returns the first connection that succeeds.
func (r *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	addrs, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	var dialErr error
	for _, addr := range addrs {
		conn, err := r.dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if err == nil {
			return conn, nil
		}
		r.logger.Debugf("Dial %s (%s) failed: %s", host, addr, err)
		dialErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, dialErr
}

// SortAddresses partitions addrs so that IPv6 addresses lead, or IPv4 ones when preferIPv4 is set.
// Relative order within a family is kept.
func SortAddresses(addrs []netip.Addr, preferIPv4 bool) []netip.Addr {
	sorted := make([]netip.Addr, 0, len(addrs))
	for _, addr := range addrs {
		if isIPv6(addr) != preferIPv4 {
			sorted = append(sorted, addr)
		}
	}
	for _, addr := range addrs {
		if isIPv6(addr) == preferIPv4 {
			sorted = append(sorted, addr)
		}
	}
	return sorted
}

func (r *Resolver) entry(hostname string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[hostname]
	if !ok {
		e = &entry{}
		r.entries[hostname] = e
	}
	return e
}

func systemLookup(ctx context.Context, hostname string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", hostname)
}

func isIPv6(addr netip.Addr) bool {
	return !addr.Unmap().Is4()
}

func unmapAll(addrs []netip.Addr) []netip.Addr {
	unmapped := make([]netip.Addr, len(addrs))
	for i, addr := range addrs {
		unmapped[i] = addr.Unmap()
	}
	return unmapped
}

func copyAddrs(addrs []netip.Addr) []netip.Addr {
	return append([]netip.Addr{}, addrs...)
}
