package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-davtransfer/network/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrs(t *testing.T, values ...string) []netip.Addr {
	t.Helper()
	parsed := make([]netip.Addr, 0, len(values))
	for _, v := range values {
		parsed = append(parsed, netip.MustParseAddr(v))
	}
	return parsed
}

type fakeLookup struct {
	calls  int32
	result []netip.Addr
	err    error
}

func (f *fakeLookup) lookup(_ context.Context, _ string) ([]netip.Addr, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result, f.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSortAddresses(t *testing.T) {
	tests := []struct {
		name       string
		input      []string
		preferIPv4 bool
		want       []string
	}{
		{
			name:  "IPv6 first keeps relative order",
			input: []string{"10.0.0.1", "2001:db8::1", "10.0.0.2", "2001:db8::2"},
			want:  []string{"2001:db8::1", "2001:db8::2", "10.0.0.1", "10.0.0.2"},
		},
		{
			name:       "IPv4 first keeps relative order",
			input:      []string{"2001:db8::1", "10.0.0.1", "2001:db8::2", "10.0.0.2"},
			preferIPv4: true,
			want:       []string{"10.0.0.1", "10.0.0.2", "2001:db8::1", "2001:db8::2"},
		},
		{
			name:  "single family",
			input: []string{"10.0.0.2", "10.0.0.1"},
			want:  []string{"10.0.0.2", "10.0.0.1"},
		},
		{
			name:  "empty",
			input: []string{},
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SortAddresses(addrs(t, tt.input...), tt.preferIPv4)
			assert.Equal(t, addrs(t, tt.want...), got)
		})
	}
}

func TestResolver_Lookup_CachesUntilTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	lookup := &fakeLookup{result: addrs(t, "10.0.0.1", "2001:db8::1")}
	r := New(WithLookupFunc(lookup.lookup), WithClock(clock.Now), WithTTL(30*time.Second))

	got, err := r.Lookup(context.Background(), "cloud.example.com")
	require.NoError(t, err)
	assert.Equal(t, addrs(t, "2001:db8::1", "10.0.0.1"), got)

	clock.Advance(29 * time.Second)
	_, err = r.Lookup(context.Background(), "cloud.example.com")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&lookup.calls))

	clock.Advance(2 * time.Second)
	_, err = r.Lookup(context.Background(), "cloud.example.com")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&lookup.calls))
}

func TestResolver_Lookup_HostUnknown(t *testing.T) {
	tests := []struct {
		name   string
		lookup *fakeLookup
	}{
		{
			name:   "no addresses",
			lookup: &fakeLookup{result: nil},
		},
		{
			name:   "not found",
			lookup: &fakeLookup{err: &net.DNSError{Err: "no such host", Name: "missing", IsNotFound: true}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(WithLookupFunc(tt.lookup.lookup))

			_, err := r.Lookup(context.Background(), "missing")

			require.Error(t, err)
			assert.True(t, errors.Is(err, failure.ErrHostUnknown))
			_, ok := r.Record("missing")
			assert.False(t, ok)
		})
	}
}

func TestResolver_Lookup_IPLiteral(t *testing.T) {
	lookup := &fakeLookup{}
	r := New(WithLookupFunc(lookup.lookup))

	got, err := r.Lookup(context.Background(), "::1")

	require.NoError(t, err)
	assert.Equal(t, addrs(t, "::1"), got)
	assert.Equal(t, int32(0), lookup.calls)
}

func TestResolver_SetPreference(t *testing.T) {
	lookup := &fakeLookup{result: addrs(t, "10.0.0.1", "2001:db8::1", "10.0.0.2")}
	r := New(WithLookupFunc(lookup.lookup))

	_, err := r.Lookup(context.Background(), "cloud.example.com")
	require.NoError(t, err)
	require.True(t, r.IsIPv6First("cloud.example.com"))

	r.SetPreference("cloud.example.com", true)

	got, err := r.Lookup(context.Background(), "cloud.example.com")
	require.NoError(t, err)
	assert.Equal(t, addrs(t, "10.0.0.1", "10.0.0.2", "2001:db8::1"), got)
	assert.False(t, r.IsIPv6First("cloud.example.com"))
	assert.Equal(t, int32(1), lookup.calls)
}

func TestResolver_SetPreference_BeforeLookup(t *testing.T) {
	lookup := &fakeLookup{result: addrs(t, "2001:db8::1", "10.0.0.1")}
	r := New(WithLookupFunc(lookup.lookup))

	r.SetPreference("cloud.example.com", true)

	record, ok := r.Record("cloud.example.com")
	require.True(t, ok)
	assert.Empty(t, record.Addresses)
	assert.True(t, record.PreferIPv4)

	got, err := r.Lookup(context.Background(), "cloud.example.com")
	require.NoError(t, err)
	assert.Equal(t, addrs(t, "10.0.0.1", "2001:db8::1"), got)
}

func TestResolver_IsIPv6First(t *testing.T) {
	tests := []struct {
		name   string
		result []string
		want   bool
	}{
		{name: "IPv6 first with IPv4 alternative", result: []string{"2001:db8::1", "10.0.0.1"}, want: true},
		{name: "IPv6 only", result: []string{"2001:db8::1", "2001:db8::2"}, want: false},
		{name: "IPv4 only", result: []string{"10.0.0.1"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &fakeLookup{result: addrs(t, tt.result...)}
			r := New(WithLookupFunc(lookup.lookup))
			_, err := r.Lookup(context.Background(), "host")
			require.NoError(t, err)

			assert.Equal(t, tt.want, r.IsIPv6First("host"))
		})
	}

	t.Run("nothing cached", func(t *testing.T) {
		assert.False(t, New().IsIPv6First("host"))
	})
}

func TestResolver_Clear(t *testing.T) {
	lookup := &fakeLookup{result: addrs(t, "10.0.0.1")}
	r := New(WithLookupFunc(lookup.lookup))
	_, err := r.Lookup(context.Background(), "host")
	require.NoError(t, err)

	r.Clear()

	_, ok := r.Record("host")
	assert.False(t, ok)
	_, err = r.Lookup(context.Background(), "host")
	require.NoError(t, err)
	assert.Equal(t, int32(2), lookup.calls)
}

func TestResolver_Lookup_ConcurrentSingleResolution(t *testing.T) {
	lookup := &fakeLookup{result: addrs(t, "2001:db8::1", "10.0.0.1")}
	r := New(WithLookupFunc(lookup.lookup))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Lookup(context.Background(), "host")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&lookup.calls))
}

func TestResolver_DialContext(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	_, port, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)

	lookup := &fakeLookup{result: addrs(t, "127.0.0.1")}
	r := New(WithLookupFunc(lookup.lookup))

	conn, err := r.DialContext(context.Background(), "tcp", net.JoinHostPort("cloud.example.com", port))
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}
