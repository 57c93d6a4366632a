package fallback

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"
)

// DialFunc ...
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Pool keeps one transport per host so connections of a single host can be
// dropped without touching the others.
type Pool struct {
	dial       DialFunc
	newFn      func(dial DialFunc) *http.Transport
	mu         sync.Mutex
	transports map[string]*http.Transport
}

// NewPool creates a pool whose transports dial through dial.
func NewPool(dial DialFunc) *Pool {
	return &Pool{
		dial:       dial,
		newFn:      DefaultTransport,
		transports: map[string]*http.Transport{},
	}
}

// DefaultTransport mirrors the connection settings of the chunk uploader's client.
func DefaultTransport(dial DialFunc) *http.Transport {
	return &http.Transport{
		DialContext:           dial,
		MaxIdleConns:          50,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		Proxy:                 http.ProxyFromEnvironment,
	}
}

// Get returns the transport serving host, creating it on first use.
func (p *Pool) Get(host string) *http.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.transports[host]
	if !ok {
		t = p.newFn(p.dial)
		p.transports[host] = t
	}
	return t
}

// Evict drops the transport of host. Requests already running on it finish normally,
// the next request to host opens a fresh connection.
func (p *Pool) Evict(host string) {
	p.mu.Lock()
	t, ok := p.transports[host]
	delete(p.transports, host)
	p.mu.Unlock()

	if ok {
		t.CloseIdleConnections()
	}
}

// Len ...
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transports)
}

// CloseIdleConnections closes idle connections of every host.
func (p *Pool) CloseIdleConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}
