// Package fallback switches a host from IPv6 to IPv4 after a server error
// observed on an IPv6 first address set, and re-issues the failed request once.
package fallback

import (
	"io"
	"net/http"
	"sync/atomic"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Preferences is the part of the resolver the fallback needs.
type Preferences interface {
	IsIPv6First(hostname string) bool
	SetPreference(hostname string, preferIPv4 bool)
}

// HostTransports hands out the round tripper of a host and can drop its pooled connections.
type HostTransports interface {
	RoundTripper(host string) http.RoundTripper
	Evict(host string)
}

// RoundTripper ...
func (p *Pool) RoundTripper(host string) http.RoundTripper {
	return p.Get(host)
}

// RoundTripper is an http.RoundTripper applying the one-shot family fallback.
type RoundTripper struct {
	fallbacks   int64
	preferences Preferences
	transports  HostTransports
	logger      log.Logger
}

// New ...
func New(preferences Preferences, transports HostTransports, logger log.Logger) *RoundTripper {
	return &RoundTripper{
		preferences: preferences,
		transports:  transports,
		logger:      logger,
	}
}

// RoundTrip ...
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.transports.RoundTripper(req.URL.Host).RoundTrip(req)
	if err != nil {
		return nil, err
	}

	hostname := req.URL.Hostname()
	if !isServerError(resp.StatusCode) || !rt.preferences.IsIPv6First(hostname) {
		return resp, nil
	}

	retry, ok := rewind(req)
	if !ok {
		rt.logger.Warnf("HTTP %d from %s over IPv6, request body can not be replayed; skipping IPv4 fallback", resp.StatusCode, hostname)
		return resp, nil
	}

	rt.logger.Warnf("HTTP %d from %s over IPv6, switching to IPv4 and retrying once", resp.StatusCode, hostname)
	drain(resp.Body)

	rt.preferences.SetPreference(hostname, true)
	rt.transports.Evict(req.URL.Host)
	atomic.AddInt64(&rt.fallbacks, 1)

	return rt.transports.RoundTripper(req.URL.Host).RoundTrip(retry)
}

// Fallbacks returns how many times the family fallback was applied.
func (rt *RoundTripper) Fallbacks() int64 {
	return atomic.LoadInt64(&rt.fallbacks)
}

func isServerError(statusCode int) bool {
	return statusCode >= 500 && statusCode <= 599
}

func rewind(req *http.Request) (*http.Request, bool) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, true
	}
	if req.GetBody == nil {
		return nil, false
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	retry.Body = body
	return retry, true
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
