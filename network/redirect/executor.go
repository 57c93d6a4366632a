// Package redirect sends one logical request, following a bounded chain of redirects
// and keeping WebDAV Destination headers valid across hops.
package redirect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/bitrise-io/go-davtransfer/network/failure"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultMaxHops is the redirect budget of a single logical request.
	DefaultMaxHops = 5
	// DefaultDAVRoot marks where the WebDAV namespace starts in a server URL.
	DefaultDAVRoot = "/remote.php/dav"
)

// DefaultIdPMarkers are location fragments of identity provider login flows.
var DefaultIdPMarkers = []string{"saml", "wayf"}

const destinationHeader = "Destination"

// BodyFunc returns a fresh reader of the request body on every call.
type BodyFunc func() (io.ReadCloser, error)

// Request is a logical request. Body is nil for requests without payload.
type Request struct {
	Method        string
	URL           string
	Header        http.Header
	Body          BodyFunc
	ContentLength int64
}

// Hop ...
type Hop struct {
	StatusCode int
	Location   string
}

// Trail is the redirect path taken by one logical request.
type Trail struct {
	Hops        []Hop
	FinalStatus int
}

// Result is the terminal response of a logical request. Body is never nil and must be closed.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	URL        string
	Trail      Trail
	// Exhausted is set when the hop budget ran out on a redirect status.
	Exhausted bool
}

// Err classifies the terminal status. It consumes up to 1 KiB of Body as error context.
func (r *Result) Err() error {
	if r.Exhausted {
		return &failure.StatusError{Kind: failure.ErrRedirectExhausted, StatusCode: r.StatusCode}
	}
	kind := failure.KindForStatus(r.StatusCode)
	if kind == nil {
		return nil
	}
	return failure.NewStatusError(kind, &http.Response{StatusCode: r.StatusCode, Body: r.Body})
}

// Close ...
func (r *Result) Close() error {
	return r.Body.Close()
}

// Executor ...
type Executor struct {
	client     *retryablehttp.Client
	maxHops    int
	davRoot    string
	idpMarkers []string
	logger     log.Logger
}

// Option ...
type Option func(*Executor)

// WithMaxHops ...
func WithMaxHops(maxHops int) Option {
	return func(e *Executor) {
		e.maxHops = maxHops
	}
}

// WithDAVRoot sets the path marker used to rebase Destination headers.
func WithDAVRoot(davRoot string) Option {
	return func(e *Executor) {
		e.davRoot = davRoot
	}
}

// WithIdPMarkers ...
func WithIdPMarkers(markers []string) Option {
	return func(e *Executor) {
		e.idpMarkers = markers
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// New creates an Executor on top of client. The client must not follow redirects itself,
// see NewHTTPClient.
func New(client *retryablehttp.Client, opts ...Option) *Executor {
	e := &Executor{
		client:     client,
		maxHops:    DefaultMaxHops,
		davRoot:    DefaultDAVRoot,
		idpMarkers: DefaultIdPMarkers,
		logger:     log.NewLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send issues req and follows redirects up to the hop budget.
func (e *Executor) Send(ctx context.Context, req Request) (*Result, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}

	var trail Trail
	var resp *http.Response
	exhausted := false
	for {
		resp, err = e.do(ctx, req, target, header)
		if err != nil {
			return nil, err
		}

		if !isRedirect(resp.StatusCode) {
			break
		}
		if len(trail.Hops) >= e.maxHops {
			e.logger.Warnf("Redirect budget of %d hops exhausted at %s", e.maxHops, target.Redacted())
			exhausted = true
			break
		}

		location := resp.Header.Get("Location")
		if location == "" {
			e.logger.Warnf("HTTP %d from %s without Location header", resp.StatusCode, target.Redacted())
			drain(resp.Body)
			resp = &http.Response{
				StatusCode: http.StatusNotFound,
				Header:     http.Header{},
				Body:       http.NoBody,
			}
			break
		}

		next, err := target.Parse(location)
		if err != nil {
			drain(resp.Body)
			return nil, fmt.Errorf("parse redirect location %q: %w", location, err)
		}
		drain(resp.Body)

		trail.Hops = append(trail.Hops, Hop{StatusCode: resp.StatusCode, Location: next.String()})
		if destination := header.Get(destinationHeader); destination != "" {
			rewritten := e.rewriteDestination(destination, next)
			e.logger.Debugf("Rewriting %s header %s -> %s", destinationHeader, destination, rewritten)
			header.Set(destinationHeader, rewritten)
		}
		e.logger.Debugf("Following HTTP %d redirect %d/%d to %s", resp.StatusCode, len(trail.Hops), e.maxHops, next.Redacted())
		target = next
	}

	statusCode := resp.StatusCode
	if e.isIdPRedirect(trail) {
		e.logger.Warnf("Redirected into an identity provider login (%s), reporting authorization failure", trail.Hops[len(trail.Hops)-1].Location)
		statusCode = http.StatusUnauthorized
	}
	trail.FinalStatus = statusCode

	return &Result{
		StatusCode: statusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		URL:        target.String(),
		Trail:      trail,
		Exhausted:  exhausted,
	}, nil
}

func (e *Executor) do(ctx context.Context, req Request, target *url.URL, header http.Header) (*http.Response, error) {
	var rawBody interface{}
	if req.Body != nil {
		rawBody = func() (io.Reader, error) {
			return req.Body()
		}
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, target.String(), rawBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header = header.Clone()
	if req.Body != nil {
		httpReq.ContentLength = req.ContentLength
		httpReq.Request.GetBody = req.Body
	}

	dump, err := httputil.DumpRequestOut(httpReq.Request, false)
	if err == nil {
		e.logger.Debugf("Request dump: %s", string(dump))
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if resp != nil {
			drain(resp.Body)
		}
		op := fmt.Sprintf("%s %s", req.Method, target.Redacted())
		if errors.Is(err, failure.ErrHostUnknown) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, &failure.TransportError{Op: op, Err: err}
	}

	dump, err = httputil.DumpResponse(resp, false)
	if err == nil {
		e.logger.Debugf("Response dump: %s", string(dump))
	}

	return resp, nil
}

// rewriteDestination rebases destination onto the redirected location: everything
// before the DAV root comes from the location, the rest from the old destination.
func (e *Executor) rewriteDestination(destination string, location *url.URL) string {
	locationStr := location.String()
	locationIdx := strings.LastIndex(locationStr, e.davRoot)
	destinationIdx := strings.Index(destination, e.davRoot)
	if e.davRoot != "" && locationIdx >= 0 && destinationIdx >= 0 {
		return locationStr[:locationIdx] + destination[destinationIdx:]
	}

	dest, err := url.Parse(destination)
	if err != nil || !dest.IsAbs() {
		return destination
	}
	dest.Scheme = location.Scheme
	dest.Host = location.Host
	return dest.String()
}

func (e *Executor) isIdPRedirect(trail Trail) bool {
	if len(trail.Hops) == 0 {
		return false
	}
	location := strings.ToLower(trail.Hops[len(trail.Hops)-1].Location)
	for _, marker := range e.idpMarkers {
		if marker != "" && strings.Contains(location, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func isRedirect(statusCode int) bool {
	switch statusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect:
		return true
	default:
		return false
	}
}

func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

// NewBytesBody ...
func NewBytesBody(b []byte) BodyFunc {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}
