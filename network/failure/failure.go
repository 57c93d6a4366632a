// Package failure defines the error taxonomy shared by the transfer packages.
// Every failure is returned as a value; callers classify it with errors.Is.
package failure

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrHostUnknown ...
var ErrHostUnknown = errors.New("host unknown: no addresses resolved")

// ErrTransportFailure is returned when a request failed without any HTTP response.
var ErrTransportFailure = errors.New("transport failure")

// ErrRedirectExhausted ...
var ErrRedirectExhausted = errors.New("redirect hop budget exhausted")

// ErrAuthorizationFailure covers 401/403 responses and redirects into an identity provider login.
var ErrAuthorizationFailure = errors.New("authorization failure")

// ErrChunkTransmissionFailure ...
var ErrChunkTransmissionFailure = errors.New("chunk transmission failure")

// ErrAssemblyTimeout is returned when the finalize request exceeded its size derived budget.
var ErrAssemblyTimeout = errors.New("assembly timed out")

// ErrAssemblyFailed ...
var ErrAssemblyFailed = errors.New("assembly failed")

// ErrUnexpectedStatus is the kind of any other non-success HTTP status.
var ErrUnexpectedStatus = errors.New("unexpected status")

const maxErrorBodySize = 1024

// StatusError is an HTTP status that did not meet the caller's success criteria.
type StatusError struct {
	Kind       error
	StatusCode int
	Body       string
}

// Error ...
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Kind, e.StatusCode, e.Body)
}

// Unwrap ...
func (e *StatusError) Unwrap() error {
	return e.Kind
}

// NewStatusError captures the first KiB of the response body as error context.
// The body is not closed.
func NewStatusError(kind error, resp *http.Response) *StatusError {
	statusErr := &StatusError{Kind: kind, StatusCode: resp.StatusCode}
	if resp.Body == nil {
		return statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err == nil {
		statusErr.Body = string(body)
	}
	return statusErr
}

// KindForStatus maps a terminal HTTP status into the taxonomy.
// Success statuses map to nil.
func KindForStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrAuthorizationFailure
	case statusCode == http.StatusMovedPermanently || statusCode == http.StatusFound || statusCode == http.StatusTemporaryRedirect:
		return ErrRedirectExhausted
	default:
		return ErrUnexpectedStatus
	}
}

// TransportError is a request that produced no HTTP response at all.
// It matches ErrTransportFailure and unwraps to the underlying cause.
type TransportError struct {
	Op  string
	Err error
}

// Error ...
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrTransportFailure, e.Op, e.Err)
}

// Is ...
func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}

// Unwrap ...
func (e *TransportError) Unwrap() error {
	return e.Err
}
