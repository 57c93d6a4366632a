package redirect

import (
	"context"
	"errors"
	"net/http"

	"github.com/bitrise-io/go-davtransfer/network/failure"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// NewHTTPClient creates the retryable client an Executor sends through.
// Redirects are returned to the Executor instead of being followed, and HTTP
// statuses are never retried here: transport errors are retried at most
// transportRetries times.
func NewHTTPClient(transport http.RoundTripper, transportRetries int, logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.HTTPClient = &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	client.RetryMax = transportRetries
	client.CheckRetry = transportErrorRetryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

func transportErrorRetryPolicy(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil || errors.Is(err, failure.ErrHostUnknown) {
		return false, nil
	}
	return true, nil
}
