package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		statusCode int
		want       error
	}{
		{statusCode: http.StatusOK, want: nil},
		{statusCode: http.StatusCreated, want: nil},
		{statusCode: http.StatusUnauthorized, want: ErrAuthorizationFailure},
		{statusCode: http.StatusForbidden, want: ErrAuthorizationFailure},
		{statusCode: http.StatusFound, want: ErrRedirectExhausted},
		{statusCode: http.StatusNotFound, want: ErrUnexpectedStatus},
		{statusCode: http.StatusInternalServerError, want: ErrUnexpectedStatus},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP %d", tt.statusCode), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForStatus(tt.statusCode))
		})
	}
}

func TestNewStatusError(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusInsufficientStorage,
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("q", 2048))),
	}

	err := fmt.Errorf("upload chunk 3: %w", NewStatusError(ErrChunkTransmissionFailure, resp))

	assert.True(t, errors.Is(err, ErrChunkTransmissionFailure))
	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInsufficientStorage, statusErr.StatusCode)
	assert.Len(t, statusErr.Body, maxErrorBodySize)
}

func TestTransportError(t *testing.T) {
	err := fmt.Errorf("send: %w", &TransportError{Op: "PUT https://cloud.example.com", Err: context.DeadlineExceeded})

	assert.True(t, errors.Is(err, ErrTransportFailure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrHostUnknown))
}
