package network

import (
	"context"

	"github.com/bitrise-io/go-davtransfer/network/chunkuploader"
	"github.com/bitrise-io/go-davtransfer/network/redirect"
)

// Uploader ...
type Uploader interface {
	UploadFile(context.Context, UploadFileParams) (*chunkuploader.UploadResult, error)
	Abort(context.Context, chunkuploader.Target) error
}

// Doer ...
type Doer interface {
	Do(context.Context, redirect.Request) (*redirect.Result, error)
}

var (
	_ Uploader = (*Client)(nil)
	_ Doer     = (*Client)(nil)
)
