// Package network is the resilient WebDAV transfer layer: cached address resolution
// with IPv6 to IPv4 fallback, redirect following and resumable chunked uploads.
package network

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-davtransfer/internal"
	"github.com/bitrise-io/go-davtransfer/network/chunkuploader"
	"github.com/bitrise-io/go-davtransfer/network/fallback"
	"github.com/bitrise-io/go-davtransfer/network/redirect"
	"github.com/bitrise-io/go-davtransfer/network/resolver"
	"github.com/bitrise-io/go-utils/v2/log"
)

// UploadFileParams ...
type UploadFileParams struct {
	LocalPath    string
	Target       chunkuploader.Target
	Resume       chunkuploader.ResumePoint
	NetworkClass chunkuploader.NetworkClassFunc
	Observer     chunkuploader.ChunkObserver
}

// Client ...
type Client struct {
	logger   log.Logger
	osProxy  internal.OsProxy
	resolver *resolver.Resolver
	pool     *fallback.Pool
	fallback *fallback.RoundTripper
	executor *redirect.Executor
	uploader *chunkuploader.Uploader
}

// ClientOption ...
type ClientOption func(*clientOptions)

type clientOptions struct {
	resolverOpts []resolver.Option
	osProxy      internal.OsProxy
}

// WithResolverOptions passes extra options to the address resolver, e.g. a custom lookup function.
func WithResolverOptions(opts ...resolver.Option) ClientOption {
	return func(o *clientOptions) {
		o.resolverOpts = append(o.resolverOpts, opts...)
	}
}

// WithOsProxy ...
func WithOsProxy(osProxy internal.OsProxy) ClientOption {
	return func(o *clientOptions) {
		o.osProxy = osProxy
	}
}

// NewClient wires the resolver, the per host connection pool with family fallback,
// the redirect executor and the chunk uploader together.
func NewClient(config Config, logger log.Logger, opts ...ClientOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	options := clientOptions{osProxy: internal.RealOS{}}
	for _, opt := range opts {
		opt(&options)
	}

	resolverOpts := append([]resolver.Option{
		resolver.WithTTL(config.ResolverTTL),
		resolver.WithLogger(logger),
	}, options.resolverOpts...)
	r := resolver.New(resolverOpts...)

	pool := fallback.NewPool(r.DialContext)
	roundTripper := fallback.New(r, pool, logger)

	executor := redirect.New(
		redirect.NewHTTPClient(roundTripper, config.TransportRetries, logger),
		redirect.WithMaxHops(config.MaxRedirectHops),
		redirect.WithDAVRoot(config.DAVRoot),
		redirect.WithIdPMarkers(config.IdPMarkers),
		redirect.WithLogger(logger),
	)

	return &Client{
		logger:   logger,
		osProxy:  options.osProxy,
		resolver: r,
		pool:     pool,
		fallback: roundTripper,
		executor: executor,
		uploader: chunkuploader.New(config.Upload, executor, logger),
	}, nil
}

// Do sends a single logical request. The caller must close the result.
func (c *Client) Do(ctx context.Context, req redirect.Request) (*redirect.Result, error) {
	return c.executor.Send(ctx, req)
}

// Upload ...
func (c *Client) Upload(ctx context.Context, params chunkuploader.UploadParams) (*chunkuploader.UploadResult, error) {
	return c.uploader.UploadWithParams(ctx, params)
}

// UploadFile uploads a local file. The file's modification time is kept on the server.
func (c *Client) UploadFile(ctx context.Context, params UploadFileParams) (*chunkuploader.UploadResult, error) {
	provider, err := chunkuploader.NewFileChunkProvider(c.osProxy, params.LocalPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			c.logger.Errorf("failed to close file: %s", err)
		}
	}()

	return c.uploader.UploadWithParams(ctx, chunkuploader.UploadParams{
		Source:       provider,
		Target:       params.Target,
		Resume:       params.Resume,
		NetworkClass: params.NetworkClass,
		Observer:     params.Observer,
		LastModified: provider.ModTime(),
	})
}

// Abort removes the staging collection of an upload that will not be resumed.
func (c *Client) Abort(ctx context.Context, target chunkuploader.Target) error {
	return c.uploader.Abort(ctx, target)
}

// Resolver returns the client's address cache.
func (c *Client) Resolver() *resolver.Resolver {
	return c.resolver
}

// Fallbacks returns how many requests were re-issued over IPv4.
func (c *Client) Fallbacks() int64 {
	return c.fallback.Fallbacks()
}

// Stats returns the chunk upload statistics.
func (c *Client) Stats() *chunkuploader.Stats {
	return c.uploader.Stats()
}

// CloseIdleConnections closes idle connections of every host.
func (c *Client) CloseIdleConnections() {
	c.pool.CloseIdleConnections()
}
