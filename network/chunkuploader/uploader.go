package chunkuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-davtransfer/network/failure"
	"github.com/bitrise-io/go-davtransfer/network/redirect"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"
)

const (
	methodMkcol = "MKCOL"
	methodMove  = "MOVE"

	assembleSentinel = ".file"

	headerDestination  = "Destination"
	headerTotalLength  = "OC-Total-Length"
	headerMtime        = "X-OC-Mtime"
	headerOverwrite    = "Overwrite"
	headerETag         = "ETag"
	headerOCETag       = "OC-ETag"
	headerOCFileID     = "OC-FileId"
	headerContentType  = "Content-Type"
	octetStreamContent = "application/octet-stream"
)

// Sender sends one logical request, following redirects.
type Sender interface {
	Send(ctx context.Context, req redirect.Request) (*redirect.Result, error)
}

// Uploader drives chunked uploads. It keeps no per upload state between calls.
type Uploader struct {
	config Config
	sender Sender
	logger log.Logger
	stats  *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, sender Sender, logger log.Logger) *Uploader {
	return &Uploader{
		config: config,
		sender: sender,
		logger: logger,
		stats:  NewStats(),
	}
}

// NewCollectionURL returns a fresh staging collection below uploadsRoot.
func NewCollectionURL(uploadsRoot string) string {
	return strings.TrimSuffix(uploadsRoot, "/") + "/" + uuid.NewString()
}

// Upload uploads source to target, starting at startByte.
// A fresh upload starts at 0. When resuming, the next chunk id is taken from the
// chunks already in the staging collection, which must add up to startByte.
func (u *Uploader) Upload(ctx context.Context, source ChunkProvider, target Target, startByte int64) (*UploadResult, error) {
	return u.UploadWithParams(ctx, UploadParams{
		Source: source,
		Target: target,
		Resume: ResumePoint{Offset: startByte},
	})
}

// UploadWithParams ...
func (u *Uploader) UploadWithParams(ctx context.Context, params UploadParams) (*UploadResult, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	total := params.Source.Size()
	nextByte := params.Resume.Offset
	nextID := params.Resume.NextChunkID
	if nextByte == 0 && nextID == 0 {
		nextID = 1
	}
	if nextByte > total {
		return nil, fmt.Errorf("resume offset %d is past the end of the source (%d bytes)", nextByte, total)
	}

	fail := func(state State, err error) (*UploadResult, error) {
		u.logger.Warnf("Upload to %s failed while %s: %s", params.Target.DestinationURL, state, err)
		u.logState(StateFailed)
		return nil, &UploadError{
			State:  state,
			Resume: ResumePoint{Offset: nextByte, NextChunkID: nextID},
			Err:    err,
		}
	}

	if total == 0 {
		u.logState(StateSendingChunk)
		result, err := u.uploadEmpty(ctx, params)
		if err != nil {
			return fail(StateSendingChunk, err)
		}
		u.logState(StateDone)
		return result, nil
	}

	u.logState(StatePlanning)
	if nextByte == 0 {
		if err := u.createCollection(ctx, params.Target); err != nil {
			return fail(StatePlanning, err)
		}
	} else if nextID == 0 {
		staged, err := u.listStagedChunks(ctx, params.Target)
		if err != nil {
			return fail(StatePlanning, err)
		}
		if staged.bytes != nextByte {
			return fail(StatePlanning, fmt.Errorf("staging collection holds %d bytes in %d chunks, can not resume at byte %d",
				staged.bytes, staged.count, nextByte))
		}
		nextID = staged.lastID + 1
	}
	u.logger.Infof("Uploading %s to %s (from byte %d, chunk %d)", units.BytesSize(float64(total)), params.Target.DestinationURL, nextByte, nextID)

	chunks := 0
	session := NewStats()
	started := time.Now()
	for nextByte < total {
		if err := ctx.Err(); err != nil {
			return fail(StateSendingChunk, fmt.Errorf("upload cancelled: %w", err))
		}

		class := Unmetered
		if params.NetworkClass != nil {
			class = params.NetworkClass()
		}
		chunk := NextChunk(total, nextID, nextByte, u.config.ChunkSize(class))

		u.logState(StateSendingChunk)
		if params.Observer != nil {
			params.Observer.ChunkStarted(chunk)
		}
		if err := u.uploadChunk(ctx, params, chunk, class, session); err != nil {
			return fail(StateSendingChunk, err)
		}

		nextByte += chunk.Length
		nextID++
		chunks++
	}
	if chunks > 0 {
		u.logger.Infof("%d chunks (%s) uploaded in %s [avg=%v] [throughput=%s/s]", chunks, units.BytesSize(float64(session.Bytes())),
			time.Since(started).Round(time.Second), session.Average().Round(time.Millisecond), units.BytesSize(session.Throughput()))
	}

	u.logState(StateAssembling)
	result, err := u.assemble(ctx, params, total)
	if err != nil {
		return fail(StateAssembling, err)
	}
	result.Chunks = chunks
	result.Bytes = total

	u.logState(StateDone)
	u.logger.Donef("Upload of %s to %s finished, ETag: %s", units.BytesSize(float64(total)), params.Target.DestinationURL, result.ETag)
	return result, nil
}

// Abort removes the staging collection of an upload that will not be resumed.
func (u *Uploader) Abort(ctx context.Context, target Target) error {
	result, err := u.sender.Send(ctx, redirect.Request{
		Method: http.MethodDelete,
		URL:    target.CollectionURL,
		Header: target.Header.Clone(),
	})
	if err != nil {
		return fmt.Errorf("delete staging collection: %w", err)
	}
	defer closeResult(result, u.logger)

	if result.StatusCode == http.StatusNotFound {
		return nil
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("delete staging collection: %w", err)
	}
	return nil
}

// Stats returns the statistics of every chunk this Uploader confirmed, across all uploads.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

func (u *Uploader) createCollection(ctx context.Context, target Target) error {
	header := target.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(headerDestination, target.DestinationURL)

	result, err := u.sender.Send(ctx, redirect.Request{
		Method: methodMkcol,
		URL:    target.CollectionURL,
		Header: header,
	})
	if err != nil {
		return fmt.Errorf("create staging collection: %w", err)
	}
	defer closeResult(result, u.logger)

	// 405: the collection already exists.
	if result.StatusCode == http.StatusMethodNotAllowed {
		return nil
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("create staging collection: %w", err)
	}
	return nil
}

func (u *Uploader) uploadChunk(ctx context.Context, params UploadParams, chunk Chunk, class NetworkClass, session *Stats) error {
	u.logger.Debugf("Uploading chunk %d [%d, %d) of %d (%s, %s)", chunk.ID, chunk.Start, chunk.End(), params.Source.Size(),
		units.BytesSize(float64(chunk.Length)), class)

	header := params.Target.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(headerDestination, params.Target.DestinationURL)
	header.Set(headerTotalLength, strconv.FormatInt(params.Source.Size(), 10))
	header.Set(headerContentType, octetStreamContent)

	start := time.Now()
	result, err := u.sender.Send(ctx, redirect.Request{
		Method: http.MethodPut,
		URL:    chunkURL(params.Target.CollectionURL, chunk.ID),
		Header: header,
		Body: func() (io.ReadCloser, error) {
			r, err := params.Source.GetChunk(chunk)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(r), nil
		},
		ContentLength: chunk.Length,
	})
	if err != nil {
		return fmt.Errorf("upload chunk %d: %w", chunk.ID, err)
	}
	defer closeResult(result, u.logger)

	if err := result.Err(); err != nil {
		return fmt.Errorf("upload chunk %d: %w", chunk.ID, asKind(err, failure.ErrChunkTransmissionFailure))
	}

	took := time.Since(start)
	u.stats.Update(took, chunk.Length)
	session.Update(took, chunk.Length)
	u.logger.Debugf("Chunk %d uploaded in %v", chunk.ID, took.Round(time.Millisecond))
	return nil
}

func (u *Uploader) assemble(ctx context.Context, params UploadParams, total int64) (*UploadResult, error) {
	timeout := u.config.AssembleTimeout(total)
	u.logger.Infof("Assembling %s on the server (timeout: %s)", units.BytesSize(float64(total)), timeout)

	assembleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := params.Target.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(headerDestination, params.Target.DestinationURL)
	header.Set(headerTotalLength, strconv.FormatInt(total, 10))
	header.Set(headerOverwrite, "T")
	if !params.LastModified.IsZero() {
		header.Set(headerMtime, strconv.FormatInt(params.LastModified.Unix(), 10))
	}

	result, err := u.sender.Send(assembleCtx, redirect.Request{
		Method: methodMove,
		URL:    strings.TrimSuffix(params.Target.CollectionURL, "/") + "/" + assembleSentinel,
		Header: header,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: no response within %s", failure.ErrAssemblyTimeout, timeout)
		}
		return nil, fmt.Errorf("assemble: %w", err)
	}
	defer closeResult(result, u.logger)

	// The error body is read under the assembly deadline, so it is empty when the
	// budget ran out after the response headers arrived.
	if err := result.Err(); err != nil {
		if assembleCtx.Err() != nil && ctx.Err() == nil {
			u.logger.Warnf("Assembly budget of %s ran out while reading the HTTP %d error response", timeout, result.StatusCode)
		}
		return nil, fmt.Errorf("assemble: %w", asKind(err, failure.ErrAssemblyFailed))
	}

	return newUploadResult(result), nil
}

func (u *Uploader) uploadEmpty(ctx context.Context, params UploadParams) (*UploadResult, error) {
	u.logger.Infof("Uploading empty file to %s", params.Target.DestinationURL)

	header := params.Target.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if !params.LastModified.IsZero() {
		header.Set(headerMtime, strconv.FormatInt(params.LastModified.Unix(), 10))
	}

	result, err := u.sender.Send(ctx, redirect.Request{
		Method: http.MethodPut,
		URL:    params.Target.DestinationURL,
		Header: header,
	})
	if err != nil {
		return nil, fmt.Errorf("upload empty file: %w", err)
	}
	defer closeResult(result, u.logger)

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("upload empty file: %w", err)
	}
	return newUploadResult(result), nil
}

func (u *Uploader) logState(state State) {
	u.logger.Debugf("Upload state: %s", state)
}

func validateParams(params UploadParams) error {
	if params.Source == nil {
		return fmt.Errorf("upload source must not be nil")
	}
	if params.Target.DestinationURL == "" {
		return fmt.Errorf("destination URL must not be empty")
	}
	if params.Target.CollectionURL == "" && params.Source.Size() > 0 {
		return fmt.Errorf("staging collection URL must not be empty")
	}
	if params.Resume.Offset < 0 || params.Resume.NextChunkID < 0 {
		return fmt.Errorf("invalid resume point: %+v", params.Resume)
	}
	return nil
}

func newUploadResult(result *redirect.Result) *UploadResult {
	etag := result.Header.Get(headerOCETag)
	if etag == "" {
		etag = result.Header.Get(headerETag)
	}
	return &UploadResult{
		ETag:       etag,
		FileID:     result.Header.Get(headerOCFileID),
		StatusCode: result.StatusCode,
	}
}

// asKind re-labels a plain status failure with kind; authorization and redirect
// failures keep their own kind.
func asKind(err error, kind error) error {
	var statusErr *failure.StatusError
	if errors.As(err, &statusErr) && statusErr.Kind == failure.ErrUnexpectedStatus {
		relabeled := *statusErr
		relabeled.Kind = kind
		return &relabeled
	}
	return err
}

func chunkURL(collectionURL string, id int64) string {
	return strings.TrimSuffix(collectionURL, "/") + "/" + strconv.FormatInt(id, 10)
}

func closeResult(result *redirect.Result, logger log.Logger) {
	if err := result.Close(); err != nil {
		logger.Printf("%s", err)
	}
}
