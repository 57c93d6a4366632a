// Package chunkuploader uploads large files to a WebDAV server as a sequence of chunks
// that are assembled server side. Uploads can be resumed from the last confirmed byte.
package chunkuploader

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-davtransfer/network/failure"
)

// Chunk is a contiguous byte range of the source, sent as one request.
type Chunk struct {
	ID     int64
	Start  int64
	Length int64
}

// End returns the offset right after the last byte of the chunk.
func (c Chunk) End() int64 {
	return c.Start + c.Length
}

// ChunkProvider provides the bytes of the upload source.
// Implementations can read from files or memory buffers.
type ChunkProvider interface {
	// Size returns the total length of the source.
	Size() int64

	// GetChunk returns a reader for the byte range of chunk.
	// For redirects and fallbacks, GetChunk may be called multiple times for the same chunk.
	GetChunk(chunk Chunk) (io.Reader, error)
}

// NetworkClass is a coarse signal of the current connection used to pick a chunk size.
type NetworkClass int

const (
	// Unmetered is Wi-Fi or any other connection without data caps.
	Unmetered NetworkClass = iota
	// Metered is mobile data.
	Metered
)

// String ...
func (c NetworkClass) String() string {
	switch c {
	case Unmetered:
		return "unmetered"
	case Metered:
		return "metered"
	default:
		return fmt.Sprintf("NetworkClass(%d)", int(c))
	}
}

// NetworkClassFunc is consulted before every chunk.
type NetworkClassFunc func() NetworkClass

// ChunkObserver is notified right before a chunk is sent.
type ChunkObserver interface {
	ChunkStarted(chunk Chunk)
}

// ChunkObserverFunc ...
type ChunkObserverFunc func(chunk Chunk)

// ChunkStarted ...
func (f ChunkObserverFunc) ChunkStarted(chunk Chunk) {
	f(chunk)
}

// Target addresses the remote side of an upload.
type Target struct {
	// CollectionURL is the server managed staging collection; chunk N is stored at CollectionURL/N.
	CollectionURL string
	// DestinationURL is where the assembled file ends up.
	DestinationURL string
	// Header is added to every request, e.g. credentials.
	Header http.Header
}

// ResumePoint is what a caller persists to continue an interrupted upload.
type ResumePoint struct {
	// Offset is the first byte not yet confirmed by the server.
	Offset int64
	// NextChunkID is the id the next chunk must be sent with.
	NextChunkID int64
}

// UploadParams ...
type UploadParams struct {
	Source       ChunkProvider
	Target       Target
	Resume       ResumePoint
	NetworkClass NetworkClassFunc
	Observer     ChunkObserver
	// LastModified is sent as the modification time of the assembled file when set.
	LastModified time.Time
}

// UploadResult describes the assembled remote file.
type UploadResult struct {
	ETag       string
	FileID     string
	StatusCode int
	Chunks     int
	Bytes      int64
}

// State ...
type State int

const (
	StatePlanning State = iota
	StateSendingChunk
	StateAssembling
	StateDone
	StateFailed
)

// String ...
func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateSendingChunk:
		return "sending chunk"
	case StateAssembling:
		return "assembling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// UploadError is an aborted upload. Resume tells where a later attempt can continue.
type UploadError struct {
	State  State
	Resume ResumePoint
	Err    error
}

// Error ...
func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed while %s (resume at byte %d, chunk %d): %s", e.State, e.Resume.Offset, e.Resume.NextChunkID, e.Err)
}

// Unwrap ...
func (e *UploadError) Unwrap() error {
	return e.Err
}

// Is reports every failure while sending a chunk as a chunk transmission failure.
func (e *UploadError) Is(target error) bool {
	return target == failure.ErrChunkTransmissionFailure && e.State == StateSendingChunk
}

// ResumePointOf extracts the resume point of a failed upload.
func ResumePointOf(err error) (ResumePoint, bool) {
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return uploadErr.Resume, true
	}
	return ResumePoint{}, false
}
