package chunkuploader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bitrise-io/go-davtransfer/internal"
)

// FileChunkProvider reads chunks from a file on disk.
// Thread-safe for parallel chunk reads.
type FileChunkProvider struct {
	file    *os.File
	size    int64
	modTime time.Time
}

// NewFileChunkProvider creates a ChunkProvider that reads from a file.
func NewFileChunkProvider(osProxy internal.OsProxy, path string) (*FileChunkProvider, error) {
	info, err := osProxy.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	file, err := osProxy.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &FileChunkProvider{
		file:    file,
		size:    info.Size(),
		modTime: info.ModTime(),
	}, nil
}

// Size returns the file size at the time the provider was created.
func (p *FileChunkProvider) Size() int64 {
	return p.size
}

// ModTime returns the file's modification time at the time the provider was created.
func (p *FileChunkProvider) ModTime() time.Time {
	return p.modTime
}

// GetChunk returns a reader for the chunk's byte range.
func (p *FileChunkProvider) GetChunk(chunk Chunk) (io.Reader, error) {
	if err := checkBounds(chunk, p.size); err != nil {
		return nil, err
	}
	return io.NewSectionReader(p.file, chunk.Start, chunk.Length), nil
}

// Close closes the underlying file.
func (p *FileChunkProvider) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// ByteSliceChunkProvider provides chunks from an in-memory buffer.
type ByteSliceChunkProvider struct {
	data []byte
}

// NewByteSliceChunkProvider ...
func NewByteSliceChunkProvider(data []byte) *ByteSliceChunkProvider {
	return &ByteSliceChunkProvider{data: data}
}

// Size ...
func (p *ByteSliceChunkProvider) Size() int64 {
	return int64(len(p.data))
}

// GetChunk ...
func (p *ByteSliceChunkProvider) GetChunk(chunk Chunk) (io.Reader, error) {
	if err := checkBounds(chunk, p.Size()); err != nil {
		return nil, err
	}
	return bytes.NewReader(p.data[chunk.Start:chunk.End()]), nil
}

func checkBounds(chunk Chunk, size int64) error {
	if chunk.Start < 0 || chunk.Length < 0 || chunk.End() > size {
		return fmt.Errorf("chunk %d range [%d, %d) out of bounds [0, %d)", chunk.ID, chunk.Start, chunk.End(), size)
	}
	return nil
}
