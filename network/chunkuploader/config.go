package chunkuploader

import (
	"fmt"
	"time"
)

const (
	// MiB ...
	MiB = 1024 * 1024
	// GiB ...
	GiB = 1024 * MiB
)

// Config holds configuration for the chunk uploader.
type Config struct {
	// MeteredChunkSize is the chunk size on mobile data.
	// Default: 1 MiB
	MeteredChunkSize int64

	// UnmeteredChunkSize is the chunk size on Wi-Fi.
	// Default: 10 MiB
	UnmeteredChunkSize int64

	// AssembleTimeoutMin is the assembly budget of small files.
	// Default: 30 seconds
	AssembleTimeoutMin time.Duration

	// AssembleTimeoutPerGiB is the assembly budget per GiB of file size.
	// Default: 3 minutes
	AssembleTimeoutPerGiB time.Duration

	// AssembleTimeoutMax caps the assembly budget regardless of file size.
	// Default: 30 minutes
	AssembleTimeoutMax time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MeteredChunkSize:      1 * MiB,
		UnmeteredChunkSize:    10 * MiB,
		AssembleTimeoutMin:    30 * time.Second,
		AssembleTimeoutPerGiB: 3 * time.Minute,
		AssembleTimeoutMax:    30 * time.Minute,
	}
}

// Validate ...
func (c Config) Validate() error {
	if c.MeteredChunkSize <= 0 {
		return fmt.Errorf("metered chunk size must be positive, got %d", c.MeteredChunkSize)
	}
	if c.UnmeteredChunkSize <= 0 {
		return fmt.Errorf("unmetered chunk size must be positive, got %d", c.UnmeteredChunkSize)
	}
	if c.AssembleTimeoutMin <= 0 || c.AssembleTimeoutMax < c.AssembleTimeoutMin {
		return fmt.Errorf("invalid assemble timeout bounds: min %s, max %s", c.AssembleTimeoutMin, c.AssembleTimeoutMax)
	}
	if c.AssembleTimeoutPerGiB < 0 {
		return fmt.Errorf("assemble timeout per GiB must not be negative, got %s", c.AssembleTimeoutPerGiB)
	}
	return nil
}

// ChunkSize returns the chunk size tier of class.
func (c Config) ChunkSize(class NetworkClass) int64 {
	if class == Metered {
		return c.MeteredChunkSize
	}
	return c.UnmeteredChunkSize
}

// AssembleTimeout calculates how long the server may take to assemble a file of totalSize bytes.
func (c Config) AssembleTimeout(totalSize int64) time.Duration {
	// Clamped as float, very large sizes overflow time.Duration.
	scaled := float64(totalSize) / GiB * float64(c.AssembleTimeoutPerGiB)
	if scaled >= float64(c.AssembleTimeoutMax) {
		return c.AssembleTimeoutMax
	}
	timeout := time.Duration(scaled)
	if timeout < c.AssembleTimeoutMin {
		timeout = c.AssembleTimeoutMin
	}
	return timeout
}

// AssembleTimeout calculates the assembly budget with the default configuration.
func AssembleTimeout(totalSize int64) time.Duration {
	return DefaultConfig().AssembleTimeout(totalSize)
}
