package internal

import (
	"os"
)

// OsProxy is the file system seam of the local upload sources.
type OsProxy interface {
	Open(name string) (*os.File, error)
	Stat(name string) (os.FileInfo, error)
}

// RealOS is the default implementation that delegates to the real os package.
type RealOS struct{}

func (RealOS) Open(name string) (*os.File, error)    { return os.Open(name) } //nolint:revive
func (RealOS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) } //nolint:revive
