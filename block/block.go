/*
Package block abstracts reading files from the block device that backs the
image storage. On a host build the source is a directory on the local
filesystem; on baremetal targets it is a FAT filesystem on an SD card.
*/
package block

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Open when no file exists at the given path.
var ErrNotFound = errors.New("block: file not found")

// File is an open file on the block device.
type File interface {
	io.Reader
	io.Closer

	// Size returns the file length in bytes.
	Size() int64
}

// Source opens files on a block device by absolute path. Implementations
// are not safe for concurrent reads; the caller serializes access.
type Source interface {
	Open(path string) (File, error)
}
