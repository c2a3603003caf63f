//go:build !baremetal

package block

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dir serves files from a directory on the host filesystem. It stands in
// for the SD card during development and testing.
type Dir struct {
	root string
}

// NewDir returns a Source rooted at the given host directory.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Open(path string) (File, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("block: path %q is not absolute", path)
	}

	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("block: open %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("block: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("block: stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("block: open %s: %w", path, ErrNotFound)
	}

	return &dirFile{File: f, size: info.Size()}, nil
}

type dirFile struct {
	*os.File
	size int64
}

func (f *dirFile) Size() int64 {
	return f.size
}
