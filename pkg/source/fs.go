package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Filesystem reads reconstruction files from disk. Absolute paths are used
// as given; relative paths are resolved against root.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem source rooted at root.
func NewFilesystem(root string) *Filesystem {
	return &Filesystem{root: root}
}

func (f *Filesystem) Driver() Driver { return DriverFilesystem }

func (f *Filesystem) Open(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(f.resolve(path))
}

func (f *Filesystem) resolve(path string) string {
	p := filepath.FromSlash(path)
	if f.root == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.root, p)
}
