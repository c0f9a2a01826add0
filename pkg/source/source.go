// Package source opens reconstruction files wherever the specimen store says
// they live: on a local or mounted filesystem, or in an S3-compatible bucket.
package source

import (
	"context"
	"fmt"
	"io"
)

// Driver identifies a concrete source backend.
type Driver string

const (
	// DriverFilesystem reads paths from the local filesystem.
	DriverFilesystem Driver = "fs"
	// DriverS3 reads object keys from an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
)

// Source opens reconstruction files by their store path.
type Source interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Driver() Driver
}

// Options selects and configures a Source.
type Options struct {
	Driver Driver
	// Root is prepended to relative paths for the fs driver.
	Root string
	S3   S3Config
}

// New builds the Source described by opts.
func New(ctx context.Context, opts Options) (Source, error) {
	switch opts.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(opts.Root), nil
	case DriverS3:
		s, err := NewS3(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown source driver %q", opts.Driver)
	}
}
