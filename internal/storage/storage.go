// Package storage keeps generated artifacts. Videos are written to a local
// artifact directory and served from there; images and videos can also be
// published to an S3 bucket.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNoBucket is returned by Publish when no S3 bucket is configured.
	ErrNoBucket = errors.New("storage: no S3 bucket configured")
	// ErrOutsideDir is returned for a path that does not belong to the
	// artifact directory.
	ErrOutsideDir = errors.New("storage: path is outside the artifact directory")
)

// Storage is the artifact store used by the video poller and the studio.
type Storage interface {
	// Put writes data to a new file named after name and returns its path.
	Put(ctx context.Context, name string, data io.Reader) (string, error)

	// Open returns the content of a file written by Put. The caller closes it.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Remove deletes files written by Put. Missing files are ignored.
	Remove(ctx context.Context, paths ...string) error

	// Publish uploads data under key and returns its public URL.
	Publish(ctx context.Context, key, contentType string, data io.Reader) (string, error)
}
