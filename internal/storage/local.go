package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var _ Storage = (*Disk)(nil)

// Disk stores artifacts in one directory on the local file system. It cannot
// publish; see S3.
type Disk struct {
	dir string
}

// NewDisk creates dir when missing. An empty dir selects a genstudio folder
// under the system temp directory.
func NewDisk(dir string) (*Disk, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "genstudio")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Disk{dir: dir}, nil
}

// Dir returns the absolute artifact directory.
func (d *Disk) Dir() string {
	return d.dir
}

// Put writes data to a uniquely named file. The extension of name is kept,
// so "video.mp4" becomes something like "video_4021.mp4".
func (d *Disk) Put(ctx context.Context, name string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}

	base := filepath.Base(name)
	ext := filepath.Ext(base)
	f, err := os.CreateTemp(d.dir, strings.TrimSuffix(base, ext)+"_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	path := f.Name()

	_, err = io.Copy(f, data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

func (d *Disk) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !d.owns(path) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideDir, path)
	}

	f, err := os.Open(path) // #nosec G304 - path is confined to the artifact directory
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Remove keeps going after a failure and returns every error joined.
// Paths outside the artifact directory are left alone and reported.
func (d *Disk) Remove(ctx context.Context, paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if !d.owns(p) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrOutsideDir, p))
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove artifact: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Publish always fails with ErrNoBucket.
func (d *Disk) Publish(context.Context, string, string, io.Reader) (string, error) {
	return "", ErrNoBucket
}

// owns reports whether path names a file strictly inside the directory.
func (d *Disk) owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(d.dir, abs)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
