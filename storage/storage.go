// Package storage owns the local destination directory.
//
// Writes are direct, non-atomic stream copies into the final path. A failure
// mid-write leaves a partial file; callers serialize writers per path.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pithecene-io/tgdrop/iox"
)

// Startup failures. Each is fatal.
var (
	ErrRootMissing     = errors.New("storage root does not exist")
	ErrRootNotDir      = errors.New("storage root is not a directory")
	ErrRootNotWritable = errors.New("storage root is not writable")
	// ErrOutsideRoot is returned when a write targets a path not directly under the root.
	ErrOutsideRoot = errors.New("path is outside storage root")
)

// FileMode is the permission used for newly created files.
const FileMode os.FileMode = 0o644

// Target is a verified storage root.
type Target struct {
	root string
}

// WriteResult describes a completed write.
type WriteResult struct {
	Path     string
	Size     int64
	Checksum string // hex SHA-256
}

// Open verifies that root exists, is a directory, and accepts new files.
func Open(root string) (*Target, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty path", ErrRootMissing)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrRootMissing, abs)
	case err != nil:
		return nil, fmt.Errorf("stat storage root: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrRootNotDir, abs)
	}

	scratch, err := os.CreateTemp(abs, ".tgdrop-writable-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRootNotWritable, abs, err)
	}
	name := scratch.Name()
	iox.DiscardClose(scratch)
	_ = os.Remove(name)

	return &Target{root: abs}, nil
}

// Root returns the absolute root directory.
func (t *Target) Root() string { return t.root }

// Write truncates or creates path and passes the file to fill.
// The returned size and checksum cover exactly the bytes fill wrote.
func (t *Target) Write(ctx context.Context, path string, fill func(io.Writer) error) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	path = filepath.Clean(path)
	if filepath.Dir(path) != t.root {
		return WriteResult{}, fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FileMode)
	if err != nil {
		return WriteResult{}, fmt.Errorf("open %s: %w", path, err)
	}

	d := iox.NewDigestWriter(f)
	if err := fill(d); err != nil {
		iox.DiscardClose(f)
		return WriteResult{Path: path, Size: d.Count()}, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return WriteResult{Path: path, Size: d.Count()}, fmt.Errorf("close %s: %w", path, err)
	}

	return WriteResult{Path: path, Size: d.Count(), Checksum: d.Sum()}, nil
}
