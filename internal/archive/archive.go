// Package archive moves consumed extract files out of the output directory,
// either into a local archive directory or into an S3-compatible bucket.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirArchiver renames files into a local directory.
type DirArchiver struct {
	dir string
}

// NewDirArchiver creates a DirArchiver rooted at dir.
func NewDirArchiver(dir string) *DirArchiver {
	return &DirArchiver{dir: dir}
}

// Archive moves path into the archive directory, replacing a file of the
// same name, and returns the new location.
func (a *DirArchiver) Archive(_ context.Context, path string) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	dest := filepath.Join(a.dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("archive %s: %w", path, err)
	}
	return dest, nil
}
