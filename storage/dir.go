// Package storage manages the temporary profile directory handed to a
// spawned browser process.
package storage

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
)

// Dir is a temporary directory holding the browser's user profile. It is
// exclusively owned by one browser handle for the handle's whole lifetime.
type Dir struct {
	Path string

	fs          afero.Fs
	cleanupOnce sync.Once
	cleanupErr  error
}

// NewDir creates a fresh directory under tmpDir (or the default temp
// location when empty) using the given pattern.
func NewDir(fs afero.Fs, tmpDir, pattern string) (*Dir, error) {
	dir, err := afero.TempDir(fs, tmpDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("making browser data directory: %w", err)
	}
	return &Dir{Path: dir, fs: fs}, nil
}

// Cleanup removes the directory and everything in it. It is safe to call
// multiple times; only the first call does any work.
func (d *Dir) Cleanup() error {
	if d == nil || d.Path == "" {
		return nil
	}
	d.cleanupOnce.Do(func() {
		if err := d.fs.RemoveAll(d.Path); err != nil {
			d.cleanupErr = fmt.Errorf("removing browser data directory %q: %w", d.Path, err)
		}
	})
	return d.cleanupErr
}
