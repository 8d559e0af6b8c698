package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// createTemp creates a temporary upload file in dir, creating dir first. A
// concurrent delete may prune an empty dir between the two steps, so the
// pair is retried a few times.
func createTemp(dir string) (*os.File, error) {
	var lastErr error
	for range 3 {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if isConflict(err) {
				return nil, ErrKeyConflict
			}
			return nil, fmt.Errorf("create object directory: %w", err)
		}

		f, err := os.CreateTemp(dir, tempPattern)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("create temp file: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("create temp file: %w", lastErr)
}

// ReplaceFile moves srcPath over destPath. Both must live in the same
// directory so that the rename is atomic; unlike a general purpose move there
// is no copy fallback, since a copy would expose partially written content.
func ReplaceFile(srcPath string, destPath string) error {
	if err := os.Rename(srcPath, destPath); err != nil {
		if isConflict(err) {
			return ErrKeyConflict
		}
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// SyncDir fsyncs a directory so that a rename inside it is durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return err
	}
	return nil
}

// pruneEmptyDirs removes dir and its parents while they are empty, stopping
// at root. Removal fails harmlessly on a directory that is not empty, which
// also covers a concurrent upload that just created a temp file in it.
func pruneEmptyDirs(dir string, root string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && len(dir) > len(root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// isConflict reports whether err means a key tried to pass through an
// existing object, or to replace a directory.
func isConflict(err error) bool {
	return errors.Is(err, syscall.ENOTDIR) ||
		errors.Is(err, syscall.EISDIR) ||
		errors.Is(err, syscall.ENOTEMPTY) ||
		errors.Is(err, syscall.EEXIST)
}
