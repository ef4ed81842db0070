package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// PendingPath is where a file artifact bound for path is written until it is
// published. The leading dot keeps it out of artifact lookups.
func PendingPath(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+".tmp")
}

// CreatePending creates the pending file for path. It fails if path already
// exists or another writer holds the pending file.
func CreatePending(path string) (*os.File, error) {
	if _, err := os.Lstat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	return os.OpenFile(PendingPath(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

// Publish moves the finished pending file into place at path.
func Publish(path string) error {
	if err := os.Rename(PendingPath(path), path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// Discard removes the pending file for path.
func Discard(path string) error {
	if err := os.Remove(PendingPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard %s: %w", path, err)
	}
	return nil
}
