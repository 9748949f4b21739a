package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	// WriteLockFile is held (via flock) by the process writing to an index
	// directory. A present but unheld lock file is stale: its owner died.
	WriteLockFile = "write.lock"

	// UncleanWriteMarkerFile exists while a write batch is in flight and is
	// removed when the batch commits. Finding it on open means the last
	// write never completed.
	UncleanWriteMarkerFile = "writing-to-index.lock"
)

// DetectStaleWriteLock reports whether the directory carries a write-lock
// file no live process holds.
func DetectStaleWriteLock(dir string) (bool, error) {
	lockPath := filepath.Join(dir, WriteLockFile)
	if _, err := os.Stat(lockPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat write lock: %w", err)
	}

	fl := flock.New(lockPath)
	acquired, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to probe write lock: %w", err)
	}
	if !acquired {
		// Held by a live process.
		return false, nil
	}
	_ = fl.Unlock()
	return true, nil
}

// HasWriteLock reports whether the directory carries a write-lock file,
// stale or live.
func HasWriteLock(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, WriteLockFile))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat write lock: %w", err)
}

// ForceUnlock removes a stale write-lock file.
func ForceUnlock(dir string) error {
	lockPath := filepath.Join(dir, WriteLockFile)
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to force-unlock %s: %w", dir, err)
	}
	slog.Warn("forced stale write lock release", slog.String("dir", dir))
	return nil
}

// HasUncleanWriteMarker reports whether an interrupted write batch left its
// marker behind.
func HasUncleanWriteMarker(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, UncleanWriteMarkerFile))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat unclean write marker: %w", err)
}

// setUncleanWriteMarker creates the in-flight write marker.
func setUncleanWriteMarker(dir string) error {
	return os.WriteFile(filepath.Join(dir, UncleanWriteMarkerFile), nil, 0644)
}

// ClearUncleanWriteMarker removes the in-flight write marker. Recovery
// calls this after a successful restore; a missing marker is a no-op.
func ClearUncleanWriteMarker(dir string) error {
	err := os.Remove(filepath.Join(dir, UncleanWriteMarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
