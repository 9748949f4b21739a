// Package crashmarker manages the process-lifetime sentinel file used to
// detect unclean shutdowns. The file exists while the engine runs and is
// removed only on clean shutdown; finding it at the next startup means the
// previous process died without closing its indexes.
package crashmarker

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the sentinel file created at the data root.
const FileName = "indexing.crash-marker"

// Marker manages the crash-marker sentinel file.
type Marker struct {
	path string
}

// New creates a Marker rooted at the given data directory.
func New(dataDir string) *Marker {
	return &Marker{path: filepath.Join(dataDir, FileName)}
}

// Path returns the sentinel file path.
func (m *Marker) Path() string {
	return m.path
}

// Present reports whether the sentinel currently exists on disk.
func (m *Marker) Present() (bool, error) {
	_, err := os.Stat(m.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat crash marker: %w", err)
}

// Create writes the zero-byte sentinel, creating the data directory if
// needed. It returns whether a marker from a previous run was already
// present, which signals an unclean shutdown.
func (m *Marker) Create() (wasPresent bool, err error) {
	wasPresent, err = m.Present()
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return wasPresent, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(m.path, nil, 0644); err != nil {
		return wasPresent, fmt.Errorf("failed to write crash marker: %w", err)
	}
	return wasPresent, nil
}

// Remove deletes the sentinel on clean shutdown.
// Returns nil if the file doesn't exist.
func (m *Marker) Remove() error {
	err := os.Remove(m.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove crash marker: %w", err)
	}
	return nil
}
