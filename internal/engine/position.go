package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// PositionFileName holds the last-indexed etag committed to this directory.
// Recovery compares it against the persisted statistics: statistics ahead of
// the directory are rolled back to it, never forward.
const PositionFileName = "index.position"

// ReadPosition reads the committed position marker. A missing file means no
// position was ever committed.
func ReadPosition(dir string) (index.Etag, error) {
	data, err := os.ReadFile(filepath.Join(dir, PositionFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read position marker: %w", err)
	}
	return index.Etag(strings.TrimSpace(string(data))), nil
}

// WritePosition rewrites the committed position marker.
func WritePosition(dir string, etag index.Etag) error {
	path := filepath.Join(dir, PositionFileName)
	if err := os.WriteFile(path, []byte(etag), 0644); err != nil {
		return fmt.Errorf("failed to write position marker: %w", err)
	}
	return nil
}
