package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// Format version tags. Each index directory carries exactly one tag file
// whose name and content depend on the index kind; a mismatch on open means
// the on-disk data was written by an incompatible build and the index must
// be reset.
const (
	VersionFilePlain     = "index.version"
	VersionFileMapReduce = "mapReduce.version"

	FormatVersionPlain     = "2.0.0.1"
	FormatVersionMapReduce = "2.5.0.1"
)

// versionFileName returns the tag file name for the given kind.
func versionFileName(kind index.Kind) string {
	if kind == index.KindMapReduce {
		return VersionFileMapReduce
	}
	return VersionFilePlain
}

// expectedVersion returns the tag content for the given kind.
func expectedVersion(kind index.Kind) string {
	if kind == index.KindMapReduce {
		return FormatVersionMapReduce
	}
	return FormatVersionPlain
}

// WriteFormatVersion stamps the directory with the current format tag for
// the given index kind.
func WriteFormatVersion(dir string, kind index.Kind) error {
	path := filepath.Join(dir, versionFileName(kind))
	if err := os.WriteFile(path, []byte(expectedVersion(kind)), 0644); err != nil {
		return fmt.Errorf("failed to write format version: %w", err)
	}
	return nil
}

// CheckFormatVersion verifies the stored tag matches the expected tag for
// the index kind. A missing tag file or a tag written for the other kind
// both count as mismatches.
func CheckFormatVersion(dir, name string, kind index.Kind) error {
	data, err := os.ReadFile(filepath.Join(dir, versionFileName(kind)))
	if err != nil {
		if os.IsNotExist(err) {
			return kerrors.VersionMismatch(name, "<missing>", expectedVersion(kind))
		}
		return fmt.Errorf("failed to read format version: %w", err)
	}

	got := strings.TrimSpace(string(data))
	if got != expectedVersion(kind) {
		return kerrors.VersionMismatch(name, got, expectedVersion(kind))
	}
	return nil
}
