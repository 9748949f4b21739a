package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
)

// MetaFileName is the segment engine's index metadata file. It doubles as
// the "current segment pointer": it names the storage config the live
// segment state hangs off, and commit points snapshot it.
const MetaFileName = "index_meta.json"

// validateIndexIntegrity checks whether an index directory looks openable
// before handing it to the segment engine. Returns nil if valid, or an error
// describing the corruption.
func validateIndexIntegrity(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil // nothing on disk yet
	}

	metaPath := filepath.Join(dir, MetaFileName)
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s missing (incomplete index)", MetaFileName)
	}
	if err != nil {
		return fmt.Errorf("cannot stat %s: %w", MetaFileName, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", MetaFileName)
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", MetaFileName, err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("%s is corrupt: %w", MetaFileName, err)
	}

	return nil
}

// isCorruptionError classifies segment engine open failures that indicate
// on-disk corruption rather than a transient condition.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory")
}
