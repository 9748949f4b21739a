package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// GenerationFileName is the generation pointer file: a decimal integer
// naming the segment snapshot the directory currently represents. Recovery
// rewrites it when rolling back to an older commit point.
const GenerationFileName = "segments.gen"

// ReadGeneration reads the current generation pointer. A missing file means
// generation zero (freshly created index).
func ReadGeneration(dir string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(dir, GenerationFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read generation pointer: %w", err)
	}

	// Locale-invariant parse; the file is written by us in base 10.
	gen, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("generation pointer unreadable: %w", err)
	}
	return gen, nil
}

// WriteGeneration rewrites the generation pointer file.
func WriteGeneration(dir string, gen uint64) error {
	path := filepath.Join(dir, GenerationFileName)
	if err := os.WriteFile(path, []byte(strconv.FormatUint(gen, 10)), 0644); err != nil {
		return fmt.Errorf("failed to write generation pointer: %w", err)
	}
	return nil
}
