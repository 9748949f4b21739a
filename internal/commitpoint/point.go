// Package commitpoint persists and restores numbered index checkpoints.
//
// Each retained commit point is a directory named by its zero-padded
// generation, holding the serialized point metadata with a CRC32 checksum,
// a copy of the segment pointer file taken when the point was created, and
// an append-only log of document keys deleted since. Recovery walks the
// retained points newest-first and restores the first one that still
// validates against the live directory.
package commitpoint

import (
	"fmt"
	"time"

	"github.com/Aman-CERP/indexkeeper/internal/engine"
	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// File names inside one commit-point directory.
const (
	MetadataFileName    = "commitPoint.json"
	ChecksumFileName    = "commitPoint.crc"
	DeletedKeysFileName = "deleted-keys.txt"
)

// Point is an immutable record of one segment snapshot. Once stored it is
// never modified; only its deleted-keys log grows.
type Point struct {
	// Generation identifies the segment snapshot this point captures.
	Generation uint64 `json:"generation"`

	// Files are the segment-state files (relative to the index directory)
	// the snapshot references. Every one must still exist for the point to
	// be a valid rollback target.
	Files []string `json:"files"`

	// Position is the last-indexed etag committed when the point was
	// captured. Recovery rolls the persisted statistics to it.
	Position index.Etag `json:"position"`

	// Corrupted marks a point captured from a suspect state; such points
	// are never stored.
	Corrupted bool `json:"corrupted"`

	// Timestamp records when the point was captured.
	Timestamp time.Time `json:"timestamp"`
}

// Capture builds a Point from a live directory's current state.
func Capture(d *engine.Directory) (*Point, error) {
	files, err := d.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to capture commit point for %q: %w", d.Name(), err)
	}
	var pos index.Etag
	if !d.InMemory() {
		pos, err = engine.ReadPosition(d.Path())
		if err != nil {
			return nil, err
		}
	}
	return &Point{
		Generation: d.Generation(),
		Files:      files,
		Position:   pos,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// dirName returns the zero-padded directory name for a generation.
func dirName(gen uint64) string {
	return fmt.Sprintf("%019d", gen)
}
