// Package stats persists per-index statistics (last-indexed position,
// priority, creation time, last-query time) through a transactional
// accessor. The engine core treats the accessor as a key-value record store
// keyed by index name; the SQLite implementation here is what the host
// wires in by default.
package stats

import (
	"context"

	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// Accessor is the durable statistics contract. Writes are durable once the
// accessor's transaction commits.
type Accessor interface {
	// Get returns the stats record for the named index, or a NotFound
	// error when none exists.
	Get(ctx context.Context, name string) (*index.Stats, error)

	// Set writes the record, replacing any previous one for the same name.
	Set(ctx context.Context, s *index.Stats) error

	// Delete removes the record. Deleting a missing record is a no-op.
	Delete(ctx context.Context, name string) error

	// List returns every stored record.
	List(ctx context.Context) ([]*index.Stats, error)

	// Close releases the underlying store.
	Close() error
}
