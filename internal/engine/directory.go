package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/gofrs/flock"

	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// Document is one unit of indexable content.
type Document struct {
	// ID is the document key.
	ID string
	// Fields holds the indexable field values.
	Fields map[string]interface{}
}

// Hit is one search result.
type Hit struct {
	ID    string
	Score float64
}

// Directory is the live, open handle on one index's segment state. Exactly
// one Directory exists per index at a time; writes are serialized through
// its lock while searches run concurrently.
type Directory struct {
	mu     sync.RWMutex
	name   string
	kind   index.Kind
	path   string // empty for in-memory indexes
	idx    bleve.Index
	gen    uint64
	lock   *flock.Flock
	closed bool
}

func newDirectory(def *index.Definition, path string, idx bleve.Index, gen uint64) *Directory {
	return &Directory{
		name: def.Name,
		kind: def.Kind,
		path: path,
		idx:  idx,
		gen:  gen,
	}
}

// Name returns the logical index name.
func (d *Directory) Name() string { return d.name }

// Kind returns the index kind.
func (d *Directory) Kind() index.Kind { return d.kind }

// Path returns the on-disk directory, or empty for in-memory indexes.
func (d *Directory) Path() string { return d.path }

// InMemory reports whether this handle has no on-disk state.
func (d *Directory) InMemory() bool { return d.path == "" }

// Generation returns the current segment generation.
func (d *Directory) Generation() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gen
}

// acquireWriteLock takes the cross-process write lock for an on-disk
// directory. Single-writer discipline: a second process opening the same
// directory fails here instead of corrupting segments.
func (d *Directory) acquireWriteLock() error {
	if d.path == "" {
		return nil
	}
	fl := flock.New(filepath.Join(d.path, WriteLockFile))
	acquired, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock index %q: %w", d.name, err)
	}
	if !acquired {
		return kerrors.New(kerrors.ErrCodeStaleWriteLock,
			"index directory locked by another process", nil).WithIndex(d.name)
	}
	d.lock = fl
	return nil
}

// IndexBatch writes a batch of documents and advances the generation. The
// unclean-write marker brackets the batch so an interrupted write is
// detectable on the next open.
func (d *Directory) IndexBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return kerrors.New(kerrors.ErrCodeIndexClosed, "index is closed", nil).WithIndex(d.name)
	}

	batch := d.idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, doc.Fields); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}

	return d.commitBatch(batch)
}

// DeleteKeys removes documents by key and advances the generation.
func (d *Directory) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return kerrors.New(kerrors.ErrCodeIndexClosed, "index is closed", nil).WithIndex(d.name)
	}

	batch := d.idx.NewBatch()
	for _, key := range keys {
		batch.Delete(key)
	}

	return d.commitBatch(batch)
}

// commitBatch executes a prepared batch under the unclean-write marker and
// bumps the generation pointer. Caller holds d.mu.
func (d *Directory) commitBatch(batch *bleve.Batch) error {
	if d.path != "" {
		if err := setUncleanWriteMarker(d.path); err != nil {
			return fmt.Errorf("failed to set write marker: %w", err)
		}
	}

	if err := d.idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	d.gen++
	if d.path != "" {
		if err := WriteGeneration(d.path, d.gen); err != nil {
			return err
		}
		if err := ClearUncleanWriteMarker(d.path); err != nil {
			return fmt.Errorf("failed to clear write marker: %w", err)
		}
	}
	return nil
}

// Search runs a match query. The context cancels result iteration early
// without touching index state.
func (d *Directory) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, kerrors.New(kerrors.ErrCodeIndexClosed, "index is closed", nil).WithIndex(d.name)
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit

	res, err := d.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed on %q: %w", d.name, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// DocCount returns the number of documents in the index.
func (d *Directory) DocCount() (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return 0, kerrors.New(kerrors.ErrCodeIndexClosed, "index is closed", nil).WithIndex(d.name)
	}
	return d.idx.DocCount()
}

// ListFiles returns the relative paths of every segment-state file in the
// directory. Commit points, lock files, and markers are excluded: they are
// bookkeeping, not segment state.
func (d *Directory) ListFiles() ([]string, error) {
	if d.path == "" {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(d.path, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(d.path, path)
		if rerr != nil {
			return rerr
		}
		if entry.IsDir() {
			// Commit points and extension data are bookkeeping, not
			// segment state.
			if rel == CommitPointsDirName || rel == SuggestionsDirName {
				return fs.SkipDir
			}
			return nil
		}
		switch filepath.Base(rel) {
		case WriteLockFile, UncleanWriteMarkerFile:
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list index files: %w", err)
	}
	return files, nil
}

// Close releases the write lock and closes the segment handle. Safe to call
// more than once.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if d.idx != nil {
		err = d.idx.Close()
	}
	if d.lock != nil {
		if uerr := d.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
		// Remove the lock file on clean close so that only a crashed
		// process leaves one behind for stale-lock detection.
		_ = os.Remove(filepath.Join(d.path, WriteLockFile))
		d.lock = nil
	}
	return err
}
