// Package registry holds the live handles of every open index and the
// concurrent, case-insensitive map resolving names to them.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/indexkeeper/internal/engine"
	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// Extension is query-extension state attached to a handle (e.g., a
// suggestion index). Extensions are closed with the handle and their
// on-disk data lives inside the index directory, so a reset removes them.
type Extension interface {
	// Name identifies the extension.
	Name() string
	// Close releases the extension's resources.
	Close() error
}

// Handle is the live, open representation of one index. Exactly one Handle
// exists per index name at a time. Priority and usage timestamps are stored
// atomically: lifecycle sweeps update them while queries read them, and a
// benignly stale read is acceptable but a torn one is not.
type Handle struct {
	def *index.Definition
	dir *engine.Directory

	priority    atomic.Int32
	lastQueried atomic.Int64 // unix nanos
	lastWrite   atomic.Int64 // unix nanos
	etag        atomic.Value // index.Etag
	createdAt   time.Time

	extMu      sync.Mutex
	extensions []Extension
}

// NewHandle wraps an open directory in a live handle.
func NewHandle(def *index.Definition, dir *engine.Directory, createdAt time.Time) *Handle {
	h := &Handle{def: def, dir: dir, createdAt: createdAt}
	h.etag.Store(index.Etag(""))
	return h
}

// Name returns the logical index name.
func (h *Handle) Name() string { return h.def.Name }

// Definition returns the index definition this handle was opened with.
func (h *Handle) Definition() *index.Definition { return h.def }

// Directory returns the underlying segment-engine handle.
func (h *Handle) Directory() *engine.Directory { return h.dir }

// CreatedAt returns when the index was first created.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Priority returns the current lifecycle priority.
func (h *Handle) Priority() index.Priority {
	return index.Priority(h.priority.Load())
}

// SetPriority atomically replaces the lifecycle priority.
func (h *Handle) SetPriority(p index.Priority) {
	h.priority.Store(int32(p))
}

// LastQueriedAt returns the last query time, or the zero time if never
// queried.
func (h *Handle) LastQueriedAt() time.Time {
	n := h.lastQueried.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SetLastQueriedAt records a query observation (used when loading persisted
// timestamps at startup).
func (h *Handle) SetLastQueriedAt(t time.Time) {
	h.lastQueried.Store(t.UnixNano())
}

// LastWriteAt returns the last write time, or the zero time if never
// written through this handle.
func (h *Handle) LastWriteAt() time.Time {
	n := h.lastWrite.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Etag returns the last-indexed etag.
func (h *Handle) Etag() index.Etag {
	return h.etag.Load().(index.Etag)
}

// SetEtag records the last-indexed etag.
func (h *Handle) SetEtag(e index.Etag) {
	h.etag.Store(e)
}

// Query searches the index and touches the last-query timestamp.
func (h *Handle) Query(ctx context.Context, query string, limit int) ([]engine.Hit, error) {
	h.lastQueried.Store(time.Now().UnixNano())
	return h.dir.Search(ctx, query, limit)
}

// IndexBatch writes documents, advancing the etag and write timestamp.
func (h *Handle) IndexBatch(ctx context.Context, docs []engine.Document, etag index.Etag) error {
	if err := h.dir.IndexBatch(ctx, docs); err != nil {
		return err
	}
	h.lastWrite.Store(time.Now().UnixNano())
	if etag != "" {
		h.SetEtag(etag)
		if !h.dir.InMemory() {
			if err := engine.WritePosition(h.dir.Path(), etag); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteKeys removes documents by key and touches the write timestamp.
func (h *Handle) DeleteKeys(ctx context.Context, keys []string) error {
	if err := h.dir.DeleteKeys(ctx, keys); err != nil {
		return err
	}
	h.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// AttachExtension registers a query extension on this handle.
func (h *Handle) AttachExtension(ext Extension) {
	h.extMu.Lock()
	defer h.extMu.Unlock()
	h.extensions = append(h.extensions, ext)
}

// Extensions returns the attached extensions.
func (h *Handle) Extensions() []Extension {
	h.extMu.Lock()
	defer h.extMu.Unlock()
	out := make([]Extension, len(h.extensions))
	copy(out, h.extensions)
	return out
}

// Close closes attached extensions and then the directory. The first error
// encountered is returned but every close is attempted.
func (h *Handle) Close() error {
	var firstErr error

	h.extMu.Lock()
	exts := h.extensions
	h.extensions = nil
	h.extMu.Unlock()

	for _, ext := range exts {
		if err := ext.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := h.dir.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
