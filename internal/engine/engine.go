// Package engine adapts the underlying full-text segment engine (bleve) to
// the storage contract the recovery and lifecycle layers depend on: open or
// create an index directory, stamp and verify format versions, detect
// corruption and stale write locks, and expose batch write / search / delete
// primitives on the resulting handle.
//
// The segment file format itself is opaque to this package's callers; only
// the metadata pointer file and the generation pointer file are named here
// so the commit-point manager can snapshot and restore them.
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// CommitPointsDirName is the per-index subdirectory holding retained commit
// points. It lives inside the index directory but is not part of the segment
// state, so directory listings for snapshots skip it.
const CommitPointsDirName = "commit-points"

// SuggestionsDirName is the per-index subdirectory holding attached
// suggestion-extension data. Like commit points, it is excluded from
// segment snapshots; unlike them, it is wiped and rebuilt on reset.
const SuggestionsDirName = "_suggest"

// Engine opens and creates index directories under a common root.
type Engine struct {
	root        string
	runInMemory bool
}

// New creates an Engine rooted at the given data directory. When runInMemory
// is set, definitions eligible for in-memory operation are opened as
// memory-only stores.
func New(root string, runInMemory bool) *Engine {
	return &Engine{root: root, runInMemory: runInMemory}
}

// Root returns the engine's data root directory.
func (e *Engine) Root() string {
	return e.root
}

// ServesInMemory reports whether the given definition will be opened as a
// memory-only store under the engine's current mode.
func (e *Engine) ServesInMemory(def *index.Definition) bool {
	return e.runInMemory && def.InMemoryEligible
}

// IndexPath returns the on-disk directory for the named index.
func (e *Engine) IndexPath(name string) string {
	return filepath.Join(e.root, index.DirName(name))
}

// Exists reports whether the named index has on-disk data.
func (e *Engine) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(e.IndexPath(name), MetaFileName))
	return err == nil
}

// OpenOrCreate opens the index described by def, creating it when
// createIfMissing is set. Returned errors are distinguishable:
// a missing index with createIfMissing=false yields a NotFound error,
// a format tag mismatch yields a VersionMismatch error, and unreadable
// segment state yields a Corruption error. Corruption errors are raw in the
// sense that no recovery has been attempted; that is the recovery
// coordinator's job.
func (e *Engine) OpenOrCreate(def *index.Definition, createIfMissing bool) (*Directory, error) {
	if e.runInMemory && def.InMemoryEligible {
		return e.openInMemory(def)
	}

	dir := e.IndexPath(def.Name)
	if !e.Exists(def.Name) {
		if !createIfMissing {
			return nil, kerrors.NotFound(def.Name)
		}
		return e.create(def, dir)
	}

	if err := CheckFormatVersion(dir, def.Name, def.Kind); err != nil {
		return nil, err
	}

	if err := validateIndexIntegrity(dir); err != nil {
		return nil, kerrors.Corruption(def.Name, err)
	}

	stale, err := DetectStaleWriteLock(dir)
	if err != nil {
		return nil, err
	}
	if stale {
		if err := ForceUnlock(dir); err != nil {
			return nil, err
		}
	}

	idx, err := bleve.Open(dir)
	if err != nil {
		if isCorruptionError(err) {
			return nil, kerrors.Corruption(def.Name, err)
		}
		return nil, fmt.Errorf("failed to open index %q: %w", def.Name, err)
	}

	gen, err := ReadGeneration(dir)
	if err != nil {
		_ = idx.Close()
		return nil, kerrors.Corruption(def.Name, err)
	}

	d := newDirectory(def, dir, idx, gen)
	if err := d.acquireWriteLock(); err != nil {
		_ = idx.Close()
		return nil, err
	}

	slog.Debug("opened index directory",
		slog.String("index", def.Name),
		slog.Uint64("generation", gen),
		slog.String("kind", def.Kind.String()))
	return d, nil
}

// create builds a fresh on-disk index with the format version stamped.
func (e *Engine) create(def *index.Definition, dir string) (*Directory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	im, err := buildIndexMapping(def)
	if err != nil {
		return nil, err
	}

	idx, err := bleve.New(dir, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create index %q: %w", def.Name, err)
	}

	if err := WriteFormatVersion(dir, def.Kind); err != nil {
		_ = idx.Close()
		return nil, err
	}
	if err := WriteGeneration(dir, 0); err != nil {
		_ = idx.Close()
		return nil, err
	}
	if err := WriteDefinition(dir, def); err != nil {
		_ = idx.Close()
		return nil, err
	}

	d := newDirectory(def, dir, idx, 0)
	if err := d.acquireWriteLock(); err != nil {
		_ = idx.Close()
		return nil, err
	}

	slog.Info("created index directory",
		slog.String("index", def.Name),
		slog.String("kind", def.Kind.String()))
	return d, nil
}

// openInMemory builds a memory-only index. No version tags or locks apply.
func (e *Engine) openInMemory(def *index.Definition) (*Directory, error) {
	im, err := buildIndexMapping(def)
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index %q: %w", def.Name, err)
	}
	return newDirectory(def, "", idx, 0), nil
}

// DeleteAll removes every trace of the named index from disk, including its
// commit points and any attached extension data. Missing directories are a
// no-op.
func (e *Engine) DeleteAll(name string) error {
	dir := e.IndexPath(name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete index data for %q: %w", name, err)
	}
	return nil
}

// buildIndexMapping translates the definition's analyzer assignments into
// the segment engine's mapping.
func buildIndexMapping(def *index.Definition) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	if len(def.Analyzers) > 0 {
		doc := bleve.NewDocumentMapping()
		for field, analyzer := range def.Analyzers {
			fm := bleve.NewTextFieldMapping()
			fm.Analyzer = analyzer
			doc.AddFieldMappingsAt(field, fm)
		}
		im.DefaultMapping = doc
	}

	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analyzer mapping for %q: %w", def.Name, err)
	}
	return im, nil
}
