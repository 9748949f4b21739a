// Package keeper is the composition root of the index storage engine. It
// wires the crash marker, segment engine, commit-point manager, statistics
// store, recovery coordinator, registry, lifecycle scheduler and root
// watcher into one facade that embedding hosts and the CLI drive.
package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/indexkeeper/internal/commitpoint"
	"github.com/Aman-CERP/indexkeeper/internal/config"
	"github.com/Aman-CERP/indexkeeper/internal/crashmarker"
	"github.com/Aman-CERP/indexkeeper/internal/engine"
	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
	"github.com/Aman-CERP/indexkeeper/internal/lifecycle"
	"github.com/Aman-CERP/indexkeeper/internal/notify"
	"github.com/Aman-CERP/indexkeeper/internal/recovery"
	"github.com/Aman-CERP/indexkeeper/internal/registry"
	"github.com/Aman-CERP/indexkeeper/internal/stats"
	"github.com/Aman-CERP/indexkeeper/internal/suggestions"
	"github.com/Aman-CERP/indexkeeper/internal/watcher"
)

// Keeper owns every open index in one process. Create with New, bring up
// with Start, and always Close, even after a failed Start.
type Keeper struct {
	cfg     *config.Config
	reducer recovery.ReduceScheduler

	engine    *engine.Engine
	points    *commitpoint.Manager
	stats     stats.Accessor
	reg       *registry.Registry
	bus       *notify.Bus
	marker    *crashmarker.Marker
	scheduler *lifecycle.Scheduler
	watcher   *watcher.RootWatcher

	// createMu serializes create/delete per process; per-name writer
	// discipline is the caller's contract, this guards the registry/disk
	// compound updates.
	createMu sync.Mutex

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
	mu      sync.Mutex
}

// New builds an unstarted Keeper. reducer may be nil when no aggregate
// indexes are defined.
func New(cfg *config.Config, reducer recovery.ReduceScheduler) (*Keeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Keeper{
		cfg:     cfg,
		reducer: reducer,
		engine:  engine.New(dataDir, cfg.Storage.RunInMemory),
		points:  commitpoint.NewManager(dataDir, cfg.Storage.MaxCommitPoints),
		reg:     registry.New(),
		bus:     notify.NewBus(),
		marker:  crashmarker.New(dataDir),
	}, nil
}

// Notifications returns the index-change notification bus. Subscribe before
// Start to observe startup transitions.
func (k *Keeper) Notifications() *notify.Bus {
	return k.bus
}

// Registry exposes the live handle registry for read-side callers.
func (k *Keeper) Registry() *registry.Registry {
	return k.reg
}

// Start opens every on-disk index, recovering or resetting as needed, and
// launches the background sweeps. Per-index recovery failures do not fail
// Start; they are returned in the map keyed by normalized name.
func (k *Keeper) Start(ctx context.Context) (map[string]error, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return nil, fmt.Errorf("keeper already started")
	}

	wasPresent, err := k.marker.Create()
	if err != nil {
		return nil, err
	}
	if wasPresent {
		slog.Warn("crash marker found, previous shutdown was unclean",
			slog.String("path", k.marker.Path()))
	}

	accessor, err := stats.NewSQLiteAccessor(k.cfg.StatsPath(), k.cfg.Performance.StatsCacheSize)
	if err != nil {
		return nil, err
	}
	k.stats = accessor

	coord := recovery.NewCoordinator(k.engine, k.points, k.stats, k.reducer, wasPresent)
	if wasPresent && k.cfg.Recovery.ResetIndexOnUncleanShutdown {
		coord.ForceResetOnSuspect()
	}

	defs, broken := k.engine.ListDefinitions()
	for dir, err := range broken {
		slog.Warn("skipping index directory with unreadable definition",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
	}

	failures := coord.OpenAll(ctx, defs, k.reg, k.cfg.Recovery.OpenWorkers)
	k.loadPersistedState(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel

	k.scheduler = lifecycle.NewScheduler(k.cfg, k.reg, k.points, k.stats, k.bus, k)
	k.scheduler.Start(runCtx)

	if k.cfg.Performance.WatchIndexRoot {
		if err := k.startWatcher(runCtx); err != nil {
			slog.Warn("index root watcher unavailable", slog.String("error", err.Error()))
		}
	}

	k.started = true
	slog.Info("keeper started",
		slog.Int("indexes", k.reg.Len()),
		slog.Int("failures", len(failures)),
		slog.Bool("unclean_shutdown", wasPresent))
	return failures, nil
}

// loadPersistedState folds the durable statistics into the live handles:
// priority and last-query time survive restarts.
func (k *Keeper) loadPersistedState(ctx context.Context) {
	for _, h := range k.reg.List() {
		st, err := k.stats.Get(ctx, h.Name())
		if err != nil {
			continue
		}
		h.SetPriority(st.Priority)
		if !st.LastQueriedAt.IsZero() {
			h.SetLastQueriedAt(st.LastQueriedAt)
		}
		if h.Etag() == "" && st.LastIndexedEtag != "" {
			h.SetEtag(st.LastIndexedEtag)
		}
	}
}

func (k *Keeper) startWatcher(ctx context.Context) error {
	w, err := watcher.NewRootWatcher(k.cfg.Storage.DataDir, watcher.DefaultOptions(),
		crashmarker.FileName, filepath.Base(k.cfg.StatsPath()))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	k.watcher = w

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for removal := range w.Removals() {
			k.evictRemoved(ctx, removal)
		}
	}()
	return nil
}

// evictRemoved drops the handle of an index whose directory disappeared
// outside the engine's control.
func (k *Keeper) evictRemoved(ctx context.Context, removal watcher.Removal) {
	h, ok := k.reg.Remove(removal.Name)
	if !ok {
		return
	}
	slog.Warn("index directory removed externally, evicting handle",
		slog.String("index", removal.Name),
		slog.String("path", removal.Path))
	if err := h.Close(); err != nil {
		slog.Warn("failed to close evicted handle",
			slog.String("index", removal.Name),
			slog.String("error", err.Error()))
	}
	if err := k.stats.Delete(ctx, removal.Name); err != nil {
		slog.Warn("failed to delete stats for evicted index",
			slog.String("index", removal.Name),
			slog.String("error", err.Error()))
	}
	k.bus.Notify(notify.IndexChange{Name: removal.Name, Type: notify.RemoveFromIndex})
}

// CreateIndex creates and opens a new index. Creating a name that already
// exists returns the existing handle unchanged.
func (k *Keeper) CreateIndex(ctx context.Context, def *index.Definition) (*registry.Handle, error) {
	k.createMu.Lock()
	defer k.createMu.Unlock()

	if h, err := k.reg.Get(def.Name); err == nil {
		return h, nil
	}

	dir, err := k.engine.OpenOrCreate(def, true)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	h := registry.NewHandle(def, dir, now)
	if err := k.stats.Set(ctx, &index.Stats{
		Name:      def.Name,
		Priority:  index.PriorityNormal,
		CreatedAt: now,
	}); err != nil {
		_ = h.Close()
		return nil, err
	}
	if err := k.reg.Add(h); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

// DeleteIndex detaches and disposes the handle, then removes the on-disk
// data. The detach happens first so no in-flight query can hold a reference
// to data being removed. Deleting a missing index is a no-op.
func (k *Keeper) DeleteIndex(ctx context.Context, name string) error {
	k.createMu.Lock()
	defer k.createMu.Unlock()

	h, ok := k.reg.Remove(name)
	if ok {
		if err := h.Close(); err != nil {
			slog.Warn("failed to close handle during delete",
				slog.String("index", name),
				slog.String("error", err.Error()))
		}
	}

	if err := k.engine.DeleteAll(name); err != nil {
		return err
	}
	if err := k.stats.Delete(ctx, name); err != nil {
		return err
	}

	if ok {
		k.bus.Notify(notify.IndexChange{Name: name, Type: notify.RemoveFromIndex})
	}
	return nil
}

// Query searches the named index. An Idle index queried here is promoted
// back to Normal.
func (k *Keeper) Query(ctx context.Context, name, query string, limit int) ([]engine.Hit, error) {
	h, err := k.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if k.scheduler != nil {
		k.scheduler.MarkQueried(h)
	}
	return h.Query(ctx, query, limit)
}

// IndexDocs writes a batch of documents into the named index, advancing its
// position to etag.
func (k *Keeper) IndexDocs(ctx context.Context, name string, docs []engine.Document, etag index.Etag) error {
	h, err := k.reg.Get(name)
	if err != nil {
		return err
	}
	if err := h.IndexBatch(ctx, docs, etag); err != nil {
		return err
	}
	t := notify.MapCompleted
	if h.Definition().IsMapReduce() {
		t = notify.ReduceCompleted
	}
	k.bus.Notify(notify.IndexChange{Name: h.Name(), Type: t})
	return nil
}

// DeleteDocs removes documents by key and records the keys in every
// retained commit point, so a later restore can replay the removals.
func (k *Keeper) DeleteDocs(ctx context.Context, name string, keys []string) error {
	h, err := k.reg.Get(name)
	if err != nil {
		return err
	}
	if err := h.DeleteKeys(ctx, keys); err != nil {
		return err
	}
	if !h.Directory().InMemory() {
		if err := k.points.AppendDeletedKeys(h.Name(), keys); err != nil {
			return err
		}
	}
	k.bus.Notify(notify.IndexChange{Name: h.Name(), Type: notify.RemoveFromIndex})
	return nil
}

// StoreCommitPoint captures the named index's current segment state as a
// new commit point. In-memory indexes have nothing to checkpoint.
func (k *Keeper) StoreCommitPoint(name string) error {
	h, err := k.reg.Get(name)
	if err != nil {
		return err
	}
	if h.Directory().InMemory() {
		return nil
	}
	p, err := commitpoint.Capture(h.Directory())
	if err != nil {
		return err
	}
	return k.points.Store(h.Name(), p)
}

// EnableSuggestions attaches a term-suggestion extension for one field of
// the named index. The extension's data lives inside the index directory
// and disappears with it on reset or delete.
func (k *Keeper) EnableSuggestions(name, field string) error {
	h, err := k.reg.Get(name)
	if err != nil {
		return err
	}
	sug, err := suggestions.Open(h.Directory().Path(), field)
	if err != nil {
		return err
	}
	h.AttachExtension(sug)
	return nil
}

// Close stops the background sweeps and closes every open index. All closes
// are attempted; failures are aggregated into one error. A clean close
// removes the crash marker.
func (k *Keeper) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true

	if k.scheduler != nil {
		k.scheduler.Stop()
	}
	if k.watcher != nil {
		_ = k.watcher.Stop()
	}
	if k.cancel != nil {
		k.cancel()
	}
	k.wg.Wait()

	dispose := kerrors.NewDisposeError()
	for _, h := range k.reg.List() {
		name := h.Name()
		if _, ok := k.reg.Remove(name); !ok {
			continue
		}
		if err := h.Close(); err != nil {
			dispose.Add(name, err)
		}
	}

	if k.stats != nil {
		if err := k.stats.Close(); err != nil {
			dispose.Add("stats", err)
		}
	}

	// The marker only comes off after a fully clean shutdown of a Keeper
	// that actually started. A never-started Keeper does not own the
	// marker; another run may have left it for the next startup to see.
	if k.started && dispose.Len() == 0 {
		if err := k.marker.Remove(); err != nil {
			dispose.Add("crash-marker", err)
		}
	} else if k.started {
		slog.Warn("leaving crash marker in place, shutdown was not clean",
			slog.Int("failures", dispose.Len()))
	}

	return dispose.ErrOrNil()
}
