// Package recovery opens every index at startup and brings each one to a
// usable state, walking an explicit per-index state machine:
//
//	Opening → Ready                            (clean state, trusted)
//	Opening → Recovering → Ready               (rolled back to a commit point)
//	Opening → Recovering → Resetting → Ready   (no valid commit point)
//	Opening → Resetting → Ready                (aggregate index, rebuilt)
//	... → Resetting → Failed                   (reset itself failed; fatal
//	                                            for that index only)
//
// Each transition is a pure decision over (open result, recovery result,
// index kind); there is no exception-driven control flow. Indexes recover
// independently and in parallel: one bad index never blocks the rest.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/indexkeeper/internal/commitpoint"
	"github.com/Aman-CERP/indexkeeper/internal/engine"
	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
	"github.com/Aman-CERP/indexkeeper/internal/registry"
	"github.com/Aman-CERP/indexkeeper/internal/stats"
)

// State names one step of the per-index startup state machine.
type State int

const (
	StateOpening State = iota
	StateRecovering
	StateResetting
	StateReady
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateRecovering:
		return "recovering"
	case StateResetting:
		return "resetting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReduceScheduler replays an aggregate index's reduction pipeline after a
// reset by re-scheduling every reduce key's already-computed intermediate
// results from durable storage. Supplied by the computation layer.
type ReduceScheduler interface {
	ScheduleReduceReplay(ctx context.Context, indexName string) error
}

// Result describes how one index reached readiness.
type Result struct {
	Handle *registry.Handle
	State  State

	// Recovered is set when a commit point was restored.
	Recovered bool
	// WasReset is set when the index was rebuilt from scratch.
	WasReset bool
	// ReplayedDeletes counts keys re-removed after a restore.
	ReplayedDeletes int
}

// Coordinator drives startup recovery for all indexes.
type Coordinator struct {
	engine  *engine.Engine
	points  *commitpoint.Manager
	stats   stats.Accessor
	reducer ReduceScheduler

	// suspectCorruption is set when the crash marker survived to this
	// startup: every index skips the trust-current-state fast path.
	suspectCorruption bool

	// forceReset skips commit-point recovery and rebuilds suspect indexes
	// from scratch.
	forceReset bool
}

// ForceResetOnSuspect makes every corruption-suspect index reset instead of
// attempting a commit-point restore.
func (c *Coordinator) ForceResetOnSuspect() {
	c.forceReset = true
}

// NewCoordinator creates a Coordinator. reducer may be nil when no
// aggregate indexes exist; a reset aggregate index without a reducer comes
// back empty.
func NewCoordinator(e *engine.Engine, points *commitpoint.Manager, accessor stats.Accessor, reducer ReduceScheduler, suspectCorruption bool) *Coordinator {
	return &Coordinator{
		engine:            e,
		points:            points,
		stats:             accessor,
		reducer:           reducer,
		suspectCorruption: suspectCorruption,
	}
}

// OpenAll opens every defined index in parallel, bounded by workers, and
// registers the ready handles. Per-index failures are collected, not
// propagated: recovery of each index is independent. The returned map is
// keyed by normalized index name and holds only failures.
func (c *Coordinator) OpenAll(ctx context.Context, defs []*index.Definition, reg *registry.Registry, workers int) map[string]error {
	if workers < 1 {
		workers = 1
	}

	type outcome struct {
		name string
		err  error
	}
	results := make([]outcome, len(defs))

	g := &errgroup.Group{}
	g.SetLimit(workers)
	for i, def := range defs {
		g.Go(func() error {
			res, err := c.OpenIndex(ctx, def)
			if err != nil {
				results[i] = outcome{name: index.Normalize(def.Name), err: err}
				return nil
			}
			if err := reg.Add(res.Handle); err != nil {
				_ = res.Handle.Close()
				results[i] = outcome{name: index.Normalize(def.Name), err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	failures := make(map[string]error)
	for _, r := range results {
		if r.err != nil {
			failures[r.name] = r.err
		}
	}
	return failures
}

// OpenIndex brings one index to readiness, running the state machine until
// Ready or Failed. An index with no on-disk data is created fresh.
func (c *Coordinator) OpenIndex(ctx context.Context, def *index.Definition) (*Result, error) {
	log := slog.With(slog.String("index", def.Name), slog.String("kind", def.Kind.String()))

	// Memory-only indexes have nothing to recover; indexes with no on-disk
	// state are created, not recovered.
	if c.engine.ServesInMemory(def) || !c.engine.Exists(def.Name) {
		return c.createFresh(ctx, def, log)
	}

	if !c.suspectCorruption {
		res, suspect, err := c.tryOpenTrusted(ctx, def, log)
		if err != nil {
			return nil, err
		}
		if !suspect {
			return res, nil
		}
	} else {
		log.Warn("crash marker present, skipping trusted open")
	}

	// Corruption-suspicious path. Aggregate indexes are never patched from
	// checkpoints; their content is rebuilt from stored reduce results.
	if def.IsMapReduce() || c.forceReset {
		return c.reset(ctx, def, log)
	}

	res, err := c.recover(ctx, def, log)
	if err == nil {
		return res, nil
	}
	if kerrors.IsFatal(err) {
		return nil, err
	}
	log.Warn("commit point recovery failed, resetting", slog.String("error", err.Error()))
	return c.reset(ctx, def, log)
}

// createFresh builds a brand-new index and seeds its statistics.
func (c *Coordinator) createFresh(ctx context.Context, def *index.Definition, log *slog.Logger) (*Result, error) {
	dir, err := c.engine.OpenOrCreate(def, true)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	h := registry.NewHandle(def, dir, now)
	if err := c.stats.Set(ctx, &index.Stats{
		Name:      def.Name,
		Priority:  index.PriorityNormal,
		CreatedAt: now,
	}); err != nil {
		_ = h.Close()
		return nil, err
	}

	log.Info("created new index")
	return &Result{Handle: h, State: StateReady}, nil
}

// tryOpenTrusted is the Opening state: open the existing directory and, if
// its on-disk markers are consistent, trust it. Returns suspect=true when
// the index must go through recovery instead.
func (c *Coordinator) tryOpenTrusted(ctx context.Context, def *index.Definition, log *slog.Logger) (*Result, bool, error) {
	dir, err := c.engine.OpenOrCreate(def, false)
	if err != nil {
		switch {
		case kerrors.IsNotFound(err):
			res, cerr := c.createFresh(ctx, def, log)
			return res, false, cerr
		case kerrors.IsCorruption(err) || kerrors.GetCode(err) == kerrors.ErrCodeVersionMismatch:
			log.Warn("open failed, entering recovery", slog.String("error", err.Error()))
			return nil, true, nil
		default:
			return nil, false, err
		}
	}

	unclean, err := engine.HasUncleanWriteMarker(dir.Path())
	if err != nil {
		_ = dir.Close()
		return nil, false, err
	}
	if unclean {
		log.Warn("unclean write marker present, entering recovery")
		_ = dir.Close()
		return nil, true, nil
	}

	h, err := c.finishOpen(ctx, def, dir)
	if err != nil {
		_ = dir.Close()
		return nil, false, err
	}
	return &Result{Handle: h, State: StateReady}, false, nil
}

// finishOpen reconciles statistics against the directory's committed
// position and builds the handle. Statistics ahead of the on-disk position
// are rolled back to it; they are never rolled forward.
func (c *Coordinator) finishOpen(ctx context.Context, def *index.Definition, dir *engine.Directory) (*registry.Handle, error) {
	diskPos, err := engine.ReadPosition(dir.Path())
	if err != nil {
		return nil, err
	}

	s, err := c.stats.Get(ctx, def.Name)
	if kerrors.IsNotFound(err) {
		s = &index.Stats{Name: def.Name, CreatedAt: time.Now().UTC()}
		err = nil
	}
	if err != nil {
		return nil, err
	}

	if diskPos.Before(s.LastIndexedEtag) {
		slog.Warn("statistics ahead of index, rolling back",
			slog.String("index", def.Name),
			slog.String("stats_position", string(s.LastIndexedEtag)),
			slog.String("disk_position", string(diskPos)))
		s.LastIndexedEtag = diskPos
		if err := c.stats.Set(ctx, s); err != nil {
			return nil, err
		}
	}

	h := registry.NewHandle(def, dir, s.CreatedAt)
	h.SetPriority(s.Priority)
	// The directory's committed position is authoritative for the live
	// handle; statistics may lag it after an interrupted flush.
	h.SetEtag(diskPos)
	if !s.LastQueriedAt.IsZero() {
		h.SetLastQueriedAt(s.LastQueriedAt)
	}
	return h, nil
}

// recover is the Recovering state: restore the newest valid commit point,
// reopen, and replay the deletions the restored snapshot predates.
func (c *Coordinator) recover(ctx context.Context, def *index.Definition, log *slog.Logger) (*Result, error) {
	p, deletedKeys, err := c.points.TryRecover(def.Name)
	if err != nil {
		return nil, err
	}

	// The restore rewrote the segment pointers; the stale write marker no
	// longer describes the directory's state.
	if err := engine.ClearUncleanWriteMarker(c.engine.IndexPath(def.Name)); err != nil {
		return nil, err
	}

	dir, err := c.engine.OpenOrCreate(def, false)
	if err != nil {
		return nil, err
	}

	// The restored snapshot predates these deletions; re-remove them
	// before the index serves queries.
	if err := dir.DeleteKeys(ctx, deletedKeys); err != nil {
		_ = dir.Close()
		return nil, err
	}

	// Roll statistics to the recovered point's position and timestamp.
	s, serr := c.stats.Get(ctx, def.Name)
	if kerrors.IsNotFound(serr) {
		s = &index.Stats{Name: def.Name, CreatedAt: time.Now().UTC()}
		serr = nil
	}
	if serr != nil {
		_ = dir.Close()
		return nil, serr
	}
	s.LastIndexedEtag = p.Position
	s.LastIndexedAt = p.Timestamp
	if err := c.stats.Set(ctx, s); err != nil {
		_ = dir.Close()
		return nil, err
	}

	h := registry.NewHandle(def, dir, s.CreatedAt)
	h.SetPriority(s.Priority)
	h.SetEtag(p.Position)
	if !s.LastQueriedAt.IsZero() {
		h.SetLastQueriedAt(s.LastQueriedAt)
	}

	log.Info("index recovered from commit point",
		slog.Uint64("generation", p.Generation),
		slog.Int("replayed_deletes", len(deletedKeys)))
	return &Result{
		Handle:          h,
		State:           StateReady,
		Recovered:       true,
		ReplayedDeletes: len(deletedKeys),
	}, nil
}

// reset is the Resetting state: delete all on-disk state (including
// extension data and commit points), recreate an empty index, and replay
// the reduction pipeline for aggregate indexes. A failure here is fatal for
// this index.
func (c *Coordinator) reset(ctx context.Context, def *index.Definition, log *slog.Logger) (*Result, error) {
	if err := c.engine.DeleteAll(def.Name); err != nil {
		return nil, kerrors.ResetFailed(def.Name, err)
	}

	dir, err := c.engine.OpenOrCreate(def, true)
	if err != nil {
		return nil, kerrors.ResetFailed(def.Name, err)
	}

	now := time.Now().UTC()
	s := &index.Stats{Name: def.Name, Priority: index.PriorityNormal, CreatedAt: now}
	if err := c.stats.Set(ctx, s); err != nil {
		_ = dir.Close()
		return nil, kerrors.ResetFailed(def.Name, err)
	}

	if def.IsMapReduce() && c.reducer != nil {
		if err := c.reducer.ScheduleReduceReplay(ctx, def.Name); err != nil {
			_ = dir.Close()
			return nil, kerrors.ResetFailed(def.Name, fmt.Errorf("reduce replay: %w", err))
		}
	}

	h := registry.NewHandle(def, dir, now)
	log.Warn("index was reset")
	return &Result{Handle: h, State: StateReady, WasReset: true}, nil
}
