// Package lifecycle runs the periodic sweeps that govern automatically
// created indexes: demoting cold ones to Idle, abandoning or deleting the
// ones nobody comes back for, and flushing write-idle indexes to durable
// commit points.
package lifecycle

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/indexkeeper/internal/commitpoint"
	"github.com/Aman-CERP/indexkeeper/internal/config"
	"github.com/Aman-CERP/indexkeeper/internal/index"
	"github.com/Aman-CERP/indexkeeper/internal/notify"
	"github.com/Aman-CERP/indexkeeper/internal/registry"
	"github.com/Aman-CERP/indexkeeper/internal/stats"
)

// Deleter removes an index entirely: detach from the registry, dispose the
// handle, delete the on-disk data. Implemented by the keeper facade.
type Deleter interface {
	DeleteIndex(ctx context.Context, name string) error
}

// Scheduler owns the two background sweeps. Priority transitions apply only
// to automatically created indexes; Forced and Disabled indexes are never
// touched.
type Scheduler struct {
	cfg     *config.Config
	reg     *registry.Registry
	points  *commitpoint.Manager
	stats   stats.Accessor
	bus     *notify.Bus
	deleter Deleter

	// now is swapped in tests.
	now func() time.Time

	mu sync.Mutex
	// flushedGen remembers the generation last captured into a commit
	// point, keyed by normalized name, so an unchanged index is not
	// re-flushed every sweep.
	flushedGen map[string]uint64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates a Scheduler. Call Start to begin sweeping.
func NewScheduler(cfg *config.Config, reg *registry.Registry, points *commitpoint.Manager, accessor stats.Accessor, bus *notify.Bus, deleter Deleter) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		reg:        reg,
		points:     points,
		stats:      accessor,
		bus:        bus,
		deleter:    deleter,
		now:        time.Now,
		flushedGen: make(map[string]uint64),
	}
}

// Start launches the priority sweep and the flush sweep.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.sweepLoop()
	go s.flushLoop()

	slog.Debug("lifecycle scheduler started",
		slog.Duration("sweep_interval", s.cfg.Lifecycle.SweepInterval),
		slog.Duration("flush_interval", s.cfg.Lifecycle.FlushInterval))
}

// Stop halts both sweeps and waits for them to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		slog.Debug("lifecycle scheduler stopped")
	})
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Lifecycle.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

func (s *Scheduler) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Lifecycle.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Flush(s.ctx)
		}
	}
}

// Sweep runs one priority evaluation pass over the registry.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now()

	var candidates []*registry.Handle
	for _, h := range s.reg.List() {
		if !h.Definition().AutoCreated {
			continue
		}
		if !h.Priority().AutoTransitionsAllowed() {
			continue
		}
		candidates = append(candidates, h)
	}

	// Coldest first. An index never queried sorts by creation time.
	sort.Slice(candidates, func(i, j int) bool {
		return lastActivity(candidates[i]).Before(lastActivity(candidates[j]))
	})

	s.demoteNormals(candidates, now)
	s.evaluateIdles(ctx, candidates, now)
}

// lastActivity is the last query time, falling back to creation for indexes
// that have never been queried.
func lastActivity(h *registry.Handle) time.Time {
	if t := h.LastQueriedAt(); !t.IsZero() {
		return t
	}
	return h.CreatedAt()
}

// demoteNormals demotes at most MaxDemotionsPerSweep Normal indexes to Idle.
// A cold index is demoted outright once it has been around for a while; a
// young index is demoted only when it is distinctly colder than its
// successor, so a burst of fresh auto indexes is not demoted wholesale.
func (s *Scheduler) demoteNormals(sorted []*registry.Handle, now time.Time) {
	threshold := s.cfg.Lifecycle.IdleThreshold
	youngAge := s.cfg.YoungAge()
	budget := s.cfg.Lifecycle.MaxDemotionsPerSweep

	var normals []*registry.Handle
	for _, h := range sorted {
		if h.Priority() == index.PriorityNormal {
			normals = append(normals, h)
		}
	}

	for i, h := range normals {
		if budget == 0 {
			return
		}
		gap := now.Sub(lastActivity(h))
		if gap <= threshold {
			// Sorted coldest first; everything after is warmer.
			return
		}
		if now.Sub(h.CreatedAt()) < youngAge {
			if i+1 >= len(normals) {
				continue
			}
			succGap := now.Sub(lastActivity(normals[i+1]))
			if gap-succGap <= threshold {
				continue
			}
		}

		h.SetPriority(index.PriorityIdle)
		budget--
		slog.Info("index demoted to idle",
			slog.String("index", h.Name()),
			slog.Duration("query_gap", gap))
		s.bus.Notify(notify.IndexChange{Name: h.Name(), Type: notify.IndexDemotedToIdle})
	}
}

// evaluateIdles deletes young, long-unused Idle indexes outright and
// abandons the rest once they cross the abandon threshold.
func (s *Scheduler) evaluateIdles(ctx context.Context, sorted []*registry.Handle, now time.Time) {
	abandonAfter := s.cfg.AbandonThreshold()

	for _, h := range sorted {
		if !h.Priority().HasFlag(index.PriorityIdle) {
			continue
		}
		if h.Priority().HasFlag(index.PriorityAbandoned) {
			continue
		}

		unused := now.Sub(lastActivity(h))
		age := now.Sub(h.CreatedAt())

		if age < s.cfg.Lifecycle.DeleteUnusedYoungerThan && unused > s.cfg.Lifecycle.DeleteUnusedAfter {
			name := h.Name()
			if err := s.deleter.DeleteIndex(ctx, name); err != nil {
				slog.Warn("failed to delete unused index",
					slog.String("index", name),
					slog.String("error", err.Error()))
				continue
			}
			slog.Info("deleted unused auto index",
				slog.String("index", name),
				slog.Duration("unused", unused),
				slog.Duration("age", age))
			s.bus.Notify(notify.IndexChange{Name: name, Type: notify.RemoveFromIndex})
			continue
		}

		if unused > abandonAfter {
			h.SetPriority(h.Priority() | index.PriorityAbandoned)
			slog.Info("index abandoned",
				slog.String("index", h.Name()),
				slog.Duration("unused", unused))
			s.bus.Notify(notify.IndexChange{Name: h.Name(), Type: notify.IndexDemotedToIdle})
		}
	}
}

// Flush runs one flush pass: write-idle on-disk indexes get a fresh commit
// point, and every index's observed timestamps are persisted for the next
// startup.
func (s *Scheduler) Flush(ctx context.Context) {
	now := s.now()

	for _, h := range s.reg.List() {
		s.flushHandle(ctx, h, now)
	}
}

func (s *Scheduler) flushHandle(ctx context.Context, h *registry.Handle, now time.Time) {
	name := index.Normalize(h.Name())

	if !h.Directory().InMemory() {
		lastWrite := h.LastWriteAt()
		gen := h.Directory().Generation()

		s.mu.Lock()
		flushed := s.flushedGen[name]
		s.mu.Unlock()

		if !lastWrite.IsZero() && now.Sub(lastWrite) > s.cfg.Lifecycle.WriteFlushAge && gen > flushed {
			p, err := commitpoint.Capture(h.Directory())
			if err != nil {
				slog.Warn("failed to capture commit point",
					slog.String("index", h.Name()),
					slog.String("error", err.Error()))
			} else if err := s.points.Store(h.Name(), p); err != nil {
				slog.Warn("failed to store commit point",
					slog.String("index", h.Name()),
					slog.String("error", err.Error()))
			} else {
				s.mu.Lock()
				s.flushedGen[name] = gen
				s.mu.Unlock()
				slog.Debug("flushed commit point",
					slog.String("index", h.Name()),
					slog.Uint64("generation", gen))
			}
		}
	}

	s.persistStats(ctx, h)
}

// persistStats folds the handle's live observations into the durable record.
func (s *Scheduler) persistStats(ctx context.Context, h *registry.Handle) {
	st, err := s.stats.Get(ctx, h.Name())
	if err != nil {
		st = &index.Stats{Name: h.Name(), CreatedAt: h.CreatedAt()}
	}

	st.Priority = h.Priority()
	if e := h.Etag(); e != "" {
		st.LastIndexedEtag = e
	}
	if t := h.LastQueriedAt(); t.After(st.LastQueriedAt) {
		st.LastQueriedAt = t
	}
	if t := h.LastWriteAt(); t.After(st.LastIndexedAt) {
		st.LastIndexedAt = t
	}
	if count, err := h.Directory().DocCount(); err == nil {
		st.DocCount = count
	}

	if err := s.stats.Set(ctx, st); err != nil {
		slog.Warn("failed to persist index stats",
			slog.String("index", h.Name()),
			slog.String("error", err.Error()))
	}
}

// MarkQueried promotes an Idle auto index back to Normal when a query
// arrives. Returns true when a promotion happened.
func (s *Scheduler) MarkQueried(h *registry.Handle) bool {
	p := h.Priority()
	if !p.HasFlag(index.PriorityIdle) || !p.AutoTransitionsAllowed() {
		return false
	}

	h.SetPriority(index.PriorityNormal)
	slog.Info("index promoted from idle", slog.String("index", h.Name()))
	s.bus.Notify(notify.IndexChange{Name: h.Name(), Type: notify.IndexPromotedFromIdle})
	return true
}
