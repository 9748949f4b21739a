package lifecycle

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/commitpoint"
	"github.com/Aman-CERP/indexkeeper/internal/config"
	"github.com/Aman-CERP/indexkeeper/internal/engine"
	"github.com/Aman-CERP/indexkeeper/internal/index"
	"github.com/Aman-CERP/indexkeeper/internal/notify"
	"github.com/Aman-CERP/indexkeeper/internal/registry"
	"github.com/Aman-CERP/indexkeeper/internal/stats"
)

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []string
	reg     *registry.Registry
}

func (d *fakeDeleter) DeleteIndex(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, name)
	if h, ok := d.reg.Remove(name); ok {
		_ = h.Close()
	}
	return nil
}

type harness struct {
	cfg       *config.Config
	engine    *engine.Engine
	reg       *registry.Registry
	points    *commitpoint.Manager
	stats     *stats.SQLiteAccessor
	bus       *notify.Bus
	deleter   *fakeDeleter
	scheduler *Scheduler
	changes   []notify.IndexChange
	changesMu sync.Mutex

	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()

	cfg := config.NewConfig()
	cfg.Storage.DataDir = root

	accessor, err := stats.NewSQLiteAccessor(filepath.Join(t.TempDir(), "stats.db"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = accessor.Close() })

	h := &harness{
		cfg:    cfg,
		engine: engine.New(root, false),
		reg:    registry.New(),
		points: commitpoint.NewManager(root, cfg.Storage.MaxCommitPoints),
		stats:  accessor,
		bus:    notify.NewBus(),
		now:    time.Now(),
	}
	h.deleter = &fakeDeleter{reg: h.reg}
	h.bus.Subscribe(func(c notify.IndexChange) {
		h.changesMu.Lock()
		defer h.changesMu.Unlock()
		h.changes = append(h.changes, c)
	})

	h.scheduler = NewScheduler(cfg, h.reg, h.points, accessor, h.bus, h.deleter)
	h.scheduler.now = func() time.Time { return h.now }

	t.Cleanup(func() {
		for _, handle := range h.reg.List() {
			_ = handle.Close()
		}
	})
	return h
}

// addIndex opens an index and registers a handle with the given age, last
// query gap, and priority. age and queriedAgo are relative to h.now.
func (h *harness) addIndex(t *testing.T, name string, auto bool, p index.Priority, age, queriedAgo time.Duration) *registry.Handle {
	t.Helper()
	def := &index.Definition{Name: name, Kind: index.KindPlain, AutoCreated: auto}
	dir, err := h.engine.OpenOrCreate(def, true)
	require.NoError(t, err)

	handle := registry.NewHandle(def, dir, h.now.Add(-age))
	handle.SetPriority(p)
	if queriedAgo >= 0 {
		handle.SetLastQueriedAt(h.now.Add(-queriedAgo))
	}
	require.NoError(t, h.reg.Add(handle))
	return handle
}

func (h *harness) changeTypes() []notify.ChangeType {
	h.changesMu.Lock()
	defer h.changesMu.Unlock()
	out := make([]notify.ChangeType, 0, len(h.changes))
	for _, c := range h.changes {
		out = append(out, c.Type)
	}
	return out
}

func TestSweep_DemotesAtMostTwoPerPass(t *testing.T) {
	h := newHarness(t)

	// Four mature auto indexes, all cold well past the idle threshold.
	old := h.cfg.Lifecycle.DeleteUnusedYoungerThan + time.Hour
	for _, name := range []string{"auto-a", "auto-b", "auto-c", "auto-d"} {
		h.addIndex(t, name, true, index.PriorityNormal, old, h.cfg.Lifecycle.IdleThreshold*3)
	}

	h.scheduler.Sweep(context.Background())

	idle := 0
	for _, handle := range h.reg.List() {
		if handle.Priority().HasFlag(index.PriorityIdle) {
			idle++
		}
	}
	assert.Equal(t, 2, idle)

	// A second sweep picks up the remaining two.
	h.scheduler.Sweep(context.Background())
	idle = 0
	for _, handle := range h.reg.List() {
		if handle.Priority().HasFlag(index.PriorityIdle) {
			idle++
		}
	}
	assert.Equal(t, 4, idle)
}

func TestSweep_ExemptIndexesUntouched(t *testing.T) {
	h := newHarness(t)

	old := h.cfg.YoungAge() + time.Hour
	cold := h.cfg.Lifecycle.IdleThreshold * 3

	forced := h.addIndex(t, "pinned", true, index.PriorityForced, old, cold)
	disabled := h.addIndex(t, "off", true, index.PriorityDisabled, old, cold)
	user := h.addIndex(t, "by-hand", false, index.PriorityNormal, old, cold)

	h.scheduler.Sweep(context.Background())

	assert.False(t, forced.Priority().HasFlag(index.PriorityIdle))
	assert.False(t, disabled.Priority().HasFlag(index.PriorityIdle))
	assert.Equal(t, index.PriorityNormal, user.Priority())
	assert.Empty(t, h.changeTypes())
}

func TestSweep_YoungIndexNeedsColdGapToSuccessor(t *testing.T) {
	h := newHarness(t)

	young := h.cfg.YoungAge() / 2
	cold := h.cfg.Lifecycle.IdleThreshold + time.Minute

	// Both young, both just past the threshold, queried at nearly the
	// same time: neither is distinctly colder, so neither is demoted.
	a := h.addIndex(t, "auto-a", true, index.PriorityNormal, young, cold)
	b := h.addIndex(t, "auto-b", true, index.PriorityNormal, young, cold-time.Second)

	h.scheduler.Sweep(context.Background())

	assert.Equal(t, index.PriorityNormal, a.Priority())
	assert.Equal(t, index.PriorityNormal, b.Priority())
}

func TestSweep_DeletesYoungUnusedIdleIndex(t *testing.T) {
	h := newHarness(t)

	// Idle for 40 minutes, only an hour old: deleted outright. The same
	// state under Forced priority is untouched.
	h.addIndex(t, "scratch", true, index.PriorityIdle, time.Hour, 40*time.Minute)
	pinned := h.addIndex(t, "pinned", true, index.PriorityIdle|index.PriorityForced, time.Hour, 40*time.Minute)

	h.scheduler.Sweep(context.Background())

	assert.Equal(t, []string{"scratch"}, h.deleter.deleted)
	assert.False(t, h.reg.Has("scratch"))
	assert.True(t, h.reg.Has("pinned"))
	assert.Equal(t, index.PriorityIdle|index.PriorityForced, pinned.Priority())
	assert.Contains(t, h.changeTypes(), notify.RemoveFromIndex)
}

func TestSweep_AbandonsLongUnusedIdleIndex(t *testing.T) {
	h := newHarness(t)

	// Too old for outright deletion, unused past the abandon threshold.
	age := h.cfg.Lifecycle.DeleteUnusedYoungerThan + time.Hour
	handle := h.addIndex(t, "stale", true, index.PriorityIdle, age, h.cfg.AbandonThreshold()+time.Minute)

	h.scheduler.Sweep(context.Background())

	assert.True(t, handle.Priority().HasFlag(index.PriorityAbandoned))
	assert.Empty(t, h.deleter.deleted)
}

func TestFlush_StoresCommitPointOncePerGeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	handle := h.addIndex(t, "orders", true, index.PriorityNormal, time.Hour, time.Minute)
	require.NoError(t, handle.IndexBatch(ctx, []engine.Document{
		{ID: "docs/1", Fields: map[string]interface{}{"body": "content"}},
	}, index.Etag("00000000000000000001")))

	// Make the write look old enough to flush.
	h.now = h.now.Add(h.cfg.Lifecycle.WriteFlushAge + time.Minute)

	h.scheduler.Flush(ctx)
	points, err := h.points.List("orders")
	require.NoError(t, err)
	require.Len(t, points, 1)

	// Nothing changed; a second pass must not add another point.
	h.scheduler.Flush(ctx)
	points, err = h.points.List("orders")
	require.NoError(t, err)
	assert.Len(t, points, 1)

	st, err := h.stats.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, index.Etag("00000000000000000001"), st.LastIndexedEtag)
	assert.EqualValues(t, 1, st.DocCount)
	assert.False(t, st.LastQueriedAt.IsZero())
}

func TestFlush_SkipsRecentWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	handle := h.addIndex(t, "orders", true, index.PriorityNormal, time.Hour, time.Minute)
	require.NoError(t, handle.IndexBatch(ctx, []engine.Document{
		{ID: "docs/1", Fields: map[string]interface{}{"body": "content"}},
	}, index.Etag("00000000000000000001")))

	// The write just happened; the flush sweep leaves it alone.
	h.scheduler.Flush(ctx)

	points, err := h.points.List("orders")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestMarkQueried_PromotesIdleIndex(t *testing.T) {
	h := newHarness(t)

	handle := h.addIndex(t, "orders", true, index.PriorityIdle, time.Hour, time.Hour)

	assert.True(t, h.scheduler.MarkQueried(handle))
	assert.Equal(t, index.PriorityNormal, handle.Priority())
	assert.Contains(t, h.changeTypes(), notify.IndexPromotedFromIdle)

	// Already Normal: no further promotion.
	assert.False(t, h.scheduler.MarkQueried(handle))
}
