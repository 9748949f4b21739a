package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/commitpoint"
	"github.com/Aman-CERP/indexkeeper/internal/engine"
	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
	"github.com/Aman-CERP/indexkeeper/internal/registry"
	"github.com/Aman-CERP/indexkeeper/internal/stats"
)

type fixture struct {
	root    string
	engine  *engine.Engine
	points  *commitpoint.Manager
	stats   *stats.SQLiteAccessor
	reducer *fakeReducer
}

type fakeReducer struct {
	replayed []string
	fail     bool
}

func (f *fakeReducer) ScheduleReduceReplay(ctx context.Context, name string) error {
	if f.fail {
		return assert.AnError
	}
	f.replayed = append(f.replayed, name)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	accessor, err := stats.NewSQLiteAccessor(filepath.Join(t.TempDir(), "stats.db"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = accessor.Close() })

	return &fixture{
		root:    root,
		engine:  engine.New(root, false),
		points:  commitpoint.NewManager(root, 5),
		stats:   accessor,
		reducer: &fakeReducer{},
	}
}

func (f *fixture) coordinator(suspect bool) *Coordinator {
	return NewCoordinator(f.engine, f.points, f.stats, f.reducer, suspect)
}

func plainDef(name string) *index.Definition {
	return &index.Definition{Name: name, Kind: index.KindPlain}
}

func docs(ids ...string) []engine.Document {
	out := make([]engine.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, engine.Document{ID: id, Fields: map[string]interface{}{"body": "content " + id}})
	}
	return out
}

func TestOpenIndex_CreatesFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	defer res.Handle.Close()

	assert.Equal(t, StateReady, res.State)
	assert.False(t, res.Recovered)
	assert.False(t, res.WasReset)

	s, err := f.stats.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, index.PriorityNormal, s.Priority)
}

func TestOpenIndex_TrustedReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	require.NoError(t, res.Handle.IndexBatch(ctx, docs("docs/1"), index.Etag("00000000000000000001")))
	require.NoError(t, res.Handle.Close())

	res2, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	defer res2.Handle.Close()

	assert.Equal(t, StateReady, res2.State)
	count, err := res2.Handle.Directory().DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, index.Etag("00000000000000000001"), res2.Handle.Etag())
}

func TestOpenIndex_RollsStatsBackNeverForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	require.NoError(t, res.Handle.IndexBatch(ctx, docs("docs/1"), index.Etag("00000000000000000005")))
	require.NoError(t, res.Handle.Close())

	// Statistics claim the index processed further than the directory did.
	s, err := f.stats.Get(ctx, "orders")
	require.NoError(t, err)
	s.LastIndexedEtag = index.Etag("00000000000000000099")
	require.NoError(t, f.stats.Set(ctx, s))

	res2, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	defer res2.Handle.Close()

	rolled, err := f.stats.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, index.Etag("00000000000000000005"), rolled.LastIndexedEtag)
}

func TestOpenIndex_RecoversFromCommitPointAndReplaysDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	require.NoError(t, res.Handle.IndexBatch(ctx, docs("docs/1", "docs/5"), index.Etag("00000000000000000002")))

	p, err := commitpoint.Capture(res.Handle.Directory())
	require.NoError(t, err)
	require.NoError(t, f.points.Store("orders", p))

	// docs/5 is deleted after the point was captured; the log records it.
	require.NoError(t, f.points.AppendDeletedKeys("orders", []string{"docs/5"}))
	require.NoError(t, res.Handle.Close())

	// Corrupt the live segment pointer so the trusted open fails.
	metaPath := filepath.Join(f.engine.IndexPath("orders"), engine.MetaFileName)
	require.NoError(t, os.WriteFile(metaPath, []byte("{broken"), 0644))

	res2, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	defer res2.Handle.Close()

	assert.Equal(t, StateReady, res2.State)
	assert.True(t, res2.Recovered)
	assert.Equal(t, 1, res2.ReplayedDeletes)

	// docs/5 must be gone before the index serves queries.
	hits, err := res2.Handle.Directory().Search(ctx, "docs/5", 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "docs/5", h.ID)
	}

	s, err := f.stats.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, index.Etag("00000000000000000002"), s.LastIndexedEtag)
}

func TestOpenIndex_CrashMarkerWithUnusableCommitPointResets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	require.NoError(t, res.Handle.IndexBatch(ctx, docs("docs/1"), index.Etag("00000000000000000001")))

	// Store a point that references files which will not exist.
	p, err := commitpoint.Capture(res.Handle.Directory())
	require.NoError(t, err)
	p.Files = append(p.Files, "store/ghost-segment.zap")
	require.NoError(t, f.points.Store("orders", p))
	require.NoError(t, res.Handle.Close())

	// Crash marker present: every index is corruption-suspect.
	res2, err := f.coordinator(true).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	defer res2.Handle.Close()

	assert.Equal(t, StateReady, res2.State)
	assert.True(t, res2.WasReset)

	count, err := res2.Handle.Directory().DocCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	// Format version was rewritten for the fresh directory.
	assert.NoError(t, engine.CheckFormatVersion(f.engine.IndexPath("orders"), "orders", index.KindPlain))
}

func TestOpenIndex_AggregateAlwaysResetWhenSuspect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := &index.Definition{Name: "totals", Kind: index.KindMapReduce}
	res, err := f.coordinator(false).OpenIndex(ctx, def)
	require.NoError(t, err)
	require.NoError(t, res.Handle.Close())

	res2, err := f.coordinator(true).OpenIndex(ctx, def)
	require.NoError(t, err)
	defer res2.Handle.Close()

	assert.True(t, res2.WasReset)
	assert.Equal(t, []string{"totals"}, f.reducer.replayed)
}

func TestOpenIndex_ResetFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := &index.Definition{Name: "totals", Kind: index.KindMapReduce}
	res, err := f.coordinator(false).OpenIndex(ctx, def)
	require.NoError(t, err)
	require.NoError(t, res.Handle.Close())

	f.reducer.fail = true
	_, err = f.coordinator(true).OpenIndex(ctx, def)
	require.Error(t, err)
	assert.True(t, kerrors.IsFatal(err))
}

func TestOpenIndex_UncleanWriteMarkerForcesRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	require.NoError(t, res.Handle.IndexBatch(ctx, docs("docs/1"), index.Etag("00000000000000000001")))

	p, err := commitpoint.Capture(res.Handle.Directory())
	require.NoError(t, err)
	require.NoError(t, f.points.Store("orders", p))
	require.NoError(t, res.Handle.Close())

	// Simulate a write that never completed.
	marker := filepath.Join(f.engine.IndexPath("orders"), engine.UncleanWriteMarkerFile)
	require.NoError(t, os.WriteFile(marker, nil, 0644))

	res2, err := f.coordinator(false).OpenIndex(ctx, plainDef("orders"))
	require.NoError(t, err)
	defer res2.Handle.Close()

	assert.True(t, res2.Recovered)

	// The marker is cleared so the next startup trusts the directory.
	unclean, err := engine.HasUncleanWriteMarker(f.engine.IndexPath("orders"))
	require.NoError(t, err)
	assert.False(t, unclean)
}

func TestOpenAll_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// "bad" is an aggregate whose reset will fail; "good" opens fine.
	bad := &index.Definition{Name: "bad", Kind: index.KindMapReduce}
	res, err := f.coordinator(false).OpenIndex(ctx, bad)
	require.NoError(t, err)
	require.NoError(t, res.Handle.Close())
	f.reducer.fail = true

	reg := registry.New()
	failures := f.coordinator(true).OpenAll(ctx, []*index.Definition{bad, plainDef("good")}, reg, 4)

	assert.Len(t, failures, 1)
	assert.Contains(t, failures, "bad")
	assert.True(t, reg.Has("good"))
	assert.False(t, reg.Has("bad"))

	for _, h := range reg.List() {
		_ = h.Close()
	}
}
