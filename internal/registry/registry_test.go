package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexkeeper/internal/engine"
	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
)

func newTestHandle(t *testing.T, name string) *Handle {
	t.Helper()
	def := &index.Definition{Name: name, Kind: index.KindPlain, InMemoryEligible: true}
	e := engine.New(t.TempDir(), true)
	dir, err := e.OpenOrCreate(def, true)
	require.NoError(t, err)
	h := NewHandle(def, dir, time.Now())
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestAddGet_CaseInsensitive(t *testing.T) {
	r := New()
	h := newTestHandle(t, "Users/ByCity")
	require.NoError(t, r.Add(h))

	got, err := r.Get("users/BYCITY")
	require.NoError(t, err)
	assert.Same(t, h, got)
	assert.True(t, r.Has("USERS/bycity"))
}

func TestAdd_DuplicateRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(newTestHandle(t, "orders")))

	err := r.Add(newTestHandle(t, "ORDERS"))
	assert.Error(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestGet_MissingIsNotFound(t *testing.T) {
	r := New()

	_, err := r.Get("ghost")
	require.Error(t, err)
	assert.True(t, kerrors.IsNotFound(err))
}

func TestRemove(t *testing.T) {
	r := New()
	h := newTestHandle(t, "orders")
	require.NoError(t, r.Add(h))

	got, ok := r.Remove("ORDERS")
	assert.True(t, ok)
	assert.Same(t, h, got)
	assert.False(t, r.Has("orders"))

	// Removing again is a no-op.
	_, ok = r.Remove("orders")
	assert.False(t, ok)
}

func TestList_Snapshot(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(newTestHandle(t, "a")))
	require.NoError(t, r.Add(newTestHandle(t, "b")))

	assert.Len(t, r.List(), 2)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	r := New()
	h := newTestHandle(t, "orders")
	require.NoError(t, r.Add(h))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = r.Get("orders")
				_ = r.Has("orders")
				_ = r.List()
			}
		}()
	}

	// Single logical writer flapping priority while readers run.
	for i := 0; i < 1000; i++ {
		h.SetPriority(index.PriorityIdle)
		_ = h.Priority()
		h.SetPriority(index.PriorityNormal)
	}
	close(stop)
	wg.Wait()
}

func TestHandle_QueryTouchesTimestamp(t *testing.T) {
	h := newTestHandle(t, "orders")

	require.True(t, h.LastQueriedAt().IsZero())
	_, err := h.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.False(t, h.LastQueriedAt().IsZero())
}

func TestHandle_IndexBatchAdvancesEtag(t *testing.T) {
	h := newTestHandle(t, "orders")
	ctx := context.Background()

	docs := []engine.Document{{ID: "docs/1", Fields: map[string]interface{}{"body": "hi"}}}
	require.NoError(t, h.IndexBatch(ctx, docs, index.Etag("00000000000000000007")))

	assert.Equal(t, index.Etag("00000000000000000007"), h.Etag())
	assert.False(t, h.LastWriteAt().IsZero())
}

type fakeExtension struct {
	name   string
	closed bool
}

func (f *fakeExtension) Name() string { return f.name }
func (f *fakeExtension) Close() error { f.closed = true; return nil }

func TestHandle_ClosesExtensions(t *testing.T) {
	h := newTestHandle(t, "orders")
	ext := &fakeExtension{name: "suggestions"}
	h.AttachExtension(ext)

	require.Len(t, h.Extensions(), 1)
	require.NoError(t, h.Close())
	assert.True(t, ext.closed)
}
