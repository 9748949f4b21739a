package registry

import (
	"sync"

	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// Registry is a thread-safe, case-insensitive map from index name to live
// handle. Concurrent readers (queries) and a single logical writer per name
// (create/delete) are supported. It is passed explicitly to every component
// that needs index lookup; there is no process-wide instance.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Add registers a handle under its name. Registering a second handle for
// the same name (any casing) is an internal error: exactly one handle may
// exist per index.
func (r *Registry) Add(h *Handle) error {
	key := index.Normalize(h.Name())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[key]; exists {
		return kerrors.New(kerrors.ErrCodeInternal,
			"index already registered", nil).WithIndex(h.Name())
	}
	r.handles[key] = h
	return nil
}

// Get resolves a name to its live handle. A missing index is an expected
// condition: callers receive a NotFound error to log-and-continue or
// surface as "index does not exist".
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[index.Normalize(name)]
	if !ok {
		return nil, kerrors.NotFound(name)
	}
	return h, nil
}

// Has reports whether the named index is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handles[index.Normalize(name)]
	return ok
}

// Remove detaches the named handle from the registry and returns it. The
// caller owns disposal; detaching before any disk deletion guarantees no
// new query can reach data about to be removed. Removing an absent name
// returns nil, false.
func (r *Registry) Remove(name string) (*Handle, bool) {
	key := index.Normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[key]
	if !ok {
		return nil, false
	}
	delete(r.handles, key)
	return h, true
}

// List returns a snapshot of all registered handles.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
