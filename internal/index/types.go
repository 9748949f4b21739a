// Package index defines the core data model shared by the storage,
// recovery, and lifecycle components: index names, definitions, priorities,
// and durable per-index statistics.
package index

import (
	"net/url"
	"strings"
	"time"
)

// Kind distinguishes plain per-document indexes from aggregate (map/reduce)
// indexes. Aggregate indexes are rebuilt from durable intermediate results on
// corruption rather than patched from a checkpoint.
type Kind int

const (
	// KindPlain is a direct per-document index.
	KindPlain Kind = iota
	// KindMapReduce is an aggregate index derived through a reduction
	// pipeline.
	KindMapReduce
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindMapReduce:
		return "mapReduce"
	default:
		return "unknown"
	}
}

// Normalize canonicalizes an index name for case-insensitive comparison.
func Normalize(name string) string {
	return strings.ToLower(name)
}

// DirName returns the on-disk directory name for an index (URL-encoded so
// names like "Users/ByCity" stay a single path element).
func DirName(name string) string {
	return url.PathEscape(name)
}

// Definition is the immutable-per-version descriptor of one index. It is
// owned by an external definition store; this subsystem only references it.
type Definition struct {
	// Name is the logical index name, unique case-insensitively.
	Name string

	// Kind selects plain vs map/reduce handling.
	Kind Kind

	// Analyzers maps field name to analyzer name, passed through to the
	// segment engine's mapping.
	Analyzers map[string]string

	// InMemoryEligible permits opening this index as an in-memory store
	// when the engine runs in memory-only mode.
	InMemoryEligible bool

	// AutoCreated marks indexes generated from queries rather than created
	// explicitly. Only auto-created indexes are subject to lifecycle sweeps.
	AutoCreated bool
}

// IsMapReduce reports whether the definition describes an aggregate index.
func (d *Definition) IsMapReduce() bool {
	return d.Kind == KindMapReduce
}

// Priority is a flag set governing lifecycle treatment of an index.
type Priority int

const (
	// PriorityNormal is the default, fully active state.
	PriorityNormal Priority = 0
	// PriorityIdle marks an index demoted for inactivity.
	PriorityIdle Priority = 1 << iota
	// PriorityAbandoned marks a long-unused index.
	PriorityAbandoned
	// PriorityDisabled suppresses lifecycle evaluation entirely.
	PriorityDisabled
	// PriorityForced suppresses all automatic transitions; it is combined
	// with one of the base states.
	PriorityForced
)

// HasFlag reports whether p contains the given flag.
func (p Priority) HasFlag(flag Priority) bool {
	if flag == PriorityNormal {
		return p == PriorityNormal || p&(PriorityIdle|PriorityAbandoned|PriorityDisabled) == 0
	}
	return p&flag != 0
}

// AutoTransitionsAllowed reports whether the lifecycle scheduler may change
// this priority.
func (p Priority) AutoTransitionsAllowed() bool {
	return p&(PriorityForced|PriorityDisabled) == 0
}

// String returns a human-readable representation of the priority flags.
func (p Priority) String() string {
	if p == PriorityNormal {
		return "normal"
	}
	var parts []string
	if p&PriorityIdle != 0 {
		parts = append(parts, "idle")
	}
	if p&PriorityAbandoned != 0 {
		parts = append(parts, "abandoned")
	}
	if p&PriorityDisabled != 0 {
		parts = append(parts, "disabled")
	}
	if p&PriorityForced != 0 {
		parts = append(parts, "forced")
	}
	if len(parts) == 0 {
		return "normal"
	}
	return strings.Join(parts, ",")
}

// Etag is an opaque, totally ordered position marker. Values compare
// lexicographically; producers must emit fixed-width representations.
type Etag string

// Compare returns -1, 0, or 1 comparing e against other.
func (e Etag) Compare(other Etag) int {
	return strings.Compare(string(e), string(other))
}

// Before reports whether e precedes other.
func (e Etag) Before(other Etag) bool {
	return e.Compare(other) < 0
}

// Stats is the durable per-index record persisted through the statistics
// accessor: how far the index has processed and how it is being used.
type Stats struct {
	Name            string    `json:"name"`
	LastIndexedEtag Etag      `json:"last_indexed_etag"`
	Priority        Priority  `json:"priority"`
	CreatedAt       time.Time `json:"created_at"`
	LastQueriedAt   time.Time `json:"last_queried_at"`
	LastIndexedAt   time.Time `json:"last_indexed_at"`
	DocCount        uint64    `json:"doc_count"`
}
