// Package watcher observes the index root directory and reports index
// directories that disappear out from under the engine, so stale registry
// handles can be evicted instead of failing on their next use.
package watcher

import (
	"time"
)

// Removal reports one index directory that vanished from the root.
type Removal struct {
	// Name is the logical index name decoded from the directory name.
	Name string

	// Path is the absolute path that was removed.
	Path string

	// Timestamp is when the removal was confirmed.
	Timestamp time.Time
}

// Options configures the root watcher.
type Options struct {
	// SettleWindow is how long a removal must persist before it is
	// reported. Editors and rsync-style tools replace directories with a
	// delete-then-recreate; a settled check avoids evicting those.
	// Default: 500ms
	SettleWindow time.Duration

	// PollInterval is the scan interval for polling mode, used when
	// fsnotify cannot be initialized. Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the removal channel buffer. Default: 64
	EventBufferSize int
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		SettleWindow:    500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 64,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.SettleWindow == 0 {
		o.SettleWindow = defaults.SettleWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
