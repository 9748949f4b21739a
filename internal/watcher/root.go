package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RootWatcher watches the index root for disappearing index directories.
// fsnotify is the primary mechanism; when it cannot be initialized the
// watcher falls back to periodic directory scans.
type RootWatcher struct {
	root        string
	opts        Options
	fsWatcher   *fsnotify.Watcher
	useFsnotify bool

	removals chan Removal
	errors   chan error

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// ignored holds root-level entries that are never index directories.
	ignored map[string]struct{}
}

// NewRootWatcher creates a watcher for the given index root. Entries named
// in ignore are never reported (the crash marker, the stats database).
func NewRootWatcher(root string, opts Options, ignore ...string) (*RootWatcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve index root: %w", err)
	}
	opts = opts.WithDefaults()

	w := &RootWatcher{
		root:     absRoot,
		opts:     opts,
		removals: make(chan Removal, opts.EventBufferSize),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
		ignored:  make(map[string]struct{}, len(ignore)),
	}
	for _, name := range ignore {
		w.ignored[name] = struct{}{}
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		w.fsWatcher = fsw
		w.useFsnotify = true
	} else {
		slog.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
	}
	return w, nil
}

// Start begins watching. It returns once the watch is established; events
// flow on the Removals channel until Stop.
func (w *RootWatcher) Start(ctx context.Context) error {
	if w.useFsnotify {
		if err := w.fsWatcher.Add(w.root); err != nil {
			return fmt.Errorf("watch index root %s: %w", w.root, err)
		}
		w.wg.Add(1)
		go w.fsnotifyLoop(ctx)
		return nil
	}

	w.wg.Add(1)
	go w.pollLoop(ctx)
	return nil
}

// Removals returns the channel of confirmed index directory removals.
// Closed when the watcher stops.
func (w *RootWatcher) Removals() <-chan Removal {
	return w.removals
}

// Errors returns the channel of non-fatal watcher errors.
func (w *RootWatcher) Errors() <-chan error {
	return w.errors
}

// Stop halts the watcher and closes its channels. Safe to call twice.
func (w *RootWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
		w.wg.Wait()
		close(w.removals)
		close(w.errors)
	})
	return err
}

func (w *RootWatcher) fsnotifyLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleSettledCheck(event.Name)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

// scheduleSettledCheck confirms a removal after the settle window so a
// delete-then-recreate replacement is not reported.
func (w *RootWatcher) scheduleSettledCheck(path string) {
	if filepath.Dir(path) != w.root {
		return
	}
	base := filepath.Base(path)
	if _, skip := w.ignored[base]; skip {
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		timer := time.NewTimer(w.opts.SettleWindow)
		defer timer.Stop()
		select {
		case <-w.stopCh:
			return
		case <-timer.C:
		}

		if _, err := os.Stat(path); !os.IsNotExist(err) {
			return
		}
		w.emit(path)
	}()
}

func (w *RootWatcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	present, err := w.scanRoot()
	if err != nil {
		w.reportError(err)
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			current, err := w.scanRoot()
			if err != nil {
				w.reportError(err)
				continue
			}
			for base := range present {
				if _, still := current[base]; !still {
					w.emit(filepath.Join(w.root, base))
				}
			}
			present = current
		}
	}
}

// scanRoot lists the root-level directories that could be indexes.
func (w *RootWatcher) scanRoot() (map[string]struct{}, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("scan index root: %w", err)
	}

	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, skip := w.ignored[e.Name()]; skip {
			continue
		}
		out[e.Name()] = struct{}{}
	}
	return out, nil
}

func (w *RootWatcher) emit(path string) {
	base := filepath.Base(path)
	name, err := url.PathUnescape(base)
	if err != nil {
		name = base
	}

	removal := Removal{Name: name, Path: path, Timestamp: time.Now()}
	select {
	case w.removals <- removal:
	default:
		slog.Warn("dropped index removal event, buffer full",
			slog.String("index", name))
	}
}

func (w *RootWatcher) reportError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
