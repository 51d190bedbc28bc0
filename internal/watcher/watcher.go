// Package watcher turns raw fsnotify notifications into a filtered change
// stream. Events under ignored subtrees are dropped before they reach the
// consumer, and the bridge between the fsnotify producer and the consumer is
// unbounded so a slow consumer never stalls the watch or loses a change.
package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Event is one filtered filesystem change.
type Event struct {
	Paths []string
	Op    string
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	fsw       *fsnotify.Watcher
	root      string
	ignores   []string
	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// New starts watching root recursively, excluding the ignored subtrees.
// Ignore entries may be relative (resolved under root) or absolute. A watch
// that cannot be established is a fatal initialization error.
func New(root string, ignores []string) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve root: %w", err)
	}
	if fi, err := os.Stat(absRoot); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("watcher: root %s is not a watchable directory", absRoot)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}

	w := &Watcher{
		fsw:     fsw,
		root:    absRoot,
		ignores: ResolveIgnores(absRoot, ignores),
		out:     make(chan Event),
		done:    make(chan struct{}),
	}
	if err := w.addRecursive(absRoot); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watcher: watch %s: %w", absRoot, err)
	}

	raw := make(chan Event)
	go w.watchLoop(raw)
	go pump(raw, w.out)
	return w, nil
}

// Events is the filtered change stream. Closed when the watcher shuts down.
func (w *Watcher) Events() <-chan Event { return w.out }

// Root returns the canonical watched root.
func (w *Watcher) Root() string { return w.root }

// Close stops the watch and closes the event stream. Safe to call more than
// once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.fsw.Close()
}

// addRecursive registers root and every non-ignored subdirectory. fsnotify
// watches are per-directory, so the tree is walked once up front and new
// directories are added as they appear.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && Ignored(path, w.ignores) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			if path == root {
				return err
			}
			slog.Debug("failed to watch subdirectory", "path", path, "error", err)
		}
		return nil
	})
}

// watchLoop forwards filtered raw notifications into the bridge. Filtering
// happens on the producer side so ignored churn never queues.
func (w *Watcher) watchLoop(raw chan<- Event) {
	defer close(raw)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() && !Ignored(ev.Name, w.ignores) {
					_ = w.addRecursive(ev.Name)
				}
			}
			if Ignored(ev.Name, w.ignores) {
				slog.Debug("ignoring change in excluded subtree", "path", ev.Name)
				continue
			}
			select {
			case raw <- Event{Paths: []string{ev.Name}, Op: ev.Op.String()}:
			case <-w.done:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

// pump is the unbounded producer/consumer bridge: it buffers pending events
// in a slice so the producer is never blocked by a slow consumer.
func pump(in <-chan Event, out chan<- Event) {
	defer close(out)
	var pending []Event
	for {
		var send chan<- Event
		var next Event
		if len(pending) > 0 {
			send = out
			next = pending[0]
		}
		if in == nil && send == nil {
			return
		}
		select {
		case ev, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, ev)
		case send <- next:
			pending = pending[1:]
		}
	}
}

// ResolveIgnores normalizes ignore entries to absolute cleaned paths under
// root (absolute entries are kept as-is).
func ResolveIgnores(root string, ignores []string) []string {
	resolved := make([]string, 0, len(ignores))
	for _, ig := range ignores {
		if ig == "" {
			continue
		}
		if !filepath.IsAbs(ig) {
			ig = filepath.Join(root, ig)
		}
		resolved = append(resolved, filepath.Clean(ig))
	}
	return resolved
}

// Ignored reports whether path falls under any ignored subtree
// (ancestor-or-self prefix match on path components).
func Ignored(path string, ignores []string) bool {
	path = filepath.Clean(path)
	for _, ig := range ignores {
		if path == ig || strings.HasPrefix(path, ig+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
