// Package watch invalidates cached language-server responses when Ada
// sources change on disk.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceWindow = 250 * time.Millisecond

// Invalidator receives the project root whose cached responses are stale.
type Invalidator interface {
	InvalidateProject(root string) int
}

// Watcher observes project trees and debounces change bursts into one
// invalidation per project root.
type Watcher struct {
	fsw  *fsnotify.Watcher
	inv  Invalidator
	log  zerolog.Logger
	done chan struct{}

	mu      sync.Mutex
	roots   []string
	pending map[string]*time.Timer
}

// New builds a Watcher delivering invalidations to inv. Call Close to stop.
func New(inv Invalidator, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		inv:     inv,
		log:     log,
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
	}
	go w.run()
	return w, nil
}

// WatchProject registers every directory under root, so edits anywhere in
// the tree are observed.
func (w *Watcher) WatchProject(root string) error {
	w.mu.Lock()
	w.roots = append(w.roots, root)
	w.mu.Unlock()
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Debug().Err(err).Str("dir", path).Msg("watch add failed")
		}
		return nil
	})
}

// Close stops the watcher and cancels pending invalidations.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.mu.Unlock()
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	// New directories need to be added to the watch set as they appear.
	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			_ = w.fsw.Add(ev.Name)
		}
	}
	if !IsAdaSource(ev.Name) {
		return
	}
	root, ok := w.rootFor(ev.Name)
	if !ok {
		return
	}
	w.schedule(root)
}

// schedule arms (or re-arms) the per-root debounce timer.
func (w *Watcher) schedule(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[root]; ok {
		t.Reset(debounceWindow)
		return
	}
	w.pending[root] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, root)
		w.mu.Unlock()
		n := w.inv.InvalidateProject(root)
		w.log.Debug().Str("root", root).Int("entries", n).Msg("sources changed, cache invalidated")
	})
}

// rootFor matches a changed path to its watched project, longest prefix wins.
func (w *Watcher) rootFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	best := ""
	for _, r := range w.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			if len(r) > len(best) {
				best = r
			}
		}
	}
	return best, best != ""
}

// IsAdaSource reports whether path is an Ada source or project file.
func IsAdaSource(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ads", ".adb", ".ada", ".gpr":
		return true
	}
	return false
}
