// Package watch keeps the Observation Store's templates in sync with a
// directory of one-JSON-file-per-template definitions on disk, grounded
// on the teacher's fsnotify-based detectors
// (internal/reconciler/filesystem_detector.go and
// internal/teleport/watcher.go): an fsnotify watcher with a debounce
// window, falling back to periodic polling if the watcher cannot be
// established.
package watch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/giantswarm/mcp-gatekeeper/internal/store"
	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

// DefaultDebounce coalesces bursts of filesystem events (an editor's
// write-then-rename sequence) into a single reload.
const DefaultDebounce = 300 * time.Millisecond

// DefaultPollInterval is used when fsnotify could not be initialized.
const DefaultPollInterval = 5 * time.Second

// Watcher loads every *.json file under a directory into the
// Observation Store as a Template and keeps them in sync as files are
// added, changed, or removed. In the polling fallback, files are re-read
// on each tick; a deleted file's template is not removed from the store.
type Watcher struct {
	dir   string
	store *store.Store

	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopCh  chan struct{}
	stopped bool
}

// New constructs a Watcher rooted at dir and performs an initial load of
// every template file already present. dir must exist.
func New(dir string, st *store.Store) (*Watcher, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:    dir,
		store:  st,
		timers: make(map[string]*time.Timer),
		stopCh: make(chan struct{}),
	}

	if err := w.loadAll(context.Background()); err != nil {
		logging.Warn("watch", "initial template load from %s encountered errors: %v", dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("watch", "fsnotify unavailable for %s, falling back to polling: %v", dir, err)
		return w, nil
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		logging.Warn("watch", "failed to watch %s, falling back to polling: %v", dir, err)
		return w, nil
	}
	w.fsWatcher = fsw
	return w, nil
}

// Run drives the watcher until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	if w.fsWatcher != nil {
		w.runNotify(ctx)
		return
	}
	w.runPoll(ctx)
}

func (w *Watcher) runNotify(ctx context.Context) {
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
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			w.debounce(event.Name, func() { w.handleEvent(ctx, event) })
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("watch", "fsnotify error on %s: %v", w.dir, err)
		}
	}
}

func (w *Watcher) runPoll(ctx context.Context) {
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.loadAll(ctx); err != nil {
				logging.Warn("watch", "poll reload of %s encountered errors: %v", w.dir, err)
			}
		}
	}
}

func (w *Watcher) debounce(path string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(DefaultDebounce, fn)
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		name := templateNameFromPath(event.Name)
		if err := w.store.RemoveTemplate(ctx, name); err != nil {
			logging.Debug("watch", "removing template %s after file event: %v", name, err)
		}
		return
	}
	if err := w.loadFile(ctx, event.Name); err != nil {
		logging.Warn("watch", "failed to load %s: %v", event.Name, err)
	}
}

func (w *Watcher) loadAll(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := w.loadFile(ctx, filepath.Join(w.dir, entry.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Watcher) loadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var tpl store.Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return err
	}
	if tpl.Name == "" {
		tpl.Name = templateNameFromPath(path)
	}
	if err := tpl.Validate(); err != nil {
		return err
	}
	return w.store.SetTemplate(ctx, tpl)
}

func templateNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Stop halts the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for _, t := range w.timers {
		t.Stop()
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
}
