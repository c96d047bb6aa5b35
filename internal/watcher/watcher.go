// Package watcher ingests course documents dropped into an inbox directory tree laid out as
// <inbox>/<owner>/<course>/<assignment>/<file>.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/corpus"
)

const defaultDebounce = 400 * time.Millisecond

// IngestFunc is called once per settled file with the corpus key derived from its path.
type IngestFunc func(ctx context.Context, key corpus.Key, path string)

// Watcher watches an inbox tree and calls an IngestFunc for files at assignment depth.
type Watcher struct {
	inbox       string
	extensions  []string
	onFile      IngestFunc
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	afterFunc   func(time.Duration, func()) *time.Timer
	ctx         context.Context
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher for inbox. extensions filter which files are ingested (empty = all).
func New(inbox string, extensions []string, onFile IngestFunc, opts ...Option) *Watcher {
	w := &Watcher{
		inbox:       filepath.Clean(inbox),
		extensions:  extensions,
		onFile:      onFile,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		afterFunc:   time.AfterFunc,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Inbox returns the watched root.
func (w *Watcher) Inbox() string { return w.inbox }

// Start creates the inbox if needed, watches every directory under it and runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.ctx = ctx
	w.started = true
	w.logger.Debug("watcher starting", zap.String("inbox", w.inbox), zap.Strings("extensions", w.extensions))
	if err := w.addTreeLocked(w.inbox); err != nil {
		_ = w.watcher.Close()
		w.watcher = nil
		w.started = false
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !inDir(w.inbox, path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		w.schedule(path)
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		// stored corpora are immutable; a removed file only cancels its pending ingest
		w.cancelDebounce(path)
	}
}

// handleNewDirectory watches a directory created (or moved) into the inbox and schedules the
// files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if err := w.addTreeLocked(dir); err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.mu.Unlock()
	w.walkFiles(dir, w.schedule)
}

// KeyForPath derives the corpus key from a file path relative to inbox. Only files exactly
// three directories deep map to a key.
func KeyForPath(inbox, path string) (corpus.Key, bool) {
	rel, err := filepath.Rel(filepath.Clean(inbox), filepath.Clean(path))
	if err != nil {
		return corpus.Key{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 {
		return corpus.Key{}, false
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.HasPrefix(p, ".") {
			return corpus.Key{}, false
		}
	}
	key := corpus.Key{Owner: parts[0], Course: parts[1], Assignment: parts[2]}
	if key.Validate() != nil {
		return corpus.Key{}, false
	}
	return key, true
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(path string) {
	if !matchExtension(path, w.extensions) {
		return
	}
	key, ok := KeyForPath(w.inbox, path)
	if !ok {
		w.logger.Debug("watcher ignoring file outside <owner>/<course>/<assignment>", zap.String("path", path))
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	ctx := w.ctx
	// A timer that fires after being replaced must leave the newer entry alone.
	var t *time.Timer
	t = w.afterFunc(w.debounce, func() {
		w.mu.Lock()
		current := w.debounceMap[path] == t
		if current {
			delete(w.debounceMap, path)
		}
		w.mu.Unlock()
		if !current {
			return
		}
		w.logger.Debug("watcher ingesting file (debounced)", zap.String("path", path),
			zap.String("owner", key.Owner), zap.String("course", key.Course), zap.String("assignment", key.Assignment))
		if w.onFile != nil {
			w.onFile(ctx, key, path)
		}
	})
	w.debounceMap[path] = t
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

func (w *Watcher) addTreeLocked(root string) error {
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) walkFiles(root string, fn func(path string)) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fn(path)
		return nil
	})
}

// SyncExistingFiles schedules every file already in the inbox. Call after Start.
func (w *Watcher) SyncExistingFiles() {
	w.logger.Debug("watcher syncing existing files", zap.String("inbox", w.inbox))
	w.walkFiles(w.inbox, w.schedule)
}

// Stop stops the watcher, drops pending ingests and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
