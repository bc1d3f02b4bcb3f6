// Package watcher turns raw fsnotify events into the batched, classified
// change sets the model consumes: created, changed, and deleted paths,
// delivered one batch at a time on a single goroutine.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"testatlas/internal/logger"
)

// DefaultIgnorePatterns are directory subtrees never worth watching.
var DefaultIgnorePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/dist/**",
	"**/build/**",
	"**/coverage/**",
	"**/.testatlas/**",
}

// DefaultDebounce is how long a batch accumulates before delivery.
const DefaultDebounce = 200 * time.Millisecond

// Handler receives one classified batch. Invocations are sequential:
// the next batch is not delivered until the handler returns. Delivery
// happens off the event loop, so a slow handler delays batches but
// never stalls event consumption.
type Handler func(created, changed, deleted []string)

type changeKind int

const (
	kindCreated changeKind = iota
	kindChanged
	kindDeleted
)

// Watcher observes a workspace root recursively.
type Watcher struct {
	root     string
	handler  Handler
	log      logger.Logger
	ignore   []string
	debounce time.Duration

	fs       *fsnotify.Watcher
	queue    chan changeBatch
	stopChan chan struct{}
	stopped  chan struct{}
	drained  chan struct{}
}

type changeBatch struct {
	created []string
	changed []string
	deleted []string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithIgnorePatterns replaces the default ignore patterns.
func WithIgnorePatterns(patterns []string) Option {
	return func(w *Watcher) { w.ignore = patterns }
}

// WithDebounce replaces the default batching window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher over root. Start must be called before any
// batches are delivered.
func New(root string, handler Handler, log logger.Logger, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if log == nil {
		log = logger.NewMemory()
	}

	w := &Watcher{
		root:     root,
		handler:  handler,
		log:      log,
		ignore:   DefaultIgnorePatterns,
		debounce: DefaultDebounce,
		queue:    make(chan changeBatch, 16),
		stopChan: make(chan struct{}),
		stopped:  make(chan struct{}),
		drained:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching the root subtree.
func (w *Watcher) Start() error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.fs = fs

	if err := w.addRecursive(w.root); err != nil {
		_ = fs.Close()
		w.fs = nil
		return err
	}

	go w.loop()
	go w.dispatch()
	return nil
}

// Close stops the watcher and waits for both the event loop and the
// delivery goroutine to exit.
func (w *Watcher) Close() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	if w.fs != nil {
		<-w.stopped
		<-w.drained
		err := w.fs.Close()
		w.fs = nil
		return err
	}
	return nil
}

// dispatch delivers queued batches one at a time, preserving the
// sequential-handler contract while keeping the event loop free to
// consume kernel events.
func (w *Watcher) dispatch() {
	defer close(w.drained)
	for b := range w.queue {
		w.handler(b.created, b.changed, b.deleted)
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.ignore {
		// Patterns are anchored at the root; a directory matches when
		// any path inside it would.
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, rel+"/"); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	defer func() {
		close(w.queue)
		close(w.stopped)
	}()

	pending := make(map[string]changeKind)
	sizes := make(map[string]int64)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		timer = nil
		timerC = nil
		if len(pending) == 0 {
			return
		}
		created, changed, deleted := classify(pending)
		pending = make(map[string]changeKind)
		w.queue <- changeBatch{created: created, changed: changed, deleted: deleted}
	}

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}
			kind, ok := classifyOp(event.Op)
			if !ok {
				// Some tools rewrite contents through operations the
				// kernel reports as attribute changes; a chmod counts
				// as a change only when the size moved.
				if event.Op&fsnotify.Chmod == 0 || !sizeChanged(event.Name, sizes) {
					continue
				}
				kind = kindChanged
			}
			if kind == kindDeleted {
				delete(sizes, event.Name)
			} else if info, err := os.Stat(event.Name); err == nil && !info.IsDir() {
				sizes[event.Name] = info.Size()
			}
			w.record(pending, event.Name, kind)
			if kind == kindCreated {
				// New directories need their own watch before
				// events inside them can arrive.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.log.Warn("failed to watch new directory %s: %v", event.Name, err)
					}
					delete(pending, event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			}

		case <-timerC:
			flush()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error("workspace watcher error: %v", err)

		case <-w.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// record merges a new observation into the pending batch. Deletion wins
// over everything; creation absorbs later writes.
func (w *Watcher) record(pending map[string]changeKind, path string, kind changeKind) {
	prev, seen := pending[path]
	if !seen {
		pending[path] = kind
		return
	}
	switch {
	case kind == kindDeleted:
		pending[path] = kindDeleted
	case prev == kindCreated && kind == kindChanged:
		// Still a creation from the model's point of view.
	default:
		pending[path] = kind
	}
}

// sizeChanged reports whether a chmod-only event moved the file's size.
// The first observation of a path only seeds the size table.
func sizeChanged(path string, sizes map[string]int64) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	prev, seen := sizes[path]
	sizes[path] = info.Size()
	return seen && prev != info.Size()
}

func classifyOp(op fsnotify.Op) (changeKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return kindCreated, true
	case op&fsnotify.Write != 0:
		return kindChanged, true
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return kindDeleted, true
	default:
		return 0, false
	}
}

func classify(pending map[string]changeKind) (created, changed, deleted []string) {
	for path, kind := range pending {
		switch kind {
		case kindCreated:
			created = append(created, path)
		case kindChanged:
			changed = append(changed, path)
		case kindDeleted:
			deleted = append(deleted, path)
		}
	}
	sort.Strings(created)
	sort.Strings(changed)
	sort.Strings(deleted)
	return created, changed, deleted
}
