// Package watcher discovers audio files, either by watching a folder tree for
// new files or by sweeping it once.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/logging"
	"github.com/TechnicallyShaun/audio-transcriber/internal/transcribe/stabilizer"
)

// ErrWatcherStart is returned when watching cannot begin.
var ErrWatcherStart = errors.New("failed to start watcher")

// Backend names accepted by WithBackend.
const (
	BackendAuto     = ""
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// State is the watcher lifecycle: Idle, then Watching, then Stopped.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Op is a filesystem change reported by an event source.
type Op int

const (
	OpCreate Op = iota + 1
	OpMovedTo
	OpRemove
	OpMovedFrom
	// OpAppeared is a file that was created or moved in, from a source that
	// cannot tell the two apart. It counts as a new detection.
	OpAppeared
	// OpOverflow means the source dropped events and the tree must be rescanned.
	OpOverflow
)

// Event is a single change under the watched tree.
type Event struct {
	Path  string
	Op    Op
	IsDir bool
}

// eventSource abstracts the kernel notification API.
type eventSource interface {
	Add(dir string) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// Watcher dispatches each newly created audio file to a handler exactly once.
//
// A path that was already dispatched is not dispatched again for a duplicate
// create event. A move into the tree always counts as a new detection, and
// removing or moving a file away forgets it. Handler calls are serialized on
// the watcher goroutine.
type Watcher struct {
	matcher   *Matcher
	settle    stabilizer.Stabilizer
	logger    logging.Logger
	backend   string
	newSource func(backend string) (eventSource, error)

	mu        sync.Mutex
	state     State
	seen      map[string]struct{}
	rescanned map[string]struct{}
	root      string
	src       eventSource
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets how the watcher waits for a new file to finish writing.
func WithSettle(s stabilizer.Stabilizer) Option {
	return func(w *Watcher) {
		w.settle = s
	}
}

// WithBackend selects the notification backend (inotify, fsnotify, or auto).
func WithBackend(name string) Option {
	return func(w *Watcher) {
		w.backend = name
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New creates an idle Watcher.
func New(m *Matcher, opts ...Option) *Watcher {
	w := &Watcher{
		matcher:   m,
		settle:    stabilizer.Delay(0),
		logger:    logging.Discard(),
		newSource: openSource,
		seen:      make(map[string]struct{}),
		rescanned: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ResolveBackend maps the auto backend to the platform default.
func ResolveBackend(name string) string {
	if name != BackendAuto {
		return name
	}
	if runtime.GOOS == "linux" {
		return BackendInotify
	}
	return BackendFsnotify
}

func openSource(backend string) (eventSource, error) {
	switch ResolveBackend(backend) {
	case BackendInotify:
		return newInotifySource()
	case BackendFsnotify:
		return newFsnotifySource()
	default:
		return nil, fmt.Errorf("unknown watcher backend %q", backend)
	}
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start watches root recursively and calls handler for each new audio file.
// Handler calls receive ctx; Stop does not cancel a call in progress.
func (w *Watcher) Start(ctx context.Context, root string, handler Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateIdle {
		return fmt.Errorf("watcher is %s: %w", w.state, ErrWatcherStart)
	}

	src, err := w.newSource(w.backend)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrWatcherStart)
	}
	if err := addTree(src, root); err != nil {
		src.Close()
		return fmt.Errorf("watch %s: %v: %w", root, err, ErrWatcherStart)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.root = root
	w.src = src
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = StateWatching

	go w.loop(ctx, loopCtx, handler)

	w.logger.Info("watching for audio files",
		logging.String("root", root),
		logging.String("backend", ResolveBackend(w.backend)),
		logging.String("formats", strings.Join(w.matcher.Extensions(), ",")),
	)
	return nil
}

// Stop ends watching. When it returns no further handler call will start;
// a call already running is waited for.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state != StateWatching {
		w.state = StateStopped
		w.mu.Unlock()
		return nil
	}
	w.state = StateStopped
	cancel, done, src := w.cancel, w.done, w.src
	w.mu.Unlock()

	cancel()
	<-done
	err := src.Close()

	w.logger.Info("watcher stopped")
	return err
}

// Done is closed when the watch loop exits, after Stop or when the Start
// context is cancelled. It is nil before Start.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Seen reports whether path has been dispatched in this session.
func (w *Watcher) Seen(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[path]
	return ok
}

func (w *Watcher) loop(ctx, loopCtx context.Context, handler Handler) {
	defer close(w.done)

	events := w.src.Events()
	errs := w.src.Errors()

	for {
		select {
		case <-loopCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ctx, loopCtx, ev, handler)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Error("watcher error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx, loopCtx context.Context, ev Event, handler Handler) {
	switch ev.Op {
	case OpRemove, OpMovedFrom:
		w.forget(ev.Path)
		return
	case OpOverflow:
		w.rescan(ctx, loopCtx, handler)
		return
	}

	if ev.IsDir {
		w.watchNewDir(ctx, loopCtx, ev.Path, handler)
		return
	}

	if !w.matcher.Match(ev.Path) {
		return
	}

	fresh := ev.Op == OpMovedTo || ev.Op == OpAppeared
	if w.consumeRescanned(ev.Path) && ev.Op != OpMovedTo {
		// already dispatched by the scan of its new directory
		fresh = false
	}
	if !w.claim(ev.Path, fresh) {
		w.logger.Debug("duplicate event ignored", logging.String("path", ev.Path))
		return
	}

	w.dispatch(ctx, loopCtx, ev.Path, handler)
}

// claim records path as dispatched. A fresh claim succeeds even if the path
// was seen before.
func (w *Watcher) claim(path string, fresh bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[path]; ok && !fresh {
		return false
	}
	w.seen[path] = struct{}{}
	return true
}

// consumeRescanned reports whether path was claimed by a directory scan
// and has not had an event since.
func (w *Watcher) consumeRescanned(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.rescanned[path]; !ok {
		return false
	}
	delete(w.rescanned, path)
	return true
}

// forget drops path and anything beneath it from the dispatched set.
func (w *Watcher) forget(path string) {
	prefix := path + string(filepath.Separator)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, set := range []map[string]struct{}{w.seen, w.rescanned} {
		for p := range set {
			if p == path || strings.HasPrefix(p, prefix) {
				delete(set, p)
			}
		}
	}
}

func (w *Watcher) dispatch(ctx, loopCtx context.Context, path string, handler Handler) {
	w.logger.Info("new audio file detected", logging.String("path", path))

	if err := w.settle.WaitForStable(loopCtx, path); err != nil {
		if loopCtx.Err() != nil {
			return
		}
		w.logger.Error("file did not settle", err, logging.String("path", path))
		w.forget(path)
		return
	}
	if loopCtx.Err() != nil {
		return
	}

	if err := handler(ctx, path); err != nil {
		w.logger.Error("handler failed", err, logging.String("path", path))
	}
}

// watchNewDir adds a directory that appeared under the root and dispatches
// audio files that landed in it before its watch was registered.
func (w *Watcher) watchNewDir(ctx, loopCtx context.Context, dir string, handler Handler) {
	if err := addTree(w.src, dir); err != nil {
		w.logger.Error("failed to watch new directory", err, logging.String("path", dir))
		return
	}
	w.logger.Debug("watching new directory", logging.String("path", dir))

	files, err := Find(dir, w.matcher)
	if err != nil {
		w.logger.Error("failed to scan new directory", err, logging.String("path", dir))
		return
	}
	w.dispatchFound(ctx, loopCtx, files, handler)
}

// rescan picks up files whose events were lost to a queue overflow.
func (w *Watcher) rescan(ctx, loopCtx context.Context, handler Handler) {
	w.logger.Warn("event queue overflowed, rescanning", logging.String("root", w.root))

	if err := addTree(w.src, w.root); err != nil {
		w.logger.Error("failed to rewatch tree", err, logging.String("root", w.root))
	}
	files, err := Find(w.root, w.matcher)
	if err != nil {
		w.logger.Error("failed to rescan tree", err, logging.String("root", w.root))
		return
	}
	w.dispatchFound(ctx, loopCtx, files, handler)
}

// dispatchFound dispatches scanned files not yet claimed. Each is marked so
// that the create event racing the scan is not taken as a second arrival.
func (w *Watcher) dispatchFound(ctx, loopCtx context.Context, files []string, handler Handler) {
	for _, path := range files {
		if loopCtx.Err() != nil {
			return
		}
		if !w.claim(path, false) {
			continue
		}
		w.mu.Lock()
		w.rescanned[path] = struct{}{}
		w.mu.Unlock()
		w.dispatch(ctx, loopCtx, path, handler)
	}
}

// addTree registers root and every directory beneath it.
func addTree(src eventSource, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := src.Add(path); err != nil {
			if path == root {
				return err
			}
			return nil
		}
		return nil
	})
}
