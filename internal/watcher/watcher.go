// internal/watcher/watcher.go
package watcher

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"driftpad/internal/checkpoint"
)

// Kind classifies a session state change seen on disk.
type Kind string

const (
	KindUpdated Kind = "updated"
	KindRemoved Kind = "removed"
)

// Event reports a session whose persisted checkpoint state changed outside
// this process.
type Event struct {
	SessionID string
	Kind      Kind
	Path      string
}

// StateWatcher watches the checkpoint state directory and reports which
// sessions changed on disk. Events for the same session are debounced so an
// atomic save (temp write plus rename) surfaces as a single event.
type StateWatcher struct {
	dir      string
	debounce time.Duration
	callback func(Event)
	log      *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	started bool
	closed  bool
	mu      sync.Mutex

	pending   map[string]*time.Timer
	pendingMu sync.Mutex
}

// New creates a watcher over the given state directory. The callback runs
// on a timer goroutine after the debounce window closes.
func New(dir string, debounce time.Duration, callback func(Event), log *slog.Logger) (*StateWatcher, error) {
	if log == nil {
		log = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch state dir %s: %w", dir, err)
	}

	return &StateWatcher{
		dir:      dir,
		debounce: debounce,
		callback: callback,
		log:      log,
		watcher:  fsw,
		done:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start begins delivering events.
func (w *StateWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go w.watch()

	return nil
}

// Close stops the watcher and cancels pending debounce timers.
func (w *StateWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.started {
		close(w.done)
	}

	w.pendingMu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.pendingMu.Unlock()

	return w.watcher.Close()
}

func (w *StateWatcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("state watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// handleEvent maps a filesystem event to a session. Temp files and stray
// entries resolve to an empty session id and are dropped.
func (w *StateWatcher) handleEvent(event fsnotify.Event) {
	sessionID := checkpoint.SessionFromPath(event.Name)
	if sessionID == "" {
		return
	}

	var kind Kind
	switch {
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		kind = KindRemoved
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		kind = KindRemoved
	case event.Op&fsnotify.Create == fsnotify.Create:
		kind = KindUpdated
	case event.Op&fsnotify.Write == fsnotify.Write:
		kind = KindUpdated
	default:
		return
	}

	w.schedule(Event{SessionID: sessionID, Kind: kind, Path: event.Name})
}

// schedule arms the session's debounce timer, replacing any pending one so
// the last event kind within the window wins.
func (w *StateWatcher) schedule(e Event) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if timer, exists := w.pending[e.SessionID]; exists {
		timer.Stop()
	}

	w.pending[e.SessionID] = time.AfterFunc(w.debounce, func() {
		w.pendingMu.Lock()
		delete(w.pending, e.SessionID)
		w.pendingMu.Unlock()

		w.callback(e)
	})
}
