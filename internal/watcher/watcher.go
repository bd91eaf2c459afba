// Package watcher follows archive files on disk and emits one debounced
// event per burst of changes, so a rebuilt archive can be loaded again.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	Create EventOp = iota
	Write
	Remove
	Rename
)

// String returns the string representation of EventOp.
func (op EventOp) String() string {
	switch op {
	case Create:
		return "Create"
	case Write:
		return "Write"
	case Remove:
		return "Remove"
	case Rename:
		return "Rename"
	default:
		return "Unknown"
	}
}

// Event represents a change to a watched archive.
type Event struct {
	Path string
	Op   EventOp
	Time time.Time
}

// DefaultDebounce is used when WatcherConfig.Debounce is zero. Build tools
// tend to write an archive in several steps.
const DefaultDebounce = 500 * time.Millisecond

// WatcherConfig holds configuration for the archive watcher.
type WatcherConfig struct {
	// Archives are the files to follow. Their parent directories are
	// watched so that replacing a file by rename is seen.
	Archives []string
	Debounce time.Duration
	Logger   func(format string, args ...any) // optional, receives watch errors
}

// Watcher watches archive files for changes and emits debounced events.
type Watcher struct {
	archives map[string]struct{}
	dirs     []string
	debounce time.Duration
	log      func(format string, args ...any)

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	closed bool
}

// NewWatcher creates a new archive watcher with the given configuration.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if len(cfg.Archives) == 0 {
		return nil, fmt.Errorf("no archives to watch")
	}
	w := &Watcher{
		archives: make(map[string]struct{}),
		debounce: cfg.Debounce,
		log:      cfg.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.log == nil {
		w.log = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	seen := make(map[string]struct{})
	for _, a := range cfg.Archives {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", a, err)
		}
		w.archives[abs] = struct{}{}
		dir := filepath.Dir(abs)
		if _, ok := seen[dir]; !ok {
			seen[dir] = struct{}{}
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Start begins watching and returns a channel of debounced events. The
// channel is closed when ctx is cancelled or the watcher is closed.
func (w *Watcher) Start(ctx context.Context) (<-chan Event, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	out := make(chan Event, 16)
	go w.eventLoop(ctx, fsw, out)
	return out, nil
}

// Close shuts down the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) watched(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	_, ok := w.archives[abs]
	return ok
}

func (w *Watcher) eventLoop(ctx context.Context, fsw *fsnotify.Watcher, out chan<- Event) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(out)
	}()

	// Latest event and timer per archive; the timer restarts on every event.
	type pending struct {
		event Event
		timer *time.Timer
	}
	pendingEvents := make(map[string]*pending)
	var mu sync.Mutex

	fire := func(path string) {
		defer wg.Done()
		mu.Lock()
		p := pendingEvents[path]
		delete(pendingEvents, path)
		mu.Unlock()
		if p == nil {
			return
		}
		select {
		case out <- p.event:
		case <-ctx.Done():
		}
	}

	stopAll := func() {
		mu.Lock()
		for path, p := range pendingEvents {
			if p.timer.Stop() {
				wg.Done()
			}
			delete(pendingEvents, path)
		}
		mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			stopAll()
			return

		case fsEvent, ok := <-fsw.Events:
			if !ok {
				stopAll()
				return
			}
			if !w.watched(fsEvent.Name) {
				continue
			}
			op, valid := convertOp(fsEvent.Op)
			if !valid {
				continue
			}
			path := fsEvent.Name
			evt := Event{Path: path, Op: op, Time: time.Now()}

			mu.Lock()
			p, exists := pendingEvents[path]
			if exists && p.timer.Stop() {
				wg.Done()
			}
			if !exists {
				p = &pending{}
				pendingEvents[path] = p
			}
			p.event = evt
			wg.Add(1)
			p.timer = time.AfterFunc(w.debounce, func() { fire(path) })
			mu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				stopAll()
				return
			}
			w.log("watch error: %v", err)
		}
	}
}

func convertOp(op fsnotify.Op) (EventOp, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Create, true
	case op.Has(fsnotify.Write):
		return Write, true
	case op.Has(fsnotify.Remove):
		return Remove, true
	case op.Has(fsnotify.Rename):
		return Rename, true
	default:
		return 0, false
	}
}
