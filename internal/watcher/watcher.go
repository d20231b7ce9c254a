// Package watcher monitors indexed files for modification and removal.
// Events are debounced into batches so a save-storm from an editor costs one
// dirty pass.
package watcher

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/rindex/internal/debug"
)

// EventType represents the type of file system event.
type EventType int

const (
	EventWrite EventType = iota
	EventRemove
)

// Watcher wraps fsnotify with per-file filtering and a debouncer. Directories
// are watched (files are often replaced by rename, which drops a file watch),
// and events are filtered down to the registered file set.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *eventDebouncer

	mu          sync.Mutex
	watchedDirs map[string]bool
	files       map[string]bool

	onFileChanged func(path string)
	onFileRemoved func(path string)

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher with the given debounce window.
func New(debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:         fsw,
		watchedDirs: make(map[string]bool),
		files:       make(map[string]bool),
		done:        make(chan struct{}),
	}
	w.debouncer = newEventDebouncer(debounce, w)
	return w, nil
}

// SetCallbacks sets the handlers for debounced file events.
func (w *Watcher) SetCallbacks(onFileChanged, onFileRemoved func(path string)) {
	w.onFileChanged = onFileChanged
	w.onFileRemoved = onFileRemoved
}

// Start begins processing events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.processEvents()
}

// Watch registers a file. Its directory gains an fsnotify watch on first
// sight.
func (w *Watcher) Watch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[path] {
		return
	}
	w.files[path] = true

	dir := filepath.Dir(path)
	if w.watchedDirs[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		log.Printf("Warning: failed to watch %s: %v", dir, err)
		return
	}
	w.watchedDirs[dir] = true
	debug.LogIndexing("watching directory %s\n", dir)
}

// WatchedFiles returns the registered file set.
func (w *Watcher) WatchedFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for path := range w.files {
		out = append(out, path)
	}
	return out
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	w.debouncer.stop()
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("File watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	tracked := w.files[event.Name]
	w.mu.Unlock()
	if !tracked {
		return
	}

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.debouncer.addEvent(event.Name, EventRemove)
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		// Create covers editors that replace files via rename.
		w.debouncer.addEvent(event.Name, EventWrite)
	}
}

// eventDebouncer batches file events to avoid excessive reindexing.
type eventDebouncer struct {
	mu       sync.Mutex
	events   map[string]EventType
	debounce time.Duration
	timer    *time.Timer
	owner    *Watcher
}

func newEventDebouncer(debounce time.Duration, owner *Watcher) *eventDebouncer {
	return &eventDebouncer{
		events:   make(map[string]EventType),
		debounce: debounce,
		owner:    owner,
	}
}

func (d *eventDebouncer) addEvent(path string, eventType EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// The latest event for a path wins.
	d.events[path] = eventType

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.flush)
}

func (d *eventDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *eventDebouncer) flush() {
	d.mu.Lock()
	events := d.events
	d.events = make(map[string]EventType)
	d.mu.Unlock()

	if len(events) == 0 {
		return
	}
	debug.LogIndexing("processing %d debounced file events\n", len(events))

	for path, eventType := range events {
		switch eventType {
		case EventRemove:
			if d.owner.onFileRemoved != nil {
				d.owner.onFileRemoved(path)
			}
		case EventWrite:
			if d.owner.onFileChanged != nil {
				d.owner.onFileChanged(path)
			}
		}
	}
}
