// Package watch is the raw change source: it turns fsnotify events into
// debounced delta batches.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/delta"
)

// DefaultDebounce is the quiet period after the last event before a batch
// is delivered.
const DefaultDebounce = 100 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// ConfigNames are base names of configuration files; a change to one
	// marks the batch as a configuration change.
	ConfigNames []string
	// Ignore prunes paths from watching and reporting.
	Ignore func(path string, isDir bool) bool
}

// Watcher monitors directory trees and delivers change batches.
type Watcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	handler func(delta.Batch)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flushMu sync.Mutex
	mu      sync.Mutex
	pending map[string]pendingEvent
	dirs    map[string]bool
	kick    chan struct{}

	statsMu         sync.RWMutex
	eventsProcessed int64
	batches         int64
	errorCount      int64
	lastEventTime   time.Time
}

// New creates a watcher. handler receives every batch on the watcher's
// goroutine, one at a time.
func New(opts Options, handler func(delta.Batch)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		watcher: fw,
		opts:    opts,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]pendingEvent),
		dirs:    make(map[string]bool),
		kick:    make(chan struct{}, 1),
	}, nil
}

// Start watches every directory below each root.
func (w *Watcher) Start(roots ...string) error {
	for _, root := range roots {
		debug.LogWatch("starting watcher for %s\n", root)
		if err := w.addWatches(root, false); err != nil {
			return fmt.Errorf("failed to add watches starting from %s: %w", root, err)
		}
	}
	w.wg.Add(2)
	go w.processEvents()
	go w.debounce()
	return nil
}

// Add watches another directory tree. Trees already watched are walked
// again, which picks up directories missed earlier.
func (w *Watcher) Add(root string) error {
	if w.ctx.Err() != nil {
		return fmt.Errorf("watcher is stopped")
	}
	return w.addWatches(filepath.ToSlash(root), false)
}

// Stop stops watching. Events still pending are dropped.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	debug.LogWatch("watcher stopped\n")
	return err
}

// addWatches walks a directory tree and watches every directory. With
// report set, every entry found is recorded as created, so files written
// before the watch was in place are not missed.
func (w *Watcher) addWatches(root string, report bool) error {
	visited := make(map[string]bool)
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		p = filepath.ToSlash(p)
		if w.ignored(p, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if report && p != root {
			w.add(p, pendingEvent{op: opCreate, isDir: d.IsDir()})
		}
		if !d.IsDir() {
			return nil
		}
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil || visited[resolved] {
			return filepath.SkipDir
		}
		visited[resolved] = true
		if err := w.watcher.Add(p); err != nil {
			log.Printf("Warning: failed to add watch for %s: %v", p, err)
			return nil
		}
		w.mu.Lock()
		w.dirs[p] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) ignored(p string, isDir bool) bool {
	if isDir && filepath.Base(p) == ".git" {
		return true
	}
	return w.opts.Ignore != nil && w.opts.Ignore(p, isDir)
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.statsMu.Lock()
			w.errorCount++
			w.statsMu.Unlock()
			log.Printf("File watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	p := filepath.ToSlash(ev.Name)
	debug.LogWatch("event %v for %s\n", ev.Op, p)

	switch {
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		isDir := w.dirs[p]
		delete(w.dirs, p)
		w.mu.Unlock()
		if w.ignored(p, isDir) {
			return
		}
		op := opRemove
		if ev.Op.Has(fsnotify.Rename) {
			op = opRename
		}
		w.add(p, pendingEvent{op: op, isDir: isDir})
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if w.ignored(p, info.IsDir()) {
			return
		}
		w.add(p, pendingEvent{op: opCreate, isDir: info.IsDir()})
		if info.IsDir() {
			if err := w.addWatches(ev.Name, true); err != nil {
				log.Printf("Warning: failed to watch new directory %s: %v", p, err)
			}
		}
	case ev.Op.Has(fsnotify.Write):
		if w.ignored(p, false) {
			return
		}
		w.add(p, pendingEvent{op: opWrite})
	}
}

func (w *Watcher) add(p string, ev pendingEvent) {
	w.mu.Lock()
	prev, seen := w.pending[p]
	if next, keep := coalesce(prev, seen, ev); keep {
		w.pending[p] = next
	} else {
		delete(w.pending, p)
	}
	w.mu.Unlock()

	w.statsMu.Lock()
	w.eventsProcessed++
	w.lastEventTime = time.Now()
	w.statsMu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// debounce delivers a batch once no event has arrived for the debounce period.
func (w *Watcher) debounce() {
	defer w.wg.Done()
	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.kick:
			timer.Reset(w.opts.Debounce)
		case <-timer.C:
			w.Flush()
		}
	}
}

// Flush delivers pending events immediately.
func (w *Watcher) Flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	w.mu.Lock()
	events := w.pending
	w.pending = make(map[string]pendingEvent)
	w.mu.Unlock()
	if len(events) == 0 {
		return
	}
	batch := buildBatch(events, w.isConfig)
	log.Printf("Processing %d debounced file events", len(batch.Changes))
	w.statsMu.Lock()
	w.batches++
	w.statsMu.Unlock()
	if w.handler != nil {
		w.handler(batch)
	}
}

func (w *Watcher) isConfig(p string) bool {
	base := filepath.Base(p)
	for _, name := range w.opts.ConfigNames {
		if base == name {
			return true
		}
	}
	return false
}

// Stats describes watcher activity.
type Stats struct {
	EventsProcessed int64
	Batches         int64
	ErrorCount      int64
	LastEventTime   time.Time
	IsActive        bool
}

// Stats returns current watcher statistics.
func (w *Watcher) Stats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return Stats{
		EventsProcessed: w.eventsProcessed,
		Batches:         w.batches,
		ErrorCount:      w.errorCount,
		LastEventTime:   w.lastEventTime,
		IsActive:        w.ctx.Err() == nil,
	}
}
