package model

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/standardbeagle/srcmodel/internal/delta"
	"github.com/standardbeagle/srcmodel/internal/watch"
)

// Watch starts delivering file-system changes below every project location
// and root to the model. Batches are applied with ctx; a configuration
// change also extends the watch to roots added by the new configuration.
func (m *Model) Watch(ctx context.Context, opts watch.Options) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return fmt.Errorf("model is already watching")
	}

	var w *watch.Watcher
	w, err := watch.New(opts, func(b delta.Batch) {
		start := time.Now()
		tree, report, err := m.Apply(ctx, b)
		if err != nil {
			log.Printf("Error applying %d changes: %v", len(b.Changes), err)
		}
		if perr := report.Err(); perr != nil {
			log.Printf("Delta listener failure: %v", perr)
		}
		if b.ConfigChanged && w != nil {
			for _, dir := range m.watchDirs() {
				if err := w.Add(dir); err != nil {
					log.Printf("Warning: failed to watch %s: %v", dir, err)
				}
			}
		}
		if tree != nil && !tree.Empty() {
			log.Printf("Applied %d changes in %v", len(b.Changes), time.Since(start))
		}
	})
	if err != nil {
		return err
	}
	if err := w.Start(m.watchDirs()...); err != nil {
		_ = w.Stop()
		return err
	}
	m.watcher = w
	return nil
}

// StopWatching stops a watcher started by Watch.
func (m *Model) StopWatching() error {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

// watchDirs returns the outermost project locations and root paths.
func (m *Model) watchDirs() []string {
	var dirs []string
	for _, name := range m.reg.Projects() {
		if p, ok := m.reg.Project(name); ok {
			dirs = append(dirs, p.Location)
		}
		for _, r := range m.reg.Roots(name) {
			dirs = append(dirs, r.Path)
		}
	}
	sort.Strings(dirs)
	var out []string
	for _, d := range dirs {
		if n := len(out); n > 0 && (d == out[n-1] || strings.HasPrefix(d, strings.TrimSuffix(out[n-1], "/")+"/")) {
			continue
		}
		out = append(out, d)
	}
	return out
}
