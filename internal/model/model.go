// Package model assembles the registry, element cache, working-copy
// overlay, secondary index, delta processor and lookup engine into one
// model of a workspace.
package model

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/standardbeagle/srcmodel/internal/builder"
	"github.com/standardbeagle/srcmodel/internal/cache"
	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/delta"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/index"
	"github.com/standardbeagle/srcmodel/internal/lookup"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/structure"
	"github.com/standardbeagle/srcmodel/internal/watch"
	"github.com/standardbeagle/srcmodel/internal/workingcopy"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

// ErrClosed is returned by operations on a closed model.
var ErrClosed = stderrors.New("model is closed")

// Options configures a Model.
type Options struct {
	Workspace workspace.Workspace
	Config    delta.ConfigSource
	// Builder builds unit structure. When nil the default Java and Go
	// builders are used and closed with the model.
	Builder builder.StructureBuilder
	// CacheCapacity bounds open openable elements; zero means the default.
	CacheCapacity int
}

// Model is the queryable model of a workspace kept in sync with change.
type Model struct {
	ws      workspace.Workspace
	reg     *roots.Registry
	cache   *cache.ElementCache
	overlay *workingcopy.Overlay
	index   *index.Index
	proc    *delta.Processor
	engine  *lookup.Engine

	ownBuilder *builder.Multi

	mu      sync.Mutex
	watcher *watch.Watcher
	closed  atomic.Bool
}

// New builds a model: the configuration is loaded, the registry built and
// the secondary index populated. Elements are opened lazily.
func New(ctx context.Context, opts Options) (*Model, error) {
	if opts.Workspace == nil {
		return nil, fmt.Errorf("model: workspace is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("model: configuration source is required")
	}

	configs, err := opts.Config.Projects(ctx)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	reg := roots.New(roots.DefaultConventions())
	reg.Rebuild(configs)

	m := &Model{ws: opts.Workspace, reg: reg}
	b := opts.Builder
	if b == nil {
		m.ownBuilder = builder.NewDefault()
		b = m.ownBuilder
	}

	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = cache.DefaultCapacity
	}
	m.overlay = workingcopy.New(b, m.ws)
	m.cache = cache.New(structure.New(reg, m.ws, b, m.overlay), cache.Config{Capacity: capacity})
	m.index = index.New(reg, m.ws, b)
	m.proc = delta.NewProcessor(reg, m.cache,
		delta.WithIndex(m.index),
		delta.WithConfig(opts.Config),
		delta.WithBuffers(m.overlay),
	)
	m.engine = lookup.NewEngine(reg, m.cache, m.overlay, m.index)

	if err := m.index.Rebuild(ctx); err != nil {
		m.closeBuilder()
		return nil, err
	}
	debug.Log("MODEL", "model ready: %d projects, %d indexed names\n", len(reg.Projects()), m.index.Stats().Names)
	return m, nil
}

func (m *Model) check() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Registry returns the root registry.
func (m *Model) Registry() *roots.Registry { return m.reg }

// Cache returns the element cache.
func (m *Model) Cache() *cache.ElementCache { return m.cache }

// Overlay returns the working-copy overlay.
func (m *Model) Overlay() *workingcopy.Overlay { return m.overlay }

// Index returns the secondary-declaration index.
func (m *Model) Index() *index.Index { return m.index }

// Processor returns the delta processor.
func (m *Model) Processor() *delta.Processor { return m.proc }

// Open returns the Info of h, building it and its missing ancestors.
func (m *Model) Open(ctx context.Context, h element.Handle) (*element.Info, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.cache.Open(ctx, h)
}

// Subscribe registers a delta listener and returns its removal function.
func (m *Model) Subscribe(l delta.Listener) func() {
	return m.proc.Subscribe(l)
}

// Lookup returns a name lookup over a project's classpath.
func (m *Model) Lookup(project string, opts ...lookup.Option) (*lookup.Lookup, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.engine.For(project, opts...)
}

// Apply processes a batch of raw changes and fires the resulting delta.
func (m *Model) Apply(ctx context.Context, batch delta.Batch) (*delta.Delta, delta.FireReport, error) {
	if err := m.check(); err != nil {
		return nil, delta.FireReport{}, err
	}
	return m.proc.OnChange(ctx, batch)
}

// ReloadConfig reloads the configuration and fires the classpath deltas.
func (m *Model) ReloadConfig(ctx context.Context) (*delta.Delta, delta.FireReport, error) {
	return m.Apply(ctx, delta.Batch{ConfigChanged: true})
}

// Close stops watching and releases the cache and any builder the model
// created. It is safe to call more than once.
func (m *Model) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := m.StopWatching()
	m.cache.Clear()
	m.closeBuilder()
	return err
}

func (m *Model) closeBuilder() {
	if m.ownBuilder != nil {
		m.ownBuilder.Close()
	}
}
