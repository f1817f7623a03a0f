package delta

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	srcdebug "github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/index"
	"github.com/standardbeagle/srcmodel/internal/roots"
)

// ChangeKind is the kind of a raw file-tree change.
type ChangeKind uint8

const (
	ChangeChanged ChangeKind = iota
	ChangeAdded
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	}
	return "changed"
}

// RawChange is one file-tree change notification. For a move the source
// reports an added change carrying MovedFrom and a removed change carrying
// MovedTo.
type RawChange struct {
	Path      string
	Kind      ChangeKind
	IsDir     bool
	MovedFrom string
	MovedTo   string
	// Opened and Closed mark project open and close events on a project location.
	Opened bool
	Closed bool
}

// Batch is the unit of delta processing. Changes are in tree pre-order.
type Batch struct {
	Changes []RawChange
	// ConfigChanged forces a registry rebuild before the changes are processed.
	ConfigChanged bool
}

// State is the processing phase.
type State int32

const (
	StateIdle State = iota
	StateCollecting
	StateMerging
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateMerging:
		return "merging"
	case StateFiring:
		return "firing"
	}
	return "unknown"
}

// Cache is the part of the element cache the processor keeps consistent.
type Cache interface {
	Peek(h element.Handle) (*element.Info, bool)
	Close(h element.Handle)
	Refresh(ctx context.Context, h element.Handle) (old, updated *element.Info, err error)
}

// ConfigSource supplies the current project configuration.
type ConfigSource interface {
	Projects(ctx context.Context) ([]roots.ProjectConfig, error)
}

// Buffers reports units whose content comes from a primary working copy.
type Buffers interface {
	Buffer(unit element.Handle) ([]byte, bool)
}

// Listener receives every fired delta tree. Listeners must not call
// OnChange or Flush with the context they were given.
type Listener func(ctx context.Context, d *Delta)

// ListenerPanic records a listener that panicked during firing.
type ListenerPanic struct {
	Listener int
	Value    any
	Stack    []byte
}

// FireReport is the outcome of delivering one delta tree.
type FireReport struct {
	Delivered int
	Panics    []ListenerPanic
}

// Err folds the recorded panics into one error, or nil.
func (r FireReport) Err() error {
	errs := make([]error, 0, len(r.Panics))
	for _, p := range r.Panics {
		errs = append(errs, fmt.Errorf("delta listener %d panicked: %v", p.Listener, p.Value))
	}
	return errors.NewMultiError(errs).ErrorOrNil()
}

type subscription struct {
	id int
	fn Listener
}

// Option configures a Processor.
type Option func(*Processor)

// WithIndex makes the processor issue index updates.
func WithIndex(sink index.Sink) Option {
	return func(p *Processor) { p.sink = sink }
}

// WithConfig sets the configuration reloaded on configuration changes.
func WithConfig(src ConfigSource) Option {
	return func(p *Processor) { p.config = src }
}

// WithBuffers lets the processor flag changes to files behind working copies.
func WithBuffers(b Buffers) Option {
	return func(p *Processor) { p.buffers = b }
}

// Processor runs collect, merge and fire cycles. One cycle runs at a time.
type Processor struct {
	reg     *roots.Registry
	cache   Cache
	sink    index.Sink
	config  ConfigSource
	buffers Buffers

	cycle sync.Mutex
	state atomic.Int32

	mu        sync.Mutex
	listeners []subscription
	nextID    int
	pending   []*Delta

	cycles atomic.Int64
}

// NewProcessor creates a processor over a registry and cache.
func NewProcessor(reg *roots.Registry, c Cache, opts ...Option) *Processor {
	p := &Processor{reg: reg, cache: c}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current phase.
func (p *Processor) State() State { return State(p.state.Load()) }

// Cycles returns how many cycles have completed.
func (p *Processor) Cycles() int64 { return p.cycles.Load() }

func (p *Processor) setState(s State) { p.state.Store(int32(s)) }

// Subscribe registers a listener and returns a function that removes it.
func (p *Processor) Subscribe(l Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, subscription{id: id, fn: l})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.listeners {
			if s.id == id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

// Report queues a delta produced outside change processing, such as a
// working-copy reconcile. It is merged into the next fired tree.
func (p *Processor) Report(d *Delta) {
	if d == nil {
		return
	}
	if d.Element != element.Model {
		root := NewRoot()
		root.Insert(d)
		d = root
	}
	p.mu.Lock()
	p.pending = append(p.pending, d)
	p.mu.Unlock()
}

// Flush fires any reported deltas.
func (p *Processor) Flush(ctx context.Context) (*Delta, FireReport, error) {
	return p.OnChange(ctx, Batch{})
}

type firingKey struct{}

func isFiring(ctx context.Context) bool {
	_, ok := ctx.Value(firingKey{}).(bool)
	return ok
}

// OnChange processes a batch: the cache is brought in line with the changes,
// the resulting delta is merged with reported ones and fired. Cancellation
// stops collection at the next change; the deltas for changes already
// applied are still fired. The merged tree is returned even when empty.
func (p *Processor) OnChange(ctx context.Context, batch Batch) (*Delta, FireReport, error) {
	if isFiring(ctx) {
		return nil, FireReport{}, errors.NewReentrant("process changes", "delta listener")
	}
	p.cycle.Lock()
	defer p.cycle.Unlock()
	defer p.setState(StateIdle)

	p.setState(StateCollecting)
	c := newCollector(ctx, p)
	var errs []error
	if batch.ConfigChanged {
		if err := c.reloadConfig(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.collect(batch.Changes); err != nil {
		errs = append(errs, err)
	}

	p.setState(StateMerging)
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	tree := NewRoot()
	for _, d := range pending {
		tree.Merge(d)
	}
	tree.Merge(c.tree)

	p.setState(StateFiring)
	report := p.fire(ctx, tree)
	p.cycles.Add(1)
	srcdebug.LogDelta("cycle %d: %d changes, %d listeners, %d panics\n", p.cycles.Load(), len(batch.Changes), report.Delivered, len(report.Panics))
	return tree, report, errors.NewMultiError(errs).ErrorOrNil()
}

func (p *Processor) fire(ctx context.Context, tree *Delta) FireReport {
	var report FireReport
	if tree.Empty() {
		return report
	}
	p.mu.Lock()
	listeners := append([]subscription(nil), p.listeners...)
	p.mu.Unlock()

	fctx := context.WithValue(ctx, firingKey{}, true)
	for _, s := range listeners {
		func() {
			defer func() {
				if v := recover(); v != nil {
					report.Panics = append(report.Panics, ListenerPanic{Listener: s.id, Value: v, Stack: debug.Stack()})
					srcdebug.Warn("delta listener %d panicked: %v\n", s.id, v)
				}
			}()
			s.fn(fctx, tree)
			report.Delivered++
		}()
	}
	return report
}
