// Package lookup resolves names against the model. Roots are searched in
// classpath order, working copies shadow persisted units, and access
// restrictions rank otherwise equal answers. Lookups are total: a missing
// name is an ordinary negative answer, never an error.
package lookup

import (
	"context"
	"sync"

	"github.com/standardbeagle/srcmodel/internal/cache"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/index"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/workingcopy"
)

// AcceptFlags filters type answers by type kind.
type AcceptFlags uint8

const (
	AcceptClasses AcceptFlags = 1 << iota
	AcceptInterfaces
	AcceptEnums
	AcceptAnnotations
	AcceptRecords
	AcceptStructs
	AcceptAliases

	AcceptAll = AcceptClasses | AcceptInterfaces | AcceptEnums | AcceptAnnotations |
		AcceptRecords | AcceptStructs | AcceptAliases
)

// Accepts reports whether the flags admit a type kind.
func (f AcceptFlags) Accepts(tk element.TypeKind) bool {
	switch tk {
	case element.TypeClass:
		return f&AcceptClasses != 0
	case element.TypeInterface:
		return f&AcceptInterfaces != 0
	case element.TypeEnum:
		return f&AcceptEnums != 0
	case element.TypeAnnotation:
		return f&AcceptAnnotations != 0
	case element.TypeRecord:
		return f&AcceptRecords != 0
	case element.TypeStruct:
		return f&AcceptStructs != 0
	case element.TypeAlias:
		return f&AcceptAliases != 0
	}
	return false
}

// Answer is one lookup result.
type Answer struct {
	Element element.Handle
	// Restriction is nil for unrestricted answers.
	Restriction *roots.Restriction
	Root        *roots.Root
	// Qualified is the dotted package and type path the answer was found under.
	Qualified       string
	FromWorkingCopy bool

	wc *workingcopy.WorkingCopy
}

// Secondary is the secondary-declaration index consulted when no
// convention-named unit declares a name.
type Secondary interface {
	LookupByName(name string) []index.Location
}

// Engine creates per-project lookups over shared model state.
type Engine struct {
	reg       *roots.Registry
	cache     *cache.ElementCache
	overlay   *workingcopy.Overlay
	secondary Secondary
}

// NewEngine creates a lookup engine. secondary may be nil.
func NewEngine(reg *roots.Registry, c *cache.ElementCache, overlay *workingcopy.Overlay, secondary Secondary) *Engine {
	return &Engine{reg: reg, cache: c, overlay: overlay, secondary: secondary}
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithOwner makes the lookup see the owner's working copies in addition to
// the primary ones.
func WithOwner(owner string) Option {
	return func(l *Lookup) { l.owner = owner }
}

// WithoutSecondary disables the secondary-declaration fallback.
func WithoutSecondary() Option {
	return func(l *Lookup) { l.noSecondary = true }
}

// Lookup answers name queries for one project.
type Lookup struct {
	e           *Engine
	project     string
	owner       string
	noSecondary bool

	mu    sync.Mutex
	gen   uint64
	roots []*roots.Root
}

// For returns a lookup over a project's classpath.
func (e *Engine) For(project string, opts ...Option) (*Lookup, error) {
	if _, ok := e.reg.Project(project); !ok {
		return nil, errors.NewOutOfScope("lookup", project)
	}
	l := &Lookup{e: e, project: project, owner: workingcopy.PrimaryOwner}
	for _, opt := range opts {
		opt(l)
	}
	l.classpath()
	return l, nil
}

// Project returns the project the lookup searches.
func (l *Lookup) Project() string { return l.project }

// classpath returns the project's roots, recomputed after every registry
// rebuild.
func (l *Lookup) classpath() []*roots.Root {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen := l.e.reg.Generation(); l.roots == nil || gen != l.gen {
		l.roots = l.e.reg.Roots(l.project)
		l.gen = gen
	}
	return l.roots
}

// contributing returns the roots that contain package pkg, in classpath order.
func (l *Lookup) contributing(ctx context.Context, pkg string) []*roots.Root {
	var out []*roots.Root
	for _, root := range l.classpath() {
		if root.Entry == element.EntryOutput {
			continue
		}
		info, err := l.e.cache.Open(ctx, root.Handle())
		if err != nil {
			continue
		}
		if info.HasChild(root.Handle().Child(element.KindPackage, pkg)) {
			out = append(out, root)
		}
	}
	return out
}

// open returns the Info of h from the answer's working copy or the cache.
func (l *Lookup) open(ctx context.Context, h element.Handle, wc *workingcopy.WorkingCopy) (*element.Info, bool) {
	if wc != nil {
		if h == wc.Unit {
			return &element.Info{Handle: h, Children: wc.Children, StructureKnown: wc.Known}, true
		}
		return wc.Info(h)
	}
	info, err := l.e.cache.Open(ctx, h)
	if err != nil {
		return nil, false
	}
	return info, true
}

// best keeps the preferred answer: unrestricted beats restricted, lower
// severity beats higher, and the first found wins ties.
type best struct {
	ans Answer
	ok  bool
}

// offer records a candidate and reports whether the search can stop.
func (b *best) offer(a Answer) bool {
	if a.Restriction == nil {
		b.ans, b.ok = a, true
		return true
	}
	if !b.ok || a.Restriction.Severity() < b.ans.Restriction.Severity() {
		b.ans, b.ok = a, true
	}
	return false
}
