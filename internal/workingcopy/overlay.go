// Package workingcopy keeps in-memory buffers of units being edited. A working
// copy shadows its persisted unit in structure building and name lookup until
// it is discarded.
package workingcopy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/srcmodel/internal/builder"
	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

// PrimaryOwner owns the primary working copies, the ones shared with the
// persisted model.
const PrimaryOwner = ""

// WorkingCopy is an immutable snapshot of one edited unit. Every update
// produces a new snapshot.
type WorkingCopy struct {
	Unit    element.Handle
	Owner   string
	Buffer  []byte
	Unsaved bool
	Version int
	// Infos holds the declarations built from Buffer, keyed by handle.
	Infos    map[element.Handle]*element.Info
	Children []element.Handle
	Known    bool
	Problems []element.Problem
	// Fingerprint is the xxhash of Buffer.
	Fingerprint uint64

	uses int
}

// Primary reports whether the copy belongs to the primary owner.
func (w *WorkingCopy) Primary() bool { return w.Owner == PrimaryOwner }

// Info returns the info of a declaration inside the working copy.
func (w *WorkingCopy) Info(h element.Handle) (*element.Info, bool) {
	info, ok := w.Infos[h]
	return info, ok
}

type key struct {
	unit  element.Handle
	owner string
}

// Overlay indexes working copies by unit and owner.
type Overlay struct {
	mu      sync.RWMutex
	copies  map[key]*WorkingCopy
	builder builder.StructureBuilder
	ws      workspace.Workspace
}

// New creates an overlay. ws supplies initial content and receives commits.
func New(b builder.StructureBuilder, ws workspace.Workspace) *Overlay {
	return &Overlay{
		copies:  make(map[key]*WorkingCopy),
		builder: b,
		ws:      ws,
	}
}

func (o *Overlay) build(ctx context.Context, unit element.Handle, owner string, content []byte, prev *WorkingCopy) (*WorkingCopy, error) {
	res, err := o.builder.Build(ctx, unit, content)
	if err != nil {
		if errors.IsCancelled(err) {
			return nil, err
		}
		res = &element.BuildResult{Problems: []element.Problem{{Message: err.Error(), Severity: element.SeverityError}}}
	}
	wc := &WorkingCopy{
		Unit:        unit,
		Owner:       owner,
		Buffer:      append([]byte(nil), content...),
		Infos:       make(map[element.Handle]*element.Info),
		Known:       res.Known,
		Problems:    res.Problems,
		Fingerprint: xxhash.Sum64(content),
		uses:        1,
	}
	if res.Known {
		wc.Children = element.Materialize(unit, res.Decls, time.Now(), wc.Infos)
	}
	if prev != nil {
		wc.Version = prev.Version + 1
		wc.uses = prev.uses
		wc.Unsaved = prev.Unsaved
	}
	return wc, nil
}

// Become turns unit into a working copy for owner. When content is nil the
// persisted file content is used, or an empty buffer for a new unit. Asking
// again for an existing copy returns it and counts one more use.
func (o *Overlay) Become(ctx context.Context, unit element.Handle, owner string, content []byte) (*WorkingCopy, error) {
	if unit.Kind() != element.KindUnit {
		return nil, errors.NewInvalidStructure("become working copy", unit.String(), fmt.Errorf("%s is not a unit", unit.Kind()))
	}
	k := key{unit, owner}
	o.mu.Lock()
	if wc, ok := o.copies[k]; ok {
		wc.uses++
		o.mu.Unlock()
		return wc, nil
	}
	o.mu.Unlock()

	if content == nil {
		if p, ok := element.PathOf(unit); ok && o.ws != nil {
			if data, err := o.ws.ReadFile(p); err == nil {
				content = data
			}
		}
	}
	wc, err := o.build(ctx, unit, owner, content, nil)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.copies[k]; ok {
		existing.uses++
		return existing, nil
	}
	o.copies[k] = wc
	debug.Log("WORKINGCOPY", "became working copy %s owner=%q\n", unit, owner)
	return wc, nil
}

// Update replaces the buffer of an existing working copy and rebuilds its
// structure. It returns the snapshots before and after.
func (o *Overlay) Update(ctx context.Context, unit element.Handle, owner string, content []byte) (prev, next *WorkingCopy, err error) {
	k := key{unit, owner}
	o.mu.RLock()
	prev, ok := o.copies[k]
	o.mu.RUnlock()
	if !ok {
		return nil, nil, errors.NewNotPresent("update working copy", unit.String(), nil)
	}
	next, err = o.build(ctx, unit, owner, content, prev)
	if err != nil {
		return prev, nil, err
	}
	next.Unsaved = true

	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.copies[k]
	if !ok {
		return prev, nil, errors.NewNotPresent("update working copy", unit.String(), nil)
	}
	next.uses = cur.uses
	o.copies[k] = next
	return cur, next, nil
}

// Discard releases one use of a working copy. The copy is removed when no
// uses remain; the removed snapshot is returned.
func (o *Overlay) Discard(unit element.Handle, owner string) (*WorkingCopy, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := key{unit, owner}
	wc, ok := o.copies[k]
	if !ok {
		return nil, false
	}
	wc.uses--
	if wc.uses > 0 {
		return nil, false
	}
	delete(o.copies, k)
	debug.Log("WORKINGCOPY", "discarded working copy %s owner=%q\n", unit, owner)
	return wc, true
}

// Get returns the working copy of unit for owner.
func (o *Overlay) Get(unit element.Handle, owner string) (*WorkingCopy, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	wc, ok := o.copies[key{unit, owner}]
	return wc, ok
}

// Buffer returns the primary working-copy content of unit.
func (o *Overlay) Buffer(unit element.Handle) ([]byte, bool) {
	wc, ok := o.Get(unit, PrimaryOwner)
	if !ok {
		return nil, false
	}
	return wc.Buffer, true
}

// PrimaryUnits lists the units of pkg with a primary working copy.
func (o *Overlay) PrimaryUnits(pkg element.Handle) []element.Handle {
	var out []element.Handle
	for _, wc := range o.Units(pkg, PrimaryOwner) {
		out = append(out, wc.Unit)
	}
	return out
}

// IsPinned reports whether unit has a working copy of any owner.
func (o *Overlay) IsPinned(unit element.Handle) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for k := range o.copies {
		if k.unit == unit {
			return true
		}
	}
	return false
}

// Units returns the working copies visible to owner in pkg, sorted by unit
// name. An owner's own copy shadows the primary copy of the same unit.
func (o *Overlay) Units(pkg element.Handle, owner string) []*WorkingCopy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	byUnit := make(map[element.Handle]*WorkingCopy)
	for k, wc := range o.copies {
		parent, ok := k.unit.Parent()
		if !ok || parent != pkg {
			continue
		}
		switch k.owner {
		case owner:
			byUnit[k.unit] = wc
		case PrimaryOwner:
			if _, shadowed := byUnit[k.unit]; !shadowed {
				byUnit[k.unit] = wc
			}
		}
	}
	out := make([]*WorkingCopy, 0, len(byUnit))
	for _, wc := range byUnit {
		out = append(out, wc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit.Name() < out[j].Unit.Name() })
	return out
}

// Types returns the top-level types of the working copies owner sees in pkg.
func (o *Overlay) Types(pkg element.Handle, owner string) []element.Handle {
	var out []element.Handle
	for _, wc := range o.Units(pkg, owner) {
		for _, h := range wc.Children {
			if h.Kind() == element.KindType {
				out = append(out, h)
			}
		}
	}
	return out
}

// FindType returns the top-level type named name declared by a working copy
// owner sees in pkg.
func (o *Overlay) FindType(pkg element.Handle, name, owner string) (element.Handle, *WorkingCopy, bool) {
	for _, wc := range o.Units(pkg, owner) {
		for _, h := range wc.Children {
			if h.Kind() == element.KindType && h.Name() == name {
				return h, wc, true
			}
		}
	}
	return element.Handle{}, nil, false
}

// Shadows reports whether owner sees a working copy of unit.
func (o *Overlay) Shadows(unit element.Handle, owner string) bool {
	if _, ok := o.Get(unit, owner); ok {
		return true
	}
	_, ok := o.Get(unit, PrimaryOwner)
	return ok
}

// Commit writes a working copy's buffer to its file.
func (o *Overlay) Commit(ctx context.Context, unit element.Handle, owner string) (*WorkingCopy, error) {
	if err := errors.CheckContext(ctx, "commit"); err != nil {
		return nil, err
	}
	w, ok := o.ws.(workspace.Writer)
	if !ok {
		return nil, fmt.Errorf("commit %s: workspace is read-only", unit)
	}
	p, ok := element.PathOf(unit)
	if !ok {
		return nil, errors.NewNotPresent("commit", unit.String(), nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	k := key{unit, owner}
	wc, ok := o.copies[k]
	if !ok {
		return nil, errors.NewNotPresent("commit", unit.String(), nil)
	}
	if err := w.WriteFile(p, wc.Buffer); err != nil {
		return nil, fmt.Errorf("commit %s: %w", unit, err)
	}
	saved := *wc
	saved.Unsaved = false
	o.copies[k] = &saved
	return &saved, nil
}

// Len returns the number of working copies.
func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.copies)
}
