package model

import (
	"context"
	"fmt"

	"github.com/standardbeagle/srcmodel/internal/delta"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/workingcopy"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

func structureOf(wc *workingcopy.WorkingCopy) delta.Structure {
	return delta.Structure{Children: wc.Children, Infos: wc.Infos}
}

// BecomeWorkingCopy makes unit a working copy for owner. content replaces
// the persisted text when non-nil. A primary working copy pins the unit in
// the cache and, when its buffer differs from what the cache holds, the
// open unit is rebuilt from the buffer and the difference is fired.
func (m *Model) BecomeWorkingCopy(ctx context.Context, unit element.Handle, owner string, content []byte) (*workingcopy.WorkingCopy, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	_, existed := m.overlay.Get(unit, owner)
	wc, err := m.overlay.Become(ctx, unit, owner, content)
	if err != nil {
		return nil, err
	}
	if existed || owner != workingcopy.PrimaryOwner {
		return wc, nil
	}

	m.cache.Pin(unit)
	d := &delta.Delta{Element: unit, Kind: delta.Changed, Flags: delta.FlagWorkingCopy}
	if info, open := m.cache.Peek(unit); open && info.Fingerprint != wc.Fingerprint {
		before := delta.CachedStructure(m.cache, unit)
		if _, _, err := m.cache.Refresh(ctx, unit); err != nil {
			return wc, err
		}
		d = delta.DiffStructure(unit, before, delta.CachedStructure(m.cache, unit))
		d.Flags |= delta.FlagWorkingCopy
	} else if !open {
		// A new unit appears in its package listing.
		if err := m.refreshParent(ctx, unit); err != nil {
			return wc, err
		}
	}
	m.proc.Report(d)
	_, report, err := m.proc.Flush(ctx)
	if err != nil {
		return wc, err
	}
	return wc, report.Err()
}

// Reconcile replaces the buffer of a working copy and rebuilds its
// structure. It returns the fine-grained delta between the previous and
// the new structure, or nil when the buffer did not change. Deltas of
// primary working copies are fired; the cache follows the new buffer.
func (m *Model) Reconcile(ctx context.Context, unit element.Handle, owner string, content []byte) (*delta.Delta, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	prev, next, err := m.overlay.Update(ctx, unit, owner, content)
	if err != nil {
		return nil, err
	}
	if prev.Fingerprint == next.Fingerprint {
		return nil, nil
	}
	d := delta.DiffStructure(unit, structureOf(prev), structureOf(next))
	d.Flags |= delta.FlagWorkingCopy
	if owner != workingcopy.PrimaryOwner {
		return d, nil
	}

	if _, _, err := m.cache.Refresh(ctx, unit); err != nil {
		return d, err
	}
	m.proc.Report(d)
	_, report, err := m.proc.Flush(ctx)
	if err != nil {
		return d, err
	}
	return d, report.Err()
}

// DiscardWorkingCopy releases one use of owner's working copy of unit.
// When the last use of a primary copy goes, the unit is unpinned and the
// cache falls back to the persisted file; a unit that was never saved
// disappears.
func (m *Model) DiscardWorkingCopy(ctx context.Context, unit element.Handle, owner string) error {
	if err := m.check(); err != nil {
		return err
	}
	wc, removed := m.overlay.Discard(unit, owner)
	if !removed || owner != workingcopy.PrimaryOwner {
		return nil
	}
	m.cache.Unpin(unit)

	var d *delta.Delta
	p, _ := element.PathOf(unit)
	switch {
	case !workspace.Exists(m.ws, p):
		m.cache.Close(unit)
		if err := m.refreshParent(ctx, unit); err != nil {
			return err
		}
		d = &delta.Delta{Element: unit, Kind: delta.Removed, Flags: delta.FlagWorkingCopy}
	case m.cache.IsOpen(unit):
		if _, _, err := m.cache.Refresh(ctx, unit); err != nil {
			return err
		}
		d = delta.DiffStructure(unit, structureOf(wc), delta.CachedStructure(m.cache, unit))
		d.Flags |= delta.FlagWorkingCopy
	default:
		d = &delta.Delta{Element: unit, Kind: delta.Changed, Flags: delta.FlagWorkingCopy}
	}
	m.proc.Report(d)
	_, report, err := m.proc.Flush(ctx)
	if err != nil {
		return err
	}
	return report.Err()
}

// Commit writes owner's working copy of unit to its file and processes the
// write as a change.
func (m *Model) Commit(ctx context.Context, unit element.Handle, owner string) (*delta.Delta, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	p, ok := element.PathOf(unit)
	if !ok {
		return nil, errors.NewNotPresent("commit", unit.String(), nil)
	}
	existed := workspace.Exists(m.ws, p)
	if _, err := m.overlay.Commit(ctx, unit, owner); err != nil {
		return nil, err
	}
	kind := delta.ChangeChanged
	if !existed {
		kind = delta.ChangeAdded
	}
	tree, report, err := m.proc.OnChange(ctx, delta.Batch{Changes: []delta.RawChange{{Path: p, Kind: kind}}})
	if err != nil {
		return tree, fmt.Errorf("commit %s: %w", unit, err)
	}
	return tree, report.Err()
}

func (m *Model) refreshParent(ctx context.Context, h element.Handle) error {
	parent, ok := h.Parent()
	if !ok {
		return nil
	}
	_, _, err := m.cache.Refresh(ctx, parent)
	return err
}
