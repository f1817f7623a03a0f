package delta

import (
	"context"
	"fmt"
	"path"
	"slices"

	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

// collector holds the state of one collecting phase.
type collector struct {
	ctx  context.Context
	p    *Processor
	tree *Delta

	refreshed   map[element.Handle]bool
	removedDirs []string
}

func newCollector(ctx context.Context, p *Processor) *collector {
	return &collector{ctx: ctx, p: p, tree: NewRoot(), refreshed: make(map[element.Handle]bool)}
}

// collect applies each change in order.
func (c *collector) collect(changes []RawChange) error {
	for _, ch := range changes {
		if err := errors.CheckContext(c.ctx, "process changes"); err != nil {
			return err
		}
		ch.Path = workspace.Clean(ch.Path)
		if c.subsumed(ch) {
			continue
		}
		c.change(ch)
	}
	return nil
}

// subsumed reports whether a removal lies below a container already removed
// in this cycle.
func (c *collector) subsumed(ch RawChange) bool {
	if ch.Kind != ChangeRemoved {
		return false
	}
	for _, dir := range c.removedDirs {
		if len(ch.Path) > len(dir) && ch.Path[:len(dir)] == dir && ch.Path[len(dir)] == '/' {
			return true
		}
	}
	return false
}

func (c *collector) change(ch RawChange) {
	if (ch.Opened || ch.Closed) && c.projectEvent(ch) {
		return
	}
	referencing := c.p.reg.Referencing(ch.Path)
	if len(referencing) == 0 {
		c.resource(ch, nil)
		return
	}
	for _, root := range referencing {
		cl := c.p.reg.ClassifyIn(root, ch.Path, ch.IsDir)
		if !cl.IsElement() {
			c.resource(ch, root)
			continue
		}
		switch ch.Kind {
		case ChangeAdded:
			c.added(ch, cl)
		case ChangeRemoved:
			c.removed(ch, cl)
		default:
			c.changed(ch, cl)
		}
	}
}

func (c *collector) added(ch RawChange, cl roots.Classification) {
	d := &Delta{Element: cl.Handle, Kind: Added}
	if ch.MovedFrom != "" {
		if from, ok := c.counterpart(ch.MovedFrom, ch.IsDir, cl.Root.Project); ok {
			d.Kind, d.Counterpart = MovedFrom, from
		}
	}
	c.p.cache.Close(cl.Handle)
	c.refreshParent(cl.Handle)
	c.tree.Insert(d)
	c.index(cl, ch.Path, ChangeAdded)
	debug.LogDelta("%s %s\n", d.Kind, cl.Handle)
}

func (c *collector) removed(ch RawChange, cl roots.Classification) {
	d := &Delta{Element: cl.Handle, Kind: Removed}
	if ch.MovedTo != "" {
		if to, ok := c.counterpart(ch.MovedTo, ch.IsDir, cl.Root.Project); ok {
			d.Kind, d.Counterpart = MovedTo, to
		}
	}
	c.p.cache.Close(cl.Handle)
	c.refreshParent(cl.Handle)
	if ch.IsDir {
		c.removedDirs = append(c.removedDirs, ch.Path)
	}
	c.tree.Insert(d)
	c.index(cl, ch.Path, ChangeRemoved)
	debug.LogDelta("%s %s\n", d.Kind, cl.Handle)
}

func (c *collector) changed(ch RawChange, cl roots.Classification) {
	h := cl.Handle
	switch h.Kind() {
	case element.KindUnit, element.KindArtifact:
		d := &Delta{Element: h, Kind: Changed, Flags: FlagContent}
		if c.addedInCycle(h) {
			// Added earlier in this cycle; the addition already covers the content.
			c.refresh(h)
			c.index(cl, ch.Path, ChangeChanged)
			return
		}
		if c.p.buffers != nil {
			if _, ok := c.p.buffers.Buffer(h); ok {
				d.Flags |= FlagPrimaryResource
			}
		}
		if _, open := c.p.cache.Peek(h); open {
			before := c.structure(h)
			_, updated, err := c.p.cache.Refresh(c.ctx, h)
			switch {
			case err != nil:
				debug.LogDelta("refresh %s: %v\n", h, err)
			case updated != nil:
				fine := DiffStructure(h, before, c.structure(h))
				d.Flags |= fine.Flags
				d.Children = fine.Children
			}
		}
		c.tree.Insert(d)
		c.index(cl, ch.Path, ChangeChanged)
	default:
		// A container changed in place: only a different listing matters.
		old, updated, err := c.p.cache.Refresh(c.ctx, h)
		if err != nil || old == nil || updated == nil || slices.Equal(old.Children, updated.Children) {
			return
		}
		c.refreshed[h] = true
		c.tree.Insert(&Delta{Element: h, Kind: Changed, Flags: FlagChildren})
	}
}

func (c *collector) addedInCycle(h element.Handle) bool {
	for _, d := range c.tree.FindAll(h) {
		if d.Kind.IsAddition() {
			return true
		}
	}
	return false
}

// counterpart classifies the other end of a move within the project. Only
// source-bearing elements pair up; anything else degenerates the move.
func (c *collector) counterpart(p string, isDir bool, project string) (element.Handle, bool) {
	p = workspace.Clean(p)
	var fallback element.Handle
	for _, root := range c.p.reg.Referencing(p) {
		cl := c.p.reg.ClassifyIn(root, p, isDir)
		if !cl.IsSourceBearing() {
			continue
		}
		if root.Project == project {
			return cl.Handle, true
		}
		if fallback.IsZero() {
			fallback = cl.Handle
		}
	}
	return fallback, !fallback.IsZero()
}

// resource attaches a non-element change to the nearest open structured
// ancestor, or to the enclosing project when the path is outside every root.
func (c *collector) resource(ch RawChange, root *roots.Root) {
	res := Resource{Path: ch.Path, Kind: Changed}
	switch ch.Kind {
	case ChangeAdded:
		res.Kind = Added
	case ChangeRemoved:
		res.Kind = Removed
	}
	anc, ok := c.container(ch.Path, root)
	if !ok {
		debug.LogDelta("ignoring change outside every project: %s\n", ch.Path)
		return
	}
	c.tree.Insert(&Delta{Element: anc, Kind: Changed, Flags: FlagResource, Resources: []Resource{res}})
}

func (c *collector) container(p string, root *roots.Root) (element.Handle, bool) {
	if root == nil {
		proj, ok := c.p.reg.ProjectAt(p)
		if !ok {
			return element.Handle{}, false
		}
		return proj.Handle(), true
	}
	for dir, prev := path.Dir(p), p; dir != prev && root.Contains(dir); dir, prev = path.Dir(dir), dir {
		cl := c.p.reg.ClassifyIn(root, dir, true)
		if cl.Kind != element.KindPackage && cl.Kind != element.KindRoot {
			continue
		}
		if _, open := c.p.cache.Peek(cl.Handle); open {
			return cl.Handle, true
		}
	}
	return root.Handle(), true
}

// projectEvent handles open and close notifications on a project location.
func (c *collector) projectEvent(ch RawChange) bool {
	for _, name := range c.p.reg.Projects() {
		proj, ok := c.p.reg.Project(name)
		if !ok || proj.Location != ch.Path {
			continue
		}
		d := &Delta{Element: proj.Handle(), Kind: Opened}
		if ch.Closed {
			d.Kind = Closed
			c.p.cache.Close(proj.Handle())
		} else {
			c.refreshParent(proj.Handle())
		}
		c.tree.Insert(d)
		return true
	}
	return false
}

// refreshParent rebuilds the open parent of h so its children list
// reflects the file tree.
func (c *collector) refreshParent(h element.Handle) {
	if parent, ok := h.Parent(); ok {
		c.refresh(parent)
	}
}

// refresh rebuilds h at most once per cycle, if it is open.
func (c *collector) refresh(h element.Handle) {
	if c.refreshed[h] {
		return
	}
	c.refreshed[h] = true
	if _, _, err := c.p.cache.Refresh(c.ctx, h); err != nil {
		debug.LogDelta("refresh %s: %v\n", h, err)
	}
}

// structure collects the open declaration tree of a unit.
func (c *collector) structure(unit element.Handle) Structure {
	return CachedStructure(c.p.cache, unit)
}

// index forwards a change to the index after the cache has been updated.
func (c *collector) index(cl roots.Classification, p string, kind ChangeKind) {
	if c.p.sink == nil {
		return
	}
	switch kind {
	case ChangeAdded:
		c.p.sink.IndexAdd(c.ctx, p)
	case ChangeRemoved:
		c.p.sink.IndexRemove(c.ctx, p)
	default:
		if cl.Kind == element.KindUnit || cl.Kind == element.KindArtifact {
			c.p.sink.IndexChange(c.ctx, p)
		}
	}
}

// reloadConfig rebuilds the registry and records classpath deltas.
func (c *collector) reloadConfig() error {
	if c.p.config == nil {
		return nil
	}
	configs, err := c.p.config.Projects(c.ctx)
	if err != nil {
		return fmt.Errorf("reload configuration: %w", err)
	}
	diff := c.p.reg.Rebuild(configs)
	if diff.Empty() {
		return nil
	}
	// Structure built under the old configuration may classify differently.
	c.refreshed = make(map[element.Handle]bool)

	whole := make(map[string]bool)
	for _, name := range diff.ProjectsAdded {
		whole[name] = true
		c.refreshParent(element.ForProject(name))
		c.tree.Insert(&Delta{Element: element.ForProject(name), Kind: Added, Flags: FlagClasspath})
	}
	for _, name := range diff.ProjectsRemoved {
		whole[name] = true
		c.p.cache.Close(element.ForProject(name))
		c.refreshParent(element.ForProject(name))
		c.tree.Insert(&Delta{Element: element.ForProject(name), Kind: Removed, Flags: FlagClasspath})
	}
	for _, root := range diff.RootsAdded {
		c.refreshParent(root.Handle())
		c.reindex(root.Path)
		if !whole[root.Project] {
			c.tree.Insert(&Delta{Element: root.Handle(), Kind: Added, Flags: FlagAddedToClasspath})
		}
	}
	for _, root := range diff.RootsRemoved {
		c.p.cache.Close(root.Handle())
		c.refreshParent(root.Handle())
		c.reindex(root.Path)
		if !whole[root.Project] {
			c.tree.Insert(&Delta{Element: root.Handle(), Kind: Removed, Flags: FlagRemovedFromClasspath})
		}
	}
	for _, root := range diff.RootsChanged {
		c.p.cache.Close(root.Handle())
		c.refreshParent(root.Handle())
		c.reindex(root.Path)
		c.tree.Insert(&Delta{Element: root.Handle(), Kind: Changed, Flags: FlagClasspath})
	}
	for _, name := range diff.Reordered {
		c.refresh(element.ForProject(name))
		c.tree.Insert(&Delta{Element: element.ForProject(name), Kind: Changed, Flags: FlagClasspath | FlagReordered})
	}
	debug.LogDelta("configuration reloaded: +%d/-%d projects, +%d/-%d/~%d roots\n",
		len(diff.ProjectsAdded), len(diff.ProjectsRemoved), len(diff.RootsAdded), len(diff.RootsRemoved), len(diff.RootsChanged))
	return nil
}

// reindex drops a root path from the index and indexes it again under
// the current configuration.
func (c *collector) reindex(p string) {
	if c.p.sink == nil {
		return
	}
	c.p.sink.IndexRemove(c.ctx, p)
	if _, ok := c.p.reg.Resolve(p); ok {
		c.p.sink.IndexAdd(c.ctx, p)
	}
}
