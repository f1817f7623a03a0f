// Package structure builds element Infos from the workspace: containers from
// directory listings, units through language builders and artifacts from
// their names. It is the cache's Loader.
package structure

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/srcmodel/internal/builder"
	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

// Buffers supplies primary working-copy content, which wins over the
// workspace when a unit is built.
type Buffers interface {
	Buffer(unit element.Handle) ([]byte, bool)
	// PrimaryUnits lists units of pkg that have a primary working copy.
	PrimaryUnits(pkg element.Handle) []element.Handle
}

// Loader implements the cache's Loader contract.
type Loader struct {
	reg       *roots.Registry
	ws        workspace.Workspace
	builder   builder.StructureBuilder
	artifacts *builder.Artifact
	buffers   Buffers

	mu      sync.Mutex
	sources map[element.Handle][]byte // content open units were built from
}

// New creates a loader. buffers may be nil.
func New(reg *roots.Registry, ws workspace.Workspace, b builder.StructureBuilder, buffers Buffers) *Loader {
	return &Loader{
		reg:       reg,
		ws:        ws,
		builder:   b,
		artifacts: builder.NewArtifact(reg.Conventions()),
		buffers:   buffers,
		sources:   make(map[element.Handle][]byte),
	}
}

// Load builds the Info of h.
func (l *Loader) Load(ctx context.Context, h element.Handle) (map[element.Handle]*element.Info, error) {
	if err := errors.CheckContext(ctx, "load"); err != nil {
		return nil, err
	}
	switch h.Kind() {
	case element.KindModel:
		return l.loadModel(h), nil
	case element.KindProject:
		return l.loadProject(h)
	case element.KindRoot:
		return l.loadRoot(ctx, h)
	case element.KindPackage:
		return l.loadPackage(h)
	case element.KindUnit:
		return l.loadUnit(ctx, h)
	case element.KindArtifact:
		return l.loadArtifact(h)
	}
	return nil, errors.NewInvalidStructure("load", h.String(), fmt.Errorf("%s is not openable", h.Kind()))
}

// Release drops the source buffer of a closed unit.
func (l *Loader) Release(h element.Handle) {
	if h.Kind() != element.KindUnit {
		return
	}
	l.mu.Lock()
	delete(l.sources, h)
	l.mu.Unlock()
}

// Source returns the content an open unit was last built from.
func (l *Loader) Source(unit element.Handle) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.sources[unit]
	return src, ok
}

func single(info *element.Info) map[element.Handle]*element.Info {
	return map[element.Handle]*element.Info{info.Handle: info}
}

func (l *Loader) loadModel(h element.Handle) map[element.Handle]*element.Info {
	names := l.reg.Projects()
	kids := make([]element.Handle, len(names))
	for i, name := range names {
		kids[i] = element.ForProject(name)
	}
	return single(&element.Info{
		Handle:         h,
		Children:       kids,
		StructureKnown: true,
		Timestamp:      time.Now(),
		Body:           element.ModelBody{},
	})
}

func (l *Loader) loadProject(h element.Handle) (map[element.Handle]*element.Info, error) {
	p, ok := l.reg.Project(h.Name())
	if !ok {
		return nil, errors.NewNotPresent("load", h.String(), nil)
	}
	kids := make([]element.Handle, len(p.Roots))
	for i, r := range p.Roots {
		kids[i] = r.Handle()
	}
	return single(&element.Info{
		Handle:         h,
		Children:       kids,
		StructureKnown: true,
		Timestamp:      time.Now(),
		Body:           element.ProjectBody{Location: p.Location},
	}), nil
}

func (l *Loader) loadRoot(ctx context.Context, h element.Handle) (map[element.Handle]*element.Info, error) {
	root, ok := l.reg.RootOf(h)
	if !ok {
		return nil, errors.NewNotPresent("load", h.String(), nil)
	}
	st, err := l.ws.Stat(root.Path)
	if err != nil || !st.IsDir {
		return nil, errors.NewNotPresent("load", h.String(), err)
	}

	var kids []element.Handle
	if root.Entry != element.EntryOutput {
		kids, err = l.scanPackages(ctx, root)
		if err != nil {
			return nil, err
		}
	}
	return single(&element.Info{
		Handle:         h,
		Children:       kids,
		StructureKnown: true,
		Timestamp:      st.ModTime,
		Body:           element.RootBody{Path: root.Path, Entry: root.Entry},
	}), nil
}

// scanPackages walks the root's directories and returns every folder that
// classifies as a package, the default package first. Nested roots are not
// entered; excluded folders are, since a deeper inclusion may apply.
func (l *Loader) scanPackages(ctx context.Context, root *roots.Root) ([]element.Handle, error) {
	kids := []element.Handle{root.Handle().Child(element.KindPackage, "")}
	var walk func(dir string) error
	walk = func(dir string) error {
		if err := errors.CheckContext(ctx, "scan"); err != nil {
			return err
		}
		entries, err := l.ws.ReadDir(dir)
		if err != nil {
			debug.LogRoots("skipping unreadable %s: %v\n", dir, err)
			return nil
		}
		for _, e := range entries {
			if !e.IsDir {
				continue
			}
			p := dir + "/" + e.Name
			if owner, ok := l.reg.Resolve(p); ok && owner.Path != root.Path {
				continue
			}
			c := l.reg.ClassifyIn(root, p, true)
			if c.Kind == element.KindPackage {
				kids = append(kids, c.Handle)
			} else if !roots.IsIdentifier(e.Name) {
				continue
			}
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root.Path); err != nil {
		return nil, err
	}
	return kids, nil
}

func (l *Loader) loadPackage(h element.Handle) (map[element.Handle]*element.Info, error) {
	root, ok := l.reg.RootOf(h)
	if !ok {
		return nil, errors.NewNotPresent("load", h.String(), nil)
	}
	dir := element.PackageDir(root.Path, h.Name())
	if h.Name() != "" {
		if c := l.reg.ClassifyIn(root, dir, true); c.Kind != element.KindPackage {
			return nil, errors.NewNotPresent("load", h.String(), nil)
		}
	}
	st, err := l.ws.Stat(dir)
	if err != nil || !st.IsDir {
		return nil, errors.NewNotPresent("load", h.String(), err)
	}
	entries, err := l.ws.ReadDir(dir)
	if err != nil {
		return nil, errors.NewNotPresent("load", h.String(), err)
	}

	var kids []element.Handle
	seen := make(map[element.Handle]bool)
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		c := l.reg.ClassifyIn(root, dir+"/"+e.Name, false)
		if c.Kind == element.KindUnit || c.Kind == element.KindArtifact {
			kids = append(kids, c.Handle)
			seen[c.Handle] = true
		}
	}
	if l.buffers != nil {
		for _, u := range l.buffers.PrimaryUnits(h) {
			if !seen[u] {
				kids = append(kids, u)
			}
		}
	}
	return single(&element.Info{
		Handle:         h,
		Children:       kids,
		StructureKnown: true,
		Timestamp:      st.ModTime,
		Body:           element.PackageBody{Dir: dir},
	}), nil
}

func (l *Loader) loadUnit(ctx context.Context, h element.Handle) (map[element.Handle]*element.Info, error) {
	p, ok := element.PathOf(h)
	if !ok {
		return nil, errors.NewNotPresent("load", h.String(), nil)
	}

	var (
		content     []byte
		ts          time.Time
		workingCopy bool
	)
	if l.buffers != nil {
		content, workingCopy = l.buffers.Buffer(h)
	}
	if workingCopy {
		ts = time.Now()
	} else {
		st, err := l.ws.Stat(p)
		if err != nil || st.IsDir {
			return nil, errors.NewNotPresent("load", h.String(), err)
		}
		content, err = l.ws.ReadFile(p)
		if err != nil {
			return nil, errors.NewNotPresent("load", h.String(), err)
		}
		ts = st.ModTime
	}

	res, err := l.builder.Build(ctx, h, content)
	if err != nil {
		if errors.IsCancelled(err) {
			return nil, err
		}
		debug.Warn("structure build of %s failed: %v\n", h, err)
		res = &element.BuildResult{Problems: []element.Problem{{Message: err.Error(), Severity: element.SeverityError}}}
	}

	out := make(map[element.Handle]*element.Info)
	info := &element.Info{
		Handle:         h,
		StructureKnown: res.Known,
		Timestamp:      ts,
		Fingerprint:    xxhash.Sum64(content),
	}
	body := element.UnitBody{
		Path:        p,
		Language:    res.Language,
		PackageName: res.PackageName,
		Imports:     res.Imports,
		Problems:    res.Problems,
		WorkingCopy: workingCopy,
	}
	if res.Known {
		info.Children = element.Materialize(h, res.Decls, ts, out)
		if pkg, ok := h.Parent(); ok && res.Language == "java" && res.PackageName != pkg.Name() {
			body.Problems = append(body.Problems, element.Problem{
				Message:  fmt.Sprintf("declared package %q does not match %q", res.PackageName, pkg.Name()),
				Severity: element.SeverityWarning,
			})
		}
	}
	info.Body = body
	out[h] = info

	l.mu.Lock()
	l.sources[h] = content
	l.mu.Unlock()
	return out, nil
}

func (l *Loader) loadArtifact(h element.Handle) (map[element.Handle]*element.Info, error) {
	p, ok := element.PathOf(h)
	if !ok {
		return nil, errors.NewNotPresent("load", h.String(), nil)
	}
	st, err := l.ws.Stat(p)
	if err != nil || st.IsDir {
		return nil, errors.NewNotPresent("load", h.String(), err)
	}
	res := l.artifacts.Build(path.Base(p))

	out := make(map[element.Handle]*element.Info)
	info := &element.Info{
		Handle:         h,
		StructureKnown: res.Known,
		Timestamp:      st.ModTime,
		Fingerprint:    xxhash.Sum64String(fmt.Sprintf("%s:%d:%d", p, st.Size, st.ModTime.UnixNano())),
		Body:           element.ArtifactBody{Path: p, Size: st.Size},
	}
	if res.Known {
		info.Children = element.Materialize(h, res.Decls, st.ModTime, out)
	}
	out[h] = info
	return out, nil
}
