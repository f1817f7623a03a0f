// Package index is the secondary-declaration index: a name -> location map
// over every declaration in the configured roots, kept current by the delta
// processor and used as a lookup fallback.
package index

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/srcmodel/internal/builder"
	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

// Sink receives index-update requests.
type Sink interface {
	IndexAdd(ctx context.Context, path string)
	IndexChange(ctx context.Context, path string)
	IndexRemove(ctx context.Context, path string)
}

// Location is one indexed declaration.
type Location struct {
	Path    string
	Element element.Handle
	// Qualified is the dotted, package-qualified name.
	Qualified string
	// TopLevel is set for types declared directly in their unit.
	TopLevel bool
}

// Package returns the package handle of the location.
func (l Location) Package() element.Handle {
	pkg, _ := l.Element.Ancestor(element.KindPackage)
	return pkg
}

// Project returns the owning project name.
func (l Location) Project() string {
	p, _ := l.Element.Ancestor(element.KindProject)
	return p.Name()
}

type fileEntry struct {
	hash      uint64
	locations []Location
}

// Index maps declaration names to locations.
type Index struct {
	reg       *roots.Registry
	ws        workspace.Workspace
	builder   builder.StructureBuilder
	artifacts *builder.Artifact

	mu     sync.RWMutex
	byName map[string][]Location
	byPath map[string]*fileEntry

	skipped int64
	indexed int64
}

// New creates an empty index.
func New(reg *roots.Registry, ws workspace.Workspace, b builder.StructureBuilder) *Index {
	return &Index{
		reg:       reg,
		ws:        ws,
		builder:   b,
		artifacts: builder.NewArtifact(reg.Conventions()),
		byName:    make(map[string][]Location),
		byPath:    make(map[string]*fileEntry),
	}
}

// IndexAdd indexes a new file, or every file below a new folder.
func (ix *Index) IndexAdd(ctx context.Context, p string) {
	p = workspace.Clean(p)
	if st, err := ix.ws.Stat(p); err == nil && st.IsDir {
		ix.indexTree(ctx, p)
		return
	}
	ix.indexFile(ctx, p)
}

// IndexChange re-indexes a changed file; unchanged content is skipped.
func (ix *Index) IndexChange(ctx context.Context, p string) {
	ix.indexFile(ctx, workspace.Clean(p))
}

// IndexRemove forgets a file or everything below a folder.
func (ix *Index) IndexRemove(ctx context.Context, p string) {
	p = workspace.Clean(p)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for fp := range ix.byPath {
		if fp == p || strings.HasPrefix(fp, p+"/") {
			ix.dropLocked(fp)
		}
	}
}

func (ix *Index) indexTree(ctx context.Context, dir string) {
	entries, err := ix.ws.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		p := dir + "/" + e.Name
		if e.IsDir {
			ix.indexTree(ctx, p)
			continue
		}
		ix.indexFile(ctx, p)
	}
}

func (ix *Index) indexFile(ctx context.Context, p string) {
	var targets []roots.Classification
	for _, root := range ix.reg.Referencing(p) {
		c := ix.reg.ClassifyIn(root, p, false)
		if c.Kind == element.KindUnit || c.Kind == element.KindArtifact {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		ix.mu.Lock()
		ix.dropLocked(p)
		ix.mu.Unlock()
		return
	}

	var (
		content []byte
		err     error
	)
	if targets[0].Kind == element.KindUnit {
		content, err = ix.ws.ReadFile(p)
	} else {
		var st workspace.Entry
		st, err = ix.ws.Stat(p)
		content = []byte(p + ":" + st.ModTime.String())
	}
	if err != nil {
		ix.mu.Lock()
		ix.dropLocked(p)
		ix.mu.Unlock()
		return
	}
	hash := xxhash.Sum64(content)

	ix.mu.RLock()
	prev, ok := ix.byPath[p]
	ix.mu.RUnlock()
	if ok && prev.hash == hash {
		atomic.AddInt64(&ix.skipped, 1)
		return
	}

	var locations []Location
	for _, c := range targets {
		var res *element.BuildResult
		if c.Kind == element.KindArtifact {
			res = ix.artifacts.Build(path.Base(p))
		} else {
			res, err = ix.builder.Build(ctx, c.Handle, content)
			if err != nil {
				debug.Log("INDEX", "skipping %s: %v\n", p, err)
				return
			}
		}
		if !res.Known {
			continue
		}
		infos := make(map[element.Handle]*element.Info)
		element.Materialize(c.Handle, res.Decls, time.Time{}, infos)
		for h := range infos {
			locations = append(locations, Location{
				Path:      p,
				Element:   h,
				Qualified: element.QualifiedName(h),
				TopLevel:  h.Kind() == element.KindType && isTopLevel(h),
			})
		}
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].Element.Key() < locations[j].Element.Key() })

	ix.mu.Lock()
	ix.dropLocked(p)
	ix.byPath[p] = &fileEntry{hash: hash, locations: locations}
	for _, loc := range locations {
		name := loc.Element.Name()
		ix.byName[name] = append(ix.byName[name], loc)
	}
	ix.mu.Unlock()
	atomic.AddInt64(&ix.indexed, 1)
}

func isTopLevel(h element.Handle) bool {
	parent, ok := h.Parent()
	return ok && (parent.Kind() == element.KindUnit || parent.Kind() == element.KindArtifact)
}

func (ix *Index) dropLocked(p string) {
	entry, ok := ix.byPath[p]
	if !ok {
		return
	}
	delete(ix.byPath, p)
	for _, loc := range entry.locations {
		name := loc.Element.Name()
		locs := ix.byName[name]
		kept := locs[:0]
		for _, l := range locs {
			if l.Path != p {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(ix.byName, name)
		} else {
			ix.byName[name] = kept
		}
	}
}

// LookupByName returns every location declaring name, ordered by handle.
func (ix *Index) LookupByName(name string) []Location {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	locs := append([]Location(nil), ix.byName[name]...)
	sort.Slice(locs, func(i, j int) bool { return locs[i].Element.Key() < locs[j].Element.Key() })
	return locs
}

// Names returns every indexed name starting with prefix, case-insensitively.
func (ix *Index) Names(prefix string) []string {
	prefix = strings.ToLower(prefix)
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []string
	for name := range ix.byName {
		if strings.HasPrefix(strings.ToLower(name), prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Rebuild re-indexes every root of every project, one goroutine per root.
func (ix *Index) Rebuild(ctx context.Context) error {
	seen := make(map[string]bool)
	var paths []string
	for _, project := range ix.reg.Projects() {
		for _, root := range ix.reg.Roots(project) {
			if root.Entry == element.EntryOutput || seen[root.Path] {
				continue
			}
			seen[root.Path] = true
			paths = append(paths, root.Path)
		}
	}

	ix.mu.Lock()
	ix.byName = make(map[string][]Location)
	ix.byPath = make(map[string]*fileEntry)
	ix.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			ix.indexTree(gctx, p)
			return errors.CheckContext(gctx, "index rebuild")
		})
	}
	return g.Wait()
}

// Stats holds index statistics
type Stats struct {
	Files   int
	Names   int
	Indexed int64
	Skipped int64
}

// Stats returns index statistics
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		Files:   len(ix.byPath),
		Names:   len(ix.byName),
		Indexed: atomic.LoadInt64(&ix.indexed),
		Skipped: atomic.LoadInt64(&ix.skipped),
	}
}
