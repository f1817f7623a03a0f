// Package roots maps file-system paths onto the configured source, library and
// output roots of each project and classifies paths into element kinds.
package roots

import (
	"sort"
	"strings"
	"sync"

	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

// RootConfig is one classpath entry as supplied by the configuration store.
type RootConfig struct {
	Path    string
	Entry   element.EntryKind
	Include []string
	Exclude []string
	Access  []AccessRule
}

// ProjectConfig is the resolved configuration of one project.
type ProjectConfig struct {
	Name     string
	Location string
	Roots    []RootConfig
}

// Root is a resolved root owned by a project.
type Root struct {
	Path        string
	Project     string
	Inclusion   []string
	Exclusion   []string
	Entry       element.EntryKind
	AccessRules []AccessRule
	// Order is the root's position in its project's classpath.
	Order int
}

// Handle returns the element handle of the root.
func (r *Root) Handle() element.Handle {
	return element.ForProject(r.Project).Child(element.KindRoot, r.Path)
}

// Contains reports whether p is the root path or lies beneath it.
func (r *Root) Contains(p string) bool {
	return within(p, r.Path)
}

func (r *Root) equal(o *Root) bool {
	return r.Path == o.Path && r.Entry == o.Entry &&
		equalStrings(r.Inclusion, o.Inclusion) && equalStrings(r.Exclusion, o.Exclusion) &&
		equalRules(r.AccessRules, o.AccessRules)
}

// Project is a resolved project and its classpath.
type Project struct {
	Name     string
	Location string
	Roots    []*Root
}

// Handle returns the element handle of the project.
func (p *Project) Handle() element.Handle {
	return element.ForProject(p.Name)
}

// Diff describes what a Rebuild changed.
type Diff struct {
	ProjectsAdded   []string
	ProjectsRemoved []string
	RootsAdded      []*Root
	RootsRemoved    []*Root
	// RootsChanged holds roots whose patterns or access rules changed.
	RootsChanged []*Root
	// Reordered lists projects whose surviving roots changed classpath order.
	Reordered []string
}

// Empty reports whether the rebuild changed nothing.
func (d Diff) Empty() bool {
	return len(d.ProjectsAdded) == 0 && len(d.ProjectsRemoved) == 0 &&
		len(d.RootsAdded) == 0 && len(d.RootsRemoved) == 0 &&
		len(d.RootsChanged) == 0 && len(d.Reordered) == 0
}

// Registry resolves paths to roots. It is rebuilt wholesale whenever project
// configuration changes; readers always see one consistent snapshot.
type Registry struct {
	mu         sync.RWMutex
	projects   []*Project
	byName     map[string]*Project
	byLength   []*Root // all roots, longest path first
	conv       Conventions
	generation uint64
}

// New creates an empty registry using the given naming conventions.
func New(conv Conventions) *Registry {
	return &Registry{
		byName: make(map[string]*Project),
		conv:   conv,
	}
}

// Conventions returns the naming conventions used for classification.
func (r *Registry) Conventions() Conventions {
	return r.conv
}

// Generation increases on every Rebuild.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Rebuild replaces the registry contents and reports the differences.
func (r *Registry) Rebuild(configs []ProjectConfig) Diff {
	projects := make([]*Project, 0, len(configs))
	byName := make(map[string]*Project, len(configs))
	var all []*Root

	for _, pc := range configs {
		if _, dup := byName[pc.Name]; dup {
			debug.LogRoots("duplicate project %q ignored\n", pc.Name)
			continue
		}
		p := &Project{Name: pc.Name, Location: workspace.Clean(pc.Location)}
		seen := make(map[string]bool, len(pc.Roots))
		for _, rc := range pc.Roots {
			path := workspace.Clean(rc.Path)
			if seen[path] {
				continue
			}
			seen[path] = true
			root := &Root{
				Path:        path,
				Project:     pc.Name,
				Inclusion:   append([]string(nil), rc.Include...),
				Exclusion:   append([]string(nil), rc.Exclude...),
				Entry:       rc.Entry,
				AccessRules: append([]AccessRule(nil), rc.Access...),
				Order:       len(p.Roots),
			}
			p.Roots = append(p.Roots, root)
			all = append(all, root)
		}
		projects = append(projects, p)
		byName[p.Name] = p
	}

	sort.SliceStable(all, func(i, j int) bool {
		return len(all[i].Path) > len(all[j].Path)
	})

	r.mu.Lock()
	diff := diffProjects(r.byName, r.projects, byName, projects)
	r.projects = projects
	r.byName = byName
	r.byLength = all
	r.generation++
	r.mu.Unlock()

	debug.LogRoots("rebuilt registry: %d projects, %d roots\n", len(projects), len(all))
	return diff
}

func diffProjects(oldByName map[string]*Project, oldList []*Project, newByName map[string]*Project, newList []*Project) Diff {
	var d Diff
	for _, op := range oldList {
		np, ok := newByName[op.Name]
		if !ok {
			d.ProjectsRemoved = append(d.ProjectsRemoved, op.Name)
			d.RootsRemoved = append(d.RootsRemoved, op.Roots...)
			continue
		}
		newRoots := make(map[string]*Root, len(np.Roots))
		for _, nr := range np.Roots {
			newRoots[nr.Path] = nr
		}
		var survivingOld []string
		for _, or := range op.Roots {
			nr, ok := newRoots[or.Path]
			if !ok {
				d.RootsRemoved = append(d.RootsRemoved, or)
				continue
			}
			survivingOld = append(survivingOld, or.Path)
			if !or.equal(nr) {
				d.RootsChanged = append(d.RootsChanged, nr)
			}
		}
		oldRoots := make(map[string]bool, len(op.Roots))
		for _, or := range op.Roots {
			oldRoots[or.Path] = true
		}
		var survivingNew []string
		for _, nr := range np.Roots {
			if !oldRoots[nr.Path] {
				d.RootsAdded = append(d.RootsAdded, nr)
				continue
			}
			survivingNew = append(survivingNew, nr.Path)
		}
		if !equalStrings(survivingOld, survivingNew) {
			d.Reordered = append(d.Reordered, np.Name)
		}
	}
	for _, np := range newList {
		if _, ok := oldByName[np.Name]; !ok {
			d.ProjectsAdded = append(d.ProjectsAdded, np.Name)
			d.RootsAdded = append(d.RootsAdded, np.Roots...)
		}
	}
	return d
}

// Projects returns project names in configuration order.
func (r *Registry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.projects))
	for i, p := range r.projects {
		names[i] = p.Name
	}
	return names
}

// Project returns a project by name.
func (r *Registry) Project(name string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Roots returns a project's roots in classpath order.
func (r *Registry) Roots(project string) []*Root {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[project]
	if !ok {
		return nil
	}
	return append([]*Root(nil), p.Roots...)
}

// RootOf returns the root behind a root handle, or the root enclosing any
// package, unit or declaration handle.
func (r *Registry) RootOf(h element.Handle) (*Root, bool) {
	rh, ok := h.Ancestor(element.KindRoot)
	if !ok {
		return nil, false
	}
	ph, ok := rh.Parent()
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[ph.Name()]
	if !ok {
		return nil, false
	}
	for _, root := range p.Roots {
		if root.Path == rh.Name() {
			return root, true
		}
	}
	return nil, false
}

// Resolve returns the most specific root containing p. Source roots that lie
// outside their owning project's location are skipped. When several projects
// share the same root path, the project whose location contains it wins,
// then configuration order.
func (r *Registry) Resolve(p string) (*Root, bool) {
	p = workspace.Clean(p)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Root
	for _, root := range r.byLength {
		if best != nil && len(root.Path) < len(best.Path) {
			break
		}
		if !within(p, root.Path) || !r.ownedLocked(root) {
			continue
		}
		if best == nil {
			best = root
			continue
		}
		// Same path length: equal path shared by several projects
		if !r.insideProjectLocked(best) && r.insideProjectLocked(root) {
			best = root
		}
	}
	return best, best != nil
}

// ResolveIn resolves p against one project's roots only.
func (r *Registry) ResolveIn(project, p string) (*Root, bool) {
	p = workspace.Clean(p)
	r.mu.RLock()
	defer r.mu.RUnlock()
	proj, ok := r.byName[project]
	if !ok {
		return nil, false
	}
	var best *Root
	for _, root := range proj.Roots {
		if !within(p, root.Path) || !r.ownedLocked(root) {
			continue
		}
		if best == nil || len(root.Path) > len(best.Path) {
			best = root
		}
	}
	return best, best != nil
}

// Referencing returns every root, across projects, whose path equals the
// resolved root of p. A shared library contributes to each referencing project.
func (r *Registry) Referencing(p string) []*Root {
	primary, ok := r.Resolve(p)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*Root{primary}
	for _, proj := range r.projects {
		for _, root := range proj.Roots {
			if root != primary && root.Path == primary.Path && r.ownedLocked(root) {
				out = append(out, root)
			}
		}
	}
	return out
}

// ProjectAt returns the project whose location contains p, preferring the
// deepest location.
func (r *Registry) ProjectAt(p string) (*Project, bool) {
	p = workspace.Clean(p)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Project
	for _, proj := range r.projects {
		if proj.Location == "" || !within(p, proj.Location) {
			continue
		}
		if best == nil || len(proj.Location) > len(best.Location) {
			best = proj
		}
	}
	return best, best != nil
}

// ownedLocked reports whether a root may resolve paths: source roots must sit
// inside their project's location when one is configured.
func (r *Registry) ownedLocked(root *Root) bool {
	if root.Entry != element.EntrySource {
		return true
	}
	return r.insideProjectLocked(root)
}

func (r *Registry) insideProjectLocked(root *Root) bool {
	proj, ok := r.byName[root.Project]
	if !ok {
		return false
	}
	if proj.Location == "" || proj.Location == "." {
		return true
	}
	return within(root.Path, proj.Location)
}

func within(p, dir string) bool {
	if p == dir {
		return true
	}
	if dir == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, dir) && len(p) > len(dir) && p[len(dir)] == '/'
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalRules(a, b []AccessRule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
