package roots

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

// Classification is the outcome of classifying one path.
type Classification struct {
	// Kind is KindRoot, KindPackage, KindUnit or KindArtifact for program
	// elements, KindInvalid otherwise.
	Kind element.Kind
	// Resource is set for paths inside a root that are not program elements.
	Resource bool
	Root     *Root
	Package  string
	Handle   element.Handle
	// Convention is set for units.
	Convention Convention
}

// InScope reports whether the path lies under some configured root.
func (c Classification) InScope() bool { return c.Root != nil }

// IsElement reports whether the path denotes a program element.
func (c Classification) IsElement() bool { return c.Kind != element.KindInvalid }

// IsSourceBearing reports whether the path is a package, unit or artifact.
func (c Classification) IsSourceBearing() bool {
	return c.Kind == element.KindPackage || c.Kind == element.KindUnit || c.Kind == element.KindArtifact
}

// Classify decides which element kind p denotes under the current
// configuration. The result depends only on p, isDir and the registry
// snapshot, so incremental and full-rescan callers always agree.
func (r *Registry) Classify(p string, isDir bool) Classification {
	p = workspace.Clean(p)
	root, ok := r.Resolve(p)
	if !ok {
		return Classification{}
	}
	return r.ClassifyIn(root, p, isDir)
}

// ClassifyIn classifies p relative to a known root.
func (r *Registry) ClassifyIn(root *Root, p string, isDir bool) Classification {
	p = workspace.Clean(p)
	resource := Classification{Root: root, Resource: true}

	if p == root.Path {
		return Classification{Kind: element.KindRoot, Root: root, Handle: root.Handle()}
	}
	if !root.Contains(p) {
		return Classification{}
	}
	if root.Entry == element.EntryOutput {
		return resource
	}

	rel := strings.TrimPrefix(p[len(root.Path):], "/")
	dirRel := rel
	name := ""
	if !isDir {
		dirRel = path.Dir(rel)
		if dirRel == "." {
			dirRel = ""
		}
		name = path.Base(rel)
	}

	pkg := strings.ReplaceAll(dirRel, "/", ".")
	if !IsPackageName(pkg) {
		return resource
	}
	if root.Excluded(rel, isDir) {
		return resource
	}

	pkgHandle := root.Handle().Child(element.KindPackage, pkg)
	if isDir {
		return Classification{Kind: element.KindPackage, Root: root, Package: pkg, Handle: pkgHandle}
	}

	switch root.Entry {
	case element.EntrySource:
		conv, ok := r.conv.SourceFor(name)
		if !ok || !IsIdentifier(strings.TrimSuffix(name, conv.Ext)) {
			return resource
		}
		return Classification{
			Kind:       element.KindUnit,
			Root:       root,
			Package:    pkg,
			Handle:     pkgHandle.Child(element.KindUnit, name),
			Convention: conv,
		}
	case element.EntryLibrary:
		if !r.conv.IsArtifact(name) || !IsIdentifier(strings.TrimSuffix(name, r.conv.ArtifactExt)) {
			return resource
		}
		return Classification{
			Kind:    element.KindArtifact,
			Root:    root,
			Package: pkg,
			Handle:  pkgHandle.Child(element.KindArtifact, name),
		}
	}
	return resource
}

// Excluded applies the root's inclusion and exclusion patterns to a path
// relative to the root. A path is excluded when it or one of its folders
// matches an exclusion pattern and no more specific inclusion pattern matches
// the path. When inclusion patterns are configured, files must also match one
// of them.
func (r *Root) Excluded(rel string, isDir bool) bool {
	if rel == "" {
		return false
	}
	excludedBy := -1
	for _, pat := range r.Exclusion {
		if s := specificity(pat); s > excludedBy && matchesOrBelow(pat, rel, isDir) {
			excludedBy = s
		}
	}
	bestInclusion := -1
	for _, pat := range r.Inclusion {
		if matchPattern(pat, rel, isDir) {
			if s := specificity(pat); s > bestInclusion {
				bestInclusion = s
			}
		}
	}
	if excludedBy >= 0 {
		return bestInclusion <= excludedBy
	}
	if !isDir && len(r.Inclusion) > 0 {
		return bestInclusion < 0
	}
	return false
}

// matchesOrBelow reports whether pattern matches rel or one of the folders
// above it.
func matchesOrBelow(pattern, rel string, isDir bool) bool {
	if matchPattern(pattern, rel, isDir) {
		return true
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if matchPattern(pattern, dir, true) {
			return true
		}
	}
	return false
}

// matchPattern matches a doublestar pattern. Directories also match a
// pattern naming their whole subtree, so "gen/**" excludes the folder "gen".
func matchPattern(pattern, rel string, isDir bool) bool {
	if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
		return true
	}
	if isDir && strings.HasSuffix(pattern, "/**") {
		ok, err := doublestar.Match(strings.TrimSuffix(pattern, "/**"), rel)
		return err == nil && ok
	}
	return false
}

// specificity is the length of the pattern's literal directory prefix.
func specificity(pattern string) int {
	base, _ := doublestar.SplitPattern(pattern)
	if base == "." {
		return 0
	}
	return len(base)
}
