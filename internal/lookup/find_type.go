package lookup

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/workingcopy"
)

// FindType resolves a possibly dotted type name ("Outer.Inner") in package
// pkg. Working copies are searched before persisted units, roots in
// classpath order, and when checkRestrictions is set the least restricted
// answer wins. Cancellation returns the best answer found so far.
func (l *Lookup) FindType(ctx context.Context, name, pkg string, accept AcceptFlags, checkRestrictions bool) (Answer, bool) {
	return l.findType(ctx, name, pkg, accept, checkRestrictions, false)
}

func (l *Lookup) findType(ctx context.Context, name, pkg string, accept AcceptFlags, checkRestrictions, synthetic bool) (Answer, bool) {
	path := strings.Split(name, ".")
	for _, seg := range path {
		if seg == "" {
			return Answer{}, false
		}
		if !synthetic && isSynthetic(seg) {
			return Answer{}, false
		}
	}
	// A lower-case simple name that is also a subpackage names the package.
	if len(path) == 1 && startsLower(name) {
		if _, ok := l.FindPackage(ctx, joinName(pkg, name)); ok {
			return Answer{}, false
		}
	}

	var b best
	candidates := l.contributing(ctx, pkg)

	for _, root := range candidates {
		if ctx.Err() != nil {
			return b.ans, b.ok
		}
		if root.Entry != element.EntrySource {
			continue
		}
		pkgH := root.Handle().Child(element.KindPackage, pkg)
		top, wc, ok := l.e.overlay.FindType(pkgH, path[0], l.owner)
		if !ok {
			continue
		}
		if a, ok := l.resolve(ctx, root, pkg, top, path[1:], path, wc, accept, checkRestrictions); ok {
			a.FromWorkingCopy = true
			debug.LogLookup("%s: %s.%s from working copy %s\n", l.project, pkg, name, wc.Unit.Name())
			return a, true
		}
	}

	for _, root := range candidates {
		if ctx.Err() != nil {
			debug.LogLookup("%s: %s.%s cancelled\n", l.project, pkg, name)
			return b.ans, b.ok
		}
		var found bool
		switch root.Entry {
		case element.EntrySource:
			found = l.searchUnits(ctx, root, pkg, path, accept, checkRestrictions, &b)
		case element.EntryLibrary:
			found = l.searchArtifact(ctx, root, pkg, path, accept, checkRestrictions, &b)
		}
		if found {
			return b.ans, true
		}
	}
	if b.ok || l.noSecondary || l.e.secondary == nil || ctx.Err() != nil {
		return b.ans, b.ok
	}
	l.searchSecondary(ctx, pkg, path, accept, checkRestrictions, &b)
	return b.ans, b.ok
}

// searchUnits searches the persisted units of a source root. It reports
// whether an unrestricted answer was found.
func (l *Lookup) searchUnits(ctx context.Context, root *roots.Root, pkg string, path []string, accept AcceptFlags, check bool, b *best) bool {
	conv := l.e.reg.Conventions()
	pkgH := root.Handle().Child(element.KindPackage, pkg)
	pkgInfo, err := l.e.cache.Open(ctx, pkgH)
	if err != nil {
		return false
	}
	try := func(unit element.Handle) bool {
		if l.e.overlay.Shadows(unit, l.owner) {
			return false
		}
		top := unit.Child(element.KindType, path[0])
		a, ok := l.resolve(ctx, root, pkg, top, path[1:], path, nil, accept, check)
		return ok && b.offer(a)
	}
	// Convention-named units first, then languages without the convention.
	for _, c := range conv.Sources {
		if !c.NamedByType {
			continue
		}
		unit := pkgH.Child(element.KindUnit, conv.UnitName(c, path[0]))
		if pkgInfo.HasChild(unit) && try(unit) {
			return true
		}
	}
	for _, unit := range pkgInfo.Children {
		if unit.Kind() != element.KindUnit {
			continue
		}
		if c, ok := conv.SourceFor(unit.Name()); !ok || c.NamedByType {
			continue
		}
		if try(unit) {
			return true
		}
	}
	return false
}

// searchArtifact opens the artifact named after the type path in a library root.
func (l *Lookup) searchArtifact(ctx context.Context, root *roots.Root, pkg string, path []string, accept AcceptFlags, check bool, b *best) bool {
	conv := l.e.reg.Conventions()
	pkgH := root.Handle().Child(element.KindPackage, pkg)
	// The longest prefix of the path with an artifact of its own wins, so
	// "Outer.Inner" finds "Outer$Inner.class" before "Outer.class".
	for n := len(path); n >= 1; n-- {
		art := pkgH.Child(element.KindArtifact, strings.Join(path[:n], conv.NestedSep)+conv.ArtifactExt)
		info, err := l.e.cache.Open(ctx, art)
		if err != nil || len(info.Children) == 0 {
			continue
		}
		a, ok := l.resolve(ctx, root, pkg, info.Children[0], path[n:], path, nil, accept, check)
		if !ok {
			continue
		}
		return b.offer(a)
	}
	return false
}

// searchSecondary consults the secondary-declaration index for top-level
// types declared in units not named after them.
func (l *Lookup) searchSecondary(ctx context.Context, pkg string, path []string, accept AcceptFlags, check bool, b *best) {
	byRoot := make(map[element.Handle]*roots.Root)
	for _, root := range l.classpath() {
		byRoot[root.Handle()] = root
	}
	for _, loc := range l.e.secondary.LookupByName(path[0]) {
		if !loc.TopLevel || loc.Project() != l.project || loc.Package().Name() != pkg {
			continue
		}
		rh, _ := loc.Element.Ancestor(element.KindRoot)
		root, ok := byRoot[rh]
		if !ok {
			continue
		}
		if unit, ok := element.Unit(loc.Element); ok && l.e.overlay.Shadows(unit, l.owner) {
			continue
		}
		if a, ok := l.resolve(ctx, root, pkg, loc.Element, path[1:], path, nil, accept, check); ok {
			debug.LogLookup("%s: %s found via secondary index at %s\n", l.project, loc.Qualified, loc.Path)
			if b.offer(a) {
				return
			}
		}
	}
}

// resolve walks the member names below top and builds the answer for the
// full type path. Elements that cannot be opened are skipped, not reported.
func (l *Lookup) resolve(ctx context.Context, root *roots.Root, pkg string, top element.Handle, members, path []string, wc *workingcopy.WorkingCopy, accept AcceptFlags, check bool) (Answer, bool) {
	cur := top
	info, ok := l.open(ctx, cur, wc)
	if !ok {
		return Answer{}, false
	}
	for _, seg := range members {
		next := cur.Child(element.KindType, seg)
		if !info.HasChild(next) {
			return Answer{}, false
		}
		if info, ok = l.open(ctx, next, wc); !ok {
			return Answer{}, false
		}
		cur = next
	}
	body, ok := info.Body.(element.TypeBody)
	if !ok || !accept.Accepts(body.TypeKind) {
		return Answer{}, false
	}
	a := Answer{Element: cur, Root: root, Qualified: joinName(pkg, strings.Join(path, ".")), wc: wc}
	if check {
		a.Restriction = root.Restriction(restrictionPath(pkg, path, l.e.reg.Conventions()))
	}
	return a, true
}

// restrictionPath is the slash-separated path access rules match against,
// e.g. "com/acme/Outer$Inner".
func restrictionPath(pkg string, path []string, conv roots.Conventions) string {
	name := strings.Join(path, conv.NestedSep)
	if pkg == "" {
		return name
	}
	return strings.ReplaceAll(pkg, ".", "/") + "/" + name
}

// isSynthetic reports whether a type name segment names a compiler-generated
// type such as an anonymous class.
func isSynthetic(seg string) bool {
	r, _ := utf8.DecodeRuneInString(seg)
	return unicode.IsDigit(r)
}

func startsLower(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLower(r)
}

func joinName(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}
