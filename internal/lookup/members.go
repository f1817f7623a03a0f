package lookup

import (
	"context"
	"strings"

	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/roots"
)

// maxSuperDepth bounds supertype walks so cyclic hierarchies terminate.
const maxSuperDepth = 16

// FindPackage returns the package in the first root on the classpath that
// contains it.
func (l *Lookup) FindPackage(ctx context.Context, name string) (Answer, bool) {
	if !roots.IsPackageName(name) {
		return Answer{}, false
	}
	for _, root := range l.classpath() {
		if root.Entry == element.EntryOutput {
			continue
		}
		info, err := l.e.cache.Open(ctx, root.Handle())
		if err != nil {
			continue
		}
		pkg := root.Handle().Child(element.KindPackage, name)
		if info.HasChild(pkg) {
			return Answer{Element: pkg, Root: root, Qualified: name}, true
		}
	}
	return Answer{}, false
}

// FindField finds a field declared by a type or inherited from one of its
// supertypes.
func (l *Lookup) FindField(ctx context.Context, typeName, pkg, field string) (Answer, bool) {
	t, ok := l.FindType(ctx, typeName, pkg, AcceptAll, false)
	if !ok {
		return Answer{}, false
	}
	return l.member(ctx, t, pkg, func(h element.Handle, _ *element.Info) bool {
		return h.Kind() == element.KindField && h.Name() == field
	}, field)
}

// FindFunction finds a function. With typeName empty it searches the
// top-level functions of pkg; otherwise the methods of the type and its
// supertypes. An arity below zero matches any parameter count.
func (l *Lookup) FindFunction(ctx context.Context, typeName, pkg, name string, arity int) (Answer, bool) {
	match := func(h element.Handle, info *element.Info) bool {
		if h.Kind() != element.KindFunction || h.Name() != name {
			return false
		}
		if arity < 0 {
			return true
		}
		body, ok := info.Body.(element.FunctionBody)
		return ok && len(body.Params) == arity
	}
	if typeName != "" {
		t, ok := l.FindType(ctx, typeName, pkg, AcceptAll, false)
		if !ok {
			return Answer{}, false
		}
		return l.member(ctx, t, pkg, match, name)
	}
	for _, root := range l.contributing(ctx, pkg) {
		pkgH := root.Handle().Child(element.KindPackage, pkg)
		for _, wc := range l.e.overlay.Units(pkgH, l.owner) {
			for _, h := range wc.Children {
				if info, ok := wc.Info(h); ok && match(h, info) {
					return Answer{Element: h, Root: root, Qualified: joinName(pkg, name), FromWorkingCopy: true, wc: wc}, true
				}
			}
		}
		pkgInfo, err := l.e.cache.Open(ctx, pkgH)
		if err != nil {
			continue
		}
		for _, unit := range pkgInfo.Children {
			if unit.Kind() != element.KindUnit || l.e.overlay.Shadows(unit, l.owner) {
				continue
			}
			info, err := l.e.cache.Open(ctx, unit)
			if err != nil {
				continue
			}
			for _, h := range info.Children {
				if fi, ok := l.open(ctx, h, nil); ok && match(h, fi) {
					return Answer{Element: h, Root: root, Qualified: joinName(pkg, name)}, true
				}
			}
		}
	}
	return Answer{}, false
}

// member searches t and then its supertypes for a child accepted by match.
func (l *Lookup) member(ctx context.Context, t Answer, pkg string, match func(element.Handle, *element.Info) bool, name string) (Answer, bool) {
	visited := make(map[string]bool)
	for depth := 0; depth < maxSuperDepth; depth++ {
		if visited[t.Qualified] {
			return Answer{}, false
		}
		visited[t.Qualified] = true
		info, ok := l.open(ctx, t.Element, t.wc)
		if !ok {
			return Answer{}, false
		}
		for _, h := range info.Children {
			ci, ok := l.open(ctx, h, t.wc)
			if ok && match(h, ci) {
				a := t
				a.Element = h
				a.Qualified = t.Qualified + "." + name
				return a, true
			}
		}
		body, ok := info.Body.(element.TypeBody)
		if !ok {
			return Answer{}, false
		}
		next, found := Answer{}, false
		for _, super := range supertypes(body) {
			if next, found = l.resolveTypeName(ctx, super, typePackage(t)); found {
				break
			}
		}
		if !found {
			return Answer{}, false
		}
		t = next
	}
	return Answer{}, false
}

// resolveTypeName resolves a type reference as written in source: a simple
// name is looked up in pkg, a dotted one as a qualified binding first.
func (l *Lookup) resolveTypeName(ctx context.Context, ref, pkg string) (Answer, bool) {
	if i := strings.IndexByte(ref, '<'); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "*")
	if ref == "" {
		return Answer{}, false
	}
	if strings.Contains(ref, ".") {
		if a, ok := l.FindBinding(ctx, ref); ok && a.Element.Kind() == element.KindType {
			return a, true
		}
	}
	return l.FindType(ctx, ref, pkg, AcceptAll, false)
}

func supertypes(body element.TypeBody) []string {
	var out []string
	if body.Super != "" {
		out = append(out, body.Super)
	}
	return append(out, body.Interfaces...)
}

func typePackage(a Answer) string {
	pkg, _ := a.Element.Ancestor(element.KindPackage)
	return pkg.Name()
}

// FindBinding resolves a fully qualified key such as "com.acme.Widget",
// "com.acme.Widget.Part.size" or "com.acme": the longest existing package
// prefix is taken, then the remaining segments name a type and optionally
// one member. Synthetic type names are visible here.
func (l *Lookup) FindBinding(ctx context.Context, key string) (Answer, bool) {
	segs := strings.Split(key, ".")
	for n := len(segs); n >= 0; n-- {
		pkg := strings.Join(segs[:n], ".")
		if n > 0 {
			if _, ok := l.FindPackage(ctx, pkg); !ok {
				continue
			}
		}
		rest := segs[n:]
		if len(rest) == 0 {
			return l.FindPackage(ctx, pkg)
		}
		if a, ok := l.findType(ctx, strings.Join(rest, "."), pkg, AcceptAll, false, true); ok {
			return a, true
		}
		if len(rest) >= 2 {
			typeName := strings.Join(rest[:len(rest)-1], ".")
			t, ok := l.findType(ctx, typeName, pkg, AcceptAll, false, true)
			if !ok {
				continue
			}
			last := rest[len(rest)-1]
			if a, ok := l.member(ctx, t, pkg, func(h element.Handle, _ *element.Info) bool {
				return h.Name() == last && (h.Kind() == element.KindField || h.Kind() == element.KindFunction)
			}, last); ok {
				return a, true
			}
		}
		if n > 0 {
			// The longest existing package did not declare the rest.
			return Answer{}, false
		}
	}
	return Answer{}, false
}
