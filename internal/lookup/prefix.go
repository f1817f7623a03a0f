package lookup

import (
	"context"
	"strings"

	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/workingcopy"
)

// FindTypes returns every type in pkg whose dotted path matches prefix
// segment by segment, case-insensitively: "wid.pa" matches "Widget.Part".
// Answers come in search order and each qualified name appears once.
func (l *Lookup) FindTypes(ctx context.Context, prefix, pkg string, accept AcceptFlags) []Answer {
	segs := strings.Split(strings.ToLower(prefix), ".")
	seen := make(map[string]bool)
	var out []Answer
	add := func(a Answer) {
		if !seen[a.Qualified] {
			seen[a.Qualified] = true
			out = append(out, a)
		}
	}
	candidates := l.contributing(ctx, pkg)
	for _, root := range candidates {
		if root.Entry != element.EntrySource {
			continue
		}
		pkgH := root.Handle().Child(element.KindPackage, pkg)
		for _, wc := range l.e.overlay.Units(pkgH, l.owner) {
			info := &element.Info{Handle: wc.Unit, Children: wc.Children}
			l.collect(ctx, root, pkg, info, segs, nil, wc, accept, add)
		}
	}
	conv := l.e.reg.Conventions()
	for _, root := range candidates {
		if ctx.Err() != nil {
			return out
		}
		pkgH := root.Handle().Child(element.KindPackage, pkg)
		pkgInfo, err := l.e.cache.Open(ctx, pkgH)
		if err != nil {
			continue
		}
		for _, child := range pkgInfo.Children {
			switch child.Kind() {
			case element.KindUnit:
				if l.e.overlay.Shadows(child, l.owner) {
					continue
				}
				// Convention-named units are filtered by file name before opening.
				if c, ok := conv.SourceFor(child.Name()); ok && c.NamedByType &&
					!strings.HasPrefix(strings.ToLower(conv.StripExt(child.Name())), segs[0]) {
					continue
				}
				info, err := l.e.cache.Open(ctx, child)
				if err != nil {
					continue
				}
				l.collect(ctx, root, pkg, info, segs, nil, nil, accept, add)
			case element.KindArtifact:
				path := conv.ArtifactTypePath(child.Name())
				if len(path) != len(segs) || !matchSegments(path, segs) {
					continue
				}
				info, err := l.e.cache.Open(ctx, child)
				if err != nil || len(info.Children) == 0 {
					continue
				}
				if a, ok := l.resolve(ctx, root, pkg, info.Children[0], nil, path, nil, accept, false); ok {
					add(a)
				}
			}
		}
	}
	return out
}

// collect matches the remaining prefix segments against the type children
// of parent, descending into member types.
func (l *Lookup) collect(ctx context.Context, root *roots.Root, pkg string, parent *element.Info, segs, path []string, wc *workingcopy.WorkingCopy, accept AcceptFlags, add func(Answer)) {
	for _, h := range parent.Children {
		if h.Kind() != element.KindType || isSynthetic(h.Name()) {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(h.Name()), segs[0]) {
			continue
		}
		info, ok := l.open(ctx, h, wc)
		if !ok {
			continue
		}
		p := append(append([]string(nil), path...), h.Name())
		if len(segs) > 1 {
			l.collect(ctx, root, pkg, info, segs[1:], p, wc, accept, add)
			continue
		}
		body, ok := info.Body.(element.TypeBody)
		if !ok || !accept.Accepts(body.TypeKind) {
			continue
		}
		add(Answer{
			Element:         h,
			Root:            root,
			Qualified:       joinName(pkg, strings.Join(p, ".")),
			FromWorkingCopy: wc != nil,
			wc:              wc,
		})
	}
}

func matchSegments(path, lowerPrefixes []string) bool {
	for i, seg := range path {
		if isSynthetic(seg) || !strings.HasPrefix(strings.ToLower(seg), lowerPrefixes[i]) {
			return false
		}
	}
	return true
}
