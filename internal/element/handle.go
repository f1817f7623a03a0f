package element

import (
	"strconv"
	"strings"
)

const (
	segSep = '\x1e'
	occSep = '\x1f'
)

// Handle is the immutable identity of a program element. It is a value type:
// two handles built from the same kind, name, parent and occurrence compare
// equal and hash identically. A handle never refers to mutable state; the tree
// it forms through Parent exists whether or not any Info was ever built.
//
// The whole ancestry is encoded in a single key string, one segment per level.
type Handle struct {
	key string
}

// Model is the handle of the model root. Every other handle descends from it.
var Model = Handle{key: string([]byte{KindModel.code()})}

// ForProject returns the handle of the named project.
func ForProject(name string) Handle {
	return Model.Child(KindProject, name)
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.key == "" }

// Key returns the encoded identity of h. Useful as an interning key.
func (h Handle) Key() string { return h.key }

func (h Handle) lastSegment() string {
	if i := strings.LastIndexByte(h.key, segSep); i >= 0 {
		return h.key[i+1:]
	}
	return h.key
}

// Kind returns the element kind.
func (h Handle) Kind() Kind {
	if h.key == "" {
		return KindInvalid
	}
	return kindFromCode(h.lastSegment()[0])
}

// Name returns the element name. For roots this is the root path, for
// packages the dotted package name, for units and artifacts the file name.
func (h Handle) Name() string {
	if h.key == "" {
		return ""
	}
	seg := h.lastSegment()[1:]
	if i := strings.IndexByte(seg, occSep); i >= 0 {
		return seg[:i]
	}
	return seg
}

// Occurrence returns the 1-based index disambiguating same-named siblings.
func (h Handle) Occurrence() int {
	if h.key == "" {
		return 0
	}
	seg := h.lastSegment()
	i := strings.IndexByte(seg, occSep)
	if i < 0 {
		return 1
	}
	n, err := strconv.Atoi(seg[i+1:])
	if err != nil {
		return 1
	}
	return n
}

// Parent returns the parent handle, or false for the model root.
func (h Handle) Parent() (Handle, bool) {
	i := strings.LastIndexByte(h.key, segSep)
	if i < 0 {
		return Handle{}, false
	}
	return Handle{key: h.key[:i]}, true
}

// Child returns the handle of the first occurrence of a child element.
func (h Handle) Child(kind Kind, name string) Handle {
	return h.ChildN(kind, name, 1)
}

// ChildN returns the handle of the occ-th same-named child element.
func (h Handle) ChildN(kind Kind, name string, occ int) Handle {
	name = strings.Map(func(r rune) rune {
		if r == segSep || r == occSep {
			return -1
		}
		return r
	}, name)

	var b strings.Builder
	b.Grow(len(h.key) + len(name) + 4)
	b.WriteString(h.key)
	b.WriteByte(segSep)
	b.WriteByte(kind.code())
	b.WriteString(name)
	if occ > 1 {
		b.WriteByte(occSep)
		b.WriteString(strconv.Itoa(occ))
	}
	return Handle{key: b.String()}
}

// Ancestors returns h's ancestors, nearest first, ending with Model.
func (h Handle) Ancestors() []Handle {
	var out []Handle
	for p, ok := h.Parent(); ok; p, ok = p.Parent() {
		out = append(out, p)
	}
	return out
}

// Ancestor returns the nearest ancestor (or h itself) of the given kind.
func (h Handle) Ancestor(kind Kind) (Handle, bool) {
	for cur, ok := h, !h.IsZero(); ok; cur, ok = cur.Parent() {
		if cur.Kind() == kind {
			return cur, true
		}
	}
	return Handle{}, false
}

// IsAncestorOf reports whether h is a strict ancestor of other.
func (h Handle) IsAncestorOf(other Handle) bool {
	return len(other.key) > len(h.key) &&
		other.key[len(h.key)] == segSep &&
		strings.HasPrefix(other.key, h.key)
}

// Depth returns the number of segments below the model root.
func (h Handle) Depth() int {
	return strings.Count(h.key, string(segSep))
}

// String renders the handle as a readable path, e.g.
// "core/[/ws/core/src]/com.acme/Widget.java/Widget#2".
func (h Handle) String() string {
	if h.key == "" {
		return "<nil>"
	}
	segs := strings.Split(h.key, string(segSep))
	parts := make([]string, 0, len(segs))
	for _, seg := range segs[1:] {
		k := kindFromCode(seg[0])
		name := seg[1:]
		occ := ""
		if i := strings.IndexByte(name, occSep); i >= 0 {
			occ = "#" + name[i+1:]
			name = name[:i]
		}
		switch k {
		case KindRoot:
			name = "[" + name + "]"
		case KindPackage:
			if name == "" {
				name = "(default)"
			}
		}
		parts = append(parts, name+occ)
	}
	if len(parts) == 0 {
		return "<model>"
	}
	return strings.Join(parts, "/")
}

// PathOf returns the file-system path of a root, package, unit or artifact
// handle. Paths use forward slashes. Declarations and the model have no path.
func PathOf(h Handle) (string, bool) {
	switch h.Kind() {
	case KindRoot:
		return h.Name(), true
	case KindPackage:
		root, ok := h.Parent()
		if !ok {
			return "", false
		}
		return PackageDir(root.Name(), h.Name()), true
	case KindUnit, KindArtifact:
		pkg, ok := h.Parent()
		if !ok {
			return "", false
		}
		dir, ok := PathOf(pkg)
		if !ok {
			return "", false
		}
		return dir + "/" + h.Name(), true
	}
	return "", false
}

// PackageDir joins a root path with a dotted package name.
func PackageDir(rootPath, pkg string) string {
	if pkg == "" {
		return rootPath
	}
	return strings.TrimSuffix(rootPath, "/") + "/" + strings.ReplaceAll(pkg, ".", "/")
}

// Unit returns the enclosing unit or artifact of h, or h itself when it is one.
func Unit(h Handle) (Handle, bool) {
	for cur, ok := h, !h.IsZero(); ok; cur, ok = cur.Parent() {
		if k := cur.Kind(); k == KindUnit || k == KindArtifact {
			return cur, true
		}
	}
	return Handle{}, false
}

// QualifiedName returns the dotted package-qualified name of a declaration,
// e.g. "com.acme.Widget.Part". Non-declarations return their plain name.
func QualifiedName(h Handle) string {
	if !h.Kind().IsDeclaration() {
		return h.Name()
	}
	var names []string
	cur := h
	for cur.Kind().IsDeclaration() {
		names = append(names, cur.Name())
		p, ok := cur.Parent()
		if !ok {
			break
		}
		cur = p
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	if pkg, ok := h.Ancestor(KindPackage); ok && pkg.Name() != "" {
		return pkg.Name() + "." + strings.Join(names, ".")
	}
	return strings.Join(names, ".")
}
