package delta

import (
	"slices"

	"github.com/standardbeagle/srcmodel/internal/element"
)

// Structure is a unit's declaration tree, as held by the cache or a
// working copy.
type Structure struct {
	Children []element.Handle
	Infos    map[element.Handle]*element.Info
}

// CachedStructure collects the declaration tree of unit as currently open
// in c. A unit that is not open yields an empty structure.
func CachedStructure(c Cache, unit element.Handle) Structure {
	s := Structure{Infos: make(map[element.Handle]*element.Info)}
	info, ok := c.Peek(unit)
	if !ok {
		return s
	}
	s.Children = info.Children
	var walk func(hs []element.Handle)
	walk = func(hs []element.Handle) {
		for _, h := range hs {
			if !h.Kind().IsDeclaration() {
				continue
			}
			if di, ok := c.Peek(h); ok {
				s.Infos[h] = di
				walk(di.Children)
			}
		}
	}
	walk(info.Children)
	return s
}

// DiffStructure compares two declaration trees of unit and returns a
// changed delta for it carrying one child delta per added, removed or
// changed declaration. Declarations are matched by handle, i.e. by kind,
// name and occurrence, and compared by fingerprint.
func DiffStructure(unit element.Handle, before, after Structure) *Delta {
	d := &Delta{Element: unit, Kind: Changed, Flags: FlagContent | FlagFineGrained}
	diffChildren(d, before.Children, after.Children, before, after)
	if len(d.Children) > 0 {
		d.Flags |= FlagChildren
	}
	return d
}

func diffChildren(parent *Delta, oldKids, newKids []element.Handle, before, after Structure) {
	oldSet := make(map[element.Handle]bool, len(oldKids))
	for _, h := range oldKids {
		oldSet[h] = true
	}
	newSet := make(map[element.Handle]bool, len(newKids))
	for _, h := range newKids {
		newSet[h] = true
	}

	for _, h := range newKids {
		if !oldSet[h] {
			parent.Children = append(parent.Children, &Delta{Element: h, Kind: Added})
			continue
		}
		if sub := diffDecl(h, before, after); sub != nil {
			parent.Children = append(parent.Children, sub)
		}
	}
	for _, h := range oldKids {
		if !newSet[h] {
			parent.Children = append(parent.Children, &Delta{Element: h, Kind: Removed})
		}
	}

	common := func(kids []element.Handle, other map[element.Handle]bool) []element.Handle {
		var out []element.Handle
		for _, h := range kids {
			if other[h] {
				out = append(out, h)
			}
		}
		return out
	}
	if !slices.Equal(common(oldKids, newSet), common(newKids, oldSet)) {
		parent.Flags |= FlagReordered
	}
}

func diffDecl(h element.Handle, before, after Structure) *Delta {
	o, n := before.Infos[h], after.Infos[h]
	if o == nil || n == nil {
		return &Delta{Element: h, Kind: Changed, Flags: FlagContent}
	}
	d := &Delta{Element: h, Kind: Changed}
	if modifiers(o) != modifiers(n) {
		d.Flags |= FlagModifiers
	}
	if ot, ok := o.Body.(element.TypeBody); ok {
		if nt, ok := n.Body.(element.TypeBody); ok && (ot.Super != nt.Super || !slices.Equal(ot.Interfaces, nt.Interfaces)) {
			d.Flags |= FlagSuper
		}
	}
	if o.Fingerprint != n.Fingerprint {
		diffChildren(d, o.Children, n.Children, before, after)
		if len(d.Children) > 0 {
			d.Flags |= FlagChildren
		} else {
			d.Flags |= FlagContent
		}
	}
	if d.Flags == 0 {
		return nil
	}
	return d
}

func modifiers(info *element.Info) element.Modifiers {
	switch b := info.Body.(type) {
	case element.TypeBody:
		return b.Modifiers
	case element.FieldBody:
		return b.Modifiers
	case element.FunctionBody:
		return b.Modifiers
	}
	return 0
}
