// Package delta turns raw file-tree changes into model deltas, keeps the
// element cache consistent with them and fires the result to listeners.
package delta

import (
	"fmt"
	"slices"
	"strings"

	"github.com/standardbeagle/srcmodel/internal/element"
)

// Kind is what happened to an element.
type Kind uint8

const (
	Changed Kind = iota
	Added
	Removed
	// MovedFrom marks the new element of a move; Counterpart is the old one.
	MovedFrom
	// MovedTo marks the old element of a move; Counterpart is the new one.
	MovedTo
	Opened
	Closed
)

func (k Kind) String() string {
	switch k {
	case Changed:
		return "changed"
	case Added:
		return "added"
	case Removed:
		return "removed"
	case MovedFrom:
		return "movedFrom"
	case MovedTo:
		return "movedTo"
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	}
	return "unknown"
}

func (k Kind) symbol() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	case MovedFrom:
		return "+<"
	case MovedTo:
		return "->"
	case Opened:
		return "o"
	case Closed:
		return "c"
	}
	return "*"
}

// IsAddition reports whether the element exists after the change.
func (k Kind) IsAddition() bool { return k == Added || k == MovedFrom }

// IsRemoval reports whether the element is gone after the change.
func (k Kind) IsRemoval() bool { return k == Removed || k == MovedTo }

// Flags qualify a delta.
type Flags uint32

const (
	FlagContent Flags = 1 << iota
	FlagChildren
	// FlagFineGrained is set when declaration-level child deltas were computed.
	FlagFineGrained
	FlagModifiers
	FlagSuper
	FlagReordered
	FlagResource
	FlagWorkingCopy
	// FlagPrimaryResource marks a change to the file behind a working copy.
	FlagPrimaryResource
	FlagClasspath
	FlagAddedToClasspath
	FlagRemovedFromClasspath
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagContent, "CONTENT"},
	{FlagChildren, "CHILDREN"},
	{FlagFineGrained, "FINE GRAINED"},
	{FlagModifiers, "MODIFIERS"},
	{FlagSuper, "SUPER"},
	{FlagReordered, "REORDERED"},
	{FlagResource, "RESOURCE"},
	{FlagWorkingCopy, "WORKING COPY"},
	{FlagPrimaryResource, "PRIMARY RESOURCE"},
	{FlagClasspath, "CLASSPATH"},
	{FlagAddedToClasspath, "ADDED TO CLASSPATH"},
	{FlagRemovedFromClasspath, "REMOVED FROM CLASSPATH"},
}

func (f Flags) Has(flag Flags) bool { return f&flag == flag }

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, " | ")
}

// Resource is a change to a path that is not a program element.
type Resource struct {
	Path string
	Kind Kind
}

// Delta describes what one processing cycle did to an element and its
// descendants. A tree is rooted at element.Model.
type Delta struct {
	Element     element.Handle
	Kind        Kind
	Flags       Flags
	Counterpart element.Handle
	Children    []*Delta
	Resources   []Resource
}

// NewRoot returns an empty delta tree.
func NewRoot() *Delta {
	return &Delta{Element: element.Model, Kind: Changed}
}

// Empty reports whether the tree records nothing.
func (d *Delta) Empty() bool {
	return d == nil || (len(d.Children) == 0 && len(d.Resources) == 0 && d.Flags == 0 && d.Kind == Changed)
}

// Insert adds a copy of a leaf delta below d, creating changed ancestors as
// needed, and returns the delta now holding it. A delta for an element that
// already has one of the same kind is merged into it. d must be an ancestor
// of leaf.Element.
func (d *Delta) Insert(leaf *Delta) *Delta {
	d.Flags |= FlagChildren
	parent := d
	for _, anc := range ancestorsBelow(d.Element, leaf.Element) {
		next := parent.childFor(anc, func(k Kind) bool { return !k.IsRemoval() })
		if next == nil {
			next = &Delta{Element: anc, Kind: Changed}
			parent.Children = append(parent.Children, next)
		}
		next.Flags |= FlagChildren
		parent = next
	}
	if existing := parent.childFor(leaf.Element, func(k Kind) bool { return k == leaf.Kind }); existing != nil {
		existing.merge(leaf)
		return existing
	}
	cp := leaf.clone()
	parent.Children = append(parent.Children, cp)
	return cp
}

// Merge folds another tree rooted at the same element into d. No delta is
// dropped, flags are unioned and sibling order is first-seen order. Merging
// the same tree again changes nothing, and o is never shared with d.
func (d *Delta) Merge(o *Delta) {
	if o == nil {
		return
	}
	if o.Element != d.Element {
		d.Insert(o)
		return
	}
	d.merge(o)
}

func (d *Delta) merge(o *Delta) {
	if o == d {
		return
	}
	d.Flags |= o.Flags
	if d.Counterpart.IsZero() {
		d.Counterpart = o.Counterpart
	}
	for _, r := range o.Resources {
		if !slices.Contains(d.Resources, r) {
			d.Resources = append(d.Resources, r)
		}
	}
	for _, c := range o.Children {
		if existing := d.childFor(c.Element, func(k Kind) bool { return k == c.Kind }); existing != nil {
			existing.merge(c)
			continue
		}
		d.Children = append(d.Children, c.clone())
	}
}

// clone deep-copies a delta subtree.
func (d *Delta) clone() *Delta {
	cp := *d
	cp.Resources = slices.Clone(d.Resources)
	cp.Children = nil
	for _, c := range d.Children {
		cp.Children = append(cp.Children, c.clone())
	}
	return &cp
}

func (d *Delta) childFor(h element.Handle, match func(Kind) bool) *Delta {
	for _, c := range d.Children {
		if c.Element == h && match(c.Kind) {
			return c
		}
	}
	return nil
}

// ancestorsBelow lists the handles strictly between top and h, outermost first.
func ancestorsBelow(top, h element.Handle) []element.Handle {
	var chain []element.Handle
	for cur, ok := h.Parent(); ok && cur != top; cur, ok = cur.Parent() {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Find returns the first delta for h in pre-order.
func (d *Delta) Find(h element.Handle) *Delta {
	var found *Delta
	d.Walk(func(n *Delta) bool {
		if n.Element == h {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindAll returns every delta for h in pre-order.
func (d *Delta) FindAll(h element.Handle) []*Delta {
	var out []*Delta
	d.Walk(func(n *Delta) bool {
		if n.Element == h {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Walk visits the tree in pre-order until fn returns false.
func (d *Delta) Walk(fn func(*Delta) bool) bool {
	if d == nil {
		return true
	}
	if !fn(d) {
		return false
	}
	for _, c := range d.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Leaves returns the deltas that have no children, in pre-order.
func (d *Delta) Leaves() []*Delta {
	var out []*Delta
	d.Walk(func(n *Delta) bool {
		if len(n.Children) == 0 && n != d {
			out = append(out, n)
		}
		return true
	})
	return out
}

// String renders the tree one element per line, e.g.
//
//	<model>[*]: {CHILDREN}
//		app[*]: {CHILDREN}
//			...
func (d *Delta) String() string {
	var sb strings.Builder
	d.write(&sb, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func (d *Delta) write(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("\t", depth))
	name := d.Element.Name()
	if d.Element == element.Model {
		name = "<model>"
	}
	fmt.Fprintf(sb, "%s[%s]: {%s}", name, d.Kind.symbol(), d.Flags)
	if !d.Counterpart.IsZero() {
		dir := "to"
		if d.Kind == MovedFrom {
			dir = "from"
		}
		fmt.Fprintf(sb, " %s %s", dir, d.Counterpart.Name())
	}
	sb.WriteByte('\n')
	for _, r := range d.Resources {
		fmt.Fprintf(sb, "%s\tresource %s[%s]\n", strings.Repeat("\t", depth), r.Path, r.Kind.symbol())
	}
	for _, c := range d.Children {
		c.write(sb, depth+1)
	}
}
