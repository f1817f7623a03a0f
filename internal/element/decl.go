package element

import "time"

// Decl is one declaration produced by a structure builder. Builders return a
// tree of Decls; the cache turns it into Handles and Infos.
type Decl struct {
	Kind        Kind
	Name        string
	TypeKind    TypeKind
	Modifiers   Modifiers
	Super       string
	Interfaces  []string
	TypeParams  []string
	Type        string // field type or function result
	Params      []string
	Receiver    string
	Constructor bool
	Range       Range
	// Fingerprint hashes the declaration's source text; used for fine-grained diffs.
	Fingerprint uint64
	Children    []Decl
}

// BuildResult is the outcome of building the structure of one unit or artifact.
type BuildResult struct {
	Language    string
	PackageName string
	Imports     []string
	Decls       []Decl
	Problems    []Problem
	// Known is false when the content could not be understood at all.
	Known bool
}

// Materialize converts a declaration tree rooted at parent into Infos keyed by
// handle. Same-named siblings of the same kind receive increasing occurrence
// indexes in source order. It returns the parent's direct children.
func Materialize(parent Handle, decls []Decl, ts time.Time, into map[Handle]*Info) []Handle {
	if len(decls) == 0 {
		return nil
	}
	type slot struct {
		kind Kind
		name string
	}
	seen := make(map[slot]int, len(decls))
	children := make([]Handle, 0, len(decls))
	for i := range decls {
		d := &decls[i]
		s := slot{d.Kind, d.Name}
		seen[s]++
		h := parent.ChildN(d.Kind, d.Name, seen[s])
		children = append(children, h)

		info := &Info{
			Handle:         h,
			StructureKnown: true,
			Timestamp:      ts,
			Fingerprint:    d.Fingerprint,
			Body:           declBody(d),
		}
		info.Children = Materialize(h, d.Children, ts, into)
		into[h] = info
	}
	return children
}

func declBody(d *Decl) Body {
	switch d.Kind {
	case KindType:
		return TypeBody{
			TypeKind:   d.TypeKind,
			Modifiers:  d.Modifiers,
			Super:      d.Super,
			Interfaces: d.Interfaces,
			TypeParams: d.TypeParams,
			Range:      d.Range,
		}
	case KindField:
		return FieldBody{Type: d.Type, Modifiers: d.Modifiers, Range: d.Range}
	case KindFunction:
		return FunctionBody{
			Params:      d.Params,
			Result:      d.Type,
			TypeParams:  d.TypeParams,
			Modifiers:   d.Modifiers,
			Constructor: d.Constructor,
			Receiver:    d.Receiver,
			Range:       d.Range,
		}
	}
	return nil
}
