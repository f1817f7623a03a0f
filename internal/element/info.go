package element

import (
	"time"
)

// Info is the structure built for a Handle. Once inserted into the element
// cache it is owned by the cache and never mutated; a content change produces
// a new Info that replaces the old one wholesale.
type Info struct {
	Handle         Handle
	Children       []Handle
	StructureKnown bool
	Timestamp      time.Time
	// Fingerprint is an xxhash of the content the Info was built from.
	Fingerprint uint64
	Body        Body
}

// WithChildren returns a copy of the Info carrying a new children sequence.
func (i *Info) WithChildren(children []Handle) *Info {
	cp := *i
	cp.Children = append([]Handle(nil), children...)
	return &cp
}

// HasChild reports whether c is one of the Info's children.
func (i *Info) HasChild(c Handle) bool {
	for _, ch := range i.Children {
		if ch == c {
			return true
		}
	}
	return false
}

// Body is a kind-specific payload carried by an Info.
type Body interface {
	BodyKind() Kind
}

type ModelBody struct{}

func (ModelBody) BodyKind() Kind { return KindModel }

type ProjectBody struct {
	Location string
}

func (ProjectBody) BodyKind() Kind { return KindProject }

type RootBody struct {
	Path  string
	Entry EntryKind
}

func (RootBody) BodyKind() Kind { return KindRoot }

type PackageBody struct {
	Dir string
}

func (PackageBody) BodyKind() Kind { return KindPackage }

// UnitBody describes a compilation unit built from source text.
type UnitBody struct {
	Path        string
	Language    string
	PackageName string
	Imports     []string
	Problems    []Problem
	// WorkingCopy is set when the Info was built from an unsaved buffer.
	WorkingCopy bool
}

func (UnitBody) BodyKind() Kind { return KindUnit }

// ArtifactBody describes a compiled artifact. Its bytes are never decoded;
// the declared type is inferred from the artifact name.
type ArtifactBody struct {
	Path string
	Size int64
}

func (ArtifactBody) BodyKind() Kind { return KindArtifact }

type TypeBody struct {
	TypeKind   TypeKind
	Modifiers  Modifiers
	Super      string
	Interfaces []string
	TypeParams []string
	Range      Range
}

func (TypeBody) BodyKind() Kind { return KindType }

type FieldBody struct {
	Type      string
	Modifiers Modifiers
	Range     Range
}

func (FieldBody) BodyKind() Kind { return KindField }

type FunctionBody struct {
	Params      []string
	Result      string
	TypeParams  []string
	Modifiers   Modifiers
	Constructor bool
	Receiver    string
	Range       Range
}

func (FunctionBody) BodyKind() Kind { return KindFunction }

// TypeKind distinguishes flavours of type declarations.
type TypeKind uint8

const (
	TypeClass TypeKind = iota
	TypeInterface
	TypeEnum
	TypeAnnotation
	TypeRecord
	TypeStruct
	TypeAlias
)

func (t TypeKind) String() string {
	switch t {
	case TypeClass:
		return "class"
	case TypeInterface:
		return "interface"
	case TypeEnum:
		return "enum"
	case TypeAnnotation:
		return "annotation"
	case TypeRecord:
		return "record"
	case TypeStruct:
		return "struct"
	case TypeAlias:
		return "alias"
	}
	return "unknown"
}

// Modifiers is a bit set of declaration modifiers.
type Modifiers uint16

const (
	ModPublic Modifiers = 1 << iota
	ModProtected
	ModPrivate
	ModStatic
	ModFinal
	ModAbstract
	ModExported
	ModDeprecated
)

func (m Modifiers) Has(flag Modifiers) bool { return m&flag != 0 }

// Range locates a declaration in its source.
type Range struct {
	StartByte int
	EndByte   int
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Severity of a structure-building diagnostic.
type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Problem is a diagnostic reported while building a unit's structure.
type Problem struct {
	Message  string
	Severity Severity
	Range    Range
}
