// Package element defines the identity and state model for program elements:
// immutable Handles that name an element, and Infos that hold the structure
// built for it.
package element

// Kind identifies the kind of program element a Handle refers to.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindModel
	KindProject
	KindRoot
	KindPackage
	KindUnit
	KindArtifact
	KindType
	KindField
	KindFunction
)

var kindNames = [...]string{
	KindInvalid:  "invalid",
	KindModel:    "model",
	KindProject:  "project",
	KindRoot:     "root",
	KindPackage:  "package",
	KindUnit:     "unit",
	KindArtifact: "artifact",
	KindType:     "type",
	KindField:    "field",
	KindFunction: "function",
}

// kindCodes are the single-byte tags used in encoded handle keys.
var kindCodes = [...]byte{
	KindInvalid:  '?',
	KindModel:    'M',
	KindProject:  'J',
	KindRoot:     'R',
	KindPackage:  'P',
	KindUnit:     'U',
	KindArtifact: 'A',
	KindType:     'T',
	KindField:    'F',
	KindFunction: 'X',
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// IsOpenable reports whether elements of this kind have their own
// structure build. Declarations are built together with their unit.
func (k Kind) IsOpenable() bool {
	return k >= KindModel && k <= KindArtifact
}

// IsDeclaration reports whether the kind is a declaration inside a unit or artifact.
func (k Kind) IsDeclaration() bool {
	return k == KindType || k == KindField || k == KindFunction
}

// IsContainer reports whether the kind's children are discovered from the
// file tree rather than from parsed content.
func (k Kind) IsContainer() bool {
	return k >= KindModel && k <= KindPackage
}

func (k Kind) code() byte {
	if int(k) < len(kindCodes) {
		return kindCodes[k]
	}
	return '?'
}

func kindFromCode(c byte) Kind {
	for k, code := range kindCodes {
		if code == c {
			return Kind(k)
		}
	}
	return KindInvalid
}

// EntryKind is the classpath entry kind of a root.
type EntryKind uint8

const (
	EntrySource EntryKind = iota
	EntryLibrary
	EntryOutput
)

func (e EntryKind) String() string {
	switch e {
	case EntrySource:
		return "source"
	case EntryLibrary:
		return "library"
	case EntryOutput:
		return "output"
	default:
		return "unknown"
	}
}

// ParseEntryKind converts a configuration string into an EntryKind.
func ParseEntryKind(s string) (EntryKind, bool) {
	switch s {
	case "source", "src":
		return EntrySource, true
	case "library", "lib":
		return EntryLibrary, true
	case "output", "out":
		return EntryOutput, true
	}
	return EntrySource, false
}
