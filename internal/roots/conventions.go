package roots

import (
	"strings"
	"unicode"
)

// Convention describes how source files with one extension are named and built.
type Convention struct {
	Ext      string
	Language string
	// NamedByType is set for languages whose units are named after their
	// primary top-level type, so lookup can go straight to the unit.
	NamedByType bool
}

// Conventions are the naming rules used to classify paths into elements.
type Conventions struct {
	Sources     []Convention
	ArtifactExt string
	// NestedSep separates enclosing and member type names in artifact names.
	NestedSep string
}

// DefaultConventions covers Java and Go sources and .class artifacts.
func DefaultConventions() Conventions {
	return Conventions{
		Sources: []Convention{
			{Ext: ".java", Language: "java", NamedByType: true},
			{Ext: ".go", Language: "go", NamedByType: false},
		},
		ArtifactExt: ".class",
		NestedSep:   "$",
	}
}

// SourceFor returns the convention matching a file name's extension.
func (c Conventions) SourceFor(name string) (Convention, bool) {
	for _, conv := range c.Sources {
		if strings.HasSuffix(name, conv.Ext) && len(name) > len(conv.Ext) {
			return conv, true
		}
	}
	return Convention{}, false
}

// IsArtifact reports whether name carries the compiled-artifact extension.
func (c Conventions) IsArtifact(name string) bool {
	return c.ArtifactExt != "" && strings.HasSuffix(name, c.ArtifactExt) && len(name) > len(c.ArtifactExt)
}

// UnitName returns the unit file name a type would live in by convention.
func (c Conventions) UnitName(conv Convention, typeName string) string {
	return typeName + conv.Ext
}

// ArtifactTypePath splits an artifact file name into its type path, e.g.
// "Outer$Inner.class" -> ["Outer", "Inner"].
func (c Conventions) ArtifactTypePath(name string) []string {
	base := strings.TrimSuffix(name, c.ArtifactExt)
	if c.NestedSep == "" {
		return []string{base}
	}
	return strings.Split(base, c.NestedSep)
}

// StripExt removes a known source or artifact extension.
func (c Conventions) StripExt(name string) string {
	if conv, ok := c.SourceFor(name); ok {
		return strings.TrimSuffix(name, conv.Ext)
	}
	if c.IsArtifact(name) {
		return strings.TrimSuffix(name, c.ArtifactExt)
	}
	return name
}

var reserved = map[string]bool{
	"abstract": true, "assert": true, "boolean": true, "break": true, "byte": true,
	"case": true, "catch": true, "char": true, "class": true, "const": true,
	"continue": true, "default": true, "do": true, "double": true, "else": true,
	"enum": true, "extends": true, "final": true, "finally": true, "float": true,
	"for": true, "goto": true, "if": true, "implements": true, "import": true,
	"instanceof": true, "int": true, "interface": true, "long": true, "native": true,
	"new": true, "package": true, "private": true, "protected": true, "public": true,
	"return": true, "short": true, "static": true, "strictfp": true, "super": true,
	"switch": true, "synchronized": true, "this": true, "throw": true, "throws": true,
	"transient": true, "try": true, "void": true, "volatile": true, "while": true,
	"true": true, "false": true, "null": true,
}

// IsIdentifier reports whether s is a valid identifier: a letter, '_' or '$'
// followed by letters, digits, '_' or '$', and not a reserved word.
func IsIdentifier(s string) bool {
	if s == "" || reserved[s] {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// IsPackageName reports whether every segment of a dotted name is an identifier.
// The empty name is the default package.
func IsPackageName(name string) bool {
	if name == "" {
		return true
	}
	for _, seg := range strings.Split(name, ".") {
		if !IsIdentifier(seg) {
			return false
		}
	}
	return true
}
