package builder

import (
	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/roots"
)

// Artifact derives the structure of a compiled artifact from its file name
// alone: "Outer$Inner.class" declares the member type "Inner". Artifact bytes
// are never decoded.
type Artifact struct {
	conv roots.Conventions
}

// NewArtifact creates an artifact builder using the given conventions.
func NewArtifact(conv roots.Conventions) *Artifact {
	return &Artifact{conv: conv}
}

// Build returns the single type declared by the artifact.
func (a *Artifact) Build(name string) *element.BuildResult {
	typePath := a.conv.ArtifactTypePath(name)
	simple := typePath[len(typePath)-1]
	if simple == "" {
		return unknown("artifact", []element.Problem{{
			Message:  "artifact name does not denote a type: " + name,
			Severity: element.SeverityWarning,
		}})
	}
	var mods element.Modifiers
	if len(typePath) > 1 {
		mods |= element.ModStatic
	}
	return &element.BuildResult{
		Language: "artifact",
		Known:    true,
		Decls: []element.Decl{{
			Kind:        element.KindType,
			Name:        simple,
			TypeKind:    element.TypeClass,
			Modifiers:   mods,
			Fingerprint: xxhash.Sum64String(name),
		}},
	}
}
