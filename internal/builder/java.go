package builder

import (
	"context"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"

	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
)

// Java builds Java compilation units.
type Java struct {
	pool *parserPool
}

// NewJava creates a Java structure builder.
func NewJava() *Java {
	language := tree_sitter.NewLanguage(tree_sitter_java.Language())
	return &Java{pool: newParserPool(language)}
}

// Close releases idle parsers.
func (j *Java) Close() { j.pool.close() }

// Build implements StructureBuilder.
func (j *Java) Build(ctx context.Context, unit element.Handle, content []byte) (*element.BuildResult, error) {
	if err := errors.CheckContext(ctx, "build"); err != nil {
		return nil, err
	}
	var result *element.BuildResult
	err := j.pool.parse(unit.Name(), content, func(root *tree_sitter.Node, src []byte) {
		if root.HasError() {
			result = unknown("java", syntaxProblems(root, src))
			return
		}
		result = &element.BuildResult{Language: "java", Known: true}
		for _, n := range children(root) {
			switch n.Kind() {
			case "package_declaration":
				result.PackageName = javaQualified(n, src)
			case "import_declaration":
				result.Imports = append(result.Imports, javaImport(n, src))
			default:
				if d, ok := javaType(n, src); ok {
					result.Decls = append(result.Decls, d)
				}
			}
		}
	})
	if err != nil {
		return unknown("java", []element.Problem{{Message: err.Error(), Severity: element.SeverityError}}), nil
	}
	return result, nil
}

func javaQualified(n *tree_sitter.Node, src []byte) string {
	for _, c := range children(n) {
		switch c.Kind() {
		case "identifier", "scoped_identifier":
			return text(c, src)
		}
	}
	return ""
}

func javaImport(n *tree_sitter.Node, src []byte) string {
	var name string
	static, wildcard := false, false
	for _, c := range children(n) {
		switch c.Kind() {
		case "static":
			static = true
		case "asterisk":
			wildcard = true
		case "identifier", "scoped_identifier":
			name = text(c, src)
		}
	}
	if wildcard {
		name += ".*"
	}
	if static {
		name = "static " + name
	}
	return name
}

var javaTypeKinds = map[string]element.TypeKind{
	"class_declaration":           element.TypeClass,
	"interface_declaration":       element.TypeInterface,
	"enum_declaration":            element.TypeEnum,
	"record_declaration":          element.TypeRecord,
	"annotation_type_declaration": element.TypeAnnotation,
}

func javaType(n *tree_sitter.Node, src []byte) (element.Decl, bool) {
	kind, ok := javaTypeKinds[n.Kind()]
	if !ok {
		return element.Decl{}, false
	}
	d := element.Decl{
		Kind:        element.KindType,
		Name:        text(n.ChildByFieldName("name"), src),
		TypeKind:    kind,
		Modifiers:   javaModifiers(n, src),
		TypeParams:  javaTypeParams(n.ChildByFieldName("type_parameters"), src),
		Range:       rangeOf(n),
		Fingerprint: fingerprint(n, src),
	}
	if sc := n.ChildByFieldName("superclass"); sc != nil {
		for _, c := range children(sc) {
			if c.Kind() != "extends" {
				d.Super = text(c, src)
			}
		}
	}
	if ifs := n.ChildByFieldName("interfaces"); ifs != nil {
		d.Interfaces = javaTypeList(ifs, src)
	}
	for _, c := range children(n) {
		if c.Kind() == "extends_interfaces" {
			d.Interfaces = javaTypeList(c, src)
		}
	}
	if kind == element.TypeRecord {
		for _, p := range children(n.ChildByFieldName("parameters")) {
			if p.Kind() != "formal_parameter" {
				continue
			}
			d.Children = append(d.Children, element.Decl{
				Kind:        element.KindField,
				Name:        text(p.ChildByFieldName("name"), src),
				Type:        text(p.ChildByFieldName("type"), src),
				Modifiers:   element.ModPrivate | element.ModFinal,
				Range:       rangeOf(p),
				Fingerprint: fingerprint(p, src),
			})
		}
	}
	d.Children = append(d.Children, javaMembers(n.ChildByFieldName("body"), src)...)
	return d, true
}

func javaTypeList(n *tree_sitter.Node, src []byte) []string {
	var out []string
	for _, c := range children(n) {
		if c.Kind() != "type_list" {
			continue
		}
		for _, t := range children(c) {
			if t.IsNamed() {
				out = append(out, text(t, src))
			}
		}
	}
	return out
}

func javaTypeParams(n *tree_sitter.Node, src []byte) []string {
	var out []string
	for _, c := range children(n) {
		if c.Kind() == "type_parameter" {
			out = append(out, text(c, src))
		}
	}
	return out
}

func javaModifiers(n *tree_sitter.Node, src []byte) element.Modifiers {
	var mods element.Modifiers
	for _, c := range children(n) {
		if c.Kind() != "modifiers" {
			continue
		}
		for _, m := range children(c) {
			switch m.Kind() {
			case "public":
				mods |= element.ModPublic
			case "protected":
				mods |= element.ModProtected
			case "private":
				mods |= element.ModPrivate
			case "static":
				mods |= element.ModStatic
			case "final":
				mods |= element.ModFinal
			case "abstract":
				mods |= element.ModAbstract
			case "marker_annotation", "annotation":
				if text(m.ChildByFieldName("name"), src) == "Deprecated" {
					mods |= element.ModDeprecated
				}
			}
		}
	}
	return mods
}

func javaMembers(body *tree_sitter.Node, src []byte) []element.Decl {
	var out []element.Decl
	for _, n := range children(body) {
		switch n.Kind() {
		case "field_declaration", "constant_declaration":
			mods := javaModifiers(n, src)
			typ := text(n.ChildByFieldName("type"), src)
			for _, c := range children(n) {
				if c.Kind() != "variable_declarator" {
					continue
				}
				out = append(out, element.Decl{
					Kind:        element.KindField,
					Name:        text(c.ChildByFieldName("name"), src),
					Type:        typ,
					Modifiers:   mods,
					Range:       rangeOf(n),
					Fingerprint: fingerprint(n, src),
				})
			}
		case "enum_constant":
			out = append(out, element.Decl{
				Kind:        element.KindField,
				Name:        text(n.ChildByFieldName("name"), src),
				Modifiers:   element.ModPublic | element.ModStatic | element.ModFinal,
				Range:       rangeOf(n),
				Fingerprint: fingerprint(n, src),
			})
		case "enum_body_declarations":
			out = append(out, javaMembers(n, src)...)
		case "method_declaration", "constructor_declaration", "annotation_type_element_declaration":
			out = append(out, javaFunction(n, src))
		default:
			if d, ok := javaType(n, src); ok {
				out = append(out, d)
			}
		}
	}
	return out
}

func javaFunction(n *tree_sitter.Node, src []byte) element.Decl {
	d := element.Decl{
		Kind:        element.KindFunction,
		Name:        text(n.ChildByFieldName("name"), src),
		Modifiers:   javaModifiers(n, src),
		TypeParams:  javaTypeParams(n.ChildByFieldName("type_parameters"), src),
		Type:        text(n.ChildByFieldName("type"), src),
		Constructor: n.Kind() == "constructor_declaration",
		Range:       rangeOf(n),
		Fingerprint: fingerprint(n, src),
	}
	for _, p := range children(n.ChildByFieldName("parameters")) {
		switch p.Kind() {
		case "formal_parameter":
			d.Params = append(d.Params, text(p.ChildByFieldName("type"), src))
		case "spread_parameter":
			var parts []string
			for _, c := range children(p) {
				switch c.Kind() {
				case "modifiers", "variable_declarator", "...":
				default:
					parts = append(parts, text(c, src))
				}
			}
			d.Params = append(d.Params, strings.Join(parts, " ")+"...")
		}
	}
	return d
}
