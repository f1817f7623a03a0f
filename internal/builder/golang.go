package builder

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"

	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
)

// Go builds Go source files. Methods are nested under their receiver type
// when it is declared in the same file and stay top-level otherwise.
type Go struct {
	pool *parserPool
}

// NewGo creates a Go structure builder.
func NewGo() *Go {
	language := tree_sitter.NewLanguage(tree_sitter_go.Language())
	return &Go{pool: newParserPool(language)}
}

// Close releases idle parsers.
func (g *Go) Close() { g.pool.close() }

// Build implements StructureBuilder.
func (g *Go) Build(ctx context.Context, unit element.Handle, content []byte) (*element.BuildResult, error) {
	if err := errors.CheckContext(ctx, "build"); err != nil {
		return nil, err
	}
	var result *element.BuildResult
	err := g.pool.parse(unit.Name(), content, func(root *tree_sitter.Node, src []byte) {
		if root.HasError() {
			result = unknown("go", syntaxProblems(root, src))
			return
		}
		result = &element.BuildResult{Language: "go", Known: true}
		var methods []element.Decl
		for _, n := range children(root) {
			switch n.Kind() {
			case "package_clause":
				for _, c := range children(n) {
					if c.Kind() == "package_identifier" {
						result.PackageName = text(c, src)
					}
				}
			case "import_declaration":
				result.Imports = append(result.Imports, goImports(n, src)...)
			case "type_declaration":
				for _, c := range children(n) {
					if c.Kind() == "type_spec" || c.Kind() == "type_alias" {
						result.Decls = append(result.Decls, goType(c, src))
					}
				}
			case "function_declaration":
				result.Decls = append(result.Decls, goFunction(n, src))
			case "method_declaration":
				methods = append(methods, goFunction(n, src))
			case "const_declaration", "var_declaration":
				result.Decls = append(result.Decls, goValues(n, src)...)
			}
		}
		attachMethods(result, methods)
	})
	if err != nil {
		return unknown("go", []element.Problem{{Message: err.Error(), Severity: element.SeverityError}}), nil
	}
	return result, nil
}

func attachMethods(result *element.BuildResult, methods []element.Decl) {
	types := make(map[string]int)
	for i, d := range result.Decls {
		if d.Kind == element.KindType {
			types[d.Name] = i
		}
	}
	for _, m := range methods {
		if i, ok := types[m.Receiver]; ok {
			result.Decls[i].Children = append(result.Decls[i].Children, m)
			continue
		}
		result.Decls = append(result.Decls, m)
	}
}

func goImports(n *tree_sitter.Node, src []byte) []string {
	var out []string
	var walk func(*tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		for _, c := range children(n) {
			switch c.Kind() {
			case "import_spec":
				out = append(out, strings.Trim(text(c.ChildByFieldName("path"), src), "\"`"))
			case "import_spec_list":
				walk(c)
			}
		}
	}
	walk(n)
	return out
}

func goExported(name string) element.Modifiers {
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return element.ModExported
	}
	return 0
}

func goType(n *tree_sitter.Node, src []byte) element.Decl {
	name := text(n.ChildByFieldName("name"), src)
	d := element.Decl{
		Kind:        element.KindType,
		Name:        name,
		Modifiers:   goExported(name),
		TypeParams:  goTypeParams(n.ChildByFieldName("type_parameters"), src),
		Range:       rangeOf(n),
		Fingerprint: fingerprint(n, src),
	}
	typ := n.ChildByFieldName("type")
	if n.Kind() == "type_alias" {
		d.TypeKind = element.TypeAlias
		d.Super = text(typ, src)
		return d
	}
	switch {
	case typ == nil:
	case typ.Kind() == "struct_type":
		d.TypeKind = element.TypeStruct
		for _, list := range children(typ) {
			if list.Kind() == "field_declaration_list" {
				d.Children = append(d.Children, goStructFields(list, src)...)
			}
		}
	case typ.Kind() == "interface_type":
		d.TypeKind = element.TypeInterface
		for _, c := range children(typ) {
			switch c.Kind() {
			case "method_elem":
				d.Children = append(d.Children, goFunction(c, src))
			case "type_elem":
				d.Interfaces = append(d.Interfaces, text(c, src))
			}
		}
	default:
		// Defined type over another type, e.g. "type Celsius float64".
		d.TypeKind = element.TypeClass
		d.Super = text(typ, src)
	}
	return d
}

func goStructFields(list *tree_sitter.Node, src []byte) []element.Decl {
	var out []element.Decl
	for _, f := range children(list) {
		if f.Kind() != "field_declaration" {
			continue
		}
		typ := text(f.ChildByFieldName("type"), src)
		var names []string
		for _, c := range children(f) {
			if c.Kind() == "field_identifier" {
				names = append(names, text(c, src))
			}
		}
		if len(names) == 0 {
			// Embedded field: named after its type.
			embedded := strings.TrimPrefix(typ, "*")
			if i := strings.LastIndexByte(embedded, '.'); i >= 0 {
				embedded = embedded[i+1:]
			}
			names = []string{embedded}
		}
		for _, name := range names {
			out = append(out, element.Decl{
				Kind:        element.KindField,
				Name:        name,
				Type:        typ,
				Modifiers:   goExported(name),
				Range:       rangeOf(f),
				Fingerprint: fingerprint(f, src),
			})
		}
	}
	return out
}

func goTypeParams(n *tree_sitter.Node, src []byte) []string {
	var out []string
	for _, c := range children(n) {
		if c.Kind() == "type_parameter_declaration" || c.Kind() == "parameter_declaration" {
			out = append(out, text(c, src))
		}
	}
	return out
}

func goFunction(n *tree_sitter.Node, src []byte) element.Decl {
	name := text(n.ChildByFieldName("name"), src)
	d := element.Decl{
		Kind:        element.KindFunction,
		Name:        name,
		Modifiers:   goExported(name),
		TypeParams:  goTypeParams(n.ChildByFieldName("type_parameters"), src),
		Params:      goParams(n.ChildByFieldName("parameters"), src),
		Type:        text(n.ChildByFieldName("result"), src),
		Range:       rangeOf(n),
		Fingerprint: fingerprint(n, src),
	}
	if recv := goParams(n.ChildByFieldName("receiver"), src); len(recv) == 1 {
		d.Receiver = receiverBase(recv[0])
	}
	return d
}

func goParams(list *tree_sitter.Node, src []byte) []string {
	var out []string
	for _, p := range children(list) {
		switch p.Kind() {
		case "parameter_declaration", "variadic_parameter_declaration":
			typ := text(p.ChildByFieldName("type"), src)
			if p.Kind() == "variadic_parameter_declaration" {
				typ = "..." + typ
			}
			names := 0
			for _, c := range children(p) {
				if c.Kind() == "identifier" {
					names++
				}
			}
			if names == 0 {
				names = 1
			}
			for i := 0; i < names; i++ {
				out = append(out, typ)
			}
		}
	}
	return out
}

// receiverBase strips pointer and type arguments from a receiver type.
func receiverBase(typ string) string {
	typ = strings.TrimPrefix(typ, "*")
	if i := strings.IndexByte(typ, '['); i >= 0 {
		typ = typ[:i]
	}
	return strings.TrimSpace(typ)
}

func goValues(n *tree_sitter.Node, src []byte) []element.Decl {
	var out []element.Decl
	for _, c := range children(n) {
		switch c.Kind() {
		case "const_spec", "var_spec":
			typ := text(c.ChildByFieldName("type"), src)
			for _, id := range children(c) {
				if id.Kind() != "identifier" {
					continue
				}
				name := text(id, src)
				if name == "_" {
					continue
				}
				mods := goExported(name)
				if c.Kind() == "const_spec" {
					mods |= element.ModFinal
				}
				out = append(out, element.Decl{
					Kind:        element.KindField,
					Name:        name,
					Type:        typ,
					Modifiers:   mods,
					Range:       rangeOf(c),
					Fingerprint: fingerprint(c, src),
				})
			}
		case "var_spec_list":
			out = append(out, goValues(c, src)...)
		}
	}
	return out
}
