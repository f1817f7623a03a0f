package display

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/standardbeagle/srcmodel/internal/element"
)

// Node is one element in a displayed tree.
type Node struct {
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Detail   string  `json:"detail,omitempty"`
	Path     string  `json:"path,omitempty"`
	Line     int     `json:"line,omitempty"`
	Depth    int     `json:"depth"`
	Children []*Node `json:"children,omitempty"`
}

// Tree is a displayed element tree.
type Tree struct {
	Title      string `json:"title"`
	TotalNodes int    `json:"total_nodes"`
	MaxDepth   int    `json:"max_depth"`
	Root       *Node  `json:"tree"`
}

// Opener returns the structure of an element.
type Opener func(ctx context.Context, h element.Handle) (*element.Info, error)

// Build opens root and its descendants down to maxDepth (0 for no limit)
// and returns them as a display tree. Elements that fail to open appear
// without children and with the error as detail.
func Build(ctx context.Context, open Opener, root element.Handle, maxDepth int) (*Tree, error) {
	t := &Tree{Title: root.String()}
	n, err := t.build(ctx, open, root, 0, maxDepth)
	if err != nil {
		return nil, err
	}
	t.Root = n
	return t, nil
}

func (t *Tree) build(ctx context.Context, open Opener, h element.Handle, depth, maxDepth int) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := &Node{Name: nodeName(h), Kind: h.Kind().String(), Depth: depth}
	t.TotalNodes++
	if depth > t.MaxDepth {
		t.MaxDepth = depth
	}
	info, err := open(ctx, h)
	if err != nil {
		n.Detail = err.Error()
		return n, nil
	}
	describe(n, info)
	if maxDepth > 0 && depth >= maxDepth {
		return n, nil
	}
	for _, c := range info.Children {
		cn, err := t.build(ctx, open, c, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, cn)
	}
	return n, nil
}

func nodeName(h element.Handle) string {
	switch h.Kind() {
	case element.KindModel:
		return "<model>"
	case element.KindPackage:
		if h.Name() == "" {
			return "(default)"
		}
	}
	return h.Name()
}

func describe(n *Node, info *element.Info) {
	switch b := info.Body.(type) {
	case element.ProjectBody:
		n.Path = b.Location
	case element.RootBody:
		n.Path = b.Path
		n.Detail = b.Entry.String()
	case element.PackageBody:
		n.Path = b.Dir
	case element.UnitBody:
		n.Path = b.Path
		n.Detail = b.Language
		if len(b.Problems) > 0 {
			n.Detail += fmt.Sprintf(", %d problems", len(b.Problems))
		}
		if b.WorkingCopy {
			n.Detail += ", unsaved"
		}
	case element.ArtifactBody:
		n.Path = b.Path
	case element.TypeBody:
		n.Detail = b.TypeKind.String()
		if b.Super != "" {
			n.Detail += " extends " + b.Super
		}
		n.Line = b.Range.StartLine
	case element.FieldBody:
		n.Detail = b.Type
		n.Line = b.Range.StartLine
	case element.FunctionBody:
		n.Detail = "(" + strings.Join(b.Params, ", ") + ")"
		if b.Result != "" {
			n.Detail += " " + b.Result
		}
		n.Line = b.Range.StartLine
	}
	if !info.StructureKnown {
		if n.Detail != "" {
			n.Detail += ", "
		}
		n.Detail += "structure unknown"
	}
}

// TreeFormatter formats element trees for display
type TreeFormatter struct {
	options FormatterOptions
}

// FormatterOptions controls tree formatting
type FormatterOptions struct {
	Format    string // "text", "json", "compact"
	ShowLines bool
	MaxDepth  int
	Indent    string
}

// NewTreeFormatter creates a new tree formatter
func NewTreeFormatter(options FormatterOptions) *TreeFormatter {
	if options.Indent == "" {
		options.Indent = "  "
	}
	return &TreeFormatter{options: options}
}

// Format formats a tree for display
func (tf *TreeFormatter) Format(tree *Tree) string {
	if tree == nil || tree.Root == nil {
		return "No tree data available"
	}

	switch tf.options.Format {
	case "json":
		return tf.formatJSON(tree)
	case "compact":
		return tf.formatCompact(tree)
	default:
		return tf.formatText(tree)
	}
}

func (tf *TreeFormatter) formatText(tree *Tree) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Element tree for '%s'\n", tree.Title)
	fmt.Fprintf(&sb, "Total nodes: %d, Max depth: %d\n\n", tree.TotalNodes, tree.MaxDepth)
	tf.formatNode(&sb, tree.Root, "", true, true)
	return sb.String()
}

func (tf *TreeFormatter) formatNode(sb *strings.Builder, node *Node, prefix string, isLast, isRoot bool) {
	if node == nil {
		return
	}
	if tf.options.MaxDepth > 0 && node.Depth > tf.options.MaxDepth {
		return
	}

	var branch string
	switch {
	case isRoot:
		branch = "→ "
	case isLast:
		branch = "└─→ "
	default:
		branch = "├─→ "
	}

	sb.WriteString(prefix)
	sb.WriteString(branch)
	sb.WriteString(node.Name)
	fmt.Fprintf(sb, " <%s>", node.Kind)
	if node.Detail != "" {
		sb.WriteString(" " + node.Detail)
	}
	if tf.options.ShowLines && node.Line > 0 {
		fmt.Fprintf(sb, " [line %d]", node.Line)
	}
	sb.WriteString("\n")

	for i, child := range node.Children {
		childPrefix := prefix + tf.options.Indent
		if !isRoot && !isLast {
			childPrefix = prefix + "│" + tf.options.Indent[1:]
		}
		tf.formatNode(sb, child, childPrefix, i == len(node.Children)-1, false)
	}
}

// formatCompact writes one qualified line per leaf.
func (tf *TreeFormatter) formatCompact(tree *Tree) string {
	var lines []string
	tf.collectCompact(tree.Root, nil, &lines)
	return strings.Join(lines, "\n")
}

func (tf *TreeFormatter) collectCompact(node *Node, path []string, lines *[]string) {
	path = append(path, node.Name)
	atLimit := tf.options.MaxDepth > 0 && node.Depth >= tf.options.MaxDepth
	if len(node.Children) == 0 || atLimit {
		*lines = append(*lines, strings.Join(path, " → "))
		return
	}
	for _, c := range node.Children {
		tf.collectCompact(c, path, lines)
	}
}

func (tf *TreeFormatter) formatJSON(tree *Tree) string {
	data, err := json.MarshalIndent(tree, "", tf.options.Indent)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}
