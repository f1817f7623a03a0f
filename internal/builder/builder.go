// Package builder turns unit content into declaration trees. Builders never
// fail on malformed input: they report problems and an unknown structure.
package builder

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/cespare/xxhash/v2"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/element"
)

// StructureBuilder builds the declarations of one unit from its raw content.
// It is invoked once per open.
type StructureBuilder interface {
	Build(ctx context.Context, unit element.Handle, content []byte) (*element.BuildResult, error)
}

// Multi dispatches to a builder by file extension.
type Multi struct {
	mu    sync.RWMutex
	byExt map[string]StructureBuilder
}

// NewMulti creates an empty dispatcher.
func NewMulti() *Multi {
	return &Multi{byExt: make(map[string]StructureBuilder)}
}

// NewDefault returns a dispatcher with the Java and Go builders registered.
func NewDefault() *Multi {
	m := NewMulti()
	m.Register(".java", NewJava())
	m.Register(".go", NewGo())
	return m
}

// Register installs b for units with the given extension.
func (m *Multi) Register(ext string, b StructureBuilder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byExt[ext] = b
}

// For returns the builder for a unit file name.
func (m *Multi) For(name string) (StructureBuilder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byExt[path.Ext(name)]
	return b, ok
}

// Build implements StructureBuilder.
func (m *Multi) Build(ctx context.Context, unit element.Handle, content []byte) (*element.BuildResult, error) {
	b, ok := m.For(unit.Name())
	if !ok {
		return &element.BuildResult{Problems: []element.Problem{{
			Message:  fmt.Sprintf("no structure builder for %s", unit.Name()),
			Severity: element.SeverityWarning,
		}}}, nil
	}
	return b.Build(ctx, unit, content)
}

// Close releases the parsers held by registered builders.
func (m *Multi) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byExt {
		if c, ok := b.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

const maxIdleParsers = 4

// parserPool hands out tree-sitter parsers for one language. Parsers are not
// safe for concurrent use and own C memory, so idle ones are kept in a
// bounded channel and closed explicitly.
type parserPool struct {
	language *tree_sitter.Language
	idle     chan *tree_sitter.Parser
}

func newParserPool(language *tree_sitter.Language) *parserPool {
	return &parserPool{language: language, idle: make(chan *tree_sitter.Parser, maxIdleParsers)}
}

func (p *parserPool) get() (*tree_sitter.Parser, error) {
	select {
	case parser := <-p.idle:
		return parser, nil
	default:
	}
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(p.language); err != nil {
		parser.Close()
		return nil, err
	}
	return parser, nil
}

func (p *parserPool) put(parser *tree_sitter.Parser) {
	select {
	case p.idle <- parser:
	default:
		parser.Close()
	}
}

func (p *parserPool) close() {
	for {
		select {
		case parser := <-p.idle:
			parser.Close()
		default:
			return
		}
	}
}

// parse runs one parse and calls visit with the tree. The content is copied
// first because the C library may touch the buffer it is given.
func (p *parserPool) parse(name string, content []byte, visit func(root *tree_sitter.Node, src []byte)) (err error) {
	parser, err := p.get()
	if err != nil {
		return err
	}
	defer p.put(parser)

	defer func() {
		if r := recover(); r != nil {
			debug.Warn("tree-sitter panic in %s: %v\n", name, r)
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()

	src := make([]byte, len(content))
	copy(src, content)

	tree := parser.Parse(src, nil)
	if tree == nil {
		return fmt.Errorf("no tree produced for %s", name)
	}
	defer tree.Close()
	visit(tree.RootNode(), src)
	return nil
}

func text(n *tree_sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}

func rangeOf(n *tree_sitter.Node) element.Range {
	start, end := n.StartPosition(), n.EndPosition()
	return element.Range{
		StartByte: int(n.StartByte()),
		EndByte:   int(n.EndByte()),
		StartLine: int(start.Row) + 1,
		StartCol:  int(start.Column) + 1,
		EndLine:   int(end.Row) + 1,
		EndCol:    int(end.Column) + 1,
	}
}

func fingerprint(n *tree_sitter.Node, src []byte) uint64 {
	return xxhash.Sum64(src[n.StartByte():n.EndByte()])
}

func children(n *tree_sitter.Node) []*tree_sitter.Node {
	if n == nil {
		return nil
	}
	count := n.ChildCount()
	out := make([]*tree_sitter.Node, 0, count)
	for i := uint(0); i < count; i++ {
		if c := n.Child(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// syntaxProblems collects ERROR and MISSING nodes as diagnostics.
func syntaxProblems(root *tree_sitter.Node, src []byte) []element.Problem {
	var problems []element.Problem
	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		switch {
		case n.IsError():
			problems = append(problems, element.Problem{
				Message:  fmt.Sprintf("syntax error near %q", truncate(text(n, src), 32)),
				Severity: element.SeverityError,
				Range:    rangeOf(n),
			})
			return
		case n.IsMissing():
			problems = append(problems, element.Problem{
				Message:  fmt.Sprintf("missing %s", n.Kind()),
				Severity: element.SeverityError,
				Range:    rangeOf(n),
			})
			return
		}
		if !n.HasError() {
			return
		}
		for _, c := range children(n) {
			walk(c)
		}
	}
	walk(root)
	return problems
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// unknown is the result for content that could not be understood.
func unknown(language string, problems []element.Problem) *element.BuildResult {
	return &element.BuildResult{Language: language, Problems: problems, Known: false}
}
