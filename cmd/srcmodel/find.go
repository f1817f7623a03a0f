package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/lookup"
)

func findCommand() *cli.Command {
	return &cli.Command{
		Name:      "find",
		Aliases:   []string{"f"},
		Usage:     "Resolve a type or qualified name on a project's classpath",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "package",
				Aliases: []string{"k"},
				Usage:   "Package to look NAME up in",
			},
			&cli.BoolFlag{
				Name:  "restrictions",
				Usage: "Prefer answers without access restrictions",
				Value: true,
			},
			&cli.IntFlag{
				Name:  "suggest",
				Usage: "Number of near misses to print when NAME is not found",
				Value: 5,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: findAction,
	}
}

// findResult is the printed form of an answer.
type findResult struct {
	Qualified   string  `json:"qualified"`
	Kind        string  `json:"kind"`
	Path        string  `json:"path,omitempty"`
	Line        int     `json:"line,omitempty"`
	Root        string  `json:"root,omitempty"`
	Restriction string  `json:"restriction,omitempty"`
	Unsaved     bool    `json:"unsaved,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

func findAction(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return cli.Exit("find requires a NAME argument", 2)
	}

	ctx := c.Context
	s, err := openModel(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()

	l, err := s.model.Lookup(s.project)
	if err != nil {
		return err
	}

	pkg := c.String("package")
	var (
		a  lookup.Answer
		ok bool
	)
	if pkg == "" && strings.Contains(name, ".") {
		a, ok = l.FindBinding(ctx, name)
		if !ok {
			// Suggestions come from the named package.
			i := strings.LastIndexByte(name, '.')
			pkg, name = name[:i], name[i+1:]
		}
	}
	if !ok {
		a, ok = l.FindType(ctx, name, pkg, lookup.AcceptAll, c.Bool("restrictions"))
	}

	if ok {
		return printResults(c, []findResult{s.describe(c, a, 0)})
	}

	var results []findResult
	for _, sg := range l.Suggest(ctx, name, pkg, c.Int("suggest")) {
		results = append(results, s.describe(c, sg.Answer, sg.Score))
	}
	if len(results) > 0 && !c.Bool("json") {
		fmt.Fprintf(c.App.Writer, "%s not found; did you mean:\n", name)
	}
	if err := printResults(c, results); err != nil {
		return err
	}
	return cli.Exit(fmt.Sprintf("%s: not found in project %s", name, s.project), 1)
}

func (s *session) describe(c *cli.Context, a lookup.Answer, score float64) findResult {
	r := findResult{
		Qualified: a.Qualified,
		Kind:      a.Element.Kind().String(),
		Unsaved:   a.FromWorkingCopy,
		Score:     score,
	}
	if r.Qualified == "" {
		r.Qualified = element.QualifiedName(a.Element)
	}
	if a.Root != nil {
		r.Root = a.Root.Path
	}
	if a.Restriction != nil {
		r.Restriction = a.Restriction.Rule.Kind.String()
	}
	if unit, ok := element.Unit(a.Element); ok {
		r.Path, _ = element.PathOf(unit)
	}
	if info, err := s.model.Open(c.Context, a.Element); err == nil {
		switch b := info.Body.(type) {
		case element.TypeBody:
			r.Line = b.Range.StartLine
		case element.FieldBody:
			r.Line = b.Range.StartLine
		case element.FunctionBody:
			r.Line = b.Range.StartLine
		}
	}
	return r
}

func printResults(c *cli.Context, results []findResult) error {
	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		if results == nil {
			results = []findResult{}
		}
		return enc.Encode(results)
	}
	for _, r := range results {
		var sb strings.Builder
		sb.WriteString(r.Qualified)
		fmt.Fprintf(&sb, " <%s>", r.Kind)
		if r.Path != "" {
			sb.WriteString(" " + r.Path)
			if r.Line > 0 {
				fmt.Fprintf(&sb, ":%d", r.Line)
			}
		}
		if r.Restriction != "" {
			sb.WriteString(" [" + r.Restriction + "]")
		}
		if r.Unsaved {
			sb.WriteString(" (unsaved)")
		}
		if r.Score > 0 {
			fmt.Fprintf(&sb, " (%.2f)", r.Score)
		}
		fmt.Fprintln(c.App.Writer, sb.String())
	}
	return nil
}
