package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/srcmodel/internal/display"
	"github.com/standardbeagle/srcmodel/internal/element"
)

func treeCommand() *cli.Command {
	return &cli.Command{
		Name:      "tree",
		Aliases:   []string{"t"},
		Usage:     "Print the element tree of a project, package or type",
		ArgsUsage: "[qualified-name]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "depth",
				Aliases: []string{"d"},
				Usage:   "Maximum depth below the starting element (0 = unlimited)",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, compact or json",
				Value:   "text",
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Print element cache statistics after the tree",
			},
			&cli.BoolFlag{
				Name:    "lines",
				Aliases: []string{"l"},
				Usage:   "Show declaration line numbers",
			},
		},
		Action: treeAction,
	}
}

func treeAction(c *cli.Context) error {
	switch c.String("format") {
	case "text", "compact", "json":
	default:
		return cli.Exit(fmt.Sprintf("unknown format %q", c.String("format")), 2)
	}

	ctx := c.Context
	s, err := openModel(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()

	start := element.ForProject(s.project)
	if name := c.Args().First(); name != "" {
		l, err := s.model.Lookup(s.project)
		if err != nil {
			return err
		}
		a, ok := l.FindBinding(ctx, name)
		if !ok {
			return cli.Exit(fmt.Sprintf("%s: not found in project %s", name, s.project), 1)
		}
		start = a.Element
	}

	tree, err := display.Build(ctx, s.model.Open, start, c.Int("depth"))
	if err != nil {
		return err
	}
	formatter := display.NewTreeFormatter(display.FormatterOptions{
		Format:    c.String("format"),
		ShowLines: c.Bool("lines"),
	})
	fmt.Fprintln(c.App.Writer, formatter.Format(tree))
	if c.Bool("stats") {
		st := s.model.Cache().Stats()
		fmt.Fprintf(c.App.ErrWriter, "Cache: %d entries, %d open, %d builds, hit rate %.0f%% (%s)\n",
			st.Entries, st.Openables, st.Builds, st.HitRate*100, st.Status)
	}
	return nil
}
