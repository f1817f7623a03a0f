package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/srcmodel/internal/config"
	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/model"
	"github.com/standardbeagle/srcmodel/internal/version"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "srcmodel",
		Usage:                  "Query and watch the program model of a source tree",
		Version:                version.FullInfo(),
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Directory holding the configuration (or the sources when there is none)",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:    "project",
				Aliases: []string{"p"},
				Usage:   "Project to query (defaults to the first configured project)",
			},
			&cli.IntFlag{
				Name:  "cache-capacity",
				Usage: "Maximum number of open elements (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "debug-log",
				Usage: "Write debug output to a log file in the temp directory",
			},
		},
		Before: func(c *cli.Context) error {
			if !c.Bool("debug-log") {
				return nil
			}
			path, err := debug.InitDebugLogFile()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.ErrWriter, "Debug log: %s\n", path)
			return nil
		},
		After: func(c *cli.Context) error {
			return debug.CloseDebugLog()
		},
		Commands: []*cli.Command{
			treeCommand(),
			findCommand(),
			watchCommand(),
		},
	}
}

// session is a model opened for one command.
type session struct {
	model   *model.Model
	config  *config.Config
	project string
}

// openModel loads the configuration below --root and builds a model over
// the local file system.
func openModel(ctx context.Context, c *cli.Context) (*session, error) {
	root, err := filepath.Abs(c.String("root"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path %q: %w", c.String("root"), err)
	}
	src := config.NewSource(root)
	cfg, err := src.Config()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", root, err)
	}

	capacity := cfg.Cache.Capacity
	if v := c.Int("cache-capacity"); v > 0 {
		capacity = v
	}
	m, err := model.New(ctx, model.Options{
		Workspace:     workspace.NewOS(),
		Config:        src,
		CacheCapacity: capacity,
	})
	if err != nil {
		return nil, err
	}

	s := &session{model: m, config: cfg, project: c.String("project")}
	if s.project == "" {
		projects := m.Registry().Projects()
		if len(projects) == 0 {
			m.Close()
			return nil, cli.Exit("no projects configured", 2)
		}
		s.project = projects[0]
	} else if _, ok := m.Registry().Project(s.project); !ok {
		m.Close()
		return nil, cli.Exit(fmt.Sprintf("unknown project %q", s.project), 2)
	}
	return s, nil
}

func (s *session) Close() error {
	return s.model.Close()
}
