package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/srcmodel/internal/config"
	"github.com/standardbeagle/srcmodel/internal/delta"
	"github.com/standardbeagle/srcmodel/internal/watch"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"w"},
		Usage:   "Keep the model in sync with the file system and print every delta",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "Quiet period before a batch of changes is applied (overrides config)",
			},
		},
		Action: watchAction,
	}
}

// skippedDirs are never watched.
var skippedDirs = map[string]bool{".git": true, ".hg": true, ".svn": true, "node_modules": true}

func watchAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openModel(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.config.Watch.Enabled && !c.IsSet("debounce") {
		return cli.Exit("watching is disabled by configuration", 2)
	}
	debounce := time.Duration(s.config.Watch.DebounceMs) * time.Millisecond
	if c.IsSet("debounce") {
		debounce = c.Duration("debounce")
	}

	var mu sync.Mutex
	unsubscribe := s.model.Subscribe(func(_ context.Context, d *delta.Delta) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(c.App.Writer, "%s\n%s\n", time.Now().Format(time.TimeOnly), d)
	})
	defer unsubscribe()

	err = s.model.Watch(ctx, watch.Options{
		Debounce:    debounce,
		ConfigNames: config.FileNames,
		Ignore: func(p string, isDir bool) bool {
			return isDir && skippedDirs[path.Base(p)]
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Watching project %s (debounce %v)\n", s.project, debounce)

	<-ctx.Done()
	return s.model.StopWatching()
}
