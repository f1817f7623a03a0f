package config

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/standardbeagle/srcmodel/internal/cache"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

// Configuration file names, in lookup order.
const (
	KDLFileName  = ".srcmodel.kdl"
	TOMLFileName = "srcmodel.toml"
)

// DefaultWatchDebounceMs is the debounce used when none is configured.
const DefaultWatchDebounceMs = 100

// FileNames lists the base names whose change invalidates a loaded
// configuration.
var FileNames = []string{KDLFileName, TOMLFileName, ".gitignore"}

type Config struct {
	Version  int       `toml:"version"`
	Projects []Project `toml:"project"`
	Watch    Watch     `toml:"watch"`
	Cache    Cache     `toml:"cache"`
	// Exclude is added to the exclusions of every source root.
	Exclude          []string `toml:"exclude"`
	RespectGitignore bool     `toml:"respect_gitignore"`

	// Dir is the directory the configuration was loaded from. Relative
	// project locations resolve against it.
	Dir string `toml:"-"`
}

type Project struct {
	Name     string `toml:"name"`
	Location string `toml:"location"`
	Roots    []Root `toml:"root"`
}

type Root struct {
	Path    string   `toml:"path"`
	Entry   string   `toml:"entry"`
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
	Access  []Access `toml:"access"`
}

// Access is an access rule as written in configuration.
type Access struct {
	Pattern string `toml:"pattern"`
	Kind    string `toml:"kind"`
}

type Watch struct {
	Enabled    bool `toml:"enabled"`
	DebounceMs int  `toml:"debounce_ms"`
}

type Cache struct {
	Capacity int `toml:"capacity"`
}

// Default returns the configuration used for a directory without a
// configuration file: one project named after the directory whose roots
// are guessed from the build layout found there.
func Default(dir string) *Config {
	return &Config{
		Version: 1,
		Dir:     dir,
		Projects: []Project{{
			Name:     filepath.Base(dir),
			Location: ".",
			Roots:    NewLayoutDetector(dir).DetectRoots(),
		}},
		Watch:            Watch{Enabled: true, DebounceMs: DefaultWatchDebounceMs},
		Cache:            Cache{Capacity: cache.DefaultCapacity},
		RespectGitignore: true,
	}
}

// Load loads the configuration found in dir.
func Load(dir string) (*Config, error) {
	home, _ := os.UserHomeDir()
	return LoadWithHome(dir, home)
}

// LoadWithHome loads the configuration of dir, merged over a global
// configuration in home when one exists. Without a project configuration
// the default layout is used.
func LoadWithHome(dir, home string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var base *Config
	if home != "" && filepath.Clean(home) != abs {
		if base, err = loadFile(home); err != nil {
			return nil, err
		}
	}
	project, err := loadFile(abs)
	if err != nil {
		return nil, err
	}
	if project == nil {
		project = Default(abs)
	}
	project.Dir = abs

	cfg := project
	if base != nil {
		cfg = mergeConfigs(base, project)
	}
	if len(cfg.Projects) == 0 {
		cfg.Projects = Default(abs).Projects
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile reads the KDL configuration of dir, then the TOML one. It
// returns nil when neither exists.
func loadFile(dir string) (*Config, error) {
	cfg, err := LoadKDL(dir)
	if err != nil || cfg != nil {
		return cfg, err
	}
	return LoadTOML(dir)
}

// mergeConfigs lays a project configuration over a global one. Global
// exclusions are kept; everything else comes from the project.
func mergeConfigs(base, project *Config) *Config {
	merged := *project
	if len(base.Exclude) > 0 {
		merged.Exclude = DeduplicatePatterns(append(append([]string(nil), base.Exclude...), project.Exclude...))
	}
	if len(project.Projects) == 0 {
		merged.Projects = base.Projects
	}
	if merged.Cache.Capacity == 0 {
		merged.Cache.Capacity = base.Cache.Capacity
	}
	if merged.Watch.DebounceMs == 0 {
		merged.Watch.DebounceMs = base.Watch.DebounceMs
	}
	return &merged
}

// DeduplicatePatterns removes repeated patterns, keeping first occurrences.
func DeduplicatePatterns(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	out := patterns[:0]
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// ProjectConfigs resolves the configuration into registry input. Project
// locations resolve against Dir and root paths against their project.
func (c *Config) ProjectConfigs() ([]roots.ProjectConfig, error) {
	var ignore *GitignoreParser
	out := make([]roots.ProjectConfig, 0, len(c.Projects))
	for _, p := range c.Projects {
		loc := resolvePath(c.Dir, p.Location)
		if c.RespectGitignore {
			ignore = NewGitignoreParser()
			if err := ignore.LoadGitignore(loc); err != nil {
				return nil, errors.NewConfigError("respect_gitignore", loc, err)
			}
		}

		pc := roots.ProjectConfig{Name: p.Name, Location: loc}
		for _, r := range p.Roots {
			rc, err := c.rootConfig(loc, r, ignore)
			if err != nil {
				return nil, err
			}
			pc.Roots = append(pc.Roots, rc)
		}
		out = append(out, pc)
	}
	return out, nil
}

func (c *Config) rootConfig(loc string, r Root, ignore *GitignoreParser) (roots.RootConfig, error) {
	entry := element.EntrySource
	if r.Entry != "" {
		var ok bool
		if entry, ok = element.ParseEntryKind(r.Entry); !ok {
			return roots.RootConfig{}, errors.NewConfigError("entry", r.Entry, fmt.Errorf("unknown entry kind"))
		}
	}

	rc := roots.RootConfig{
		Path:    resolvePath(loc, r.Path),
		Entry:   entry,
		Include: append([]string(nil), r.Include...),
		Exclude: append([]string(nil), r.Exclude...),
	}
	if entry == element.EntrySource {
		rc.Exclude = append(rc.Exclude, c.Exclude...)
		if ignore != nil {
			rel := relativeTo(loc, rc.Path)
			rc.Exclude = append(rc.Exclude, ignore.ExclusionsFor(rel)...)
		}
		rc.Exclude = DeduplicatePatterns(rc.Exclude)
	}
	for _, a := range r.Access {
		kind, ok := roots.ParseAccessKind(a.Kind)
		if !ok {
			return roots.RootConfig{}, errors.NewConfigError("access", a.Kind, fmt.Errorf("unknown access kind"))
		}
		rc.Access = append(rc.Access, roots.AccessRule{Pattern: a.Pattern, Kind: kind})
	}
	return rc, nil
}

func resolvePath(dir, p string) string {
	if p == "" {
		p = "."
	}
	if filepath.IsAbs(p) || path.IsAbs(filepath.ToSlash(p)) {
		return workspace.Clean(p)
	}
	return workspace.Clean(filepath.Join(dir, p))
}

// relativeTo returns p relative to dir, or "" when p is dir itself, or
// "-" when p lies outside dir.
func relativeTo(dir, p string) string {
	dir, p = workspace.Clean(dir), workspace.Clean(p)
	switch {
	case p == dir:
		return ""
	case dir == "/":
		return p[1:]
	case len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == '/':
		return p[len(dir)+1:]
	}
	return "-"
}

// Source loads project configurations from a directory on every call, so
// edits to the configuration files are picked up on reload.
type Source struct {
	Dir  string
	Home string
}

// NewSource returns a source reading dir, merged over the user's global
// configuration.
func NewSource(dir string) *Source {
	home, _ := os.UserHomeDir()
	return &Source{Dir: dir, Home: home}
}

// Config loads the full configuration.
func (s *Source) Config() (*Config, error) {
	return LoadWithHome(s.Dir, s.Home)
}

// Projects loads and resolves the project configurations.
func (s *Source) Projects(ctx context.Context) ([]roots.ProjectConfig, error) {
	if err := errors.CheckContext(ctx, "load configuration"); err != nil {
		return nil, err
	}
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	return cfg.ProjectConfigs()
}

// Static is a fixed set of project configurations.
type Static []roots.ProjectConfig

func (s Static) Projects(context.Context) ([]roots.ProjectConfig, error) {
	return s, nil
}
