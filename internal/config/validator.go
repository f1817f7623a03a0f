package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/srcmodel/internal/cache"
	"github.com/standardbeagle/srcmodel/internal/element"
	srcerrors "github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/roots"
)

// Validator validates configuration and sets defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies defaults.
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	names := make(map[string]bool, len(cfg.Projects))
	for i := range cfg.Projects {
		p := &cfg.Projects[i]
		if err := v.validateProject(p); err != nil {
			return srcerrors.NewConfigError("project", p.Name, err)
		}
		if names[p.Name] {
			return srcerrors.NewConfigError("project", p.Name, errors.New("duplicate project name"))
		}
		names[p.Name] = true
	}

	if err := validatePatterns(cfg.Exclude); err != nil {
		return srcerrors.NewConfigError("exclude", "", err)
	}

	if err := v.validateWatchConfig(&cfg.Watch); err != nil {
		return srcerrors.NewConfigError("watch", "", err)
	}

	if cfg.Cache.Capacity < 0 {
		return srcerrors.NewConfigError("cache", fmt.Sprint(cfg.Cache.Capacity),
			fmt.Errorf("Capacity cannot be negative, got %d", cfg.Cache.Capacity))
	}

	v.setDefaults(cfg)
	return nil
}

func (v *Validator) validateProject(p *Project) error {
	if p.Name == "" {
		return errors.New("project name cannot be empty")
	}
	if strings.ContainsAny(p.Name, "/\\") {
		return fmt.Errorf("project name %q contains a path separator", p.Name)
	}

	paths := make(map[string]bool, len(p.Roots))
	for _, r := range p.Roots {
		if err := v.validateRoot(r); err != nil {
			return fmt.Errorf("root %q: %w", r.Path, err)
		}
		key := resolvePath("/", r.Path)
		if paths[key] {
			return fmt.Errorf("root %q is listed twice", r.Path)
		}
		paths[key] = true
	}
	return nil
}

func (v *Validator) validateRoot(r Root) error {
	if r.Entry != "" {
		if _, ok := element.ParseEntryKind(r.Entry); !ok {
			return fmt.Errorf("unknown entry kind %q", r.Entry)
		}
	}
	if err := validatePatterns(r.Include); err != nil {
		return err
	}
	if err := validatePatterns(r.Exclude); err != nil {
		return err
	}
	for _, a := range r.Access {
		if _, ok := roots.ParseAccessKind(a.Kind); !ok {
			return fmt.Errorf("unknown access kind %q", a.Kind)
		}
		if !doublestar.ValidatePattern(a.Pattern) {
			return fmt.Errorf("invalid access pattern %q", a.Pattern)
		}
	}
	return nil
}

func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid pattern %q", p)
		}
	}
	return nil
}

func (v *Validator) validateWatchConfig(w *Watch) error {
	if w.DebounceMs < 0 {
		return fmt.Errorf("DebounceMs cannot be negative, got %d", w.DebounceMs)
	}
	if w.DebounceMs > 60_000 {
		return fmt.Errorf("DebounceMs should not exceed one minute, got %d", w.DebounceMs)
	}
	return nil
}

func (v *Validator) setDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = DefaultWatchDebounceMs
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = cache.DefaultCapacity
	}
	for i := range cfg.Projects {
		if cfg.Projects[i].Location == "" {
			cfg.Projects[i].Location = "."
		}
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	return NewValidator().ValidateAndSetDefaults(cfg)
}
