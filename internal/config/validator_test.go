package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/srcmodel/internal/cache"
)

func validConfig() *Config {
	return &Config{
		Projects: []Project{{
			Name: "app",
			Roots: []Root{
				{Path: "src", Exclude: []string{"gen/**"}},
				{Path: "lib", Entry: "library", Access: []Access{{Pattern: "com/acme/**", Kind: "discouraged"}}},
			},
		}},
	}
}

func TestValidateAndSetDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, NewValidator().ValidateAndSetDefaults(cfg))

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, DefaultWatchDebounceMs, cfg.Watch.DebounceMs)
	assert.Equal(t, cache.DefaultCapacity, cfg.Cache.Capacity)
	assert.Equal(t, ".", cfg.Projects[0].Location)
}

func TestValidateAndSetDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := validConfig()
	cfg.Watch.DebounceMs = 500
	cfg.Cache.Capacity = 10
	cfg.Projects[0].Location = "app"
	require.NoError(t, ValidateConfig(cfg))

	assert.Equal(t, 500, cfg.Watch.DebounceMs)
	assert.Equal(t, 10, cfg.Cache.Capacity)
	assert.Equal(t, "app", cfg.Projects[0].Location)
}

func TestValidateConfig_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty project name", func(c *Config) { c.Projects[0].Name = "" }},
		{"separator in project name", func(c *Config) { c.Projects[0].Name = "a/b" }},
		{"duplicate project", func(c *Config) { c.Projects = append(c.Projects, Project{Name: "app"}) }},
		{"duplicate root", func(c *Config) {
			c.Projects[0].Roots = append(c.Projects[0].Roots, Root{Path: "./src/"})
		}},
		{"unknown entry", func(c *Config) { c.Projects[0].Roots[0].Entry = "jar" }},
		{"unknown access kind", func(c *Config) { c.Projects[0].Roots[1].Access[0].Kind = "maybe" }},
		{"bad access pattern", func(c *Config) { c.Projects[0].Roots[1].Access[0].Pattern = "com/[acme" }},
		{"bad exclusion", func(c *Config) { c.Projects[0].Roots[0].Exclude = []string{"gen/[**"} }},
		{"bad global exclusion", func(c *Config) { c.Exclude = []string{"{a,b"} }},
		{"negative debounce", func(c *Config) { c.Watch.DebounceMs = -1 }},
		{"huge debounce", func(c *Config) { c.Watch.DebounceMs = 120_000 }},
		{"negative capacity", func(c *Config) { c.Cache.Capacity = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}
