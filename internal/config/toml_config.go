package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// LoadTOML loads srcmodel.toml from dir. It returns nil, nil when the file
// does not exist.
//
//	respect_gitignore = true
//
//	[watch]
//	debounce_ms = 200
//
//	[[project]]
//	name = "app"
//
//	  [[project.root]]
//	  path = "src"
//	  exclude = ["gen/**"]
//
//	  [[project.root.access]]
//	  pattern = "com/acme/internal/**"
//	  kind = "forbidden"
func LoadTOML(dir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, TOMLFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", TOMLFileName, err)
	}
	cfg, err := parseTOML(data)
	if err != nil {
		return nil, err
	}
	cfg.Dir = dir
	return cfg, nil
}

func parseTOML(data []byte) (*Config, error) {
	cfg := &Config{
		Version:          1,
		Watch:            Watch{Enabled: true, DebounceMs: DefaultWatchDebounceMs},
		RespectGitignore: true,
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	for i := range cfg.Projects {
		if cfg.Projects[i].Location == "" {
			cfg.Projects[i].Location = "."
		}
	}
	return cfg, nil
}
