package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL loads .srcmodel.kdl from dir. It returns nil, nil when the file
// does not exist.
func LoadKDL(dir string) (*Config, error) {
	kdlPath := filepath.Join(dir, KDLFileName)
	content, err := os.ReadFile(kdlPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", KDLFileName, err)
	}
	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, err
	}
	cfg.Dir = dir
	return cfg, nil
}

// parseKDL parses a configuration document:
//
//	project "app" {
//	    location "."
//	    root "src" {
//	        entry "source"
//	        exclude "gen/**"
//	        access "forbidden" "com/acme/internal/**"
//	    }
//	}
//	watch { enabled true; debounce_ms 200 }
//	cache { capacity 2000 }
//	respect_gitignore true
//	exclude "**/testdata/**"
func parseKDL(content string) (*Config, error) {
	cfg := &Config{
		Version:          1,
		Watch:            Watch{Enabled: true, DebounceMs: DefaultWatchDebounceMs},
		RespectGitignore: true,
	}

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "version":
			if v, ok := firstIntArg(n); ok {
				cfg.Version = v
			}
		case "project":
			p, err := parseProject(n)
			if err != nil {
				return nil, err
			}
			cfg.Projects = append(cfg.Projects, p)
		case "watch":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Watch.Enabled = b
					}
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.DebounceMs = v
					}
				}
			}
		case "cache":
			for _, cn := range n.Children {
				if nodeName(cn) == "capacity" {
					if v, ok := firstIntArg(cn); ok {
						cfg.Cache.Capacity = v
					}
				}
			}
		case "respect_gitignore":
			if b, ok := firstBoolArg(n); ok {
				cfg.RespectGitignore = b
			}
		case "exclude":
			cfg.Exclude = append(cfg.Exclude, collectStringArgs(n)...)
		default:
			log.Printf("WARNING: unknown node '%s' in %s", nodeName(n), KDLFileName)
		}
	}
	return cfg, nil
}

func parseProject(n *document.Node) (Project, error) {
	name, ok := firstStringArg(n)
	if !ok {
		return Project{}, fmt.Errorf("project node requires a name argument")
	}
	p := Project{Name: name, Location: "."}
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "location":
			assignSimpleString(cn, "location", func(v string) { p.Location = v })
		case "root":
			r, err := parseRoot(cn)
			if err != nil {
				return Project{}, fmt.Errorf("project %s: %w", name, err)
			}
			p.Roots = append(p.Roots, r)
		}
	}
	return p, nil
}

func parseRoot(n *document.Node) (Root, error) {
	rootPath, ok := firstStringArg(n)
	if !ok {
		return Root{}, fmt.Errorf("root node requires a path argument")
	}
	r := Root{Path: rootPath}
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "entry":
			assignSimpleString(cn, "entry", func(v string) { r.Entry = v })
		case "include":
			r.Include = append(r.Include, collectStringArgs(cn)...)
		case "exclude":
			r.Exclude = append(r.Exclude, collectStringArgs(cn)...)
		case "access":
			// access "forbidden" "pattern" ...
			args := collectStringArgs(cn)
			if len(args) < 2 {
				return Root{}, fmt.Errorf("access rule in root %s needs a kind and at least one pattern", rootPath)
			}
			for _, pattern := range args[1:] {
				r.Access = append(r.Access, Access{Pattern: pattern, Kind: args[0]})
			}
		}
	}
	return r, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		log.Printf("WARNING: invalid integer value for '%s' in KDL config, got %T", nodeName(n), v)
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	s, ok := n.Arguments[0].Value.(string)
	return s, ok
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	b, ok := n.Arguments[0].Value.(bool)
	return b, ok
}

// collectStringArgs accepts both the inline form (exclude "a" "b") and the
// block form (exclude { "a"; "b" }).
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				// In block form the node name is the value.
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
