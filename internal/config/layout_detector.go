package config

import (
	"os"
	"path/filepath"
)

// LayoutDetector guesses the roots of a project from its build files.
type LayoutDetector struct {
	projectRoot string
}

// NewLayoutDetector creates a detector for the project at projectRoot.
func NewLayoutDetector(projectRoot string) *LayoutDetector {
	return &LayoutDetector{projectRoot: projectRoot}
}

type layout struct {
	marker  []string
	sources []string
	outputs []string
	exclude []string
}

var layouts = []layout{
	{
		marker:  []string{"pom.xml"},
		sources: []string{"src/main/java", "src/test/java"},
		outputs: []string{"target/classes"},
	},
	{
		marker:  []string{"build.gradle", "build.gradle.kts", "settings.gradle"},
		sources: []string{"src/main/java", "src/test/java"},
		outputs: []string{"build/classes/java/main"},
	},
	{
		marker:  []string{"go.mod"},
		sources: []string{"."},
		exclude: []string{"vendor/**", "**/testdata/**"},
	},
}

// DetectRoots returns the roots of the first matching build layout whose
// directories exist. Without a match the project directory is a single
// source root.
func (d *LayoutDetector) DetectRoots() []Root {
	for _, l := range layouts {
		if !d.anyExists(l.marker) {
			continue
		}
		var out []Root
		for _, s := range l.sources {
			if d.exists(s) {
				out = append(out, Root{Path: s, Entry: "source", Exclude: l.exclude})
			}
		}
		for _, o := range l.outputs {
			if d.exists(o) {
				out = append(out, Root{Path: o, Entry: "output"})
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []Root{{Path: ".", Entry: "source"}}
}

func (d *LayoutDetector) anyExists(names []string) bool {
	for _, n := range names {
		if d.exists(n) {
			return true
		}
	}
	return false
}

func (d *LayoutDetector) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(d.projectRoot, rel))
	return err == nil
}
