package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// GitignoreParser reads one .gitignore file and turns its patterns into
// root exclusions.
type GitignoreParser struct {
	patterns []GitignorePattern
}

type GitignorePattern struct {
	Pattern   string
	Negate    bool
	Directory bool
	// Anchored patterns match from the .gitignore directory only: a leading
	// slash or a slash in the middle anchors a pattern.
	Anchored bool
}

// NewGitignoreParser creates a new gitignore parser
func NewGitignoreParser() *GitignoreParser {
	return &GitignoreParser{}
}

// LoadGitignore loads patterns from dir/.gitignore. A missing file is not
// an error.
func (gp *GitignoreParser) LoadGitignore(dir string) error {
	file, err := os.Open(filepath.Join(dir, ".gitignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	return gp.Read(file)
}

// Read parses patterns, one per line.
func (gp *GitignoreParser) Read(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		gp.AddPattern(scanner.Text())
	}
	return scanner.Err()
}

// AddPattern adds a single pattern line. Blank lines and comments are
// skipped.
func (gp *GitignoreParser) AddPattern(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	gp.patterns = append(gp.patterns, parsePattern(line))
}

func parsePattern(line string) GitignorePattern {
	var p GitignorePattern
	if strings.HasPrefix(line, "!") {
		p.Negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.Directory = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.Anchored = true
		line = line[1:]
	} else if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") {
		p.Anchored = true
	}
	p.Pattern = line
	return p
}

// ShouldIgnore reports whether a path relative to the .gitignore
// directory is ignored. Later patterns override earlier ones.
func (gp *GitignoreParser) ShouldIgnore(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	ignored := false
	for _, p := range gp.patterns {
		if matchPattern(p.glob(""), rel, isDir) {
			ignored = !p.Negate
		}
	}
	return ignored
}

func matchPattern(glob, rel string, dirLike bool) bool {
	if ok, err := doublestar.Match(glob, rel); err == nil && ok {
		return true
	}
	if dirLike && strings.HasSuffix(glob, "/**") {
		ok, err := doublestar.Match(strings.TrimSuffix(glob, "/**"), rel)
		return err == nil && ok
	}
	return false
}

// glob converts the pattern to a doublestar pattern relative to a root at
// rootRel below the .gitignore directory. It returns "" when an anchored
// pattern cannot match inside that root.
func (p GitignorePattern) glob(rootRel string) string {
	pat := p.Pattern
	if p.Anchored && rootRel != "" {
		prefix := rootRel + "/"
		if !strings.HasPrefix(pat, prefix) {
			return ""
		}
		pat = pat[len(prefix):]
	} else if !p.Anchored && !strings.HasPrefix(pat, "**/") {
		pat = "**/" + pat
	}
	if p.Directory {
		pat += "/**"
	}
	return pat
}

// ExclusionsFor returns the ignore patterns as exclusions of a root at
// rootRel below the .gitignore directory ("" for the directory itself).
// Negations are not representable as exclusions and are skipped; so is
// every pattern when the root lies outside the directory.
func (gp *GitignoreParser) ExclusionsFor(rootRel string) []string {
	if rootRel == "-" {
		return nil
	}
	var out []string
	for _, p := range gp.patterns {
		if p.Negate {
			continue
		}
		if g := p.glob(rootRel); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// GetExclusionPatterns returns the exclusions for a root at the .gitignore
// directory.
func (gp *GitignoreParser) GetExclusionPatterns() []string {
	return gp.ExclusionsFor("")
}
