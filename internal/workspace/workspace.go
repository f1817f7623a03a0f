// Package workspace is the narrow file-tree contract the source model reads
// through: directory listings, file contents and stat. Paths are absolute and
// use forward slashes.
package workspace

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"
)

// Entry describes one file or directory.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Workspace is the read side of the file tree.
type Workspace interface {
	Stat(p string) (Entry, error)
	// ReadDir lists a directory sorted by name.
	ReadDir(p string) ([]Entry, error)
	ReadFile(p string) ([]byte, error)
}

// Writer is implemented by workspaces that accept saved buffers.
type Writer interface {
	WriteFile(p string, data []byte) error
}

// Clean normalises a path to the slash form used throughout the model.
func Clean(p string) string {
	return path.Clean(filepath.ToSlash(p))
}

// Exists reports whether p exists in ws.
func Exists(ws Workspace, p string) bool {
	_, err := ws.Stat(p)
	return err == nil
}

// OS is a Workspace over the local file system.
type OS struct{}

// NewOS returns the local file-system workspace.
func NewOS() *OS { return &OS{} }

func (OS) Stat(p string) (Entry, error) {
	info, err := os.Stat(filepath.FromSlash(p))
	if err != nil {
		return Entry{}, err
	}
	return entryOf(info), nil
}

func (OS) ReadDir(p string) ([]Entry, error) {
	des, err := os.ReadDir(filepath.FromSlash(p))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			// Vanished between listing and stat
			continue
		}
		out = append(out, entryOf(info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (OS) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(filepath.FromSlash(p))
}

func (OS) WriteFile(p string, data []byte) error {
	return os.WriteFile(filepath.FromSlash(p), data, 0644)
}

func entryOf(info fs.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}
