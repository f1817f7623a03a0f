package workspace

import (
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Mem is an in-memory Workspace. Parent directories are created implicitly.
type Mem struct {
	mu    sync.RWMutex
	files map[string]memFile
	dirs  map[string]time.Time
	clock func() time.Time
}

type memFile struct {
	data    []byte
	modTime time.Time
}

// NewMem returns an empty in-memory workspace containing only "/".
func NewMem() *Mem {
	return &Mem{
		files: make(map[string]memFile),
		dirs:  map[string]time.Time{"/": time.Now()},
		clock: time.Now,
	}
}

func (m *Mem) mkdirAllLocked(dir string) {
	for dir != "/" && dir != "." && dir != "" {
		if _, ok := m.dirs[dir]; ok {
			return
		}
		m.dirs[dir] = m.clock()
		dir = path.Dir(dir)
	}
}

// MkdirAll creates a directory and its parents.
func (m *Mem) MkdirAll(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAllLocked(Clean(dir))
}

// WriteFile creates or replaces a file.
func (m *Mem) WriteFile(p string, data []byte) error {
	p = Clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, isDir := m.dirs[p]; isDir {
		return &fs.PathError{Op: "write", Path: p, Err: fs.ErrInvalid}
	}
	m.mkdirAllLocked(path.Dir(p))
	m.files[p] = memFile{data: append([]byte(nil), data...), modTime: m.clock()}
	return nil
}

// Remove deletes a file or a directory with everything below it.
func (m *Mem) Remove(p string) {
	p = Clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	delete(m.dirs, p)
	prefix := p + "/"
	for f := range m.files {
		if strings.HasPrefix(f, prefix) {
			delete(m.files, f)
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, prefix) {
			delete(m.dirs, d)
		}
	}
}

// Rename moves a file or directory tree.
func (m *Mem) Rename(from, to string) error {
	from, to = Clean(from), Clean(to)
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[from]; ok {
		delete(m.files, from)
		m.mkdirAllLocked(path.Dir(to))
		m.files[to] = f
		return nil
	}
	if _, ok := m.dirs[from]; !ok {
		return &fs.PathError{Op: "rename", Path: from, Err: fs.ErrNotExist}
	}
	prefix := from + "/"
	movedDirs := make(map[string]time.Time)
	for d, ts := range m.dirs {
		if d == from || strings.HasPrefix(d, prefix) {
			movedDirs[d] = ts
		}
	}
	movedFiles := make(map[string]memFile)
	for f, data := range m.files {
		if strings.HasPrefix(f, prefix) {
			movedFiles[f] = data
		}
	}
	for d := range movedDirs {
		delete(m.dirs, d)
	}
	for f := range movedFiles {
		delete(m.files, f)
	}
	m.mkdirAllLocked(path.Dir(to))
	for d, ts := range movedDirs {
		m.dirs[to+strings.TrimPrefix(d, from)] = ts
	}
	for f, data := range movedFiles {
		m.files[to+strings.TrimPrefix(f, from)] = data
	}
	return nil
}

func (m *Mem) Stat(p string) (Entry, error) {
	p = Clean(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.files[p]; ok {
		return Entry{Name: path.Base(p), Size: int64(len(f.data)), ModTime: f.modTime}, nil
	}
	if ts, ok := m.dirs[p]; ok {
		return Entry{Name: path.Base(p), IsDir: true, ModTime: ts}, nil
	}
	return Entry{}, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (m *Mem) ReadDir(p string) ([]Entry, error) {
	p = Clean(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.dirs[p]; !ok {
		return nil, &fs.PathError{Op: "readdir", Path: p, Err: fs.ErrNotExist}
	}
	var out []Entry
	for f, data := range m.files {
		if path.Dir(f) == p {
			out = append(out, Entry{Name: path.Base(f), Size: int64(len(data.data)), ModTime: data.modTime})
		}
	}
	for d, ts := range m.dirs {
		if d != p && path.Dir(d) == p {
			out = append(out, Entry{Name: path.Base(d), IsDir: true, ModTime: ts})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Mem) ReadFile(p string) ([]byte, error) {
	p = Clean(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), f.data...), nil
}
