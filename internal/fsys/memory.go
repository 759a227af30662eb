package fsys

import (
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// MemFS implements FS in memory. It is safe for concurrent use.
//
// Failures can be injected per path with FailOn, which makes every operation
// touching exactly that path return the given error.
type MemFS struct {
	mu       sync.RWMutex
	files    map[string]*memFile
	dirs     map[string]bool
	failures map[string]error
}

type memFile struct {
	content []byte
	mode    fs.FileMode
	modTime time.Time
}

// NewMemFS creates an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{
		files:    make(map[string]*memFile),
		dirs:     map[string]bool{"/": true},
		failures: make(map[string]error),
	}
}

var _ FS = (*MemFS)(nil)

// FailOn makes operations on p return err. A nil err clears the failure.
func (m *MemFS) FailOn(p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = cleanPath(p)
	if err == nil {
		delete(m.failures, p)
		return
	}
	m.failures[p] = err
}

// ReadDir lists the direct children of a directory.
func (m *MemFS) ReadDir(dirPath string) ([]FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dirPath = cleanPath(dirPath)
	if err := m.failures[dirPath]; err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: dirPath, Err: err}
	}
	if !m.dirs[dirPath] {
		if _, ok := m.files[dirPath]; ok {
			return nil, &fs.PathError{Op: "readdir", Path: dirPath, Err: syscall.ENOTDIR}
		}
		return nil, &fs.PathError{Op: "readdir", Path: dirPath, Err: fs.ErrNotExist}
	}

	prefix := dirPath
	if prefix != "/" {
		prefix += "/"
	}

	var entries []FileInfo
	for p, f := range m.files {
		if name, ok := directChild(prefix, p); ok {
			entries = append(entries, NewFileInfo(name, int64(len(f.content)), f.mode, f.modTime))
		}
	}
	for d := range m.dirs {
		if name, ok := directChild(prefix, d); ok {
			entries = append(entries, NewFileInfo(name, 0, fs.ModeDir|0o755, time.Time{}))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

// ReadFile returns a copy of the file content.
func (m *MemFS) ReadFile(filePath string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filePath = cleanPath(filePath)
	if err := m.failures[filePath]; err != nil {
		return nil, &fs.PathError{Op: "read", Path: filePath, Err: err}
	}
	f, ok := m.files[filePath]
	if !ok {
		if m.dirs[filePath] {
			return nil, &fs.PathError{Op: "read", Path: filePath, Err: syscall.EISDIR}
		}
		return nil, &fs.PathError{Op: "read", Path: filePath, Err: fs.ErrNotExist}
	}
	content := make([]byte, len(f.content))
	copy(content, f.content)
	return content, nil
}

// Stat returns file information.
func (m *MemFS) Stat(filePath string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filePath = cleanPath(filePath)
	if err := m.failures[filePath]; err != nil {
		return FileInfo{}, &fs.PathError{Op: "stat", Path: filePath, Err: err}
	}
	if f, ok := m.files[filePath]; ok {
		return NewFileInfo(path.Base(filePath), int64(len(f.content)), f.mode, f.modTime), nil
	}
	if m.dirs[filePath] {
		return NewFileInfo(path.Base(filePath), 0, fs.ModeDir|0o755, time.Time{}), nil
	}
	return FileInfo{}, &fs.PathError{Op: "stat", Path: filePath, Err: fs.ErrNotExist}
}

// WriteFile writes a file. The parent directory must exist.
func (m *MemFS) WriteFile(filePath string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filePath = cleanPath(filePath)
	parent := path.Dir(filePath)
	for _, p := range []string{filePath, parent} {
		if err := m.failures[p]; err != nil {
			return &fs.PathError{Op: "write", Path: filePath, Err: err}
		}
	}
	if !m.dirs[parent] {
		return &fs.PathError{Op: "write", Path: filePath, Err: fs.ErrNotExist}
	}
	if m.dirs[filePath] {
		return &fs.PathError{Op: "write", Path: filePath, Err: syscall.EISDIR}
	}

	content := make([]byte, len(data))
	copy(content, data)
	m.files[filePath] = &memFile{content: content, mode: perm, modTime: time.Now()}
	return nil
}

// MkdirAll creates a directory and its parents.
func (m *MemFS) MkdirAll(dirPath string, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dirPath = cleanPath(dirPath)
	for p := dirPath; ; p = path.Dir(p) {
		if err := m.failures[p]; err != nil {
			return &fs.PathError{Op: "mkdir", Path: dirPath, Err: err}
		}
		if _, ok := m.files[p]; ok {
			return &fs.PathError{Op: "mkdir", Path: p, Err: syscall.ENOTDIR}
		}
		if p == "/" {
			break
		}
	}
	for p := dirPath; p != "/"; p = path.Dir(p) {
		m.dirs[p] = true
	}
	return nil
}

// Rename moves a file.
func (m *MemFS) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldPath = cleanPath(oldPath)
	newPath = cleanPath(newPath)
	for _, p := range []string{oldPath, newPath} {
		if err := m.failures[p]; err != nil {
			return &fs.PathError{Op: "rename", Path: p, Err: err}
		}
	}
	f, ok := m.files[oldPath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldPath, Err: fs.ErrNotExist}
	}
	if !m.dirs[path.Dir(newPath)] {
		return &fs.PathError{Op: "rename", Path: newPath, Err: fs.ErrNotExist}
	}
	m.files[newPath] = f
	delete(m.files, oldPath)
	return nil
}

// Remove removes a file or empty directory.
func (m *MemFS) Remove(filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filePath = cleanPath(filePath)
	if err := m.failures[filePath]; err != nil {
		return &fs.PathError{Op: "remove", Path: filePath, Err: err}
	}
	if _, ok := m.files[filePath]; ok {
		delete(m.files, filePath)
		return nil
	}
	if !m.dirs[filePath] {
		return &fs.PathError{Op: "remove", Path: filePath, Err: fs.ErrNotExist}
	}
	prefix := filePath + "/"
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			return &fs.PathError{Op: "remove", Path: filePath, Err: syscall.ENOTEMPTY}
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, prefix) {
			return &fs.PathError{Op: "remove", Path: filePath, Err: syscall.ENOTEMPTY}
		}
	}
	delete(m.dirs, filePath)
	return nil
}

// AddFile creates a file and any missing parent directories.
func (m *MemFS) AddFile(filePath, content string) error {
	if err := m.MkdirAll(path.Dir(cleanPath(filePath)), 0o755); err != nil {
		return err
	}
	return m.WriteFile(filePath, []byte(content), 0o644)
}

// Files returns every file path, sorted.
func (m *MemFS) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]string, 0, len(m.files))
	for f := range m.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func directChild(prefix, p string) (string, bool) {
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(p, prefix)
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func cleanPath(p string) string {
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
