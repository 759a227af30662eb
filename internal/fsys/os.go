package fsys

import (
	"io/fs"
	"os"
	"sort"
)

// OSFS implements FS on top of the operating system.
type OSFS struct{}

// NewOSFS returns an OS-backed filesystem.
func NewOSFS() *OSFS {
	return &OSFS{}
}

var _ FS = (*OSFS)(nil)

// ReadDir reads a directory. Entries whose info cannot be read (removed
// between listing and stat) are skipped.
func (f *OSFS) ReadDir(path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	result := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		result = append(result, fromOS(info))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result, nil
}

// ReadFile reads a file.
func (f *OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file information.
func (f *OSFS) Stat(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return fromOS(info), nil
}

// WriteFile writes a file and flushes it to stable storage.
func (f *OSFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// MkdirAll creates a directory tree.
func (f *OSFS) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Rename renames a file.
func (f *OSFS) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// Remove removes a file.
func (f *OSFS) Remove(path string) error {
	return os.Remove(path)
}

func fromOS(info os.FileInfo) FileInfo {
	return NewFileInfo(info.Name(), info.Size(), info.Mode(), info.ModTime())
}
