// Package fsys is the small filesystem surface used by the catalog builder
// and the persistor.
//
// Production code uses OSFS; tests use MemFS, which also supports injecting
// per-path failures to simulate unreadable directories.
package fsys

import (
	"io/fs"
	"time"
)

// FS is the set of filesystem operations the sync engine needs.
type FS interface {
	// ReadDir returns the entries of a directory sorted by name.
	ReadDir(path string) ([]FileInfo, error)

	// ReadFile reads the entire file content.
	ReadFile(path string) ([]byte, error)

	// Stat returns file information.
	Stat(path string) (FileInfo, error)

	// WriteFile writes data to a file, creating or truncating it.
	WriteFile(path string, data []byte, perm fs.FileMode) error

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Rename atomically replaces newPath with oldPath.
	Rename(oldPath, newPath string) error

	// Remove removes a file or empty directory.
	Remove(path string) error
}

// FileInfo describes a file or directory.
type FileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

// NewFileInfo creates a FileInfo.
func NewFileInfo(name string, size int64, mode fs.FileMode, modTime time.Time) FileInfo {
	return FileInfo{name: name, size: size, mode: mode, modTime: modTime}
}

// Name returns the base name.
func (fi FileInfo) Name() string { return fi.name }

// Size returns the size in bytes.
func (fi FileInfo) Size() int64 { return fi.size }

// Mode returns the file mode.
func (fi FileInfo) Mode() fs.FileMode { return fi.mode }

// ModTime returns the modification time.
func (fi FileInfo) ModTime() time.Time { return fi.modTime }

// IsDir reports whether the entry is a directory.
func (fi FileInfo) IsDir() bool { return fi.mode.IsDir() }

// IsRegular reports whether the entry is a regular file.
func (fi FileInfo) IsRegular() bool { return fi.mode.IsRegular() }
