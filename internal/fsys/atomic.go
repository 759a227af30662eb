package fsys

import (
	"fmt"
	"io/fs"
)

// tempSuffix is appended to the target path while an atomic write is in flight.
const tempSuffix = ".tmp"

// WriteFileAtomic writes data next to path and renames it into place, so a
// concurrent reader sees either the old or the new content, never a partial
// file.
func WriteFileAtomic(fsys FS, path string, data []byte, perm fs.FileMode) error {
	tempPath := path + tempSuffix
	if err := fsys.WriteFile(tempPath, data, perm); err != nil {
		_ = fsys.Remove(tempPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := fsys.Rename(tempPath, path); err != nil {
		_ = fsys.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
