// Package watcher turns filesystem activity and configuration events into
// debounced rescans.
//
// A ChangeWatcher observes exactly one plugin directory at a time. Every
// qualifying event resets a single-slot Debouncer; when the delay elapses
// without further events the rescan runs once. FilePoller covers individual
// files (the persisted lists, the mod manifest) by polling modification times.
package watcher

import (
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// DefaultDelay is the quiet period before a rescan runs.
const DefaultDelay = 500 * time.Millisecond

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event represents a file system change event.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string

	// Op is the operation that occurred.
	Op Op

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// FSWatcher delivers raw filesystem events for watched paths.
type FSWatcher interface {
	// Watch starts watching a path. Directories report their direct children.
	Watch(path string) error

	// Unwatch stops watching a path.
	Unwatch(path string) error

	// Events returns the event channel. It is closed by Close.
	Events() <-chan Event

	// Errors returns the error channel. It is closed by Close.
	Errors() <-chan error

	// Close stops the watcher and releases resources.
	Close() error
}

// Handler is a function that handles file system events.
type Handler func(event Event)
