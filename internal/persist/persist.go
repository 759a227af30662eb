// Package persist reads and writes the two backing files of a profile:
// loadorder.txt holds the full order and plugins.txt the enabled subset.
//
// Both files are rewritten wholesale on every save through a temp file and a
// rename. Writes are fingerprinted so edits made by other tools can be noticed
// and folded back in instead of being overwritten.
package persist

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/plugsync/internal/fsys"
	"github.com/dshills/plugsync/internal/game"
	"github.com/dshills/plugsync/internal/loadorder"
	"github.com/dshills/plugsync/internal/logging"
)

// Backing file names inside a profile directory.
const (
	OrderFile   = "loadorder.txt"
	EnabledFile = "plugins.txt"
)

// Errors returned by the persistor.
var (
	// ErrIOUnavailable indicates the profile directory cannot be read or written.
	ErrIOUnavailable = errors.New("persisted state unavailable")

	// ErrNoProfile indicates Save was called before Load activated a profile.
	ErrNoProfile = errors.New("no active profile")

	// ErrUnstorableName indicates a plugin name the backing files cannot
	// hold, such as one with a line break.
	ErrUnstorableName = errors.New("plugin name cannot be stored")
)

// IOError describes a failed filesystem operation on a backing file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is matches ErrIOUnavailable.
func (e *IOError) Is(target error) bool {
	return target == ErrIOUnavailable
}

// LoadResult is the state read for a profile.
type LoadResult struct {
	Entries  []loadorder.Entry
	Warnings []*LineWarning
}

// Persistor owns the backing files of the active profile.
type Persistor struct {
	mu     sync.Mutex
	root   string
	fs     fsys.FS
	logger zerolog.Logger

	gameID string
	prints map[string]fingerprint
}

// Option configures a Persistor.
type Option func(*Persistor)

// WithFS sets the filesystem. Defaults to the OS filesystem.
func WithFS(f fsys.FS) Option {
	return func(p *Persistor) {
		p.fs = f
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Persistor) {
		p.logger = logging.Component(l, "persist")
	}
}

// New creates a persistor storing profiles under root.
func New(root string, opts ...Option) *Persistor {
	p := &Persistor{
		root:   root,
		fs:     fsys.NewOSFS(),
		logger: logging.Nop(),
		prints: make(map[string]fingerprint),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Active returns the id of the active profile, or "".
func (p *Persistor) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gameID
}

// Dir returns the profile directory of gameID.
func (p *Persistor) Dir(gameID string) string {
	return filepath.Join(p.root, gameID)
}

// Files returns the backing file paths of the active profile.
func (p *Persistor) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gameID == "" {
		return nil
	}
	return p.paths()
}

func (p *Persistor) paths() []string {
	dir := p.Dir(p.gameID)
	return []string{filepath.Join(dir, OrderFile), filepath.Join(dir, EnabledFile)}
}

// Load activates gameID and reads its backing files. A missing profile
// directory yields an empty result. Missing files inside an existing directory
// are created empty. Malformed lines are skipped and reported as warnings.
func (p *Persistor) Load(gameID string) (*LoadResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gameID = gameID
	p.prints = make(map[string]fingerprint)

	dir := p.Dir(gameID)
	info, err := p.fs.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Debug().Str("dir", dir).Msg("profile directory missing")
			return &LoadResult{}, nil
		}
		return nil, &IOError{Op: "stat", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &IOError{Op: "stat", Path: dir, Err: fmt.Errorf("not a directory")}
	}

	orderPath := filepath.Join(dir, OrderFile)
	enabledPath := filepath.Join(dir, EnabledFile)

	orderData, err := p.readOrCreate(orderPath)
	if err != nil {
		return nil, err
	}
	enabledData, err := p.readOrCreate(enabledPath)
	if err != nil {
		return nil, err
	}

	order, warnings := parseList(OrderFile, orderData, false)
	enabled, enabledWarnings := parseList(EnabledFile, enabledData, true)
	warnings = append(warnings, enabledWarnings...)
	for _, w := range warnings {
		p.logger.Warn().Str("file", w.File).Int("line", w.Line).Str("reason", w.Reason).Msg("skipped persisted line")
	}

	p.prints[orderPath] = fingerprintOf(orderData)
	p.prints[enabledPath] = fingerprintOf(enabledData)
	p.stampModTimes()

	return &LoadResult{
		Entries:  merge(order, enabled),
		Warnings: warnings,
	}, nil
}

func (p *Persistor) readOrCreate(path string) ([]byte, error) {
	data, err := p.fs.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	if err := p.fs.WriteFile(path, nil, 0o644); err != nil {
		return nil, &IOError{Op: "create", Path: path, Err: err}
	}
	p.logger.Debug().Str("path", path).Msg("created empty backing file")
	return nil, nil
}

// merge builds entries from the order list; enabled names the order does not
// mention are appended.
func merge(order, enabled []string) []loadorder.Entry {
	enabledSet := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		enabledSet[game.Key(name)] = true
	}

	entries := make([]loadorder.Entry, 0, len(order)+len(enabled))
	listed := make(map[string]bool, len(order))
	for _, name := range order {
		key := game.Key(name)
		listed[key] = true
		entries = append(entries, loadorder.Entry{
			Name:     name,
			Position: len(entries),
			Enabled:  enabledSet[key],
		})
	}
	for _, name := range enabled {
		if listed[game.Key(name)] {
			continue
		}
		listed[game.Key(name)] = true
		entries = append(entries, loadorder.Entry{
			Name:     name,
			Position: len(entries),
			Enabled:  true,
		})
	}
	return entries
}

// Save rewrites both backing files of the active profile from entries.
func (p *Persistor) Save(entries []loadorder.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gameID == "" {
		return ErrNoProfile
	}
	for _, e := range entries {
		if reason := unstorableName(e.Name); reason != "" {
			return fmt.Errorf("%w: %q: %s", ErrUnstorableName, e.Name, reason)
		}
	}

	dir := p.Dir(p.gameID)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	var order, enabled bytes.Buffer
	for _, e := range entries {
		order.WriteString(e.Name)
		order.WriteByte('\n')
		if e.Enabled {
			enabled.WriteString(e.Name)
			enabled.WriteByte('\n')
		}
	}

	files := []struct {
		path string
		data []byte
	}{
		{filepath.Join(dir, OrderFile), order.Bytes()},
		{filepath.Join(dir, EnabledFile), enabled.Bytes()},
	}
	for _, f := range files {
		if err := fsys.WriteFileAtomic(p.fs, f.path, f.data, 0o644); err != nil {
			return &IOError{Op: "write", Path: f.path, Err: err}
		}
		p.prints[f.path] = fingerprintOf(f.data)
	}
	p.stampModTimes()

	p.logger.Debug().Str("game", p.gameID).Int("plugins", len(entries)).Msg("saved load order")
	return nil
}

// Stale reports whether a backing file changed since the last Load or Save.
func (p *Persistor) Stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gameID == "" || len(p.prints) == 0 {
		return false
	}
	for path, want := range p.prints {
		info, err := p.fs.Stat(path)
		if err != nil {
			return true
		}
		if info.Size() != want.size {
			return true
		}
		if info.ModTime().Equal(want.modTime) {
			continue
		}
		// Same size but touched: compare content.
		data, err := p.fs.ReadFile(path)
		if err != nil || sha256.Sum256(data) != want.sum {
			return true
		}
	}
	return false
}

// stampModTimes records the current mtime of every fingerprinted file.
func (p *Persistor) stampModTimes() {
	for path, fp := range p.prints {
		if info, err := p.fs.Stat(path); err == nil {
			fp.modTime = info.ModTime()
			p.prints[path] = fp
		}
	}
}

type fingerprint struct {
	size    int64
	modTime time.Time
	sum     [sha256.Size]byte
}

func fingerprintOf(data []byte) fingerprint {
	return fingerprint{
		size: int64(len(data)),
		sum:  sha256.Sum256(data),
	}
}

// String renders entries in loadorder.txt form. Useful for diffs.
func String(entries []loadorder.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		if e.Enabled {
			b.WriteByte('*')
		}
		b.WriteString(e.Name)
		b.WriteByte('\n')
	}
	return b.String()
}
