// Package engine keeps the plugin list and load order of the active profile in
// sync with the installed mods. Each activation opens a Session that owns the
// load order store, its backing files, the directory watcher and the sort
// adapter; rescans run through one sequential pipeline per session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/plugsync/internal/autosort"
	"github.com/dshills/plugsync/internal/fsys"
	"github.com/dshills/plugsync/internal/game"
	"github.com/dshills/plugsync/internal/history"
	"github.com/dshills/plugsync/internal/logging"
	"github.com/dshills/plugsync/internal/metrics"
	"github.com/dshills/plugsync/internal/modlist"
	"github.com/dshills/plugsync/internal/notify"
	"github.com/dshills/plugsync/internal/watcher"
)

// GameSettings holds the per-game paths and policies.
type GameSettings struct {
	// PluginDir is the live plugin directory of the game.
	PluginDir string

	// EnableNew makes newly discovered plugins start enabled.
	EnableNew bool
}

// Options configures an Engine.
type Options struct {
	// Registry resolves game ids. Required.
	Registry *game.Registry

	// StateRoot holds one directory of backing files per game.
	StateRoot string

	// Games maps game ids to their settings.
	Games map[string]GameSettings

	// Mods lists the installed mods. Defaults to an empty list.
	Mods modlist.Source

	// FS is the filesystem. Defaults to the OS filesystem.
	FS fsys.FS

	// Oracle answers sort requests. Nil disables autosort.
	Oracle autosort.Oracle

	// AutoSort requests a sort after every rescan that changed the plugin
	// list. Explicit Sort calls work regardless.
	AutoSort bool

	// SortTimeout bounds one oracle call. Zero means no limit.
	SortTimeout time.Duration

	// Debounce is the quiet period before a rescan. Defaults to
	// watcher.DefaultDelay.
	Debounce time.Duration

	// Watch attaches a filesystem watcher to the plugin directory and polls
	// the backing files.
	Watch bool

	// PollInterval is the backing file poll interval. Defaults to one second.
	PollInterval time.Duration

	// WatcherFactory creates directory watchers. Defaults to fsnotify.
	WatcherFactory watcher.Factory

	// Notifier receives engine events. One is created when nil.
	Notifier *notify.Notifier

	// Metrics records counters. Optional.
	Metrics *metrics.Metrics

	// History records a snapshot after every save. Optional.
	History *history.Store

	// Logger is the base logger. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

// Engine owns the active profile session.
type Engine struct {
	opts     Options
	logger   zerolog.Logger
	notifier *notify.Notifier
	ownsNote bool

	mu      sync.Mutex
	session *Session
	closed  bool
}

// New creates an engine. No profile is active until ActivateProfile.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if opts.FS == nil {
		opts.FS = fsys.NewOSFS()
	}
	if opts.Mods == nil {
		opts.Mods = &modlist.StaticSource{}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = watcher.DefaultDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	e := &Engine{
		opts:     opts,
		logger:   logging.Nop(),
		notifier: opts.Notifier,
	}
	if opts.Logger != nil {
		e.logger = logging.Component(*opts.Logger, "engine")
	}
	if e.notifier == nil {
		e.notifier = notify.New()
		e.ownsNote = true
	}
	return e, nil
}

// Notifier returns the event notifier.
func (e *Engine) Notifier() *notify.Notifier {
	return e.notifier
}

// Registry returns the game registry.
func (e *Engine) Registry() *game.Registry {
	return e.opts.Registry
}

// History returns the snapshot store, or nil.
func (e *Engine) History() *history.Store {
	return e.opts.History
}

// ActivateProfile makes gameID the active profile. The previous session is
// deactivated first: its pending rescan is cancelled, its watch detached and
// any in-flight sort result discarded. The new session loads the persisted
// state and runs one rescan before returning. If that rescan fails the session
// stays active and is returned together with the error.
func (e *Engine) ActivateProfile(ctx context.Context, gameID string) (*Session, error) {
	g, err := e.opts.Registry.Get(gameID)
	if err != nil {
		return nil, err
	}
	settings, ok := e.opts.Games[gameID]
	if !ok || settings.PluginDir == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoPluginDir, gameID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if e.session != nil {
		e.session.deactivate()
		e.session = nil
	}

	s := newSession(e, g, settings)
	s.open()
	e.session = s
	e.logger.Info().Str("game", gameID).Str("plugin_dir", settings.PluginDir).Msg("profile activated")

	if err := s.Rescan(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Session returns the active session, or nil.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Deactivate ends the active session, if any.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.deactivate()
		e.logger.Info().Str("game", e.session.GameID()).Msg("profile deactivated")
		e.session = nil
	}
}

// ModSetChanged schedules a rescan of the active profile when the enabled mod
// set differs. It reports whether a rescan was scheduled.
func (e *Engine) ModSetChanged(oldEnabled, newEnabled []string) bool {
	if modlist.SameSet(sortedCopy(oldEnabled), sortedCopy(newEnabled)) {
		return false
	}
	s := e.Session()
	if s == nil {
		return false
	}
	e.logger.Debug().Int("enabled", len(newEnabled)).Msg("mod set changed")
	s.Trigger()
	return true
}

// Close deactivates the session, waits for its background work and closes
// the notifier if the engine created it.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	s := e.session
	e.session = nil
	e.mu.Unlock()

	if s != nil {
		s.close()
	}
	if e.ownsNote {
		e.notifier.Close()
	}
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
