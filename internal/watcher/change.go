package watcher

import (
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/plugsync/internal/logging"
)

// Factory creates the FSWatcher used for one attachment.
type Factory func() (FSWatcher, error)

// ChangeWatcher observes one plugin directory and feeds qualifying events
// into a Debouncer. Configuration events reach the same debouncer through
// Trigger.
type ChangeWatcher struct {
	mu        sync.Mutex
	debouncer *Debouncer
	factory   Factory
	isPlugin  func(name string) bool
	onEvent   Handler
	logger    zerolog.Logger

	fsw  FSWatcher
	dir  string
	done chan struct{}
	wg   sync.WaitGroup
}

// ChangeOption configures a ChangeWatcher.
type ChangeOption func(*ChangeWatcher)

// WithFactory sets how filesystem watchers are created. Defaults to fsnotify.
func WithFactory(f Factory) ChangeOption {
	return func(cw *ChangeWatcher) {
		cw.factory = f
	}
}

// WithEventHook sets a callback for every qualifying event.
func WithEventHook(h Handler) ChangeOption {
	return func(cw *ChangeWatcher) {
		cw.onEvent = h
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) ChangeOption {
	return func(cw *ChangeWatcher) {
		cw.logger = logging.Component(l, "watcher")
	}
}

// NewChangeWatcher creates a watcher feeding d. isPlugin decides whether a
// base file name is a plugin file.
func NewChangeWatcher(d *Debouncer, isPlugin func(name string) bool, opts ...ChangeOption) *ChangeWatcher {
	cw := &ChangeWatcher{
		debouncer: d,
		isPlugin:  isPlugin,
		logger:    logging.Nop(),
		factory: func() (FSWatcher, error) {
			return NewFSNotifyWatcher(0)
		},
	}
	for _, opt := range opts {
		opt(cw)
	}
	return cw
}

// Attach starts watching dir. Any previous directory is detached and its
// pending timer cancelled first.
func (cw *ChangeWatcher) Attach(dir string) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.detachLocked()

	fsw, err := cw.factory()
	if err != nil {
		return err
	}
	if err := fsw.Watch(dir); err != nil {
		_ = fsw.Close()
		return err
	}

	cw.fsw = fsw
	cw.dir = filepath.Clean(dir)
	cw.done = make(chan struct{})
	cw.wg.Add(1)
	go cw.loop(fsw, cw.dir, cw.done)

	cw.logger.Debug().Str("dir", cw.dir).Msg("attached")
	return nil
}

// Detach stops watching and cancels any pending timer.
func (cw *ChangeWatcher) Detach() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.detachLocked()
}

// detachLocked stops the event loop before cancelling the timer so a late
// event cannot re-arm it.
func (cw *ChangeWatcher) detachLocked() {
	if cw.fsw != nil {
		close(cw.done)
		if err := cw.fsw.Close(); err != nil {
			cw.logger.Warn().Err(err).Str("dir", cw.dir).Msg("close watcher")
		}
		cw.wg.Wait()
		cw.logger.Debug().Str("dir", cw.dir).Msg("detached")
		cw.fsw = nil
		cw.dir = ""
		cw.done = nil
	}
	cw.debouncer.Cancel()
}

// Dir returns the attached directory, or "".
func (cw *ChangeWatcher) Dir() string {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.dir
}

// Trigger schedules a rescan for a non-filesystem cause.
func (cw *ChangeWatcher) Trigger() {
	cw.debouncer.Trigger()
}

// Close detaches the watcher.
func (cw *ChangeWatcher) Close() {
	cw.Detach()
}

func (cw *ChangeWatcher) loop(fsw FSWatcher, dir string, done <-chan struct{}) {
	defer cw.wg.Done()

	events := fsw.Events()
	errs := fsw.Errors()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !cw.qualifies(dir, ev) {
				continue
			}
			if cw.onEvent != nil {
				cw.onEvent(ev)
			}
			cw.debouncer.Trigger()
		case err, ok := <-errs:
			if !ok {
				return
			}
			// Dropped events (queue overflow) mean state is unknown.
			cw.logger.Error().Err(err).Str("dir", dir).Msg("watch error")
			cw.debouncer.Trigger()
		}
	}
}

func (cw *ChangeWatcher) qualifies(dir string, ev Event) bool {
	if ev.Op == OpChmod {
		return false
	}
	p := filepath.Clean(ev.Path)
	if p == dir {
		return true
	}
	return cw.isPlugin(filepath.Base(p))
}
