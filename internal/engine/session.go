package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/plugsync/internal/autosort"
	"github.com/dshills/plugsync/internal/catalog"
	"github.com/dshills/plugsync/internal/game"
	"github.com/dshills/plugsync/internal/loadorder"
	"github.com/dshills/plugsync/internal/notify"
	"github.com/dshills/plugsync/internal/persist"
	"github.com/dshills/plugsync/internal/watcher"
)

// Session is the state of one active profile. All store mutations and saves
// are serialized by the session mutex. Rescans are serialized end to end by
// scanMu, which is taken before mu.
type Session struct {
	engine   *Engine
	game     *game.Game
	settings GameSettings
	logger   zerolog.Logger

	store     *loadorder.Store
	persistor *persist.Persistor
	builder   *catalog.Builder
	debouncer *watcher.Debouncer
	watch     *watcher.ChangeWatcher
	poller    *watcher.FilePoller
	adapter   *autosort.Adapter
	headers   *headerCache

	ctx    context.Context
	cancel context.CancelFunc

	scanMu sync.Mutex

	mu      sync.Mutex
	catalog *catalog.Catalog
	modTags map[string][]string
	loaded  bool
	flushed bool
}

func newSession(e *Engine, g *game.Game, settings GameSettings) *Session {
	opts := e.opts
	logger := e.logger.With().Str("game", g.ID).Logger()

	s := &Session{
		engine:   e,
		game:     g,
		settings: settings,
		logger:   logger,
		store:    loadorder.New(g, loadorder.WithEnableNew(settings.EnableNew)),
		persistor: persist.New(opts.StateRoot,
			persist.WithFS(opts.FS),
			persist.WithLogger(logger),
		),
		builder: catalog.NewBuilder(g,
			catalog.WithFS(opts.FS),
			catalog.WithLogger(logger),
		),
		headers: newHeaderCache(opts.FS, g.HeaderSize),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.debouncer = watcher.NewDebouncer(opts.Debounce, s.Rescan,
		watcher.WithErrorHandler(func(err error) {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("rescan failed")
			}
		}),
	)

	if opts.Oracle != nil {
		s.adapter = autosort.NewAdapter(opts.Oracle, s.sortRequest, s.applySort,
			autosort.WithTimeout(opts.SortTimeout),
			autosort.WithResultHandler(s.sortDone),
			autosort.WithLogger(logger),
		)
	}
	return s
}

// open loads the persisted state and arms the watchers. Failures are reported
// as warnings; the session stays usable.
func (s *Session) open() {
	s.mu.Lock()
	if _, err := s.foldIn(); err != nil {
		s.report(err)
	}
	s.mu.Unlock()

	opts := s.engine.opts
	if !opts.Watch {
		return
	}

	cwOpts := []watcher.ChangeOption{
		watcher.WithLogger(s.logger),
		watcher.WithEventHook(func(watcher.Event) {
			opts.Metrics.WatchEvent()
		}),
	}
	if opts.WatcherFactory != nil {
		cwOpts = append(cwOpts, watcher.WithFactory(opts.WatcherFactory))
	}
	s.watch = watcher.NewChangeWatcher(s.debouncer, s.game.IsPlugin, cwOpts...)
	if err := s.watch.Attach(s.settings.PluginDir); err != nil {
		s.report(fmt.Errorf("watch %s: %w", s.settings.PluginDir, err))
	}

	// External edits of the backing files are folded in by the next rescan.
	s.poller = watcher.NewFilePoller(
		watcher.WithPollInterval(opts.PollInterval),
		watcher.WithPollFS(opts.FS),
	)
	for _, path := range s.persistor.Files() {
		if err := s.poller.Watch(path); err != nil {
			s.logger.Debug().Err(err).Str("path", path).Msg("cannot poll backing file")
		}
	}
	s.poller.OnChange(func(watcher.Event) {
		s.debouncer.Trigger()
	})
	s.poller.Start(s.ctx)
}

// GameID returns the profile's game id.
func (s *Session) GameID() string {
	return s.game.ID
}

// Game returns the profile's game definition.
func (s *Session) Game() *game.Game {
	return s.game
}

// PluginDir returns the watched plugin directory.
func (s *Session) PluginDir() string {
	return s.settings.PluginDir
}

// Files returns the backing file paths.
func (s *Session) Files() []string {
	return s.persistor.Files()
}

// Active reports whether the session has not been deactivated.
func (s *Session) Active() bool {
	return s.ctx.Err() == nil
}

// Entries returns the current load order.
func (s *Session) Entries() []loadorder.Entry {
	return s.store.Entries()
}

// Catalog returns the catalog of the last rescan, or nil before the first.
func (s *Session) Catalog() *catalog.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

// Trigger schedules a debounced rescan.
func (s *Session) Trigger() {
	s.debouncer.Trigger()
}

// Rescan runs the pipeline: scan the installed mods and the plugin directory,
// reconcile the load order, save it when it changed and request a sort when
// the plugin list changed. ctx is checked between stages; cancellation or
// deactivation abandons the remaining stages. A rescan started while another
// is running waits for it, so the last one to commit also scanned last.
func (s *Session) Rescan(ctx context.Context) error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	start := time.Now()
	err := s.rescan(ctx)
	s.engine.opts.Metrics.Rescan(s.game.ID, rescanOutcome(err), time.Since(start))
	if err != nil {
		s.report(err)
		return &OperationError{Op: "rescan", GameID: s.game.ID, Err: err}
	}
	return nil
}

func (s *Session) rescan(ctx context.Context) error {
	if err := s.alive(ctx); err != nil {
		return err
	}

	// Scan.
	list, err := s.engine.opts.Mods.Mods()
	if err != nil {
		return fmt.Errorf("load mod list: %w", err)
	}
	c, err := s.builder.Build(ctx, list.Catalog(), s.settings.PluginDir)
	if err != nil {
		var partial *catalog.PartialScanError
		if !errors.As(err, &partial) {
			return err
		}
		s.report(err)
	}
	if err := s.alive(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reconcile.
	folded, err := s.foldIn()
	if err != nil {
		s.report(err)
	}
	first := s.catalog == nil
	listChanged := first || !c.Equal(s.catalog)
	s.catalog = c
	s.modTags = list.Tags()
	reconciled := s.store.Reconcile(c)
	s.recordGauges()

	if listChanged {
		s.engine.notifier.PluginListUpdated(s.game.ID, c.Names())
	}
	if err := s.alive(ctx); err != nil {
		return err
	}

	// Save.
	if reconciled || folded || !s.flushed {
		if err := s.saveLocked(ctx, "rescan"); err != nil {
			return err
		}
		s.engine.notifier.LoadOrderUpdated(s.game.ID, s.store.Order())
	}
	if err := s.alive(ctx); err != nil {
		return err
	}

	// Autosort. On the first scan only a plugin set that differs from the
	// persisted order counts as a change.
	sortWorthy := (first && reconciled) || (!first && listChanged)
	if sortWorthy && s.engine.opts.AutoSort && c.Len() > 0 {
		s.requestSort()
	}

	s.logger.Debug().
		Int("plugins", c.Len()).
		Bool("list_changed", listChanged).
		Bool("order_changed", reconciled).
		Msg("rescan complete")
	return nil
}

// SetEnabled toggles one plugin and saves the result.
func (s *Session) SetEnabled(ctx context.Context, name string, enabled bool) error {
	reason := "disable"
	if enabled {
		reason = "enable"
	}
	return s.mutate(ctx, reason, func() error {
		return s.store.SetEnabled(name, enabled)
	})
}

// SetOrder replaces the load order and saves the result. names must be a
// permutation of the current plugins; native plugins keep their positions.
func (s *Session) SetOrder(ctx context.Context, names []string) error {
	return s.mutate(ctx, "reorder", func() error {
		return s.store.SetOrder(names)
	})
}

// RestoreSnapshot replaces the load order with a recorded snapshot. The
// snapshot is reconciled against the current catalog, so plugins that no
// longer exist are dropped and new ones appended.
func (s *Session) RestoreSnapshot(ctx context.Context, id string) error {
	h := s.engine.opts.History
	if h == nil {
		return ErrNoHistory
	}
	snap, err := h.Get(ctx, id)
	if err != nil {
		return err
	}
	if snap.GameID != s.game.ID {
		return fmt.Errorf("%w: %s is for %s", ErrForeignSnapshot, id, snap.GameID)
	}

	return s.mutate(ctx, "restore", func() error {
		s.store.Restore(snap.Entries)
		if s.catalog != nil {
			s.store.Reconcile(s.catalog)
		}
		return nil
	})
}

func (s *Session) mutate(ctx context.Context, op string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.alive(ctx); err != nil {
		return &OperationError{Op: op, GameID: s.game.ID, Err: err}
	}
	folded, err := s.foldIn()
	if err != nil {
		s.report(err)
		return &OperationError{Op: op, GameID: s.game.ID, Err: err}
	}

	before := s.store.Entries()
	if err := fn(); err != nil {
		s.report(err)
		return &OperationError{Op: op, GameID: s.game.ID, Err: err}
	}
	if !folded && s.flushed && sameEntries(before, s.store.Entries()) {
		return nil
	}
	if err := s.saveLocked(ctx, op); err != nil {
		s.report(err)
		return &OperationError{Op: op, GameID: s.game.ID, Err: err}
	}
	s.recordGauges()
	s.engine.notifier.LoadOrderUpdated(s.game.ID, s.store.Order())
	return nil
}

// foldIn loads the backing files when they were never loaded or were edited
// outside the session, replacing the in-memory order. It reports whether the
// store was replaced. Callers hold s.mu.
func (s *Session) foldIn() (bool, error) {
	if s.loaded && !s.persistor.Stale() {
		return false, nil
	}

	res, err := s.persistor.Load(s.game.ID)
	if err != nil {
		return false, err
	}
	if s.loaded {
		s.logger.Info().Msg("backing files changed externally, reloading")
	}
	s.loaded = true
	s.store.Restore(res.Entries)
	if s.catalog != nil {
		s.store.Reconcile(s.catalog)
	}
	for _, w := range res.Warnings {
		s.report(w)
	}
	return true, nil
}

// saveLocked writes the store and records a history snapshot. Callers hold
// s.mu.
func (s *Session) saveLocked(ctx context.Context, reason string) error {
	if !s.loaded {
		// Never overwrite files that could not be read.
		return fmt.Errorf("%w: backing files were not loaded", persist.ErrIOUnavailable)
	}

	entries := s.store.Entries()
	err := s.persistor.Save(entries)
	s.engine.opts.Metrics.Save(s.game.ID, err)
	if err != nil {
		return err
	}
	s.flushed = true

	if h := s.engine.opts.History; h != nil {
		if _, err := h.Record(ctx, s.game.ID, reason, entries); err != nil {
			s.logger.Warn().Err(err).Str("reason", reason).Msg("failed to record history")
		}
	}
	return nil
}

func (s *Session) recordGauges() {
	entries := s.store.Entries()
	enabled := 0
	for _, e := range entries {
		if e.Enabled {
			enabled++
		}
	}
	s.engine.opts.Metrics.Plugins(s.game.ID, len(entries), enabled)
}

// alive returns the first error among the session context and ctx.
func (s *Session) alive(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrSessionInactive
	}
	return ctx.Err()
}

// report publishes err as a warning.
func (s *Session) report(err error) {
	kind, plugins, ok := classify(err)
	if !ok {
		return
	}
	s.logger.Warn().Err(err).Str("kind", kind.String()).Msg("warning")
	s.engine.opts.Metrics.Warning(kind.String())
	s.engine.notifier.Warn(s.game.ID, &notify.Warning{
		Kind:    kind,
		Message: err.Error(),
		Plugins: plugins,
		Err:     err,
	})
}

// deactivate cancels pending work. An in-flight sort finishes but its result
// is discarded.
func (s *Session) deactivate() {
	s.cancel()
	if s.poller != nil {
		s.poller.Stop()
	}
	if s.watch != nil {
		s.watch.Close()
	}
	s.debouncer.Close()
	if s.adapter != nil {
		s.adapter.Deactivate()
	}
}

// close deactivates and waits for the in-flight sort.
func (s *Session) close() {
	s.deactivate()
	if s.adapter != nil {
		s.adapter.Close()
	}
}

func rescanOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, ErrSessionInactive):
		return "cancelled"
	default:
		return "error"
	}
}

func sameEntries(a, b []loadorder.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
