package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dshills/plugsync/internal/autosort"
	"github.com/dshills/plugsync/internal/esp"
	"github.com/dshills/plugsync/internal/fsys"
	"github.com/dshills/plugsync/internal/loadorder"
)

// Sort asks the oracle for a new order. It returns once the request is queued;
// the result is applied in the background and announced with an
// autosort-completed event, or a warning.
func (s *Session) Sort() error {
	if s.adapter == nil {
		return ErrAutosortUnavailable
	}
	if !s.requestSort() {
		return ErrSessionInactive
	}
	return nil
}

// WaitSort blocks until no sort is in flight.
func (s *Session) WaitSort() {
	if s.adapter != nil {
		s.adapter.Wait()
	}
}

// PreviewSort asks the oracle for an order without applying it. It returns the
// current order and the order that applying the answer would produce.
func (s *Session) PreviewSort(ctx context.Context) (current, proposed []string, err error) {
	if s.adapter == nil {
		return nil, nil, ErrAutosortUnavailable
	}
	_, order, err := s.adapter.Preview(ctx)
	if err != nil {
		return nil, nil, err
	}

	entries := s.store.Entries()
	trial := loadorder.New(s.game)
	trial.Restore(entries)
	if err := trial.SetOrder(order); err != nil {
		return nil, nil, err
	}
	return s.store.Order(), trial.Order(), nil
}

func (s *Session) requestSort() bool {
	if s.adapter == nil || !s.adapter.Request() {
		return false
	}
	s.engine.notifier.AutosortRequested(s.game.ID)
	return true
}

// sortRequest builds the oracle request from the current order and catalog.
func (s *Session) sortRequest() (*autosort.Request, error) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil, ErrSessionInactive
	}
	order := s.store.Order()
	plugins := make([]autosort.RequestPlugin, 0, len(order))
	paths := make([]string, 0, len(order))
	for _, name := range order {
		rp := autosort.RequestPlugin{Name: name, Native: s.store.IsNative(name)}
		path := ""
		if s.catalog != nil {
			if p, ok := s.catalog.Get(name); ok {
				rp.Owner = p.OwnerMod
				path = p.FilePath
			}
		}
		plugins = append(plugins, rp)
		paths = append(paths, path)
	}
	modTags := s.modTags
	s.mu.Unlock()

	for i := range plugins {
		plugins[i].Tags = mergeTags(s.headers.tags(paths[i]), modTags[plugins[i].Owner])
	}
	return autosort.NewRequest(s.game.ID, plugins), nil
}

// applySort validates and stores an oracle answer.
func (s *Session) applySort(_ *autosort.Request, order []string, stale func() bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stale() || s.ctx.Err() != nil {
		return autosort.ErrSuperseded
	}
	if _, err := s.foldIn(); err != nil {
		return err
	}

	before := s.store.Order()
	if err := s.store.SetOrder(order); err != nil {
		return err
	}
	after := s.store.Order()
	if !equalNames(before, after) {
		if err := s.saveLocked(s.ctx, "autosort"); err != nil {
			return err
		}
		s.engine.notifier.LoadOrderUpdated(s.game.ID, after)
	}
	s.engine.notifier.AutosortCompleted(s.game.ID, after)
	return nil
}

func (s *Session) sortDone(res autosort.Result) {
	outcome := "ok"
	var conflict *autosort.ConflictError
	switch {
	case res.Discarded:
		outcome = "discarded"
	case res.Err == nil:
	case errors.As(res.Err, &conflict):
		outcome = "conflict"
	case errors.Is(res.Err, autosort.ErrOracleUnreachable), errors.Is(res.Err, context.DeadlineExceeded):
		outcome = "unreachable"
	case errors.Is(res.Err, loadorder.ErrOrderInvalid):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	s.engine.opts.Metrics.Autosort(s.game.ID, outcome, res.Duration)
	if !res.Discarded && res.Err != nil {
		s.report(res.Err)
	}
}

// headerCache keeps parsed plugin header tags keyed by path, invalidated by
// size and modification time.
type headerCache struct {
	fs         fsys.FS
	headerSize int

	mu      sync.Mutex
	entries map[string]headerEntry
}

type headerEntry struct {
	size    int64
	modTime time.Time
	tags    []string
}

func newHeaderCache(f fsys.FS, headerSize int) *headerCache {
	return &headerCache{
		fs:         f,
		headerSize: headerSize,
		entries:    make(map[string]headerEntry),
	}
}

// tags returns the dependency tags of the plugin at path. Unreadable or
// malformed plugins have no tags.
func (c *headerCache) tags(path string) []string {
	if path == "" {
		return nil
	}
	info, err := c.fs.Stat(path)
	if err != nil {
		return nil
	}

	c.mu.Lock()
	e, ok := c.entries[path]
	c.mu.Unlock()
	if ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.tags
	}

	var tags []string
	if h, err := esp.ReadFile(c.fs, path, c.headerSize); err == nil {
		tags = h.Tags()
	}

	c.mu.Lock()
	c.entries[path] = headerEntry{size: info.Size(), modTime: info.ModTime(), tags: tags}
	c.mu.Unlock()
	return tags
}

func mergeTags(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}

func equalNames(a, b []string) bool {
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
