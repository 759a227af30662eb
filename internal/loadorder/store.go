// Package loadorder holds the authoritative plugin load order of a profile:
// a total order over plugin identifiers plus an enabled flag per plugin.
//
// Every mutation either fully succeeds or leaves the store untouched, so the
// order is always a permutation of the known identifiers.
package loadorder

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/plugsync/internal/catalog"
	"github.com/dshills/plugsync/internal/game"
)

// Errors returned by Store mutations.
var (
	// ErrOrderInvalid indicates a proposed order is not a permutation of the
	// known plugins.
	ErrOrderInvalid = errors.New("order is not a permutation of the known plugins")

	// ErrUnknownPlugin indicates the plugin is not in the load order.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrNativePlugin indicates a native plugin cannot be toggled.
	ErrNativePlugin = errors.New("native plugins are always enabled")
)

// Entry is one row of the load order.
type Entry struct {
	Name     string
	Position int
	Enabled  bool
}

// Store is the load order of one profile. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	game      *game.Game
	order     []string
	enabled   map[string]bool
	native    map[string]bool
	enableNew bool
}

// Option configures a Store.
type Option func(*Store)

// WithEnableNew makes plugins discovered by Reconcile start enabled.
func WithEnableNew(enable bool) Option {
	return func(s *Store) {
		s.enableNew = enable
	}
}

// New creates an empty store for g.
func New(g *game.Game, opts ...Option) *Store {
	s := &Store{
		game:    g,
		enabled: make(map[string]bool),
		native:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore replaces the state with persisted entries. Entries are ordered by
// Position; later duplicates of an identifier are dropped.
func (s *Store) Restore(entries []Entry) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	order := make([]string, 0, len(sorted))
	enabled := make(map[string]bool, len(sorted))
	native := make(map[string]bool)
	seen := make(map[string]bool, len(sorted))
	for _, e := range sorted {
		key := game.Key(e.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		order = append(order, e.Name)
		enabled[key] = e.Enabled
		if s.game.IsNative(e.Name) {
			native[key] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = order
	s.enabled = enabled
	s.native = native
}

// Reconcile merges a freshly built catalog into the order: surviving plugins
// keep their relative order, new plugins are appended in catalog order,
// vanished plugins are dropped and native plugins are arranged in the game's
// native order within the positions natives occupy. It reports whether the
// order or any enabled flag changed.
func (s *Store) Reconcile(c *catalog.Catalog) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]string, 0, c.Len())
	seen := make(map[string]bool, c.Len())
	for _, name := range s.order {
		p, ok := c.Get(name)
		if !ok || seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		order = append(order, p.FileName)
	}

	enabled := make(map[string]bool, c.Len())
	native := make(map[string]bool)
	for _, p := range c.Plugins() {
		key := p.Key()
		if !seen[key] {
			seen[key] = true
			order = append(order, p.FileName)
			enabled[key] = s.enableNew
		} else {
			enabled[key] = s.enabled[key]
		}
		if p.IsNative {
			native[key] = true
			enabled[key] = true
		}
	}

	s.arrangeNatives(order, native)

	changed := !equalOrder(s.order, order) || !equalFlags(s.enabled, enabled, order)
	s.order = order
	s.enabled = enabled
	s.native = native
	return changed
}

// arrangeNatives sorts natives by game rank inside the slots they occupy.
func (s *Store) arrangeNatives(order []string, native map[string]bool) {
	var slots []int
	var natives []string
	for i, name := range order {
		if native[game.Key(name)] {
			slots = append(slots, i)
			natives = append(natives, name)
		}
	}
	sort.SliceStable(natives, func(i, j int) bool {
		ri, _ := s.game.NativeRank(natives[i])
		rj, _ := s.game.NativeRank(natives[j])
		return ri < rj
	})
	for i, slot := range slots {
		order[slot] = natives[i]
	}
}

// SetOrder replaces the order. names must be a case-insensitive permutation of
// the known plugins; otherwise ErrOrderInvalid is returned and the store is
// unchanged. Native plugins keep their current positions; the remaining
// plugins fill the other positions in the supplied order.
func (s *Store) SetOrder(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validatePermutation(names); err != nil {
		return err
	}

	movable := make([]string, 0, len(names))
	for _, name := range names {
		if !s.native[game.Key(name)] {
			movable = append(movable, name)
		}
	}

	display := make(map[string]string, len(s.order))
	for _, name := range s.order {
		display[game.Key(name)] = name
	}

	order := make([]string, len(s.order))
	next := 0
	for i, name := range s.order {
		if s.native[game.Key(name)] {
			order[i] = name
			continue
		}
		order[i] = display[game.Key(movable[next])]
		next++
	}
	s.order = order
	return nil
}

func (s *Store) validatePermutation(names []string) error {
	known := make(map[string]bool, len(s.order))
	for _, name := range s.order {
		known[game.Key(name)] = true
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := game.Key(name)
		if !known[key] {
			return fmt.Errorf("%w: unknown plugin %s", ErrOrderInvalid, name)
		}
		if seen[key] {
			return fmt.Errorf("%w: duplicate plugin %s", ErrOrderInvalid, name)
		}
		seen[key] = true
	}
	if len(seen) != len(known) {
		for _, name := range s.order {
			if !seen[game.Key(name)] {
				return fmt.Errorf("%w: missing plugin %s", ErrOrderInvalid, name)
			}
		}
	}
	return nil
}

// SetEnabled toggles one plugin.
func (s *Store) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := game.Key(name)
	if _, ok := s.enabled[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	if s.native[key] {
		return fmt.Errorf("%w: %s", ErrNativePlugin, name)
	}
	s.enabled[key] = enabled
	return nil
}

// Entries returns the load order with positions and enabled flags.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, len(s.order))
	for i, name := range s.order {
		entries[i] = Entry{
			Name:     name,
			Position: i,
			Enabled:  s.enabled[game.Key(name)],
		}
	}
	return entries
}

// Order returns the plugin names in load order.
func (s *Store) Order() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := make([]string, len(s.order))
	copy(order, s.order)
	return order
}

// IsEnabled reports whether name is enabled.
func (s *Store) IsEnabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[game.Key(name)]
}

// IsNative reports whether name is treated as native.
func (s *Store) IsNative(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.native[game.Key(name)]
}

// Len returns the number of plugins.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func equalOrder(a, b []string) bool {
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

func equalFlags(old, updated map[string]bool, order []string) bool {
	for _, name := range order {
		key := game.Key(name)
		if old[key] != updated[key] {
			return false
		}
	}
	return true
}
