// Package catalog builds the set of plugin files known for a game: every
// plugin present in the live plugin directory, annotated with the installed
// mod that supplies it and whether it ships with the base game.
//
// A catalog is rebuilt wholesale on every rescan and never mutated afterwards.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/plugsync/internal/game"
)

// ErrPartialScan matches a *PartialScanError.
var ErrPartialScan = errors.New("some mod directories could not be read")

// Mod is an installed package that may contribute plugin files.
type Mod struct {
	// ID is the unique mod identifier.
	ID string

	// Name is the display name; may be empty.
	Name string

	// Path is the absolute installation directory.
	Path string

	// Tags are dependency tags declared for the mod's plugins.
	Tags []string
}

// Owner returns the name recorded as owner of the mod's plugins.
func (m Mod) Owner() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// Plugin is one managed plugin file.
type Plugin struct {
	// FileName is the on-disk base name; unique case-insensitively.
	FileName string

	// OwnerMod is the owning mod's name, empty when untracked or native.
	OwnerMod string

	// OwnerID is the owning mod's id, empty when untracked or native.
	OwnerID string

	// FilePath is the absolute path in the live plugin directory.
	FilePath string

	// IsNative is set for plugins shipped with the game.
	IsNative bool
}

// Key returns the case-insensitive identifier.
func (p Plugin) Key() string {
	return game.Key(p.FileName)
}

// Catalog is an immutable set of plugins in enumeration order.
type Catalog struct {
	gameID   string
	plugins  []Plugin
	index    map[string]int
	failures []string
}

// New creates a catalog from plugins. Later duplicates of an identifier are
// ignored.
func New(gameID string, plugins []Plugin) *Catalog {
	c := &Catalog{
		gameID:  gameID,
		plugins: make([]Plugin, 0, len(plugins)),
		index:   make(map[string]int, len(plugins)),
	}
	for _, p := range plugins {
		c.add(p)
	}
	return c
}

func (c *Catalog) add(p Plugin) bool {
	key := p.Key()
	if _, exists := c.index[key]; exists {
		return false
	}
	c.index[key] = len(c.plugins)
	c.plugins = append(c.plugins, p)
	return true
}

// GameID returns the game the catalog was built for.
func (c *Catalog) GameID() string { return c.gameID }

// Len returns the number of plugins.
func (c *Catalog) Len() int { return len(c.plugins) }

// Plugins returns a copy of the plugins in enumeration order.
func (c *Catalog) Plugins() []Plugin {
	out := make([]Plugin, len(c.plugins))
	copy(out, c.plugins)
	return out
}

// Names returns the plugin file names in enumeration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.plugins))
	for i, p := range c.plugins {
		names[i] = p.FileName
	}
	return names
}

// Get looks up a plugin case-insensitively.
func (c *Catalog) Get(name string) (Plugin, bool) {
	i, ok := c.index[game.Key(name)]
	if !ok {
		return Plugin{}, false
	}
	return c.plugins[i], true
}

// Has reports whether the catalog contains name.
func (c *Catalog) Has(name string) bool {
	_, ok := c.index[game.Key(name)]
	return ok
}

// PartialFailures returns the ids of mods whose directories could not be read
// while building the catalog.
func (c *Catalog) PartialFailures() []string {
	out := make([]string, len(c.failures))
	copy(out, c.failures)
	return out
}

// Equal reports whether both catalogs hold the same identifiers with the same
// owners and native flags. Enumeration order and paths are ignored.
func (c *Catalog) Equal(other *Catalog) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.plugins) != len(other.plugins) {
		return false
	}
	for _, p := range c.plugins {
		q, ok := other.Get(p.FileName)
		if !ok || q.OwnerMod != p.OwnerMod || q.IsNative != p.IsNative {
			return false
		}
	}
	return true
}

// PartialScanError reports mod directories skipped during a scan. The scan
// itself still produced a usable catalog.
type PartialScanError struct {
	// Mods lists the ids of the skipped mods in scan order.
	Mods []string

	// Errs holds the underlying error per mod id.
	Errs map[string]error
}

// Error implements the error interface.
func (e *PartialScanError) Error() string {
	return fmt.Sprintf("failed to read %d mod(s): %s", len(e.Mods), strings.Join(e.Mods, ", "))
}

// Is makes errors.Is(err, ErrPartialScan) match.
func (e *PartialScanError) Is(target error) bool {
	return target == ErrPartialScan
}
