// Package game describes the games whose plugin lists can be managed: which
// file extensions identify a plugin, which plugins ship with the base game and
// the order those native plugins always load in.
package game

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Errors returned by the game package.
var (
	// ErrUnsupportedGame indicates no definition exists for a game id.
	ErrUnsupportedGame = errors.New("unsupported game")

	// ErrInvalidGame indicates a game definition failed validation.
	ErrInvalidGame = errors.New("invalid game definition")
)

// DefaultHeaderSize is the size of a record header for every supported game
// except Oblivion.
const DefaultHeaderSize = 24

// Game is the definition of one supported game.
type Game struct {
	// ID is the short identifier used in configuration and on disk.
	ID string `yaml:"id"`

	// Name is the display name.
	Name string `yaml:"name"`

	// PluginExtensions lists the extensions (with leading dot) that identify
	// plugin files. Matching is case-insensitive.
	PluginExtensions []string `yaml:"plugin_extensions"`

	// NativePlugins lists the plugins shipped with the game, in their fixed
	// load order.
	NativePlugins []string `yaml:"native_plugins"`

	// HeaderSize is the record header size of the game's plugin format.
	HeaderSize int `yaml:"header_size"`

	// Executables names the game's process images, used to detect a
	// running game.
	Executables []string `yaml:"executables"`

	nativeRank map[string]int
	extensions map[string]bool
}

// Validate checks the definition and prepares its lookup tables.
func (g *Game) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidGame)
	}
	if len(g.PluginExtensions) == 0 {
		return fmt.Errorf("%w: %s has no plugin extensions", ErrInvalidGame, g.ID)
	}
	if g.Name == "" {
		g.Name = g.ID
	}
	if g.HeaderSize == 0 {
		g.HeaderSize = DefaultHeaderSize
	}

	g.extensions = make(map[string]bool, len(g.PluginExtensions))
	for _, ext := range g.PluginExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		g.extensions[ext] = true
	}

	g.nativeRank = make(map[string]int, len(g.NativePlugins))
	for i, name := range g.NativePlugins {
		key := Key(name)
		if _, dup := g.nativeRank[key]; dup {
			return fmt.Errorf("%w: %s lists native plugin %s twice", ErrInvalidGame, g.ID, name)
		}
		g.nativeRank[key] = i
	}
	return nil
}

// IsPlugin reports whether fileName has one of the game's plugin extensions.
func (g *Game) IsPlugin(fileName string) bool {
	return g.extensions[strings.ToLower(filepath.Ext(fileName))]
}

// IsNative reports whether fileName is a plugin shipped with the game.
func (g *Game) IsNative(fileName string) bool {
	_, ok := g.nativeRank[Key(fileName)]
	return ok
}

// NativeRank returns the fixed position of a native plugin among the game's
// native plugins.
func (g *Game) NativeRank(fileName string) (int, bool) {
	rank, ok := g.nativeRank[Key(fileName)]
	return rank, ok
}

// Key folds a plugin file name into its case-insensitive identifier.
func Key(fileName string) string {
	return strings.ToLower(fileName)
}
