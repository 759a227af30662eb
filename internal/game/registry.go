package game

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds the known game definitions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	games map[string]*Game
}

// registryFile is the YAML layout of a game definitions file.
type registryFile struct {
	Games []*Game `yaml:"games"`
}

// NewRegistry returns a registry seeded with the built-in definitions.
func NewRegistry() *Registry {
	r := &Registry{games: make(map[string]*Game)}
	for _, g := range builtins() {
		if err := r.Register(g); err != nil {
			panic(fmt.Sprintf("builtin game %s: %v", g.ID, err))
		}
	}
	return r
}

// LoadRegistry returns the built-in registry extended with the definitions in
// path. An empty path returns the built-ins only.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	if err := r.LoadFile(path); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds or replaces a definition.
func (r *Registry) Register(g *Game) error {
	if err := g.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.ID] = g
	return nil
}

// LoadFile reads a YAML definitions file. Definitions with an id that already
// exists replace the existing one.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading game definitions %s: %w", path, err)
	}
	return r.LoadYAML(data)
}

// LoadYAML reads definitions from YAML data.
func (r *Registry) LoadYAML(data []byte) error {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGame, err)
	}
	for _, g := range file.Games {
		if err := r.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (*Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGame, id)
	}
	return g, nil
}

// Supported reports whether id has a definition.
func (r *Registry) Supported(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.games[id]
	return ok
}

// Games returns all definitions sorted by id.
func (r *Registry) Games() []*Game {
	r.mu.RLock()
	defer r.mu.RUnlock()
	games := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		games = append(games, g)
	}
	sort.Slice(games, func(i, j int) bool { return games[i].ID < games[j].ID })
	return games
}

func builtins() []*Game {
	gamebryo := []string{".esp", ".esm"}
	return []*Game{
		{
			ID:               "skyrim",
			Name:             "Skyrim",
			PluginExtensions: gamebryo,
			NativePlugins:    []string{"Skyrim.esm", "Update.esm", "Dawnguard.esm", "HearthFires.esm", "Dragonborn.esm"},
			Executables:      []string{"TESV.exe"},
		},
		{
			ID:               "skyrimse",
			Name:             "Skyrim Special Edition",
			PluginExtensions: gamebryo,
			NativePlugins:    []string{"Skyrim.esm", "Update.esm", "Dawnguard.esm", "HearthFires.esm", "Dragonborn.esm"},
			Executables:      []string{"SkyrimSE.exe"},
		},
		{
			ID:               "fallout3",
			Name:             "Fallout 3",
			PluginExtensions: gamebryo,
			NativePlugins:    []string{"Fallout3.esm"},
			Executables:      []string{"Fallout3.exe"},
		},
		{
			ID:               "falloutnv",
			Name:             "Fallout: New Vegas",
			PluginExtensions: gamebryo,
			NativePlugins:    []string{"FalloutNV.esm"},
			Executables:      []string{"FalloutNV.exe"},
		},
		{
			ID:               "fallout4",
			Name:             "Fallout 4",
			PluginExtensions: gamebryo,
			NativePlugins: []string{
				"Fallout4.esm", "DLCRobot.esm", "DLCworkshop01.esm", "DLCCoast.esm",
				"DLCworkshop02.esm", "DLCworkshop03.esm", "DLCNukaWorld.esm",
			},
			Executables: []string{"Fallout4.exe"},
		},
		{
			ID:               "oblivion",
			Name:             "Oblivion",
			PluginExtensions: gamebryo,
			NativePlugins:    []string{"Oblivion.esm"},
			HeaderSize:       20,
			Executables:      []string{"Oblivion.exe"},
		},
	}
}
