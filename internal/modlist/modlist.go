// Package modlist reads the manifest of installed mods.
//
// The manifest is a YAML document listing mods in their declared order:
//
//	mods:
//	  - id: skyui
//	    name: SkyUI
//	    path: skyui          # relative to the mods root; defaults to id
//	    enabled: true
//	    tags: [esm]
//
// Declared order matters: when two mods ship the same plugin file the later
// one owns it.
package modlist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dshills/plugsync/internal/catalog"
)

// Errors returned when reading a manifest.
var (
	ErrDuplicateMod = errors.New("duplicate mod id")
	ErrMissingID    = errors.New("mod without id")
)

// Entry is one mod as declared in the manifest.
type Entry struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name,omitempty"`
	Path    string   `yaml:"path,omitempty"`
	Enabled bool     `yaml:"enabled"`
	Tags    []string `yaml:"tags,omitempty"`
}

// List is a parsed manifest.
type List struct {
	Root string  `yaml:"-"`
	Mods []Entry `yaml:"mods"`
}

// Source provides the current mod list.
type Source interface {
	Mods() (*List, error)
}

// Parse decodes a manifest. Relative mod paths resolve against root.
func Parse(data []byte, root string) (*List, error) {
	var l List
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse mod list: %w", err)
	}
	l.Root = root

	seen := make(map[string]bool, len(l.Mods))
	for i, m := range l.Mods {
		if m.ID == "" {
			return nil, fmt.Errorf("%w at index %d", ErrMissingID, i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMod, m.ID)
		}
		seen[m.ID] = true
	}
	return &l, nil
}

// Load reads a manifest file.
func Load(path, root string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mod list: %w", err)
	}
	return Parse(data, root)
}

// Dir returns the installation directory of m.
func (l *List) Dir(m Entry) string {
	p := m.Path
	if p == "" {
		p = m.ID
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.Root, p)
}

// Catalog returns every installed mod in declared order, as the catalog
// builder consumes them.
func (l *List) Catalog() []catalog.Mod {
	mods := make([]catalog.Mod, 0, len(l.Mods))
	for _, m := range l.Mods {
		mods = append(mods, catalog.Mod{
			ID:   m.ID,
			Name: m.Name,
			Path: l.Dir(m),
			Tags: m.Tags,
		})
	}
	return mods
}

// EnabledSet returns the sorted ids of enabled mods.
func (l *List) EnabledSet() []string {
	var ids []string
	for _, m := range l.Mods {
		if m.Enabled {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Tags returns declared tags keyed by owner name (name, falling back to id).
func (l *List) Tags() map[string][]string {
	tags := make(map[string][]string)
	for _, m := range l.Mods {
		if len(m.Tags) == 0 {
			continue
		}
		owner := m.Name
		if owner == "" {
			owner = m.ID
		}
		tags[owner] = append(tags[owner], m.Tags...)
	}
	return tags
}

// FileSource reads the manifest from disk on every call.
type FileSource struct {
	Path string
	Root string
}

// Mods loads the manifest. A missing file is an empty list.
func (s *FileSource) Mods() (*List, error) {
	l, err := Load(s.Path, s.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &List{Root: s.Root}, nil
		}
		return nil, err
	}
	return l, nil
}

// StaticSource serves a fixed list.
type StaticSource struct {
	List *List
}

// Mods returns the list.
func (s *StaticSource) Mods() (*List, error) {
	if s.List == nil {
		return &List{}, nil
	}
	return s.List, nil
}

var (
	_ Source = (*FileSource)(nil)
	_ Source = (*StaticSource)(nil)
)

// SameSet reports whether two sorted id sets are equal.
func SameSet(a, b []string) bool {
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
