package catalog

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/dshills/plugsync/internal/fsys"
	"github.com/dshills/plugsync/internal/game"
	"github.com/dshills/plugsync/internal/logging"
)

// Builder scans mod directories and the live plugin directory.
type Builder struct {
	game   *game.Game
	fs     fsys.FS
	logger zerolog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithFS sets the filesystem to scan.
func WithFS(f fsys.FS) Option {
	return func(b *Builder) {
		b.fs = f
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Builder) {
		b.logger = logging.Component(l, "catalog")
	}
}

// NewBuilder creates a builder for g.
func NewBuilder(g *game.Game, opts ...Option) *Builder {
	b := &Builder{
		game:   g,
		fs:     fsys.NewOSFS(),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces the catalog for the live plugin directory pluginDir, using
// mods (in declared order) to attribute ownership.
//
// When some mod directories cannot be read, Build returns the catalog together
// with a *PartialScanError. A missing pluginDir yields an empty catalog. Any
// other error reading pluginDir, or a cancelled ctx, returns a nil catalog.
func (b *Builder) Build(ctx context.Context, mods []Mod, pluginDir string) (*Catalog, error) {
	owners, scanErr := b.scanMods(ctx, mods)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := b.fs.ReadDir(pluginDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	files := make([]fsys.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !b.game.IsPlugin(e.Name()) {
			continue
		}
		files = append(files, e)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return game.Key(files[i].Name()) < game.Key(files[j].Name())
	})

	c := New(b.game.ID, nil)
	for _, f := range files {
		p := Plugin{
			FileName: f.Name(),
			FilePath: filepath.Join(pluginDir, f.Name()),
		}
		if owner, ok := owners[p.Key()]; ok {
			p.OwnerMod = owner.Owner()
			p.OwnerID = owner.ID
		} else {
			p.IsNative = b.game.IsNative(p.FileName)
		}
		if !c.add(p) {
			b.logger.Warn().Str("plugin", p.FileName).Msg("ignoring plugin whose name differs only in case")
		}
	}

	if scanErr != nil {
		c.failures = scanErr.Mods
		return c, scanErr
	}
	return c, nil
}

// scanMods maps plugin identifiers to the last mod (in declared order) that
// ships them.
func (b *Builder) scanMods(ctx context.Context, mods []Mod) (map[string]Mod, *PartialScanError) {
	owners := make(map[string]Mod)
	var failed *PartialScanError

	for _, mod := range mods {
		if ctx.Err() != nil {
			break
		}
		entries, err := b.fs.ReadDir(mod.Path)
		if err != nil {
			b.logger.Warn().
				Str("mod", mod.ID).
				Str("path", mod.Path).
				Err(err).
				Msg("failed to read mod directory")
			if failed == nil {
				failed = &PartialScanError{Errs: make(map[string]error)}
			}
			failed.Mods = append(failed.Mods, mod.ID)
			failed.Errs[mod.ID] = err
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !b.game.IsPlugin(e.Name()) {
				continue
			}
			owners[game.Key(e.Name())] = mod
		}
	}
	return owners, failed
}
