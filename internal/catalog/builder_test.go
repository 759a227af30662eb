package catalog

import (
	"context"
	"errors"
	"io/fs"
	"reflect"
	"testing"

	"github.com/dshills/plugsync/internal/fsys"
	"github.com/dshills/plugsync/internal/game"
)

func testGame(t *testing.T) *game.Game {
	t.Helper()
	g := &game.Game{
		ID:               "testgame",
		PluginExtensions: []string{".esp", ".esm"},
		NativePlugins:    []string{"A.esp", "Base.esm"},
	}
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}
	return g
}

func addFiles(t *testing.T, m *fsys.MemFS, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := m.AddFile(p, ""); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBuild_OwnershipAndNative(t *testing.T) {
	m := fsys.NewMemFS()
	addFiles(t, m,
		"/mods/modx/B.esp",
		"/mods/modx/readme.txt",
		"/data/A.esp",
		"/data/B.esp",
		"/data/C.esp",
		"/data/notes.txt",
	)

	b := NewBuilder(testGame(t), WithFS(m))
	c, err := b.Build(context.Background(), []Mod{{ID: "modx", Name: "ModX", Path: "/mods/modx"}}, "/data")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got, want := c.Names(), []string{"A.esp", "B.esp", "C.esp"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}

	a, _ := c.Get("a.ESP")
	if !a.IsNative || a.OwnerMod != "" {
		t.Errorf("A.esp = %+v, want native and unowned", a)
	}

	bp, _ := c.Get("B.esp")
	if bp.OwnerMod != "ModX" || bp.OwnerID != "modx" || bp.IsNative {
		t.Errorf("B.esp = %+v, want owned by ModX", bp)
	}
	if bp.FilePath != "/data/B.esp" {
		t.Errorf("B.esp path = %q", bp.FilePath)
	}

	cp, _ := c.Get("C.esp")
	if cp.OwnerMod != "" || cp.IsNative {
		t.Errorf("C.esp = %+v, want unowned non-native", cp)
	}
}

func TestBuild_LastWriteWins(t *testing.T) {
	m := fsys.NewMemFS()
	addFiles(t, m, "/mods/a/dup.esp", "/mods/b/dup.esp", "/data/dup.esp")

	mods := []Mod{
		{ID: "a", Name: "ModA", Path: "/mods/a"},
		{ID: "b", Name: "ModB", Path: "/mods/b"},
	}
	c, err := NewBuilder(testGame(t), WithFS(m)).Build(context.Background(), mods, "/data")
	if err != nil {
		t.Fatal(err)
	}

	p, ok := c.Get("dup.esp")
	if !ok {
		t.Fatal("dup.esp missing")
	}
	if p.OwnerMod != "ModB" {
		t.Errorf("owner = %q, want ModB", p.OwnerMod)
	}
}

func TestBuild_OwnerFallsBackToID(t *testing.T) {
	m := fsys.NewMemFS()
	addFiles(t, m, "/mods/x/X.esp", "/data/X.esp")

	c, err := NewBuilder(testGame(t), WithFS(m)).Build(context.Background(), []Mod{{ID: "x", Path: "/mods/x"}}, "/data")
	if err != nil {
		t.Fatal(err)
	}
	p, _ := c.Get("X.esp")
	if p.OwnerMod != "x" {
		t.Errorf("owner = %q, want mod id", p.OwnerMod)
	}
}

func TestBuild_OwnedNativeNameIsNotNative(t *testing.T) {
	m := fsys.NewMemFS()
	addFiles(t, m, "/mods/fix/Base.esm", "/data/Base.esm")

	c, err := NewBuilder(testGame(t), WithFS(m)).Build(context.Background(), []Mod{{ID: "fix", Path: "/mods/fix"}}, "/data")
	if err != nil {
		t.Fatal(err)
	}
	p, _ := c.Get("Base.esm")
	if p.IsNative {
		t.Error("plugin owned by a mod should not be native")
	}
}

func TestBuild_PartialScanFailure(t *testing.T) {
	m := fsys.NewMemFS()
	addFiles(t, m, "/mods/good/G.esp", "/mods/bad/X.esp", "/data/G.esp", "/data/X.esp")
	m.FailOn("/mods/bad", fs.ErrPermission)

	mods := []Mod{
		{ID: "bad", Path: "/mods/bad"},
		{ID: "gone", Path: "/mods/gone"},
		{ID: "good", Path: "/mods/good"},
	}
	c, err := NewBuilder(testGame(t), WithFS(m)).Build(context.Background(), mods, "/data")
	if c == nil {
		t.Fatal("catalog should be returned despite partial failure")
	}
	if !errors.Is(err, ErrPartialScan) {
		t.Fatalf("err = %v, want ErrPartialScan", err)
	}

	var pse *PartialScanError
	if !errors.As(err, &pse) {
		t.Fatal("err should be a *PartialScanError")
	}
	if want := []string{"bad", "gone"}; !reflect.DeepEqual(pse.Mods, want) {
		t.Errorf("Mods = %v, want %v", pse.Mods, want)
	}
	if !errors.Is(pse.Errs["bad"], fs.ErrPermission) {
		t.Errorf("Errs[bad] = %v", pse.Errs["bad"])
	}
	if !reflect.DeepEqual(c.PartialFailures(), []string{"bad", "gone"}) {
		t.Errorf("PartialFailures = %v", c.PartialFailures())
	}

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	g, _ := c.Get("G.esp")
	if g.OwnerMod != "good" {
		t.Errorf("G.esp owner = %q, want good", g.OwnerMod)
	}
	x, _ := c.Get("X.esp")
	if x.OwnerMod != "" {
		t.Errorf("X.esp owner = %q, want none", x.OwnerMod)
	}
}

func TestBuild_MissingPluginDir(t *testing.T) {
	m := fsys.NewMemFS()
	c, err := NewBuilder(testGame(t), WithFS(m)).Build(context.Background(), nil, "/nowhere")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestBuild_UnreadablePluginDir(t *testing.T) {
	m := fsys.NewMemFS()
	addFiles(t, m, "/data/A.esp")
	m.FailOn("/data", fs.ErrPermission)

	c, err := NewBuilder(testGame(t), WithFS(m)).Build(context.Background(), nil, "/data")
	if c != nil {
		t.Error("catalog should be nil")
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
}

func TestBuild_Cancelled(t *testing.T) {
	m := fsys.NewMemFS()
	addFiles(t, m, "/data/A.esp")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := NewBuilder(testGame(t), WithFS(m)).Build(ctx, nil, "/data")
	if c != nil || !errors.Is(err, context.Canceled) {
		t.Errorf("Build = %v, %v; want nil, context.Canceled", c, err)
	}
}

func TestBuild_CaseCollisionKeepsFirst(t *testing.T) {
	m := fsys.NewMemFS()
	addFiles(t, m, "/data/Mod.esp", "/data/mod.esp")

	c, err := NewBuilder(testGame(t), WithFS(m)).Build(context.Background(), nil, "/data")
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCatalog_Equal(t *testing.T) {
	a := New("g", []Plugin{{FileName: "A.esp"}, {FileName: "B.esp", OwnerMod: "X"}})
	b := New("g", []Plugin{{FileName: "b.esp", OwnerMod: "X", FilePath: "/elsewhere"}, {FileName: "a.esp"}})
	c := New("g", []Plugin{{FileName: "A.esp"}, {FileName: "B.esp", OwnerMod: "Y"}})
	d := New("g", []Plugin{{FileName: "A.esp"}})

	if !a.Equal(b) {
		t.Error("a and b should be equal")
	}
	if a.Equal(c) {
		t.Error("owner change should make catalogs differ")
	}
	if a.Equal(d) {
		t.Error("size change should make catalogs differ")
	}
	var nilCat *Catalog
	if a.Equal(nilCat) || !nilCat.Equal(nil) {
		t.Error("nil handling is wrong")
	}
}

func TestNew_IgnoresDuplicates(t *testing.T) {
	c := New("g", []Plugin{{FileName: "A.esp", OwnerMod: "first"}, {FileName: "a.esp", OwnerMod: "second"}})
	if c.Len() != 1 {
		t.Fatalf("Len = %d", c.Len())
	}
	p, _ := c.Get("A.ESP")
	if p.OwnerMod != "first" {
		t.Errorf("owner = %q, want first", p.OwnerMod)
	}
}
