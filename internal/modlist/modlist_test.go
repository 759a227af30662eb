package modlist

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const manifest = `
mods:
  - id: skyui
    name: SkyUI
    enabled: true
    tags: [esm]
  - id: ussep
    path: patches/ussep
    enabled: false
  - id: abs
    path: /opt/mods/abs
    enabled: true
`

func TestParse(t *testing.T) {
	l, err := Parse([]byte(manifest), "/mods")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	mods := l.Catalog()
	if len(mods) != 3 {
		t.Fatalf("mods = %d", len(mods))
	}
	wantPaths := []string{"/mods/skyui", "/mods/patches/ussep", "/opt/mods/abs"}
	for i, m := range mods {
		if m.Path != wantPaths[i] {
			t.Errorf("mods[%d].Path = %q, want %q", i, m.Path, wantPaths[i])
		}
	}
	if mods[0].Owner() != "SkyUI" || mods[1].Owner() != "ussep" {
		t.Errorf("owners = %q, %q", mods[0].Owner(), mods[1].Owner())
	}

	if got := l.EnabledSet(); !reflect.DeepEqual(got, []string{"abs", "skyui"}) {
		t.Errorf("EnabledSet = %v", got)
	}
	if got := l.Tags(); !reflect.DeepEqual(got, map[string][]string{"SkyUI": {"esm"}}) {
		t.Errorf("Tags = %v", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"missing id", "mods:\n  - name: x\n", ErrMissingID},
		{"duplicate", "mods:\n  - id: a\n  - id: a\n", ErrDuplicateMod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc), "/"); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Parse([]byte("mods: [unterminated"), "/"); err == nil {
		t.Error("expected YAML error")
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	src := &FileSource{Path: filepath.Join(dir, "mods.yaml"), Root: dir}

	l, err := src.Mods()
	if err != nil {
		t.Fatalf("missing manifest: %v", err)
	}
	if len(l.Mods) != 0 {
		t.Error("missing manifest should be empty")
	}

	if err := os.WriteFile(src.Path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err = src.Mods()
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Mods) != 3 || l.Root != dir {
		t.Errorf("list = %+v", l)
	}
}

func TestSameSet(t *testing.T) {
	if !SameSet([]string{"a", "b"}, []string{"a", "b"}) {
		t.Error("equal sets")
	}
	if SameSet([]string{"a"}, []string{"a", "b"}) || SameSet([]string{"a"}, []string{"b"}) {
		t.Error("different sets")
	}
}
