package persist

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/dshills/plugsync/internal/fsys"
	"github.com/dshills/plugsync/internal/loadorder"
)

func TestLoad_MissingProfileDir(t *testing.T) {
	p := New(t.TempDir())

	res, err := p.Load("skyrimse")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(res.Entries) != 0 || len(res.Warnings) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
	if p.Active() != "skyrimse" {
		t.Errorf("Active = %q", p.Active())
	}
}

func TestLoad_CreatesMissingFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "skyrimse"), 0o755); err != nil {
		t.Fatal(err)
	}

	p := New(root)
	if _, err := p.Load("skyrimse"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, f := range p.Files() {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("%s not created: %v", f, err)
		}
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()
	entries := []loadorder.Entry{
		{Name: "Skyrim.esm", Position: 0, Enabled: true},
		{Name: "Alpha.esp", Position: 1, Enabled: false},
		{Name: "beta.ESP", Position: 2, Enabled: true},
		{Name: "Ünïcode Mod.esp", Position: 3, Enabled: true},
		{Name: "#Fixes.esp", Position: 4, Enabled: true},
		{Name: " Lead.esp", Position: 5, Enabled: false},
		{Name: "Trail.esp ", Position: 6, Enabled: true},
	}

	p := New(root)
	if _, err := p.Load("skyrimse"); err != nil {
		t.Fatal(err)
	}
	if err := p.Save(entries); err != nil {
		t.Fatalf("Save: %v", err)
	}

	res, err := New(root).Load("skyrimse")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(res.Entries, entries) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", res.Entries, entries)
	}

	data, err := os.ReadFile(filepath.Join(root, "skyrimse", EnabledFile))
	if err != nil {
		t.Fatal(err)
	}
	if want := "Skyrim.esm\nbeta.ESP\nÜnïcode Mod.esp\n#Fixes.esp\nTrail.esp \n"; string(data) != want {
		t.Errorf("plugins.txt = %q, want %q", data, want)
	}
	if _, err := os.Stat(filepath.Join(root, "skyrimse", OrderFile+".tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestLoad_SkipsMalformedLines(t *testing.T) {
	mem := fsys.NewMemFS()
	if err := mem.AddFile("/state/g/loadorder.txt", "A.esp\n\nBad\x01.esp\n   \nB.esp\r\n"); err != nil {
		t.Fatal(err)
	}
	if err := mem.AddFile("/state/g/plugins.txt", "*A.esp\nB.esp\n"); err != nil {
		t.Fatal(err)
	}

	p := New("/state", WithFS(mem))
	res, err := p.Load("g")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []loadorder.Entry{
		{Name: "A.esp", Position: 0, Enabled: true},
		{Name: "B.esp", Position: 1, Enabled: true},
	}
	if !reflect.DeepEqual(res.Entries, want) {
		t.Errorf("Entries = %+v, want %+v", res.Entries, want)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %d, want 1", len(res.Warnings))
	}
	if w := res.Warnings[0]; w.File != OrderFile || w.Line != 3 {
		t.Errorf("warning = %+v", w)
	}
}

func TestLoad_WarningReasons(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"control", "A\x07.esp"},
		{"invalid utf8", "A\xff.esp"},
		{"separator", "Data/A.esp"},
		{"backslash", `Data\A.esp`},
		{"dotdot", ".."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, warnings := parseList(OrderFile, []byte("Ok.esp\n"+tt.line+"\n"), false)
			if !reflect.DeepEqual(names, []string{"Ok.esp"}) {
				t.Errorf("names = %v", names)
			}
			if len(warnings) != 1 {
				t.Errorf("warnings = %d, want 1", len(warnings))
			}
		})
	}
}

func TestLoad_DuplicateLine(t *testing.T) {
	names, warnings := parseList(OrderFile, []byte("A.esp\na.ESP\n"), false)
	if !reflect.DeepEqual(names, []string{"A.esp"}) {
		t.Errorf("names = %v", names)
	}
	if len(warnings) != 1 || warnings[0].Reason != "duplicate entry" {
		t.Errorf("warnings = %+v", warnings)
	}
}

func TestLoad_EnabledNotInOrderAppended(t *testing.T) {
	mem := fsys.NewMemFS()
	_ = mem.AddFile("/s/g/loadorder.txt", "A.esp\n")
	_ = mem.AddFile("/s/g/plugins.txt", "C.esp\nA.esp\n")

	res, err := New("/s", WithFS(mem)).Load("g")
	if err != nil {
		t.Fatal(err)
	}
	want := []loadorder.Entry{
		{Name: "A.esp", Position: 0, Enabled: true},
		{Name: "C.esp", Position: 1, Enabled: true},
	}
	if !reflect.DeepEqual(res.Entries, want) {
		t.Errorf("Entries = %+v, want %+v", res.Entries, want)
	}
}

func TestSave_Unwritable(t *testing.T) {
	mem := fsys.NewMemFS()
	mem.FailOn("/s/g", os.ErrPermission)

	p := New("/s", WithFS(mem))
	if _, err := p.Load("g"); err == nil {
		t.Fatal("expected load error on unreadable dir")
	} else if !errors.Is(err, ErrIOUnavailable) {
		t.Errorf("Load err = %v, want ErrIOUnavailable", err)
	}

	err := p.Save([]loadorder.Entry{{Name: "A.esp"}})
	if !errors.Is(err, ErrIOUnavailable) {
		t.Fatalf("Save err = %v, want ErrIOUnavailable", err)
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %T", err)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Error("IOError should unwrap to the cause")
	}
}

func TestSave_ReadOnlyDirOnDisk(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	root := t.TempDir()
	dir := filepath.Join(root, "g")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := New(root)
	if _, err := p.Load("g"); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	if err := p.Save([]loadorder.Entry{{Name: "A.esp"}}); !errors.Is(err, ErrIOUnavailable) {
		t.Errorf("Save err = %v, want ErrIOUnavailable", err)
	}
}

func TestSave_UnstorableName(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"line break", "A\n.esp"},
		{"blank", "   "},
		{"enabled marker", "*A.esp"},
		{"separator", "Data/A.esp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := fsys.NewMemFS()
			p := New("/state", WithFS(mem))
			if _, err := p.Load("g"); err != nil {
				t.Fatal(err)
			}
			err := p.Save([]loadorder.Entry{{Name: "Ok.esp", Enabled: true}, {Name: tt.in, Position: 1}})
			if !errors.Is(err, ErrUnstorableName) {
				t.Fatalf("Save err = %v, want ErrUnstorableName", err)
			}
			if _, err := mem.Stat("/state/g/" + OrderFile); err == nil {
				t.Errorf("%s written despite the rejected name", OrderFile)
			}
		})
	}
}

func TestSave_NoProfile(t *testing.T) {
	if err := New(t.TempDir()).Save(nil); !errors.Is(err, ErrNoProfile) {
		t.Errorf("err = %v, want ErrNoProfile", err)
	}
}

func TestStale(t *testing.T) {
	mem := fsys.NewMemFS()
	p := New("/s", WithFS(mem))
	if p.Stale() {
		t.Error("inactive persistor should not be stale")
	}
	if _, err := p.Load("g"); err != nil {
		t.Fatal(err)
	}
	if err := p.Save([]loadorder.Entry{{Name: "A.esp", Enabled: true}}); err != nil {
		t.Fatal(err)
	}
	if p.Stale() {
		t.Error("fresh save should not be stale")
	}

	if err := mem.WriteFile("/s/g/loadorder.txt", []byte("B.esp\nA.esp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !p.Stale() {
		t.Error("external edit not detected")
	}

	if _, err := p.Load("g"); err != nil {
		t.Fatal(err)
	}
	if p.Stale() {
		t.Error("reload should clear staleness")
	}

	// Rewriting identical content is not a change.
	if err := mem.WriteFile("/s/g/plugins.txt", []byte("A.esp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if p.Stale() {
		t.Error("identical rewrite reported as stale")
	}

	if err := mem.Remove("/s/g/plugins.txt"); err != nil {
		t.Fatal(err)
	}
	if !p.Stale() {
		t.Error("removed file not detected")
	}
}

func TestString(t *testing.T) {
	got := String([]loadorder.Entry{{Name: "A.esp", Enabled: true}, {Name: "B.esp"}})
	if got != "*A.esp\nB.esp\n" {
		t.Errorf("String = %q", got)
	}
}
