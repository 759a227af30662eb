package archive

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dshills/plugsync/internal/fsys"
	"github.com/dshills/plugsync/internal/history"
	"github.com/dshills/plugsync/internal/loadorder"
)

func sampleDocument() *Document {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return FromHistory("skyrimse", []*history.Snapshot{
		{
			ID: "a", GameID: "skyrimse", Reason: "rescan", Created: created,
			Entries: []loadorder.Entry{{Name: "Skyrim.esm", Enabled: true}, {Name: "A.esp", Position: 1}},
		},
		{ID: "x", GameID: "fallout4", Reason: "rescan", Created: created},
		{
			ID: "b", GameID: "skyrimse", Reason: "autosort", Created: created.Add(time.Minute),
			Entries: []loadorder.Entry{{Name: "Skyrim.esm", Enabled: true}},
		},
	})
}

func TestFromHistory(t *testing.T) {
	doc := sampleDocument()
	if doc.Version != Version || doc.Game != "skyrimse" {
		t.Errorf("header = %d %q", doc.Version, doc.Game)
	}
	if len(doc.Snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2 (other games skipped)", len(doc.Snapshots))
	}
	want := []Entry{{Name: "Skyrim.esm", Enabled: true}, {Name: "A.esp"}}
	if !reflect.DeepEqual(doc.Snapshots[0].Entries, want) {
		t.Errorf("entries = %+v", doc.Snapshots[0].Entries)
	}

	back := doc.History()
	if back[0].GameID != "skyrimse" || back[0].Entries[1].Position != 1 {
		t.Errorf("History = %+v", back[0])
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, compress := range []bool{false, true} {
		data, err := Marshal(sampleDocument(), compress)
		if err != nil {
			t.Fatalf("Marshal(compress=%v): %v", compress, err)
		}
		if got := bytes.HasPrefix(data, lz4Magic); got != compress {
			t.Errorf("compress=%v: lz4 frame = %v", compress, got)
		}
		doc, err := Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Decode(compress=%v): %v", compress, err)
		}
		if len(doc.Snapshots) != 2 || doc.Snapshots[1].ID != "b" || doc.Snapshots[1].Reason != "autosort" {
			t.Errorf("compress=%v: decoded %+v", compress, doc)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"garbage", "not json", nil},
		{"future version", `{"version": 9, "game": "x"}`, ErrUnsupportedVersion},
		{"no version", `{"game": "x"}`, ErrUnsupportedVersion},
		{"no game", `{"version": 1}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in       string
		want     Target
		compress bool
		wantErr  bool
	}{
		{in: "/tmp/history.json", want: Target{Key: "/tmp/history.json"}},
		{in: "backup.json.lz4", want: Target{Key: "backup.json.lz4"}, compress: true},
		{in: "s3://bucket/plugsync/skyrimse.json", want: Target{Bucket: "bucket", Key: "plugsync/skyrimse.json"}},
		{in: "s3://bucket/a.lz4", want: Target{Bucket: "bucket", Key: "a.lz4"}, compress: true},
		{in: "s3://bucket", wantErr: true},
		{in: "s3:///key", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTarget(%q) err = %v", tt.in, err)
			continue
		}
		if err != nil {
			continue
		}
		if got != tt.want || got.Compressed() != tt.compress || got.IsS3() != (tt.want.Bucket != "") {
			t.Errorf("ParseTarget(%q) = %+v", tt.in, got)
		}
	}
}

func TestFileSink(t *testing.T) {
	mem := fsys.NewMemFS()
	sink, target, err := Open(context.Background(), "/backup/skyrimse.json", mem, S3Config{})
	if err != nil {
		t.Fatal(err)
	}
	if target.IsS3() || sink.String() != "/backup/skyrimse.json" {
		t.Errorf("Open = %v %+v", sink, target)
	}

	ctx := context.Background()
	if _, err := sink.Get(ctx); !errors.Is(err, ErrNotExist) {
		t.Errorf("missing Get err = %v", err)
	}
	if err := sink.Put(ctx, []byte("data")); err != nil {
		t.Fatal(err)
	}
	got, err := sink.Get(ctx)
	if err != nil || string(got) != "data" {
		t.Errorf("Get = %q, %v", got, err)
	}
}

func openHistory(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := openHistory(t)
	var ids []string
	for i, names := range [][]string{{"Skyrim.esm"}, {"Skyrim.esm", "A.esp"}, {"Skyrim.esm", "B.esp", "A.esp"}} {
		entries := make([]loadorder.Entry, len(names))
		for j, n := range names {
			entries[j] = loadorder.Entry{Name: n, Position: j, Enabled: j == 0}
		}
		snap, err := src.Record(ctx, "skyrimse", "save", entries)
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		ids = append(ids, snap.ID)
	}
	if _, err := src.Record(ctx, "fallout4", "save", nil); err != nil {
		t.Fatal(err)
	}

	sink := &FileSink{FS: fsys.NewMemFS(), Path: "/out/history.json.lz4"}
	n, err := Export(ctx, src, "skyrimse", sink, true)
	if err != nil || n != 3 {
		t.Fatalf("Export = %d, %v", n, err)
	}

	dst := openHistory(t)
	res, err := Import(ctx, dst, sink, "skyrimse")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Game != "skyrimse" || res.Imported != 3 || res.Skipped != 0 {
		t.Errorf("Import = %+v", res)
	}

	list, err := dst.List(ctx, "skyrimse", 0)
	if err != nil || len(list) != 3 {
		t.Fatalf("List = %d, %v", len(list), err)
	}
	if list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Error("imported snapshots should keep their order")
	}
	latest, err := dst.Get(ctx, ids[2])
	if err != nil {
		t.Fatal(err)
	}
	if latest.Entries[1].Name != "B.esp" || !latest.Entries[0].Enabled || latest.Entries[2].Position != 2 {
		t.Errorf("entries = %+v", latest.Entries)
	}

	res, err = Import(ctx, dst, sink, "")
	if err != nil || res.Imported != 0 || res.Skipped != 3 {
		t.Errorf("second Import = %+v, %v", res, err)
	}
	if _, err := Import(ctx, dst, sink, "fallout4"); err == nil {
		t.Error("expected error importing another game's archive")
	}
}
