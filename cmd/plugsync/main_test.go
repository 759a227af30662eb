package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/plugsync/internal/autosort"
	"github.com/dshills/plugsync/internal/config"
	"github.com/dshills/plugsync/internal/engine"
	"github.com/dshills/plugsync/internal/game"
	"github.com/dshills/plugsync/internal/loadorder"
	"github.com/dshills/plugsync/internal/logging"
	"github.com/dshills/plugsync/internal/modlist"
)

func TestPrintOrderDiff(t *testing.T) {
	var buf bytes.Buffer
	if err := printOrderDiff(&buf, []string{"A.esp", "B.esp"}, []string{"B.esp", "A.esp"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"--- current", "+++ proposed", "-A.esp", "+A.esp"} {
		if !strings.Contains(out, want) {
			t.Errorf("diff missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := printOrderDiff(&buf, []string{"A.esp"}, []string{"A.esp"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "already sorted") {
		t.Errorf("identical orders printed %q", buf.String())
	}
}

func TestNewOracle(t *testing.T) {
	cfg := config.Default()
	o, err := newOracle(cfg)
	if err != nil || o != nil {
		t.Fatalf("none oracle = %v, %v", o, err)
	}

	cfg.Autosort.Oracle = config.OracleCommand
	cfg.Autosort.Command = "sorter"
	cfg.Autosort.OrderPath = "result.order"
	o, err = newOracle(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cmd, ok := o.(*autosort.CommandOracle)
	if !ok || cmd.Path != "sorter" || cmd.OrderPath != "result.order" {
		t.Errorf("command oracle = %#v", o)
	}

	script := filepath.Join(t.TempDir(), "sort.lua")
	if err := os.WriteFile(script, []byte("function sort(req) return {} end"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Autosort.Oracle = config.OracleLua
	cfg.Autosort.Script = script
	o, err = newOracle(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := o.(*autosort.LuaOracle); !ok {
		t.Errorf("lua oracle = %#v", o)
	}

	cfg.Autosort.Oracle = config.OracleJS
	o, err = newOracle(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := o.(*autosort.JSOracle); !ok {
		t.Errorf("js oracle = %#v", o)
	}
}

func TestServiceGameID(t *testing.T) {
	defer func() { gameID = "" }()

	svc := &service{cfg: config.Default()}
	if _, err := svc.gameID(); err == nil {
		t.Error("expected error without configured games")
	}

	svc.cfg.Games["skyrimse"] = config.GameConfig{PluginDir: "/data"}
	if id, err := svc.gameID(); err != nil || id != "skyrimse" {
		t.Errorf("single game = %q, %v", id, err)
	}

	svc.cfg.Games["fallout4"] = config.GameConfig{PluginDir: "/f4"}
	if _, err := svc.gameID(); err == nil || !strings.Contains(err.Error(), "fallout4, skyrimse") {
		t.Errorf("ambiguous game error = %v", err)
	}

	gameID = "fallout4"
	if id, _ := svc.gameID(); id != "fallout4" {
		t.Errorf("flag game = %q", id)
	}
}

func TestOrderText(t *testing.T) {
	entries := []loadorder.Entry{
		{Name: "Skyrim.esm", Position: 0, Enabled: true},
		{Name: "A.esp", Position: 1},
		{Name: "B.esp", Position: 2, Enabled: true},
	}
	if got, want := orderText(entries, false), "Skyrim.esm\nA.esp\nB.esp\n"; got != want {
		t.Errorf("all = %q, want %q", got, want)
	}
	if got, want := orderText(entries, true), "Skyrim.esm\nB.esp\n"; got != want {
		t.Errorf("enabled = %q, want %q", got, want)
	}
}

// brokenMods fails every read of the mod list.
type brokenMods struct{}

func (brokenMods) Mods() (*modlist.List, error) {
	return nil, errors.New("mod list unreadable")
}

func TestServiceActivate_KeepsSessionAfterFailedRescan(t *testing.T) {
	defer func() { gameID = "" }()

	e, err := engine.New(engine.Options{
		Registry:  game.NewRegistry(),
		StateRoot: t.TempDir(),
		Games:     map[string]engine.GameSettings{"skyrimse": {PluginDir: t.TempDir()}},
		Mods:      brokenMods{},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	svc := &service{cfg: config.Default(), logger: logging.Nop(), engine: e}
	svc.cfg.Games["skyrimse"] = config.GameConfig{PluginDir: "/data"}

	sess, err := svc.activate(context.Background())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if sess == nil || !sess.Active() || e.Session() != sess {
		t.Fatal("session should stay active after a failed startup rescan")
	}

	gameID = "nosuchgame"
	if sess, err := svc.activate(context.Background()); err == nil || sess != nil {
		t.Errorf("unknown game: %v, %v", sess, err)
	}
}
