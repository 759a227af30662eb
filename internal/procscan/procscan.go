// Package procscan detects running games from the process table.
package procscan

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/dshills/plugsync/internal/game"
)

// Lister returns the names of running processes.
type Lister func(ctx context.Context) ([]string, error)

// SystemProcesses lists the processes of this machine. Processes that exit
// or deny access while being inspected are skipped.
func SystemProcesses(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Running returns the ids of games with a running executable. Names are
// compared without directory and case.
func Running(ctx context.Context, list Lister, games []*game.Game) (map[string]bool, error) {
	names, err := list(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[normalize(n)] = true
	}

	out := make(map[string]bool)
	for _, g := range games {
		for _, exe := range g.Executables {
			if seen[normalize(exe)] {
				out[g.ID] = true
				break
			}
		}
	}
	return out, nil
}

func normalize(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return strings.ToLower(filepath.Base(name))
}
