package persist

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/plugsync/internal/game"
)

// LineWarning reports a persisted line that was skipped.
type LineWarning struct {
	File   string
	Line   int
	Text   string
	Reason string
}

func (w *LineWarning) Error() string {
	return fmt.Sprintf("%s:%d: %s", w.File, w.Line, w.Reason)
}

// parseList extracts plugin names from a backing file. Names are taken
// verbatim apart from a trailing carriage return, so any name storable by
// Save reads back unchanged. Blank lines are ignored. allowStar accepts the
// "*Name.esp" enabled marker.
func parseList(file string, data []byte, allowStar bool) ([]string, []*LineWarning) {
	var (
		names    []string
		warnings []*LineWarning
		seen     = make(map[string]bool)
	)

	lines := strings.Split(string(data), "\n")
	for i, raw := range lines {
		line := strings.TrimSuffix(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		name := line
		if allowStar {
			name = strings.TrimPrefix(name, "*")
		}

		warn := func(reason string) {
			warnings = append(warnings, &LineWarning{
				File:   file,
				Line:   i + 1,
				Text:   line,
				Reason: reason,
			})
		}

		if reason := invalidName(name); reason != "" {
			warn(reason)
			continue
		}
		key := game.Key(name)
		if seen[key] {
			warn("duplicate entry")
			continue
		}
		seen[key] = true
		names = append(names, name)
	}
	return names, warnings
}

// unstorableName returns why Save cannot write name so that parseList reads
// it back unchanged, or "".
func unstorableName(name string) string {
	switch {
	case strings.TrimSpace(name) == "":
		return "blank name"
	case strings.HasPrefix(name, "*"):
		return "starts with the enabled marker"
	}
	return invalidName(name)
}

func invalidName(name string) string {
	switch {
	case name == "":
		return "empty name"
	case !utf8.ValidString(name):
		return "invalid UTF-8"
	case name == "." || name == "..":
		return "not a file name"
	case strings.ContainsAny(name, `/\`):
		return "contains a path separator"
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "contains a control character"
		}
	}
	return ""
}
