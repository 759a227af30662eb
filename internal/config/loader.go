package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ParseError describes a malformed configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// LoadTOML reads a TOML file into a generic map. A missing file yields nil.
func LoadTOML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return ParseTOML(path, data)
}

// ParseTOML decodes TOML data. source names the data in errors.
func ParseTOML(source string, data []byte) (map[string]any, error) {
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		pe := &ParseError{Path: source, Message: err.Error(), Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return nil, pe
	}
	return m, nil
}

// EnvLoader maps environment variables onto configuration paths.
type EnvLoader struct {
	prefix  string
	mapping map[string]string
	lookup  func() []string
}

// NewEnvLoader creates a loader for variables starting with prefix.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(),
		lookup:  os.Environ,
	}
}

func defaultEnvMapping() map[string]string {
	return map[string]string{
		"PLUGSYNC_MODS_ROOT":      "paths.mods_root",
		"PLUGSYNC_MOD_LIST":       "paths.mod_list",
		"PLUGSYNC_STATE_ROOT":     "paths.state_root",
		"PLUGSYNC_GAMES_FILE":     "paths.games_file",
		"PLUGSYNC_HISTORY_DB":     "paths.history_db",
		"PLUGSYNC_DEBOUNCE":       "watch.debounce",
		"PLUGSYNC_POLL_INTERVAL":  "watch.poll_interval",
		"PLUGSYNC_ORACLE":         "autosort.oracle",
		"PLUGSYNC_ORACLE_COMMAND": "autosort.command",
		"PLUGSYNC_ORACLE_SCRIPT":  "autosort.script",
		"PLUGSYNC_LOG_LEVEL":      "logging.level",
		"PLUGSYNC_LOG_FORMAT":     "logging.format",
		"PLUGSYNC_METRICS_LISTEN": "metrics.listen",
		"PLUGSYNC_S3_REGION":      "archive.s3_region",
		"PLUGSYNC_S3_ENDPOINT":    "archive.s3_endpoint",
		"PLUGSYNC_S3_PATH_STYLE":  "archive.s3_path_style",
	}
}

// Load returns the overrides present in the environment. Unmapped variables
// map PREFIX_SECTION_SOME_KEY to section.some_key.
func (l *EnvLoader) Load() map[string]any {
	out := make(map[string]any)
	for _, env := range l.lookup() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			path = l.envToPath(name)
		}
		if path == "" {
			continue
		}
		setByPath(out, path, parseValue(value))
	}
	return out
}

func (l *EnvLoader) envToPath(env string) string {
	section, key, ok := strings.Cut(strings.TrimPrefix(env, l.prefix), "_")
	if !ok || section == "" || key == "" {
		return ""
	}
	return strings.ToLower(section) + "." + strings.ToLower(key)
}

// parseValue converts booleans and integers; everything else, durations
// included, stays a string for the typed decode.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return s
}

func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// DeepMerge merges src into dst, recursing into nested maps. Values in src
// win.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for key, srcVal := range src {
		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = srcVal
	}
	return dst
}
