// Package config loads plugsync settings from a TOML file layered under
// PLUGSYNC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLUGSYNC_"

// Oracle kinds.
const (
	OracleNone    = "none"
	OracleCommand = "command"
	OracleLua     = "lua"
	OracleJS      = "js"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a string such as "500ms".
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all settings.
type Config struct {
	Paths    PathsConfig           `toml:"paths"`
	Watch    WatchConfig           `toml:"watch"`
	Autosort AutosortConfig        `toml:"autosort"`
	Logging  LoggingConfig         `toml:"logging"`
	Metrics  MetricsConfig         `toml:"metrics"`
	Archive  ArchiveConfig         `toml:"archive"`
	Games    map[string]GameConfig `toml:"games"`
}

// PathsConfig locates inputs and state.
type PathsConfig struct {
	// ModsRoot holds one subdirectory per installed mod.
	ModsRoot string `toml:"mods_root"`

	// ModList is the YAML manifest of installed mods.
	ModList string `toml:"mod_list"`

	// StateRoot holds one directory of backing files per game.
	StateRoot string `toml:"state_root"`

	// GamesFile optionally extends the built-in game definitions.
	GamesFile string `toml:"games_file"`

	// HistoryDB is the snapshot database: a SQLite path or a postgres:// URL.
	// Empty disables history.
	HistoryDB string `toml:"history_db"`
}

// WatchConfig tunes change detection.
type WatchConfig struct {
	Debounce     Duration `toml:"debounce"`
	PollInterval Duration `toml:"poll_interval"`
}

// AutosortConfig selects the ordering oracle.
type AutosortConfig struct {
	Enabled      bool     `toml:"enabled"`
	Oracle       string   `toml:"oracle"`
	Command      string   `toml:"command"`
	Args         []string `toml:"args"`
	Script       string   `toml:"script"`
	Timeout      Duration `toml:"timeout"`
	OrderPath    string   `toml:"order_path"`
	ErrorPath    string   `toml:"error_path"`
	ConflictPath string   `toml:"conflict_path"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// ArchiveConfig configures history export targets. The S3 settings apply to
// s3:// targets; credentials come from the default AWS chain.
type ArchiveConfig struct {
	S3Region    string `toml:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3PathStyle bool   `toml:"s3_path_style"`
}

// GameConfig holds per-game settings.
type GameConfig struct {
	// PluginDir is the live plugin directory.
	PluginDir string `toml:"plugin_dir"`

	// EnableNew enables plugins the first time they are seen.
	EnableNew bool `toml:"enable_new"`
}

// Default returns the built-in settings.
func Default() *Config {
	base := "."
	if dir, err := os.UserConfigDir(); err == nil {
		base = filepath.Join(dir, "plugsync")
	}
	return &Config{
		Paths: PathsConfig{
			ModsRoot:  filepath.Join(base, "mods"),
			ModList:   filepath.Join(base, "mods.yaml"),
			StateRoot: filepath.Join(base, "state"),
			HistoryDB: filepath.Join(base, "history.db"),
		},
		Watch: WatchConfig{
			Debounce:     Duration(500 * time.Millisecond),
			PollInterval: Duration(time.Second),
		},
		Autosort: AutosortConfig{
			Enabled: true,
			Oracle:  OracleNone,
			Timeout: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Games: map[string]GameConfig{},
	}
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "plugsync.toml"
	}
	return filepath.Join(dir, "plugsync", "config.toml")
}

// Load reads path (missing is fine), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	file, err := LoadTOML(path)
	if err != nil {
		return nil, err
	}
	return build(file, NewEnvLoader(EnvPrefix).Load())
}

func build(file, env map[string]any) (*Config, error) {
	merged := DeepMerge(DeepMerge(nil, file), env)

	cfg := Default()
	if len(merged) > 0 {
		data, err := toml.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("encode merged config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c *Config) Validate() error {
	var problems []string
	if c.Paths.StateRoot == "" {
		problems = append(problems, "paths.state_root is required")
	}
	if c.Watch.Debounce < 0 {
		problems = append(problems, "watch.debounce must not be negative")
	}
	switch c.Autosort.Oracle {
	case "", OracleNone:
	case OracleCommand:
		if c.Autosort.Command == "" {
			problems = append(problems, "autosort.command is required for the command oracle")
		}
	case OracleLua, OracleJS:
		if c.Autosort.Script == "" {
			problems = append(problems, fmt.Sprintf("autosort.script is required for the %s oracle", c.Autosort.Oracle))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown autosort.oracle %q", c.Autosort.Oracle))
	}
	for id, g := range c.Games {
		if g.PluginDir == "" {
			problems = append(problems, fmt.Sprintf("games.%s.plugin_dir is required", id))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Game returns the settings of gameID.
func (c *Config) Game(gameID string) (GameConfig, bool) {
	g, ok := c.Games[gameID]
	return g, ok
}

// AutosortEnabled reports whether an oracle is configured and enabled.
func (c *Config) AutosortEnabled() bool {
	return c.Autosort.Enabled && c.Autosort.Oracle != "" && c.Autosort.Oracle != OracleNone
}
