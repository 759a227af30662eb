package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/plugsync/internal/autosort"
	"github.com/dshills/plugsync/internal/config"
	"github.com/dshills/plugsync/internal/engine"
	"github.com/dshills/plugsync/internal/game"
	"github.com/dshills/plugsync/internal/history"
	"github.com/dshills/plugsync/internal/logging"
	"github.com/dshills/plugsync/internal/metrics"
	"github.com/dshills/plugsync/internal/modlist"
	"github.com/dshills/plugsync/internal/notify"
)

// service bundles everything a command needs.
type service struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *game.Registry
	history  *history.Store
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	engine   *engine.Engine
	mods     *modlist.FileSource
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

func loadRegistry(cfg *config.Config) (*game.Registry, error) {
	if cfg.Paths.GamesFile == "" {
		return game.NewRegistry(), nil
	}
	return game.LoadRegistry(cfg.Paths.GamesFile)
}

// initService loads the configuration and builds the engine. watch arms the
// filesystem watchers of activated profiles.
func initService(watch bool) (*service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: logging.Format(cfg.Logging.Format),
		Output: os.Stderr,
	})

	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading game definitions: %w", err)
	}

	oracle, err := newOracle(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading sort oracle: %w", err)
	}

	svc := &service{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(),
		notifier: notify.New(notify.WithAsync(64)),
		mods:     &modlist.FileSource{Path: cfg.Paths.ModList, Root: cfg.Paths.ModsRoot},
	}
	svc.notifier.SubscribeTopic(notify.TopicWarning, printWarning)

	if cfg.Paths.HistoryDB != "" {
		h, err := history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			ev := logger.Warn().Err(err)
			if !history.IsPostgres(cfg.Paths.HistoryDB) {
				ev = ev.Str("path", cfg.Paths.HistoryDB)
			}
			ev.Msg("history disabled")
		} else {
			svc.history = h
		}
	}

	games := make(map[string]engine.GameSettings, len(cfg.Games))
	for id, g := range cfg.Games {
		games[id] = engine.GameSettings{PluginDir: g.PluginDir, EnableNew: g.EnableNew}
	}

	svc.engine, err = engine.New(engine.Options{
		Registry:     registry,
		StateRoot:    cfg.Paths.StateRoot,
		Games:        games,
		Mods:         svc.mods,
		Oracle:       oracle,
		AutoSort:     cfg.AutosortEnabled(),
		SortTimeout:  cfg.Autosort.Timeout.Std(),
		Debounce:     cfg.Watch.Debounce.Std(),
		Watch:        watch,
		PollInterval: cfg.Watch.PollInterval.Std(),
		Notifier:     svc.notifier,
		Metrics:      svc.metrics,
		History:      svc.history,
		Logger:       &logger,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// Close releases the engine and flushes pending notifications.
func (s *service) Close() {
	if s.engine != nil {
		s.engine.Close()
	}
	s.notifier.Close()
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing history")
		}
	}
}

// activate opens the profile selected by --game. A failed startup rescan is
// logged; the session stays active and later rescans may succeed.
func (s *service) activate(ctx context.Context) (*engine.Session, error) {
	id, err := s.gameID()
	if err != nil {
		return nil, err
	}
	sess, err := s.engine.ActivateProfile(ctx, id)
	if sess == nil {
		return nil, fmt.Errorf("activating %s: %w", id, err)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("game", id).Msg("startup rescan failed")
	}
	return sess, nil
}

// gameID resolves --game, falling back to the only configured game.
func (s *service) gameID() (string, error) {
	if gameID != "" {
		return gameID, nil
	}
	if len(s.cfg.Games) == 1 {
		for id := range s.cfg.Games {
			return id, nil
		}
	}
	ids := make([]string, 0, len(s.cfg.Games))
	for id := range s.cfg.Games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return "", errors.New("no games configured; add a [games.<id>] section with plugin_dir")
	}
	return "", fmt.Errorf("--game is required (configured: %s)", strings.Join(ids, ", "))
}

func newOracle(cfg *config.Config) (autosort.Oracle, error) {
	a := cfg.Autosort
	switch a.Oracle {
	case config.OracleCommand:
		o := autosort.NewCommandOracle(a.Command, a.Args...)
		if a.Timeout > 0 {
			o.Timeout = a.Timeout.Std()
		}
		if a.OrderPath != "" {
			o.OrderPath = a.OrderPath
		}
		if a.ErrorPath != "" {
			o.ErrorPath = a.ErrorPath
		}
		if a.ConflictPath != "" {
			o.ConflictPath = a.ConflictPath
		}
		return o, nil
	case config.OracleLua:
		o, err := autosort.LoadLuaOracle(a.Script)
		if err != nil {
			return nil, err
		}
		if a.Timeout > 0 {
			o.SetTimeout(a.Timeout.Std())
		}
		return o, nil
	case config.OracleJS:
		o, err := autosort.LoadJSOracle(a.Script)
		if err != nil {
			return nil, err
		}
		if a.Timeout > 0 {
			o.SetTimeout(a.Timeout.Std())
		}
		return o, nil
	default:
		return nil, nil
	}
}

func printWarning(ev notify.Event) {
	w := ev.Warning
	if w == nil {
		return
	}
	msg := fmt.Sprintf("warning [%s] %s: %s", ev.GameID, w.Kind, w.Message)
	if len(w.Plugins) > 0 {
		msg += " (" + strings.Join(w.Plugins, ", ") + ")"
	}
	fmt.Fprintln(os.Stderr, msg)
}

// withService runs fn with a service that is closed afterwards.
func withService(watch bool, fn func(cmd *cobra.Command, svc *service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := initService(watch)
		if err != nil {
			return err
		}
		defer svc.Close()
		return fn(cmd, svc, args)
	}
}
