package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/plugsync/internal/eventstream"
	"github.com/dshills/plugsync/internal/game"
	"github.com/dshills/plugsync/internal/metrics"
	"github.com/dshills/plugsync/internal/notify"
	"github.com/dshills/plugsync/internal/procscan"
	"github.com/dshills/plugsync/internal/watcher"
)

var metricsListen string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the load order in sync until interrupted",
	Long: `Activate a game and keep its load order in sync: changes to the plugin
directory, the mod list and the backing files trigger a debounced rescan.

When metrics.listen (or --metrics) is set, Prometheus metrics are served on
/metrics and engine events are streamed as JSON over a websocket on /events.

Examples:
  plugsync watch --game skyrimse
  plugsync watch --metrics 127.0.0.1:9464`,
	Args: cobra.NoArgs,
	RunE: withService(true, runWatch),
}

func init() {
	watchCmd.Flags().StringVar(&metricsListen, "metrics", "", "serve metrics on this address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, svc *service, _ []string) error {
	ctx := cmd.Context()
	log := svc.logger

	svc.notifier.Subscribe(func(ev notify.Event) {
		switch ev.Topic {
		case notify.TopicPluginListUpdated, notify.TopicLoadOrderUpdated, notify.TopicAutosortCompleted:
			log.Info().Str("game", ev.GameID).Str("event", string(ev.Topic)).Int("plugins", len(ev.Plugins)).Msg("update")
		case notify.TopicAutosortRequested:
			log.Debug().Str("game", ev.GameID).Msg("autosort requested")
		}
	})

	sess, err := svc.activate(ctx)
	if err != nil {
		return err
	}
	if running, err := procscan.Running(ctx, procscan.SystemProcesses, []*game.Game{sess.Game()}); err == nil && running[sess.GameID()] {
		log.Warn().Str("game", sess.GameID()).Msg("game is running; load order changes take effect on next launch")
	}

	addr := metricsListen
	if addr == "" {
		addr = svc.cfg.Metrics.Listen
	}
	errCh := make(chan error, 1)
	if addr != "" {
		hub := eventstream.NewHub(eventstream.WithLogger(log))
		defer hub.Close()
		sub := svc.notifier.Subscribe(hub.Publish)
		defer sub.Unsubscribe()

		go func() {
			errCh <- svc.metrics.Serve(ctx, addr, metrics.Route{Pattern: "/events", Handler: hub})
		}()
		log.Info().Str("addr", addr).Msg("serving metrics and events")
	}

	// The mod list is polled; a changed enabled set schedules a rescan.
	list, err := svc.mods.Mods()
	if err != nil {
		return fmt.Errorf("reading mod list: %w", err)
	}
	enabled := list.EnabledSet()

	poller := watcher.NewFilePoller(watcher.WithPollInterval(svc.cfg.Watch.PollInterval.Std()))
	if err := poller.Watch(svc.mods.Path); err != nil {
		log.Warn().Err(err).Str("path", svc.mods.Path).Msg("cannot poll mod list")
	}
	poller.OnChange(func(watcher.Event) {
		list, err := svc.mods.Mods()
		if err != nil {
			log.Warn().Err(err).Msg("reading mod list")
			return
		}
		next := list.EnabledSet()
		if !svc.engine.ModSetChanged(enabled, next) {
			// Installs and removals of disabled mods change ownership only.
			sess.Trigger()
		}
		enabled = next
	})
	poller.Start(ctx)
	defer poller.Stop()

	log.Info().Str("game", sess.GameID()).Str("plugin_dir", sess.PluginDir()).Msg("watching")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, ctx.Err()) {
			return fmt.Errorf("metrics server: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}
