// Package main is the entry point for the plugsync command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global flags.
var (
	configPath string
	gameID     string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "plugsync",
	Short: "Keep plugin lists and load orders in sync with installed mods",
	Long: `plugsync keeps the plugin list and load order of a game in sync with the
mods installed for it.

Each game has a plugin directory, watched for changes, and two backing files
(loadorder.txt and plugins.txt) under the state root. Rescans preserve the
relative order of surviving plugins, append new ones and drop vanished ones.
An optional sort oracle can propose a better order after every change.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to configuration file")
	pf.StringVarP(&gameID, "game", "g", "", "game id (defaults to the only configured game)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "log format (console, json)")
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
