package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/plugsync/internal/procscan"
)

var gamesCmd = &cobra.Command{
	Use:   "games",
	Short: "List supported games",
	Long: `List the supported games, built in or loaded from paths.games_file, the
plugin directory configured for each and whether the game is running.

Examples:
  plugsync games`,
	Args: cobra.NoArgs,
	RunE: runGames,
}

func init() {
	rootCmd.AddCommand(gamesCmd)
}

func runGames(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return fmt.Errorf("loading game definitions: %w", err)
	}

	games := registry.Games()
	running, err := procscan.Running(cmd.Context(), procscan.SystemProcesses, games)
	if err != nil {
		running = nil
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: cannot list processes: %v\n", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEXTENSIONS\tPLUGIN DIR\tRUNNING")
	fmt.Fprintln(w, "--\t----\t----------\t----------\t-------")
	for _, g := range games {
		dir := "-"
		if gc, ok := cfg.Game(g.ID); ok {
			dir = gc.PluginDir
		}
		state := ""
		if running[g.ID] {
			state = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.Name, strings.Join(g.PluginExtensions, " "), dir, state)
	}
	return w.Flush()
}
