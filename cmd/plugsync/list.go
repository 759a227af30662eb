package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/dshills/plugsync/internal/engine"
	"github.com/dshills/plugsync/internal/loadorder"
)

var (
	listEnabledOnly bool
	listCopy        bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Rescan the plugin directory and update the load order",
	Long: `Rescan the installed mods and the plugin directory of a game, reconcile the
load order and save it when it changed.

Examples:
  plugsync scan --game skyrimse`,
	Args: cobra.NoArgs,
	RunE: withService(false, runScan),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the load order",
	Long: `Show the load order of a game after a rescan.

Examples:
  plugsync list --game skyrimse
  plugsync list --enabled
  plugsync list --enabled --copy`,
	Args: cobra.NoArgs,
	RunE: withService(false, runList),
}

func init() {
	listCmd.Flags().BoolVar(&listEnabledOnly, "enabled", false, "show enabled plugins only")
	listCmd.Flags().BoolVar(&listCopy, "copy", false, "copy the plugin names to the clipboard")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(listCmd)
}

func runScan(cmd *cobra.Command, svc *service, _ []string) error {
	sess, err := svc.activate(cmd.Context())
	if err != nil {
		return err
	}
	sess.WaitSort()

	entries := sess.Entries()
	enabled := 0
	for _, e := range entries {
		if e.Enabled {
			enabled++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d plugins, %d enabled\n", sess.GameID(), len(entries), enabled)
	return nil
}

func runList(cmd *cobra.Command, svc *service, _ []string) error {
	sess, err := svc.activate(cmd.Context())
	if err != nil {
		return err
	}
	sess.WaitSort()
	if err := printOrder(cmd.OutOrStdout(), sess, listEnabledOnly); err != nil {
		return err
	}
	if !listCopy {
		return nil
	}
	if err := clipboard.WriteAll(orderText(sess.Entries(), listEnabledOnly)); err != nil {
		return fmt.Errorf("copying to clipboard: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Copied to clipboard.")
	return nil
}

// orderText renders plugin names one per line in load order.
func orderText(entries []loadorder.Entry, enabledOnly bool) string {
	var b strings.Builder
	for _, e := range entries {
		if enabledOnly && !e.Enabled {
			continue
		}
		b.WriteString(e.Name)
		b.WriteByte('\n')
	}
	return b.String()
}

func printOrder(out io.Writer, sess *engine.Session, enabledOnly bool) error {
	entries := sess.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No plugins found.")
		return nil
	}

	c := sess.Catalog()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPLUGIN\tENABLED\tOWNER")
	fmt.Fprintln(w, "-\t------\t-------\t-----")
	for _, e := range entries {
		if enabledOnly && !e.Enabled {
			continue
		}
		owner := ""
		if c != nil {
			if p, ok := c.Get(e.Name); ok {
				owner = p.OwnerMod
				if p.IsNative {
					owner = "(native)"
				}
			}
		}
		mark := ""
		if e.Enabled {
			mark = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Position, e.Name, mark, owner)
	}
	return w.Flush()
}
