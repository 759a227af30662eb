package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/plugsync/internal/archive"
	"github.com/dshills/plugsync/internal/fsys"
)

var (
	historyLimit int
	historyKeep  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and restore recorded load orders",
	Long: `Every save of a changed load order is recorded as a snapshot in the
history database (paths.history_db).`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Long: `List recorded load order snapshots of a game, newest first.

Examples:
  plugsync history list --game skyrimse --limit 10`,
	Args: cobra.NoArgs,
	RunE: withService(false, runHistoryList),
}

var historyRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a snapshot",
	Long: `Restore a recorded load order. Plugins that no longer exist are dropped and
plugins installed since are appended.

Examples:
  plugsync history restore 5f0c... --game skyrimse`,
	Args: cobra.ExactArgs(1),
	RunE: withService(false, runHistoryRestore),
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old snapshots",
	Long: `Delete all but the newest snapshots of a game.

Examples:
  plugsync history prune --keep 20 --game skyrimse`,
	Args: cobra.NoArgs,
	RunE: withService(false, runHistoryPrune),
}

var historyExportCmd = &cobra.Command{
	Use:   "export <target>",
	Short: "Write a game's snapshots to a file or S3 object",
	Long: `Export every snapshot of a game as a JSON archive. The target is a file path
or s3://bucket/key; a name ending in .lz4 is LZ4 compressed. S3 endpoints are
configured in the [archive] section.

Examples:
  plugsync history export backup/skyrimse.json --game skyrimse
  plugsync history export s3://backups/plugsync/skyrimse.json.lz4`,
	Args: cobra.ExactArgs(1),
	RunE: withService(false, runHistoryExport),
}

var historyImportCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Read snapshots from an exported archive",
	Long: `Import the snapshots of an archive written by "history export". Snapshots
already present are skipped.

Examples:
  plugsync history import backup/skyrimse.json
  plugsync history import s3://backups/plugsync/skyrimse.json.lz4`,
	Args: cobra.ExactArgs(1),
	RunE: withService(false, runHistoryImport),
}

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of snapshots (0 for all)")
	historyPruneCmd.Flags().IntVar(&historyKeep, "keep", 50, "number of snapshots to keep")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyRestoreCmd)
	historyCmd.AddCommand(historyPruneCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyImportCmd)
	rootCmd.AddCommand(historyCmd)
}

func (s *service) requireHistory() error {
	if s.history == nil {
		return errors.New("history is disabled; set paths.history_db")
	}
	return nil
}

func runHistoryList(cmd *cobra.Command, svc *service, _ []string) error {
	if err := svc.requireHistory(); err != nil {
		return err
	}
	id, err := svc.gameID()
	if err != nil {
		return err
	}

	snaps, err := svc.history.List(cmd.Context(), id, historyLimit)
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(snaps) == 0 {
		fmt.Fprintln(out, "No snapshots found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tREASON")
	fmt.Fprintln(w, "--\t-------\t------")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Created.Local().Format(time.DateTime), s.Reason)
	}
	return w.Flush()
}

func runHistoryRestore(cmd *cobra.Command, svc *service, args []string) error {
	if err := svc.requireHistory(); err != nil {
		return err
	}
	sess, err := svc.activate(cmd.Context())
	if err != nil {
		return err
	}
	sess.WaitSort()

	if err := sess.RestoreSnapshot(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("restoring %s: %w", args[0], err)
	}
	return printOrder(cmd.OutOrStdout(), sess, false)
}

func runHistoryPrune(cmd *cobra.Command, svc *service, _ []string) error {
	if err := svc.requireHistory(); err != nil {
		return err
	}
	id, err := svc.gameID()
	if err != nil {
		return err
	}
	n, err := svc.history.Prune(cmd.Context(), id, historyKeep)
	if err != nil {
		return fmt.Errorf("pruning snapshots: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d snapshot(s).\n", n)
	return nil
}

func (s *service) archiveSink(cmd *cobra.Command, target string) (archive.Sink, archive.Target, error) {
	a := s.cfg.Archive
	return archive.Open(cmd.Context(), target, fsys.NewOSFS(), archive.S3Config{
		Region:    a.S3Region,
		Endpoint:  a.S3Endpoint,
		PathStyle: a.S3PathStyle,
	})
}

func runHistoryExport(cmd *cobra.Command, svc *service, args []string) error {
	if err := svc.requireHistory(); err != nil {
		return err
	}
	id, err := svc.gameID()
	if err != nil {
		return err
	}
	sink, target, err := svc.archiveSink(cmd, args[0])
	if err != nil {
		return err
	}
	n, err := archive.Export(cmd.Context(), svc.history, id, sink, target.Compressed())
	if err != nil {
		return fmt.Errorf("exporting to %s: %w", sink, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d snapshot(s) to %s.\n", n, sink)
	return nil
}

func runHistoryImport(cmd *cobra.Command, svc *service, args []string) error {
	if err := svc.requireHistory(); err != nil {
		return err
	}
	sink, _, err := svc.archiveSink(cmd, args[0])
	if err != nil {
		return err
	}
	res, err := archive.Import(cmd.Context(), svc.history, sink, gameID)
	if err != nil {
		return fmt.Errorf("importing %s: %w", sink, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d snapshot(s) of %s, skipped %d.\n", res.Imported, res.Game, res.Skipped)
	return nil
}
