package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
)

var sortDryRun bool

var sortCmd = &cobra.Command{
	Use:   "sort",
	Short: "Ask the sort oracle for a new load order",
	Long: `Ask the configured sort oracle for a new load order and apply it. Native
plugins keep their positions. With --dry-run the proposed order is printed as
a diff and nothing is saved.

Examples:
  plugsync sort --game skyrimse
  plugsync sort --dry-run`,
	Args: cobra.NoArgs,
	RunE: withService(false, runSort),
}

func init() {
	sortCmd.Flags().BoolVarP(&sortDryRun, "dry-run", "n", false, "print the proposed order without applying it")
	rootCmd.AddCommand(sortCmd)
}

func runSort(cmd *cobra.Command, svc *service, _ []string) error {
	sess, err := svc.activate(cmd.Context())
	if err != nil {
		return err
	}
	sess.WaitSort()
	out := cmd.OutOrStdout()

	if sortDryRun {
		current, proposed, err := sess.PreviewSort(cmd.Context())
		if err != nil {
			return err
		}
		return printOrderDiff(out, current, proposed)
	}

	before := sess.Entries()
	if err := sess.Sort(); err != nil {
		return err
	}
	sess.WaitSort()

	after := sess.Entries()
	changed := len(before) != len(after)
	for i := 0; !changed && i < len(after); i++ {
		changed = before[i].Name != after[i].Name
	}
	if !changed {
		fmt.Fprintln(out, "Load order unchanged.")
		return nil
	}
	return printOrder(out, sess, false)
}

func printOrderDiff(out io.Writer, current, proposed []string) error {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(joinLines(current)),
		B:        difflib.SplitLines(joinLines(proposed)),
		FromFile: "current",
		ToFile:   "proposed",
		Context:  3,
	}
	s, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return err
	}
	if s == "" {
		fmt.Fprintln(out, "Load order already sorted.")
		return nil
	}
	_, err = io.WriteString(out, s)
	return err
}

func joinLines(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.Join(names, "\n") + "\n"
}
