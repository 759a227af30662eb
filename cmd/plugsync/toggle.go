package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <plugin>...",
	Short: "Enable plugins",
	Long: `Enable one or more plugins. Names are matched case-insensitively.

Examples:
  plugsync enable SkyUI_SE.esp --game skyrimse`,
	Args: cobra.MinimumNArgs(1),
	RunE: withService(false, func(cmd *cobra.Command, svc *service, args []string) error {
		return runToggle(cmd, svc, args, true)
	}),
}

var disableCmd = &cobra.Command{
	Use:   "disable <plugin>...",
	Short: "Disable plugins",
	Long: `Disable one or more plugins. Native plugins cannot be disabled.

Examples:
  plugsync disable Unofficial.esp --game skyrimse`,
	Args: cobra.MinimumNArgs(1),
	RunE: withService(false, func(cmd *cobra.Command, svc *service, args []string) error {
		return runToggle(cmd, svc, args, false)
	}),
}

func init() {
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
}

func runToggle(cmd *cobra.Command, svc *service, names []string, enabled bool) error {
	sess, err := svc.activate(cmd.Context())
	if err != nil {
		return err
	}
	sess.WaitSort()

	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	for _, name := range names {
		if err := sess.SetEnabled(cmd.Context(), name, enabled); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, name)
	}
	return nil
}
