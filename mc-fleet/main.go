package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SerranoZz/mc-fleet/mc-fleet/flags"
	"github.com/SerranoZz/mc-fleet/mc-fleet/log"
	"github.com/SerranoZz/mc-fleet/mc-fleet/ui"
	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var cancelDeadline context.CancelFunc = func() {}

var mcFleetCmd = &cobra.Command{
	Use:   "mc-fleet",
	Short: "mc-fleet provisions spot instance fleets across cloud providers.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := flags.Bind(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}
		if err := log.Init(); err != nil {
			return err
		}

		if deadline := viper.GetDuration(flags.Deadline); deadline > 0 {
			var ctx context.Context
			ctx, cancelDeadline = context.WithTimeout(cmd.Context(), deadline)
			cmd.SetContext(ctx)
		}
		return nil
	},

	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		cancelDeadline()
		return nil
	},
}

func init() {
	mcFleetCmd.AddCommand(catalogCmd)
	mcFleetCmd.AddCommand(provisionCmd)
	mcFleetCmd.AddCommand(teardownCmd)
	mcFleetCmd.AddCommand(versionCmd)

	flags.Common(mcFleetCmd.PersistentFlags())
}

// newSpinner starts a spinner, or prints a section header when logs are
// verbose enough to interleave with it.
func newSpinner(cmd *cobra.Command, msg string) *ui.Spinner {
	if log.Verbose() {
		cmd.PrintErrln(ui.SectionHeaderColor.Sprintf("  %s  ", msg))
		return nil
	}
	return ui.NewSpinner(msg)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mcFleetCmd.SetOut(os.Stdout)
	if err := mcFleetCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
