package main

import (
	"fmt"

	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/SerranoZz/mc-fleet/mc-fleet/flags"
	"github.com/SerranoZz/mc-fleet/mc-fleet/log"
	"github.com/SerranoZz/mc-fleet/namegen"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Delete the fleets of a previous run",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		run := viper.GetString(flags.Run)
		if run == "" {
			return fmt.Errorf("--%s is required", flags.Run)
		}
		runID, err := namegen.Parse(run)
		if err != nil {
			return err
		}

		env, err := newEnvironment(cmd, runID)
		if err != nil {
			return err
		}
		return deleteFleets(cmd, fleet.New(env.providers, fleet.Config{Logger: log.Base.With("component", "fleet")}))
	},
}

func init() {
	teardownCmd.Flags().String(flags.Run, "", "ID of the run to tear down")
}
