package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/SerranoZz/mc-fleet/mc-fleet/flags"
	"github.com/SerranoZz/mc-fleet/mc-fleet/log"
	"github.com/SerranoZz/mc-fleet/mc-fleet/ui"
	"github.com/SerranoZz/mc-fleet/namegen"
	"github.com/SerranoZz/mc-fleet/report"
	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Fleets are still deleted after an interrupt, within this delay
const teardownTimeout = 10 * time.Minute

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision spot instances, cheapest offers first",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		nodes := viper.GetInt(flags.Nodes)
		if nodes <= 0 {
			return fmt.Errorf("--%s must be greater than 0", flags.Nodes)
		}
		strategy, err := fleet.ParseStrategy(viper.GetString(flags.Strategy))
		if err != nil {
			return err
		}
		single := viper.GetBool(flags.Single)
		request, err := selectionRequest(!single)
		if err != nil {
			return err
		}

		runID := namegen.Get()
		env, err := newEnvironment(cmd, runID)
		if err != nil {
			return err
		}
		cmd.PrintErrf("Run %s\n", color.HiCyanString(runID.String()))

		spinner := newSpinner(cmd, "Pricing offers")
		c, err := env.buildCatalog(cmd.Context(), request)
		if err != nil {
			spinner.Fail()
			return fmt.Errorf("failed to build catalog: %w", err)
		}
		spinner.Success(fmt.Sprintf("Priced %d offers", len(c.Offers)))

		spinner = newSpinner(cmd, fmt.Sprintf("Provisioning %d nodes", nodes))
		allocator := fleet.New(env.providers, fleet.Config{
			Logger:   log.Base.With("component", "fleet"),
			Observer: progress(spinner),
		})

		var result fleet.Result
		if single {
			result = allocator.AllocateSingle(cmd.Context(), singleOffers(c.Offers), nodes, strategy)
		} else {
			result = allocator.AllocateMulti(cmd.Context(), c.Bands, nodes, strategy)
		}

		summary := fmt.Sprintf("Provisioned %d/%d nodes in %d fleets", result.Fulfilled, result.Target, len(result.Fleets))
		switch {
		case result.Complete():
			spinner.Success(summary)
		case result.Fulfilled > 0:
			spinner.Warn(summary)
		default:
			spinner.Fail(summary)
		}

		printInstances(cmd, result)
		if err := writeOutput(cmd, func(w io.Writer) error {
			return report.WriteInstances(w, result)
		}); err != nil {
			return err
		}

		if viper.GetBool(flags.Hold) {
			cmd.PrintErrln("Holding fleets, press Ctrl+C to delete them")
			<-cmd.Context().Done()
			if err := deleteFleets(cmd, allocator); err != nil {
				return err
			}
		} else if len(result.Attempts) > 0 {
			names := lo.Keys(env.providers)
			sort.Strings(names)
			cmd.PrintErrf("Tear down with: mc-fleet teardown --run %s --providers %s\n", runID, strings.Join(names, ","))
		}

		if result.Fulfilled == 0 {
			return errors.New("could not provision any instance")
		}
		return nil
	},
}

func init() {
	flags.Selection(provisionCmd.Flags())
	flags.Allocation(provisionCmd.Flags())
}

// progress reports allocation events on the spinner.
func progress(spinner *ui.Spinner) fleet.Observer {
	return func(event fleet.Event) {
		switch e := event.(type) {
		case fleet.EventFleetRequested:
			spinner.UpdateMessage(fmt.Sprintf("Requesting %d instances from %s/%s", e.Capacity, e.Provider, e.Region))
		case fleet.EventFleetCreated:
			spinner.Step(color.HiGreenString("✓"), fmt.Sprintf("Fleet %s on %s/%s: %d instances (%d/%d)", e.Fleet, e.Provider, e.Region, e.Instances, e.Fulfilled, e.Target))
			for _, softError := range e.SoftErrors {
				spinner.Step(color.HiYellowString("!"), softError)
			}
		case fleet.EventFleetFailed:
			spinner.Step(color.HiYellowString("!"), fmt.Sprintf("%s/%s: %s", e.Provider, e.Region, e.Reason))
		}
	}
}

// singleOffers keeps the offers sharing the provider and region of the
// cheapest one: a fleet request targets a single region.
func singleOffers(offers []catalog.PricedOffer) []catalog.PricedOffer {
	if len(offers) == 0 {
		return nil
	}
	return lo.Filter(offers, func(offer catalog.PricedOffer, _ int) bool {
		return offer.Provider == offers[0].Provider && offer.Region == offers[0].Region
	})
}

func printInstances(cmd *cobra.Command, result fleet.Result) {
	for _, id := range result.Order {
		cmd.Println(color.HiWhiteString("Fleet %s", id))
		for _, instance := range result.Fleets[id] {
			printInstance(cmd, instance)
		}
	}
	if len(result.Surplus) > 0 {
		cmd.Println(color.HiYellowString("Surplus (not counted, still billed)"))
		for _, instance := range result.Surplus {
			printInstance(cmd, instance)
		}
	}
}

func printInstance(cmd *cobra.Command, instance fleet.ProvisionedInstance) {
	cmd.Printf("  %-10s  %s  %-20s  %-24s  %-15s  %-15s  %s\n",
		instance.Provider,
		color.HiCyanString("%-20s", instance.InstanceID),
		instance.AvailabilityZone,
		instance.InstanceType,
		instance.PublicIP,
		instance.PrivateIP,
		color.HiGreenString(report.FormatPrice(instance.Price)),
	)
}

// deleteFleets tears down the run. It outlives an interrupted command
// context, bounded by teardownTimeout.
func deleteFleets(cmd *cobra.Command, allocator *fleet.Allocator) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), teardownTimeout)
	defer cancel()

	spinner := newSpinner(cmd, "Deleting fleets")
	if err := allocator.DeleteAll(ctx); err != nil {
		spinner.Fail()
		return fmt.Errorf("failed to delete fleets: %w", err)
	}
	spinner.Success("Fleets deleted")
	return nil
}
