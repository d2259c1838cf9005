package main

import (
	"fmt"
	"io"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/mc-fleet/flags"
	"github.com/SerranoZz/mc-fleet/namegen"
	"github.com/SerranoZz/mc-fleet/report"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List spot offers sorted by price",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		request, err := selectionRequest(viper.GetBool(flags.Group))
		if err != nil {
			return err
		}

		env, err := newEnvironment(cmd, namegen.Get())
		if err != nil {
			return err
		}

		spinner := newSpinner(cmd, "Pricing offers")
		c, err := env.buildCatalog(cmd.Context(), request)
		if err != nil {
			spinner.Fail()
			return fmt.Errorf("failed to build catalog: %w", err)
		}
		spinner.Success(fmt.Sprintf("Priced %d offers", len(c.Offers)))

		if c.Bands != nil {
			printBands(cmd, c.Bands)
		} else {
			printOffers(cmd, c.Offers)
		}

		return writeOutput(cmd, func(w io.Writer) error {
			return report.WriteCatalog(w, c)
		})
	},
}

func init() {
	flags.Selection(catalogCmd.Flags())
	catalogCmd.Flags().Bool(flags.Group, false, "group offers into price bands")
}

func printOffers(cmd *cobra.Command, offers []catalog.PricedOffer) {
	for _, offer := range offers {
		cmd.Printf("  %-10s  %-16s  %-20s  %s  %s\n",
			offer.Provider,
			offer.Region,
			offer.AvailabilityZone,
			color.HiCyanString("%-24s", offer.InstanceType),
			color.HiGreenString(report.FormatPrice(offer.Price)),
		)
	}
}

func printBands(cmd *cobra.Command, bands []catalog.PriceBand) {
	for i, band := range bands {
		cmd.Printf("%s %s / %s from %s\n",
			color.HiWhiteString("Band %d:", i+1),
			band.Provider(),
			band.Region(),
			color.HiGreenString(report.FormatPrice(band.MinPrice())),
		)
		printOffers(cmd, band)
	}
}

// writeOutput writes the CSV report when --output is set.
func writeOutput(cmd *cobra.Command, write func(io.Writer) error) error {
	output := viper.GetString(flags.Output)
	if output == "" {
		return nil
	}
	if err := report.WriteFile(output, write); err != nil {
		return err
	}
	cmd.PrintErrf("Report written to '%s'\n", output)
	return nil
}
