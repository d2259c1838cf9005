package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
)

var InstancesHeader = []string{
	"provider", "fleet", "instance_type", "instance_id", "availability_zone", "price", "public_ip", "private_ip", "surplus",
}

var CatalogHeader = []string{
	"band", "provider", "region", "instance_type", "availability_zone", "price",
}

// WriteInstances writes one row per provisioned instance, fleet by fleet in
// creation order, followed by the surplus instances.
func WriteInstances(w io.Writer, result fleet.Result) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(InstancesHeader); err != nil {
		return err
	}

	row := func(fleetID string, instance fleet.ProvisionedInstance, surplus bool) []string {
		return []string{
			instance.Provider,
			fleetID,
			instance.InstanceType,
			instance.InstanceID,
			instance.AvailabilityZone,
			FormatPrice(instance.Price),
			instance.PublicIP,
			instance.PrivateIP,
			strconv.FormatBool(surplus),
		}
	}

	for _, id := range result.Order {
		for _, instance := range result.Fleets[id] {
			if err := writer.Write(row(id, instance, false)); err != nil {
				return err
			}
		}
	}
	for _, instance := range result.Surplus {
		if err := writer.Write(row("", instance, true)); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCatalog writes one row per offer. Band numbers start at 1 and are
// only filled when the catalog was grouped.
func WriteCatalog(w io.Writer, c catalog.Catalog) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CatalogHeader); err != nil {
		return err
	}

	row := func(band string, offer catalog.PricedOffer) []string {
		return []string{band, offer.Provider, offer.Region, offer.InstanceType, offer.AvailabilityZone, FormatPrice(offer.Price)}
	}

	if c.Bands != nil {
		for i, band := range c.Bands {
			for _, offer := range band {
				if err := writer.Write(row(strconv.Itoa(i+1), offer)); err != nil {
					return err
				}
			}
		}
	} else {
		for _, offer := range c.Offers {
			if err := writer.Write(row("", offer)); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteFile creates (or truncates) path and writes the report into it.
func WriteFile(path string, write func(io.Writer) error) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close report file: %w", closeErr)
		}
	}()

	if err := write(file); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}
