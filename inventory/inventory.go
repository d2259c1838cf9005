package inventory

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/pricing"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const LocationAll = "both"

// Inventory declares, per provider and region, the instance types worth
// pricing and the zones they can be placed in.
type Inventory struct {
	path string

	// Location presets: location -> provider -> regions
	Locations map[string]map[string][]string `yaml:"locations"`
	Providers map[string]Provider            `yaml:"providers"`
}

type Provider struct {
	// Provider specific settings, e.g. the AWS launch template name
	Settings map[string]string `yaml:"settings"`
	Regions  map[string]Region `yaml:"regions"`
}

type Region struct {
	// Zone name -> placement identifier (AWS subnet, OpenStack network, ...)
	AvailabilityZones map[string]string `yaml:"availability_zones"`
	InstanceTypes     InstanceTypes     `yaml:"instance_types"`
}

type InstanceType struct {
	Name  string `yaml:"name"`
	VCPUs int    `yaml:"vcpus"`
	// Optional zone -> price table used by the static price source
	SpotPrices map[string]float64 `yaml:"spot_prices"`
}

// InstanceTypes accepts nested sequences and flattens them in order.
type InstanceTypes []InstanceType

func (types *InstanceTypes) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: instance_types must be a sequence", node.Line)
	}

	for _, item := range node.Content {
		if item.Kind == yaml.SequenceNode {
			var nested InstanceTypes
			if err := nested.UnmarshalYAML(item); err != nil {
				return err
			}
			*types = append(*types, nested...)
			continue
		}

		var instanceType InstanceType
		if err := item.Decode(&instanceType); err != nil {
			return err
		}
		*types = append(*types, instanceType)
	}
	return nil
}

var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

func (inv Inventory) Validate() error {
	if len(inv.Providers) == 0 {
		return errors.New("at least one provider is required")
	}

	for name, provider := range inv.Providers {
		if !nameRegex.MatchString(name) {
			return fmt.Errorf("providers names must be valid identifiers")
		}

		for regionName, region := range provider.Regions {
			for i, instanceType := range region.InstanceTypes {
				if instanceType.Name == "" {
					return fmt.Errorf("providers[%s].regions[%s].instance_types[%d].name is required", name, regionName, i)
				}
				if instanceType.VCPUs < 1 {
					return fmt.Errorf("providers[%s].regions[%s].instance_types[%s].vcpus must be greater than 0", name, regionName, instanceType.Name)
				}
				for zone, price := range instanceType.SpotPrices {
					if price < 0 {
						return fmt.Errorf("providers[%s].regions[%s].instance_types[%s].spot_prices[%s] must not be negative", name, regionName, instanceType.Name, zone)
					}
				}
			}
		}
	}

	for location, providers := range inv.Locations {
		for name, regions := range providers {
			provider, ok := inv.Providers[name]
			if !ok {
				continue
			}
			for _, region := range regions {
				if _, ok := provider.Regions[region]; !ok {
					return fmt.Errorf("locations[%s].%s references unknown region '%s'", location, name, region)
				}
			}
		}
	}

	return nil
}

// Regions returns the sorted regions of a provider covered by a location
// preset. Unknown presets and LocationAll select every region.
func (inv Inventory) Regions(provider, location string) []string {
	regions := lo.Keys(inv.Providers[provider].Regions)
	if preset, ok := inv.Locations[location]; ok && location != LocationAll {
		regions = lo.Intersect(regions, preset[provider])
	}
	sort.Strings(regions)
	return regions
}

// Candidates enumerates the instance types of a provider matching the
// request. When applyLimit is set and request.Limit is positive, at most
// Limit candidates are returned.
func (inv Inventory) Candidates(provider string, request catalog.EnumerateRequest, applyLimit bool) []catalog.PriceCandidate {
	var candidates []catalog.PriceCandidate
	for _, regionName := range inv.Regions(provider, request.Location) {
		for _, instanceType := range inv.Providers[provider].Regions[regionName].InstanceTypes {
			if request.VCPUs > 0 && instanceType.VCPUs != request.VCPUs {
				continue
			}
			candidates = append(candidates, catalog.PriceCandidate{
				Provider:     provider,
				InstanceType: instanceType.Name,
				Region:       regionName,
				VCPUs:        instanceType.VCPUs,
			})
		}
	}

	if applyLimit && request.Limit > 0 && len(candidates) > request.Limit {
		candidates = candidates[:request.Limit]
	}
	return candidates
}

// Placement returns the placement identifier declared for a zone.
func (inv Inventory) Placement(provider, region, zone string) (string, bool) {
	placement, ok := inv.Providers[provider].Regions[region].AvailabilityZones[zone]
	return placement, ok && placement != ""
}

func (inv Inventory) Setting(provider, key string) string {
	return inv.Providers[provider].Settings[key]
}

// StaticSource exposes the declared spot prices as a price source.
func (inv Inventory) StaticSource() *pricing.StaticSource {
	source := pricing.NewStaticSource()
	for providerName, provider := range inv.Providers {
		for regionName, region := range provider.Regions {
			for _, instanceType := range region.InstanceTypes {
				if len(instanceType.SpotPrices) > 0 {
					source.Set(providerName, regionName, instanceType.Name, instanceType.SpotPrices)
				}
			}
		}
	}
	return source
}
