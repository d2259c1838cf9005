package azure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/computefleet/armcomputefleet"
	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/SerranoZz/mc-fleet/provider/internal"
	"github.com/samber/lo"
)

const (
	TagRun   = "mc-fleet-run"
	TagFleet = "mc-fleet-fleet"
)

// Provider creates Azure Compute Fleets with a spot priority profile and
// reports the virtual machines they spawned.
type Provider struct {
	config Config
	cloud  Cloud
	log    *slog.Logger
	namer  *internal.FleetNamer

	profileOnce sync.Once
	profile     *armcomputefleet.ComputeProfile
	profileErr  error
}

// Provider implements fleet.Provider
var _ fleet.Provider = (*Provider)(nil)

func New(config Config) (*Provider, error) {
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create default credential: %w", err)
	}

	cloud, err := newSDKCloud(config.SubscriptionID, config.ResourceGroup, credential)
	if err != nil {
		return nil, err
	}

	return NewWithCloud(config, cloud)
}

func NewWithCloud(config Config, cloud Cloud) (*Provider, error) {
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		config: config,
		cloud:  cloud,
		log:    logger.With("provider", ProviderName),
		namer:  internal.NewFleetNamer("AZURE-FLEET"),
	}, nil
}

func (p *Provider) Enumerate(_ context.Context, request catalog.EnumerateRequest) ([]catalog.PriceCandidate, error) {
	return p.config.Inventory.Candidates(ProviderName, request, true), nil
}

func (p *Provider) CreateFleet(ctx context.Context, offers []catalog.PricedOffer, strategy fleet.Strategy, capacity int) (fleet.Fleet, error) {
	if len(offers) == 0 {
		return fleet.Fleet{}, errors.New("no offers to create a fleet from")
	}
	if capacity < 1 {
		return fleet.Fleet{}, fmt.Errorf("capacity must be greater than 0, got %d", capacity)
	}

	p.profileOnce.Do(func() {
		p.profile, p.profileErr = p.loadComputeProfile()
	})
	if p.profileErr != nil {
		return fleet.Fleet{}, p.profileErr
	}

	region := offers[0].Region
	name := p.namer.Peek()
	log := p.log.With("fleet", name, "region", region)

	sizes, dropped := vmSizes(offers)
	if dropped > 0 {
		log.Warn("Too many VM sizes for a single fleet, keeping the first ones", "kept", len(sizes), "dropped", dropped)
	}

	log.Info("Creating fleet", "capacity", capacity, "sizes", len(sizes), "strategy", strategy)
	createCtx, cancel := context.WithTimeout(ctx, p.config.CreateTimeout)
	createErr := p.cloud.CreateFleet(createCtx, name, armcomputefleet.Fleet{
		Location: to.Ptr(region),
		Properties: &armcomputefleet.FleetProperties{
			VMSizesProfile: sizes,
			ComputeProfile: p.profile,
			RegularPriorityProfile: &armcomputefleet.RegularPriorityProfile{
				Capacity: to.Ptr[int32](0),
			},
			SpotPriorityProfile: &armcomputefleet.SpotPriorityProfile{
				AllocationStrategy: to.Ptr(spotAllocationStrategy(strategy)),
				Capacity:           to.Ptr(int32(capacity)),
				EvictionPolicy:     to.Ptr(armcomputefleet.EvictionPolicyDelete),
			},
		},
		Tags: map[string]*string{
			TagRun:   to.Ptr(p.config.RunID.String()),
			TagFleet: to.Ptr(name),
		},
	})
	cancel()

	// The fleet resource may exist even when creation reported an error
	p.namer.Commit()

	var softErrors []string
	if createErr != nil {
		log.Warn("Fleet creation reported an error, looking for partial capacity", "error", createErr)
		softErrors = append(softErrors, createErr.Error())
	}

	vms, err := internal.RetryResult(ctx, 3, func() ([]VM, error) {
		return p.cloud.ListVMs(ctx)
	})
	if err != nil {
		return fleet.Fleet{}, fmt.Errorf("failed to list the virtual machines of fleet '%s': %w", name, errors.Join(createErr, err))
	}

	var instances []fleet.ProvisionedInstance
	for _, vm := range vms {
		if vm.Tags[TagRun] != p.config.RunID.String() || !belongsTo(vm, name) {
			continue
		}
		instances = append(instances, p.toInstance(ctx, log, vm, offers))
	}

	if len(instances) == 0 {
		if createErr == nil {
			softErrors = append(softErrors, "no virtual machine found for fleet")
		}
		return fleet.Fleet{SoftErrors: softErrors}, nil
	}

	log.Info("Fleet created", "instances", len(instances))
	return fleet.Fleet{ID: name, Instances: instances, SoftErrors: softErrors}, nil
}

func (p *Provider) toInstance(ctx context.Context, log *slog.Logger, vm VM, offers []catalog.PricedOffer) fleet.ProvisionedInstance {
	instance := fleet.ProvisionedInstance{
		Provider:         ProviderName,
		InstanceType:     vm.Size,
		InstanceID:       vm.ID,
		AvailabilityZone: fmt.Sprintf("%s-%s", vm.Location, lo.Ternary(vm.Zone != "", vm.Zone, "1")),
	}

	if offer, ok := lo.Find(offers, func(o catalog.PricedOffer) bool {
		return sizeName(o.InstanceType) == vm.Size
	}); ok {
		instance.Price = offer.Price
	}

	if vm.NetworkInterfaceID == "" {
		log.Warn("Virtual machine has no network interface", "vm", vm.Name)
		return instance
	}

	type addresses struct{ private, public string }
	found, err := internal.RetryResult(ctx, 3, func() (addresses, error) {
		private, public, err := p.cloud.Addresses(ctx, vm.NetworkInterfaceID)
		return addresses{private, public}, err
	})
	if err != nil {
		log.Warn("Failed to resolve virtual machine addresses", "vm", vm.Name, "error", err)
	}
	instance.PrivateIP, instance.PublicIP = found.private, found.public
	return instance
}

// DeleteFleets deletes every fleet tagged with the run.
func (p *Provider) DeleteFleets(ctx context.Context) error {
	names, err := internal.RetryResult(ctx, 3, func() ([]string, error) {
		return p.cloud.ListFleets(ctx, TagRun, p.config.RunID.String())
	})
	if err != nil {
		return fmt.Errorf("failed to list fleets of run '%s': %w", p.config.RunID, err)
	}

	var errs []error
	for _, name := range names {
		if err := p.cloud.DeleteFleet(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete fleet '%s': %w", name, err))
			continue
		}
		p.log.Info("Fleet deleted", "fleet", name)
	}
	return errors.Join(errs...)
}

// sizeName converts an inventory size ("D2s v3") to an Azure VM size ("Standard_D2s_v3").
func sizeName(instanceType string) string {
	if strings.HasPrefix(instanceType, "Standard_") {
		return instanceType
	}
	return "Standard_" + strings.ReplaceAll(instanceType, " ", "_")
}

// vmSizes returns the distinct sizes of the offers in order, at most
// MaxVMSizes, and how many were left out.
func vmSizes(offers []catalog.PricedOffer) ([]*armcomputefleet.VMSizeProfile, int) {
	names := lo.Uniq(lo.Map(offers, func(o catalog.PricedOffer, _ int) string {
		return sizeName(o.InstanceType)
	}))

	dropped := 0
	if len(names) > MaxVMSizes {
		dropped = len(names) - MaxVMSizes
		names = names[:MaxVMSizes]
	}
	return lo.Map(names, func(name string, _ int) *armcomputefleet.VMSizeProfile {
		return &armcomputefleet.VMSizeProfile{Name: to.Ptr(name)}
	}), dropped
}

func spotAllocationStrategy(strategy fleet.Strategy) armcomputefleet.SpotAllocationStrategy {
	switch strategy {
	case fleet.StrategyCapacityOptimized:
		return armcomputefleet.SpotAllocationStrategyCapacityOptimized
	case fleet.StrategyPriceCapacityOptimized:
		return armcomputefleet.SpotAllocationStrategyPriceCapacityOptimized
	default:
		return armcomputefleet.SpotAllocationStrategyLowestPrice
	}
}

func belongsTo(vm VM, fleetName string) bool {
	if fleet, ok := vm.Tags[TagFleet]; ok {
		return fleet == fleetName
	}

	// VM names embed the fleet name; "fleet-1" must not match "fleet-12"
	name, prefix := strings.ToLower(vm.Name), strings.ToLower(fleetName)
	i := strings.Index(name, prefix)
	if i < 0 {
		return false
	}
	end := i + len(prefix)
	return end == len(name) || name[end] < '0' || name[end] > '9'
}
