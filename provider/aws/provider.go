package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/SerranoZz/mc-fleet/provider/internal"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"
)

const (
	TagRun   = "mc-fleet:run"
	TagFleet = "mc-fleet:fleet"
)

// Provider creates EC2 instant fleets out of a launch template, one
// override per offer placed in the subnet of the offer's zone.
type Provider struct {
	config  Config
	clients ClientFactory
	log     *slog.Logger
	namer   *internal.FleetNamer

	waitRunning func(ctx context.Context, client EC2API, instanceIDs []string, timeout time.Duration) error
}

// Provider implements fleet.Provider
var _ fleet.Provider = (*Provider)(nil)

func New(ctx context.Context, config Config) (*Provider, error) {
	clients, err := LoadClients(ctx, config.Profile)
	if err != nil {
		return nil, err
	}
	return NewWithClients(config, clients)
}

func NewWithClients(config Config, clients ClientFactory) (*Provider, error) {
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		config:      config,
		clients:     clients,
		log:         logger.With("provider", ProviderName),
		namer:       internal.NewFleetNamer("AWS-FLEET"),
		waitRunning: waitRunning,
	}, nil
}

func (p *Provider) Enumerate(_ context.Context, request catalog.EnumerateRequest) ([]catalog.PriceCandidate, error) {
	return p.config.Inventory.Candidates(ProviderName, request, !p.config.IgnoreLimit), nil
}

func (p *Provider) CreateFleet(ctx context.Context, offers []catalog.PricedOffer, strategy fleet.Strategy, capacity int) (fleet.Fleet, error) {
	if len(offers) == 0 {
		return fleet.Fleet{}, errors.New("no offers to create a fleet from")
	}
	if capacity < 1 {
		return fleet.Fleet{}, fmt.Errorf("capacity must be greater than 0, got %d", capacity)
	}

	region := offers[0].Region
	name := p.namer.Peek()
	log := p.log.With("fleet", name, "region", region)

	overrides := p.overrides(log, offers)
	if len(overrides) == 0 {
		return fleet.Fleet{}, fmt.Errorf("no subnet declared for any zone of the offers in region '%s'", region)
	}

	templateName, templateVersion := p.config.launchTemplate()
	client := p.clients(region)

	log.Info("Creating fleet", "capacity", capacity, "overrides", len(overrides), "strategy", strategy)
	response, err := client.CreateFleet(ctx, &ec2.CreateFleetInput{
		Type: types.FleetTypeInstant,
		LaunchTemplateConfigs: []types.FleetLaunchTemplateConfigRequest{{
			LaunchTemplateSpecification: &types.FleetLaunchTemplateSpecificationRequest{
				LaunchTemplateName: awssdk.String(templateName),
				Version:            awssdk.String(templateVersion),
			},
			Overrides: overrides,
		}},
		TargetCapacitySpecification: &types.TargetCapacitySpecificationRequest{
			TotalTargetCapacity:       awssdk.Int32(int32(capacity)),
			DefaultTargetCapacityType: types.DefaultTargetCapacityTypeSpot,
		},
		SpotOptions: &types.SpotOptionsRequest{
			AllocationStrategy: types.SpotAllocationStrategy(strategy),
		},
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags: []types.Tag{
				{Key: awssdk.String("Name"), Value: awssdk.String(p.config.RunID.Tag())},
				{Key: awssdk.String(TagRun), Value: awssdk.String(p.config.RunID.String())},
				{Key: awssdk.String(TagFleet), Value: awssdk.String(name)},
			},
		}},
	})
	if err != nil {
		return fleet.Fleet{}, fmt.Errorf("failed to create fleet '%s': %w", name, err)
	}

	softErrors := lo.Map(response.Errors, func(e types.CreateFleetError, _ int) string {
		return formatFleetError(e)
	})
	instanceIDs := lo.FlatMap(response.Instances, func(i types.CreateFleetInstance, _ int) []string {
		return i.InstanceIds
	})
	if len(instanceIDs) == 0 {
		log.Warn("Fleet created without instances", "fleetId", awssdk.ToString(response.FleetId), "errors", len(softErrors))
		return fleet.Fleet{SoftErrors: softErrors}, nil
	}
	p.namer.Commit()

	log.Info("Fleet created, waiting for instances to be running", "fleetId", awssdk.ToString(response.FleetId), "instances", len(instanceIDs))
	if err := p.waitRunning(ctx, client, instanceIDs, p.config.WaitTimeout); err != nil {
		return fleet.Fleet{}, fmt.Errorf("failed while waiting for the instances of fleet '%s' to be running: %w", name, err)
	}

	instances, err := p.describe(ctx, client, instanceIDs, offers)
	if err != nil {
		return fleet.Fleet{}, fmt.Errorf("failed to describe the instances of fleet '%s': %w", name, err)
	}

	log.Info("Fleet instances running", "instances", len(instances))
	return fleet.Fleet{ID: name, Instances: instances, SoftErrors: softErrors}, nil
}

func (p *Provider) overrides(log *slog.Logger, offers []catalog.PricedOffer) []types.FleetLaunchTemplateOverridesRequest {
	var overrides []types.FleetLaunchTemplateOverridesRequest
	for _, offer := range offers {
		subnet, ok := p.config.Inventory.Placement(ProviderName, offer.Region, offer.AvailabilityZone)
		if !ok {
			log.Warn("No subnet declared for zone, skipping offer", "instanceType", offer.InstanceType, "zone", offer.AvailabilityZone)
			continue
		}
		overrides = append(overrides, types.FleetLaunchTemplateOverridesRequest{
			InstanceType: types.InstanceType(offer.InstanceType),
			SubnetId:     awssdk.String(subnet),
		})
	}
	return overrides
}

func (p *Provider) describe(ctx context.Context, client EC2API, instanceIDs []string, offers []catalog.PricedOffer) ([]fleet.ProvisionedInstance, error) {
	response, err := internal.RetryResult(ctx, 3, func() (*ec2.DescribeInstancesOutput, error) {
		return client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: instanceIDs})
	})
	if err != nil {
		return nil, err
	}

	var instances []fleet.ProvisionedInstance
	for _, reservation := range response.Reservations {
		for _, instance := range reservation.Instances {
			var zone string
			if instance.Placement != nil {
				zone = awssdk.ToString(instance.Placement.AvailabilityZone)
			}
			instances = append(instances, fleet.ProvisionedInstance{
				Provider:         ProviderName,
				InstanceType:     string(instance.InstanceType),
				InstanceID:       awssdk.ToString(instance.InstanceId),
				AvailabilityZone: zone,
				Price:            internal.PriceOf(offers, string(instance.InstanceType)),
				PublicIP:         awssdk.ToString(instance.PublicIpAddress),
				PrivateIP:        awssdk.ToString(instance.PrivateIpAddress),
			})
		}
	}
	return instances, nil
}

// DeleteFleets terminates the live instances tagged with the run in every
// inventory region.
func (p *Provider) DeleteFleets(ctx context.Context) error {
	var errs []error
	for _, region := range p.config.Inventory.Regions(ProviderName, "") {
		if err := p.deleteInRegion(ctx, region); err != nil {
			errs = append(errs, fmt.Errorf("region '%s': %w", region, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Provider) deleteInRegion(ctx context.Context, region string) error {
	client := p.clients(region)

	var instanceIDs []string
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: awssdk.String("tag:" + TagRun), Values: []string{p.config.RunID.String()}},
			{Name: awssdk.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				instanceIDs = append(instanceIDs, awssdk.ToString(instance.InstanceId))
			}
		}
	}

	if len(instanceIDs) == 0 {
		p.log.Debug("No instances to terminate", "region", region)
		return nil
	}

	if _, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: instanceIDs}); err != nil {
		return fmt.Errorf("failed to terminate %d instances: %w", len(instanceIDs), err)
	}

	p.log.Info("Instances terminated", "region", region, "instances", len(instanceIDs))
	return nil
}

func waitRunning(ctx context.Context, client EC2API, instanceIDs []string, timeout time.Duration) error {
	waiter := ec2.NewInstanceRunningWaiter(client, func(o *ec2.InstanceRunningWaiterOptions) {
		o.MinDelay = 15 * time.Second
	})
	return waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: instanceIDs}, timeout)
}

func formatFleetError(e types.CreateFleetError) string {
	message := fmt.Sprintf("%s: %s", awssdk.ToString(e.ErrorCode), awssdk.ToString(e.ErrorMessage))
	if e.LaunchTemplateAndOverrides != nil && e.LaunchTemplateAndOverrides.Overrides != nil {
		if instanceType := e.LaunchTemplateAndOverrides.Overrides.InstanceType; instanceType != "" {
			message = fmt.Sprintf("%s (%s)", message, instanceType)
		}
	}
	return message
}
