package aws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/SerranoZz/mc-fleet/inventory"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Mock EC2 client ---

type mockEC2 struct {
	mu sync.Mutex

	region string

	createInputs    []*ec2.CreateFleetInput
	createOutput    *ec2.CreateFleetOutput
	createErr       error
	describeInputs  []*ec2.DescribeInstancesInput
	instances       []types.Instance
	terminated      [][]string
	terminateErr    error
	spotPriceInputs []*ec2.DescribeSpotPriceHistoryInput
	spotPrices      []types.SpotPrice
}

func (m *mockEC2) CreateFleet(_ context.Context, params *ec2.CreateFleetInput, _ ...func(*ec2.Options)) (*ec2.CreateFleetOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createInputs = append(m.createInputs, params)
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createOutput, nil
}

func (m *mockEC2) DescribeInstances(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.describeInputs = append(m.describeInputs, params)
	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{Instances: m.instances}},
	}, nil
}

func (m *mockEC2) TerminateInstances(_ context.Context, params *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminateErr != nil {
		return nil, m.terminateErr
	}
	m.terminated = append(m.terminated, params.InstanceIds)
	return &ec2.TerminateInstancesOutput{}, nil
}

func (m *mockEC2) DescribeSpotPriceHistory(_ context.Context, params *ec2.DescribeSpotPriceHistoryInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spotPriceInputs = append(m.spotPriceInputs, params)
	return &ec2.DescribeSpotPriceHistoryOutput{SpotPriceHistory: m.spotPrices}, nil
}

type mockClients map[string]*mockEC2

func (m mockClients) factory() ClientFactory {
	return func(region string) EC2API {
		if client, ok := m[region]; ok {
			return client
		}
		client := &mockEC2{region: region}
		m[region] = client
		return client
	}
}

// --- Helpers ---

func testInventory() *inventory.Inventory {
	return &inventory.Inventory{
		Providers: map[string]inventory.Provider{
			"aws": {
				Settings: map[string]string{SettingLaunchTemplate: "mc-fleet-template"},
				Regions: map[string]inventory.Region{
					"sa-east-1": {
						AvailabilityZones: map[string]string{"sa-east-1a": "subnet-0a", "sa-east-1c": "subnet-0c"},
						InstanceTypes: inventory.InstanceTypes{
							{Name: "t3.micro", VCPUs: 2},
							{Name: "t3a.micro", VCPUs: 2},
							{Name: "m5.24xlarge", VCPUs: 96},
						},
					},
					"us-east-1": {
						AvailabilityZones: map[string]string{"us-east-1a": "subnet-1a"},
						InstanceTypes:     inventory.InstanceTypes{{Name: "t3.micro", VCPUs: 2}},
					},
				},
			},
		},
	}
}

func newTestProvider(t *testing.T, clients mockClients) *Provider {
	config := DefaultConfig()
	config.Logger = silentLogger
	config.Inventory = testInventory()
	config.RunID = "brave-turing"

	provider, err := NewWithClients(config, clients.factory())
	require.NoError(t, err)
	provider.waitRunning = func(context.Context, EC2API, []string, time.Duration) error { return nil }
	return provider
}

func running(id, instanceType, zone string) types.Instance {
	return types.Instance{
		InstanceId:       awssdk.String(id),
		InstanceType:     types.InstanceType(instanceType),
		Placement:        &types.Placement{AvailabilityZone: awssdk.String(zone)},
		PublicIpAddress:  awssdk.String("54.0.0.1"),
		PrivateIpAddress: awssdk.String("10.0.0.1"),
		State:            &types.InstanceState{Name: types.InstanceStateNameRunning},
	}
}

var testOffers = []catalog.PricedOffer{
	{Provider: "aws", InstanceType: "t3.micro", Region: "sa-east-1", AvailabilityZone: "sa-east-1a", Price: 0.0050},
	{Provider: "aws", InstanceType: "t3a.micro", Region: "sa-east-1", AvailabilityZone: "sa-east-1c", Price: 0.0048},
}

// --- Tests ---

func TestValidate(t *testing.T) {
	config := DefaultConfig()
	assert.EqualError(t, Validate(config), "inventory is required")

	config.Inventory = testInventory()
	assert.EqualError(t, Validate(config), "run id is required")

	config.RunID = "brave-turing"
	config.WaitTimeout = 0
	assert.EqualError(t, Validate(config), "wait-timeout must be greater than 0")
}

func TestEnumerate_IgnoresLimit(t *testing.T) {
	provider := newTestProvider(t, mockClients{})

	candidates, err := provider.Enumerate(context.Background(), catalog.EnumerateRequest{Location: "both", VCPUs: 2, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, candidates, 3)

	provider.config.IgnoreLimit = false
	candidates, err = provider.Enumerate(context.Background(), catalog.EnumerateRequest{Location: "both", VCPUs: 2, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestCreateFleet(t *testing.T) {
	clients := mockClients{"sa-east-1": {
		createOutput: &ec2.CreateFleetOutput{
			FleetId: awssdk.String("fleet-123"),
			Instances: []types.CreateFleetInstance{
				{InstanceIds: []string{"i-1", "i-2"}, InstanceType: "t3a.micro"},
				{InstanceIds: []string{"i-3"}, InstanceType: "t3.micro"},
			},
			Errors: []types.CreateFleetError{{
				ErrorCode:    awssdk.String("InsufficientInstanceCapacity"),
				ErrorMessage: awssdk.String("no capacity"),
			}},
		},
		instances: []types.Instance{
			running("i-1", "t3a.micro", "sa-east-1c"),
			running("i-2", "t3a.micro", "sa-east-1c"),
			running("i-3", "t3.micro", "sa-east-1a"),
		},
	}}
	provider := newTestProvider(t, clients)

	created, err := provider.CreateFleet(context.Background(), testOffers, fleet.StrategyPriceCapacityOptimized, 4)
	require.NoError(t, err)

	assert.Equal(t, "AWS-FLEET-1", created.ID)
	assert.Equal(t, []string{"InsufficientInstanceCapacity: no capacity"}, created.SoftErrors)
	require.Len(t, created.Instances, 3)
	assert.Equal(t, fleet.ProvisionedInstance{
		Provider:         "aws",
		InstanceType:     "t3a.micro",
		InstanceID:       "i-1",
		AvailabilityZone: "sa-east-1c",
		Price:            0.0048,
		PublicIP:         "54.0.0.1",
		PrivateIP:        "10.0.0.1",
	}, created.Instances[0])
	assert.Equal(t, 0.0050, created.Instances[2].Price)

	client := clients["sa-east-1"]
	require.Len(t, client.createInputs, 1)
	input := client.createInputs[0]
	assert.Equal(t, types.FleetTypeInstant, input.Type)
	assert.Equal(t, int32(4), *input.TargetCapacitySpecification.TotalTargetCapacity)
	assert.Equal(t, types.DefaultTargetCapacityTypeSpot, input.TargetCapacitySpecification.DefaultTargetCapacityType)
	assert.Equal(t, types.SpotAllocationStrategyPriceCapacityOptimized, input.SpotOptions.AllocationStrategy)
	assert.Equal(t, "mc-fleet-template", *input.LaunchTemplateConfigs[0].LaunchTemplateSpecification.LaunchTemplateName)
	assert.Equal(t, "$Default", *input.LaunchTemplateConfigs[0].LaunchTemplateSpecification.Version)

	overrides := input.LaunchTemplateConfigs[0].Overrides
	require.Len(t, overrides, 2)
	assert.Equal(t, types.InstanceType("t3.micro"), overrides[0].InstanceType)
	assert.Equal(t, "subnet-0a", *overrides[0].SubnetId)
	assert.Equal(t, "subnet-0c", *overrides[1].SubnetId)

	tags := input.TagSpecifications[0].Tags
	assert.Contains(t, tags, types.Tag{Key: awssdk.String(TagRun), Value: awssdk.String("brave-turing")})
	assert.Contains(t, tags, types.Tag{Key: awssdk.String("Name"), Value: awssdk.String("mc-fleet-brave-turing")})

	assert.Equal(t, "AWS-FLEET-2", provider.namer.Peek())
}

func TestCreateFleet_SkipsOffersWithoutSubnet(t *testing.T) {
	clients := mockClients{"sa-east-1": {
		createOutput: &ec2.CreateFleetOutput{
			Instances: []types.CreateFleetInstance{{InstanceIds: []string{"i-1"}}},
		},
		instances: []types.Instance{running("i-1", "t3.micro", "sa-east-1a")},
	}}
	provider := newTestProvider(t, clients)

	offers := append([]catalog.PricedOffer{
		{Provider: "aws", InstanceType: "c5.large", Region: "sa-east-1", AvailabilityZone: "sa-east-1b", Price: 0.004},
	}, testOffers...)
	_, err := provider.CreateFleet(context.Background(), offers, fleet.StrategyLowestPrice, 1)
	require.NoError(t, err)
	assert.Len(t, clients["sa-east-1"].createInputs[0].LaunchTemplateConfigs[0].Overrides, 2)

	_, err = provider.CreateFleet(context.Background(), offers[:1], fleet.StrategyLowestPrice, 1)
	assert.ErrorContains(t, err, "no subnet declared")
}

func TestCreateFleet_NoInstances(t *testing.T) {
	clients := mockClients{"sa-east-1": {
		createOutput: &ec2.CreateFleetOutput{
			FleetId: awssdk.String("fleet-123"),
			Errors: []types.CreateFleetError{{
				ErrorCode:    awssdk.String("InsufficientInstanceCapacity"),
				ErrorMessage: awssdk.String("no capacity"),
				LaunchTemplateAndOverrides: &types.LaunchTemplateAndOverridesResponse{
					Overrides: &types.FleetLaunchTemplateOverrides{InstanceType: "t3.micro"},
				},
			}},
		},
	}}
	provider := newTestProvider(t, clients)

	created, err := provider.CreateFleet(context.Background(), testOffers, fleet.StrategyLowestPrice, 2)
	require.NoError(t, err)
	assert.Empty(t, created.ID)
	assert.Empty(t, created.Instances)
	assert.Equal(t, []string{"InsufficientInstanceCapacity: no capacity (t3.micro)"}, created.SoftErrors)
	assert.Equal(t, "AWS-FLEET-1", provider.namer.Peek(), "the name must not be consumed")
}

func TestCreateFleet_Errors(t *testing.T) {
	clients := mockClients{"sa-east-1": {createErr: errors.New("UnauthorizedOperation")}}
	provider := newTestProvider(t, clients)

	_, err := provider.CreateFleet(context.Background(), testOffers, fleet.StrategyLowestPrice, 2)
	assert.ErrorContains(t, err, "UnauthorizedOperation")

	_, err = provider.CreateFleet(context.Background(), nil, fleet.StrategyLowestPrice, 2)
	assert.Error(t, err)

	_, err = provider.CreateFleet(context.Background(), testOffers, fleet.StrategyLowestPrice, 0)
	assert.Error(t, err)
}

func TestCreateFleet_WaitFailure(t *testing.T) {
	clients := mockClients{"sa-east-1": {
		createOutput: &ec2.CreateFleetOutput{
			Instances: []types.CreateFleetInstance{{InstanceIds: []string{"i-1"}}},
		},
	}}
	provider := newTestProvider(t, clients)
	provider.waitRunning = func(context.Context, EC2API, []string, time.Duration) error {
		return errors.New("exceeded max wait time")
	}

	_, err := provider.CreateFleet(context.Background(), testOffers, fleet.StrategyLowestPrice, 1)
	assert.ErrorContains(t, err, "exceeded max wait time")
}

func TestDeleteFleets(t *testing.T) {
	clients := mockClients{
		"sa-east-1": {instances: []types.Instance{running("i-1", "t3.micro", "sa-east-1a")}},
		"us-east-1": {},
	}
	provider := newTestProvider(t, clients)

	require.NoError(t, provider.DeleteFleets(context.Background()))
	assert.Equal(t, [][]string{{"i-1"}}, clients["sa-east-1"].terminated)
	assert.Empty(t, clients["us-east-1"].terminated)

	filters := clients["sa-east-1"].describeInputs[0].Filters
	assert.Equal(t, "tag:"+TagRun, *filters[0].Name)
	assert.Equal(t, []string{"brave-turing"}, filters[0].Values)
}

func TestDeleteFleets_JoinsRegionErrors(t *testing.T) {
	clients := mockClients{
		"sa-east-1": {instances: []types.Instance{running("i-1", "t3.micro", "sa-east-1a")}, terminateErr: errors.New("denied")},
		"us-east-1": {instances: []types.Instance{running("i-2", "t3.micro", "us-east-1a")}},
	}
	provider := newTestProvider(t, clients)

	err := provider.DeleteFleets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region 'sa-east-1'")
	assert.Equal(t, [][]string{{"i-2"}}, clients["us-east-1"].terminated)
}
