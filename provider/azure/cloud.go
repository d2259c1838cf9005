package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/computefleet/armcomputefleet"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v5"
)

// VM is a virtual machine as seen by the provider.
type VM struct {
	Name     string
	ID       string
	Size     string
	Location string
	Zone     string
	Tags     map[string]string
	// Resource ID of the primary network interface
	NetworkInterfaceID string
}

// Cloud abstracts the Azure resource manager calls used by the provider,
// enabling mock-based testing without an Azure subscription.
type Cloud interface {
	CreateFleet(ctx context.Context, name string, fleet armcomputefleet.Fleet) error
	DeleteFleet(ctx context.Context, name string) error
	// ListFleets returns the names of the fleets carrying a tag
	ListFleets(ctx context.Context, tagKey, tagValue string) ([]string, error)
	ListVMs(ctx context.Context) ([]VM, error)
	Addresses(ctx context.Context, networkInterfaceID string) (private, public string, err error)
}

type sdkCloud struct {
	resourceGroup string
	fleets        *armcomputefleet.FleetsClient
	vms           *armcompute.VirtualMachinesClient
	interfaces    *armnetwork.InterfacesClient
	publicIPs     *armnetwork.PublicIPAddressesClient
}

// sdkCloud implements Cloud
var _ Cloud = (*sdkCloud)(nil)

func newSDKCloud(subscriptionID, resourceGroup string, credential azcore.TokenCredential) (*sdkCloud, error) {
	fleets, err := armcomputefleet.NewFleetsClient(subscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute fleet client: %w", err)
	}
	vms, err := armcompute.NewVirtualMachinesClient(subscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}
	interfaces, err := armnetwork.NewInterfacesClient(subscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create network interfaces client: %w", err)
	}
	publicIPs, err := armnetwork.NewPublicIPAddressesClient(subscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create public ip addresses client: %w", err)
	}

	return &sdkCloud{
		resourceGroup: resourceGroup,
		fleets:        fleets,
		vms:           vms,
		interfaces:    interfaces,
		publicIPs:     publicIPs,
	}, nil
}

func (c *sdkCloud) CreateFleet(ctx context.Context, name string, fleet armcomputefleet.Fleet) error {
	poller, err := c.fleets.BeginCreateOrUpdate(ctx, c.resourceGroup, name, fleet, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *sdkCloud) DeleteFleet(ctx context.Context, name string) error {
	poller, err := c.fleets.BeginDelete(ctx, c.resourceGroup, name, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

func (c *sdkCloud) ListFleets(ctx context.Context, tagKey, tagValue string) ([]string, error) {
	var names []string
	pager := c.fleets.NewListByResourceGroupPager(c.resourceGroup, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, fleet := range page.Value {
			if fleet == nil || fleet.Name == nil {
				continue
			}
			if value, ok := fleet.Tags[tagKey]; ok && value != nil && *value == tagValue {
				names = append(names, *fleet.Name)
			}
		}
	}
	return names, nil
}

func (c *sdkCloud) ListVMs(ctx context.Context) ([]VM, error) {
	var vms []VM
	pager := c.vms.NewListAllPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, vm := range page.Value {
			if vm == nil {
				continue
			}
			vms = append(vms, toVM(vm))
		}
	}
	return vms, nil
}

func toVM(vm *armcompute.VirtualMachine) VM {
	result := VM{
		Name:     deref(vm.Name),
		Location: deref(vm.Location),
		Tags:     map[string]string{},
	}
	for key, value := range vm.Tags {
		result.Tags[key] = deref(value)
	}
	if len(vm.Zones) > 0 {
		result.Zone = deref(vm.Zones[0])
	}

	if properties := vm.Properties; properties != nil {
		result.ID = deref(properties.VMID)
		if properties.HardwareProfile != nil && properties.HardwareProfile.VMSize != nil {
			result.Size = string(*properties.HardwareProfile.VMSize)
		}
		if properties.NetworkProfile != nil && len(properties.NetworkProfile.NetworkInterfaces) > 0 && properties.NetworkProfile.NetworkInterfaces[0] != nil {
			result.NetworkInterfaceID = deref(properties.NetworkProfile.NetworkInterfaces[0].ID)
		}
	}
	return result
}

func (c *sdkCloud) Addresses(ctx context.Context, networkInterfaceID string) (string, string, error) {
	nic, err := c.interfaces.Get(ctx, c.resourceGroup, resourceName(networkInterfaceID), nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to get network interface: %w", err)
	}
	if nic.Properties == nil || len(nic.Properties.IPConfigurations) == 0 || nic.Properties.IPConfigurations[0] == nil || nic.Properties.IPConfigurations[0].Properties == nil {
		return "", "", fmt.Errorf("network interface '%s' has no ip configuration", resourceName(networkInterfaceID))
	}

	ipConfig := nic.Properties.IPConfigurations[0].Properties
	private := deref(ipConfig.PrivateIPAddress)
	if ipConfig.PublicIPAddress == nil || ipConfig.PublicIPAddress.ID == nil {
		return private, "", nil
	}

	publicIP, err := c.publicIPs.Get(ctx, c.resourceGroup, resourceName(*ipConfig.PublicIPAddress.ID), nil)
	if err != nil {
		return private, "", fmt.Errorf("failed to get public ip address: %w", err)
	}
	if publicIP.Properties == nil {
		return private, "", nil
	}
	return private, deref(publicIP.Properties.IPAddress), nil
}

// resourceName returns the last segment of a resource ID.
func resourceName(id string) string {
	return id[strings.LastIndex(id, "/")+1:]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
