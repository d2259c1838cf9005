package openstack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

// Compute abstracts the Nova calls used by the provider, enabling
// mock-based testing without an OpenStack cloud.
type Compute interface {
	CreateKeypair(ctx context.Context, name string) (privateKey string, err error)
	// DeleteKeypair succeeds when the keypair does not exist
	DeleteKeypair(ctx context.Context, name string) error
	CreateServer(ctx context.Context, opts servers.CreateOptsBuilder) (*servers.Server, error)
	WaitActive(ctx context.Context, id string, timeout time.Duration) error
	Addresses(ctx context.Context, id string) (private, public string, err error)
	// ListServers returns the servers whose metadata holds key=value
	ListServers(ctx context.Context, key, value string) ([]servers.Server, error)
	DeleteServer(ctx context.Context, id string) error
}

// ComputeFactory returns the compute client of a region.
type ComputeFactory func(region string) (Compute, error)

// AuthenticatedComputes authenticates with the OS_* environment variables
// and hands out one cached compute client per region.
func AuthenticatedComputes() (ComputeFactory, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}

	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	var mutex sync.Mutex
	clients := map[string]Compute{}

	return func(region string) (Compute, error) {
		mutex.Lock()
		defer mutex.Unlock()

		if client, ok := clients[region]; ok {
			return client, nil
		}
		if region == "" {
			region = os.Getenv("OS_REGION_NAME")
		}
		client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{Region: region})
		if err != nil {
			return nil, fmt.Errorf("failed to get compute client: %w", err)
		}
		clients[region] = &nova{client: client}
		return clients[region], nil
	}, nil
}

type nova struct {
	client *gophercloud.ServiceClient
}

// nova implements Compute
var _ Compute = (*nova)(nil)

func (n *nova) CreateKeypair(_ context.Context, name string) (string, error) {
	keypair, err := keypairs.Create(n.client, keypairs.CreateOpts{Name: name}).Extract()
	if err != nil {
		return "", err
	}
	return keypair.PrivateKey, nil
}

func (n *nova) DeleteKeypair(_ context.Context, name string) error {
	err := keypairs.Delete(n.client, name, nil).ExtractErr()
	if errors.As(err, &gophercloud.ErrDefault404{}) {
		return nil
	}
	return err
}

func (n *nova) CreateServer(_ context.Context, opts servers.CreateOptsBuilder) (*servers.Server, error) {
	return servers.Create(n.client, opts).Extract()
}

func (n *nova) WaitActive(_ context.Context, id string, timeout time.Duration) error {
	return servers.WaitForStatus(n.client, id, "ACTIVE", int(timeout.Seconds()))
}

func (n *nova) Addresses(_ context.Context, id string) (string, string, error) {
	pages, err := servers.ListAddresses(n.client, id).AllPages()
	if err != nil {
		return "", "", fmt.Errorf("failed to get server addresses: %w", err)
	}

	allAddresses, err := servers.ExtractAddresses(pages)
	if err != nil {
		return "", "", fmt.Errorf("failed to extract server addresses: %w", err)
	}

	networks := make([]string, 0, len(allAddresses))
	for network := range allAddresses {
		networks = append(networks, network)
	}
	sort.Strings(networks)

	var ipv4 []string
	for _, network := range networks {
		for _, address := range allAddresses[network] {
			if address.Version == 4 {
				ipv4 = append(ipv4, address.Address)
			}
		}
	}

	private, public := classify(ipv4)
	return private, public, nil
}

// classify returns the first private and the first public address.
func classify(addresses []string) (private, public string) {
	for _, address := range addresses {
		ip := net.ParseIP(address)
		if ip == nil {
			continue
		}
		if ip.IsPrivate() {
			if private == "" {
				private = address
			}
		} else if public == "" {
			public = address
		}
	}
	return
}

func (n *nova) ListServers(_ context.Context, key, value string) ([]servers.Server, error) {
	pages, err := servers.List(n.client, servers.ListOpts{}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract servers: %w", err)
	}

	var matching []servers.Server
	for _, server := range all {
		if server.Metadata[key] == value {
			matching = append(matching, server)
		}
	}
	return matching, nil
}

func (n *nova) DeleteServer(_ context.Context, id string) error {
	return servers.Delete(n.client, id).ExtractErr()
}
