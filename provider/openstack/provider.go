package openstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/SerranoZz/mc-fleet/provider/internal"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

const (
	MetadataRun         = "mc-fleet-run"
	MetadataFleet       = "mc-fleet-fleet"
	MetadataProvisioned = "mc-fleet-provisioned-at"
)

// Provider emulates fleets on Nova: a fleet is a batch of servers created
// concurrently out of the offers' flavors, sharing a per-run keypair.
type Provider struct {
	config   Config
	computes ComputeFactory
	log      *slog.Logger
	namer    *internal.FleetNamer
	keyName  string

	mutex    sync.Mutex
	keypairs map[string]ssh.Signer
}

// Provider implements fleet.Provider
var _ fleet.Provider = (*Provider)(nil)

func New(config Config) (*Provider, error) {
	computes, err := AuthenticatedComputes()
	if err != nil {
		return nil, err
	}
	return NewWithComputes(config, computes)
}

func NewWithComputes(config Config, computes ComputeFactory) (*Provider, error) {
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		config:   config,
		computes: computes,
		log:      logger.With("provider", ProviderName),
		namer:    internal.NewFleetNamer("OPENSTACK-FLEET"),
		keyName:  config.RunID.Tag(),
		keypairs: map[string]ssh.Signer{},
	}, nil
}

func (p *Provider) Enumerate(_ context.Context, request catalog.EnumerateRequest) ([]catalog.PriceCandidate, error) {
	return p.config.Inventory.Candidates(ProviderName, request, true), nil
}

// ensureKeypair creates the run keypair of a region once.
func (p *Provider) ensureKeypair(ctx context.Context, region string, compute Compute) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.keypairs[region]; ok {
		return nil
	}

	privateKey, err := compute.CreateKeypair(ctx, p.keyName)
	if err != nil {
		return fmt.Errorf("failed to create keypair: %w", err)
	}

	signer, err := ssh.ParsePrivateKey([]byte(privateKey))
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	if p.config.PrivateKeyFile != "" {
		if err := os.WriteFile(p.config.PrivateKeyFile, []byte(privateKey), 0600); err != nil {
			return fmt.Errorf("failed to save private key: %w", err)
		}
	}

	p.log.Info("Keypair created", "region", region, "keypair", p.keyName, "fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))
	p.keypairs[region] = signer
	return nil
}

func (p *Provider) CreateFleet(ctx context.Context, offers []catalog.PricedOffer, strategy fleet.Strategy, capacity int) (fleet.Fleet, error) {
	if len(offers) == 0 {
		return fleet.Fleet{}, errors.New("no offers to create a fleet from")
	}
	if capacity < 1 {
		return fleet.Fleet{}, fmt.Errorf("capacity must be greater than 0, got %d", capacity)
	}

	region := offers[0].Region
	compute, err := p.computes(region)
	if err != nil {
		return fleet.Fleet{}, err
	}
	if err := p.ensureKeypair(ctx, region, compute); err != nil {
		return fleet.Fleet{}, err
	}

	name := p.namer.Peek()
	log := p.log.With("fleet", name, "region", region)
	log.Info("Creating fleet", "capacity", capacity, "offers", len(offers), "strategy", strategy)

	placements := internal.Place(offers, strategy, capacity)
	created := make([]*fleet.ProvisionedInstance, len(placements))
	failures := make([]string, len(placements))

	group := errgroup.Group{}
	group.SetLimit(p.config.Parallelism)
	for i, offer := range placements {
		group.Go(func() error {
			if ctx.Err() != nil {
				failures[i] = fmt.Sprintf("server %d not requested: %v", i+1, ctx.Err())
				return nil
			}

			instance, err := p.createServer(ctx, compute, name, i+1, offer)
			if err != nil {
				log.Warn("Failed to create server", "flavor", offer.InstanceType, "error", err)
				failures[i] = err.Error()
				return nil
			}
			created[i] = &instance
			return nil
		})
	}
	_ = group.Wait()

	var instances []fleet.ProvisionedInstance
	var softErrors []string
	for i := range placements {
		if created[i] != nil {
			instances = append(instances, *created[i])
		} else {
			softErrors = append(softErrors, failures[i])
		}
	}

	if len(instances) == 0 {
		return fleet.Fleet{SoftErrors: softErrors}, nil
	}

	p.namer.Commit()
	log.Info("Fleet created", "instances", len(instances), "requested", capacity)
	return fleet.Fleet{ID: name, Instances: instances, SoftErrors: softErrors}, nil
}

func (p *Provider) createServer(ctx context.Context, compute Compute, fleetName string, number int, offer catalog.PricedOffer) (fleet.ProvisionedInstance, error) {
	serverName := strings.ToLower(fmt.Sprintf("%s-%s-%d", p.config.RunID.Tag(), fleetName, number))

	var networks []servers.Network
	if network, ok := p.config.Inventory.Placement(ProviderName, offer.Region, offer.AvailabilityZone); ok {
		networks = append(networks, servers.Network{UUID: network})
	}

	server, err := compute.CreateServer(ctx, keypairs.CreateOptsExt{
		CreateOptsBuilder: servers.CreateOpts{
			Name:             serverName,
			ImageRef:         p.config.Image,
			FlavorRef:        offer.InstanceType,
			AvailabilityZone: offer.AvailabilityZone,
			Networks:         networks,
			SecurityGroups:   p.config.SecurityGroups,
			Metadata: map[string]string{
				MetadataRun:         p.config.RunID.String(),
				MetadataFleet:       fleetName,
				MetadataProvisioned: time.Now().Format(time.RFC3339),
			},
		},
		KeyName: p.keyName,
	})
	if err != nil {
		return fleet.ProvisionedInstance{}, fmt.Errorf("failed to create server '%s': %w", serverName, err)
	}

	p.log.Debug("Wait for server to become active", "server", serverName, "wait", p.config.WaitTimeout)
	if err := compute.WaitActive(ctx, server.ID, p.config.WaitTimeout); err != nil {
		if err := compute.DeleteServer(context.Background(), server.ID); err != nil {
			p.log.Warn("Failed to delete server", "server", serverName, "error", err)
		}
		return fleet.ProvisionedInstance{}, fmt.Errorf("failed while waiting for server '%s' to become active after %s: %w", serverName, p.config.WaitTimeout, err)
	}

	instance := fleet.ProvisionedInstance{
		Provider:         ProviderName,
		InstanceType:     offer.InstanceType,
		InstanceID:       server.ID,
		AvailabilityZone: offer.AvailabilityZone,
		Price:            offer.Price,
	}

	type addresses struct{ private, public string }
	found, err := internal.RetryResult(ctx, 3, func() (addresses, error) {
		private, public, err := compute.Addresses(ctx, server.ID)
		return addresses{private, public}, err
	})
	if err != nil {
		p.log.Warn("Failed to get server addresses", "server", serverName, "error", err)
	}
	instance.PrivateIP, instance.PublicIP = found.private, found.public

	return instance, nil
}

// DeleteFleets deletes the servers of the run and its keypair in every
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
	compute, err := p.computes(region)
	if err != nil {
		return err
	}

	list, err := internal.RetryResult(ctx, 3, func() ([]servers.Server, error) {
		return compute.ListServers(ctx, MetadataRun, p.config.RunID.String())
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, server := range list {
		if err := compute.DeleteServer(ctx, server.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete server '%s': %w", server.Name, err))
			continue
		}
		p.log.Debug("Server deleted", "region", region, "server", server.Name)
	}

	if err := compute.DeleteKeypair(ctx, p.keyName); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete keypair '%s': %w", p.keyName, err))
	}

	p.mutex.Lock()
	delete(p.keypairs, region)
	p.mutex.Unlock()

	if len(list) > 0 {
		p.log.Info("Servers deleted", "region", region, "servers", len(list))
	}
	return errors.Join(errs...)
}
