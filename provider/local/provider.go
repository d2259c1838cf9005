package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/SerranoZz/mc-fleet/provider/internal"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/samber/lo"
)

const (
	LabelRun          = "mc-fleet.run"
	LabelFleet        = "mc-fleet.fleet"
	LabelInstanceType = "mc-fleet.instance-type"
	LabelZone         = "mc-fleet.zone"
	LabelPrice        = "mc-fleet.price"
)

// DockerClient abstracts the Docker SDK methods used by the provider,
// enabling mock-based testing without a real Docker daemon.
type DockerClient interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Provider emulates a spot fleet provider with docker containers: every
// instance is a container labelled with its run, fleet and offer.
type Provider struct {
	config Config
	docker DockerClient
	log    *slog.Logger
	namer  *internal.FleetNamer

	pullMutex sync.Mutex
	pulled    bool
}

// Provider implements fleet.Provider
var _ fleet.Provider = (*Provider)(nil)

func New(config Config) (*Provider, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to init docker client: %w", err)
	}

	return NewWithClient(config, docker)
}

func NewWithClient(config Config, docker DockerClient) (*Provider, error) {
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		config: config,
		docker: docker,
		log:    logger.With("provider", config.Provider),
		namer:  internal.NewFleetNamer(strings.ToUpper(config.Provider) + "-FLEET"),
	}, nil
}

func (p *Provider) Enumerate(_ context.Context, request catalog.EnumerateRequest) ([]catalog.PriceCandidate, error) {
	return p.config.Inventory.Candidates(p.config.Provider, request, true), nil
}

func (p *Provider) CreateFleet(ctx context.Context, offers []catalog.PricedOffer, strategy fleet.Strategy, capacity int) (fleet.Fleet, error) {
	if len(offers) == 0 {
		return fleet.Fleet{}, errors.New("no offers to create a fleet from")
	}
	if capacity < 1 {
		return fleet.Fleet{}, fmt.Errorf("capacity must be greater than 0, got %d", capacity)
	}

	if err := p.ensureImage(ctx); err != nil {
		return fleet.Fleet{}, err
	}

	name := p.namer.Peek()
	log := p.log.With("fleet", name, "region", offers[0].Region)

	var softErrors []string
	count := capacity
	if p.config.MaxInstances > 0 && count > p.config.MaxInstances {
		count = p.config.MaxInstances
		softErrors = append(softErrors, fmt.Sprintf("InsufficientInstanceCapacity: only %d of %d instances available", count, capacity))
	}

	placements := internal.Place(offers, strategy, count)

	var instances []fleet.ProvisionedInstance
	for i, offer := range placements {
		instance, err := p.startInstance(ctx, name, i+1, offer)
		if err != nil {
			log.Warn("Failed to start emulated instance", "instanceType", offer.InstanceType, "error", err)
			softErrors = append(softErrors, err.Error())
			continue
		}
		instances = append(instances, instance)
	}

	if len(instances) == 0 {
		return fleet.Fleet{SoftErrors: softErrors}, nil
	}

	p.namer.Commit()
	log.Info("Fleet created", "instances", len(instances), "requested", capacity)
	return fleet.Fleet{ID: name, Instances: instances, SoftErrors: softErrors}, nil
}

func (p *Provider) ensureImage(ctx context.Context) error {
	p.pullMutex.Lock()
	defer p.pullMutex.Unlock()

	if p.pulled {
		return nil
	}

	err := internal.Retry(ctx, 3, func() error {
		reader, err := p.docker.ImagePull(ctx, p.config.Image, image.PullOptions{})
		if err != nil {
			return err
		}
		defer reader.Close()
		_, err = io.Copy(io.Discard, reader)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to pull image '%s': %w", p.config.Image, err)
	}

	p.pulled = true
	return nil
}

func (p *Provider) startInstance(ctx context.Context, fleetName string, number int, offer catalog.PricedOffer) (fleet.ProvisionedInstance, error) {
	containerName := strings.ToLower(fmt.Sprintf("mc-fleet-%s-%s-%d", p.config.RunID, fleetName, number))

	resp, err := p.docker.ContainerCreate(
		ctx,
		&container.Config{
			Image: p.config.Image,
			Cmd:   p.config.Command,
			Labels: map[string]string{
				LabelRun:          p.config.RunID.String(),
				LabelFleet:        fleetName,
				LabelInstanceType: offer.InstanceType,
				LabelZone:         offer.AvailabilityZone,
				LabelPrice:        strconv.FormatFloat(offer.Price, 'f', -1, 64),
			},
		},
		&container.HostConfig{},
		nil,
		nil,
		containerName,
	)
	if err != nil {
		return fleet.ProvisionedInstance{}, fmt.Errorf("failed to create container '%s': %w", containerName, err)
	}

	if err := p.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if err := p.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			p.log.Warn("Failed to remove container", "container", resp.ID, "error", err)
		}
		return fleet.ProvisionedInstance{}, fmt.Errorf("failed to start container '%s': %w", containerName, err)
	}

	inspect, err := internal.RetryResult(ctx, 3, func() (container.InspectResponse, error) {
		return p.docker.ContainerInspect(ctx, resp.ID)
	})
	if err != nil {
		p.log.Warn("Failed to inspect container", "container", resp.ID, "error", err)
	}

	return fleet.ProvisionedInstance{
		Provider:         offer.Provider,
		InstanceType:     offer.InstanceType,
		InstanceID:       shortID(resp.ID),
		AvailabilityZone: offer.AvailabilityZone,
		Price:            offer.Price,
		PrivateIP:        privateIP(inspect),
	}, nil
}

func (p *Provider) DeleteFleets(ctx context.Context) error {
	containers, err := internal.RetryResult(ctx, 3, func() ([]container.Summary, error) {
		return p.docker.ContainerList(ctx, container.ListOptions{
			All:     true,
			Filters: filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", LabelRun, p.config.RunID))),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to list containers of run '%s': %w", p.config.RunID, err)
	}

	var errs []error
	for _, c := range containers {
		if err := p.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove container '%s': %w", shortID(c.ID), err))
			continue
		}
		p.log.Debug("Removed container", "container", shortID(c.ID), "fleet", c.Labels[LabelFleet])
	}

	if len(errs) == 0 {
		p.log.Info("Fleets deleted", "containers", len(containers))
	}
	return errors.Join(errs...)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func privateIP(inspect container.InspectResponse) string {
	if inspect.NetworkSettings == nil {
		return ""
	}
	names := lo.Keys(inspect.NetworkSettings.Networks)
	sort.Strings(names)
	for _, name := range names {
		if endpoint := inspect.NetworkSettings.Networks[name]; endpoint != nil && endpoint.IPAddress != "" {
			return endpoint.IPAddress
		}
	}
	return ""
}
