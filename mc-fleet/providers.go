package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/SerranoZz/mc-fleet/inventory"
	"github.com/SerranoZz/mc-fleet/mc-fleet/flags"
	"github.com/SerranoZz/mc-fleet/mc-fleet/log"
	"github.com/SerranoZz/mc-fleet/namegen"
	"github.com/SerranoZz/mc-fleet/pricing"
	"github.com/SerranoZz/mc-fleet/provider/aws"
	"github.com/SerranoZz/mc-fleet/provider/azure"
	"github.com/SerranoZz/mc-fleet/provider/local"
	"github.com/SerranoZz/mc-fleet/provider/openstack"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	PricingSourceHTTP   = "http"
	PricingSourceStatic = "static"
	PricingSourceEC2    = "ec2"
)

// environment is what every command derives from the common flags.
type environment struct {
	inventory *inventory.Inventory
	runID     namegen.ID
	providers map[string]fleet.Provider

	awsClients func() (aws.ClientFactory, error)
}

func newEnvironment(cmd *cobra.Command, runID namegen.ID) (*environment, error) {
	file := viper.GetString(flags.Inventory)
	inv, err := inventory.Read(file, inventory.ReadOptions{
		Params: lo.SliceToMap(lo.Must(cmd.Flags().GetStringArray(flags.Param)), func(item string) (key, value string) {
			key, value, _ = strings.Cut(item, "=")
			return
		}),
	})
	if err != nil {
		if e, ok := err.(inventory.UnmarshalError); ok {
			log.Debug("Evaluated inventory", "source", e.Source)
		}
		return nil, fmt.Errorf("failed to read inventory from '%s': %w", file, err)
	}

	env := &environment{inventory: inv, runID: runID}
	env.awsClients = sync.OnceValues(func() (aws.ClientFactory, error) {
		return aws.LoadClients(cmd.Context(), viper.GetString(flags.AwsProfile))
	})

	env.providers, err = env.registry().Build(viper.GetStringSlice(flags.Providers))
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (env *environment) registry() *fleet.Registry {
	return fleet.NewRegistry().
		Register(aws.ProviderName, env.awsProvider).
		Register(azure.ProviderName, env.azureProvider).
		Register(openstack.ProviderName, env.openstackProvider).
		Register("local", env.localProvider)
}

func (env *environment) awsProvider() (fleet.Provider, error) {
	clients, err := env.awsClients()
	if err != nil {
		return nil, err
	}

	config := aws.DefaultConfig()
	config.Logger = log.Base.With("component", "provider")
	config.Inventory = env.inventory
	config.RunID = env.runID
	config.Profile = viper.GetString(flags.AwsProfile)
	config.LaunchTemplate = viper.GetString(flags.AwsLaunchTemplate)
	config.IgnoreLimit = !viper.GetBool(flags.AwsRespectLimit)
	config.WaitTimeout = viper.GetDuration(flags.AwsWaitTimeout)

	provider, err := aws.NewWithClients(config, clients)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

func (env *environment) azureProvider() (fleet.Provider, error) {
	config := azure.DefaultConfig()
	config.Logger = log.Base.With("component", "provider")
	config.Inventory = env.inventory
	config.RunID = env.runID
	config.SubscriptionID = viper.GetString(flags.AzureSubscriptionID)
	config.ResourceGroup = viper.GetString(flags.AzureResourceGroup)
	config.ComputeProfileFile = viper.GetString(flags.AzureComputeProfile)
	config.CreateTimeout = viper.GetDuration(flags.AzureCreateTimeout)

	provider, err := azure.New(config)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

func (env *environment) openstackProvider() (fleet.Provider, error) {
	config := openstack.DefaultConfig()
	config.Logger = log.Base.With("component", "provider")
	config.Inventory = env.inventory
	config.RunID = env.runID
	config.Image = viper.GetString(flags.OpenstackImage)
	config.SecurityGroups = viper.GetStringSlice(flags.OpenstackSecurityGroups)
	config.PrivateKeyFile = viper.GetString(flags.OpenstackPrivateKeyFile)
	config.WaitTimeout = viper.GetDuration(flags.OpenstackWaitTimeout)
	config.Parallelism = viper.GetInt(flags.OpenstackParallelism)

	provider, err := openstack.New(config)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

func (env *environment) localProvider() (fleet.Provider, error) {
	config := local.DefaultConfig()
	config.Logger = log.Base.With("component", "provider")
	config.Inventory = env.inventory
	config.RunID = env.runID
	config.Image = viper.GetString(flags.LocalImage)
	config.MaxInstances = viper.GetInt(flags.LocalMaxInstances)

	provider, err := local.New(config)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// priceSource assembles the configured source behind a cache. Emulated
// providers are always priced from the inventory.
func (env *environment) priceSource() (pricing.Source, error) {
	static := env.inventory.StaticSource()

	var router *pricing.Router
	switch source := viper.GetString(flags.PricingSource); source {
	case PricingSourceHTTP:
		httpSource, err := pricing.NewHTTPSource(viper.GetString(flags.PricingEndpoint), nil)
		if err != nil {
			return nil, err
		}
		router = pricing.NewRouter(httpSource)
	case PricingSourceStatic:
		router = pricing.NewRouter(static)
	case PricingSourceEC2:
		clients, err := env.awsClients()
		if err != nil {
			return nil, err
		}
		router = pricing.NewRouter(static).Route(aws.ProviderName, aws.NewPriceSource(clients))
	default:
		return nil, fmt.Errorf("unknown pricing source '%s' (expected one of %s, %s, %s)", source, PricingSourceHTTP, PricingSourceStatic, PricingSourceEC2)
	}
	router.Route("local", static)

	return pricing.NewCachedSource(router, viper.GetDuration(flags.PriceCacheTTL)), nil
}

func (env *environment) enumerators() map[string]catalog.Enumerator {
	return lo.MapValues(env.providers, func(provider fleet.Provider, _ string) catalog.Enumerator {
		return provider
	})
}

// buildCatalog prices every selected provider.
func (env *environment) buildCatalog(ctx context.Context, request catalog.Request) (catalog.Catalog, error) {
	source, err := env.priceSource()
	if err != nil {
		return catalog.Catalog{}, err
	}

	config := catalog.DefaultConfig()
	config.Logger = log.Base.With("component", "catalog")
	config.Concurrency = viper.GetInt(flags.QuoteConcurrency)
	config.QuoteTimeout = viper.GetDuration(flags.QuoteTimeout)
	if err := catalog.Validate(config); err != nil {
		return catalog.Catalog{}, fmt.Errorf("invalid quote config: %w", err)
	}

	builder := catalog.NewBuilder(catalog.NewQuoteFetcher(source, config), config)
	return builder.Build(ctx, env.enumerators(), request)
}

func selectionRequest(group bool) (catalog.Request, error) {
	request := catalog.Request{
		Location:     viper.GetString(flags.Location),
		VCPUs:        viper.GetInt(flags.VCPUs),
		Limit:        viper.GetInt(flags.Limit),
		GroupByPrice: group,
	}
	if request.VCPUs <= 0 {
		return request, fmt.Errorf("--%s must be greater than 0", flags.VCPUs)
	}
	if request.Limit < 0 {
		return request, fmt.Errorf("--%s must not be negative", flags.Limit)
	}
	return request, nil
}
