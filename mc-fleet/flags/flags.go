package flags

import (
	"strings"
	"time"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/SerranoZz/mc-fleet/inventory"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"

	Inventory        = "inventory"
	Param            = "param"
	Providers        = "providers"
	PricingSource    = "pricing-source"
	PricingEndpoint  = "pricing-endpoint"
	PriceCacheTTL    = "price-cache-ttl"
	QuoteConcurrency = "quote-concurrency"
	QuoteTimeout     = "quote-timeout"

	Location = "location"
	VCPUs    = "vcpus"
	Limit    = "limit"
	Group    = "group"
	Output   = "output"

	Nodes    = "nodes"
	Strategy = "strategy"
	Single   = "single"
	Hold     = "hold"
	Deadline = "deadline"

	Run = "run"

	AwsProfile        = "aws-profile"
	AwsLaunchTemplate = "aws-launch-template"
	AwsRespectLimit   = "aws-respect-limit"
	AwsWaitTimeout    = "aws-wait-timeout"

	AzureSubscriptionID = "azure-subscription-id"
	AzureResourceGroup  = "azure-resource-group"
	AzureComputeProfile = "azure-compute-profile"
	AzureCreateTimeout  = "azure-create-timeout"

	OpenstackImage          = "openstack-image"
	OpenstackSecurityGroups = "openstack-security-groups"
	OpenstackPrivateKeyFile = "openstack-private-key-file"
	OpenstackWaitTimeout    = "openstack-wait-timeout"
	OpenstackParallelism    = "openstack-parallelism"

	LocalImage        = "local-image"
	LocalMaxInstances = "local-max-instances"
)

// Common registers the flags shared by every command.
func Common(flags *flag.FlagSet) {
	// mc-fleet
	flags.String(LogFormat, "text", "log format (json, text)")
	flags.String(LogLevel, "WARN", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.String(Inventory, "config/vm_catalog.yaml", "inventory file declaring providers, regions and instance types")
	flags.StringArrayP(Param, "p", nil, "inventory template parameters to set (key=value)")
	flags.StringSlice(Providers, []string{"aws", "azure"}, "providers to use (aws, azure, openstack, local)")
	flags.Duration(Deadline, 0, "maximum duration of the command (0 = none)")

	// Pricing
	flags.String(PricingSource, "http", "spot price source (http, static, ec2)")
	flags.String(PricingEndpoint, "", "endpoint of the spot price service")
	flags.Duration(PriceCacheTTL, 5*time.Minute, "how long quoted prices are reused")
	flags.Int(QuoteConcurrency, catalog.DefaultConcurrency, "maximum number of concurrent price quotes")
	flags.Duration(QuoteTimeout, catalog.DefaultQuoteTimeout, "timeout of a single price quote")

	// AWS
	flags.String(AwsProfile, "", "shared config profile, default credential chain when empty")
	flags.String(AwsLaunchTemplate, "Template", "launch template used when the inventory does not name one")
	flags.Bool(AwsRespectLimit, false, "apply --limit to AWS candidates")
	flags.Duration(AwsWaitTimeout, 10*time.Minute, "how long to wait for AWS instances to be running")

	// Azure
	flags.String(AzureSubscriptionID, "", "subscription fleets are created in")
	flags.String(AzureResourceGroup, "", "resource group fleets are created in")
	flags.String(AzureComputeProfile, "", "JSON file holding the fleet compute profile")
	flags.Duration(AzureCreateTimeout, 15*time.Minute, "how long an Azure fleet creation may take")

	// Openstack
	flags.String(OpenstackImage, "", "image servers are booted from")
	flags.StringSlice(OpenstackSecurityGroups, nil, "security groups defined for the servers")
	flags.String(OpenstackPrivateKeyFile, "", "file the run private key is written to")
	flags.Duration(OpenstackWaitTimeout, 2*time.Minute, "how long to wait for a server to become active")
	flags.Int(OpenstackParallelism, 4, "maximum number of servers created concurrently")

	// Local
	flags.String(LocalImage, "alpine:3", "image emulated instances run")
	flags.Int(LocalMaxInstances, 0, "maximum number of instances per emulated fleet (0 = unlimited)")
}

// Selection registers the flags narrowing down the candidates.
func Selection(flags *flag.FlagSet) {
	flags.String(Location, inventory.LocationAll, "location preset (br, us, both)")
	flags.Int(VCPUs, 2, "exact number of vCPUs per instance")
	flags.Int(Limit, 0, "maximum number of candidates per provider (0 = unlimited)")
	flags.StringP(Output, "o", "", "write the results as CSV to this file")
}

// Allocation registers the flags of the provision command.
func Allocation(flags *flag.FlagSet) {
	flags.IntP(Nodes, "n", 0, "number of nodes to provision")
	flags.String(Strategy, string(fleet.StrategyLowestPrice), "fleet allocation strategy (lowest-price, capacity-optimized, price-capacity-optimized)")
	flags.Bool(Single, false, "request one fleet from the provider of the cheapest offer only")
	flags.Bool(Hold, false, "keep the fleets until interrupted, then delete them")
}

// Bind makes the flags readable through viper, overridable with MCFLEET_*
// environment variables.
func Bind(flags *flag.FlagSet) error {
	viper.SetEnvPrefix("mcfleet")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return viper.BindPFlags(flags)
}
