package flags

import (
	"os"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T) *flag.FlagSet {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	Common(flags)
	Selection(flags)
	Allocation(flags)
	return flags
}

func TestBind_Defaults(t *testing.T) {
	flags := newFlagSet(t)
	require.NoError(t, flags.Parse(nil))
	require.NoError(t, Bind(flags))

	assert.Equal(t, "config/vm_catalog.yaml", viper.GetString(Inventory))
	assert.Equal(t, []string{"aws", "azure"}, viper.GetStringSlice(Providers))
	assert.Equal(t, "http", viper.GetString(PricingSource))
	assert.Equal(t, 5*time.Minute, viper.GetDuration(PriceCacheTTL))
	assert.Equal(t, "both", viper.GetString(Location))
	assert.Equal(t, 2, viper.GetInt(VCPUs))
	assert.Equal(t, "lowest-price", viper.GetString(Strategy))
	assert.Equal(t, time.Duration(0), viper.GetDuration(Deadline))
	assert.Equal(t, 4, viper.GetInt(OpenstackParallelism))
}

func TestBind_CommandLine(t *testing.T) {
	flags := newFlagSet(t)
	require.NoError(t, flags.Parse([]string{"--providers", "aws,local", "-n", "5", "--single", "--deadline", "30m"}))
	require.NoError(t, Bind(flags))

	assert.Equal(t, []string{"aws", "local"}, viper.GetStringSlice(Providers))
	assert.Equal(t, 5, viper.GetInt(Nodes))
	assert.True(t, viper.GetBool(Single))
	assert.Equal(t, 30*time.Minute, viper.GetDuration(Deadline))
}

func TestBind_Environment(t *testing.T) {
	t.Setenv("MCFLEET_PRICING_ENDPOINT", "https://prices.example.com/spot")
	t.Setenv("MCFLEET_AZURE_RESOURCE_GROUP", "fleets")

	flags := newFlagSet(t)
	require.NoError(t, flags.Parse(nil))
	require.NoError(t, Bind(flags))

	assert.Equal(t, "https://prices.example.com/spot", viper.GetString(PricingEndpoint))
	assert.Equal(t, "fleets", viper.GetString(AzureResourceGroup))
}

func TestBind_CommandLineOverridesEnvironment(t *testing.T) {
	t.Setenv("MCFLEET_LOG_LEVEL", "DEBUG")

	flags := newFlagSet(t)
	require.NoError(t, flags.Parse([]string{"--log-level", "ERROR"}))
	require.NoError(t, Bind(flags))

	assert.Equal(t, "ERROR", viper.GetString(LogLevel))
}
