package azure

import (
	"errors"
	"log/slog"
	"time"

	"github.com/SerranoZz/mc-fleet/inventory"
	"github.com/SerranoZz/mc-fleet/namegen"
)

const (
	ProviderName = "azure"

	// Inventory settings used to build the default compute profile
	SettingSubnetID             = "subnet_id"
	SettingNetworkSecurityGroup = "network_security_group_id"
	SettingAdminUsername        = "admin_username"
	SettingSSHPublicKey         = "ssh_public_key"

	// A fleet accepts at most this many VM sizes
	MaxVMSizes = 10
)

type Config struct {
	// Logger to use
	Logger *slog.Logger `json:"-"`
	// Inventory the candidates and network settings come from
	Inventory *inventory.Inventory `json:"-"`
	// Run the created fleets are tagged with
	RunID namegen.ID `json:"run_id"`

	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
	// JSON file holding the base virtual machine compute profile. When
	// empty, a default Ubuntu profile is built from the inventory settings.
	ComputeProfileFile string `json:"compute_profile_file"`
	// Maximum time a fleet creation may take
	CreateTimeout time.Duration `json:"create_timeout"`
}

func DefaultConfig() Config {
	return Config{
		CreateTimeout: 15 * time.Minute,
	}
}

func Validate(config Config) error {
	if config.Inventory == nil {
		return errors.New("inventory is required")
	}
	if config.RunID == "" {
		return errors.New("run id is required")
	}
	if config.SubscriptionID == "" {
		return errors.New("subscription-id is required")
	}
	if config.ResourceGroup == "" {
		return errors.New("resource-group is required")
	}
	if config.CreateTimeout <= 0 {
		return errors.New("create-timeout must be greater than 0")
	}
	return nil
}
