package aws

import (
	"errors"
	"log/slog"
	"time"

	"github.com/SerranoZz/mc-fleet/inventory"
	"github.com/SerranoZz/mc-fleet/namegen"
)

const (
	ProviderName = "aws"

	// Inventory setting naming the launch template fleets are created from
	SettingLaunchTemplate = "launch_template"
	// Inventory setting overriding the launch template version
	SettingLaunchTemplateVersion = "launch_template_version"
)

type Config struct {
	// Logger to use
	Logger *slog.Logger `json:"-"`
	// Inventory the candidates and subnets come from
	Inventory *inventory.Inventory `json:"-"`
	// Run the created instances are tagged with
	RunID namegen.ID `json:"run_id"`
	// Shared config profile, empty for the default credential chain
	Profile string `json:"profile"`
	// Launch template used when the inventory does not name one
	LaunchTemplate string `json:"launch_template"`
	// Launch template version used when the inventory does not name one
	LaunchTemplateVersion string `json:"launch_template_version"`
	// Ignore the enumeration limit and always price the full candidate set
	IgnoreLimit bool `json:"ignore_limit"`
	// Maximum time to wait for created instances to be running
	WaitTimeout time.Duration `json:"wait_timeout"`
}

func DefaultConfig() Config {
	return Config{
		LaunchTemplate:        "Template",
		LaunchTemplateVersion: "$Default",
		IgnoreLimit:           true,
		WaitTimeout:           10 * time.Minute,
	}
}

func Validate(config Config) error {
	if config.Inventory == nil {
		return errors.New("inventory is required")
	}
	if config.RunID == "" {
		return errors.New("run id is required")
	}
	if config.WaitTimeout <= 0 {
		return errors.New("wait-timeout must be greater than 0")
	}
	return nil
}

func (c Config) launchTemplate() (name, version string) {
	name, version = c.LaunchTemplate, c.LaunchTemplateVersion
	if s := c.Inventory.Setting(ProviderName, SettingLaunchTemplate); s != "" {
		name = s
	}
	if s := c.Inventory.Setting(ProviderName, SettingLaunchTemplateVersion); s != "" {
		version = s
	}
	return
}
