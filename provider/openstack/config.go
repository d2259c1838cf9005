package openstack

import (
	"errors"
	"log/slog"
	"time"

	"github.com/SerranoZz/mc-fleet/inventory"
	"github.com/SerranoZz/mc-fleet/namegen"
)

const ProviderName = "openstack"

type Config struct {
	// Logger to use
	Logger *slog.Logger `json:"-"`
	// Inventory the candidates and networks come from. The placement of a
	// zone is the UUID of the network servers are attached to.
	Inventory *inventory.Inventory `json:"-"`
	// Run the created servers belong to
	RunID namegen.ID `json:"run_id"`

	Image          string   `json:"image"`
	SecurityGroups []string `json:"security_groups"`
	// File the private key of the run keypair is written to, if set
	PrivateKeyFile string `json:"private_key_file"`
	// Maximum time to wait for a server to become active
	WaitTimeout time.Duration `json:"wait_timeout"`
	// Maximum number of servers created concurrently
	Parallelism int `json:"parallelism"`
}

func DefaultConfig() Config {
	return Config{
		WaitTimeout: 2 * time.Minute,
		Parallelism: 4,
	}
}

func Validate(config Config) error {
	if config.Inventory == nil {
		return errors.New("inventory is required")
	}
	if config.RunID == "" {
		return errors.New("run id is required")
	}
	if config.Image == "" {
		return errors.New("image is required")
	}
	if config.WaitTimeout < time.Second {
		return errors.New("wait-timeout must be at least 1s")
	}
	if config.Parallelism < 1 {
		return errors.New("parallelism must be greater than 0")
	}
	return nil
}
