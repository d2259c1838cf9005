package local

import (
	"errors"
	"log/slog"

	"github.com/SerranoZz/mc-fleet/inventory"
	"github.com/SerranoZz/mc-fleet/namegen"
)

type Config struct {
	// Logger to use
	Logger *slog.Logger `json:"-"`
	// Inventory the candidates are enumerated from
	Inventory *inventory.Inventory `json:"-"`
	// Run the created containers belong to
	RunID namegen.ID `json:"run_id"`
	// Inventory provider name whose instance types are emulated
	Provider string `json:"provider"`
	// Image every emulated instance runs
	Image string `json:"image"`
	// Command keeping the emulated instance alive
	Command []string `json:"command"`
	// Maximum number of instances a single fleet can get. Requests above it
	// are partially fulfilled. Zero means unlimited.
	MaxInstances int `json:"max_instances"`
}

func DefaultConfig() Config {
	return Config{
		Provider: "local",
		Image:    "alpine:3",
		Command:  []string{"sleep", "infinity"},
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
	if config.MaxInstances < 0 {
		return errors.New("max-instances must not be negative")
	}
	return nil
}
