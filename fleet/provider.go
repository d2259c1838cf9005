package fleet

import (
	"context"

	"github.com/SerranoZz/mc-fleet/catalog"
)

// Fleet is what a provider reports after a creation request.
type Fleet struct {
	ID        string
	Instances []ProvisionedInstance
	// Capacity that could not be met, reported alongside a usable fleet
	SoftErrors []string
}

type Provider interface {
	catalog.Enumerator

	// CreateFleet requests capacity instances out of offers, which all share
	// the provider and region. An error, an empty ID or no instances means
	// nothing usable was created.
	CreateFleet(ctx context.Context, offers []catalog.PricedOffer, strategy Strategy, capacity int) (Fleet, error)

	// DeleteFleets terminates every fleet created under this provider's run.
	// It must be safe to call when nothing was created.
	DeleteFleets(ctx context.Context) error
}
