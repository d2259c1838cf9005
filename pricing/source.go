package pricing

import (
	"context"
	"sort"
)

const MarketSpot = "spot"

// Query identifies a single price lookup.
type Query struct {
	Provider     string
	InstanceType string
	Region       string
	Market       string
}

// Prices maps an availability zone name to its current price per hour.
// An empty map is a valid "no offer" answer.
type Prices map[string]float64

// Min returns the cheapest zone. Ties go to the lowest zone name.
func (p Prices) Min() (zone string, price float64, ok bool) {
	zones := make([]string, 0, len(p))
	for z := range p {
		zones = append(zones, z)
	}
	sort.Strings(zones)

	for _, z := range zones {
		if !ok || p[z] < price {
			zone, price, ok = z, p[z], true
		}
	}
	return
}

type Source interface {
	SpotPrices(ctx context.Context, query Query) (Prices, error)
}

// SourceFunc adapts a plain function to a Source.
type SourceFunc func(ctx context.Context, query Query) (Prices, error)

func (f SourceFunc) SpotPrices(ctx context.Context, query Query) (Prices, error) {
	return f(ctx, query)
}
