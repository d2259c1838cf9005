package internal

import (
	"sort"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/SerranoZz/mc-fleet/fleet"
	"github.com/samber/lo"
)

// PriceOf returns the quoted price of an instance type among offers, 0 when unknown.
func PriceOf(offers []catalog.PricedOffer, instanceType string) float64 {
	offer, ok := lo.Find(offers, func(o catalog.PricedOffer) bool {
		return o.InstanceType == instanceType
	})
	if !ok {
		return 0
	}
	return offer.Price
}

// OfferOf returns the offer of an instance type.
func OfferOf(offers []catalog.PricedOffer, instanceType string) (catalog.PricedOffer, bool) {
	return lo.Find(offers, func(o catalog.PricedOffer) bool {
		return o.InstanceType == instanceType
	})
}

// Place spreads count instances over the offers: everything on the cheapest
// offer for lowest-price, round-robin by price otherwise.
func Place(offers []catalog.PricedOffer, strategy fleet.Strategy, count int) []catalog.PricedOffer {
	if len(offers) == 0 || count < 1 {
		return nil
	}

	sorted := append([]catalog.PricedOffer(nil), offers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price < sorted[j].Price
	})

	placements := make([]catalog.PricedOffer, count)
	for i := range placements {
		if strategy == fleet.StrategyLowestPrice {
			placements[i] = sorted[0]
		} else {
			placements[i] = sorted[i%len(sorted)]
		}
	}
	return placements
}
