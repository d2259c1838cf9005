package catalog

// MaxRelativeDeviation is the largest (price - min) / min an offer may have
// to join a band whose first member costs min.
const MaxRelativeDeviation = 0.30

// Group partitions offers into price bands in a single pass.
//
// offers must already be sorted by ascending price: each band's minimum is
// its first member and is never recomputed.
func Group(offers []PricedOffer) []PriceBand {
	if len(offers) == 0 {
		return nil
	}

	var bands []PriceBand
	current := PriceBand{offers[0]}

	for _, offer := range offers[1:] {
		head := current[0]
		if offer.Provider == head.Provider && offer.Region == head.Region && withinBand(head.Price, offer.Price) {
			current = append(current, offer)
			continue
		}

		bands = append(bands, current)
		current = PriceBand{offer}
	}

	return append(bands, current)
}

func withinBand(minPrice, price float64) bool {
	if minPrice == 0 {
		return price == 0
	}
	return (price-minPrice)/minPrice <= MaxRelativeDeviation
}
