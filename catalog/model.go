package catalog

import "context"

// PriceCandidate is an instance offering enumerated by a provider adapter,
// before any price is known.
type PriceCandidate struct {
	Provider     string `json:"provider"`
	InstanceType string `json:"instance_type"`
	Region       string `json:"region"`
	VCPUs        int    `json:"vcpus"`
}

// PricedOffer is a candidate with its cheapest observed spot price.
type PricedOffer struct {
	Provider         string  `json:"provider"`
	InstanceType     string  `json:"instance_type"`
	Region           string  `json:"region"`
	AvailabilityZone string  `json:"availability_zone"`
	Price            float64 `json:"price"`
}

// PriceBand is a non-empty run of offers sharing provider and region whose
// prices are all within MaxRelativeDeviation of the first one.
type PriceBand []PricedOffer

func (b PriceBand) Provider() string {
	if len(b) == 0 {
		return ""
	}
	return b[0].Provider
}

func (b PriceBand) Region() string {
	if len(b) == 0 {
		return ""
	}
	return b[0].Region
}

func (b PriceBand) MinPrice() float64 {
	if len(b) == 0 {
		return 0
	}
	return b[0].Price
}

// Catalog is the outcome of a build. Bands is nil unless grouping was requested.
type Catalog struct {
	Offers []PricedOffer
	Bands  []PriceBand
}

// EnumerateRequest narrows down the candidates an adapter enumerates.
type EnumerateRequest struct {
	// Location preset (e.g. "br", "us" or "both")
	Location string
	// Exact number of vCPUs an instance type must have
	VCPUs int
	// Maximum number of candidates to return. This is a hint: adapters may
	// ignore it and always return their full candidate set.
	Limit int
}

type Enumerator interface {
	// Enumerate returns the candidates matching the request. No match is an
	// empty slice, not an error.
	Enumerate(ctx context.Context, request EnumerateRequest) ([]PriceCandidate, error)
}
