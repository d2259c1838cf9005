package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SerranoZz/mc-fleet/pricing"
	"golang.org/x/sync/errgroup"
)

// ErrNoPrice is reported for a candidate whose price source returned no zone.
var ErrNoPrice = errors.New("no spot price available")

// QuoteFetcher prices candidates concurrently. A candidate that cannot be
// priced is dropped from the result; it never fails the batch.
type QuoteFetcher struct {
	source pricing.Source
	config Config
}

func NewQuoteFetcher(source pricing.Source, config Config) *QuoteFetcher {
	if config.Concurrency < 1 {
		config.Concurrency = DefaultConcurrency
	}
	if config.QuoteTimeout <= 0 {
		config.QuoteTimeout = DefaultQuoteTimeout
	}
	return &QuoteFetcher{source: source, config: config}
}

// Quote returns one offer per candidate that could be priced, in completion order.
func (f *QuoteFetcher) Quote(ctx context.Context, candidates []PriceCandidate) []PricedOffer {
	log := f.config.logger()
	log.Info("Quoting candidates", "candidates", len(candidates), "concurrency", f.config.Concurrency)

	var mutex sync.Mutex
	offers := make([]PricedOffer, 0, len(candidates))

	group := errgroup.Group{}
	group.SetLimit(f.config.Concurrency)

	for _, candidate := range candidates {
		group.Go(func() error {
			offer, err := f.quoteOne(ctx, candidate)
			if err != nil {
				attrs := []any{"provider", candidate.Provider, "instance_type", candidate.InstanceType, "region", candidate.Region, "error", err}
				var statusErr *pricing.StatusError
				if errors.Is(err, ErrNoPrice) || errors.As(err, &statusErr) {
					log.Warn("Dropping candidate without price", attrs...)
				} else {
					log.Error("Failed to quote candidate", attrs...)
				}
				return nil
			}

			mutex.Lock()
			offers = append(offers, offer)
			mutex.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	log.Info("Quoting completed", "offers", len(offers), "dropped", len(candidates)-len(offers))
	return offers
}

func (f *QuoteFetcher) quoteOne(ctx context.Context, candidate PriceCandidate) (PricedOffer, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.QuoteTimeout)
	defer cancel()

	prices, err := f.source.SpotPrices(ctx, pricing.Query{
		Provider:     candidate.Provider,
		InstanceType: candidate.InstanceType,
		Region:       candidate.Region,
		Market:       pricing.MarketSpot,
	})
	if err != nil {
		return PricedOffer{}, fmt.Errorf("failed to fetch spot prices: %w", err)
	}

	zone, price, ok := prices.Min()
	if !ok {
		return PricedOffer{}, ErrNoPrice
	}

	return PricedOffer{
		Provider:         candidate.Provider,
		InstanceType:     candidate.InstanceType,
		Region:           candidate.Region,
		AvailabilityZone: zone,
		Price:            price,
	}, nil
}
