package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyCatalog is returned when no provider produced a single priced
// offer. There is nothing to allocate from: callers should stop the run.
var ErrEmptyCatalog = errors.New("catalog is empty: no priced offer from any provider")

type Request struct {
	Location string
	VCPUs    int
	// Limit is forwarded to adapters as a hint, see EnumerateRequest
	Limit        int
	GroupByPrice bool
}

// Builder assembles a price-sorted catalog from several providers.
type Builder struct {
	fetcher *QuoteFetcher
	config  Config
}

func NewBuilder(fetcher *QuoteFetcher, config Config) *Builder {
	return &Builder{fetcher: fetcher, config: config}
}

// Build enumerates and quotes every provider concurrently. A failing
// provider contributes no offers and does not affect the others.
func (b *Builder) Build(ctx context.Context, enumerators map[string]Enumerator, request Request) (Catalog, error) {
	log := b.config.logger()

	var mutex sync.Mutex
	var offers []PricedOffer

	group := errgroup.Group{}
	for _, name := range lo.Keys(enumerators) {
		enumerator := enumerators[name]
		group.Go(func() error {
			providerOffers, err := b.fetchProvider(ctx, enumerator, request)
			if err != nil {
				log.Warn("Provider contributes no offers", "provider", name, "error", err)
				return nil
			}
			log.Info("Provider priced", "provider", name, "offers", len(providerOffers))

			mutex.Lock()
			offers = append(offers, providerOffers...)
			mutex.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	log.Info("All providers finished, consolidating catalog", "offers", len(offers))
	if len(offers) == 0 {
		return Catalog{}, ErrEmptyCatalog
	}

	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Price < offers[j].Price
	})

	catalog := Catalog{Offers: offers}
	if request.GroupByPrice {
		catalog.Bands = Group(offers)
		log.Info("Offers grouped by price", "bands", len(catalog.Bands))
	}
	return catalog, nil
}

func (b *Builder) fetchProvider(ctx context.Context, enumerator Enumerator, request Request) ([]PricedOffer, error) {
	candidates, err := enumerator.Enumerate(ctx, EnumerateRequest{
		Location: request.Location,
		VCPUs:    request.VCPUs,
		Limit:    request.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	return b.fetcher.Quote(ctx, candidates), nil
}
