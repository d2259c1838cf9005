package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/samber/lo"
)

// Allocator fills a capacity target greedily, cheapest band first.
// Requests are strictly sequential: how much to ask from a band depends on
// what the previous bands delivered.
type Allocator struct {
	providers map[string]Provider
	config    Config
}

func New(providers map[string]Provider, config Config) *Allocator {
	return &Allocator{providers: providers, config: config}
}

// AllocateMulti walks bands in order, asking each for the remaining
// capacity. A band is tried at most once. Running out of bands before the
// target is met is not an error: the result carries the shortfall.
func (a *Allocator) AllocateMulti(ctx context.Context, bands []catalog.PriceBand, target int, strategy Strategy) Result {
	log := a.config.logger()
	result := newResult(target)
	queue := lo.Filter(bands, func(band catalog.PriceBand, _ int) bool { return len(band) > 0 })

	log.Info("Starting allocation", "target", target, "bands", len(queue), "strategy", strategy)

	for result.Fulfilled < target && len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			log.Warn("Allocation interrupted", "error", err, "fulfilled", result.Fulfilled, "target", target)
			break
		}

		band := queue[0]
		queue = queue[1:]

		a.request(ctx, &result, band, strategy, target-result.Fulfilled)
	}

	a.finish(result)
	return result
}

// AllocateSingle makes exactly one request for the whole target.
func (a *Allocator) AllocateSingle(ctx context.Context, offers []catalog.PricedOffer, target int, strategy Strategy) Result {
	log := a.config.logger()
	result := newResult(target)

	if len(offers) == 0 {
		log.Error("No offers to allocate from", "target", target)
		a.finish(result)
		return result
	}

	log.Info("Starting single-provider allocation", "target", target, "provider", offers[0].Provider, "offers", len(offers), "strategy", strategy)
	if target > 0 {
		a.request(ctx, &result, offers, strategy, target)
	}

	a.finish(result)
	return result
}

func (a *Allocator) request(ctx context.Context, result *Result, offers []catalog.PricedOffer, strategy Strategy, needed int) {
	providerName, region := offers[0].Provider, offers[0].Region
	log := a.config.logger().With("provider", providerName, "region", region)
	attempt := Attempt{Provider: providerName, Region: region, Requested: needed}

	fail := func(reason string) {
		attempt.Failure = reason
		result.Attempts = append(result.Attempts, attempt)
		a.emit(EventFleetFailed{Provider: providerName, Region: region, Reason: reason})
	}

	provider, ok := a.providers[providerName]
	if !ok {
		log.Warn("Provider not available, skipping band")
		fail("provider not available")
		return
	}

	a.emit(EventFleetRequested{Provider: providerName, Region: region, Offers: len(offers), Capacity: needed})
	log.Info("Requesting fleet", "capacity", needed, "offers", len(offers))

	fleet, err := provider.CreateFleet(ctx, offers, strategy, needed)
	switch {
	case err != nil:
		log.Warn("Fleet request failed, trying next option", "error", err)
		fail(err.Error())
		return
	case fleet.ID == "" || len(fleet.Instances) == 0:
		reason := "no instance was created"
		if len(fleet.SoftErrors) > 0 {
			reason = strings.Join(fleet.SoftErrors, "; ")
		}
		log.Warn("Fleet request produced no instances, trying next option", "reason", reason)
		fail(reason)
		return
	}

	instances := fleet.Instances
	if len(instances) > needed {
		log.Error("Provider returned more instances than requested", "requested", needed, "returned", len(instances))
		result.Surplus = append(result.Surplus, instances[needed:]...)
		instances = instances[:needed]
	}

	result.Fleets[fleet.ID] = append(result.Fleets[fleet.ID], instances...)
	if !lo.Contains(result.Order, fleet.ID) {
		result.Order = append(result.Order, fleet.ID)
	}
	result.Fulfilled += len(instances)

	attempt.Created = len(instances)
	attempt.Fleet = fleet.ID
	attempt.SoftErrors = fleet.SoftErrors
	result.Attempts = append(result.Attempts, attempt)

	if len(fleet.SoftErrors) > 0 {
		log.Warn("Fleet partially fulfilled", "fleet", fleet.ID, "errors", fleet.SoftErrors)
	}
	log.Info("Fleet created", "fleet", fleet.ID, "instances", len(instances), "fulfilled", result.Fulfilled, "target", result.Target)

	a.emit(EventFleetCreated{
		Provider:   providerName,
		Region:     region,
		Fleet:      fleet.ID,
		Instances:  len(instances),
		SoftErrors: fleet.SoftErrors,
		Fulfilled:  result.Fulfilled,
		Target:     result.Target,
	})
}

func (a *Allocator) finish(result Result) {
	log := a.config.logger()
	if len(result.Fleets) == 0 {
		log.Error("Could not provision any instance", "target", result.Target)
	} else {
		log.Info("Allocation finished", "fulfilled", result.Fulfilled, "target", result.Target, "shortfall", result.Shortfall(), "fleets", len(result.Fleets))
	}

	a.emit(EventAllocationCompleted{Fulfilled: result.Fulfilled, Target: result.Target, Fleets: len(result.Fleets)})
}

// DeleteAll tears down the fleets of every provider, in provider name
// order. It keeps going past failures and returns them joined.
func (a *Allocator) DeleteAll(ctx context.Context) error {
	log := a.config.logger()

	names := lo.Keys(a.providers)
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		log.Info("Deleting fleets", "provider", name)
		if err := a.providers[name].DeleteFleets(ctx); err != nil {
			log.Error("Failed to delete fleets", "provider", name, "error", err)
			errs = append(errs, fmt.Errorf("failed to delete fleets of provider '%s': %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Allocator) emit(event Event) {
	if a.config.Observer != nil {
		a.config.Observer(event)
	}
}
