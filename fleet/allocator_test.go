package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/SerranoZz/mc-fleet/catalog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Mock provider ---

type createCall struct {
	Region   string
	Offers   int
	Strategy Strategy
	Capacity int
}

type mockProvider struct {
	name string
	// deliver returns how many instances to create for a request; nil creates them all
	deliver   func(call createCall) (int, error)
	deleteErr error

	mu       sync.Mutex
	calls    []createCall
	deletes  int
	fleetSeq int
}

func newMockProvider(name string) *mockProvider {
	return &mockProvider{name: name}
}

func (p *mockProvider) Enumerate(context.Context, catalog.EnumerateRequest) ([]catalog.PriceCandidate, error) {
	return nil, nil
}

func (p *mockProvider) CreateFleet(_ context.Context, offers []catalog.PricedOffer, strategy Strategy, capacity int) (Fleet, error) {
	call := createCall{Region: offers[0].Region, Offers: len(offers), Strategy: strategy, Capacity: capacity}

	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.fleetSeq++
	seq := p.fleetSeq
	p.mu.Unlock()

	created := capacity
	if p.deliver != nil {
		var err error
		if created, err = p.deliver(call); err != nil {
			return Fleet{}, err
		}
	}

	fleet := Fleet{ID: fmt.Sprintf("%s-FLEET-%d", p.name, seq)}
	for i := 0; i < created; i++ {
		fleet.Instances = append(fleet.Instances, ProvisionedInstance{
			Provider:     p.name,
			InstanceType: offers[0].InstanceType,
			InstanceID:   fmt.Sprintf("%s-%d-%d", p.name, seq, i),
			Price:        offers[0].Price,
		})
	}
	if created < capacity {
		fleet.SoftErrors = []string{fmt.Sprintf("insufficient capacity: %d/%d", created, capacity)}
	}
	return fleet, nil
}

func (p *mockProvider) DeleteFleets(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	return p.deleteErr
}

func (p *mockProvider) getCalls() []createCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]createCall(nil), p.calls...)
}

// --- Helpers ---

func band(provider, region string, prices ...float64) catalog.PriceBand {
	return lo.Map(prices, func(price float64, i int) catalog.PricedOffer {
		return catalog.PricedOffer{
			Provider:         provider,
			InstanceType:     fmt.Sprintf("%s-type-%d", provider, i),
			Region:           region,
			AvailabilityZone: region + "a",
			Price:            price,
		}
	})
}

func workedExampleBands() []catalog.PriceBand {
	return []catalog.PriceBand{
		band("azure", "brazilsouth", 0.009),
		band("aws", "sa-east-1", 0.01, 0.012),
		band("aws", "us-east-1", 0.05),
	}
}

func newTestAllocator(providers ...*mockProvider) (*Allocator, *[]Event) {
	var events []Event
	return New(
		lo.SliceToMap(providers, func(p *mockProvider) (string, Provider) { return p.name, p }),
		Config{Logger: silentLogger, Observer: func(e Event) { events = append(events, e) }},
	), &events
}

// --- Tests ---

func TestAllocateMulti_WorkedExample(t *testing.T) {
	azure := newMockProvider("azure")
	azure.deliver = func(createCall) (int, error) { return 1, nil }
	aws := newMockProvider("aws")

	allocator, _ := newTestAllocator(azure, aws)
	result := allocator.AllocateMulti(context.Background(), workedExampleBands(), 3, StrategyLowestPrice)

	assert.Equal(t, []createCall{{Region: "brazilsouth", Offers: 1, Strategy: StrategyLowestPrice, Capacity: 3}}, azure.getCalls())
	assert.Equal(t, []createCall{{Region: "sa-east-1", Offers: 2, Strategy: StrategyLowestPrice, Capacity: 2}}, aws.getCalls())

	assert.Equal(t, 3, result.Fulfilled)
	assert.Equal(t, 0, result.Shortfall())
	assert.True(t, result.Complete())
	assert.Equal(t, []string{"azure-FLEET-1", "aws-FLEET-1"}, result.Order)
	assert.Len(t, result.Instances(), 3)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, []string{"insufficient capacity: 1/3"}, result.Attempts[0].SoftErrors)
}

func TestAllocateMulti_StopsWhenTargetMet(t *testing.T) {
	azure := newMockProvider("azure")
	aws := newMockProvider("aws")

	allocator, _ := newTestAllocator(azure, aws)
	result := allocator.AllocateMulti(context.Background(), workedExampleBands(), 5, StrategyCapacityOptimized)

	assert.Len(t, azure.getCalls(), 1)
	assert.Empty(t, aws.getCalls())
	assert.Equal(t, 5, result.Fulfilled)
}

func TestAllocateMulti_FailedBandIsNotRetried(t *testing.T) {
	azure := newMockProvider("azure")
	azure.deliver = func(createCall) (int, error) { return 0, errors.New("quota exceeded") }
	aws := newMockProvider("aws")
	aws.deliver = func(call createCall) (int, error) {
		if call.Region == "sa-east-1" {
			return 0, nil
		}
		return 1, nil
	}

	allocator, events := newTestAllocator(azure, aws)
	result := allocator.AllocateMulti(context.Background(), workedExampleBands(), 4, StrategyLowestPrice)

	assert.Len(t, azure.getCalls(), 1)
	assert.Equal(t, []int{4, 4}, lo.Map(aws.getCalls(), func(c createCall, _ int) int { return c.Capacity }))

	assert.Equal(t, 1, result.Fulfilled)
	assert.Equal(t, 3, result.Shortfall())
	assert.False(t, result.Complete())
	require.Len(t, result.Attempts, 3)
	assert.Equal(t, "quota exceeded", result.Attempts[0].Failure)
	assert.Equal(t, "insufficient capacity: 0/4", result.Attempts[1].Failure)
	assert.Empty(t, result.Attempts[2].Failure)

	failed := lo.Filter(*events, func(e Event, _ int) bool { _, ok := e.(EventFleetFailed); return ok })
	assert.Len(t, failed, 2)
	assert.Equal(t, EventAllocationCompleted{Fulfilled: 1, Target: 4, Fleets: 1}, (*events)[len(*events)-1])
}

func TestAllocateMulti_UnknownProviderIsSkipped(t *testing.T) {
	aws := newMockProvider("aws")

	allocator, _ := newTestAllocator(aws)
	result := allocator.AllocateMulti(context.Background(), workedExampleBands(), 2, StrategyLowestPrice)

	assert.Equal(t, 2, result.Fulfilled)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "provider not available", result.Attempts[0].Failure)
}

func TestAllocateMulti_AllBandsExhausted(t *testing.T) {
	azure := newMockProvider("azure")
	azure.deliver = func(createCall) (int, error) { return 0, nil }
	aws := newMockProvider("aws")
	aws.deliver = func(createCall) (int, error) { return 0, errors.New("no capacity") }

	allocator, _ := newTestAllocator(azure, aws)
	result := allocator.AllocateMulti(context.Background(), workedExampleBands(), 3, StrategyLowestPrice)

	assert.Equal(t, 0, result.Fulfilled)
	assert.Equal(t, 3, result.Shortfall())
	assert.Empty(t, result.Fleets)
	assert.Len(t, result.Attempts, 3)
}

func TestAllocateMulti_SurplusIsNotCounted(t *testing.T) {
	azure := newMockProvider("azure")
	azure.deliver = func(call createCall) (int, error) { return call.Capacity + 2, nil }

	allocator, _ := newTestAllocator(azure)
	result := allocator.AllocateMulti(context.Background(), workedExampleBands()[:1], 3, StrategyLowestPrice)

	assert.Equal(t, 3, result.Fulfilled)
	assert.Len(t, result.Surplus, 2)
	assert.Len(t, result.Instances(), 3)
}

func TestAllocateMulti_MonotonicAndBounded(t *testing.T) {
	for target := 0; target <= 12; target++ {
		t.Run(fmt.Sprintf("target-%d", target), func(t *testing.T) {
			// Every provider delivers a varying fraction of what is asked
			deliveries := 0
			deliver := func(call createCall) (int, error) {
				deliveries++
				return (call.Capacity * (deliveries % 3)) / 2, nil
			}
			azure, aws := newMockProvider("azure"), newMockProvider("aws")
			azure.deliver, aws.deliver = deliver, deliver

			bands := []catalog.PriceBand{
				band("azure", "brazilsouth", 1),
				band("aws", "sa-east-1", 2),
				band("aws", "us-east-1", 3),
				band("azure", "eastus", 4),
				band("aws", "eu-west-1", 5),
			}

			allocator, events := newTestAllocator(azure, aws)
			result := allocator.AllocateMulti(context.Background(), bands, target, StrategyLowestPrice)

			previous := 0
			iterations := 0
			for _, e := range *events {
				switch e := e.(type) {
				case EventFleetRequested:
					iterations++
					assert.Equal(t, target-previous, e.Capacity)
				case EventFleetCreated:
					assert.GreaterOrEqual(t, e.Fulfilled, previous)
					assert.LessOrEqual(t, e.Fulfilled, target)
					previous = e.Fulfilled
				}
			}

			assert.LessOrEqual(t, iterations, len(bands))
			assert.LessOrEqual(t, result.Fulfilled, target)
			assert.Equal(t, previous, result.Fulfilled)
		})
	}
}

func TestAllocateMulti_CancelledContextStopsBetweenBands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	azure := newMockProvider("azure")
	azure.deliver = func(createCall) (int, error) {
		cancel()
		return 1, nil
	}
	aws := newMockProvider("aws")

	allocator, _ := newTestAllocator(azure, aws)
	result := allocator.AllocateMulti(ctx, workedExampleBands(), 3, StrategyLowestPrice)

	assert.Equal(t, 1, result.Fulfilled)
	assert.Empty(t, aws.getCalls())
}

func TestAllocateSingle(t *testing.T) {
	aws := newMockProvider("aws")
	aws.deliver = func(createCall) (int, error) { return 2, nil }

	allocator, _ := newTestAllocator(aws)
	offers := append(band("aws", "sa-east-1", 0.01, 0.012), band("aws", "sa-east-1", 0.05)...)
	result := allocator.AllocateSingle(context.Background(), offers, 5, StrategyPriceCapacityOptimized)

	assert.Equal(t, []createCall{{Region: "sa-east-1", Offers: 3, Strategy: StrategyPriceCapacityOptimized, Capacity: 5}}, aws.getCalls())
	assert.Equal(t, 2, result.Fulfilled)
	assert.Equal(t, 3, result.Shortfall())
}

func TestAllocateSingle_NoFallback(t *testing.T) {
	aws := newMockProvider("aws")
	aws.deliver = func(createCall) (int, error) { return 0, errors.New("InsufficientInstanceCapacity") }

	allocator, _ := newTestAllocator(aws)
	result := allocator.AllocateSingle(context.Background(), band("aws", "sa-east-1", 0.01), 2, StrategyLowestPrice)

	assert.Len(t, aws.getCalls(), 1)
	assert.Equal(t, 0, result.Fulfilled)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, "InsufficientInstanceCapacity", result.Attempts[0].Failure)
}

func TestAllocateSingle_NoOffers(t *testing.T) {
	allocator, _ := newTestAllocator()
	result := allocator.AllocateSingle(context.Background(), nil, 2, StrategyLowestPrice)

	assert.Equal(t, 2, result.Shortfall())
	assert.Empty(t, result.Attempts)
}

func TestDeleteAll(t *testing.T) {
	azure := newMockProvider("azure")
	azure.deleteErr = errors.New("fleet is locked")
	aws := newMockProvider("aws")

	allocator, _ := newTestAllocator(azure, aws)
	err := allocator.DeleteAll(context.Background())

	assert.EqualError(t, err, "failed to delete fleets of provider 'azure': fleet is locked")
	assert.Equal(t, 1, aws.deletes, "a failing provider must not prevent the others from being torn down")
	assert.Equal(t, 1, azure.deletes)
}

func TestDeleteAll_NothingCreated(t *testing.T) {
	aws := newMockProvider("aws")

	allocator, _ := newTestAllocator(aws)
	assert.NoError(t, allocator.DeleteAll(context.Background()))
}
