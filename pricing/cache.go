package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
)

const DefaultCacheTTL = 5 * time.Minute

// CachedSource memoizes successful answers of another source for a fixed TTL.
// Errors are never cached.
type CachedSource struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedPrices
}

type cachedPrices struct {
	prices    Prices
	expiresAt time.Time
}

var _ Source = (*CachedSource)(nil)

func NewCachedSource(source Source, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedSource{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedPrices),
	}
}

func (c *CachedSource) SpotPrices(ctx context.Context, query Query) (Prices, error) {
	key := fmt.Sprintf("%s:%s:%s:%s", query.Provider, query.Region, query.InstanceType, query.Market)

	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()
	if found && c.now().Before(entry.expiresAt) {
		return lo.Assign(entry.prices), nil
	}

	prices, err := c.source.SpotPrices(ctx, query)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cachedPrices{prices: lo.Assign(prices), expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return prices, nil
}
