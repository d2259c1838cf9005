package pricing

import (
	"context"
	"fmt"

	"github.com/samber/lo"
)

// StaticSource answers from a fixed table, typically declared in the inventory file.
type StaticSource struct {
	prices map[string]Prices
}

var _ Source = (*StaticSource)(nil)

func NewStaticSource() *StaticSource {
	return &StaticSource{prices: make(map[string]Prices)}
}

func staticKey(provider, region, instanceType string) string {
	return fmt.Sprintf("%s/%s/%s", provider, region, instanceType)
}

// Set declares the zone prices of an instance type. It must not be called
// concurrently with SpotPrices.
func (s *StaticSource) Set(provider, region, instanceType string, prices Prices) {
	s.prices[staticKey(provider, region, instanceType)] = lo.Assign(prices)
}

func (s *StaticSource) Len() int {
	return len(s.prices)
}

func (s *StaticSource) SpotPrices(_ context.Context, query Query) (Prices, error) {
	return lo.Assign(s.prices[staticKey(query.Provider, query.Region, query.InstanceType)]), nil
}
