package pricing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrices_Min(t *testing.T) {
	zone, price, ok := Prices{"us-east-1c": 0.03, "us-east-1a": 0.02, "us-east-1b": 0.025}.Min()
	require.True(t, ok)
	assert.Equal(t, "us-east-1a", zone)
	assert.Equal(t, 0.02, price)
}

func TestPrices_MinTieGoesToLowestZoneName(t *testing.T) {
	for i := 0; i < 20; i++ {
		zone, _, ok := Prices{"zone-c": 0.01, "zone-a": 0.01, "zone-b": 0.01}.Min()
		require.True(t, ok)
		assert.Equal(t, "zone-a", zone)
	}
}

func TestPrices_MinEmpty(t *testing.T) {
	_, _, ok := Prices{}.Min()
	assert.False(t, ok)
}

func TestStaticSource(t *testing.T) {
	source := NewStaticSource()
	source.Set("local", "local-1", "small", Prices{"local-1a": 0.5})

	prices, err := source.SpotPrices(context.Background(), Query{Provider: "local", Region: "local-1", InstanceType: "small"})
	require.NoError(t, err)
	assert.Equal(t, Prices{"local-1a": 0.5}, prices)

	prices, err = source.SpotPrices(context.Background(), Query{Provider: "local", Region: "local-1", InstanceType: "large"})
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestRouter(t *testing.T) {
	aws := SourceFunc(func(context.Context, Query) (Prices, error) { return Prices{"aws": 1}, nil })
	fallback := SourceFunc(func(context.Context, Query) (Prices, error) { return Prices{"fallback": 2}, nil })

	router := NewRouter(fallback).Route("aws", aws)

	prices, err := router.SpotPrices(context.Background(), Query{Provider: "aws"})
	require.NoError(t, err)
	assert.Contains(t, prices, "aws")

	prices, err = router.SpotPrices(context.Background(), Query{Provider: "azure"})
	require.NoError(t, err)
	assert.Contains(t, prices, "fallback")

	_, err = NewRouter(nil).SpotPrices(context.Background(), Query{Provider: "azure"})
	assert.EqualError(t, err, "no price source for provider 'azure'")
}

func TestCachedSource(t *testing.T) {
	var calls atomic.Int32
	fail := false
	upstream := SourceFunc(func(context.Context, Query) (Prices, error) {
		calls.Add(1)
		if fail {
			return nil, errors.New("boom")
		}
		return Prices{"a": 0.1}, nil
	})

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewCachedSource(upstream, time.Minute)
	cache.now = func() time.Time { return now }

	query := Query{Provider: "aws", Region: "us-east-1", InstanceType: "t3.micro", Market: MarketSpot}

	_, err := cache.SpotPrices(context.Background(), query)
	require.NoError(t, err)
	_, err = cache.SpotPrices(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second lookup should hit the cache")

	now = now.Add(2 * time.Minute)
	fail = true
	_, err = cache.SpotPrices(context.Background(), query)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, int32(2), calls.Load())

	fail = false
	prices, err := cache.SpotPrices(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, Prices{"a": 0.1}, prices)
	assert.Equal(t, int32(3), calls.Load(), "errors must not be cached")
}
