package pricing

import (
	"context"
	"fmt"
)

// Router dispatches queries to a per-provider source, falling back to a
// default source for providers without a dedicated one.
type Router struct {
	routes   map[string]Source
	fallback Source
}

var _ Source = (*Router)(nil)

func NewRouter(fallback Source) *Router {
	return &Router{routes: make(map[string]Source), fallback: fallback}
}

// Route must be called before the router is shared between goroutines.
func (r *Router) Route(provider string, source Source) *Router {
	r.routes[provider] = source
	return r
}

func (r *Router) SpotPrices(ctx context.Context, query Query) (Prices, error) {
	if source, ok := r.routes[query.Provider]; ok {
		return source.SpotPrices(ctx, query)
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no price source for provider '%s'", query.Provider)
	}
	return r.fallback.SpotPrices(ctx, query)
}
