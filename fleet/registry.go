package fleet

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

type Factory func() (Provider, error)

// Registry selects provider implementations by name.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) *Registry {
	r.factories[name] = factory
	return r
}

func (r *Registry) Names() []string {
	names := lo.Keys(r.factories)
	sort.Strings(names)
	return names
}

// Build constructs the named providers. Unknown or failing providers abort the build.
func (r *Registry) Build(names []string) (map[string]Provider, error) {
	providers := make(map[string]Provider, len(names))
	for _, name := range lo.Uniq(names) {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider '%s'", name)
		}

		provider, err := factory()
		if err != nil {
			return nil, fmt.Errorf("unable to create provider '%s': %w", name, err)
		}
		providers[name] = provider
	}
	return providers, nil
}
