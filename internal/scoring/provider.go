package scoring

import "context"

// Provider is the capability every scoring backend implements, independent
// of which underlying model family it proxies to — GPT-class, Claude-class,
// Gemini-class backends are interchangeable behind this interface.
type Provider interface {
	ID() string
	Score(ctx context.Context, req Request) (ProviderOutput, error)
}

// Registry is the ordered set of configured providers. Aggregation is
// deterministic in provider-id order after collection, so the registry
// preserves registration order rather than
// using a map.
type Registry struct {
	providers []Provider
}

func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

func (r *Registry) Providers() []Provider {
	return r.providers
}

func (r *Registry) Add(p Provider) {
	r.providers = append(r.providers, p)
}
