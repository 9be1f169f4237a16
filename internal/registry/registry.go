package registry

import (
	"strings"

	"github.com/openmind/core-gateway/pkg/api"
)

// Dialect selects the upstream wire translation for a provider.
type Dialect string

const (
	DialectOpenAI Dialect = "openai"
	DialectGemini Dialect = "gemini"
)

// ProviderSpec describes one upstream provider. Immutable after load.
type ProviderSpec struct {
	ID        string
	Prefixes  []string
	BaseURL   string
	Dialect   Dialect
	Streaming bool
}

// Registry maps provider ids to their specs. It is populated once at
// startup and read-only at request time, so no locking is needed.
type Registry struct {
	providers map[string]*ProviderSpec
	order     []string
}

func New(specs []ProviderSpec) *Registry {
	r := &Registry{providers: make(map[string]*ProviderSpec, len(specs))}
	for i := range specs {
		s := specs[i]
		if s.Dialect == "" {
			s.Dialect = DialectOpenAI
		}
		r.providers[s.ID] = &s
		r.order = append(r.order, s.ID)
	}
	return r
}

// ResolveProvider returns the spec for a provider id.
func (r *Registry) ResolveProvider(id string) (*ProviderSpec, *api.Error) {
	spec, ok := r.providers[id]
	if !ok {
		return nil, api.UnsupportedProviderError(id)
	}
	return spec, nil
}

// MatchModel reports whether the requested model is accepted by the
// provider. A model matches if it starts with any registered prefix;
// matching is case-sensitive, no wildcard expansion.
func MatchModel(spec *ProviderSpec, model string) bool {
	for _, p := range spec.Prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// Admit resolves the provider and validates the model against its
// prefixes, in that order.
func (r *Registry) Admit(providerID, model string) (*ProviderSpec, *api.Error) {
	spec, err := r.ResolveProvider(providerID)
	if err != nil {
		return nil, err
	}
	if !MatchModel(spec, model) {
		return nil, api.UnsupportedModelError(model, spec.ID, spec.Prefixes)
	}
	return spec, nil
}

// Providers returns the registered specs in load order.
func (r *Registry) Providers() []*ProviderSpec {
	out := make([]*ProviderSpec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}
