package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrProviderDisabled is returned by Registry.Get for unknown or
// disabled providers.
var ErrProviderDisabled = errors.New("provider not enabled")

// Registry holds the providers enabled at startup. Lookups are
// case-insensitive; membership never changes after construction, so the
// registry is safe for concurrent use.
type Registry struct {
	providers map[string]Provider
	enabled   []string
}

// NewRegistry builds a registry from the already-constructed adapters.
// The caller instantiates only the providers its feature flags enable.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		name := strings.ToLower(p.Name())
		if _, dup := r.providers[name]; dup {
			continue
		}
		r.providers[name] = p
		r.enabled = append(r.enabled, name)
	}
	sort.Strings(r.enabled)
	return r
}

// Get returns the named provider. Disabled or unknown names produce an
// error listing the enabled set, wrapped around ErrProviderDisabled.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (enabled: %s)",
			ErrProviderDisabled, name, strings.Join(r.enabled, ", "))
	}
	return p, nil
}

// IsEnabled reports whether the named provider was registered.
func (r *Registry) IsEnabled(name string) bool {
	_, ok := r.providers[strings.ToLower(name)]
	return ok
}

// Enabled returns the sorted enabled provider names.
func (r *Registry) Enabled() []string {
	out := make([]string, len(r.enabled))
	copy(out, r.enabled)
	return out
}
