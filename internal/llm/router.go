package llm

import (
	"fmt"
	"sort"
	"sync"
)

// Router manages LLM providers and routing by configuration tag
type Router struct {
	providers       map[string]Provider
	factories       map[string]ProviderFactory
	defaultProvider string
	mu              sync.RWMutex
}

// NewRouter creates a new LLM router
func NewRouter(defaultProvider string) *Router {
	return &Router{
		providers:       make(map[string]Provider),
		factories:       make(map[string]ProviderFactory),
		defaultProvider: defaultProvider,
	}
}

// RegisterProvider registers an LLM provider, replacing any previous instance
func (r *Router) RegisterProvider(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// RegisterFactory registers a provider factory
func (r *Router) RegisterFactory(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Rotate rebuilds a provider from its factory with a new secret
func (r *Router) Rotate(name, secret, model string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("provider factory not found: %s", name)
	}

	p := factory(secret, model)
	r.providers[name] = p
	return p, nil
}

// GetProvider returns a provider by name. An unconfigured provider is still
// returned so that its calls fail fast with a credential error.
func (r *Router) GetProvider(name string) (Provider, error) {
	if name == "" {
		name = r.defaultProvider
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// Default returns the default provider
func (r *Router) Default() (Provider, error) {
	return r.GetProvider("")
}

// ListProviders returns the sorted names of configured providers
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var providers []string
	for name, p := range r.providers {
		if p.IsConfigured() {
			providers = append(providers, name)
		}
	}
	sort.Strings(providers)
	return providers
}

// DefaultProvider returns the default provider name
func (r *Router) DefaultProvider() string {
	return r.defaultProvider
}

// ProviderInfo contains information about an LLM provider
type ProviderInfo struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	Default    bool   `json:"default"`
	Configured bool   `json:"configured"`
}

// GetProvidersInfo returns information about all providers
func (r *Router) GetProvidersInfo() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ProviderInfo, 0, len(r.providers))
	for name, p := range r.providers {
		infos = append(infos, ProviderInfo{
			Name:       name,
			Model:      p.DefaultModel(),
			Default:    name == r.defaultProvider,
			Configured: p.IsConfigured(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
