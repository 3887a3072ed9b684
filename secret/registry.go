package secret

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ProviderFactory builds a Provider from its settings block.
type ProviderFactory func(settings map[string]any) (Provider, error)

// Registry maps provider names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// Register adds a factory under name. Names are trimmed and must be unique.
func (r *Registry) Register(name string, factory ProviderFactory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return ErrInvalidRegistration
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("%w: %q already registered", ErrInvalidRegistration, name)
	}
	r.factories[name] = factory
	return nil
}

// Names returns the registered provider names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewResolver builds every registered provider with its entry from
// settings and returns a resolver over them. Providers already built are
// closed if a later one fails.
func (r *Registry) NewResolver(strict bool, settings map[string]map[string]any) (*Resolver, error) {
	res := NewResolver(strict)
	for _, name := range r.Names() {
		r.mu.RLock()
		factory := r.factories[name]
		r.mu.RUnlock()

		p, err := factory(settings[name])
		if err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("secret: provider %q: %w", name, err)
		}
		res.Register(p)
	}
	return res, nil
}

// DefaultRegistry holds the env and file providers. Their settings are
// "prefix" and "baseDir" respectively.
var DefaultRegistry = func() *Registry {
	reg := NewRegistry()
	_ = reg.Register("env", func(settings map[string]any) (Provider, error) {
		prefix, _ := settings["prefix"].(string)
		return &EnvProvider{Prefix: prefix}, nil
	})
	_ = reg.Register("file", func(settings map[string]any) (Provider, error) {
		baseDir, _ := settings["baseDir"].(string)
		return &FileProvider{BaseDir: baseDir}, nil
	})
	return reg
}()
