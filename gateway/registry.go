package gateway

import (
	"fmt"
	"sync"
)

// Registry maps gateway types to adapter factories. It is the single
// point of polymorphic dispatch: callers resolve a configured type and
// never branch on gateway identity themselves.
type Registry struct {
	factories map[Type]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Type]Factory),
	}
}

// Register adds an adapter factory for a gateway type. Adapter packages
// call this from init via their register files.
func (r *Registry) Register(t Type, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = factory
}

// Resolve creates and initializes an adapter for the given config.
func (r *Registry) Resolve(cfg Config) (Adapter, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, cfg.Type)
	}

	adapter := factory()
	if err := adapter.Init(cfg); err != nil {
		return nil, err
	}
	return adapter, nil
}

// RegisteredTypes returns the gateway types with a registered factory.
func (r *Registry) RegisteredTypes() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

// DefaultRegistry is the process-wide registry adapter packages register
// into. Read-only after initialization.
var DefaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(t Type, factory Factory) {
	DefaultRegistry.Register(t, factory)
}

// Resolve resolves an adapter from the default registry.
func Resolve(cfg Config) (Adapter, error) {
	return DefaultRegistry.Resolve(cfg)
}
