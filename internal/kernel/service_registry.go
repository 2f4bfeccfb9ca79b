package kernel

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"termsguard/pkg/termsguard"
)

// ServiceRegistry holds the named singletons shared by modules and drivers:
// storage, history, the analyzer, the tab deliverer and app info.
type ServiceRegistry struct {
	mu     sync.RWMutex
	byName map[string]any
}

func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{byName: make(map[string]any)}
}

// Register stores service under name. Names are claimed once.
func (r *ServiceRegistry) Register(name string, service any) error {
	switch {
	case name == "":
		return fmt.Errorf("register service: empty name")
	case service == nil:
		return fmt.Errorf("register service %s: nil service", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[name]; taken {
		return fmt.Errorf("register service %s: %w", name, termsguard.ErrServiceAlreadyRegistered)
	}
	r.byName[name] = service

	return nil
}

// Resolve looks a service up by name. Callers usually go through
// termsguard.ResolveAs to get a typed value.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("resolve service: empty name")
	}

	r.mu.RLock()
	service, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve service %s: %w", name, termsguard.ErrServiceNotFound)
	}

	return service, nil
}

// Names lists registered service names in sorted order.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.byName))
}

var _ termsguard.ServiceRegistry = (*ServiceRegistry)(nil)
