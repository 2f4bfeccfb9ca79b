package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"termsguard/pkg/termsguard"
)

// moduleRecord is the kernel's bookkeeping for one registered module.
type moduleRecord struct {
	name         string
	module       termsguard.Module
	capabilities []termsguard.Capability

	mu            sync.Mutex
	subscriptions []termsguard.Subscription
}

func newModuleRecord(name string, module termsguard.Module, capabilities []termsguard.Capability) *moduleRecord {
	return &moduleRecord{name: name, module: module, capabilities: capabilities}
}

// requireServices fails on the first capability whose required service is missing.
func (m *moduleRecord) requireServices(services termsguard.ServiceRegistry) error {
	for _, capability := range m.capabilities {
		for _, service := range capability.RequiredServices {
			if _, err := services.Resolve(service); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, service, err)
			}
		}
	}

	return nil
}

func (m *moduleRecord) runtime(services termsguard.ServiceRegistry, bus termsguard.EventBus) *moduleRuntime {
	return &moduleRuntime{record: m, services: services, bus: bus}
}

func (m *moduleRecord) track(subscription termsguard.Subscription) {
	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, subscription)
	m.mu.Unlock()
}

// closeSubscriptions closes and forgets every tracked subscription, so a
// second call is a no-op.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	var errs []error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// covers reports whether some declared capability allows interest.
func (m *moduleRecord) covers(interest termsguard.InterestSet) bool {
	return slices.ContainsFunc(m.capabilities, func(capability termsguard.Capability) bool {
		return capability.Interest.Allows(interest)
	})
}

// moduleRuntime is the ModuleRuntime handed to OnRegister. Subscriptions made
// through it are owned by the module and closed on its shutdown.
type moduleRuntime struct {
	record   *moduleRecord
	services termsguard.ServiceRegistry
	bus      termsguard.EventBus
}

func (r *moduleRuntime) Services() termsguard.ServiceRegistry {
	return r.services
}

// Subscribe opens a bus subscription when a declared capability covers interest.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest termsguard.InterestSet,
	spec termsguard.SubscriptionSpec,
	handler termsguard.EventHandler,
) (termsguard.Subscription, error) {
	module := r.record.name
	if spec.Name == "" {
		spec.Name = module + "-subscription"
	}

	switch {
	case len(r.record.capabilities) == 0:
		return nil, fmt.Errorf("module %s subscribe %s: subscription %s requires at least one declared capability", module, spec.Name, spec.Name)
	case !r.record.covers(interest):
		return nil, fmt.Errorf("module %s subscribe %s: subscription does not match declared module capabilities", module, spec.Name)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", module, spec.Name, err)
	}
	r.record.track(subscription)

	return subscription, nil
}
