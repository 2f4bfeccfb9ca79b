package kernel

import (
	"context"
	"fmt"
	"sync"

	"termsguard/pkg/termsguard"
)

// Kernel wires modules, actions and drivers together around one event bus.
//
// Registration happens before Run. Run starts modules in registration order,
// supervises drivers, then tears everything down in reverse order.
type Kernel struct {
	cfg      config
	bus      *EventBus
	services *ServiceRegistry

	mu      sync.RWMutex
	modules ordered[*moduleRecord]
	drivers ordered[termsguard.Driver]
	actions map[string]actionRegistration

	runMu   sync.Mutex
	running bool
}

// New creates a kernel. The action catalog service is registered up front.
func New(options ...Option) *Kernel {
	cfg := resolve(options)

	k := &Kernel{
		cfg: cfg,
		bus: NewEventBus(
			cfg.subscriptions.buffer,
			cfg.subscriptions.workers,
			cfg.subscriptions.handlerTimeout,
			cfg.onAsyncError,
		),
		services: NewServiceRegistry(),
		modules:  newOrdered[*moduleRecord](),
		drivers:  newOrdered[termsguard.Driver](),
		actions:  make(map[string]actionRegistration),
	}
	catalog := &kernelActionCatalog{kernel: k}
	if err := k.services.Register(termsguard.ServiceActionCatalog, catalog); err != nil {
		cfg.onAsyncError(context.Background(), "register action catalog service", err)
	}

	return k
}

// EventBus returns the bus the dispatcher publishes analysis lifecycle events on.
func (k *Kernel) EventBus() termsguard.EventBus {
	return k.bus
}

func (k *Kernel) Services() termsguard.ServiceRegistry {
	return k.services
}

// RegisterService adds a singleton that modules resolve by name.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule validates module's spec, claims its actions, runs OnRegister
// and subscribes its declared handlers. Any failure undoes the whole registration.
func (k *Kernel) RegisterModule(ctx context.Context, module termsguard.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}

	spec := module.Spec()
	record, err := k.admitModule(name, module, spec)
	if err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	if err := k.activateModule(ctx, record, spec); err != nil {
		k.rollbackModuleRegistration(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.cfg.logger.DebugContext(ctx, "module registered",
		"module", name,
		"actions", len(spec.Actions),
		"handlers", len(spec.Handlers),
	)

	return nil
}

// admitModule runs the checks that need no rollback and records the module.
func (k *Kernel) admitModule(name string, module termsguard.Module, spec termsguard.ModuleSpec) (*moduleRecord, error) {
	if err := validateModuleSpec(spec); err != nil {
		return nil, err
	}

	record := newModuleRecord(name, module, spec.Capabilities())
	if err := record.requireServices(k.services); err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.modules.add(name, record) {
		return nil, termsguard.ErrModuleAlreadyRegistered
	}

	return record, nil
}

// activateModule performs the registration steps that rollback must undo.
func (k *Kernel) activateModule(ctx context.Context, record *moduleRecord, spec termsguard.ModuleSpec) error {
	if err := k.registerModuleActions(record.name, spec.Actions); err != nil {
		return err
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
	defer cancel()

	runtime := record.runtime(k.services, k.bus)
	if registrar, ok := record.module.(termsguard.ModuleRegistrar); ok {
		if err := runSafely("module "+record.name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			return err
		}
	}

	for idx, declared := range spec.Handlers {
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", record.name, idx+1)
		}
		if _, err := runtime.Subscribe(hookCtx, declared.Capability.Interest, subscription, declared.Handler); err != nil {
			return fmt.Errorf(
				"register handler %s for capability %s: %w",
				subscription.Name,
				declared.Capability.Name,
				err,
			)
		}
	}

	return nil
}

// rollbackModuleRegistration removes a module whose activation failed,
// closing whatever subscriptions it opened first.
func (k *Kernel) rollbackModuleRegistration(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.hookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback module "+record.name, err)
	}
	k.unregisterModuleActions(record.name)

	k.mu.Lock()
	k.modules.remove(record.name)
	k.mu.Unlock()
}

// RegisterDriver adds a driver that Run will start.
func (k *Kernel) RegisterDriver(driver termsguard.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.drivers.add(name, driver) {
		return fmt.Errorf("register driver %s: %w", name, termsguard.ErrDriverAlreadyRegistered)
	}

	return nil
}

// validateModuleSpec rejects specs with unnamed or duplicate capabilities,
// duplicate subscription names, nil handlers, or invalid and duplicate actions.
func validateModuleSpec(spec termsguard.ModuleSpec) error {
	capabilities := make(map[string]struct{}, len(spec.Handlers)+len(spec.AdditionalCapabilities))
	claimCapability := func(label, name string) error {
		if name == "" {
			return fmt.Errorf("%s: empty capability name", label)
		}
		if _, dup := capabilities[name]; dup {
			return fmt.Errorf("%s: duplicate capability name %s", label, name)
		}
		capabilities[name] = struct{}{}
		return nil
	}

	subscriptions := make(map[string]struct{}, len(spec.Handlers))
	for idx, handler := range spec.Handlers {
		capability := handler.Capability.Name
		if err := claimCapability(fmt.Sprintf("module handler %d", idx), capability); err != nil {
			return err
		}
		if handler.Handler == nil {
			return fmt.Errorf("module handler %s: nil handler", capability)
		}

		subscription := handler.Subscription.Name
		if subscription == "" {
			continue
		}
		if _, dup := subscriptions[subscription]; dup {
			return fmt.Errorf("module handler %s: duplicate subscription name %s", capability, subscription)
		}
		subscriptions[subscription] = struct{}{}
	}

	for idx, capability := range spec.AdditionalCapabilities {
		if err := claimCapability(fmt.Sprintf("additional capability %d", idx), capability.Name); err != nil {
			return err
		}
	}

	actions := make(map[string]struct{}, len(spec.Actions))
	for idx, action := range spec.Actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("module action %d: %w", idx, err)
		}
		if _, dup := actions[action.Name]; dup {
			return fmt.Errorf("module action %d: duplicate action %s", idx, action.Name)
		}
		actions[action.Name] = struct{}{}
	}

	return nil
}
