package termsguard

import (
	"context"
	"fmt"
	"strings"
)

// ModuleRuntime provides kernel facilities to modules during registration.
type ModuleRuntime interface {
	// Services exposes the service registry for dependency lookup.
	Services() ServiceRegistry
	// Subscribe registers an asynchronous event handler owned by the module.
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
}

// ActionHandler answers one routed message.
//
// A returned error is converted into a failed Response by the router.
type ActionHandler func(ctx context.Context, message *Message) (Response, error)

// ActionSpec declares one message action served by a module.
type ActionSpec struct {
	Name        string
	Description string
	Handler     ActionHandler
}

// Validate checks one action declaration.
func (s ActionSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("validate action: empty name")
	}
	if strings.ContainsAny(s.Name, " \t\n") {
		return fmt.Errorf("validate action %q: name contains whitespace", s.Name)
	}
	if s.Handler == nil {
		return fmt.Errorf("validate action %s: nil handler", s.Name)
	}

	return nil
}

// ModuleHandler binds one capability to one event subscription.
type ModuleHandler struct {
	Capability   Capability
	Subscription SubscriptionSpec
	Handler      EventHandler
}

// ModuleSpec is the declarative surface a module exposes to the kernel.
type ModuleSpec struct {
	Handlers               []ModuleHandler
	Actions                []ActionSpec
	AdditionalCapabilities []Capability
}

// Capabilities returns every capability declared by handlers and extras.
func (s ModuleSpec) Capabilities() []Capability {
	capabilities := make([]Capability, 0, len(s.Handlers)+len(s.AdditionalCapabilities))
	for _, handler := range s.Handlers {
		capabilities = append(capabilities, handler.Capability)
	}
	capabilities = append(capabilities, s.AdditionalCapabilities...)

	return capabilities
}

// Module is a lifecycle-aware plugin contract.
//
// Modules must be concurrency-safe because actions and handlers run on
// multiple goroutines.
type Module interface {
	// Name returns a stable module identifier.
	Name() string
	// Spec returns declarative actions and event handlers.
	Spec() ModuleSpec
	// OnStart is called when the kernel begins runtime execution.
	OnStart(ctx context.Context) error
	// OnShutdown is called during orderly shutdown.
	OnShutdown(ctx context.Context) error
}

// ModuleRegistrar is implemented by modules that resolve services at registration.
type ModuleRegistrar interface {
	OnRegister(ctx context.Context, runtime ModuleRuntime) error
}

// MessageRouter dispatches one message to the module that owns its action.
type MessageRouter interface {
	// Route never returns an error: failures are encoded in the Response.
	Route(ctx context.Context, message *Message) Response
}

// Driver adapts an external transport into routed messages.
type Driver interface {
	// Name returns a stable driver identifier.
	Name() string
	// Start serves inbound messages until context cancellation or fatal error.
	Start(ctx context.Context, router MessageRouter) error
	// Shutdown stops external resources that are not tied to Start context alone.
	Shutdown(ctx context.Context) error
}
