package kernel

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"termsguard/pkg/termsguard"
)

type actionRegistration struct {
	moduleName string
	spec       termsguard.ActionSpec
}

// registerModuleActions validates and registers module-owned actions.
// Registration is all-or-nothing per module.
func (k *Kernel) registerModuleActions(moduleName string, actions []termsguard.ActionSpec) error {
	if len(actions) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, action := range actions {
		if existing, exists := k.actions[action.Name]; exists {
			return fmt.Errorf(
				"register action %s for module %s: %w by module %s",
				action.Name,
				moduleName,
				termsguard.ErrActionAlreadyRegistered,
				existing.moduleName,
			)
		}
	}
	for _, action := range actions {
		k.actions[action.Name] = actionRegistration{moduleName: moduleName, spec: action}
	}

	return nil
}

// unregisterModuleActions removes every action owned by one module.
func (k *Kernel) unregisterModuleActions(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for name, registration := range k.actions {
		if registration.moduleName == moduleName {
			delete(k.actions, name)
		}
	}
}

func (k *Kernel) lookupAction(name string) (actionRegistration, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	registration, exists := k.actions[name]

	return registration, exists
}

// Route dispatches one message to the module that registered its action.
func (k *Kernel) Route(ctx context.Context, message *termsguard.Message) termsguard.Response {
	if err := message.Validate(); err != nil {
		return termsguard.Failure(err)
	}

	registration, exists := k.lookupAction(message.Action)
	if !exists {
		k.cfg.logger.DebugContext(ctx, "unknown action", "action", message.Action)
		return termsguard.Failure(fmt.Errorf("Unknown action: %s", message.Action))
	}

	actionCtx, cancel := context.WithTimeout(ctx, k.cfg.actionTimeout)
	defer cancel()

	var response termsguard.Response
	scope := "module " + registration.moduleName + " action " + message.Action
	err := runSafely(scope, func() error {
		var handlerErr error
		response, handlerErr = registration.spec.Handler(actionCtx, message)
		return handlerErr
	})
	if err != nil {
		var panicErr *PanicError
		switch {
		case errors.As(err, &panicErr):
			k.cfg.logger.ErrorContext(ctx, "action panicked", "scope", scope, "panic", panicErr.Value, "stack", string(panicErr.Stack))
		case errors.Is(err, context.Canceled):
		default:
			if _, classified := termsguard.AsAnalysisError(err); !classified {
				k.cfg.logger.WarnContext(ctx, "action failed", "scope", scope, "error", err)
			}
		}
		return failureFor(err)
	}

	return response
}

// failureFor strips the runSafely scope prefix from classified failures so the
// caller sees the user-facing message.
func failureFor(err error) termsguard.Response {
	if analysisErr, ok := termsguard.AsAnalysisError(err); ok {
		return termsguard.Failure(analysisErr)
	}
	if inner := errors.Unwrap(err); inner != nil {
		return termsguard.Failure(inner)
	}

	return termsguard.Failure(err)
}

// kernelActionCatalog exposes action registrations through the service registry.
type kernelActionCatalog struct {
	kernel *Kernel
}

// ListActions returns all registered actions sorted by name.
func (c *kernelActionCatalog) ListActions(ctx context.Context) ([]termsguard.RegisteredAction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	if c == nil || c.kernel == nil {
		return nil, fmt.Errorf("list actions: nil catalog")
	}

	c.kernel.mu.RLock()
	actions := make([]termsguard.RegisteredAction, 0, len(c.kernel.actions))
	for _, registration := range c.kernel.actions {
		actions = append(actions, termsguard.RegisteredAction{
			ModuleName:  registration.moduleName,
			Name:        registration.spec.Name,
			Description: registration.spec.Description,
		})
	}
	c.kernel.mu.RUnlock()

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Name < actions[j].Name
	})

	return actions, nil
}

var (
	_ termsguard.ActionCatalog = (*kernelActionCatalog)(nil)
	_ termsguard.MessageRouter = (*Kernel)(nil)
)
