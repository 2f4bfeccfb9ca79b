package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"termsguard/pkg/termsguard"
)

// Definition describes one configured driver entry.
type Definition struct {
	// Name is the stable configured driver instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores driver-type-specific JSON payload.
	Config []byte
}

// Runtime contains one fully built driver runtime instance.
type Runtime struct {
	// Name is the configured instance name.
	Name string
	// Driver is the inbound runtime implementation registered with kernel.
	Driver termsguard.Driver
	// Deliverer pushes tab-targeted messages when the transport supports it.
	Deliverer termsguard.TabDeliverer
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds one driver type token to a runtime builder.
type Descriptor struct {
	// Type is the driver type token from configuration (for example "http").
	Type string
	// Builder constructs one runtime instance for this driver type.
	Builder BuilderFunc
}

// Registry maps driver types to runtime builders. It is read-only after NewRegistry.
type Registry struct {
	builders map[string]BuilderFunc
}

// NewRegistry indexes descriptors by type, rejecting blank types, nil
// builders and duplicates.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	registry := &Registry{builders: make(map[string]BuilderFunc, len(descriptors))}
	for _, descriptor := range descriptors {
		switch _, taken := registry.builders[descriptor.Type]; {
		case descriptor.Type == "":
			return nil, fmt.Errorf("new registry: empty descriptor type")
		case descriptor.Builder == nil:
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		case taken:
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}
		registry.builders[descriptor.Type] = descriptor.Builder
	}

	return registry, nil
}

// Types lists the registered driver types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(r.builders))
}

// BuildEnabled builds all enabled driver definitions.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Type == "" {
			return nil, fmt.Errorf("build driver %s: empty type", definition.Name)
		}

		builder, exists := r.builders[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build driver %s type %s: unsupported type", definition.Name, definition.Type)
		}

		runtime, err := builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Driver == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil driver", definition.Name, definition.Type)
		}
		if runtime.Name == "" {
			runtime.Name = definition.Name
		}

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

// CompositeTabDeliverer fans tab deliveries out over every driver that can reach tabs.
type CompositeTabDeliverer struct {
	names      []string
	deliverers map[string]termsguard.TabDeliverer
}

// NewCompositeTabDeliverer collects deliverers from built runtimes.
func NewCompositeTabDeliverer(runtimes []Runtime) (*CompositeTabDeliverer, error) {
	deliverers := make(map[string]termsguard.TabDeliverer)
	names := make([]string, 0, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.Deliverer == nil {
			continue
		}
		if runtime.Name == "" {
			return nil, fmt.Errorf("new composite tab deliverer: missing runtime name")
		}
		if _, exists := deliverers[runtime.Name]; exists {
			return nil, fmt.Errorf("new composite tab deliverer: duplicate runtime %s", runtime.Name)
		}
		deliverers[runtime.Name] = runtime.Deliverer
		names = append(names, runtime.Name)
	}
	slices.Sort(names)

	return &CompositeTabDeliverer{
		names:      names,
		deliverers: deliverers,
	}, nil
}

// DeliverToTab pushes message to every transport holding a channel for tabID.
// It returns ErrTabNotConnected when no transport reached the tab.
func (d *CompositeTabDeliverer) DeliverToTab(ctx context.Context, tabID string, message any) error {
	if d == nil || len(d.names) == 0 {
		return fmt.Errorf("deliver to tab %s: %w", tabID, termsguard.ErrTabNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deliver to tab %s: %w", tabID, err)
	}

	delivered := false
	var deliverErr error
	for _, name := range d.names {
		err := d.deliverers[name].DeliverToTab(ctx, tabID, message)
		switch {
		case err == nil:
			delivered = true
		case errors.Is(err, termsguard.ErrTabNotConnected):
		default:
			deliverErr = errors.Join(deliverErr, fmt.Errorf("driver %s: %w", name, err))
		}
	}

	if delivered {
		return nil
	}
	if deliverErr != nil {
		return fmt.Errorf("deliver to tab %s: %w", tabID, deliverErr)
	}

	return fmt.Errorf("deliver to tab %s: %w", tabID, termsguard.ErrTabNotConnected)
}

var _ termsguard.TabDeliverer = (*CompositeTabDeliverer)(nil)
