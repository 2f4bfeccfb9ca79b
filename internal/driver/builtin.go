package driver

import (
	"context"
	"log/slog"

	"termsguard/internal/driver/httpapi"
)

// NewBuiltinRegistry returns a registry holding every driver compiled into
// the binary. Today that is the HTTP/WebSocket driver used by the extension.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{Type: httpapi.DriverType, Builder: buildHTTPRuntime},
	})
}

// buildHTTPRuntime exposes the HTTP driver's tab hub as the runtime deliverer,
// which is what the notify module pushes per-tab events through.
func buildHTTPRuntime(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
	httpDriver, hub, err := httpapi.BuildRuntimeFromConfig(definition.Name, logger, definition.Config)
	if err != nil {
		return Runtime{}, err
	}

	return Runtime{Name: definition.Name, Driver: httpDriver, Deliverer: hub}, nil
}
