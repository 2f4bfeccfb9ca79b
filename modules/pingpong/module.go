package pingpong

import (
	"context"

	"termsguard/pkg/termsguard"
)

// Module answers the ping liveness action.
type Module struct{}

// New creates a ping-pong module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "pingpong"
}

// Spec declares the ping action.
func (m *Module) Spec() termsguard.ModuleSpec {
	return termsguard.ModuleSpec{
		Actions: []termsguard.ActionSpec{
			{
				Name:        termsguard.ActionPing,
				Description: "report that the background service is alive",
				Handler:     m.handlePing,
			},
		},
	}
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

// pingReply is the ping payload.
type pingReply struct {
	Status string `json:"status"`
}

func (m *Module) handlePing(_ context.Context, _ *termsguard.Message) (termsguard.Response, error) {
	return termsguard.OK(pingReply{Status: "alive"}), nil
}

var _ termsguard.Module = (*Module)(nil)
