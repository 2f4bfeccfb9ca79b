package help

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"termsguard/pkg/termsguard"
)

// Module answers getExtensionInfo with service metadata and the action reference.
type Module struct {
	actionCatalog termsguard.ActionCatalog
	appInfo       termsguard.AppInfo
}

// New creates a help module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares the getExtensionInfo action.
func (m *Module) Spec() termsguard.ModuleSpec {
	return termsguard.ModuleSpec{
		Actions: []termsguard.ActionSpec{
			{
				Name:        termsguard.ActionGetExtensionInfo,
				Description: "describe the service and list every registered action",
				Handler:     m.handleExtensionInfo,
			},
		},
		AdditionalCapabilities: []termsguard.Capability{
			{
				Name:        "extension-info",
				Description: "reads the action catalog and application metadata",
				RequiredServices: []string{
					termsguard.ServiceActionCatalog,
					termsguard.ServiceAppInfo,
				},
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime termsguard.ModuleRuntime) error {
	actionCatalog, err := termsguard.ResolveAs[termsguard.ActionCatalog](
		runtime.Services(),
		termsguard.ServiceActionCatalog,
	)
	if err != nil {
		return fmt.Errorf("help resolve action catalog: %w", err)
	}
	appInfo, err := termsguard.ResolveAs[termsguard.AppInfo](
		runtime.Services(),
		termsguard.ServiceAppInfo,
	)
	if err != nil {
		return fmt.Errorf("help resolve app info: %w", err)
	}

	m.actionCatalog = actionCatalog
	m.appInfo = appInfo

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

// extensionInfo is the getExtensionInfo payload.
type extensionInfo struct {
	termsguard.AppInfo
	Actions []actionInfo `json:"actions"`
	Usage   string       `json:"usage"`
}

type actionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Module      string `json:"module"`
}

func (m *Module) handleExtensionInfo(ctx context.Context, _ *termsguard.Message) (termsguard.Response, error) {
	if m.actionCatalog == nil {
		return termsguard.Response{}, fmt.Errorf("help handle extension info: action catalog not configured")
	}

	actions, err := m.actionCatalog.ListActions(ctx)
	if err != nil {
		return termsguard.Response{}, fmt.Errorf("help list actions: %w", err)
	}

	sorted := append([]termsguard.RegisteredAction(nil), actions...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name == sorted[j].Name {
			return sorted[i].ModuleName < sorted[j].ModuleName
		}
		return sorted[i].Name < sorted[j].Name
	})

	listed := make([]actionInfo, 0, len(sorted))
	for _, action := range sorted {
		listed = append(listed, actionInfo{
			Name:        action.Name,
			Description: strings.TrimSpace(action.Description),
			Module:      moduleLabel(action.ModuleName),
		})
	}

	return termsguard.OK(extensionInfo{
		AppInfo: m.appInfo,
		Actions: listed,
		Usage:   renderUsage(listed),
	}), nil
}

// renderUsage formats the action reference as plain text for popups.
func renderUsage(actions []actionInfo) string {
	if len(actions) == 0 {
		return "Available actions:\n(none)"
	}

	lines := make([]string, 0, len(actions)*4+1)
	lines = append(lines, "Available actions:\n")
	for index, action := range actions {
		if index > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, action.Name)
		if action.Description != "" {
			lines = append(lines, action.Description)
		}
		lines = append(lines, fmt.Sprintf("(%s)", action.Module))
	}

	return strings.Join(lines, "\n")
}

func moduleLabel(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}

	return "unknown"
}

var (
	_ termsguard.Module          = (*Module)(nil)
	_ termsguard.ModuleRegistrar = (*Module)(nil)
)
