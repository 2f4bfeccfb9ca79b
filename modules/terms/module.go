package terms

import (
	"context"
	"fmt"

	"termsguard/pkg/termsguard"
)

// Module routes analysis actions to the analyzer and history services.
type Module struct {
	analyzer termsguard.Analyzer
	history  termsguard.AnalysisHistory
}

// New creates a terms module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "terms"
}

// Spec declares every analysis action.
func (m *Module) Spec() termsguard.ModuleSpec {
	return termsguard.ModuleSpec{
		Actions: []termsguard.ActionSpec{
			{
				Name:        termsguard.ActionAnalyzeTerms,
				Description: "analyze terms content and return summary with risk analysis",
				Handler:     m.handleAnalyze,
			},
			{
				Name:        termsguard.ActionSummarizeTerms,
				Description: "alias of analyzeTerms",
				Handler:     m.handleAnalyze,
			},
			{
				Name:        termsguard.ActionAnalyzeContent,
				Description: "alias of analyzeTerms",
				Handler:     m.handleAnalyze,
			},
			{
				Name:        termsguard.ActionQuickSummary,
				Description: "analyze terms content and return only summary and risk level",
				Handler:     m.handleQuickSummary,
			},
			{
				Name:        termsguard.ActionGetAnalysisData,
				Description: "read the stored analysis for url, or the latest one",
				Handler:     m.handleGetAnalysisData,
			},
			{
				Name:        termsguard.ActionClearCache,
				Description: "clear cached analyses, history and rate-limit records",
				Handler:     m.handleClearCache,
			},
			{
				Name:        termsguard.ActionClearCacheAlias,
				Description: "alias of clear_cache",
				Handler:     m.handleClearCache,
			},
			{
				Name:        termsguard.ActionCheckBackendStatus,
				Description: "probe analysis backend reachability",
				Handler:     m.handleCheckBackend,
			},
			{
				Name:        termsguard.ActionGetCacheStats,
				Description: "summarize the analysis cache",
				Handler:     m.handleCacheStats,
			},
		},
		AdditionalCapabilities: []termsguard.Capability{
			{
				Name:        "terms-analysis",
				Description: "runs analyses and reads analysis history",
				RequiredServices: []string{
					termsguard.ServiceAnalyzer,
					termsguard.ServiceHistory,
				},
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime termsguard.ModuleRuntime) error {
	analyzer, err := termsguard.ResolveAs[termsguard.Analyzer](runtime.Services(), termsguard.ServiceAnalyzer)
	if err != nil {
		return fmt.Errorf("terms resolve analyzer: %w", err)
	}
	history, err := termsguard.ResolveAs[termsguard.AnalysisHistory](runtime.Services(), termsguard.ServiceHistory)
	if err != nil {
		return fmt.Errorf("terms resolve history: %w", err)
	}

	m.analyzer = analyzer
	m.history = history

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

var (
	_ termsguard.Module          = (*Module)(nil)
	_ termsguard.ModuleRegistrar = (*Module)(nil)
)
