package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"termsguard/pkg/termsguard"
)

const (
	usageKey = "usage"
	// minutesSavedPerAnalysis is the reading time credited per fresh analysis.
	minutesSavedPerAnalysis = 5
)

// Module keeps persisted usage counters fed by analysis events.
type Module struct {
	storage termsguard.Storage

	mu sync.Mutex
}

// New creates a stats module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "stats"
}

// Spec declares the usage counter subscription and the getStats action.
func (m *Module) Spec() termsguard.ModuleSpec {
	return termsguard.ModuleSpec{
		Handlers: []termsguard.ModuleHandler{
			{
				Capability: termsguard.Capability{
					Name:        "usage-stats",
					Description: "counts analyses, found risks and cache hits",
					Interest: termsguard.InterestSet{
						Kinds: []termsguard.EventKind{
							termsguard.EventKindAnalysisCompleted,
							termsguard.EventKindAnalysisCached,
						},
					},
					RequiredServices: []string{termsguard.ServiceStorage},
				},
				Subscription: termsguard.SubscriptionSpec{
					Name:         "stats-analysis",
					Workers:      1,
					Backpressure: termsguard.BackpressureBlock,
				},
				Handler: m.handleEvent,
			},
		},
		Actions: []termsguard.ActionSpec{
			{
				Name:        termsguard.ActionGetStats,
				Description: "report usage counters",
				Handler:     m.handleGetStats,
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime termsguard.ModuleRuntime) error {
	storage, err := termsguard.ResolveAs[termsguard.Storage](runtime.Services(), termsguard.ServiceStorage)
	if err != nil {
		return fmt.Errorf("stats resolve storage: %w", err)
	}
	m.storage = storage

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

func (m *Module) handleEvent(ctx context.Context, event *termsguard.Event) error {
	if event == nil || event.Outcome == nil {
		return nil
	}

	return m.update(ctx, func(usage *termsguard.UsageStats) {
		switch event.Kind {
		case termsguard.EventKindAnalysisCompleted:
			usage.TermsAnalyzed++
			usage.TimeSaved += minutesSavedPerAnalysis
			if event.Outcome.Result.RiskLevel().IsElevated() {
				usage.RisksFound++
			}
		case termsguard.EventKindAnalysisCached:
			usage.CacheHits++
		}
	})
}

func (m *Module) handleGetStats(ctx context.Context, _ *termsguard.Message) (termsguard.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage, err := m.load(ctx)
	if err != nil {
		return termsguard.Response{}, err
	}

	return termsguard.OK(usage), nil
}

// update applies mutate to the stored counters under the module lock.
func (m *Module) update(ctx context.Context, mutate func(*termsguard.UsageStats)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage, err := m.load(ctx)
	if err != nil {
		return err
	}
	mutate(&usage)

	encoded, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("stats encode usage: %w", err)
	}
	if err := m.storage.Put(ctx, termsguard.StorageNamespaceStats, usageKey, encoded); err != nil {
		return fmt.Errorf("stats store usage: %w", err)
	}

	return nil
}

func (m *Module) load(ctx context.Context) (termsguard.UsageStats, error) {
	if m.storage == nil {
		return termsguard.UsageStats{}, fmt.Errorf("stats: storage not configured")
	}

	raw, found, err := m.storage.Get(ctx, termsguard.StorageNamespaceStats, usageKey)
	if err != nil {
		return termsguard.UsageStats{}, fmt.Errorf("stats load usage: %w", err)
	}
	if !found {
		return termsguard.UsageStats{}, nil
	}

	var usage termsguard.UsageStats
	if err := json.Unmarshal(raw, &usage); err != nil {
		return termsguard.UsageStats{}, fmt.Errorf("stats decode usage: %w", err)
	}

	return usage, nil
}

var (
	_ termsguard.Module          = (*Module)(nil)
	_ termsguard.ModuleRegistrar = (*Module)(nil)
)
