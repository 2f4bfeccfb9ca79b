package termsguard

import (
	"context"
	"fmt"
)

// Canonical service registry keys.
const (
	ServiceActionCatalog = "termsguard.action_catalog"
	ServiceAnalyzer      = "termsguard.analyzer"
	ServiceHistory       = "termsguard.history"
	ServiceTabDeliverer  = "termsguard.tab_deliverer"
	ServiceStorage       = "termsguard.storage"
	ServiceAppInfo       = "termsguard.app_info"
)

// ServiceRegistry provides runtime dependency injection to modules and drivers.
type ServiceRegistry interface {
	// Register binds a singleton service value to a stable name.
	Register(name string, service any) error
	// Resolve returns a registered service by name.
	Resolve(name string) (any, error)
}

// ResolveAs resolves a service and casts it to the requested type.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return typed, nil
}

// Analyzer is the request dispatcher surface used by modules.
type Analyzer interface {
	// HandleAnalysisRequest runs one request through cache, rate limiting and the backend.
	HandleAnalysisRequest(ctx context.Context, req AnalysisRequest) (AnalysisOutcome, error)
	// CheckBackend probes backend reachability.
	CheckBackend(ctx context.Context) BackendStatus
	// ClearCache drops cached results, history and rate-limit records.
	ClearCache(ctx context.Context) error
	// CacheStats summarizes the analysis cache.
	CacheStats(ctx context.Context) CacheStats
}

// AnalysisHistory reads the bounded history of completed analyses.
type AnalysisHistory interface {
	Latest(ctx context.Context) (HistoryEntry, bool, error)
	FindByURL(ctx context.Context, url string) (HistoryEntry, bool, error)
	List(ctx context.Context) ([]HistoryEntry, error)
}

// TabDeliverer pushes one message to a connected tab.
type TabDeliverer interface {
	// DeliverToTab returns ErrTabNotConnected when the tab has no live channel.
	DeliverToTab(ctx context.Context, tabID string, message any) error
}

// AppInfo describes the running service for getExtensionInfo.
type AppInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	BackendURL  string `json:"backend_url"`
}
