package terms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"termsguard/pkg/termsguard"
)

func TestModuleHandleAnalyze(t *testing.T) {
	t.Parallel()

	longContent := strings.Repeat("terms ", 40)

	tests := []struct {
		name        string
		body        string
		outcome     termsguard.AnalysisOutcome
		analyzeErr  error
		wantRequest termsguard.AnalysisRequest
		wantCached  bool
		wantErrKind termsguard.AnalysisErrorKind
	}{
		{
			name: "content field with numeric tab id",
			body: fmt.Sprintf(
				`{"action":"analyzeTerms","tabId":7,"content":%q,"url":" https://example.com/terms ","language":"de","contentHash":"abc"}`,
				longContent,
			),
			outcome: termsguard.AnalysisOutcome{Result: testResult("fine print", termsguard.RiskLevelLow)},
			wantRequest: termsguard.AnalysisRequest{
				Content:     longContent,
				URL:         "https://example.com/terms",
				Language:    "de",
				ContentHash: "abc",
				TabID:       "7",
				Action:      termsguard.ActionAnalyzeTerms,
			},
		},
		{
			name:    "text field fallback",
			body:    fmt.Sprintf(`{"action":"analyze_content","text":%q,"url":"https://example.com"}`, longContent),
			outcome: termsguard.AnalysisOutcome{Result: testResult("cached", termsguard.RiskLevelHigh), Cached: true},
			wantRequest: termsguard.AnalysisRequest{
				Content: longContent,
				URL:     "https://example.com",
				Action:  termsguard.ActionAnalyzeContent,
			},
			wantCached: true,
		},
		{
			name: "non-string metadata values are flattened",
			body: fmt.Sprintf(
				`{"action":"analyzeTerms","content":%q,"metadata":{"wordCount":1234,"source":"popup","visible":true,"tags":["tos"]}}`,
				longContent,
			),
			outcome: termsguard.AnalysisOutcome{Result: testResult("counted", termsguard.RiskLevelLow)},
			wantRequest: termsguard.AnalysisRequest{
				Content: longContent,
				Metadata: map[string]string{
					"wordCount": "1234",
					"source":    "popup",
					"visible":   "true",
					"tags":      `["tos"]`,
				},
				Action: termsguard.ActionAnalyzeTerms,
			},
		},
		{
			name:       "analyzer error passes through",
			body:       `{"action":"summarizeTerms","content":"short"}`,
			analyzeErr: termsguard.NewAnalysisError(termsguard.AnalysisErrorKindInsufficientContent, "too short"),
			wantRequest: termsguard.AnalysisRequest{
				Content: "short",
				Action:  termsguard.ActionSummarizeTerms,
			},
			wantErrKind: termsguard.AnalysisErrorKindInsufficientContent,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			analyzer := &analyzerStub{outcome: testCase.outcome, err: testCase.analyzeErr}
			module := newTestModule(analyzer, &historyStub{})

			response, err := module.handleAnalyze(context.Background(), mustParse(t, testCase.body))
			if diff := cmp.Diff([]termsguard.AnalysisRequest{testCase.wantRequest}, analyzer.snapshot()); diff != "" {
				t.Fatalf("analysis requests mismatch (-want +got):\n%s", diff)
			}
			if testCase.wantErrKind != "" {
				analysisErr, ok := termsguard.AsAnalysisError(err)
				if !ok || analysisErr.Kind != testCase.wantErrKind {
					t.Fatalf("handleAnalyze() error = %v, want kind %s", err, testCase.wantErrKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("handleAnalyze() error = %v", err)
			}
			if !response.Success || response.Cached != testCase.wantCached {
				t.Fatalf("response = %+v, want success cached=%v", response, testCase.wantCached)
			}
			result, ok := response.Data.(termsguard.AnalysisResult)
			if !ok {
				t.Fatalf("data type = %T, want AnalysisResult", response.Data)
			}
			if result.Summary != testCase.outcome.Result.Summary {
				t.Fatalf("summary = %q, want %q", result.Summary, testCase.outcome.Result.Summary)
			}
		})
	}
}

func TestModuleHandleAnalyzeRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	analyzer := &analyzerStub{}
	module := newTestModule(analyzer, &historyStub{})

	message := &termsguard.Message{Action: termsguard.ActionAnalyzeTerms, Raw: json.RawMessage(`{"content":42}`)}
	_, err := module.handleAnalyze(context.Background(), message)
	analysisErr, ok := termsguard.AsAnalysisError(err)
	if !ok || analysisErr.Kind != termsguard.AnalysisErrorKindInvalidRequest {
		t.Fatalf("handleAnalyze() error = %v, want invalid_request", err)
	}
	if len(analyzer.snapshot()) != 0 {
		t.Fatal("analyzer called for malformed payload")
	}
}

func TestModuleHandleQuickSummary(t *testing.T) {
	t.Parallel()

	analyzer := &analyzerStub{outcome: termsguard.AnalysisOutcome{
		Result: testResult("short version", termsguard.RiskLevelMedium),
		Cached: true,
	}}
	module := newTestModule(analyzer, &historyStub{})

	response, err := module.handleQuickSummary(
		context.Background(),
		mustParse(t, `{"action":"quickSummary","content":"anything"}`),
	)
	if err != nil {
		t.Fatalf("handleQuickSummary() error = %v", err)
	}

	want := termsguard.Response{
		Success: true,
		Data:    quickSummaryReply{Summary: "short version", RiskLevel: termsguard.RiskLevelMedium},
		Cached:  true,
	}
	if diff := cmp.Diff(want, response); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestModuleHandleGetAnalysisData(t *testing.T) {
	t.Parallel()

	latest := termsguard.HistoryEntry{ID: "2", URL: "https://b.example", Summary: "latest"}
	byURL := termsguard.HistoryEntry{ID: "1", URL: "https://a.example", Summary: "older"}

	tests := []struct {
		name     string
		body     string
		history  *historyStub
		wantData any
		wantErr  bool
	}{
		{
			name:     "latest entry without url",
			body:     `{"action":"get_analysis_data"}`,
			history:  &historyStub{entries: []termsguard.HistoryEntry{latest, byURL}},
			wantData: latest,
		},
		{
			name:     "entry by url",
			body:     `{"action":"get_analysis_data","url":"https://a.example"}`,
			history:  &historyStub{entries: []termsguard.HistoryEntry{latest, byURL}},
			wantData: byURL,
		},
		{
			name:     "empty history yields null data",
			body:     `{"action":"get_analysis_data"}`,
			history:  &historyStub{},
			wantData: nil,
		},
		{
			name:    "history failure",
			body:    `{"action":"get_analysis_data"}`,
			history: &historyStub{err: errors.New("disk gone")},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			module := newTestModule(&analyzerStub{}, testCase.history)
			response, err := module.handleGetAnalysisData(context.Background(), mustParse(t, testCase.body))
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("handleGetAnalysisData() error = %v", err)
			}
			if diff := cmp.Diff(termsguard.OK(testCase.wantData), response); diff != "" {
				t.Fatalf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestModuleMaintenanceActions(t *testing.T) {
	t.Parallel()

	checkedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	analyzer := &analyzerStub{
		status: termsguard.BackendStatus{
			Status:     termsguard.BackendStateDisconnected,
			BackendURL: "http://localhost:8000",
			Error:      "Cannot connect to backend",
			CheckedAt:  checkedAt,
		},
		stats: termsguard.CacheStats{TotalEntries: 3, MaxEntries: 100},
	}
	module := newTestModule(analyzer, &historyStub{})
	ctx := context.Background()

	status, err := module.handleCheckBackend(ctx, mustParse(t, `{"action":"check_backend_status"}`))
	if err != nil {
		t.Fatalf("handleCheckBackend() error = %v", err)
	}
	if diff := cmp.Diff(termsguard.OK(analyzer.status), status); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}

	stats, err := module.handleCacheStats(ctx, mustParse(t, `{"action":"getCacheStats"}`))
	if err != nil {
		t.Fatalf("handleCacheStats() error = %v", err)
	}
	if diff := cmp.Diff(termsguard.OK(analyzer.stats), stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}

	for _, action := range []string{termsguard.ActionClearCache, termsguard.ActionClearCacheAlias} {
		response, err := module.handleClearCache(ctx, &termsguard.Message{Action: action})
		if err != nil {
			t.Fatalf("handleClearCache(%s) error = %v", action, err)
		}
		if !response.Success {
			t.Fatalf("handleClearCache(%s) = %+v, want success", action, response)
		}
	}
	if analyzer.cleared != 2 {
		t.Fatalf("ClearCache calls = %d, want 2", analyzer.cleared)
	}

	analyzer.clearErr = errors.New("locked")
	if _, err := module.handleClearCache(ctx, &termsguard.Message{Action: termsguard.ActionClearCache}); err == nil {
		t.Fatal("expected clear cache error")
	}
}

func TestModuleSpecDeclaresActions(t *testing.T) {
	t.Parallel()

	spec := New().Spec()
	names := make([]string, 0, len(spec.Actions))
	for _, action := range spec.Actions {
		if err := action.Validate(); err != nil {
			t.Fatalf("action %s invalid: %v", action.Name, err)
		}
		names = append(names, action.Name)
	}

	want := []string{
		termsguard.ActionAnalyzeTerms,
		termsguard.ActionSummarizeTerms,
		termsguard.ActionAnalyzeContent,
		termsguard.ActionQuickSummary,
		termsguard.ActionGetAnalysisData,
		termsguard.ActionClearCache,
		termsguard.ActionClearCacheAlias,
		termsguard.ActionCheckBackendStatus,
		termsguard.ActionGetCacheStats,
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("actions mismatch (-want +got):\n%s", diff)
	}
}

func TestModuleOnRegister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		services         map[string]any
		wantErrSubstring string
	}{
		{
			name: "resolve dependencies succeeds",
			services: map[string]any{
				termsguard.ServiceAnalyzer: &analyzerStub{},
				termsguard.ServiceHistory:  &historyStub{},
			},
		},
		{
			name:             "missing analyzer fails",
			services:         map[string]any{termsguard.ServiceHistory: &historyStub{}},
			wantErrSubstring: "terms resolve analyzer",
		},
		{
			name:             "missing history fails",
			services:         map[string]any{termsguard.ServiceAnalyzer: &analyzerStub{}},
			wantErrSubstring: "terms resolve history",
		},
		{
			name: "wrong analyzer type fails",
			services: map[string]any{
				termsguard.ServiceAnalyzer: "not an analyzer",
				termsguard.ServiceHistory:  &historyStub{},
			},
			wantErrSubstring: "type assertion failed",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := New().OnRegister(context.Background(), moduleRuntimeStub{registry: serviceRegistryStub{values: testCase.services}})
			if testCase.wantErrSubstring == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
			}
		})
	}
}

func newTestModule(analyzer *analyzerStub, history *historyStub) *Module {
	module := New()
	module.analyzer = analyzer
	module.history = history

	return module
}

func mustParse(t *testing.T, body string) *termsguard.Message {
	t.Helper()

	message, err := termsguard.ParseMessage([]byte(body))
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	return message
}

func testResult(summary string, level termsguard.RiskLevel) termsguard.AnalysisResult {
	return termsguard.AnalysisResult{
		Summary:      summary,
		RiskAnalysis: termsguard.RiskAnalysis{RiskLevel: level},
	}
}

type analyzerStub struct {
	mu       sync.Mutex
	requests []termsguard.AnalysisRequest
	outcome  termsguard.AnalysisOutcome
	err      error
	status   termsguard.BackendStatus
	stats    termsguard.CacheStats
	cleared  int
	clearErr error
}

func (a *analyzerStub) HandleAnalysisRequest(
	_ context.Context,
	req termsguard.AnalysisRequest,
) (termsguard.AnalysisOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, req)
	if a.err != nil {
		return termsguard.AnalysisOutcome{}, a.err
	}

	return a.outcome, nil
}

func (a *analyzerStub) CheckBackend(context.Context) termsguard.BackendStatus {
	return a.status
}

func (a *analyzerStub) ClearCache(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.clearErr != nil {
		return a.clearErr
	}
	a.cleared++

	return nil
}

func (a *analyzerStub) CacheStats(context.Context) termsguard.CacheStats {
	return a.stats
}

func (a *analyzerStub) snapshot() []termsguard.AnalysisRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]termsguard.AnalysisRequest(nil), a.requests...)
}

type historyStub struct {
	entries []termsguard.HistoryEntry
	err     error
}

func (h *historyStub) Latest(context.Context) (termsguard.HistoryEntry, bool, error) {
	if h.err != nil {
		return termsguard.HistoryEntry{}, false, h.err
	}
	if len(h.entries) == 0 {
		return termsguard.HistoryEntry{}, false, nil
	}

	return h.entries[0], true, nil
}

func (h *historyStub) FindByURL(_ context.Context, url string) (termsguard.HistoryEntry, bool, error) {
	if h.err != nil {
		return termsguard.HistoryEntry{}, false, h.err
	}
	for _, entry := range h.entries {
		if entry.URL == url {
			return entry, true, nil
		}
	}

	return termsguard.HistoryEntry{}, false, nil
}

func (h *historyStub) List(context.Context) ([]termsguard.HistoryEntry, error) {
	return append([]termsguard.HistoryEntry(nil), h.entries...), h.err
}

type moduleRuntimeStub struct {
	registry termsguard.ServiceRegistry
}

func (r moduleRuntimeStub) Services() termsguard.ServiceRegistry {
	return r.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	termsguard.InterestSet,
	termsguard.SubscriptionSpec,
	termsguard.EventHandler,
) (termsguard.Subscription, error) {
	return nil, fmt.Errorf("subscribe not supported")
}

type serviceRegistryStub struct {
	values map[string]any
}

func (serviceRegistryStub) Register(string, any) error {
	return fmt.Errorf("register not supported")
}

func (r serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := r.values[name]
	if !ok {
		return nil, termsguard.ErrServiceNotFound
	}

	return value, nil
}
