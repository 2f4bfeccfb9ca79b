package autoanalyze

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jellydator/ttlcache/v3"

	"termsguard/pkg/termsguard"
)

const (
	defaultSuppressWindow = 5 * time.Minute
	// minContentRunes is the shortest extracted page text worth analyzing.
	minContentRunes     = 100
	tabStatusComplete   = "complete"
	defaultAutoLanguage = "en"
)

// Skip reasons reported in tab_updated replies.
const (
	skipMissingTab     = "missing_tab"
	skipIncomplete     = "loading"
	skipUnsupportedURL = "unsupported_url"
	skipRecent         = "recently_analyzed"
	skipShortContent   = "insufficient_content"
)

var unsupportedSchemes = []string{"chrome://", "chrome-extension://", "about:", "edge://"}

// Option mutates one autoanalyze module construction input.
type Option func(*Module)

// WithSuppressWindow configures how long a tab is skipped after a successful analysis.
func WithSuppressWindow(window time.Duration) Option {
	return func(m *Module) {
		if window > 0 {
			m.window = window
		}
	}
}

// Module analyzes pages automatically when a tab finishes loading.
type Module struct {
	window   time.Duration
	analyzer termsguard.Analyzer
	recent   *ttlcache.Cache[string, string]

	mu      sync.Mutex
	running bool
	stopped chan struct{}
}

// New creates an autoanalyze module.
func New(options ...Option) *Module {
	module := &Module{window: defaultSuppressWindow}
	for _, option := range options {
		option(module)
	}
	module.recent = ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](module.window),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "autoanalyze"
}

// Spec declares the tab_updated action.
func (m *Module) Spec() termsguard.ModuleSpec {
	return termsguard.ModuleSpec{
		Actions: []termsguard.ActionSpec{
			{
				Name:        termsguard.ActionTabUpdated,
				Description: "analyze a freshly loaded page unless the tab was analyzed recently",
				Handler:     m.handleTabUpdated,
			},
		},
		AdditionalCapabilities: []termsguard.Capability{
			{
				Name:             "auto-analysis",
				Description:      "runs analyses for loaded tabs",
				RequiredServices: []string{termsguard.ServiceAnalyzer},
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime termsguard.ModuleRuntime) error {
	analyzer, err := termsguard.ResolveAs[termsguard.Analyzer](runtime.Services(), termsguard.ServiceAnalyzer)
	if err != nil {
		return fmt.Errorf("autoanalyze resolve analyzer: %w", err)
	}
	m.analyzer = analyzer

	return nil
}

// OnStart begins expiring suppressed tabs.
func (m *Module) OnStart(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.stopped = make(chan struct{})
	go func(stopped chan struct{}) {
		defer close(stopped)
		m.recent.Start()
	}(m.stopped)

	return nil
}

// OnShutdown stops tab expiry.
func (m *Module) OnShutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.recent.Stop()

	select {
	case <-m.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("autoanalyze shutdown: %w", ctx.Err())
	}
}

type tabUpdatedPayload struct {
	URL      string `json:"url"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Language string `json:"language"`
}

// tabUpdatedReply reports whether the page was analyzed.
type tabUpdatedReply struct {
	Analyzed bool                       `json:"analyzed"`
	Skipped  string                     `json:"skipped,omitempty"`
	Cached   bool                       `json:"cached,omitempty"`
	Result   *termsguard.AnalysisResult `json:"result,omitempty"`
}

func (m *Module) handleTabUpdated(ctx context.Context, message *termsguard.Message) (termsguard.Response, error) {
	if m.analyzer == nil {
		return termsguard.Response{}, fmt.Errorf("autoanalyze: analyzer not configured")
	}

	var payload tabUpdatedPayload
	if err := message.Decode(&payload); err != nil {
		return termsguard.Response{}, err
	}

	if reason := m.skipReason(message.TabID, payload); reason != "" {
		return termsguard.OK(tabUpdatedReply{Skipped: reason}), nil
	}

	language := payload.Language
	if strings.TrimSpace(language) == "" {
		language = defaultAutoLanguage
	}

	outcome, err := m.analyzer.HandleAnalysisRequest(ctx, termsguard.AnalysisRequest{
		Content:  payload.Content,
		URL:      strings.TrimSpace(payload.URL),
		Language: language,
		TabID:    message.TabID,
		Action:   message.Action,
	})
	if err != nil {
		return termsguard.Response{}, err
	}
	m.recent.Set(message.TabID, strings.TrimSpace(payload.URL), ttlcache.DefaultTTL)

	result := outcome.Result
	response := termsguard.OK(tabUpdatedReply{
		Analyzed: true,
		Cached:   outcome.Cached,
		Result:   &result,
	})
	response.Cached = outcome.Cached

	return response, nil
}

func (m *Module) skipReason(tabID string, payload tabUpdatedPayload) string {
	url := strings.TrimSpace(payload.URL)
	switch {
	case tabID == "":
		return skipMissingTab
	case payload.Status != "" && payload.Status != tabStatusComplete:
		return skipIncomplete
	case url == "" || hasUnsupportedScheme(url):
		return skipUnsupportedURL
	case m.recent.Get(tabID) != nil:
		return skipRecent
	case utf8.RuneCountInString(strings.TrimSpace(payload.Content)) <= minContentRunes:
		return skipShortContent
	default:
		return ""
	}
}

func hasUnsupportedScheme(url string) bool {
	for _, scheme := range unsupportedSchemes {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}

	return false
}

var (
	_ termsguard.Module          = (*Module)(nil)
	_ termsguard.ModuleRegistrar = (*Module)(nil)
)
