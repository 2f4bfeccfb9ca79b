// Package dispatcher runs analysis requests through the in-flight guard,
// the cache, the per-domain rate limiter and the analysis backend.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"termsguard/internal/cachestore"
	"termsguard/pkg/termsguard"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

// Cache is the analysis result cache. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, url, contentHash string) (cachestore.Entry, bool)
	Put(ctx context.Context, url, contentHash string, result termsguard.AnalysisResult, metadata map[string]string) cachestore.Entry
	Clear(ctx context.Context)
	Stats(ctx context.Context) termsguard.CacheStats
	ShouldCache(url string) bool
}

// RateLimiter spaces backend requests per domain.
type RateLimiter interface {
	Check(domain string) bool
	Record(domain string)
	RetryAfter(domain string) time.Duration
	Domain(rawURL string) (string, error)
	Reset()
}

// History records completed analyses.
type History interface {
	Add(ctx context.Context, url string, result termsguard.AnalysisResult) (termsguard.HistoryEntry, error)
	Clear(ctx context.Context) error
}

// Dispatcher is the long-lived analysis request coordinator.
type Dispatcher struct {
	cfg      config
	backend  termsguard.AnalysisBackend
	cache    Cache
	limiter  RateLimiter
	history  History
	sanitize *bluemonday.Policy

	mu       sync.Mutex
	inflight map[string]struct{}

	probes singleflight.Group
}

// New creates a dispatcher. cache and history may be nil.
func New(
	backend termsguard.AnalysisBackend,
	cache Cache,
	limiter RateLimiter,
	history History,
	options ...Option,
) (*Dispatcher, error) {
	if backend == nil {
		return nil, fmt.Errorf("new dispatcher: nil backend")
	}
	if limiter == nil {
		return nil, fmt.Errorf("new dispatcher: nil rate limiter")
	}

	cfg := config{
		minContentLength: DefaultMinContentLength,
		maxAttempts:      DefaultMaxAttempts,
		transientDelay:   DefaultTransientDelay,
		failureDelay:     DefaultFailureDelay,
		healthProbe:      true,
		healthTimeout:    DefaultHealthTimeout,
		requestTimeout:   DefaultRequestTimeout,
		inflightScope:    InflightScopeFingerprint,
		defaultLanguage:  DefaultLanguage,
		clock:            time.Now,
		sleep:            sleepContext,
		newID:            uuid.NewString,
		logger:           slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}
	if _, err := ParseInflightScope(string(cfg.inflightScope)); err != nil {
		return nil, fmt.Errorf("new dispatcher: %w", err)
	}
	if _, err := normalizeLanguage(cfg.defaultLanguage, DefaultLanguage); err != nil {
		return nil, fmt.Errorf("new dispatcher default language: %w", err)
	}

	return &Dispatcher{
		cfg:      cfg,
		backend:  backend,
		cache:    cache,
		limiter:  limiter,
		history:  history,
		sanitize: bluemonday.StrictPolicy(),
		inflight: make(map[string]struct{}),
	}, nil
}

// HandleAnalysisRequest runs one request to completion.
//
// Cache hits return before the rate limiter, the health probe and the backend
// are consulted. Every returned error is a *termsguard.AnalysisError.
func (d *Dispatcher) HandleAnalysisRequest(
	ctx context.Context,
	req termsguard.AnalysisRequest,
) (termsguard.AnalysisOutcome, error) {
	if ctx == nil {
		return termsguard.AnalysisOutcome{}, termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindInvalidRequest,
			"Analysis request has no context.",
		)
	}

	prepared, err := d.prepare(req)
	if err != nil {
		return termsguard.AnalysisOutcome{}, err
	}

	release, acquired := d.acquire(prepared.inflightKey(d.cfg.inflightScope))
	if !acquired {
		return termsguard.AnalysisOutcome{}, termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindAlreadyProcessing,
			"An analysis of this document is already in progress. Please wait for it to finish.",
		)
	}
	defer release()

	outcome, err := d.run(ctx, prepared)
	if err != nil {
		d.publishFailure(ctx, prepared, err)
		return termsguard.AnalysisOutcome{}, err
	}

	return outcome, nil
}

type preparedRequest struct {
	termsguard.AnalysisRequest
	domain string
}

func (p preparedRequest) inflightKey(scope InflightScope) string {
	if scope == InflightScopeGlobal {
		return string(InflightScopeGlobal)
	}

	return cachestore.ComputeKey(p.URL, p.ContentHash)
}

func (d *Dispatcher) prepare(req termsguard.AnalysisRequest) (preparedRequest, error) {
	content := strings.TrimSpace(req.Content)
	if length := utf8.RuneCountInString(content); length < d.cfg.minContentLength {
		return preparedRequest{}, termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindInsufficientContent,
			"Insufficient content to analyze: found %d characters, need at least %d. "+
				"Open the full terms of service or privacy policy page and try again.",
			length,
			d.cfg.minContentLength,
		)
	}

	pageURL := strings.TrimSpace(req.URL)
	domain, err := d.limiter.Domain(pageURL)
	if err != nil {
		return preparedRequest{}, termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindInvalidRequest,
			"The page URL %q is not valid. Reload the page and try again.",
			pageURL,
		).WithCause(err)
	}

	lang, err := normalizeLanguage(req.Language, d.cfg.defaultLanguage)
	if err != nil {
		return preparedRequest{}, termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindInvalidRequest,
			"Unsupported language %q. Use a language code such as en, de or fr.",
			req.Language,
		).WithCause(err)
	}

	contentHash := strings.TrimSpace(req.ContentHash)
	if contentHash == "" {
		contentHash = cachestore.ContentHash(content)
	}

	prepared := preparedRequest{AnalysisRequest: req, domain: domain}
	prepared.Content = content
	prepared.URL = pageURL
	prepared.Language = lang
	prepared.ContentHash = contentHash

	return prepared, nil
}

func (d *Dispatcher) run(ctx context.Context, req preparedRequest) (termsguard.AnalysisOutcome, error) {
	cacheable := d.cache != nil && d.cache.ShouldCache(req.URL)
	if cacheable {
		if entry, hit := d.cache.Get(ctx, req.URL, req.ContentHash); hit {
			outcome := termsguard.AnalysisOutcome{
				Result:      entry.Result,
				Cached:      true,
				CacheKey:    entry.CacheKey,
				ContentHash: entry.ContentHash,
				URL:         req.URL,
				Domain:      req.domain,
				AnalyzedAt:  entry.CreatedAt,
				AccessCount: entry.AccessCount,
			}
			d.cfg.logger.InfoContext(ctx, "analysis served from cache",
				"url", req.URL,
				"cache_key", entry.CacheKey,
				"access_count", entry.AccessCount,
			)
			d.publishOutcome(ctx, termsguard.EventKindAnalysisCached, req, outcome)
			return outcome, nil
		}
	}

	if !d.limiter.Check(req.domain) {
		wait := d.limiter.RetryAfter(req.domain)
		return termsguard.AnalysisOutcome{}, &termsguard.AnalysisError{
			Kind: termsguard.AnalysisErrorKindRateLimited,
			Message: fmt.Sprintf(
				"Too many analysis requests for %s. Please wait %s before trying again.",
				req.domain,
				formatWait(wait),
			),
			RetryAfter: wait,
		}
	}

	if d.cfg.healthProbe {
		if err := d.probeHealth(ctx); err != nil {
			return termsguard.AnalysisOutcome{}, d.unavailable(err)
		}
	}

	d.limiter.Record(req.domain)

	result, attempts, err := d.analyze(ctx, req)
	if err != nil {
		return termsguard.AnalysisOutcome{}, err
	}
	result.Summary = d.cleanSummary(result.Summary)

	now := d.cfg.clock()
	outcome := termsguard.AnalysisOutcome{
		Result:      result,
		ContentHash: req.ContentHash,
		URL:         req.URL,
		Domain:      req.domain,
		AnalyzedAt:  now,
		AccessCount: 1,
	}
	if cacheable {
		entry := d.cache.Put(ctx, req.URL, req.ContentHash, result, requestMetadata(req))
		outcome.CacheKey = entry.CacheKey
		outcome.AnalyzedAt = entry.CreatedAt
	}
	if d.history != nil {
		if _, err := d.history.Add(ctx, req.URL, result); err != nil {
			d.cfg.logger.WarnContext(ctx, "analysis history append failed",
				"url", req.URL,
				"error", err,
			)
		}
	}

	d.cfg.logger.InfoContext(ctx, "analysis completed",
		"url", req.URL,
		"risk_level", result.RiskLevel(),
		"attempts", attempts,
		"cache_write", cacheable,
	)
	d.publishOutcome(ctx, termsguard.EventKindAnalysisCompleted, req, outcome)

	return outcome, nil
}

func (d *Dispatcher) acquire(key string) (func(), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.inflight[key]; busy {
		return nil, false
	}
	d.inflight[key] = struct{}{}

	return func() {
		d.mu.Lock()
		delete(d.inflight, key)
		d.mu.Unlock()
	}, true
}

func (d *Dispatcher) probeHealth(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.healthTimeout)
	defer cancel()

	return d.backend.Health(probeCtx)
}

func (d *Dispatcher) unavailable(cause error) error {
	return termsguard.NewAnalysisError(
		termsguard.AnalysisErrorKindBackendUnavailable,
		"Cannot connect to backend at %s. %s",
		d.backend.Endpoint(),
		startRemedy(d.backend.Name()),
	).WithCause(cause)
}

func (d *Dispatcher) cleanSummary(summary string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(d.sanitize.Sanitize(summary)))
	if cleaned == "" {
		return termsguard.FallbackSummary
	}

	return cleaned
}

// CheckBackend probes health, then liveness. Concurrent callers share one probe.
func (d *Dispatcher) CheckBackend(ctx context.Context) termsguard.BackendStatus {
	probeCtx := context.WithoutCancel(ctx)
	value, _, _ := d.probes.Do("backend", func() (any, error) {
		status := termsguard.BackendStatus{
			Status:     termsguard.BackendStateConnected,
			BackendURL: d.backend.Endpoint(),
		}

		healthErr := d.probeHealth(probeCtx)
		if healthErr != nil {
			livenessCtx, cancel := context.WithTimeout(probeCtx, d.cfg.healthTimeout)
			livenessErr := d.backend.Liveness(livenessCtx)
			cancel()
			if livenessErr != nil {
				status.Status = termsguard.BackendStateDisconnected
				status.Error = d.unavailable(errors.Join(healthErr, livenessErr)).Error()
				d.cfg.logger.WarnContext(probeCtx, "analysis backend unreachable",
					"backend_url", status.BackendURL,
					"health_error", healthErr,
					"liveness_error", livenessErr,
				)
			}
		}
		status.CheckedAt = d.cfg.clock()

		return status, nil
	})

	return value.(termsguard.BackendStatus)
}

// ClearCache drops cached results, history and rate-limit records.
func (d *Dispatcher) ClearCache(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	if d.cache != nil {
		d.cache.Clear(ctx)
	}
	if d.history != nil {
		if err := d.history.Clear(ctx); err != nil {
			d.cfg.logger.WarnContext(ctx, "analysis history clear failed", "error", err)
		}
	}
	d.limiter.Reset()
	d.cfg.logger.InfoContext(ctx, "analysis cache cleared")

	return nil
}

// CacheStats summarizes the cache. A disabled cache reports zero values.
func (d *Dispatcher) CacheStats(ctx context.Context) termsguard.CacheStats {
	if d.cache == nil {
		return termsguard.CacheStats{}
	}

	return d.cache.Stats(ctx)
}

func (d *Dispatcher) publishOutcome(
	ctx context.Context,
	kind termsguard.EventKind,
	req preparedRequest,
	outcome termsguard.AnalysisOutcome,
) {
	d.publish(ctx, &termsguard.Event{
		ID:         d.cfg.newID(),
		Kind:       kind,
		OccurredAt: d.cfg.clock(),
		TabID:      req.TabID,
		Action:     req.Action,
		Outcome:    &outcome,
	})
}

func (d *Dispatcher) publishFailure(ctx context.Context, req preparedRequest, err error) {
	d.publish(ctx, &termsguard.Event{
		ID:         d.cfg.newID(),
		Kind:       termsguard.EventKindAnalysisFailed,
		OccurredAt: d.cfg.clock(),
		TabID:      req.TabID,
		Action:     req.Action,
		Failure: &termsguard.EventFailure{
			Kind:    termsguard.AnalysisErrorKindOf(err),
			Message: err.Error(),
			URL:     req.URL,
		},
	})
}

func (d *Dispatcher) publish(ctx context.Context, event *termsguard.Event) {
	if d.cfg.events == nil {
		return
	}
	if err := d.cfg.events.Publish(ctx, event); err != nil {
		d.cfg.logger.WarnContext(ctx, "analysis event publish failed",
			"event_kind", event.Kind,
			"error", err,
		)
	}
}

func normalizeLanguage(raw, fallback string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = fallback
	}

	tag, err := language.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", trimmed, err)
	}
	base, _ := tag.Base()
	if base.String() == "und" {
		return fallback, nil
	}

	return base.String(), nil
}

func requestMetadata(req preparedRequest) map[string]string {
	metadata := maps.Clone(req.Metadata)
	if metadata == nil {
		metadata = make(map[string]string, 2)
	}
	metadata["language"] = req.Language
	if req.Action != "" {
		metadata["action"] = req.Action
	}

	return metadata
}

func startRemedy(backendName string) string {
	switch backendName {
	case "http":
		return "Please start your FastAPI server."
	case "huggingface":
		return "Please check your network connection and Hugging Face API token."
	default:
		return "Please check the analysis backend configuration."
	}
}

func formatWait(wait time.Duration) string {
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds <= 1 {
		return "1 second"
	}

	return fmt.Sprintf("%d seconds", seconds)
}
