// Package httpbackend is the client of the self-hosted terms analysis service.
package httpbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"termsguard/internal/backend"
	"termsguard/pkg/termsguard"
)

const (
	// DefaultBaseURL is the conventional local deployment address.
	DefaultBaseURL = "http://localhost:8000"
	// DefaultHealthPath is the readiness probe path.
	DefaultHealthPath = "/health"

	defaultHTTPTimeout = 2 * time.Minute
)

// Variant selects which analyze endpoint and request field are used.
type Variant string

const (
	// VariantAnalyze posts {content, language} to /analyze and expects an envelope.
	VariantAnalyze Variant = "analyze"
	// VariantAnalyzeText posts {text, language} to /analyze_text and accepts bare data.
	VariantAnalyzeText Variant = "analyze_text"
	// VariantAnalyzeURL posts {url, language} to /analyze_url.
	VariantAnalyzeURL Variant = "analyze_url"
)

// ParseVariant validates one configured variant. Empty selects analyze.
func ParseVariant(raw string) (Variant, error) {
	switch Variant(strings.TrimSpace(raw)) {
	case "", VariantAnalyze:
		return VariantAnalyze, nil
	case VariantAnalyzeText:
		return VariantAnalyzeText, nil
	case VariantAnalyzeURL:
		return VariantAnalyzeURL, nil
	default:
		return "", fmt.Errorf("unsupported analyze variant %q", raw)
	}
}

// Config configures the client.
type Config struct {
	BaseURL    string
	Variant    Variant
	HealthPath string
	HTTPClient *http.Client
}

// Backend talks to the FastAPI-style analysis service.
type Backend struct {
	baseURL    string
	variant    Variant
	healthPath string
	client     *http.Client
}

// New validates cfg and creates a client.
func New(cfg Config) (*Backend, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("new http backend: parse base_url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("new http backend: base_url must include scheme and host")
	}

	variant, err := ParseVariant(string(cfg.Variant))
	if err != nil {
		return nil, fmt.Errorf("new http backend: %w", err)
	}

	healthPath := strings.TrimSpace(cfg.HealthPath)
	if healthPath == "" {
		healthPath = DefaultHealthPath
	}
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Backend{
		baseURL:    baseURL,
		variant:    variant,
		healthPath: healthPath,
		client:     client,
	}, nil
}

// Name returns the backend type.
func (b *Backend) Name() string {
	return "http"
}

// Endpoint returns the configured base URL.
func (b *Backend) Endpoint() string {
	return b.baseURL
}

// Health probes the readiness endpoint.
func (b *Backend) Health(ctx context.Context) error {
	if _, err := backend.DoJSON(ctx, b.client, http.MethodGet, b.baseURL+b.healthPath, nil, nil); err != nil {
		return fmt.Errorf("http backend health: %w", err)
	}

	return nil
}

// Liveness probes the root endpoint.
func (b *Backend) Liveness(ctx context.Context) error {
	if _, err := backend.DoJSON(ctx, b.client, http.MethodGet, b.baseURL+"/", nil, nil); err != nil {
		return fmt.Errorf("http backend liveness: %w", err)
	}

	return nil
}

// Analyze posts one document to the configured analyze endpoint.
func (b *Backend) Analyze(ctx context.Context, req termsguard.BackendRequest) (termsguard.AnalysisResult, error) {
	payload := map[string]string{"language": req.Language}
	switch b.variant {
	case VariantAnalyzeText:
		payload["text"] = req.Content
	case VariantAnalyzeURL:
		payload["url"] = req.URL
	default:
		payload["content"] = req.Content
	}

	body, err := backend.DoJSON(ctx, b.client, http.MethodPost, b.baseURL+"/"+string(b.variant), payload, nil)
	if err != nil {
		return termsguard.AnalysisResult{}, fmt.Errorf("http backend analyze: %w", err)
	}

	result, err := b.decode(body)
	if err != nil {
		return termsguard.AnalysisResult{}, fmt.Errorf("http backend analyze: %w", err)
	}

	return result, nil
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Detail  string          `json:"detail"`
}

// decode accepts both the {success, data, error} envelope and bare result objects.
func (b *Backend) decode(body []byte) (termsguard.AnalysisResult, error) {
	var wrapped envelope
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return termsguard.AnalysisResult{}, backend.Malformed(b.baseURL, err)
	}

	data := json.RawMessage(body)
	if wrapped.Success != nil {
		if !*wrapped.Success {
			reason := strings.TrimSpace(wrapped.Error)
			if reason == "" {
				reason = strings.TrimSpace(wrapped.Detail)
			}
			if reason == "" {
				reason = "no reason given"
			}
			return termsguard.AnalysisResult{}, termsguard.NewAnalysisError(
				termsguard.AnalysisErrorKindBackendFailure,
				"The analysis backend at %s could not analyze this document: %s",
				b.baseURL,
				reason,
			)
		}
		if len(wrapped.Data) == 0 {
			return termsguard.AnalysisResult{}, backend.Malformed(b.baseURL, fmt.Errorf("envelope without data"))
		}
		data = wrapped.Data
	}

	result, err := termsguard.DecodeAnalysisResult(data)
	if err != nil {
		return termsguard.AnalysisResult{}, backend.Malformed(b.baseURL, err)
	}

	return result, nil
}

var _ termsguard.AnalysisBackend = (*Backend)(nil)
