// Package huggingface summarizes terms through the hosted inference API.
package huggingface

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
	// DefaultBaseURL is the hosted inference API root.
	DefaultBaseURL = "https://api-inference.huggingface.co"
	// DefaultModel is the summarization model.
	DefaultModel = "facebook/bart-large-cnn"
	// DefaultMaxInputChars bounds the text sent to the model.
	DefaultMaxInputChars = 3500

	defaultMaxLength   = 150
	defaultMinLength   = 30
	defaultHTTPTimeout = 2 * time.Minute
)

// Config configures the client.
type Config struct {
	BaseURL       string
	Model         string
	APIToken      string
	MaxLength     int
	MinLength     int
	MaxInputChars int
	HTTPClient    *http.Client
}

// Backend calls one summarization model.
type Backend struct {
	baseURL       string
	model         string
	token         string
	maxLength     int
	minLength     int
	maxInputChars int
	client        *http.Client
}

// New validates cfg and creates a client.
func New(cfg Config) (*Backend, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("new huggingface backend: parse base_url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("new huggingface backend: base_url must include scheme and host")
	}

	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, fmt.Errorf("new huggingface backend: missing api_token")
	}

	model := strings.Trim(strings.TrimSpace(cfg.Model), "/")
	if model == "" {
		model = DefaultModel
	}

	backend := &Backend{
		baseURL:       baseURL,
		model:         model,
		token:         token,
		maxLength:     defaultMaxLength,
		minLength:     defaultMinLength,
		maxInputChars: DefaultMaxInputChars,
		client:        cfg.HTTPClient,
	}
	if cfg.MaxLength > 0 {
		backend.maxLength = cfg.MaxLength
	}
	if cfg.MinLength > 0 {
		backend.minLength = cfg.MinLength
	}
	if backend.minLength > backend.maxLength {
		return nil, fmt.Errorf("new huggingface backend: min_length must be <= max_length")
	}
	if cfg.MaxInputChars > 0 {
		backend.maxInputChars = cfg.MaxInputChars
	}
	if backend.client == nil {
		backend.client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return backend, nil
}

// Name returns the backend type.
func (b *Backend) Name() string {
	return "huggingface"
}

// Endpoint returns the model URL.
func (b *Backend) Endpoint() string {
	return b.modelURL()
}

func (b *Backend) modelURL() string {
	return b.baseURL + "/models/" + b.model
}

func (b *Backend) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + b.token}
}

// Health checks that the model endpoint answers for this token. A 503 means
// the model is still loading; it passes, and Analyze takes the 503 retry path.
func (b *Backend) Health(ctx context.Context) error {
	_, err := backend.DoJSON(ctx, b.client, http.MethodGet, b.modelURL(), nil, b.authHeaders())
	if status, ok := termsguard.AsBackendStatus(err); ok && status == http.StatusServiceUnavailable {
		return nil
	}
	if err != nil {
		return fmt.Errorf("huggingface health: %w", err)
	}

	return nil
}

// Liveness checks the same endpoint as Health.
func (b *Backend) Liveness(ctx context.Context) error {
	return b.Health(ctx)
}

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	MaxLength int  `json:"max_length"`
	MinLength int  `json:"min_length"`
	DoSample  bool `json:"do_sample"`
}

type inferenceOutput struct {
	SummaryText   string `json:"summary_text"`
	GeneratedText string `json:"generated_text"`
}

// Analyze summarizes the document. The model grades no risk, so the level is UNKNOWN.
func (b *Backend) Analyze(ctx context.Context, req termsguard.BackendRequest) (termsguard.AnalysisResult, error) {
	payload := inferenceRequest{
		Inputs: backend.Truncate(req.Content, b.maxInputChars),
		Parameters: inferenceParameters{
			MaxLength: b.maxLength,
			MinLength: b.minLength,
		},
	}

	body, err := backend.DoJSON(ctx, b.client, http.MethodPost, b.modelURL(), payload, b.authHeaders())
	if err != nil {
		return termsguard.AnalysisResult{}, fmt.Errorf("huggingface analyze: %w", err)
	}

	var outputs []inferenceOutput
	if err := json.Unmarshal(body, &outputs); err != nil {
		return termsguard.AnalysisResult{}, backend.Malformed(b.modelURL(), err)
	}
	if len(outputs) == 0 {
		return termsguard.AnalysisResult{}, backend.Malformed(b.modelURL(), fmt.Errorf("empty output list"))
	}

	summary := strings.TrimSpace(outputs[0].SummaryText)
	if summary == "" {
		summary = strings.TrimSpace(outputs[0].GeneratedText)
	}

	encoded, err := json.Marshal(map[string]any{
		"summary":       summary,
		"risk_analysis": map[string]string{"risk_level": string(termsguard.RiskLevelUnknown)},
		"model":         b.model,
		"language":      req.Language,
	})
	if err != nil {
		return termsguard.AnalysisResult{}, fmt.Errorf("huggingface encode result: %w", err)
	}

	result, err := termsguard.DecodeAnalysisResult(encoded)
	if err != nil {
		return termsguard.AnalysisResult{}, backend.Malformed(b.modelURL(), err)
	}

	return result, nil
}

var _ termsguard.AnalysisBackend = (*Backend)(nil)
