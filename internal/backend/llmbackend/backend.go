// Package llmbackend grades terms documents with a configured LLM provider.
package llmbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"termsguard/internal/backend"
	"termsguard/pkg/termsguard"
)

const (
	// DefaultMaxInputChars bounds the document text placed in the prompt.
	DefaultMaxInputChars = 24000
	// DefaultMaxOutputTokens bounds the generated answer.
	DefaultMaxOutputTokens = 1024

	systemPrompt = `You review website terms of service and privacy policies for end users.
Answer with one JSON object and nothing else:
{"summary": "<plain-language summary, at most 5 sentences>",
 "risk_level": "<one of VERY LOW, LOW, MEDIUM, HIGH>",
 "key_points": ["<short concerning or notable clause>", ...]}
Write the summary and key points in the language given by the user message.`
)

// Config configures one LLM-backed analysis backend.
type Config struct {
	// Provider generates the answer.
	Provider termsguard.LLMProvider
	// ProviderName labels the endpoint in diagnostics.
	ProviderName string
	// Model is the provider model name.
	Model           string
	Temperature     float64
	MaxOutputTokens int
	MaxInputChars   int
}

// Backend adapts an LLM provider to the analysis backend contract.
type Backend struct {
	provider        termsguard.LLMProvider
	endpoint        string
	model           string
	temperature     float64
	maxOutputTokens int
	maxInputChars   int
}

// New validates cfg and creates a backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("new llm backend: nil provider")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("new llm backend: missing model")
	}
	if cfg.Temperature < 0 {
		return nil, fmt.Errorf("new llm backend: temperature must be >= 0")
	}
	if cfg.MaxOutputTokens < 0 || cfg.MaxInputChars < 0 {
		return nil, fmt.Errorf("new llm backend: limits must be >= 0")
	}

	providerName := strings.TrimSpace(cfg.ProviderName)
	if providerName == "" {
		providerName = "default"
	}

	backend := &Backend{
		provider:        cfg.Provider,
		endpoint:        "llm://" + providerName + "/" + model,
		model:           model,
		temperature:     cfg.Temperature,
		maxOutputTokens: DefaultMaxOutputTokens,
		maxInputChars:   DefaultMaxInputChars,
	}
	if cfg.MaxOutputTokens > 0 {
		backend.maxOutputTokens = cfg.MaxOutputTokens
	}
	if cfg.MaxInputChars > 0 {
		backend.maxInputChars = cfg.MaxInputChars
	}

	return backend, nil
}

// Name returns the backend type.
func (b *Backend) Name() string {
	return "llm"
}

// Endpoint returns the provider/model label.
func (b *Backend) Endpoint() string {
	return b.endpoint
}

// Health always succeeds; provider reachability shows up in Analyze.
func (b *Backend) Health(context.Context) error {
	return nil
}

// Liveness always succeeds.
func (b *Backend) Liveness(context.Context) error {
	return nil
}

type gradedAnswer struct {
	Summary   *string  `json:"summary"`
	RiskLevel string   `json:"risk_level"`
	KeyPoints []string `json:"key_points"`
}

// Analyze asks the provider for a graded summary of the document.
func (b *Backend) Analyze(ctx context.Context, req termsguard.BackendRequest) (termsguard.AnalysisResult, error) {
	userPrompt := fmt.Sprintf(
		"Language: %s\nURL: %s\n\nDocument:\n%s",
		req.Language,
		req.URL,
		backend.Truncate(req.Content, b.maxInputChars),
	)

	response, err := b.provider.Generate(ctx, termsguard.LLMGenerateRequest{
		Model: b.model,
		Messages: []termsguard.LLMMessage{
			{Role: termsguard.LLMMessageRoleSystem, Content: systemPrompt},
			{Role: termsguard.LLMMessageRoleUser, Content: userPrompt},
		},
		MaxOutputTokens: b.maxOutputTokens,
		Temperature:     b.temperature,
		JSONOutput:      true,
	})
	if err != nil {
		return termsguard.AnalysisResult{}, fmt.Errorf("llm analyze: %w", err)
	}

	var answer gradedAnswer
	if err := json.Unmarshal([]byte(extractJSON(response.Text)), &answer); err != nil {
		return termsguard.AnalysisResult{}, backend.Malformed(b.endpoint, err)
	}
	if answer.Summary == nil {
		return termsguard.AnalysisResult{}, backend.Malformed(b.endpoint, fmt.Errorf("missing summary"))
	}

	level := termsguard.RiskLevelUnknown
	if strings.TrimSpace(answer.RiskLevel) != "" {
		level, err = termsguard.ParseRiskLevel(answer.RiskLevel)
		if err != nil {
			return termsguard.AnalysisResult{}, backend.Malformed(b.endpoint, err)
		}
	}

	model := response.Model
	if model == "" {
		model = b.model
	}
	riskAnalysis := map[string]any{"risk_level": string(level)}
	if len(answer.KeyPoints) > 0 {
		riskAnalysis["key_points"] = answer.KeyPoints
	}

	encoded, err := json.Marshal(map[string]any{
		"summary":       *answer.Summary,
		"risk_analysis": riskAnalysis,
		"model":         model,
		"language":      req.Language,
	})
	if err != nil {
		return termsguard.AnalysisResult{}, fmt.Errorf("llm encode result: %w", err)
	}

	result, err := termsguard.DecodeAnalysisResult(encoded)
	if err != nil {
		return termsguard.AnalysisResult{}, backend.Malformed(b.endpoint, err)
	}

	return result, nil
}

// extractJSON strips an optional markdown code fence and surrounding prose.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
			trimmed = trimmed[newline+1:]
		}
		if end := strings.LastIndex(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}

	return trimmed
}

var _ termsguard.AnalysisBackend = (*Backend)(nil)
