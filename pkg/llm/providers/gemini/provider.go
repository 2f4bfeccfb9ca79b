package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"termsguard/pkg/termsguard"

	"google.golang.org/genai"
)

const (
	defaultAPIVersion = "v1beta"

	thinkingLevelLow    = "low"
	thinkingLevelMedium = "medium"
	thinkingLevelHigh   = "high"

	responseMIMEJSON = "application/json"
)

// ProviderConfig configures one Gemini-backed provider instance.
type ProviderConfig struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the Gemini endpoint.
	BaseURL string
	// APIVersion optionally overrides Gemini API version.
	//
	// Zero defaults to v1beta.
	APIVersion string
	// ThinkingBudget optionally sets thinking token budget.
	//
	// ThinkingBudget and ThinkingLevel are mutually exclusive.
	ThinkingBudget *int
	// ThinkingLevel optionally sets thinking level (low|medium|high).
	ThinkingLevel string
	// HTTPClient optionally replaces the SDK transport client.
	HTTPClient *http.Client
}

// Provider is a termsguard LLM provider backed by the Gemini GenerateContent API.
type Provider struct {
	models   geminiModelsClient
	defaults requestOptions
}

type geminiModelsClient interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

type requestOptions struct {
	thinkingBudget *int32
	thinkingLevel  genai.ThinkingLevel
}

// New builds one Gemini API provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("new gemini provider: missing api_key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("new gemini provider: parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("new gemini provider: parse base_url: must include scheme and host")
		}
	}

	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if !isValidAPIVersion(apiVersion) {
		return nil, fmt.Errorf("new gemini provider: invalid api_version %q", cfg.APIVersion)
	}

	defaults, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new gemini provider: %w", err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}

	return &Provider{
		models:   client.Models,
		defaults: defaults,
	}, nil
}

// Generate runs one GenerateContent request and joins the non-thought text parts.
func (p *Provider) Generate(
	ctx context.Context,
	req termsguard.LLMGenerateRequest,
) (termsguard.LLMGenerateResponse, error) {
	if p == nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("gemini generate: nil provider")
	}
	if ctx == nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("gemini generate: nil context")
	}
	if p.models == nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("gemini generate: models client is nil")
	}
	if err := req.Validate(); err != nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("gemini generate validate request: %w", err)
	}

	contents, config, err := mapGenerateRequest(req, p.defaults)
	if err != nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("gemini generate map request: %w", err)
	}

	response, err := p.models.GenerateContent(ctx, strings.TrimSpace(req.Model), contents, config)
	if err != nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("gemini generate: %w", mapAPIError(err))
	}

	text, err := extractText(response)
	if err != nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("gemini generate: %w", err)
	}

	return termsguard.LLMGenerateResponse{
		Text:  text,
		Model: response.ModelVersion,
	}, nil
}

func mapGenerateRequest(
	req termsguard.LLMGenerateRequest,
	defaults requestOptions,
) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	systemParts := make([]string, 0, len(req.Messages))
	contents := make([]*genai.Content, 0, len(req.Messages))
	for index, message := range req.Messages {
		switch message.Role {
		case termsguard.LLMMessageRoleSystem:
			systemParts = append(systemParts, message.Content)
		case termsguard.LLMMessageRoleUser, termsguard.LLMMessageRoleAssistant:
			role, roleErr := mapMessageRole(message.Role)
			if roleErr != nil {
				return nil, nil, fmt.Errorf("messages[%d] role: %w", index, roleErr)
			}
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: message.Content}},
			})
		default:
			return nil, nil, fmt.Errorf("messages[%d] role: unsupported role %q", index, message.Role)
		}
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("missing non-system messages")
	}

	config := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}
	if req.Temperature > 0 {
		temperature := float32(req.Temperature)
		config.Temperature = &temperature
	}
	if req.MaxOutputTokens > 0 {
		if req.MaxOutputTokens > math.MaxInt32 {
			return nil, nil, fmt.Errorf("max_output_tokens exceeds int32 range")
		}
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if defaults.thinkingBudget != nil || defaults.thinkingLevel != "" {
		thinking := &genai.ThinkingConfig{}
		if defaults.thinkingBudget != nil {
			budget := *defaults.thinkingBudget
			thinking.ThinkingBudget = &budget
		}
		if defaults.thinkingLevel != "" {
			thinking.ThinkingLevel = defaults.thinkingLevel
		}
		config.ThinkingConfig = thinking
	}
	if req.JSONOutput {
		config.ResponseMIMEType = responseMIMEJSON
	}

	return contents, config, nil
}

func extractText(response *genai.GenerateContentResponse) (string, error) {
	if response == nil || len(response.Candidates) == 0 {
		return "", fmt.Errorf("response has no candidates")
	}

	candidate := response.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return "", fmt.Errorf("candidate has no content")
	}

	var builder strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		builder.WriteString(part.Text)
	}

	return builder.String(), nil
}

// mapAPIError keeps the SDK error as cause and exposes its HTTP status.
func mapAPIError(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
	}
	if code == 0 {
		return err
	}

	return errors.Join(&termsguard.BackendStatusError{StatusCode: code, Body: err.Error()}, err)
}

func mapMessageRole(role termsguard.LLMMessageRole) (string, error) {
	switch role {
	case termsguard.LLMMessageRoleUser:
		return string(genai.RoleUser), nil
	case termsguard.LLMMessageRoleAssistant:
		return string(genai.RoleModel), nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

func optionsFromConfig(cfg ProviderConfig) (requestOptions, error) {
	var options requestOptions
	if cfg.ThinkingBudget != nil {
		if *cfg.ThinkingBudget < 0 {
			return requestOptions{}, fmt.Errorf("thinking_budget: must be >= 0")
		}
		if *cfg.ThinkingBudget > math.MaxInt32 {
			return requestOptions{}, fmt.Errorf("thinking_budget: must fit int32")
		}
		budget := int32(*cfg.ThinkingBudget)
		options.thinkingBudget = &budget
	}

	switch level := strings.ToLower(strings.TrimSpace(cfg.ThinkingLevel)); level {
	case "":
	case thinkingLevelLow:
		options.thinkingLevel = genai.ThinkingLevelLow
	case thinkingLevelMedium:
		options.thinkingLevel = genai.ThinkingLevelMedium
	case thinkingLevelHigh:
		options.thinkingLevel = genai.ThinkingLevelHigh
	default:
		return requestOptions{}, fmt.Errorf("thinking_level: unsupported value %q", cfg.ThinkingLevel)
	}

	if options.thinkingBudget != nil && options.thinkingLevel != "" {
		return requestOptions{}, fmt.Errorf("thinking_budget and thinking_level are mutually exclusive")
	}

	return options, nil
}

func isValidAPIVersion(raw string) bool {
	if raw == "" {
		return false
	}
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '-', '.', '_':
			continue
		default:
			return false
		}
	}
	return true
}

var _ termsguard.LLMProvider = (*Provider)(nil)
