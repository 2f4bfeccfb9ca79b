package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"termsguard/pkg/termsguard"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

// ProviderConfig configures one OpenAI-backed provider instance.
type ProviderConfig struct {
	// APIKey is the credential used to authenticate requests.
	APIKey string
	// BaseURL optionally overrides the OpenAI endpoint.
	BaseURL string
	// Organization optionally sets the OpenAI organization header.
	Organization string
	// Project optionally sets the OpenAI project header.
	Project string
	// MaxRetries optionally overrides the SDK retry count.
	//
	// Nil keeps the SDK default behavior.
	MaxRetries *int
	// ReasoningEffort optionally sets reasoning effort for reasoning models.
	ReasoningEffort string
	// HTTPClient optionally replaces the SDK transport client.
	HTTPClient *http.Client
}

// Provider is a termsguard LLM provider backed by the OpenAI Responses API.
type Provider struct {
	responses openAIResponsesClient
	effort    shared.ReasoningEffort
}

type openAIResponsesClient interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// New builds one OpenAI Responses API provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	normalized, err := normalizeProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new openai provider: %w", err)
	}
	effort, err := normalizeOpenAIReasoningEffort(normalized.ReasoningEffort)
	if err != nil {
		return nil, fmt.Errorf("new openai provider reasoning_effort: %w", err)
	}

	options := make([]option.RequestOption, 0, 6)
	options = append(options, option.WithAPIKey(normalized.APIKey))
	if normalized.BaseURL != "" {
		options = append(options, option.WithBaseURL(normalized.BaseURL))
	}
	if normalized.Organization != "" {
		options = append(options, option.WithOrganization(normalized.Organization))
	}
	if normalized.Project != "" {
		options = append(options, option.WithProject(normalized.Project))
	}
	if normalized.MaxRetries != nil {
		options = append(options, option.WithMaxRetries(*normalized.MaxRetries))
	}
	if normalized.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(normalized.HTTPClient))
	}

	client := openai.NewClient(options...)

	return &Provider{
		responses: &client.Responses,
		effort:    effort,
	}, nil
}

// Generate runs one non-streaming Responses API request.
func (p *Provider) Generate(
	ctx context.Context,
	req termsguard.LLMGenerateRequest,
) (termsguard.LLMGenerateResponse, error) {
	if p == nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("openai generate: nil provider")
	}
	if ctx == nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("openai generate: nil context")
	}
	if p.responses == nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("openai generate: responses client is nil")
	}
	if err := req.Validate(); err != nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("openai generate validate request: %w", err)
	}

	params, err := mapGenerateRequest(req, p.effort)
	if err != nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("openai generate map request: %w", err)
	}

	response, err := p.responses.New(ctx, params)
	if err != nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("openai generate: %w", mapAPIError(err))
	}
	if response == nil {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf("openai generate: empty response")
	}
	if response.Error.Message != "" {
		return termsguard.LLMGenerateResponse{}, fmt.Errorf(
			"openai generate: response failed: %s %s",
			response.Error.Code,
			response.Error.Message,
		)
	}

	return termsguard.LLMGenerateResponse{
		Text:  response.OutputText(),
		Model: string(response.Model),
	}, nil
}

func mapGenerateRequest(
	req termsguard.LLMGenerateRequest,
	effort shared.ReasoningEffort,
) (responses.ResponseNewParams, error) {
	items := make(responses.ResponseInputParam, 0, len(req.Messages))
	for index, message := range req.Messages {
		role, err := mapMessageRole(message.Role)
		if err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("messages[%d] role: %w", index, err)
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(message.Content, role))
	}

	params := responses.ResponseNewParams{
		Model: strings.TrimSpace(req.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if effort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.JSONOutput {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
		}
	}

	return params, nil
}

// mapAPIError keeps the SDK error as cause and exposes its HTTP status.
func mapAPIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode == 0 {
		return err
	}

	return errors.Join(&termsguard.BackendStatusError{
		StatusCode: apiErr.StatusCode,
		Body:       apiErr.Message,
	}, err)
}

func normalizeOpenAIReasoningEffort(raw string) (shared.ReasoningEffort, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case string(shared.ReasoningEffortNone):
		return shared.ReasoningEffortNone, nil
	case string(shared.ReasoningEffortMinimal):
		return shared.ReasoningEffortMinimal, nil
	case string(shared.ReasoningEffortLow):
		return shared.ReasoningEffortLow, nil
	case string(shared.ReasoningEffortMedium):
		return shared.ReasoningEffortMedium, nil
	case string(shared.ReasoningEffortHigh):
		return shared.ReasoningEffortHigh, nil
	default:
		return "", fmt.Errorf("unsupported value %q", raw)
	}
}

func mapMessageRole(role termsguard.LLMMessageRole) (responses.EasyInputMessageRole, error) {
	switch role {
	case termsguard.LLMMessageRoleSystem:
		return responses.EasyInputMessageRoleSystem, nil
	case termsguard.LLMMessageRoleUser:
		return responses.EasyInputMessageRoleUser, nil
	case termsguard.LLMMessageRoleAssistant:
		return responses.EasyInputMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

func normalizeProviderConfig(cfg ProviderConfig) (ProviderConfig, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Organization = strings.TrimSpace(cfg.Organization)
	cfg.Project = strings.TrimSpace(cfg.Project)

	if cfg.APIKey == "" {
		return ProviderConfig{}, fmt.Errorf("missing api_key")
	}
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return ProviderConfig{}, fmt.Errorf("parse base_url: must include scheme and host")
		}
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		return ProviderConfig{}, fmt.Errorf("max_retries must be >= 0")
	}

	return cfg, nil
}

var _ termsguard.LLMProvider = (*Provider)(nil)
