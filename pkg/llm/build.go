package llm

import (
	"fmt"
	"net/http"

	"termsguard/pkg/llm/config"
	"termsguard/pkg/llm/providers/gemini"
	"termsguard/pkg/llm/providers/openai"
	"termsguard/pkg/termsguard"
)

// BuildRegistry constructs one provider per configured profile.
//
// httpClient is shared by all providers; nil keeps each SDK default.
func BuildRegistry(cfg config.Config, httpClient *http.Client) (*Registry, error) {
	providers := make(map[string]termsguard.LLMProvider, len(cfg.Providers))
	for key, profile := range cfg.Providers {
		provider, err := buildProvider(profile, httpClient)
		if err != nil {
			return nil, fmt.Errorf("build llm provider %s: %w", key, err)
		}
		providers[key] = provider
	}

	return NewRegistry(providers)
}

func buildProvider(profile config.ProviderProfile, httpClient *http.Client) (termsguard.LLMProvider, error) {
	switch profile.Type {
	case config.ProviderTypeOpenAI:
		providerCfg := openai.ProviderConfig{
			APIKey:     profile.APIKey,
			BaseURL:    profile.BaseURL,
			HTTPClient: httpClient,
		}
		if profile.OpenAI != nil {
			providerCfg.Organization = profile.OpenAI.Organization
			providerCfg.Project = profile.OpenAI.Project
			providerCfg.MaxRetries = profile.OpenAI.MaxRetries
			providerCfg.ReasoningEffort = profile.OpenAI.ReasoningEffort
		}
		return openai.New(providerCfg)
	case config.ProviderTypeGemini:
		providerCfg := gemini.ProviderConfig{
			APIKey:     profile.APIKey,
			BaseURL:    profile.BaseURL,
			HTTPClient: httpClient,
		}
		if profile.Gemini != nil {
			providerCfg.APIVersion = profile.Gemini.APIVersion
			providerCfg.ThinkingBudget = profile.Gemini.ThinkingBudget
			providerCfg.ThinkingLevel = profile.Gemini.ThinkingLevel
		}
		return gemini.New(providerCfg)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", profile.Type)
	}
}
