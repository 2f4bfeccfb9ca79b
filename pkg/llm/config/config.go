// Package config parses LLM provider profiles from the application config file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"unicode"
)

const (
	// ProviderTypeOpenAI selects the OpenAI Responses API provider.
	ProviderTypeOpenAI = "openai"
	// ProviderTypeGemini selects the Gemini Developer API provider.
	ProviderTypeGemini = "gemini"

	defaultGeminiAPIVersion = "v1beta"

	envSecretPrefix = "env:"
)

// Config is the validated provider profile set.
type Config struct {
	// Providers contains provider profiles keyed by profile name.
	Providers map[string]ProviderProfile
}

// ProviderProfile describes one named provider profile.
type ProviderProfile struct {
	// Type identifies provider implementation kind.
	Type string
	// APIKey is the provider credential, already resolved from env references.
	APIKey string
	// BaseURL optionally overrides provider API endpoint.
	BaseURL string
	// OpenAI carries OpenAI-specific options.
	OpenAI *OpenAIOptions
	// Gemini carries Gemini-specific options.
	Gemini *GeminiOptions
}

// OpenAIOptions carries OpenAI-specific profile options.
type OpenAIOptions struct {
	Organization    string
	Project         string
	MaxRetries      *int
	ReasoningEffort string
}

// GeminiOptions carries Gemini-specific profile options.
type GeminiOptions struct {
	// APIVersion selects the Gemini Developer API version.
	APIVersion string
	// ThinkingBudget and ThinkingLevel are mutually exclusive.
	ThinkingBudget *int
	ThinkingLevel  string
}

// File is the raw `llm` section as it appears in JSON or YAML config files.
type File struct {
	Providers map[string]FileProvider `json:"providers" yaml:"providers"`
}

// FileProvider is one raw provider profile entry.
type FileProvider struct {
	Type    string      `json:"type" yaml:"type"`
	APIKey  string      `json:"api_key" yaml:"api_key"`
	BaseURL string      `json:"base_url" yaml:"base_url"`
	OpenAI  *FileOpenAI `json:"openai,omitempty" yaml:"openai,omitempty"`
	Gemini  *FileGemini `json:"gemini,omitempty" yaml:"gemini,omitempty"`
}

// FileOpenAI is the raw OpenAI option block.
type FileOpenAI struct {
	Organization    string `json:"organization" yaml:"organization"`
	Project         string `json:"project" yaml:"project"`
	MaxRetries      *int   `json:"max_retries" yaml:"max_retries"`
	ReasoningEffort string `json:"reasoning_effort" yaml:"reasoning_effort"`
}

// FileGemini is the raw Gemini option block.
type FileGemini struct {
	APIVersion     string `json:"api_version" yaml:"api_version"`
	ThinkingBudget *int   `json:"thinking_budget" yaml:"thinking_budget"`
	ThinkingLevel  string `json:"thinking_level" yaml:"thinking_level"`
}

// LookupEnv reads one environment variable.
type LookupEnv func(name string) (string, bool)

// Parse validates raw provider entries and resolves `env:NAME` secrets.
//
// A nil lookup uses os.LookupEnv.
func Parse(raw File, lookup LookupEnv) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Config{Providers: make(map[string]ProviderProfile, len(raw.Providers))}
	for key, entry := range raw.Providers {
		profileKey := strings.TrimSpace(key)
		if profileKey == "" {
			return Config{}, fmt.Errorf("parse llm config providers: empty provider key")
		}
		if _, exists := cfg.Providers[profileKey]; exists {
			return Config{}, fmt.Errorf("parse llm config providers: duplicate provider key %s", profileKey)
		}

		profile, err := parseProviderProfile(entry, lookup)
		if err != nil {
			return Config{}, fmt.Errorf("parse llm config providers[%s]: %w", profileKey, err)
		}
		cfg.Providers[profileKey] = profile
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration coherence. An empty provider set is valid.
func (cfg Config) Validate() error {
	for key, profile := range cfg.Providers {
		if err := validateProviderProfile(profile); err != nil {
			return fmt.Errorf("validate llm config providers[%s]: %w", key, err)
		}
	}

	return nil
}

// ResolveSecret returns raw, or the named environment variable for `env:NAME` references.
func ResolveSecret(raw string, lookup LookupEnv) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, envSecretPrefix) {
		return trimmed, nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}

	name := strings.TrimSpace(strings.TrimPrefix(trimmed, envSecretPrefix))
	if name == "" {
		return "", fmt.Errorf("empty environment variable name")
	}
	value, ok := lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}

	return strings.TrimSpace(value), nil
}

func parseProviderProfile(raw FileProvider, lookup LookupEnv) (ProviderProfile, error) {
	apiKey, err := ResolveSecret(raw.APIKey, lookup)
	if err != nil {
		return ProviderProfile{}, fmt.Errorf("api_key: %w", err)
	}

	profile := ProviderProfile{
		Type:    strings.ToLower(strings.TrimSpace(raw.Type)),
		APIKey:  apiKey,
		BaseURL: strings.TrimSpace(raw.BaseURL),
	}
	if raw.OpenAI != nil {
		profile.OpenAI = &OpenAIOptions{
			Organization:    strings.TrimSpace(raw.OpenAI.Organization),
			Project:         strings.TrimSpace(raw.OpenAI.Project),
			MaxRetries:      cloneIntPointer(raw.OpenAI.MaxRetries),
			ReasoningEffort: strings.ToLower(strings.TrimSpace(raw.OpenAI.ReasoningEffort)),
		}
	}
	if raw.Gemini != nil {
		profile.Gemini = &GeminiOptions{
			APIVersion:     strings.TrimSpace(raw.Gemini.APIVersion),
			ThinkingBudget: cloneIntPointer(raw.Gemini.ThinkingBudget),
			ThinkingLevel:  strings.ToLower(strings.TrimSpace(raw.Gemini.ThinkingLevel)),
		}
	}
	if profile.Type == ProviderTypeGemini {
		if profile.Gemini == nil {
			profile.Gemini = &GeminiOptions{}
		}
		if profile.Gemini.APIVersion == "" {
			profile.Gemini.APIVersion = defaultGeminiAPIVersion
		}
	}

	return profile, nil
}

func validateProviderProfile(profile ProviderProfile) error {
	switch profile.Type {
	case "":
		return fmt.Errorf("missing type")
	case ProviderTypeOpenAI:
		if profile.Gemini != nil {
			return fmt.Errorf("gemini options are only supported for gemini providers")
		}
		if profile.OpenAI != nil && profile.OpenAI.MaxRetries != nil && *profile.OpenAI.MaxRetries < 0 {
			return fmt.Errorf("invalid openai options: max_retries must be >= 0")
		}
	case ProviderTypeGemini:
		if profile.OpenAI != nil {
			return fmt.Errorf("openai options are only supported for openai providers")
		}
		if err := validateGeminiOptions(profile.Gemini); err != nil {
			return fmt.Errorf("invalid gemini options: %w", err)
		}
	default:
		return fmt.Errorf("unsupported type %q", profile.Type)
	}

	if profile.APIKey == "" {
		return fmt.Errorf("missing api_key")
	}
	if profile.BaseURL != "" {
		parsed, err := url.Parse(profile.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid base_url: must include scheme and host")
		}
	}

	return nil
}

func validateGeminiOptions(options *GeminiOptions) error {
	if options == nil {
		return nil
	}
	if !isValidAPIVersion(options.APIVersion) {
		return fmt.Errorf("invalid api_version %q", options.APIVersion)
	}
	if options.ThinkingBudget != nil && *options.ThinkingBudget < 0 {
		return fmt.Errorf("thinking_budget must be >= 0")
	}
	switch options.ThinkingLevel {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("unsupported thinking_level %q", options.ThinkingLevel)
	}
	if options.ThinkingBudget != nil && options.ThinkingLevel != "" {
		return fmt.Errorf("thinking_budget and thinking_level are mutually exclusive")
	}

	return nil
}

func isValidAPIVersion(raw string) bool {
	if strings.TrimSpace(raw) == "" {
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

func cloneIntPointer(value *int) *int {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}
