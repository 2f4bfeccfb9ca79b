package llm

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"termsguard/pkg/termsguard"
)

// Registry maps profile keys from the llm config file to built providers.
// It is read-only after NewRegistry and safe for concurrent use.
type Registry struct {
	providers map[string]termsguard.LLMProvider
}

var errEmptyKey = errors.New("empty provider key")

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errEmptyKey
	}

	return key, nil
}

// NewRegistry copies providers, trimming keys. Blank keys, nil providers and
// keys that collide after trimming are rejected.
func NewRegistry(providers map[string]termsguard.LLMProvider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("new llm provider registry: empty providers")
	}

	registry := &Registry{providers: make(map[string]termsguard.LLMProvider, len(providers))}
	for rawKey, provider := range providers {
		key, err := normalizeKey(rawKey)
		if err != nil {
			return nil, fmt.Errorf("new llm provider registry: %w", err)
		}
		switch _, taken := registry.providers[key]; {
		case provider == nil:
			return nil, fmt.Errorf("new llm provider registry: provider %s is nil", key)
		case taken:
			return nil, fmt.Errorf("new llm provider registry: duplicate provider key %s", key)
		}
		registry.providers[key] = provider
	}

	return registry, nil
}

// Keys lists the configured profile keys in sorted order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(r.providers))
}

// Resolve returns the provider configured under key.
func (r *Registry) Resolve(key string) (termsguard.LLMProvider, error) {
	if r == nil {
		return nil, fmt.Errorf("resolve llm provider: nil registry")
	}

	normalized, err := normalizeKey(key)
	if err != nil {
		return nil, fmt.Errorf("resolve llm provider: %w", err)
	}
	if provider, ok := r.providers[normalized]; ok {
		return provider, nil
	}

	return nil, fmt.Errorf(
		"resolve llm provider: provider %s is not configured (have %s)",
		normalized,
		strings.Join(r.Keys(), ", "),
	)
}

var _ termsguard.LLMProviderRegistry = (*Registry)(nil)
