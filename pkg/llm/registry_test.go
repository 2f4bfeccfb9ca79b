package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"termsguard/pkg/llm/config"
	"termsguard/pkg/termsguard"
)

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	provider := &providerStub{}
	registry, err := NewRegistry(map[string]termsguard.LLMProvider{
		"openai-main": provider,
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	tests := []struct {
		name             string
		key              string
		wantErrSubstring string
	}{
		{name: "known provider", key: " openai-main "},
		{name: "unknown provider", key: "missing", wantErrSubstring: "provider missing is not configured (have openai-main)"},
		{name: "empty provider key", key: "   ", wantErrSubstring: "empty provider key"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			resolved, err := registry.Resolve(testCase.key)
			if testCase.wantErrSubstring != "" {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if resolved != provider {
				t.Fatal("resolved provider pointer mismatch")
			}
		})
	}
}

func TestNewRegistryRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("expected error for empty providers")
	}
	if _, err := NewRegistry(map[string]termsguard.LLMProvider{"x": nil}); err == nil {
		t.Fatal("expected error for nil provider")
	}
	_, err := NewRegistry(map[string]termsguard.LLMProvider{
		"main":   &providerStub{},
		" main ": &providerStub{},
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate provider key main") {
		t.Fatalf("NewRegistry() error = %v, want duplicate key after trimming", err)
	}
}

func TestBuildRegistry(t *testing.T) {
	t.Parallel()

	registry, err := BuildRegistry(config.Config{Providers: map[string]config.ProviderProfile{
		"openai-main": {Type: config.ProviderTypeOpenAI, APIKey: "sk-test"},
		"gemini-main": {
			Type:   config.ProviderTypeGemini,
			APIKey: "gm-test",
			Gemini: &config.GeminiOptions{APIVersion: "v1beta"},
		},
	}}, nil)
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}
	for _, key := range []string{"openai-main", "gemini-main"} {
		if _, err := registry.Resolve(key); err != nil {
			t.Fatalf("Resolve(%s) failed: %v", key, err)
		}
	}
	if diff := cmp.Diff([]string{"gemini-main", "openai-main"}, registry.Keys()); diff != "" {
		t.Fatalf("Keys() mismatch (-want +got):\n%s", diff)
	}

	_, err = BuildRegistry(config.Config{Providers: map[string]config.ProviderProfile{
		"bad": {Type: "other", APIKey: "k"},
	}}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported provider type")
	}
}

type providerStub struct{}

func (*providerStub) Generate(context.Context, termsguard.LLMGenerateRequest) (termsguard.LLMGenerateResponse, error) {
	return termsguard.LLMGenerateResponse{}, nil
}
