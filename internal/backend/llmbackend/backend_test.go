package llmbackend

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"termsguard/pkg/termsguard"
)

func TestBackendAnalyze(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		err         error
		wantSummary string
		wantLevel   termsguard.RiskLevel
		wantKind    termsguard.AnalysisErrorKind
		wantStatus  int
	}{
		{
			name:        "plain json",
			text:        `{"summary":"Sells data.","risk_level":"high","key_points":["data sale"]}`,
			wantSummary: "Sells data.",
			wantLevel:   termsguard.RiskLevelHigh,
		},
		{
			name:        "fenced json",
			text:        "```json\n{\"summary\":\"Fine.\",\"risk_level\":\"VERY_LOW\"}\n```",
			wantSummary: "Fine.",
			wantLevel:   termsguard.RiskLevelVeryLow,
		},
		{
			name:        "prose around json and no level",
			text:        "Here you go: {\"summary\":\"Okay.\"} Hope it helps.",
			wantSummary: "Okay.",
			wantLevel:   termsguard.RiskLevelUnknown,
		},
		{
			name:     "not json",
			text:     "I cannot help with that.",
			wantKind: termsguard.AnalysisErrorKindMalformedResponse,
		},
		{
			name:     "missing summary",
			text:     `{"risk_level":"LOW"}`,
			wantKind: termsguard.AnalysisErrorKindMalformedResponse,
		},
		{
			name:     "invalid level",
			text:     `{"summary":"x","risk_level":"catastrophic"}`,
			wantKind: termsguard.AnalysisErrorKindMalformedResponse,
		},
		{
			name:       "provider status",
			err:        errors.Join(&termsguard.BackendStatusError{StatusCode: http.StatusTooManyRequests}, errors.New("quota")),
			wantStatus: http.StatusTooManyRequests,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			provider := &providerStub{text: testCase.text, err: testCase.err}
			backend, err := New(Config{Provider: provider, ProviderName: "openai-main", Model: "gpt-5-mini", MaxInputChars: 20})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			result, err := backend.Analyze(context.Background(), termsguard.BackendRequest{
				Content:  strings.Repeat("a", 100),
				Language: "de",
				URL:      "https://example.com/terms",
			})

			if provider.last.Model != "gpt-5-mini" || !provider.last.JSONOutput {
				t.Fatalf("request = %+v, want model and json output", provider.last)
			}
			userPrompt := provider.last.Messages[1].Content
			if !strings.Contains(userPrompt, "Language: de") || strings.Contains(userPrompt, strings.Repeat("a", 21)) {
				t.Fatalf("user prompt = %q, want language and truncated document", userPrompt)
			}

			switch {
			case testCase.wantStatus != 0:
				status, ok := termsguard.AsBackendStatus(err)
				if !ok || status != testCase.wantStatus {
					t.Fatalf("status = (%d, %v), want %d", status, ok, testCase.wantStatus)
				}
			case testCase.wantKind != "":
				if termsguard.AnalysisErrorKindOf(err) != testCase.wantKind {
					t.Fatalf("error = %v, want kind %s", err, testCase.wantKind)
				}
			default:
				if err != nil {
					t.Fatalf("Analyze failed: %v", err)
				}
				if result.Summary != testCase.wantSummary {
					t.Fatalf("summary = %q, want %q", result.Summary, testCase.wantSummary)
				}
				if result.RiskLevel() != testCase.wantLevel {
					t.Fatalf("risk level = %s, want %s", result.RiskLevel(), testCase.wantLevel)
				}
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Model: "m"}); err == nil {
		t.Fatal("expected error for nil provider")
	}
	if _, err := New(Config{Provider: &providerStub{}}); err == nil {
		t.Fatal("expected error for missing model")
	}

	backend, err := New(Config{Provider: &providerStub{}, Model: "m"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if backend.Endpoint() != "llm://default/m" {
		t.Fatalf("endpoint = %s, want llm://default/m", backend.Endpoint())
	}
	if err := backend.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

type providerStub struct {
	text string
	err  error
	last termsguard.LLMGenerateRequest
}

func (s *providerStub) Generate(
	_ context.Context,
	req termsguard.LLMGenerateRequest,
) (termsguard.LLMGenerateResponse, error) {
	s.last = req
	if s.err != nil {
		return termsguard.LLMGenerateResponse{}, s.err
	}

	return termsguard.LLMGenerateResponse{Text: s.text}, nil
}
