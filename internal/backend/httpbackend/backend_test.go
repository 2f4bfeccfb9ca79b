package httpbackend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"termsguard/pkg/termsguard"
)

type recordedRequest struct {
	method string
	path   string
	body   map[string]string
}

type fakeService struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func (s *fakeService) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	recorded := recordedRequest{method: request.Method, path: request.URL.Path}
	if request.Body != nil {
		_ = json.NewDecoder(request.Body).Decode(&recorded.body)
	}
	s.mu.Lock()
	s.requests = append(s.requests, recorded)
	s.mu.Unlock()

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(s.status)
	_, _ = writer.Write([]byte(s.body))
}

func newTestBackend(t *testing.T, service *fakeService, variant Variant) *Backend {
	t.Helper()
	server := httptest.NewServer(service)
	t.Cleanup(server.Close)

	backend, err := New(Config{BaseURL: server.URL + "/", Variant: variant, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return backend
}

func TestBackendAnalyze(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		variant     Variant
		status      int
		body        string
		wantPath    string
		wantField   string
		wantSummary string
		wantKind    termsguard.AnalysisErrorKind
		wantStatus  int
	}{
		{
			name:        "envelope success",
			variant:     VariantAnalyze,
			status:      http.StatusOK,
			body:        `{"success":true,"data":{"summary":"S","risk_analysis":{"risk_level":"LOW"}}}`,
			wantPath:    "/analyze",
			wantField:   "content",
			wantSummary: "S",
		},
		{
			name:        "bare data from analyze_text",
			variant:     VariantAnalyzeText,
			status:      http.StatusOK,
			body:        `{"summary":"T","risk_analysis":{"risk_level":"HIGH"}}`,
			wantPath:    "/analyze_text",
			wantField:   "text",
			wantSummary: "T",
		},
		{
			name:      "envelope failure",
			variant:   VariantAnalyze,
			status:    http.StatusOK,
			body:      `{"success":false,"error":"content too long"}`,
			wantPath:  "/analyze",
			wantField: "content",
			wantKind:  termsguard.AnalysisErrorKindBackendFailure,
		},
		{
			name:      "malformed risk level",
			variant:   VariantAnalyze,
			status:    http.StatusOK,
			body:      `{"success":true,"data":{"summary":"S","risk_analysis":{"risk_level":"EXTREME"}}}`,
			wantPath:  "/analyze",
			wantField: "content",
			wantKind:  termsguard.AnalysisErrorKindMalformedResponse,
		},
		{
			name:       "status error",
			variant:    VariantAnalyzeURL,
			status:     http.StatusServiceUnavailable,
			body:       `{"detail":"model loading"}`,
			wantPath:   "/analyze_url",
			wantField:  "url",
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			service := &fakeService{status: testCase.status, body: testCase.body}
			backend := newTestBackend(t, service, testCase.variant)

			result, err := backend.Analyze(context.Background(), termsguard.BackendRequest{
				Content:  "terms body",
				Language: "en",
				URL:      "https://example.com/tos",
			})

			switch {
			case testCase.wantStatus != 0:
				status, ok := termsguard.AsBackendStatus(err)
				if !ok || status != testCase.wantStatus {
					t.Fatalf("status = (%d, %v), want %d (err=%v)", status, ok, testCase.wantStatus, err)
				}
			case testCase.wantKind != "":
				analysisErr, ok := termsguard.AsAnalysisError(err)
				if !ok || analysisErr.Kind != testCase.wantKind {
					t.Fatalf("error = %v, want kind %s", err, testCase.wantKind)
				}
			default:
				if err != nil {
					t.Fatalf("Analyze failed: %v", err)
				}
				if result.Summary != testCase.wantSummary {
					t.Fatalf("summary = %q, want %q", result.Summary, testCase.wantSummary)
				}
			}

			if len(service.requests) != 1 {
				t.Fatalf("requests = %d, want 1", len(service.requests))
			}
			recorded := service.requests[0]
			if recorded.method != http.MethodPost || recorded.path != testCase.wantPath {
				t.Fatalf("request = %s %s, want POST %s", recorded.method, recorded.path, testCase.wantPath)
			}
			if recorded.body[testCase.wantField] == "" {
				t.Fatalf("body %v missing field %s", recorded.body, testCase.wantField)
			}
			if recorded.body["language"] != "en" {
				t.Fatalf("language = %q, want en", recorded.body["language"])
			}
		})
	}
}

func TestBackendProbes(t *testing.T) {
	t.Parallel()

	healthy := &fakeService{status: http.StatusOK, body: `{"status":"ok"}`}
	backend := newTestBackend(t, healthy, VariantAnalyze)
	if err := backend.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if err := backend.Liveness(context.Background()); err != nil {
		t.Fatalf("Liveness failed: %v", err)
	}
	if healthy.requests[0].path != DefaultHealthPath || healthy.requests[1].path != "/" {
		t.Fatalf("probe paths = %s, %s", healthy.requests[0].path, healthy.requests[1].path)
	}

	unhealthy := &fakeService{status: http.StatusInternalServerError, body: `boom`}
	backend = newTestBackend(t, unhealthy, VariantAnalyze)
	err := backend.Health(context.Background())
	var statusErr *termsguard.BackendStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Health error = %v, want status 500", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{BaseURL: "localhost:8000/path"}); err == nil {
		t.Fatal("New accepted base url without scheme")
	}
	if _, err := New(Config{Variant: "analyze_pdf"}); err == nil {
		t.Fatal("New accepted unknown variant")
	}

	backend, err := New(Config{})
	if err != nil {
		t.Fatalf("New with defaults failed: %v", err)
	}
	if backend.Endpoint() != DefaultBaseURL {
		t.Fatalf("endpoint = %s, want %s", backend.Endpoint(), DefaultBaseURL)
	}
}
