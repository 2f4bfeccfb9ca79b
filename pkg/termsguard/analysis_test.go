package termsguard

import (
	"encoding/json"
	"testing"
)

func TestDecodeAnalysisResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		payload     string
		wantErr     bool
		wantSummary string
		wantLevel   RiskLevel
	}{
		{
			name:        "complete payload",
			payload:     `{"summary":"S","risk_analysis":{"risk_level":"LOW"}}`,
			wantSummary: "S",
			wantLevel:   RiskLevelLow,
		},
		{
			name:        "lowercase underscore level is normalized",
			payload:     `{"summary":"S","risk_analysis":{"risk_level":"very_low"}}`,
			wantSummary: "S",
			wantLevel:   RiskLevelVeryLow,
		},
		{
			name:        "missing summary falls back",
			payload:     `{"risk_analysis":{"risk_level":"HIGH"}}`,
			wantSummary: FallbackSummary,
			wantLevel:   RiskLevelHigh,
		},
		{
			name:        "missing risk analysis is unknown",
			payload:     `{"summary":"S"}`,
			wantSummary: "S",
			wantLevel:   RiskLevelUnknown,
		},
		{name: "array payload", payload: `[{"summary":"S"}]`, wantErr: true},
		{name: "null payload", payload: `null`, wantErr: true},
		{name: "summary not a string", payload: `{"summary":42}`, wantErr: true},
		{name: "risk analysis not an object", payload: `{"summary":"S","risk_analysis":"HIGH"}`, wantErr: true},
		{name: "unsupported risk level", payload: `{"summary":"S","risk_analysis":{"risk_level":"CATASTROPHIC"}}`, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result, err := DecodeAnalysisResult([]byte(testCase.payload))
			if testCase.wantErr {
				if err == nil {
					t.Fatalf("DecodeAnalysisResult(%s) error = nil, want error", testCase.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeAnalysisResult(%s) error = %v", testCase.payload, err)
			}
			if result.Summary != testCase.wantSummary {
				t.Fatalf("summary = %q, want %q", result.Summary, testCase.wantSummary)
			}
			if result.RiskLevel() != testCase.wantLevel {
				t.Fatalf("risk level = %q, want %q", result.RiskLevel(), testCase.wantLevel)
			}
		})
	}
}

// TestAnalysisResultPreservesUnknownFields verifies results are stored and returned verbatim.
func TestAnalysisResultPreservesUnknownFields(t *testing.T) {
	t.Parallel()

	payload := `{"summary":"S","key_points":["a","b"],"risk_analysis":{"risk_level":"MEDIUM","risk_score":4}}`
	result, err := DecodeAnalysisResult([]byte(payload))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["key_points"]; !ok {
		t.Fatalf("key_points missing from %s", encoded)
	}
	risk, ok := decoded["risk_analysis"].(map[string]any)
	if !ok {
		t.Fatalf("risk_analysis = %T, want object", decoded["risk_analysis"])
	}
	if risk["risk_score"] != float64(4) {
		t.Fatalf("risk_score = %v, want 4", risk["risk_score"])
	}
	if risk["risk_level"] != "MEDIUM" {
		t.Fatalf("risk_level = %v, want MEDIUM", risk["risk_level"])
	}

	var roundTrip AnalysisResult
	if err := json.Unmarshal(encoded, &roundTrip); err != nil {
		t.Fatalf("round trip unmarshal failed: %v", err)
	}
	if roundTrip.Summary != "S" || roundTrip.RiskLevel() != RiskLevelMedium {
		t.Fatalf("round trip = %+v, want summary S level MEDIUM", roundTrip)
	}
}

func TestZeroAnalysisResultMarshalsUnknownLevel(t *testing.T) {
	t.Parallel()

	encoded, err := json.Marshal(AnalysisResult{Summary: "only summary"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"risk_analysis":{"risk_level":"UNKNOWN"},"summary":"only summary"}`
	if string(encoded) != want {
		t.Fatalf("encoded = %s, want %s", encoded, want)
	}
}
