package termsguard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RiskLevel is the backend-assigned risk grade of analyzed terms.
type RiskLevel string

const (
	RiskLevelVeryLow RiskLevel = "VERY LOW"
	RiskLevelLow     RiskLevel = "LOW"
	RiskLevelMedium  RiskLevel = "MEDIUM"
	RiskLevelHigh    RiskLevel = "HIGH"
	RiskLevelUnknown RiskLevel = "UNKNOWN"
)

// FallbackSummary replaces an empty backend summary in user-facing output.
const FallbackSummary = "No summary was returned by the analysis backend."

// ParseRiskLevel normalizes one backend risk token.
func ParseRiskLevel(raw string) (RiskLevel, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "_", " ")
	switch RiskLevel(normalized) {
	case RiskLevelVeryLow, RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelUnknown:
		return RiskLevel(normalized), nil
	case "":
		return RiskLevelUnknown, nil
	default:
		return "", fmt.Errorf("unsupported risk level %q", raw)
	}
}

// IsElevated reports whether the level counts as a found risk.
func (l RiskLevel) IsElevated() bool {
	return l == RiskLevelHigh || l == RiskLevelMedium
}

// AnalysisRequest is one request to analyze a terms document.
type AnalysisRequest struct {
	// Content is the extracted document text.
	Content string
	// URL is the page the content was extracted from.
	URL string
	// Language is the requested output language tag.
	Language string
	// ContentHash is the optional caller-computed content fingerprint.
	ContentHash string
	// Metadata carries free-form request annotations stored with cache entries.
	Metadata map[string]string
	// TabID identifies the requesting tab for result delivery.
	TabID string
	// Action records which message action triggered the request.
	Action string
}

// RiskAnalysis is the risk section of an analysis result.
//
// Fields other than risk_level are preserved verbatim in Raw.
type RiskAnalysis struct {
	RiskLevel RiskLevel
	Raw       json.RawMessage
}

// MarshalJSON emits the preserved fields with the validated risk level.
func (r RiskAnalysis) MarshalJSON() ([]byte, error) {
	fields, err := decodeObject(r.Raw)
	if err != nil {
		return nil, fmt.Errorf("marshal risk analysis: %w", err)
	}
	level := r.RiskLevel
	if level == "" {
		level = RiskLevelUnknown
	}
	encoded, err := json.Marshal(level)
	if err != nil {
		return nil, fmt.Errorf("marshal risk level: %w", err)
	}
	fields["risk_level"] = encoded

	return json.Marshal(fields)
}

// UnmarshalJSON validates the risk section.
func (r *RiskAnalysis) UnmarshalJSON(data []byte) error {
	parsed, err := parseRiskAnalysis(data)
	if err != nil {
		return err
	}
	*r = parsed

	return nil
}

// AnalysisResult is one validated backend analysis.
//
// Unknown top-level fields are preserved verbatim in Raw.
type AnalysisResult struct {
	Summary      string
	RiskAnalysis RiskAnalysis
	Raw          json.RawMessage
}

// DecodeAnalysisResult validates one backend data object.
func DecodeAnalysisResult(data []byte) (AnalysisResult, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return AnalysisResult{}, fmt.Errorf("analysis result: empty payload")
	}
	fields, err := decodeObject(data)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("analysis result: %w", err)
	}

	result := AnalysisResult{Raw: append(json.RawMessage(nil), data...)}
	if rawSummary, ok := fields["summary"]; ok && !isJSONNull(rawSummary) {
		if err := json.Unmarshal(rawSummary, &result.Summary); err != nil {
			return AnalysisResult{}, fmt.Errorf("analysis result summary: not a string")
		}
	}
	if strings.TrimSpace(result.Summary) == "" {
		result.Summary = FallbackSummary
	}

	result.RiskAnalysis = RiskAnalysis{RiskLevel: RiskLevelUnknown}
	if rawRisk, ok := fields["risk_analysis"]; ok && !isJSONNull(rawRisk) {
		risk, err := parseRiskAnalysis(rawRisk)
		if err != nil {
			return AnalysisResult{}, fmt.Errorf("analysis result: %w", err)
		}
		result.RiskAnalysis = risk
	}

	return result, nil
}

// MarshalJSON emits preserved fields plus the validated summary and risk section.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	fields, err := decodeObject(r.Raw)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis result: %w", err)
	}
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	risk, err := json.Marshal(r.RiskAnalysis)
	if err != nil {
		return nil, err
	}
	fields["summary"] = summary
	fields["risk_analysis"] = risk

	return json.Marshal(fields)
}

// UnmarshalJSON validates one stored or received result.
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	parsed, err := DecodeAnalysisResult(data)
	if err != nil {
		return err
	}
	*r = parsed

	return nil
}

// RiskLevel returns the validated risk grade.
func (r AnalysisResult) RiskLevel() RiskLevel {
	if r.RiskAnalysis.RiskLevel == "" {
		return RiskLevelUnknown
	}

	return r.RiskAnalysis.RiskLevel
}

func parseRiskAnalysis(data []byte) (RiskAnalysis, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return RiskAnalysis{}, fmt.Errorf("risk_analysis: %w", err)
	}

	risk := RiskAnalysis{
		RiskLevel: RiskLevelUnknown,
		Raw:       append(json.RawMessage(nil), data...),
	}
	rawLevel, ok := fields["risk_level"]
	if !ok || isJSONNull(rawLevel) {
		return risk, nil
	}

	var token string
	if err := json.Unmarshal(rawLevel, &token); err != nil {
		return RiskAnalysis{}, fmt.Errorf("risk_analysis.risk_level: not a string")
	}
	level, err := ParseRiskLevel(token)
	if err != nil {
		return RiskAnalysis{}, fmt.Errorf("risk_analysis.risk_level: %w", err)
	}
	risk.RiskLevel = level

	return risk, nil
}

// decodeObject returns the fields of a JSON object. Empty input yields an empty map.
func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return make(map[string]json.RawMessage), nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("expected JSON object")
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("decode JSON object: %w", err)
	}

	return fields, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// AnalysisOutcome is the dispatcher reply for one accepted analysis request.
type AnalysisOutcome struct {
	Result      AnalysisResult
	Cached      bool
	CacheKey    string
	ContentHash string
	URL         string
	Domain      string
	AnalyzedAt  time.Time
	AccessCount int
}

// HistoryEntry is one record of the bounded analysis history.
type HistoryEntry struct {
	ID           string       `json:"id"`
	Timestamp    time.Time    `json:"timestamp"`
	URL          string       `json:"url"`
	Domain       string       `json:"domain"`
	Summary      string       `json:"summary"`
	RiskAnalysis RiskAnalysis `json:"risk_analysis"`
	ProcessedAt  time.Time    `json:"processed_at"`
}

// CacheStats summarizes the analysis cache.
type CacheStats struct {
	TotalEntries       int        `json:"total_entries"`
	TotalSizeBytes     int64      `json:"total_size_bytes"`
	AvgAccessCount     float64    `json:"avg_access_count"`
	UtilizationPercent float64    `json:"utilization_percent"`
	MaxEntries         int        `json:"max_entries"`
	OldestEntry        *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry        *time.Time `json:"newest_entry,omitempty"`
}

// Backend connectivity states reported by BackendStatus.
const (
	BackendStateConnected    = "connected"
	BackendStateDisconnected = "disconnected"
)

// BackendStatus reports analysis backend reachability.
type BackendStatus struct {
	Status     string    `json:"status"`
	BackendURL string    `json:"backend_url"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// UsageStats counts user-visible analysis activity.
type UsageStats struct {
	TermsAnalyzed int `json:"terms_analyzed"`
	RisksFound    int `json:"risks_found"`
	TimeSaved     int `json:"time_saved"`
	CacheHits     int `json:"cache_hits"`
}
