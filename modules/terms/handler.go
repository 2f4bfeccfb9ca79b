package terms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"termsguard/pkg/termsguard"
)

// analyzePayload is the action-specific body of analysis messages.
//
// Older content scripts send the document as text instead of content.
type analyzePayload struct {
	Content     string         `json:"content"`
	Text        string         `json:"text"`
	URL         string         `json:"url"`
	Language    string         `json:"language"`
	ContentHash string         `json:"contentHash"`
	Metadata    map[string]any `json:"metadata"`
}

type urlPayload struct {
	URL string `json:"url"`
}

// quickSummaryReply is the quickSummary payload.
type quickSummaryReply struct {
	Summary   string               `json:"summary"`
	RiskLevel termsguard.RiskLevel `json:"risk_level"`
}

type clearCacheReply struct {
	Message string `json:"message"`
}

func (m *Module) handleAnalyze(ctx context.Context, message *termsguard.Message) (termsguard.Response, error) {
	outcome, err := m.analyze(ctx, message)
	if err != nil {
		return termsguard.Response{}, err
	}

	response := termsguard.OK(outcome.Result)
	response.Cached = outcome.Cached

	return response, nil
}

func (m *Module) handleQuickSummary(ctx context.Context, message *termsguard.Message) (termsguard.Response, error) {
	outcome, err := m.analyze(ctx, message)
	if err != nil {
		return termsguard.Response{}, err
	}

	response := termsguard.OK(quickSummaryReply{
		Summary:   outcome.Result.Summary,
		RiskLevel: outcome.Result.RiskLevel(),
	})
	response.Cached = outcome.Cached

	return response, nil
}

func (m *Module) analyze(ctx context.Context, message *termsguard.Message) (termsguard.AnalysisOutcome, error) {
	if m.analyzer == nil {
		return termsguard.AnalysisOutcome{}, fmt.Errorf("terms analyze: analyzer not configured")
	}

	var payload analyzePayload
	if err := message.Decode(&payload); err != nil {
		return termsguard.AnalysisOutcome{}, termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindInvalidRequest,
			"Invalid %s request: %v",
			message.Action,
			err,
		)
	}

	content := payload.Content
	if strings.TrimSpace(content) == "" {
		content = payload.Text
	}

	return m.analyzer.HandleAnalysisRequest(ctx, termsguard.AnalysisRequest{
		Content:     content,
		URL:         strings.TrimSpace(payload.URL),
		Language:    payload.Language,
		ContentHash: strings.TrimSpace(payload.ContentHash),
		Metadata:    flattenMetadata(payload.Metadata),
		TabID:       message.TabID,
		Action:      message.Action,
	})
}

// flattenMetadata keeps string values as sent and encodes every other value
// (wordCount and similar numbers, flags, nested objects) as compact JSON.
func flattenMetadata(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}

	flat := make(map[string]string, len(raw))
	for key, value := range raw {
		if text, ok := value.(string); ok {
			flat[key] = text
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			flat[key] = fmt.Sprint(value)
			continue
		}
		flat[key] = string(encoded)
	}

	return flat
}

func (m *Module) handleGetAnalysisData(ctx context.Context, message *termsguard.Message) (termsguard.Response, error) {
	if m.history == nil {
		return termsguard.Response{}, fmt.Errorf("terms get analysis data: history not configured")
	}

	var payload urlPayload
	if err := message.Decode(&payload); err != nil {
		return termsguard.Response{}, err
	}

	var (
		entry termsguard.HistoryEntry
		found bool
		err   error
	)
	if url := strings.TrimSpace(payload.URL); url != "" {
		entry, found, err = m.history.FindByURL(ctx, url)
	} else {
		entry, found, err = m.history.Latest(ctx)
	}
	if err != nil {
		return termsguard.Response{}, fmt.Errorf("terms read history: %w", err)
	}
	if !found {
		return termsguard.OK(nil), nil
	}

	return termsguard.OK(entry), nil
}

func (m *Module) handleClearCache(ctx context.Context, _ *termsguard.Message) (termsguard.Response, error) {
	if m.analyzer == nil {
		return termsguard.Response{}, fmt.Errorf("terms clear cache: analyzer not configured")
	}
	if err := m.analyzer.ClearCache(ctx); err != nil {
		return termsguard.Response{}, fmt.Errorf("terms clear cache: %w", err)
	}

	return termsguard.OK(clearCacheReply{Message: "Cache cleared"}), nil
}

func (m *Module) handleCheckBackend(ctx context.Context, _ *termsguard.Message) (termsguard.Response, error) {
	if m.analyzer == nil {
		return termsguard.Response{}, fmt.Errorf("terms check backend: analyzer not configured")
	}

	return termsguard.OK(m.analyzer.CheckBackend(ctx)), nil
}

func (m *Module) handleCacheStats(ctx context.Context, _ *termsguard.Message) (termsguard.Response, error) {
	if m.analyzer == nil {
		return termsguard.Response{}, fmt.Errorf("terms cache stats: analyzer not configured")
	}

	return termsguard.OK(m.analyzer.CacheStats(ctx)), nil
}
