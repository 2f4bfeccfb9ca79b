package termsguard

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action names understood by the built-in modules.
const (
	ActionAnalyzeTerms       = "analyzeTerms"
	ActionSummarizeTerms     = "summarizeTerms"
	ActionAnalyzeContent     = "analyze_content"
	ActionQuickSummary       = "quickSummary"
	ActionGetAnalysisData    = "get_analysis_data"
	ActionClearCache         = "clear_cache"
	ActionClearCacheAlias    = "clearCache"
	ActionCheckBackendStatus = "check_backend_status"
	ActionGetCacheStats      = "getCacheStats"
	ActionGetStats           = "getStats"
	ActionTabUpdated         = "tab_updated"
	ActionPing               = "ping"
	ActionGetExtensionInfo   = "getExtensionInfo"
	ActionShowNotification   = "showNotification"
	ActionAnalysisComplete   = "analysisComplete"
)

// Message is one action-tagged request exchanged between extension contexts.
//
// Action-specific fields stay in Raw and are decoded by the handling module
// through Decode.
type Message struct {
	// Action is the required discriminator.
	Action string
	// TabID identifies the sender tab when the message originates from a content script.
	TabID string
	// Raw is the complete JSON object as received.
	Raw json.RawMessage
}

type messageEnvelope struct {
	Action string          `json:"action"`
	TabID  json.RawMessage `json:"tabId,omitempty"`
}

// ParseMessage decodes one JSON object into a Message.
func ParseMessage(data []byte) (*Message, error) {
	var envelope messageEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse message: %w: %w", ErrInvalidMessage, err)
	}

	message := &Message{
		Action: strings.TrimSpace(envelope.Action),
		TabID:  normalizeTabID(envelope.TabID),
		Raw:    append(json.RawMessage(nil), data...),
	}
	if err := message.Validate(); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	return message, nil
}

// normalizeTabID accepts numeric and string tab ids.
func normalizeTabID(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}

	return trimmed
}

// Validate checks the routing invariants of a message.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Action) == "" {
		return fmt.Errorf("%w: missing action", ErrInvalidMessage)
	}

	return nil
}

// Decode unmarshals the raw message body into target.
func (m *Message) Decode(target any) error {
	if m == nil {
		return fmt.Errorf("decode message: %w: nil message", ErrInvalidMessage)
	}
	if len(m.Raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Raw, target); err != nil {
		return fmt.Errorf("decode message %s: %w: %w", m.Action, ErrInvalidMessage, err)
	}

	return nil
}

// Response is the reply shape for every routed message.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Code carries the machine-readable failure kind.
	Code   string `json:"code,omitempty"`
	Cached bool   `json:"cached,omitempty"`
}

// MarshalJSON writes data on every success, as null when there is none, and
// leaves it out of failures.
func (r Response) MarshalJSON() ([]byte, error) {
	type wire Response
	if !r.Success {
		return json.Marshal(wire(r))
	}

	return json.Marshal(struct {
		wire
		Data any `json:"data"`
	}{wire: wire(r), Data: r.Data})
}

// OK builds one successful response.
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// Failure converts err into one failed response. Classified analysis errors
// keep their user-facing message and kind code.
func Failure(err error) Response {
	if err == nil {
		return Response{Success: false, Error: "unknown error"}
	}
	if analysisErr, ok := AsAnalysisError(err); ok {
		return Response{
			Success: false,
			Error:   analysisErr.Error(),
			Code:    string(analysisErr.Kind),
		}
	}

	return Response{Success: false, Error: err.Error()}
}
