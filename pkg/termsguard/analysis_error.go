package termsguard

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AnalysisErrorKind classifies analysis pipeline failures.
type AnalysisErrorKind string

const (
	// AnalysisErrorKindInsufficientContent rejects content below the minimum length.
	AnalysisErrorKindInsufficientContent AnalysisErrorKind = "insufficient_content"
	// AnalysisErrorKindAlreadyProcessing rejects a request while a matching one is in flight.
	AnalysisErrorKindAlreadyProcessing AnalysisErrorKind = "already_processing"
	// AnalysisErrorKindRateLimited rejects a request inside the local per-domain window.
	AnalysisErrorKindRateLimited AnalysisErrorKind = "rate_limited"
	// AnalysisErrorKindBackendUnavailable reports a failed health probe.
	AnalysisErrorKindBackendUnavailable AnalysisErrorKind = "backend_unavailable"
	// AnalysisErrorKindTransientBackend reports HTTP 503 responses that outlived retries.
	AnalysisErrorKindTransientBackend AnalysisErrorKind = "transient_backend"
	// AnalysisErrorKindBackendRateLimited reports HTTP 429 from the backend.
	AnalysisErrorKindBackendRateLimited AnalysisErrorKind = "backend_rate_limited"
	// AnalysisErrorKindBackendFailure reports any other backend failure.
	AnalysisErrorKindBackendFailure AnalysisErrorKind = "backend_failure"
	// AnalysisErrorKindMalformedResponse reports a backend payload that failed validation.
	AnalysisErrorKindMalformedResponse AnalysisErrorKind = "malformed_response"
	// AnalysisErrorKindInvalidRequest reports a request with unusable fields.
	AnalysisErrorKindInvalidRequest AnalysisErrorKind = "invalid_request"
	// AnalysisErrorKindStorage reports persistence failures. It is never surfaced to callers.
	AnalysisErrorKindStorage AnalysisErrorKind = "storage"
)

// Sentinel returns the package sentinel matching this kind.
func (k AnalysisErrorKind) Sentinel() error {
	switch k {
	case AnalysisErrorKindInsufficientContent:
		return ErrInsufficientContent
	case AnalysisErrorKindAlreadyProcessing:
		return ErrAlreadyProcessing
	case AnalysisErrorKindRateLimited:
		return ErrRateLimited
	case AnalysisErrorKindBackendUnavailable:
		return ErrBackendUnavailable
	case AnalysisErrorKindTransientBackend:
		return ErrTransientBackend
	case AnalysisErrorKindBackendRateLimited:
		return ErrBackendRateLimited
	case AnalysisErrorKindMalformedResponse:
		return ErrMalformedResponse
	case AnalysisErrorKindInvalidRequest:
		return ErrInvalidRequest
	case AnalysisErrorKindStorage:
		return ErrStorage
	default:
		return ErrBackendFailure
	}
}

// AnalysisError carries one classified analysis failure.
//
// Message is shown to end users as-is and should name the likely remedy.
type AnalysisError struct {
	// Kind classifies the failure.
	Kind AnalysisErrorKind
	// Message is the human-readable failure description.
	Message string
	// StatusCode carries the backend HTTP status when one was received.
	StatusCode int
	// Attempts counts backend call attempts made before giving up.
	Attempts int
	// RetryAfter suggests how long the caller should wait before retrying.
	RetryAfter time.Duration
	// Cause is the wrapped transport or decoding error.
	Cause error
}

// NewAnalysisError creates one classified failure with a formatted message.
func NewAnalysisError(kind AnalysisErrorKind, format string, args ...any) *AnalysisError {
	return &AnalysisError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithCause attaches the underlying error and returns the receiver.
func (e *AnalysisError) WithCause(cause error) *AnalysisError {
	e.Cause = cause
	return e
}

// Error returns the user-facing message.
func (e *AnalysisError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if message := strings.TrimSpace(e.Message); message != "" {
		return message
	}
	if e.Cause != nil {
		return fmt.Sprintf("analysis failed (%s): %v", e.Kind, e.Cause)
	}

	return fmt.Sprintf("analysis failed (%s)", e.Kind)
}

// Unwrap exposes the kind sentinel and the root cause to errors.Is and errors.As.
func (e *AnalysisError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return []error{e.Kind.Sentinel()}
	}

	return []error{e.Kind.Sentinel(), e.Cause}
}

// AsAnalysisError extracts one AnalysisError from wrapped error chains.
func AsAnalysisError(err error) (*AnalysisError, bool) {
	if err == nil {
		return nil, false
	}

	var analysisErr *AnalysisError
	if errors.As(err, &analysisErr) {
		return analysisErr, true
	}

	return nil, false
}

// AnalysisErrorKindOf returns the kind of err, or backend_failure for unclassified errors.
func AnalysisErrorKindOf(err error) AnalysisErrorKind {
	if analysisErr, ok := AsAnalysisError(err); ok {
		return analysisErr.Kind
	}

	return AnalysisErrorKindBackendFailure
}

// BackendStatusError reports a non-2xx HTTP response from an analysis backend.
type BackendStatusError struct {
	// StatusCode is the received HTTP status.
	StatusCode int
	// Body carries a truncated response body for diagnostics.
	Body string
}

// Error returns one operator-readable status summary.
func (e *BackendStatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("backend status %d: %s", e.StatusCode, body)
	}

	return fmt.Sprintf("backend status %d", e.StatusCode)
}

// AsBackendStatus extracts the HTTP status code from a wrapped BackendStatusError.
func AsBackendStatus(err error) (int, bool) {
	var statusErr *BackendStatusError
	if errors.As(err, &statusErr) && statusErr != nil {
		return statusErr.StatusCode, true
	}

	return 0, false
}
