package termsguard

import "context"

// BackendRequest is the payload sent to an analysis backend.
type BackendRequest struct {
	Content  string
	Language string
	URL      string
}

// AnalysisBackend is one remote analysis service.
//
// Analyze returns *BackendStatusError (possibly wrapped) for non-2xx HTTP
// responses and *AnalysisError for classified failures such as malformed
// payloads. Any other error is treated as a network failure.
type AnalysisBackend interface {
	// Name identifies the backend type in logs.
	Name() string
	// Endpoint returns the base URL shown to users in remedy messages.
	Endpoint() string
	// Health runs the lightweight readiness probe.
	Health(ctx context.Context) error
	// Liveness checks that the backend is reachable at all.
	Liveness(ctx context.Context) error
	// Analyze runs the main analysis call once, without retries.
	Analyze(ctx context.Context, req BackendRequest) (AnalysisResult, error)
}
