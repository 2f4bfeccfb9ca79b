package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"time"

	"termsguard/pkg/termsguard"
)

// analyze calls the backend with bounded retries and linear backoff.
//
// HTTP 503 waits attempt*transientDelay, other failures wait
// attempt*failureDelay. HTTP 429 and errors already classified by the backend
// are returned without retry.
func (d *Dispatcher) analyze(ctx context.Context, req preparedRequest) (termsguard.AnalysisResult, int, error) {
	backendReq := termsguard.BackendRequest{
		Content:  req.Content,
		Language: req.Language,
		URL:      req.URL,
	}

	var lastErr error
	attempt := 0
	for attempt < d.cfg.maxAttempts {
		attempt++

		result, err := d.attempt(ctx, backendReq)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if _, classified := termsguard.AsAnalysisError(err); classified {
			return termsguard.AnalysisResult{}, attempt, err
		}
		status, hasStatus := termsguard.AsBackendStatus(err)
		if hasStatus && status == http.StatusTooManyRequests {
			break
		}
		if ctx.Err() != nil || attempt >= d.cfg.maxAttempts {
			break
		}

		step := d.cfg.failureDelay
		if hasStatus && status == http.StatusServiceUnavailable {
			step = d.cfg.transientDelay
		}
		d.cfg.logger.WarnContext(ctx, "analysis attempt failed",
			"url", req.URL,
			"attempt", attempt,
			"max_attempts", d.cfg.maxAttempts,
			"status", status,
			"error", err,
		)
		if sleepErr := d.cfg.sleep(ctx, time.Duration(attempt)*step); sleepErr != nil {
			break
		}
	}

	return termsguard.AnalysisResult{}, attempt, d.classify(lastErr, attempt)
}

func (d *Dispatcher) attempt(ctx context.Context, req termsguard.BackendRequest) (termsguard.AnalysisResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.requestTimeout)
	defer cancel()

	return d.backend.Analyze(attemptCtx, req)
}

func (d *Dispatcher) classify(err error, attempts int) error {
	endpoint := d.backend.Endpoint()
	status, hasStatus := termsguard.AsBackendStatus(err)

	var classified *termsguard.AnalysisError
	switch {
	case hasStatus && status == http.StatusTooManyRequests:
		classified = termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindBackendRateLimited,
			"The analysis backend at %s is rate limiting requests (HTTP 429). "+
				"Please wait a few minutes before analyzing more documents.",
			endpoint,
		)
	case hasStatus && status == http.StatusServiceUnavailable:
		classified = termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindTransientBackend,
			"The analysis backend at %s is still unavailable (HTTP 503, the model may be loading) after %d attempts. "+
				"Please try again in a minute.",
			endpoint,
			attempts,
		)
	case hasStatus:
		classified = termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindBackendFailure,
			"The analysis backend at %s returned HTTP %d after %d attempts. Please check the backend logs.",
			endpoint,
			status,
			attempts,
		)
	case errors.Is(err, context.DeadlineExceeded):
		classified = termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindTransientBackend,
			"The analysis backend at %s did not answer within %s. Please try again later.",
			endpoint,
			d.cfg.requestTimeout,
		)
	case errors.Is(err, context.Canceled):
		classified = termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindBackendFailure,
			"The analysis of this document was cancelled.",
		)
	default:
		classified = termsguard.NewAnalysisError(
			termsguard.AnalysisErrorKindBackendUnavailable,
			"Cannot connect to backend at %s. %s",
			endpoint,
			startRemedy(d.backend.Name()),
		)
	}

	classified.StatusCode = status
	classified.Attempts = attempts

	return classified.WithCause(err)
}
