package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"termsguard/pkg/termsguard"
)

// maxErrorBody bounds how much of a failed response body is kept for diagnostics.
const maxErrorBody = 512

// maxResponseBody bounds successful response bodies.
const maxResponseBody = 4 << 20

// DoJSON sends one request with an optional JSON body and returns the response
// body of 2xx replies. Non-2xx replies become *termsguard.BackendStatusError.
func DoJSON(
	ctx context.Context,
	client *http.Client,
	method string,
	endpoint string,
	payload any,
	headers map[string]string,
) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		return nil, &termsguard.BackendStatusError{
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return data, nil
}

// Malformed wraps a payload validation failure as a non-retryable analysis error.
func Malformed(endpoint string, cause error) error {
	return termsguard.NewAnalysisError(
		termsguard.AnalysisErrorKindMalformedResponse,
		"The analysis backend at %s returned an unexpected response. Please check that the backend is up to date.",
		endpoint,
	).WithCause(cause)
}

// Truncate shortens text to at most limit characters.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit])
}
