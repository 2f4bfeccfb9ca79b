package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"termsguard/pkg/termsguard"
)

const (
	// DefaultMinContentLength is the shortest document accepted for analysis.
	DefaultMinContentLength = 100
	// DefaultMaxAttempts bounds analyze calls per accepted request.
	DefaultMaxAttempts = 3
	// DefaultTransientDelay is the per-attempt backoff step after HTTP 503.
	DefaultTransientDelay = 2 * time.Second
	// DefaultFailureDelay is the per-attempt backoff step after other failures.
	DefaultFailureDelay = time.Second
	// DefaultHealthTimeout bounds the pre-flight health probe.
	DefaultHealthTimeout = 5 * time.Second
	// DefaultRequestTimeout bounds one analyze attempt.
	DefaultRequestTimeout = 60 * time.Second
	// DefaultLanguage is used when a request carries no language.
	DefaultLanguage = "en"
)

// InflightScope selects how concurrent analyses are deduplicated.
type InflightScope string

const (
	// InflightScopeFingerprint rejects only requests for the same url and content.
	InflightScopeFingerprint InflightScope = "fingerprint"
	// InflightScopeGlobal allows one analysis at a time system-wide.
	InflightScopeGlobal InflightScope = "global"
)

// ParseInflightScope parses a configured scope name. Empty selects fingerprint.
func ParseInflightScope(raw string) (InflightScope, error) {
	switch scope := InflightScope(strings.ToLower(strings.TrimSpace(raw))); scope {
	case "":
		return InflightScopeFingerprint, nil
	case InflightScopeFingerprint, InflightScopeGlobal:
		return scope, nil
	default:
		return "", fmt.Errorf("unsupported inflight scope %q", raw)
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type config struct {
	minContentLength int
	maxAttempts      int
	transientDelay   time.Duration
	failureDelay     time.Duration
	healthProbe      bool
	healthTimeout    time.Duration
	requestTimeout   time.Duration
	inflightScope    InflightScope
	defaultLanguage  string
	events           termsguard.EventSink
	clock            func() time.Time
	sleep            SleepFunc
	newID            func() string
	logger           *slog.Logger
}

// Option mutates dispatcher configuration.
type Option func(*config)

// WithMinContentLength sets the minimum accepted document length in characters.
func WithMinContentLength(length int) Option {
	return func(cfg *config) {
		if length > 0 {
			cfg.minContentLength = length
		}
	}
}

// WithRetryPolicy sets the attempt bound and the linear backoff steps.
func WithRetryPolicy(maxAttempts int, transientDelay, failureDelay time.Duration) Option {
	return func(cfg *config) {
		if maxAttempts > 0 {
			cfg.maxAttempts = maxAttempts
		}
		if transientDelay >= 0 {
			cfg.transientDelay = transientDelay
		}
		if failureDelay >= 0 {
			cfg.failureDelay = failureDelay
		}
	}
}

// WithHealthProbe enables or disables the pre-flight probe and sets its timeout.
func WithHealthProbe(enabled bool, timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.healthProbe = enabled
		if timeout > 0 {
			cfg.healthTimeout = timeout
		}
	}
}

// WithRequestTimeout bounds each analyze attempt.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.requestTimeout = timeout
		}
	}
}

// WithInflightScope selects concurrent request deduplication.
func WithInflightScope(scope InflightScope) Option {
	return func(cfg *config) {
		if scope != "" {
			cfg.inflightScope = scope
		}
	}
}

// WithDefaultLanguage sets the language used when a request has none.
func WithDefaultLanguage(tag string) Option {
	return func(cfg *config) {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			cfg.defaultLanguage = trimmed
		}
	}
}

// WithEventSink publishes analysis lifecycle events to sink.
func WithEventSink(sink termsguard.EventSink) Option {
	return func(cfg *config) {
		cfg.events = sink
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithSleep overrides the retry backoff wait.
func WithSleep(sleep SleepFunc) Option {
	return func(cfg *config) {
		if sleep != nil {
			cfg.sleep = sleep
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(newID func() string) Option {
	return func(cfg *config) {
		if newID != nil {
			cfg.newID = newID
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
