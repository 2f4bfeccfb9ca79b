// Package ratelimit bounds how often a remote analysis may start per domain.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// DefaultWindow is the minimum spacing between two accepted remote calls for one domain.
const DefaultWindow = 30 * time.Second

// KeyMode selects how a URL maps to its rate-limit domain.
type KeyMode string

const (
	// KeyModeHost limits per hostname.
	KeyModeHost KeyMode = "host"
	// KeyModeSite limits per registrable domain (eTLD+1), so subdomains share one window.
	KeyModeSite KeyMode = "site"
)

// ParseKeyMode validates one configured key mode. Empty selects host.
func ParseKeyMode(raw string) (KeyMode, error) {
	switch KeyMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KeyModeHost:
		return KeyModeHost, nil
	case KeyModeSite:
		return KeyModeSite, nil
	default:
		return "", fmt.Errorf("unsupported rate limit key mode %q", raw)
	}
}

// Limiter records the last accepted request time per domain.
//
// State is process-local and starts empty on every restart.
type Limiter struct {
	window  time.Duration
	keyMode KeyMode
	clock   func() time.Time
	logger  *slog.Logger

	mu          sync.Mutex
	lastRequest map[string]time.Time
}

// Option mutates limiter construction configuration.
type Option func(*Limiter)

// WithWindow configures the per-domain window.
func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithKeyMode configures URL to domain mapping.
func WithKeyMode(mode KeyMode) Option {
	return func(l *Limiter) {
		if mode != "" {
			l.keyMode = mode
		}
	}
}

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger configures the cleanup logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates an empty limiter.
func New(options ...Option) *Limiter {
	limiter := &Limiter{
		window:      DefaultWindow,
		keyMode:     KeyModeHost,
		clock:       time.Now,
		logger:      slog.Default(),
		lastRequest: make(map[string]time.Time),
	}
	for _, option := range options {
		option(limiter)
	}

	return limiter
}

// Window returns the configured window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Check reports whether a new remote request for domain is permitted now.
//
// Check does not record anything; callers call Record once the request is
// actually dispatched.
func (l *Limiter) Check(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, seen := l.lastRequest[domain]
	if !seen {
		return true
	}

	return l.clock().Sub(last) > l.window
}

// Record marks a remote request for domain as started now.
func (l *Limiter) Record(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRequest[domain] = l.clock()
}

// RetryAfter returns how long until domain is permitted again, or zero.
func (l *Limiter) RetryAfter(domain string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, seen := l.lastRequest[domain]
	if !seen {
		return 0
	}
	remaining := l.window - l.clock().Sub(last)
	if remaining < 0 {
		return 0
	}

	// Check requires strictly more than window to pass.
	return remaining + time.Millisecond
}

// Reset forgets every domain.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRequest = make(map[string]time.Time)
}

// Prune drops records whose window has elapsed and returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	removed := 0
	for domain, last := range l.lastRequest {
		if now.Sub(last) > l.window {
			delete(l.lastRequest, domain)
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked domains.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastRequest)
}

// StartCleanup prunes elapsed records every interval until ctx is canceled.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Prune(); removed > 0 {
				l.logger.DebugContext(ctx, "rate limiter pruned domains", "count", removed)
			}
		}
	}
}

// Domain derives the rate-limit key of rawURL under the configured key mode.
func (l *Limiter) Domain(rawURL string) (string, error) {
	return DomainFromURL(rawURL, l.keyMode)
}

// DomainFromURL derives the rate-limit key of rawURL.
func DomainFromURL(rawURL string, mode KeyMode) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("parse url %q: missing host", rawURL)
	}
	if mode != KeyModeSite || net.ParseIP(host) != nil {
		return host, nil
	}

	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Bare public suffixes have no registrable domain.
		return host, nil
	}

	return site, nil
}
