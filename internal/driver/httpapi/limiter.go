package httpapi

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limitAction int

const (
	limitAllow limitAction = iota
	limitDelay
	limitDrop
)

type clientState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter applies one token bucket per client address.
// Short overruns are paced instead of dropped.
type clientLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientState
	limit    rate.Limit
	burst    int
	idle     time.Duration
	maxDelay time.Duration
	now      func() time.Time
}

func newClientLimiter(requestsPerSecond float64, burst int, idle time.Duration) *clientLimiter {
	return &clientLimiter{
		clients:  make(map[string]*clientState),
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     idle,
		maxDelay: defaultMaxPacingDelay,
		now:      time.Now,
	}
}

func (l *clientLimiter) enabled() bool {
	return l != nil && l.limit > 0
}

// check reserves one token for client and reports whether the request may run now,
// after the returned delay, or not at all.
func (l *clientLimiter) check(client string) (limitAction, time.Duration) {
	if !l.enabled() {
		return limitAllow, 0
	}

	now := l.now()

	l.mu.Lock()
	state, exists := l.clients[client]
	if !exists {
		state = &clientState{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = state
	}
	state.lastSeen = now
	reservation := state.limiter.ReserveN(now, 1)
	l.mu.Unlock()

	if !reservation.OK() {
		return limitDrop, 0
	}

	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return limitAllow, 0
	}
	if delay <= l.maxDelay {
		return limitDelay, delay
	}

	reservation.CancelAt(now)

	return limitDrop, 0
}

// wait blocks until the client may proceed. It reports false when the request
// must be rejected.
func (l *clientLimiter) wait(ctx context.Context, client string) bool {
	action, delay := l.check(client)
	switch action {
	case limitAllow:
		return true
	case limitDelay:
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return true
		case <-ctx.Done():
			return false
		}
	default:
		return false
	}
}

// prune drops clients idle for longer than the idle timeout.
func (l *clientLimiter) prune() int {
	if !l.enabled() {
		return 0
	}

	cutoff := l.now().Add(-l.idle)
	removed := 0

	l.mu.Lock()
	defer l.mu.Unlock()
	for client, state := range l.clients {
		if state.lastSeen.Before(cutoff) {
			delete(l.clients, client)
			removed++
		}
	}

	return removed
}

func (l *clientLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.clients)
}

// runCleanup prunes idle clients every interval until ctx ends.
func (l *clientLimiter) runCleanup(ctx context.Context, interval time.Duration, onPrune func(int)) {
	if !l.enabled() || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.prune(); removed > 0 && onPrune != nil {
				onPrune(removed)
			}
		}
	}
}
