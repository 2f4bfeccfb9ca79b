package termsguard

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventKind identifies one internal analysis lifecycle event.
type EventKind string

const (
	// EventKindAnalysisCompleted is published after a fresh backend analysis succeeds.
	EventKindAnalysisCompleted EventKind = "analysis.completed"
	// EventKindAnalysisCached is published when a request is served from cache.
	EventKindAnalysisCached EventKind = "analysis.cached"
	// EventKindAnalysisFailed is published when an accepted request fails.
	EventKindAnalysisFailed EventKind = "analysis.failed"
)

// Event is one analysis lifecycle notification fanned out on the kernel bus.
type Event struct {
	ID         string
	Kind       EventKind
	OccurredAt time.Time
	// TabID identifies the requesting tab when known.
	TabID string
	// Action records which message action triggered the analysis.
	Action string
	// Outcome is set for completed and cached events.
	Outcome *AnalysisOutcome
	// Failure is set for failed events.
	Failure *EventFailure
}

// EventFailure summarizes a failed analysis.
type EventFailure struct {
	Kind    AnalysisErrorKind
	Message string
	URL     string
}

// Validate checks event invariants before publication.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}

	switch e.Kind {
	case EventKindAnalysisCompleted, EventKindAnalysisCached:
		if e.Outcome == nil {
			return fmt.Errorf("%w: %s requires outcome", ErrInvalidEvent, e.Kind)
		}
	case EventKindAnalysisFailed:
		if e.Failure == nil {
			return fmt.Errorf("%w: %s requires failure", ErrInvalidEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, event *Event) error

// EventSink accepts events for dispatching into the kernel.
type EventSink interface {
	// Publish submits an event to downstream subscribers.
	Publish(ctx context.Context, event *Event) error
}
