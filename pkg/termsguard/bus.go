package termsguard

import (
	"context"
	"time"
)

// BackpressurePolicy picks what a subscription does with an analysis event
// when its queue is full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest discards the event being published. It is the default.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest discards the longest-queued event to make room,
	// for consumers that only care about the latest state of a tab.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock makes Publish wait for room, for consumers whose
	// counts must not drift.
	BackpressureBlock BackpressurePolicy = "block"
)

// SubscriptionSpec sizes one subscription. Zero values fall back to the
// kernel defaults; an empty Backpressure means BackpressureDropNewest.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// NewDefaultSubscriptionSpec names a subscription and leaves every limit to the kernel.
func NewDefaultSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{Name: name}
}

// Subscription is a live registration returned by EventBus.Subscribe.
type Subscription interface {
	Name() string
	// Close stops the subscription's workers and waits for them or for ctx.
	Close(ctx context.Context) error
}

// EventBus carries analysis lifecycle events from the dispatcher to modules.
// Handlers run on per-subscription workers, never on the publisher's goroutine.
type EventBus interface {
	EventSink
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
	// Close stops every subscription. Publish and Subscribe fail afterwards.
	Close(ctx context.Context) error
}
