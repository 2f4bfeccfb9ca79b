package kernel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"termsguard/pkg/termsguard"
)

// EventBus fans analysis lifecycle events out to module subscriptions.
//
// Subscriptions are indexed by the event kinds they declare. A subscription
// without kinds is a wildcard and sees every kind.
type EventBus struct {
	mu       sync.RWMutex
	closed   bool
	byKind   map[termsguard.EventKind]map[int64]*subscriber
	wildcard map[int64]*subscriber

	lastID       atomic.Int64
	defaults     subscriberDefaults
	onAsyncError func(context.Context, string, error)
}

type subscriberDefaults struct {
	buffer         int
	workers        int
	handlerTimeout time.Duration
}

// SubscriptionStats counts what one subscription did with published events.
type SubscriptionStats struct {
	Name      string
	Delivered int64
	Dropped   int64
	Failed    int64
}

// NewEventBus creates an asynchronous event bus with bounded queues.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		byKind:   make(map[termsguard.EventKind]map[int64]*subscriber),
		wildcard: make(map[int64]*subscriber),
		defaults: subscriberDefaults{
			buffer:         defaultBuffer,
			workers:        defaultWorkers,
			handlerTimeout: defaultHandlerTimeout,
		},
		onAsyncError: onAsyncError,
	}
}

// Publish queues event on every subscription interested in it. Dropped events
// are reported to the async error sink; only blocking enqueue failures are returned.
func (b *EventBus) Publish(ctx context.Context, event *termsguard.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	targets, err := b.targets(event.Kind)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var enqueueErr error
	for _, sub := range targets {
		if !sub.interest.Matches(event) {
			continue
		}
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, termsguard.ErrEventDropped), errors.Is(err, termsguard.ErrSubscriptionClosed):
			sub.dropped.Add(1)
			b.reportAsyncError(ctx, sub.spec.Name, err)
		default:
			enqueueErr = errors.Join(enqueueErr, err)
		}
	}
	if enqueueErr != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, enqueueErr)
	}

	return nil
}

// Subscribe registers a bounded asynchronous consumer and starts its workers.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest termsguard.InterestSet,
	spec termsguard.SubscriptionSpec,
	handler termsguard.EventHandler,
) (termsguard.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	id := b.lastID.Add(1)
	spec = b.withDefaults(spec, id)
	offer, err := offerFor(spec.Backpressure)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: bus closed", spec.Name)
	}

	sub := newSubscriber(b, id, interest, spec, handler, offer)
	if len(sub.interest.Kinds) == 0 {
		b.wildcard[id] = sub
	} else {
		for _, kind := range sub.interest.Kinds {
			if b.byKind[kind] == nil {
				b.byKind[kind] = make(map[int64]*subscriber)
			}
			b.byKind[kind][id] = sub
		}
	}
	sub.start()

	return sub, nil
}

// Stats reports per-subscription counters sorted by subscription name.
func (b *EventBus) Stats() []SubscriptionStats {
	b.mu.RLock()
	subs := b.allLocked()
	b.mu.RUnlock()

	stats := make([]SubscriptionStats, 0, len(subs))
	for _, sub := range subs {
		stats = append(stats, sub.stats())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Name < stats[j].Name
	})

	return stats
}

// Close stops all active subscriptions and rejects further publishes/subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.allLocked()
	b.byKind = make(map[termsguard.EventKind]map[int64]*subscriber)
	b.wildcard = make(map[int64]*subscriber)
	b.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		if err := sub.stop(ctx); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if closeErr != nil {
		return fmt.Errorf("close event bus: %w", closeErr)
	}

	return nil
}

// targets collects the subscriptions indexed under kind plus every wildcard.
func (b *EventBus) targets(kind termsguard.EventKind) ([]*subscriber, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}

	targets := make([]*subscriber, 0, len(b.byKind[kind])+len(b.wildcard))
	for _, sub := range b.byKind[kind] {
		targets = append(targets, sub)
	}
	for _, sub := range b.wildcard {
		targets = append(targets, sub)
	}

	return targets, nil
}

// allLocked returns each registered subscriber once. Callers hold b.mu.
func (b *EventBus) allLocked() []*subscriber {
	seen := make(map[int64]*subscriber, len(b.wildcard))
	for id, sub := range b.wildcard {
		seen[id] = sub
	}
	for _, subs := range b.byKind {
		for id, sub := range subs {
			seen[id] = sub
		}
	}

	all := make([]*subscriber, 0, len(seen))
	for _, sub := range seen {
		all = append(all, sub)
	}

	return all
}

func (b *EventBus) withDefaults(spec termsguard.SubscriptionSpec, id int64) termsguard.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.handlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = termsguard.BackpressureDropNewest
	}

	return spec
}

func (b *EventBus) remove(ctx context.Context, sub *subscriber) error {
	b.mu.Lock()
	delete(b.wildcard, sub.id)
	for kind, subs := range b.byKind {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.byKind, kind)
		}
	}
	b.mu.Unlock()

	if err := sub.stop(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// offerFunc places one event on a subscriber queue under a backpressure policy.
type offerFunc func(s *subscriber, ctx context.Context, event *termsguard.Event) error

func offerFor(policy termsguard.BackpressurePolicy) (offerFunc, error) {
	switch policy {
	case termsguard.BackpressureDropNewest:
		return offerDropNewest, nil
	case termsguard.BackpressureDropOldest:
		return offerDropOldest, nil
	case termsguard.BackpressureBlock:
		return offerBlock, nil
	default:
		return nil, fmt.Errorf("backpressure %q: %w", policy, termsguard.ErrInvalidSubscription)
	}
}

func offerDropNewest(s *subscriber, _ context.Context, event *termsguard.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, termsguard.ErrEventDropped)
	}
}

func offerDropOldest(s *subscriber, _ context.Context, event *termsguard.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
	}

	select {
	case <-s.queue:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.queue <- event:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, termsguard.ErrEventDropped)
	}
}

func offerBlock(s *subscriber, ctx context.Context, event *termsguard.Event) error {
	select {
	case s.queue <- event:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, termsguard.ErrSubscriptionClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
	}
}

// subscriber owns the queue and workers of one subscription.
type subscriber struct {
	id       int64
	bus      *EventBus
	interest termsguard.InterestSet
	spec     termsguard.SubscriptionSpec
	handler  termsguard.EventHandler
	queue    chan *termsguard.Event
	offer    offerFunc

	ctx      context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	stopped  chan struct{}
	stopOnce sync.Once

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

func newSubscriber(
	bus *EventBus,
	id int64,
	interest termsguard.InterestSet,
	spec termsguard.SubscriptionSpec,
	handler termsguard.EventHandler,
	offer offerFunc,
) *subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	if len(interest.Kinds) > 0 {
		interest.Kinds = append([]termsguard.EventKind(nil), interest.Kinds...)
	}

	return &subscriber{
		id:       id,
		bus:      bus,
		interest: interest,
		spec:     spec,
		handler:  handler,
		queue:    make(chan *termsguard.Event, spec.Buffer),
		offer:    offer,
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
}

// Name returns the stable subscription name.
func (s *subscriber) Name() string {
	return s.spec.Name
}

// Close unregisters this subscription from its bus.
func (s *subscriber) Close(ctx context.Context) error {
	return s.bus.remove(ctx, s)
}

func (s *subscriber) enqueue(ctx context.Context, event *termsguard.Event) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, termsguard.ErrSubscriptionClosed)
	}

	return s.offer(s, ctx, event)
}

func (s *subscriber) start() {
	for worker := range s.spec.Workers {
		s.workers.Go(func() {
			s.drain(worker)
		})
	}
	go func() {
		s.workers.Wait()
		close(s.stopped)
	}()
}

func (s *subscriber) drain(worker int) {
	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, worker)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.handle(scope, event); err != nil {
				s.failed.Add(1)
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
				continue
			}
			s.delivered.Add(1)
		}
	}
}

func (s *subscriber) handle(scope string, event *termsguard.Event) error {
	ctx, cancel := s.ctx, context.CancelFunc(func() {})
	if s.spec.HandlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	}
	defer cancel()

	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s %s: %w", event.Kind, event.ID, err)
	}

	return nil
}

// stop cancels the workers and waits for them or for ctx.
func (s *subscriber) stop(ctx context.Context) error {
	s.stopOnce.Do(s.cancel)

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}

func (s *subscriber) stats() SubscriptionStats {
	return SubscriptionStats{
		Name:      s.spec.Name,
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}
