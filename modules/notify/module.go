package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"termsguard/pkg/termsguard"
)

const (
	defaultWorkers      = 4
	defaultRetryDelay   = time.Second
	defaultDeliveryWait = 15 * time.Second
)

// Option mutates one notify module construction input.
type Option func(*Module)

// WithLogger configures delivery failure logging.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithWorkers bounds concurrent tab deliveries.
func WithWorkers(workers int) Option {
	return func(m *Module) {
		if workers > 0 {
			m.workers = workers
		}
	}
}

// WithRetryDelay configures the pause before the single delivery retry.
func WithRetryDelay(delay time.Duration) Option {
	return func(m *Module) {
		if delay >= 0 {
			m.retryDelay = delay
		}
	}
}

// Module pushes analysis results and risk notifications to requesting tabs.
type Module struct {
	logger     *slog.Logger
	workers    int
	retryDelay time.Duration
	sleep      func(ctx context.Context, delay time.Duration) error

	deliverer termsguard.TabDeliverer

	mu      sync.Mutex
	pool    *ants.Pool
	ctx     context.Context
	cancel  context.CancelFunc
	retries map[*time.Timer]struct{}
}

// New creates a notify module.
func New(options ...Option) *Module {
	module := &Module{
		logger:     slog.Default(),
		workers:    defaultWorkers,
		retryDelay: defaultRetryDelay,
		sleep:      sleepContext,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "notify"
}

// Spec declares the analysis event subscription.
func (m *Module) Spec() termsguard.ModuleSpec {
	return termsguard.ModuleSpec{
		Handlers: []termsguard.ModuleHandler{
			{
				Capability: termsguard.Capability{
					Name:        "tab-notification",
					Description: "delivers analysis results and risk notifications to the requesting tab",
					Interest: termsguard.InterestSet{
						Kinds: []termsguard.EventKind{
							termsguard.EventKindAnalysisCompleted,
							termsguard.EventKindAnalysisCached,
						},
						RequireTab: true,
					},
					RequiredServices: []string{termsguard.ServiceTabDeliverer},
				},
				Subscription: termsguard.SubscriptionSpec{
					Name:         "notify-analysis",
					Backpressure: termsguard.BackpressureDropOldest,
				},
				Handler: m.handleEvent,
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime termsguard.ModuleRuntime) error {
	deliverer, err := termsguard.ResolveAs[termsguard.TabDeliverer](
		runtime.Services(),
		termsguard.ServiceTabDeliverer,
	)
	if err != nil {
		return fmt.Errorf("notify resolve tab deliverer: %w", err)
	}
	m.deliverer = deliverer

	return nil
}

// OnStart starts the delivery worker pool.
func (m *Module) OnStart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool != nil {
		return nil
	}

	// Submit blocks while every worker is busy; workers never wait out a retry delay.
	pool, err := ants.NewPool(m.workers, ants.WithPanicHandler(func(recovered any) {
		m.logger.Error("notify delivery panic", "panic", recovered)
	}))
	if err != nil {
		return fmt.Errorf("notify start pool: %w", err)
	}

	m.pool = pool
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.retries = make(map[*time.Timer]struct{})

	return nil
}

// OnShutdown cancels pending retries and waits for in-flight deliveries.
func (m *Module) OnShutdown(ctx context.Context) error {
	m.mu.Lock()
	pool, cancel := m.pool, m.cancel
	m.pool, m.cancel = nil, nil
	for timer := range m.retries {
		timer.Stop()
	}
	m.retries = nil
	m.mu.Unlock()

	if pool == nil {
		return nil
	}
	cancel()

	wait := defaultDeliveryWait
	if deadline, ok := ctx.Deadline(); ok {
		wait = max(time.Until(deadline), time.Millisecond)
	}
	if err := pool.ReleaseTimeout(wait); err != nil && !errors.Is(err, ants.ErrPoolClosed) {
		return fmt.Errorf("notify release pool: %w", err)
	}

	return nil
}

func (m *Module) handleEvent(ctx context.Context, event *termsguard.Event) error {
	if event == nil || event.Outcome == nil || event.TabID == "" {
		return nil
	}

	messages := []any{analysisCompleteMessage(event)}
	if event.Kind == termsguard.EventKindAnalysisCompleted {
		messages = append(messages, notificationMessage(event.Outcome))
	}

	m.mu.Lock()
	pool, poolCtx := m.pool, m.ctx
	m.mu.Unlock()

	if pool == nil {
		for _, message := range messages {
			m.deliver(ctx, event.TabID, message)
		}
		return nil
	}

	for _, message := range messages {
		if err := m.submitAttempt(poolCtx, pool, event.TabID, message); err != nil {
			return err
		}
	}

	return nil
}

// submitAttempt runs the first delivery on the pool. A failure schedules the
// retry on a timer so the worker is free during retryDelay.
func (m *Module) submitAttempt(ctx context.Context, pool *ants.Pool, tabID string, message any) error {
	err := pool.Submit(func() {
		if err := m.deliverer.DeliverToTab(ctx, tabID, message); err != nil {
			m.scheduleRetry(ctx, pool, tabID, message, err)
		}
	})
	if err != nil {
		return fmt.Errorf("notify submit delivery for tab %s: %w", tabID, err)
	}

	return nil
}

func (m *Module) scheduleRetry(ctx context.Context, pool *ants.Pool, tabID string, message any, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retries == nil {
		m.logger.Debug("notify delivery abandoned", "tab_id", tabID, "error", cause)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(m.retryDelay, func() {
		m.mu.Lock()
		delete(m.retries, timer)
		m.mu.Unlock()

		if ctx.Err() != nil {
			m.logger.Debug("notify delivery abandoned", "tab_id", tabID, "error", cause)
			return
		}
		err := pool.Submit(func() {
			m.logDropped(ctx, tabID, m.deliverer.DeliverToTab(ctx, tabID, message))
		})
		if err != nil {
			m.logDropped(ctx, tabID, err)
		}
	})
	m.retries[timer] = struct{}{}
}

// deliver pushes one message inline, retrying once after retryDelay. It
// serves deliveries made while the pool is not running.
func (m *Module) deliver(ctx context.Context, tabID string, message any) {
	err := m.deliverer.DeliverToTab(ctx, tabID, message)
	if err == nil {
		return
	}

	if sleepErr := m.sleep(ctx, m.retryDelay); sleepErr != nil {
		m.logger.Debug("notify delivery abandoned", "tab_id", tabID, "error", err)
		return
	}
	m.logDropped(ctx, tabID, m.deliverer.DeliverToTab(ctx, tabID, message))
}

// logDropped records a delivery that failed its retry. Tabs that closed in
// the meantime are routine and logged at debug.
func (m *Module) logDropped(ctx context.Context, tabID string, err error) {
	if err == nil {
		return
	}
	level := slog.LevelWarn
	if errors.Is(err, termsguard.ErrTabNotConnected) {
		level = slog.LevelDebug
	}
	m.logger.Log(ctx, level, "notify delivery dropped", "tab_id", tabID, "error", err)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ termsguard.Module          = (*Module)(nil)
	_ termsguard.ModuleRegistrar = (*Module)(nil)
)
