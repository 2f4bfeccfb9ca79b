package kernel

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultModuleHookTimeout  = 5 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultActionTimeout      = 90 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
	defaultHandlerTimeout     = 10 * time.Second
)

type config struct {
	hookTimeout     time.Duration
	shutdownTimeout time.Duration
	actionTimeout   time.Duration
	subscriptions   subscriberDefaults

	logger *slog.Logger
	// onAsyncError is nil until New falls back to logging through logger.
	onAsyncError func(context.Context, string, error)
}

// Option mutates kernel construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		hookTimeout:     defaultModuleHookTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		actionTimeout:   defaultActionTimeout,
		subscriptions: subscriberDefaults{
			buffer:         defaultSubscriptionBuffer,
			workers:        defaultSubscriptionWorker,
			handlerTimeout: defaultHandlerTimeout,
		},
		logger: slog.Default(),
	}
}

// resolve applies options in order and fills the async error sink last, so
// WithLogger and WithAsyncErrorHandler compose in either order.
func resolve(options []Option) config {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	if cfg.onAsyncError == nil {
		logger := cfg.logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "kernel async error", "scope", scope, "error", err)
		}
	}

	return cfg
}

func setPositive[T int | time.Duration](dst *T, value T) {
	if value > 0 {
		*dst = value
	}
}

// WithModuleHookTimeout bounds each OnRegister, OnStart and OnShutdown call.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return func(cfg *config) { setPositive(&cfg.hookTimeout, timeout) }
}

// WithShutdownTimeout bounds the whole teardown after Run stops.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) { setPositive(&cfg.shutdownTimeout, timeout) }
}

// WithActionTimeout bounds one routed action handler call.
func WithActionTimeout(timeout time.Duration) Option {
	return func(cfg *config) { setPositive(&cfg.actionTimeout, timeout) }
}

// WithDefaultSubscriptionBuffer sets the queue depth used when a subscription leaves it unset.
func WithDefaultSubscriptionBuffer(size int) Option {
	return func(cfg *config) { setPositive(&cfg.subscriptions.buffer, size) }
}

// WithDefaultSubscriptionWorkers sets the worker count used when a subscription leaves it unset.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return func(cfg *config) { setPositive(&cfg.subscriptions.workers, workers) }
}

// WithDefaultHandlerTimeout sets the per-event deadline used when a subscription leaves it unset.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) { setPositive(&cfg.subscriptions.handlerTimeout, timeout) }
}

// WithLogger sets the kernel logger. Unless WithAsyncErrorHandler is also
// given, async failures are logged through it.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithAsyncErrorHandler receives failures from subscription workers and rollbacks.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}
