package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"termsguard/internal/backend/httpbackend"
	"termsguard/internal/backend/huggingface"
	"termsguard/internal/backend/llmbackend"
	"termsguard/internal/cachestore"
	"termsguard/internal/dispatcher"
	"termsguard/internal/driver"
	"termsguard/internal/history"
	"termsguard/internal/kernel"
	"termsguard/internal/ratelimit"
	"termsguard/internal/storage"
	"termsguard/modules/autoanalyze"
	"termsguard/modules/help"
	"termsguard/modules/notify"
	"termsguard/modules/pingpong"
	"termsguard/modules/stats"
	"termsguard/modules/terms"
	"termsguard/pkg/llm"
	"termsguard/pkg/termsguard"
)

const (
	appName        = "termsguard"
	appDescription = "Terms and privacy policy risk analysis service"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// analysisRuntime holds the long-lived analysis components shared by services.
type analysisRuntime struct {
	storage    termsguard.Storage
	cache      *cachestore.Store
	limiter    *ratelimit.Limiter
	history    *history.Store
	backend    termsguard.AnalysisBackend
	dispatcher *dispatcher.Dispatcher
}

func (r *analysisRuntime) close(logger *slog.Logger) {
	if r == nil || r.storage == nil {
		return
	}
	if err := r.storage.Close(); err != nil {
		logger.Warn("close storage failed", "error", err)
	}
}

func run() error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kernelRuntime := buildKernelRuntime(logger, cfg)

	analysis, err := buildAnalysisRuntime(ctx, logger, cfg, kernelRuntime.EventBus())
	if err != nil {
		return err
	}
	defer analysis.close(logger)

	drivers, deliverer, err := buildDriverRuntime(ctx, logger, cfg, registry)
	if err != nil {
		return err
	}

	if err := registerRuntimeDrivers(kernelRuntime, drivers); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, analysis, deliverer); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, logger, cfg); err != nil {
		return err
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	var cleanup sync.WaitGroup
	cleanup.Add(1)
	go func() {
		defer cleanup.Done()
		analysis.limiter.StartCleanup(cleanupCtx, cfg.rateLimit.cleanupInterval)
	}()
	if analysis.cache != nil {
		cleanup.Add(1)
		go func() {
			defer cleanup.Done()
			analysis.cache.StartPurge(cleanupCtx, cfg.cache.purgeInterval)
		}()
	}
	defer func() {
		stopCleanup()
		cleanup.Wait()
	}()

	logger.InfoContext(ctx, "termsguard starting",
		"version", version,
		"backend", analysis.backend.Name(),
		"backend_url", analysis.backend.Endpoint(),
		"storage", cfg.storage.kind,
	)

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithActionTimeout(cfg.actionTimeout),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithAsyncErrorHandler(asyncErrorLogger(logger)),
	)
}

// asyncErrorLogger reports subscription worker failures, demoting cancellations
// that happen during shutdown.
func asyncErrorLogger(logger *slog.Logger) func(context.Context, string, error) {
	return func(ctx context.Context, scope string, err error) {
		if errors.Is(err, context.Canceled) {
			logger.DebugContext(ctx, "kernel async handler canceled", "scope", scope, "error", err)
			return
		}
		logger.ErrorContext(ctx, "kernel async error", "scope", scope, "error", err)
	}
}

func openStorage(ctx context.Context, cfg storageConfig) (termsguard.Storage, error) {
	switch cfg.kind {
	case storageTypeMemory:
		return storage.NewMemory(), nil
	case storageTypeBolt:
		return storage.OpenBolt(cfg.path)
	case storageTypeRedis:
		return storage.NewRedis(ctx, storage.RedisConfig{
			Addr:      cfg.redisAddr,
			Password:  cfg.redisPassword,
			DB:        cfg.redisDB,
			KeyPrefix: cfg.redisKeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.kind)
	}
}

func buildBackend(cfg appConfig) (termsguard.AnalysisBackend, error) {
	switch cfg.backend.kind {
	case backendTypeHTTP:
		return httpbackend.New(httpbackend.Config{
			BaseURL:    cfg.backend.httpBaseURL,
			Variant:    cfg.backend.httpVariant,
			HealthPath: cfg.backend.httpHealthPath,
		})
	case backendTypeHuggingFace:
		return huggingface.New(huggingface.Config{
			BaseURL:       cfg.backend.hfBaseURL,
			Model:         cfg.backend.hfModel,
			APIToken:      cfg.backend.hfAPIToken,
			MaxLength:     cfg.backend.hfMaxLength,
			MinLength:     cfg.backend.hfMinLength,
			MaxInputChars: cfg.backend.hfMaxInputChars,
		})
	case backendTypeLLM:
		providers, err := llm.BuildRegistry(cfg.llm, nil)
		if err != nil {
			return nil, fmt.Errorf("build llm providers: %w", err)
		}
		provider, err := providers.Resolve(cfg.backend.llmProvider)
		if err != nil {
			return nil, err
		}
		return llmbackend.New(llmbackend.Config{
			Provider:        provider,
			ProviderName:    cfg.backend.llmProvider,
			Model:           cfg.backend.llmModel,
			Temperature:     cfg.backend.llmTemperature,
			MaxOutputTokens: cfg.backend.llmMaxOutputTokens,
			MaxInputChars:   cfg.backend.llmMaxInputChars,
		})
	default:
		return nil, fmt.Errorf("unsupported backend type %q", cfg.backend.kind)
	}
}

func buildAnalysisRuntime(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	events termsguard.EventSink,
) (*analysisRuntime, error) {
	store, err := openStorage(ctx, cfg.storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	runtime := &analysisRuntime{storage: store}

	backend, err := buildBackend(cfg)
	if err != nil {
		runtime.close(logger)
		return nil, fmt.Errorf("build backend: %w", err)
	}
	runtime.backend = backend

	var cache dispatcher.Cache
	if cfg.cache.enabled {
		policy, err := cachestore.NewPolicy(cfg.cache.excludeNetworks)
		if err != nil {
			runtime.close(logger)
			return nil, fmt.Errorf("build cache policy: %w", err)
		}
		cacheStore := cachestore.New(
			store,
			cachestore.WithTTL(cfg.cache.ttl),
			cachestore.WithMaxEntries(cfg.cache.maxEntries),
			cachestore.WithEvictBatch(cfg.cache.evictBatch),
			cachestore.WithPolicy(policy),
			cachestore.WithLogger(logger),
		)
		loaded := cacheStore.Load(ctx)
		logger.DebugContext(ctx, "analysis cache loaded", "entries", loaded)
		runtime.cache = cacheStore
		cache = cacheStore
	}

	runtime.limiter = ratelimit.New(
		ratelimit.WithWindow(cfg.rateLimit.window),
		ratelimit.WithKeyMode(cfg.rateLimit.keyMode),
		ratelimit.WithLogger(logger),
	)
	runtime.history = history.New(store, history.WithLimit(cfg.historyLimit), history.WithLogger(logger))

	analysisDispatcher, err := dispatcher.New(
		backend,
		cache,
		runtime.limiter,
		runtime.history,
		dispatcher.WithMinContentLength(cfg.dispatcher.minContentLength),
		dispatcher.WithRetryPolicy(cfg.dispatcher.maxAttempts, cfg.dispatcher.transientDelay, cfg.dispatcher.failureDelay),
		dispatcher.WithHealthProbe(cfg.dispatcher.healthProbe, cfg.dispatcher.healthTimeout),
		dispatcher.WithRequestTimeout(cfg.dispatcher.requestTimeout),
		dispatcher.WithInflightScope(cfg.dispatcher.inflightScope),
		dispatcher.WithDefaultLanguage(cfg.dispatcher.defaultLanguage),
		dispatcher.WithEventSink(events),
		dispatcher.WithLogger(logger),
	)
	if err != nil {
		runtime.close(logger)
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}
	runtime.dispatcher = analysisDispatcher

	return runtime, nil
}

func buildDriverRuntime(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	registry *driver.Registry,
) ([]termsguard.Driver, termsguard.TabDeliverer, error) {
	if registry == nil {
		return nil, nil, fmt.Errorf("build drivers: nil driver registry")
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build drivers: %w", err)
	}

	drivers := make([]termsguard.Driver, 0, len(runtimes))
	for _, runtime := range runtimes {
		drivers = append(drivers, runtime.Driver)
	}

	deliverer, err := driver.NewCompositeTabDeliverer(runtimes)
	if err != nil {
		return nil, nil, fmt.Errorf("build tab deliverer: %w", err)
	}

	return drivers, deliverer, nil
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	analysis *analysisRuntime,
	deliverer termsguard.TabDeliverer,
) error {
	if analysis == nil || analysis.dispatcher == nil {
		return fmt.Errorf("register analyzer service: nil dispatcher")
	}
	if deliverer == nil {
		return fmt.Errorf("register tab deliverer service: nil deliverer")
	}

	services := []struct {
		name    string
		service any
	}{
		{termsguard.ServiceAnalyzer, termsguard.Analyzer(analysis.dispatcher)},
		{termsguard.ServiceHistory, termsguard.AnalysisHistory(analysis.history)},
		{termsguard.ServiceStorage, analysis.storage},
		{termsguard.ServiceTabDeliverer, deliverer},
		{termsguard.ServiceAppInfo, termsguard.AppInfo{
			Name:        appName,
			Version:     version,
			Description: appDescription,
			BackendURL:  analysis.backend.Endpoint(),
		}},
	}
	for _, entry := range services {
		if err := kernelRuntime.RegisterService(entry.name, entry.service); err != nil {
			return fmt.Errorf("register service %s: %w", entry.name, err)
		}
	}

	return nil
}

func runtimeModules(logger *slog.Logger, cfg appConfig) []termsguard.Module {
	modules := []termsguard.Module{
		terms.New(),
		stats.New(),
		pingpong.New(),
		help.New(),
	}
	if cfg.notify.enabled {
		modules = append(modules, notify.New(
			notify.WithLogger(logger),
			notify.WithWorkers(cfg.notify.workers),
			notify.WithRetryDelay(cfg.notify.retryDelay),
		))
	}
	if cfg.autoanalyze.enabled {
		modules = append(modules, autoanalyze.New(
			autoanalyze.WithSuppressWindow(cfg.autoanalyze.suppressFor),
		))
	}

	return modules
}

func registerRuntimeModules(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	cfg appConfig,
) error {
	for _, module := range runtimeModules(logger, cfg) {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, drivers []termsguard.Driver) error {
	for _, runtimeDriver := range drivers {
		if err := kernelRuntime.RegisterDriver(runtimeDriver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtimeDriver.Name(), err)
		}
	}

	return nil
}
