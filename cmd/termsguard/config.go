package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"termsguard/internal/backend/httpbackend"
	"termsguard/internal/cachestore"
	"termsguard/internal/dispatcher"
	"termsguard/internal/driver"
	"termsguard/internal/history"
	"termsguard/internal/ratelimit"
	llmconfig "termsguard/pkg/llm/config"
)

const (
	envConfigFile           = "TERMSGUARD_CONFIG_FILE"
	defaultConfigFilePath   = "config/termsguard.json"
	yamlConfigFilePath      = "config/termsguard.yaml"
	alternateConfigFilePath = "bin/config/termsguard.json"

	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultActionTimeout      = 90 * time.Second
	defaultHandlerTimeout     = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2

	defaultBoltPath            = "data/termsguard.db"
	defaultRateCleanupInterval = time.Minute
	defaultNotifyWorkers       = 4
	defaultNotifyRetryDelay    = time.Second
	defaultSuppressFor         = 5 * time.Minute
)

// Storage backends selectable in config.
const (
	storageTypeMemory = "memory"
	storageTypeBolt   = "bolt"
	storageTypeRedis  = "redis"
)

// Analysis backends selectable in config.
const (
	backendTypeHTTP        = "http"
	backendTypeHuggingFace = "huggingface"
	backendTypeLLM         = "llm"
)

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	actionTimeout       time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	historyLimit int

	storage     storageConfig
	cache       cacheConfig
	rateLimit   rateLimitConfig
	dispatcher  dispatcherConfig
	backend     backendConfig
	llm         llmconfig.Config
	drivers     []driver.Definition
	notify      notifyConfig
	autoanalyze autoanalyzeConfig
}

type storageConfig struct {
	kind           string
	path           string
	redisAddr      string
	redisPassword  string
	redisDB        int
	redisKeyPrefix string
}

type cacheConfig struct {
	enabled         bool
	ttl             time.Duration
	maxEntries      int
	evictBatch      int
	purgeInterval   time.Duration
	excludeNetworks []string
}

type rateLimitConfig struct {
	window          time.Duration
	keyMode         ratelimit.KeyMode
	cleanupInterval time.Duration
}

type dispatcherConfig struct {
	minContentLength int
	maxAttempts      int
	transientDelay   time.Duration
	failureDelay     time.Duration
	healthProbe      bool
	healthTimeout    time.Duration
	requestTimeout   time.Duration
	inflightScope    dispatcher.InflightScope
	defaultLanguage  string
}

type backendConfig struct {
	kind string

	httpBaseURL    string
	httpVariant    httpbackend.Variant
	httpHealthPath string

	hfBaseURL       string
	hfModel         string
	hfAPIToken      string
	hfMaxLength     int
	hfMinLength     int
	hfMaxInputChars int

	llmProvider        string
	llmModel           string
	llmTemperature     float64
	llmMaxOutputTokens int
	llmMaxInputChars   int
}

type notifyConfig struct {
	enabled    bool
	workers    int
	retryDelay time.Duration
}

type autoanalyzeConfig struct {
	enabled     bool
	suppressFor time.Duration
}

type fileConfig struct {
	LogLevel    string                `json:"log_level"`
	Kernel      fileKernelConfig      `json:"kernel"`
	History     fileHistoryConfig     `json:"history"`
	Storage     fileStorageConfig     `json:"storage"`
	Cache       fileCacheConfig       `json:"cache"`
	RateLimit   fileRateLimitConfig   `json:"rate_limit"`
	Dispatcher  fileDispatcherConfig  `json:"dispatcher"`
	Backend     fileBackendConfig     `json:"backend"`
	LLM         llmconfig.File        `json:"llm"`
	Drivers     []fileDriverEntry     `json:"drivers"`
	Notify      fileNotifyConfig      `json:"notify"`
	AutoAnalyze fileAutoanalyzeConfig `json:"autoanalyze"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	ActionTimeout       string `json:"action_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
}

type fileHistoryConfig struct {
	Limit *int `json:"limit"`
}

type fileStorageConfig struct {
	Type  string           `json:"type"`
	Path  string           `json:"path"`
	Redis fileRedisStorage `json:"redis"`
}

type fileRedisStorage struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

type fileCacheConfig struct {
	Enabled         *bool    `json:"enabled"`
	TTL             string   `json:"ttl"`
	MaxEntries      *int     `json:"max_entries"`
	EvictBatch      *int     `json:"evict_batch"`
	PurgeInterval   string   `json:"purge_interval"`
	ExcludeNetworks []string `json:"exclude_networks"`
}

type fileRateLimitConfig struct {
	Window          string `json:"window"`
	KeyMode         string `json:"key_mode"`
	CleanupInterval string `json:"cleanup_interval"`
}

type fileDispatcherConfig struct {
	MinContentLength *int   `json:"min_content_length"`
	MaxAttempts      *int   `json:"max_attempts"`
	TransientDelay   string `json:"transient_delay"`
	FailureDelay     string `json:"failure_delay"`
	HealthProbe      *bool  `json:"health_probe"`
	HealthTimeout    string `json:"health_timeout"`
	RequestTimeout   string `json:"request_timeout"`
	InflightScope    string `json:"inflight_scope"`
	DefaultLanguage  string `json:"default_language"`
}

type fileBackendConfig struct {
	Type        string                `json:"type"`
	HTTP        fileHTTPBackend       `json:"http"`
	HuggingFace fileHuggingFaceConfig `json:"huggingface"`
	LLM         fileLLMBackend        `json:"llm"`
}

type fileHTTPBackend struct {
	BaseURL    string `json:"base_url"`
	Variant    string `json:"variant"`
	HealthPath string `json:"health_path"`
}

type fileHuggingFaceConfig struct {
	BaseURL       string `json:"base_url"`
	Model         string `json:"model"`
	APIToken      string `json:"api_token"`
	MaxLength     int    `json:"max_length"`
	MinLength     int    `json:"min_length"`
	MaxInputChars int    `json:"max_input_chars"`
}

type fileLLMBackend struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	MaxInputChars   int     `json:"max_input_chars"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileNotifyConfig struct {
	Enabled    *bool  `json:"enabled"`
	Workers    *int   `json:"workers"`
	RetryDelay string `json:"retry_delay"`
}

type fileAutoanalyzeConfig struct {
	Enabled     *bool  `json:"enabled"`
	SuppressFor string `json:"suppress_for"`
}

func loadConfig(registry *driver.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile, os.LookupEnv); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, yamlConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		yamlConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		actionTimeout:       defaultActionTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		historyLimit: history.DefaultLimit,

		storage: storageConfig{
			kind: storageTypeBolt,
			path: defaultBoltPath,
		},
		cache: cacheConfig{
			enabled:         true,
			ttl:             cachestore.DefaultTTL,
			maxEntries:      cachestore.DefaultMaxEntries,
			evictBatch:      cachestore.DefaultEvictBatch,
			purgeInterval:   cachestore.DefaultPurgeInterval,
			excludeNetworks: append([]string(nil), cachestore.DefaultExcludedNetworks...),
		},
		rateLimit: rateLimitConfig{
			window:          ratelimit.DefaultWindow,
			keyMode:         ratelimit.KeyModeHost,
			cleanupInterval: defaultRateCleanupInterval,
		},
		dispatcher: dispatcherConfig{
			minContentLength: dispatcher.DefaultMinContentLength,
			maxAttempts:      dispatcher.DefaultMaxAttempts,
			transientDelay:   dispatcher.DefaultTransientDelay,
			failureDelay:     dispatcher.DefaultFailureDelay,
			healthProbe:      true,
			healthTimeout:    dispatcher.DefaultHealthTimeout,
			requestTimeout:   dispatcher.DefaultRequestTimeout,
			inflightScope:    dispatcher.InflightScopeFingerprint,
			defaultLanguage:  dispatcher.DefaultLanguage,
		},
		backend: backendConfig{
			kind:        backendTypeHTTP,
			httpBaseURL: httpbackend.DefaultBaseURL,
			httpVariant: httpbackend.VariantAnalyze,
		},
		drivers: make([]driver.Definition, 0),
		notify: notifyConfig{
			enabled:    true,
			workers:    defaultNotifyWorkers,
			retryDelay: defaultNotifyRetryDelay,
		},
		autoanalyze: autoanalyzeConfig{
			enabled:     true,
			suppressFor: defaultSuppressFor,
		},
	}
}

// decodeConfigFile reads path as JSON, or as YAML normalized to JSON.
func decodeConfigFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var document any
		if err := yaml.Unmarshal(data, &document); err != nil {
			return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if document == nil {
			document = map[string]any{}
		}
		data, err = json.Marshal(document)
		if err != nil {
			return fileConfig{}, fmt.Errorf("normalize config file %s: %w", path, err)
		}
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return parsed, nil
}

func applyConfigFile(cfg *appConfig, path string, lookup llmconfig.LookupEnv) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	parsed, err := decodeConfigFile(path)
	if err != nil {
		return err
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	if err := applyKernelConfig(cfg, parsed.Kernel); err != nil {
		return err
	}
	if parsed.History.Limit != nil {
		if *parsed.History.Limit <= 0 {
			return fmt.Errorf("parse history.limit: must be > 0")
		}
		cfg.historyLimit = *parsed.History.Limit
	}
	if err := applyStorageConfig(cfg, parsed.Storage, lookup); err != nil {
		return err
	}
	if err := applyCacheConfig(cfg, parsed.Cache); err != nil {
		return err
	}
	if err := applyRateLimitConfig(cfg, parsed.RateLimit); err != nil {
		return err
	}
	if err := applyDispatcherConfig(cfg, parsed.Dispatcher); err != nil {
		return err
	}
	if err := applyBackendConfig(cfg, parsed.Backend, lookup); err != nil {
		return err
	}

	if len(parsed.LLM.Providers) > 0 {
		llmCfg, err := llmconfig.Parse(parsed.LLM, lookup)
		if err != nil {
			return fmt.Errorf("parse llm: %w", err)
		}
		cfg.llm = llmCfg
	}

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for index, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse drivers[%d].config: required", index)
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
	}

	if parsed.Notify.Enabled != nil {
		cfg.notify.enabled = *parsed.Notify.Enabled
	}
	if parsed.Notify.Workers != nil {
		if *parsed.Notify.Workers <= 0 {
			return fmt.Errorf("parse notify.workers: must be > 0")
		}
		cfg.notify.workers = *parsed.Notify.Workers
	}
	if err := parsePositiveDuration(parsed.Notify.RetryDelay, "notify.retry_delay", &cfg.notify.retryDelay); err != nil {
		return err
	}

	if parsed.AutoAnalyze.Enabled != nil {
		cfg.autoanalyze.enabled = *parsed.AutoAnalyze.Enabled
	}
	if err := parsePositiveDuration(parsed.AutoAnalyze.SuppressFor, "autoanalyze.suppress_for", &cfg.autoanalyze.suppressFor); err != nil {
		return err
	}

	return nil
}

func applyKernelConfig(cfg *appConfig, raw fileKernelConfig) error {
	if err := parsePositiveDuration(raw.ModuleHookTimeout, "kernel.module_hook_timeout", &cfg.moduleHookTimeout); err != nil {
		return err
	}
	if err := parsePositiveDuration(raw.ShutdownTimeout, "kernel.shutdown_timeout", &cfg.shutdownTimeout); err != nil {
		return err
	}
	if err := parsePositiveDuration(raw.ActionTimeout, "kernel.action_timeout", &cfg.actionTimeout); err != nil {
		return err
	}
	if err := parsePositiveDuration(raw.HandlerTimeout, "kernel.handler_timeout", &cfg.handlerTimeout); err != nil {
		return err
	}
	if raw.SubscriptionBuffer != nil {
		if *raw.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *raw.SubscriptionBuffer
	}
	if raw.SubscriptionWorkers != nil {
		if *raw.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *raw.SubscriptionWorkers
	}

	return nil
}

func applyStorageConfig(cfg *appConfig, raw fileStorageConfig, lookup llmconfig.LookupEnv) error {
	if kind := strings.ToLower(strings.TrimSpace(raw.Type)); kind != "" {
		cfg.storage.kind = kind
	}
	if path := strings.TrimSpace(raw.Path); path != "" {
		cfg.storage.path = path
	}

	password, err := llmconfig.ResolveSecret(raw.Redis.Password, lookup)
	if err != nil {
		return fmt.Errorf("parse storage.redis.password: %w", err)
	}
	cfg.storage.redisAddr = strings.TrimSpace(raw.Redis.Addr)
	cfg.storage.redisPassword = password
	cfg.storage.redisDB = raw.Redis.DB
	cfg.storage.redisKeyPrefix = strings.TrimSpace(raw.Redis.KeyPrefix)

	return nil
}

func applyCacheConfig(cfg *appConfig, raw fileCacheConfig) error {
	if raw.Enabled != nil {
		cfg.cache.enabled = *raw.Enabled
	}
	if err := parsePositiveDuration(raw.TTL, "cache.ttl", &cfg.cache.ttl); err != nil {
		return err
	}
	if err := parsePositiveDuration(raw.PurgeInterval, "cache.purge_interval", &cfg.cache.purgeInterval); err != nil {
		return err
	}
	if raw.MaxEntries != nil {
		if *raw.MaxEntries <= 0 {
			return fmt.Errorf("parse cache.max_entries: must be > 0")
		}
		cfg.cache.maxEntries = *raw.MaxEntries
	}
	if raw.EvictBatch != nil {
		if *raw.EvictBatch <= 0 {
			return fmt.Errorf("parse cache.evict_batch: must be > 0")
		}
		cfg.cache.evictBatch = *raw.EvictBatch
	}
	if raw.ExcludeNetworks != nil {
		cfg.cache.excludeNetworks = append([]string(nil), raw.ExcludeNetworks...)
	}

	return nil
}

func applyRateLimitConfig(cfg *appConfig, raw fileRateLimitConfig) error {
	if err := parsePositiveDuration(raw.Window, "rate_limit.window", &cfg.rateLimit.window); err != nil {
		return err
	}
	if err := parsePositiveDuration(raw.CleanupInterval, "rate_limit.cleanup_interval", &cfg.rateLimit.cleanupInterval); err != nil {
		return err
	}
	if strings.TrimSpace(raw.KeyMode) != "" {
		mode, err := ratelimit.ParseKeyMode(raw.KeyMode)
		if err != nil {
			return fmt.Errorf("parse rate_limit.key_mode: %w", err)
		}
		cfg.rateLimit.keyMode = mode
	}

	return nil
}

func applyDispatcherConfig(cfg *appConfig, raw fileDispatcherConfig) error {
	if raw.MinContentLength != nil {
		if *raw.MinContentLength <= 0 {
			return fmt.Errorf("parse dispatcher.min_content_length: must be > 0")
		}
		cfg.dispatcher.minContentLength = *raw.MinContentLength
	}
	if raw.MaxAttempts != nil {
		if *raw.MaxAttempts <= 0 {
			return fmt.Errorf("parse dispatcher.max_attempts: must be > 0")
		}
		cfg.dispatcher.maxAttempts = *raw.MaxAttempts
	}
	if raw.HealthProbe != nil {
		cfg.dispatcher.healthProbe = *raw.HealthProbe
	}

	durations := []struct {
		raw    string
		field  string
		target *time.Duration
	}{
		{raw.TransientDelay, "dispatcher.transient_delay", &cfg.dispatcher.transientDelay},
		{raw.FailureDelay, "dispatcher.failure_delay", &cfg.dispatcher.failureDelay},
		{raw.HealthTimeout, "dispatcher.health_timeout", &cfg.dispatcher.healthTimeout},
		{raw.RequestTimeout, "dispatcher.request_timeout", &cfg.dispatcher.requestTimeout},
	}
	for _, duration := range durations {
		if err := parsePositiveDuration(duration.raw, duration.field, duration.target); err != nil {
			return err
		}
	}

	if strings.TrimSpace(raw.InflightScope) != "" {
		scope, err := dispatcher.ParseInflightScope(raw.InflightScope)
		if err != nil {
			return fmt.Errorf("parse dispatcher.inflight_scope: %w", err)
		}
		cfg.dispatcher.inflightScope = scope
	}
	if language := strings.TrimSpace(raw.DefaultLanguage); language != "" {
		cfg.dispatcher.defaultLanguage = language
	}

	return nil
}

func applyBackendConfig(cfg *appConfig, raw fileBackendConfig, lookup llmconfig.LookupEnv) error {
	if kind := strings.ToLower(strings.TrimSpace(raw.Type)); kind != "" {
		cfg.backend.kind = kind
	}

	if baseURL := strings.TrimSpace(raw.HTTP.BaseURL); baseURL != "" {
		cfg.backend.httpBaseURL = baseURL
	}
	if strings.TrimSpace(raw.HTTP.Variant) != "" {
		variant, err := httpbackend.ParseVariant(raw.HTTP.Variant)
		if err != nil {
			return fmt.Errorf("parse backend.http.variant: %w", err)
		}
		cfg.backend.httpVariant = variant
	}
	cfg.backend.httpHealthPath = strings.TrimSpace(raw.HTTP.HealthPath)

	token, err := llmconfig.ResolveSecret(raw.HuggingFace.APIToken, lookup)
	if err != nil {
		return fmt.Errorf("parse backend.huggingface.api_token: %w", err)
	}
	cfg.backend.hfBaseURL = strings.TrimSpace(raw.HuggingFace.BaseURL)
	cfg.backend.hfModel = strings.TrimSpace(raw.HuggingFace.Model)
	cfg.backend.hfAPIToken = token
	cfg.backend.hfMaxLength = raw.HuggingFace.MaxLength
	cfg.backend.hfMinLength = raw.HuggingFace.MinLength
	cfg.backend.hfMaxInputChars = raw.HuggingFace.MaxInputChars

	cfg.backend.llmProvider = strings.TrimSpace(raw.LLM.Provider)
	cfg.backend.llmModel = strings.TrimSpace(raw.LLM.Model)
	cfg.backend.llmTemperature = raw.LLM.Temperature
	cfg.backend.llmMaxOutputTokens = raw.LLM.MaxOutputTokens
	cfg.backend.llmMaxInputChars = raw.LLM.MaxInputChars

	return nil
}

func parsePositiveDuration(raw string, field string, target *time.Duration) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	value, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	if value <= 0 {
		return fmt.Errorf("parse %s: must be > 0", field)
	}
	*target = value

	return nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	switch cfg.storage.kind {
	case storageTypeMemory:
	case storageTypeBolt:
		if cfg.storage.path == "" {
			return fmt.Errorf("storage.path is required for bolt storage")
		}
	case storageTypeRedis:
		if cfg.storage.redisAddr == "" {
			return fmt.Errorf("storage.redis.addr is required for redis storage")
		}
	default:
		return fmt.Errorf("storage.type: unsupported type %q", cfg.storage.kind)
	}

	if cfg.cache.enabled {
		if _, err := cachestore.NewPolicy(cfg.cache.excludeNetworks); err != nil {
			return fmt.Errorf("cache.exclude_networks: %w", err)
		}
	}

	switch cfg.backend.kind {
	case backendTypeHTTP, backendTypeHuggingFace:
	case backendTypeLLM:
		if cfg.backend.llmProvider == "" {
			return fmt.Errorf("backend.llm.provider is required")
		}
		if cfg.backend.llmModel == "" {
			return fmt.Errorf("backend.llm.model is required")
		}
		if _, exists := cfg.llm.Providers[cfg.backend.llmProvider]; !exists {
			return fmt.Errorf("backend.llm.provider: unknown llm provider %s", cfg.backend.llmProvider)
		}
	default:
		return fmt.Errorf("backend.type: unsupported type %q", cfg.backend.kind)
	}

	knownTypes := make(map[string]struct{})
	for _, driverType := range registry.Types() {
		knownTypes[driverType] = struct{}{}
	}

	enabledDrivers := 0
	seenNames := make(map[string]struct{}, len(cfg.drivers))
	for _, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := seenNames[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if !definition.Enabled {
			continue
		}
		if _, known := knownTypes[definition.Type]; !known {
			return fmt.Errorf("drivers[%s].type: unsupported type %s", definition.Name, definition.Type)
		}
		enabledDrivers++
	}
	if enabledDrivers == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
