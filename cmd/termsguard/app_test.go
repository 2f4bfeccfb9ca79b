package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"termsguard/internal/cachestore"
	"termsguard/internal/dispatcher"
	"termsguard/internal/driver"
	"termsguard/internal/history"
	"termsguard/internal/ratelimit"
	"termsguard/pkg/termsguard"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func mustBuiltinRegistry(t *testing.T) *driver.Registry {
	t.Helper()

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("NewBuiltinRegistry() error = %v", err)
	}

	return registry
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr {
				return
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads all supported fields from json config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "termsguard.json")
		writeConfigFile(t, configPath, `{
			"log_level":"warn",
			"kernel":{
				"module_hook_timeout":"7s",
				"shutdown_timeout":"15s",
				"action_timeout":"45s",
				"handler_timeout":"12s",
				"subscription_buffer":64,
				"subscription_workers":5
			},
			"history":{"limit":25},
			"storage":{"type":"redis","redis":{"addr":"127.0.0.1:6379","password":"env:TERMSGUARD_TEST_REDIS","db":2,"key_prefix":"tg"}},
			"cache":{"enabled":true,"ttl":"48h","max_entries":50,"evict_batch":5,"purge_interval":"30m","exclude_networks":["10.0.0.0/8"]},
			"rate_limit":{"window":"10s","key_mode":"site","cleanup_interval":"2m"},
			"dispatcher":{
				"min_content_length":200,
				"max_attempts":4,
				"transient_delay":"3s",
				"failure_delay":"500ms",
				"health_probe":false,
				"health_timeout":"2s",
				"request_timeout":"30s",
				"inflight_scope":"global",
				"default_language":"de"
			},
			"backend":{"type":"http","http":{"base_url":"http://backend:9000","variant":"analyze_text","health_path":"ready"}},
			"drivers":[{"name":"local","type":"http","config":{"listen":"127.0.0.1:0"}}],
			"notify":{"enabled":false,"workers":2,"retry_delay":"250ms"},
			"autoanalyze":{"suppress_for":"10m"}
		}`)
		t.Setenv(envConfigFile, configPath)
		t.Setenv("TERMSGUARD_TEST_REDIS", "hunter2")

		cfg, err := loadConfig(mustBuiltinRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelWarn {
			t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelWarn)
		}
		if cfg.moduleHookTimeout != 7*time.Second || cfg.shutdownTimeout != 15*time.Second || cfg.actionTimeout != 45*time.Second {
			t.Fatalf("kernel timeouts = %s/%s/%s, want 7s/15s/45s", cfg.moduleHookTimeout, cfg.shutdownTimeout, cfg.actionTimeout)
		}
		if cfg.handlerTimeout != 12*time.Second {
			t.Fatalf("handler timeout = %s, want 12s", cfg.handlerTimeout)
		}
		if cfg.historyLimit != 25 {
			t.Fatalf("history limit = %d, want 25", cfg.historyLimit)
		}
		if cfg.subscriptionBuffer != 64 || cfg.subscriptionWorkers != 5 {
			t.Fatalf("subscription = %d/%d, want 64/5", cfg.subscriptionBuffer, cfg.subscriptionWorkers)
		}

		wantStorage := storageConfig{
			kind:           storageTypeRedis,
			path:           defaultBoltPath,
			redisAddr:      "127.0.0.1:6379",
			redisPassword:  "hunter2",
			redisDB:        2,
			redisKeyPrefix: "tg",
		}
		if diff := cmp.Diff(wantStorage, cfg.storage, cmp.AllowUnexported(storageConfig{})); diff != "" {
			t.Fatalf("storage mismatch (-want +got):\n%s", diff)
		}

		wantCache := cacheConfig{
			enabled:         true,
			ttl:             48 * time.Hour,
			maxEntries:      50,
			evictBatch:      5,
			purgeInterval:   30 * time.Minute,
			excludeNetworks: []string{"10.0.0.0/8"},
		}
		if diff := cmp.Diff(wantCache, cfg.cache, cmp.AllowUnexported(cacheConfig{})); diff != "" {
			t.Fatalf("cache mismatch (-want +got):\n%s", diff)
		}

		wantRateLimit := rateLimitConfig{window: 10 * time.Second, keyMode: ratelimit.KeyModeSite, cleanupInterval: 2 * time.Minute}
		if diff := cmp.Diff(wantRateLimit, cfg.rateLimit, cmp.AllowUnexported(rateLimitConfig{})); diff != "" {
			t.Fatalf("rate limit mismatch (-want +got):\n%s", diff)
		}

		wantDispatcher := dispatcherConfig{
			minContentLength: 200,
			maxAttempts:      4,
			transientDelay:   3 * time.Second,
			failureDelay:     500 * time.Millisecond,
			healthProbe:      false,
			healthTimeout:    2 * time.Second,
			requestTimeout:   30 * time.Second,
			inflightScope:    dispatcher.InflightScopeGlobal,
			defaultLanguage:  "de",
		}
		if diff := cmp.Diff(wantDispatcher, cfg.dispatcher, cmp.AllowUnexported(dispatcherConfig{})); diff != "" {
			t.Fatalf("dispatcher mismatch (-want +got):\n%s", diff)
		}

		if cfg.backend.kind != backendTypeHTTP || cfg.backend.httpBaseURL != "http://backend:9000" ||
			cfg.backend.httpVariant != "analyze_text" || cfg.backend.httpHealthPath != "ready" {
			t.Fatalf("backend = %+v, want http backend at http://backend:9000", cfg.backend)
		}
		if len(cfg.drivers) != 1 || cfg.drivers[0].Name != "local" || !cfg.drivers[0].Enabled {
			t.Fatalf("drivers = %+v, want one enabled local driver", cfg.drivers)
		}
		if cfg.notify.enabled || cfg.notify.workers != 2 || cfg.notify.retryDelay != 250*time.Millisecond {
			t.Fatalf("notify = %+v, want disabled with 2 workers and 250ms retry", cfg.notify)
		}
		if !cfg.autoanalyze.enabled || cfg.autoanalyze.suppressFor != 10*time.Minute {
			t.Fatalf("autoanalyze = %+v, want enabled with 10m suppression", cfg.autoanalyze)
		}
	})

	t.Run("loads yaml config file with defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "termsguard.yaml")
		writeConfigFile(t, configPath, `
log_level: debug
storage:
  type: memory
backend:
  type: llm
  llm:
    provider: main
    model: gpt-test
llm:
  providers:
    main:
      type: openai
      api_key: sk-test
drivers:
  - name: local
    type: http
    config:
      listen: 127.0.0.1:0
      allowed_origins: ["chrome-extension://abc"]
`)
		t.Setenv(envConfigFile, configPath)

		cfg, err := loadConfig(mustBuiltinRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelDebug {
			t.Fatalf("log level = %v, want debug", cfg.logLevel)
		}
		if cfg.storage.kind != storageTypeMemory {
			t.Fatalf("storage kind = %q, want memory", cfg.storage.kind)
		}
		if cfg.backend.kind != backendTypeLLM || cfg.backend.llmProvider != "main" || cfg.backend.llmModel != "gpt-test" {
			t.Fatalf("backend = %+v, want llm main/gpt-test", cfg.backend)
		}
		if profile, ok := cfg.llm.Providers["main"]; !ok || profile.APIKey != "sk-test" {
			t.Fatalf("llm providers = %+v, want main profile", cfg.llm.Providers)
		}
		if !strings.Contains(string(cfg.drivers[0].Config), "chrome-extension://abc") {
			t.Fatalf("driver config = %s, want allowed origin preserved", cfg.drivers[0].Config)
		}
		if cfg.historyLimit != history.DefaultLimit || cfg.cache.purgeInterval != cachestore.DefaultPurgeInterval {
			t.Fatalf("defaults not kept: history limit %d, purge interval %s", cfg.historyLimit, cfg.cache.purgeInterval)
		}
		if cfg.actionTimeout != defaultActionTimeout || cfg.rateLimit.window != ratelimit.DefaultWindow {
			t.Fatalf("defaults not kept: action timeout %s, window %s", cfg.actionTimeout, cfg.rateLimit.window)
		}
		if !cfg.notify.enabled || !cfg.cache.enabled {
			t.Fatal("notify and cache should default to enabled")
		}
	})
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	const driverBlock = `"drivers":[{"name":"local","type":"http","config":{}}]`

	tests := []struct {
		name             string
		body             string
		wantErrSubstring string
	}{
		{
			name:             "invalid log level",
			body:             `{"log_level":"trace",` + driverBlock + `}`,
			wantErrSubstring: "log_level",
		},
		{
			name:             "negative duration",
			body:             `{"rate_limit":{"window":"-1s"},` + driverBlock + `}`,
			wantErrSubstring: "rate_limit.window",
		},
		{
			name:             "non-positive history limit",
			body:             `{"history":{"limit":0},` + driverBlock + `}`,
			wantErrSubstring: "history.limit",
		},
		{
			name:             "unknown storage type",
			body:             `{"storage":{"type":"etcd"},` + driverBlock + `}`,
			wantErrSubstring: "storage.type",
		},
		{
			name:             "redis without addr",
			body:             `{"storage":{"type":"redis"},` + driverBlock + `}`,
			wantErrSubstring: "storage.redis.addr",
		},
		{
			name:             "unknown key mode",
			body:             `{"rate_limit":{"key_mode":"path"},` + driverBlock + `}`,
			wantErrSubstring: "rate_limit.key_mode",
		},
		{
			name:             "unknown inflight scope",
			body:             `{"dispatcher":{"inflight_scope":"tab"},` + driverBlock + `}`,
			wantErrSubstring: "dispatcher.inflight_scope",
		},
		{
			name:             "invalid excluded network",
			body:             `{"cache":{"exclude_networks":["not-a-cidr"]},` + driverBlock + `}`,
			wantErrSubstring: "cache.exclude_networks",
		},
		{
			name:             "llm backend without provider profile",
			body:             `{"backend":{"type":"llm","llm":{"provider":"missing","model":"m"}},` + driverBlock + `}`,
			wantErrSubstring: "unknown llm provider",
		},
		{
			name:             "missing secret env",
			body:             `{"backend":{"type":"huggingface","huggingface":{"api_token":"env:TERMSGUARD_TEST_UNSET_TOKEN"}},` + driverBlock + `}`,
			wantErrSubstring: "backend.huggingface.api_token",
		},
		{
			name:             "no enabled driver",
			body:             `{"drivers":[{"name":"local","type":"http","enabled":false,"config":{}}]}`,
			wantErrSubstring: "at least one enabled driver",
		},
		{
			name:             "unsupported driver type",
			body:             `{"drivers":[{"name":"native","type":"native_messaging","config":{}}]}`,
			wantErrSubstring: "unsupported type native_messaging",
		},
		{
			name:             "driver without config",
			body:             `{"drivers":[{"name":"local","type":"http"}]}`,
			wantErrSubstring: "drivers[0].config",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "termsguard.json")
			writeConfigFile(t, configPath, testCase.body)
			t.Setenv(envConfigFile, configPath)

			_, err := loadConfig(mustBuiltinRegistry(t))
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
				t.Fatalf("loadConfig() error = %v, want substring %q", err, testCase.wantErrSubstring)
			}
		})
	}
}

func TestAsyncErrorLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantLevel string
		wantMsg   string
	}{
		{
			name:      "handler failure",
			err:       errors.New("stats store usage: boom"),
			wantLevel: "level=ERROR",
			wantMsg:   "kernel async error",
		},
		{
			name:      "shutdown cancellation",
			err:       fmt.Errorf("handle event: %w", context.Canceled),
			wantLevel: "level=DEBUG",
			wantMsg:   "kernel async handler canceled",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var output bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&output, &slog.HandlerOptions{Level: slog.LevelDebug}))
			asyncErrorLogger(logger)(context.Background(), "stats-analysis", testCase.err)

			line := output.String()
			if !strings.Contains(line, testCase.wantLevel) || !strings.Contains(line, testCase.wantMsg) {
				t.Fatalf("log line = %q, want %s %q", line, testCase.wantLevel, testCase.wantMsg)
			}
			if !strings.Contains(line, "scope=stats-analysis") {
				t.Fatalf("log line = %q, want scope attribute", line)
			}
		})
	}
}

func TestResolveConfigFilePathUsesEnv(t *testing.T) {
	t.Setenv(envConfigFile, " /etc/termsguard/custom.yaml ")

	path, err := resolveConfigFilePath()
	if err != nil {
		t.Fatalf("resolveConfigFilePath() error = %v", err)
	}
	if path != "/etc/termsguard/custom.yaml" {
		t.Fatalf("path = %q, want /etc/termsguard/custom.yaml", path)
	}
}

func TestRuntimeWiringRoutesActions(t *testing.T) {
	cfg := defaultAppConfig()
	cfg.storage = storageConfig{kind: storageTypeMemory}
	cfg.autoanalyze.enabled = false
	cfg.drivers = []driver.Definition{{Name: "local", Type: "http", Enabled: true, Config: []byte(`{"listen":"127.0.0.1:0"}`)}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	kernelRuntime := buildKernelRuntime(logger, cfg)

	analysis, err := buildAnalysisRuntime(ctx, logger, cfg, kernelRuntime.EventBus())
	if err != nil {
		t.Fatalf("buildAnalysisRuntime() error = %v", err)
	}
	defer analysis.close(logger)

	drivers, deliverer, err := buildDriverRuntime(ctx, logger, cfg, mustBuiltinRegistry(t))
	if err != nil {
		t.Fatalf("buildDriverRuntime() error = %v", err)
	}
	if len(drivers) != 1 {
		t.Fatalf("drivers = %d, want 1", len(drivers))
	}
	if err := registerRuntimeDrivers(kernelRuntime, drivers); err != nil {
		t.Fatalf("registerRuntimeDrivers() error = %v", err)
	}
	if err := registerRuntimeServices(kernelRuntime, analysis, deliverer); err != nil {
		t.Fatalf("registerRuntimeServices() error = %v", err)
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, logger, cfg); err != nil {
		t.Fatalf("registerRuntimeModules() error = %v", err)
	}

	tests := []struct {
		name        string
		body        string
		wantSuccess bool
		wantError   string
	}{
		{name: "ping", body: `{"action":"ping"}`, wantSuccess: true},
		{name: "extension info", body: `{"action":"getExtensionInfo"}`, wantSuccess: true},
		{name: "stats", body: `{"action":"getStats"}`, wantSuccess: true},
		{name: "empty history", body: `{"action":"get_analysis_data"}`, wantSuccess: true},
		{name: "cache stats", body: `{"action":"getCacheStats"}`, wantSuccess: true},
		{name: "short content", body: `{"action":"analyzeTerms","content":"too short","url":"https://a.example"}`},
		{name: "disabled module action", body: `{"action":"tab_updated"}`, wantError: "Unknown action: tab_updated"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			message, err := termsguard.ParseMessage([]byte(testCase.body))
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}

			response := kernelRuntime.Route(ctx, message)
			if response.Success != testCase.wantSuccess {
				t.Fatalf("Route() = %+v, want success=%v", response, testCase.wantSuccess)
			}
			if testCase.wantError != "" && response.Error != testCase.wantError {
				t.Fatalf("Route() error = %q, want %q", response.Error, testCase.wantError)
			}
		})
	}

	info, err := termsguard.ResolveAs[termsguard.AppInfo](kernelRuntime.Services(), termsguard.ServiceAppInfo)
	if err != nil {
		t.Fatalf("resolve app info: %v", err)
	}
	if info.Name != appName || info.BackendURL != "http://localhost:8000" {
		t.Fatalf("app info = %+v, want termsguard at http://localhost:8000", info)
	}
}

func TestRuntimeModulesHonorToggles(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := defaultAppConfig()
	names := moduleNames(runtimeModules(logger, cfg))
	want := []string{"terms", "stats", "pingpong", "help", "notify", "autoanalyze"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("modules mismatch (-want +got):\n%s", diff)
	}

	cfg.notify.enabled = false
	cfg.autoanalyze.enabled = false
	names = moduleNames(runtimeModules(logger, cfg))
	want = []string{"terms", "stats", "pingpong", "help"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("modules mismatch (-want +got):\n%s", diff)
	}
}

func moduleNames(modules []termsguard.Module) []string {
	names := make([]string, 0, len(modules))
	for _, module := range modules {
		names = append(names, module.Name())
	}

	return names
}
