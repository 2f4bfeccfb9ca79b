package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DriverType is the configuration token of the HTTP message driver.
const DriverType = "http"

const (
	defaultListen            = "127.0.0.1:8765"
	defaultRequestsPerSecond = 5
	defaultBurst             = 20
	defaultClientIdleTimeout = 10 * time.Minute
	defaultCleanupInterval   = time.Minute
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 2 * time.Minute
	defaultMaxBodyBytes      = 2 << 20
	defaultPingInterval      = 30 * time.Second
	defaultMaxPacingDelay    = time.Second
)

type runtimeConfig struct {
	Listen            string   `json:"listen"`
	RequestsPerSecond *float64 `json:"requests_per_second"`
	Burst             int      `json:"burst"`
	ClientIdleTimeout string   `json:"client_idle_timeout"`
	CleanupInterval   string   `json:"cleanup_interval"`
	ReadTimeout       string   `json:"read_timeout"`
	WriteTimeout      string   `json:"write_timeout"`
	MaxBodyBytes      int64    `json:"max_body_bytes"`
	PingInterval      string   `json:"ping_interval"`
	AllowedOrigins    []string `json:"allowed_origins"`
}

// Config holds validated HTTP driver settings.
type Config struct {
	// Listen is the TCP address served by the driver.
	Listen string
	// RequestsPerSecond is the per-client message rate. Zero disables flood control.
	RequestsPerSecond float64
	Burst             int
	// ClientIdleTimeout drops per-client limiters not seen for this long.
	ClientIdleTimeout time.Duration
	CleanupInterval   time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxBodyBytes      int64
	// PingInterval is the WebSocket keepalive period.
	PingInterval time.Duration
	// AllowedOrigins lists browser origins accepted for CORS and WebSocket upgrades.
	// An empty list accepts every origin.
	AllowedOrigins []string
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() Config {
	return Config{
		Listen:            defaultListen,
		RequestsPerSecond: defaultRequestsPerSecond,
		Burst:             defaultBurst,
		ClientIdleTimeout: defaultClientIdleTimeout,
		CleanupInterval:   defaultCleanupInterval,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		MaxBodyBytes:      defaultMaxBodyBytes,
		PingInterval:      defaultPingInterval,
	}
}

// BuildRuntimeFromConfig builds one HTTP driver and its tab hub from config payload.
func BuildRuntimeFromConfig(name string, logger *slog.Logger, rawConfig []byte) (*Driver, *TabHub, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("parse http runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	driver, err := NewDriver(cfg, WithName(name), WithLogger(logger.With("driver", name)))
	if err != nil {
		return nil, nil, fmt.Errorf("new http driver: %w", err)
	}

	return driver, driver.Hub(), nil
}

func parseRuntimeConfig(raw []byte) (Config, error) {
	var parsed runtimeConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return Config{}, fmt.Errorf("unmarshal: %w", err)
		}
	}

	cfg := DefaultConfig()
	if listen := strings.TrimSpace(parsed.Listen); listen != "" {
		cfg.Listen = listen
	}
	if parsed.RequestsPerSecond != nil {
		if *parsed.RequestsPerSecond < 0 {
			return Config{}, fmt.Errorf("requests_per_second must be >= 0")
		}
		cfg.RequestsPerSecond = *parsed.RequestsPerSecond
	}
	if parsed.Burst < 0 {
		return Config{}, fmt.Errorf("burst must be >= 0")
	}
	if parsed.Burst > 0 {
		cfg.Burst = parsed.Burst
	}
	if parsed.MaxBodyBytes < 0 {
		return Config{}, fmt.Errorf("max_body_bytes must be >= 0")
	}
	if parsed.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = parsed.MaxBodyBytes
	}

	durations := []struct {
		field  string
		raw    string
		target *time.Duration
	}{
		{field: "client_idle_timeout", raw: parsed.ClientIdleTimeout, target: &cfg.ClientIdleTimeout},
		{field: "cleanup_interval", raw: parsed.CleanupInterval, target: &cfg.CleanupInterval},
		{field: "read_timeout", raw: parsed.ReadTimeout, target: &cfg.ReadTimeout},
		{field: "write_timeout", raw: parsed.WriteTimeout, target: &cfg.WriteTimeout},
		{field: "ping_interval", raw: parsed.PingInterval, target: &cfg.PingInterval},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if parsedDuration <= 0 {
			return Config{}, fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.target = parsedDuration
	}

	for _, origin := range parsed.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	return cfg, nil
}
