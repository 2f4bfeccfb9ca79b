package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"termsguard/pkg/termsguard"
)

// Option mutates HTTP driver construction.
type Option func(*Driver)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) Option {
	return func(d *Driver) {
		if name != "" {
			d.name = name
		}
	}
}

// WithLogger configures driver logging.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Driver serves the message protocol over HTTP and tab channels over WebSocket.
type Driver struct {
	name    string
	cfg     Config
	logger  *slog.Logger
	hub     *TabHub
	limiter *clientLimiter

	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
}

// NewDriver creates an HTTP driver.
func NewDriver(cfg Config, options ...Option) (*Driver, error) {
	if strings.TrimSpace(cfg.Listen) == "" {
		return nil, fmt.Errorf("new http driver: empty listen address")
	}
	if cfg.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("new http driver: max body bytes must be > 0")
	}

	driver := &Driver{
		name:   DriverType,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(driver)
	}

	driver.hub = NewTabHub(cfg.PingInterval, driver.logger)
	driver.limiter = newClientLimiter(cfg.RequestsPerSecond, cfg.Burst, cfg.ClientIdleTimeout)
	driver.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return driver.originAllowed(r.Header.Get("Origin"))
		},
	}

	return driver, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.name
}

// Hub returns the tab channel registry served by this driver.
func (d *Driver) Hub() *TabHub {
	return d.hub
}

// Handler returns the HTTP surface routing messages through router.
func (d *Driver) Handler(router termsguard.MessageRouter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", func(w http.ResponseWriter, r *http.Request) {
		d.handleMessage(w, r, router)
	})
	mux.HandleFunc("OPTIONS /v1/messages", d.handlePreflight)
	mux.HandleFunc("GET /v1/tabs/{id}/ws", d.handleTabChannel)

	return mux
}

// Start listens on the configured address and serves until ctx ends.
func (d *Driver) Start(ctx context.Context, router termsguard.MessageRouter) error {
	if router == nil {
		return fmt.Errorf("start http driver: nil router")
	}

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", d.cfg.Listen)
	if err != nil {
		return fmt.Errorf("start http driver: listen %s: %w", d.cfg.Listen, err)
	}

	server := &http.Server{
		Handler:           d.Handler(router),
		ReadHeaderTimeout: d.cfg.ReadTimeout,
		ReadTimeout:       d.cfg.ReadTimeout,
		WriteTimeout:      d.cfg.WriteTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	d.mu.Lock()
	d.server = server
	d.mu.Unlock()

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		d.limiter.runCleanup(cleanupCtx, d.cfg.CleanupInterval, func(removed int) {
			d.logger.Debug("pruned idle clients", "removed", removed)
		})
	}()
	defer func() {
		stopCleanup()
		<-cleanupDone
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	d.logger.InfoContext(ctx, "http driver listening", "addr", listener.Addr().String())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("start http driver: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.ReadTimeout)
	defer cancel()
	d.hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
	<-serveErr

	return nil
}

// Shutdown stops the listener and closes every tab channel.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.hub.Close()

	d.mu.Lock()
	server := d.server
	d.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown http driver: %w", err)
	}

	return nil
}

func (d *Driver) handleMessage(w http.ResponseWriter, r *http.Request, router termsguard.MessageRouter) {
	d.writeCORS(w, r)

	if !d.limiter.wait(r.Context(), clientKey(r)) {
		d.writeJSON(w, http.StatusTooManyRequests, termsguard.Response{
			Success: false,
			Error:   "Too many requests. Please slow down.",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.cfg.MaxBodyBytes))
	if err != nil {
		d.writeJSON(w, http.StatusBadRequest, termsguard.Failure(fmt.Errorf("read message: %w", err)))
		return
	}
	message, err := termsguard.ParseMessage(body)
	if err != nil {
		d.writeJSON(w, http.StatusBadRequest, termsguard.Failure(err))
		return
	}

	response := router.Route(r.Context(), message)
	d.writeJSON(w, http.StatusOK, response)
}

func (d *Driver) handlePreflight(w http.ResponseWriter, r *http.Request) {
	d.writeCORS(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (d *Driver) handleTabChannel(w http.ResponseWriter, r *http.Request) {
	tabID := strings.TrimSpace(r.PathValue("id"))
	if tabID == "" {
		http.Error(w, "missing tab id", http.StatusBadRequest)
		return
	}

	ws, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.WarnContext(r.Context(), "tab channel upgrade failed", "tab_id", tabID, "error", err)
		return
	}

	d.hub.serve(tabID, ws)
}

func (d *Driver) writeCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || !d.originAllowed(origin) {
		return
	}
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type")
	header.Add("Vary", "Origin")
}

func (d *Driver) originAllowed(origin string) bool {
	if len(d.cfg.AllowedOrigins) == 0 || origin == "" {
		return true
	}

	return slices.Contains(d.cfg.AllowedOrigins, origin)
}

func (d *Driver) writeJSON(w http.ResponseWriter, status int, response termsguard.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		d.logger.Warn("write response failed", "error", err)
	}
}

// clientKey identifies the remote client for flood control.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

var _ termsguard.Driver = (*Driver)(nil)
