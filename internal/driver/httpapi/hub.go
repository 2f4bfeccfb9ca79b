package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"termsguard/pkg/termsguard"
)

const (
	tabSendBuffer   = 16
	tabWriteTimeout = 10 * time.Second
	tabReadLimit    = 4096
)

// TabHub tracks live WebSocket channels per browser tab.
//
// One tab may hold several channels (content script and popup); deliveries
// go to all of them.
type TabHub struct {
	mu     sync.RWMutex
	tabs   map[string]map[*tabConn]struct{}
	closed bool

	pingInterval time.Duration
	logger       *slog.Logger
}

// NewTabHub creates an empty hub.
func NewTabHub(pingInterval time.Duration, logger *slog.Logger) *TabHub {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TabHub{
		tabs:         make(map[string]map[*tabConn]struct{}),
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// DeliverToTab queues message on every channel of tabID.
func (h *TabHub) DeliverToTab(ctx context.Context, tabID string, message any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deliver to tab %s: %w", tabID, err)
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("deliver to tab %s: marshal: %w", tabID, err)
	}

	h.mu.RLock()
	conns := make([]*tabConn, 0, len(h.tabs[tabID]))
	for conn := range h.tabs[tabID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("deliver to tab %s: %w", tabID, termsguard.ErrTabNotConnected)
	}

	queued := 0
	for _, conn := range conns {
		if conn.enqueue(payload) {
			queued++
		}
	}
	if queued == 0 {
		return fmt.Errorf("deliver to tab %s: send queue full", tabID)
	}

	return nil
}

// Connections returns the number of live channels for tabID.
func (h *TabHub) Connections(tabID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.tabs[tabID])
}

// serve owns one upgraded connection until either side closes it.
func (h *TabHub) serve(tabID string, ws *websocket.Conn) {
	conn := &tabConn{
		ws:   ws,
		send: make(chan []byte, tabSendBuffer),
		done: make(chan struct{}),
	}
	if !h.attach(tabID, conn) {
		conn.close()
		_ = ws.Close()
		return
	}
	h.logger.Debug("tab connected", "tab_id", tabID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writeLoop(h.pingInterval)
	}()

	conn.readLoop(2 * h.pingInterval)

	h.detach(tabID, conn)
	conn.close()
	<-writerDone
	_ = ws.Close()
	h.logger.Debug("tab disconnected", "tab_id", tabID)
}

func (h *TabHub) attach(tabID string, conn *tabConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	conns, exists := h.tabs[tabID]
	if !exists {
		conns = make(map[*tabConn]struct{})
		h.tabs[tabID] = conns
	}
	conns[conn] = struct{}{}

	return true
}

func (h *TabHub) detach(tabID string, conn *tabConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.tabs[tabID]
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.tabs, tabID)
	}
}

// Close stops every channel and rejects new ones.
func (h *TabHub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*tabConn, 0)
	for _, conns := range h.tabs {
		for conn := range conns {
			all = append(all, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range all {
		conn.close()
	}
}

type tabConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *tabConn) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *tabConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writeLoop drains queued payloads and keeps the channel alive with pings.
// Closing done sends a close frame, which unblocks the peer and our reader.
func (c *tabConn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(tabWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(tabWriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				_ = c.ws.Close()
				return
			}
		case <-c.done:
			deadline := time.Now().Add(tabWriteTimeout)
			closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
			if err := c.ws.WriteControl(websocket.CloseMessage, closing, deadline); err != nil {
				_ = c.ws.Close()
				return
			}
			_ = c.ws.SetReadDeadline(deadline)
			return
		}
	}
}

// readLoop consumes control frames until the peer goes away.
func (c *tabConn) readLoop(pongWait time.Duration) {
	c.ws.SetReadLimit(tabReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

var _ termsguard.TabDeliverer = (*TabHub)(nil)
