package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

var _ outbound.EventSink = (*StreamHub)(nil)

// StreamHubConfig holds configuration for the websocket stream.
type StreamHubConfig struct {
	// BufferSize is the number of frames queued per client before it is dropped.
	BufferSize   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// PongWait must exceed PingInterval.
	PongWait time.Duration
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// StreamHubConfigDefaults returns a config with default values.
func StreamHubConfigDefaults() StreamHubConfig {
	return StreamHubConfig{
		BufferSize:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		Logger:       slog.Default(),
	}
}

type streamClient struct {
	conn    *websocket.Conn
	symbols map[string]bool
	send    chan []byte
}

func (c *streamClient) wants(symbol string) bool {
	return len(c.symbols) == 0 || c.symbols[symbol]
}

// StreamHub pushes exchange events to websocket clients on /v1/stream.
// It is an EventSink, so the settlement path publishes to it like any other sink.
//
// Clients may filter with ?symbols=EU-CER-24Q4,GLOBAL-VER. A client whose
// buffer fills up is disconnected rather than slowing down publishers.
type StreamHub struct {
	config   StreamHubConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

// NewStreamHub creates a new stream hub.
func NewStreamHub(config StreamHubConfig) (*StreamHub, error) {
	defaults := StreamHubConfigDefaults()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.PongWait <= 0 {
		config.PongWait = defaults.PongWait
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.PongWait <= config.PingInterval {
		return nil, fmt.Errorf("pong wait (%s) must exceed ping interval (%s)", config.PongWait, config.PingInterval)
	}

	h := &StreamHub{
		config:  config,
		logger:  config.Logger.With("component", "stream-hub"),
		clients: make(map[*streamClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

func (h *StreamHub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.config.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP upgrades the connection and streams events until the client goes away.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		conn:    conn,
		symbols: parseSymbols(r.URL.Query().Get("symbols")),
		send:    make(chan []byte, h.config.BufferSize),
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Debug("stream client connected", "remote", r.RemoteAddr, "symbols", len(c.symbols))

	go h.writePump(c)
	h.readPump(c)
}

func parseSymbols(s string) map[string]bool {
	if s == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out[sym] = true
		}
	}
	return out
}

func (h *StreamHub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister must be called with h.mu held.
func (h *StreamHub) unregister(c *streamClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	h.unregister(c)
	h.mu.Unlock()
}

// readPump discards client frames and keeps the read deadline moving on pongs.
func (h *StreamHub) readPump(c *streamClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream client read error", "error", err)
			}
			return
		}
	}
}

func (h *StreamHub) writePump(c *streamClient) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			_ = c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("stream client write failed", "error", err)
				h.remove(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// Publish fans the event out to every subscribed client. It never blocks on a client.
func (h *StreamHub) Publish(ctx context.Context, event outbound.Event) error {
	msg, ok := toStreamMessage(event)
	if !ok {
		return nil
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal stream message: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(msg.Symbol) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping slow stream client", "symbol", msg.Symbol, "buffered", len(c.send))
			h.unregister(c)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *StreamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *StreamHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		h.unregister(c)
	}
	return nil
}
