package publish

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/tagwatch/errors"
	"github.com/vinayprograms/tagwatch/heartbeat"
	"github.com/vinayprograms/tagwatch/logging"
	"github.com/vinayprograms/tagwatch/tag"
)

// HubConfig configures a WebSocketHub.
type HubConfig struct {
	// SendBuffer is the number of frames queued per client before the
	// client is dropped. Default: 64
	SendBuffer int

	// WriteWait bounds each write. Default: 10 seconds
	WriteWait time.Duration

	// PongWait is how long a client may stay silent. Pings are sent at
	// 9/10 of it. Default: 60 seconds
	PongWait time.Duration

	// CheckOrigin overrides the upgrader's origin check. Default: allow all.
	CheckOrigin func(r *http.Request) bool

	Logger *logging.Logger
}

// DefaultHubConfig returns configuration with sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer: 64,
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHub is an http.Handler that streams frames to every connected
// client.
type WebSocketHub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	dropped atomic.Int64
}

// NewWebSocketHub creates a hub with no clients.
func NewWebSocketHub(cfg HubConfig) *WebSocketHub {
	defaults := DefaultHubConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	return &WebSocketHub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger:  cfg.Logger.WithComponent("publish.ws"),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("client_connected", map[string]interface{}{"remote": conn.RemoteAddr().String()})
	go h.writePump(c)
	go h.readPump(c)
}

// OnSnapshot broadcasts s to every client.
func (h *WebSocketHub) OnSnapshot(s tag.Snapshot) error {
	data, err := snapshotFrame(s)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot", errors.WithTagID(s.ID))
	}
	h.broadcast(data)
	return nil
}

// PublishAlert broadcasts an alert edge.
func (h *WebSocketHub) PublishAlert(a heartbeat.Alert) {
	data, err := alertFrame(a)
	if err != nil {
		h.logger.Error("alert_encode_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	h.broadcast(data)
}

// Clients returns the number of connected clients.
func (h *WebSocketHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for falling behind.
func (h *WebSocketHub) Dropped() int64 {
	return h.dropped.Load()
}

// Close disconnects every client and refuses new ones.
func (h *WebSocketHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	return nil
}

func (h *WebSocketHub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			h.logger.Warn("client_dropped", map[string]interface{}{"reason": "send buffer full"})
			h.removeLocked(c)
		}
	}
}

// removeLocked unregisters c. Closing send makes its write pump say
// goodbye and close the connection.
func (h *WebSocketHub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *WebSocketHub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *WebSocketHub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards client input and unregisters the client once the
// connection fails or goes quiet past PongWait.
func (h *WebSocketHub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("client_read_failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
	}
}
