package panel

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/metrics"
)

// Live event names.
const (
	EventProbeResults  = "probe_results"
	EventToolsChanged  = "tools_changed"
	EventCommandResult = "command_result"
)

// Notification is the JSON-RPC style message pushed to browsers.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

func notify(event string, params ...any) Notification {
	return Notification{JSONRPC: "2.0", Method: "notify_" + event, Params: params}
}

const (
	sendBuffer   = 64
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Hub fans events out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger
	gauge    *metrics.Gauge

	mu      sync.Mutex
	clients map[int64]*wsClient
	nextID  int64
	closed  bool
}

// NewHub creates a hub. gauge may be nil.
func NewHub(gauge *metrics.Gauge) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  log.GetLogger("hub"),
		gauge:   gauge,
		clients: make(map[int64]*wsClient),
	}
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	hub    *Hub
	sendCh chan any
	done   chan struct{}
	once   sync.Once
}

// Send queues msg, dropping it when the client is not keeping up.
func (c *wsClient) Send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.hub.logger.WithField("client", c.id).Warn("dropping message (channel full)")
	}
}

func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards inbound messages and keeps the pong deadline.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithField("client", c.id).WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.logger.WithField("client", c.id).WithError(err).Debug("websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{
		id:     atomic.AddInt64(&h.nextID, 1),
		conn:   conn,
		hub:    h,
		sendCh: make(chan any, sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.setGauge(n)

	h.logger.WithField("client", c.id).Debug("websocket client connected")
	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	h.setGauge(n)
	h.logger.WithField("client", c.id).Debug("websocket client disconnected")
}

func (h *Hub) setGauge(n int) {
	if h.gauge != nil {
		h.gauge.Set(nil, float64(n))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends an event to every client.
func (h *Hub) Broadcast(event string, params ...any) {
	msg := notify(event, params...)
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Send(msg)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[int64]*wsClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.setGauge(0)
}
