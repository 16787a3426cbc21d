package sink

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// clientQueue is how many events a listener may fall behind before it is
	// disconnected.
	clientQueue = 64
)

// ErrHubClosed is returned by Emit after Close.
var ErrHubClosed = errors.New("hub closed")

// Hub is a WebSocket endpoint that broadcasts every event, as a JSON text
// message, to all connected listeners. Each listener has its own queue and
// writer goroutine, so one slow listener cannot delay capture or reorder
// another listener's stream.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader
	origins  []string

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a hub that accepts same-origin browsers, clients that send
// no Origin header, and browser pages whose origin is listed in
// allowedOrigins. Every other handshake is rejected with 403.
func NewHub(log zerolog.Logger, allowedOrigins ...string) *Hub {
	h := &Hub{
		log:     log,
		origins: allowedOrigins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		clients: make(map[*hubClient]struct{}),
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = h.checkOrigin
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.origins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).
			Str("remote", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("WebSocket upgrade failed")
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientQueue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("remote", r.RemoteAddr).Int("listeners", n).Msg("Listener connected")

	go h.writePump(c)
	h.readPump(c)
}

// Emit queues ev for every listener. Listeners whose queue is full are
// dropped.
func (h *Hub) Emit(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Listener too slow, disconnecting")
			h.removeLocked(c)
		}
	}
	return nil
}

// Clients returns the number of connected listeners.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every listener and rejects further connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	return nil
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// removeLocked closes the client's queue; its writer then says goodbye and
// closes the connection.
func (h *Hub) removeLocked(c *hubClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// readPump discards inbound messages and keeps the pong deadline fresh.
func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("Listener read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
