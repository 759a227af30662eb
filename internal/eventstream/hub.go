// Package eventstream broadcasts engine notifications to websocket clients.
//
// A Hub is subscribed to a notify.Notifier and mounted as an http.Handler.
// Every client receives every event as one JSON message. Clients that fall
// behind are disconnected instead of blocking the publisher.
package eventstream

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dshills/plugsync/internal/logging"
	"github.com/dshills/plugsync/internal/notify"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// ErrClosed is returned when serving on a closed hub.
var ErrClosed = errors.New("event stream closed")

// Warning is the wire form of notify.Warning.
type Warning struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Plugins []string `json:"plugins,omitempty"`
}

// Message is the wire form of notify.Event.
type Message struct {
	Topic   string    `json:"topic"`
	Game    string    `json:"game"`
	Plugins []string  `json:"plugins,omitempty"`
	Warning *Warning  `json:"warning,omitempty"`
	Time    time.Time `json:"time"`
}

// NewMessage converts ev.
func NewMessage(ev notify.Event) Message {
	m := Message{
		Topic:   string(ev.Topic),
		Game:    ev.GameID,
		Plugins: ev.Plugins,
		Time:    ev.Time,
	}
	if w := ev.Warning; w != nil {
		m.Warning = &Warning{Kind: w.Kind.String(), Message: w.Message, Plugins: w.Plugins}
	}
	return m
}

type client struct {
	conn *websocket.Conn
	send chan Message
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks connected clients.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) {
		h.logger = logging.Component(l, "eventstream")
	}
}

// WithOriginCheck sets the origin policy. By default only same-host
// requests and clients without an Origin header are accepted.
func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:  logging.Nop(),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues ev for every client. It never blocks; a client whose queue
// is full is dropped. Publish has the notify.Observer signature.
func (h *Hub) Publish(ev notify.Event) {
	msg := NewMessage(ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("client too slow, dropping")
			delete(h.clients, c)
			c.stop()
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan Message, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("client connected")

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.stop()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.stop()
	}
}

// readPump discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("client read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug().Err(err).Msg("client write failed")
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
