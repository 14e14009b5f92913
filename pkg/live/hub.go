// Package live pushes dataset and view changes to open chart pages over
// WebSocket.
package live

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/recera/scattershare/pkg/codec"
	"github.com/recera/scattershare/pkg/dataset"
	"github.com/recera/scattershare/pkg/point"
)

// Event types.
const (
	EventDataset = "dataset"
	EventView    = "view"
)

// Event is one message to the pages. Points holds the canonical text form
// of the dataset.
type Event struct {
	Type    string          `json:"type"`
	Version uint64          `json:"version"`
	Points  json.RawMessage `json:"points,omitempty"`
	View    json.RawMessage `json:"view,omitempty"`
}

// DatasetEvent builds the event announcing a replaced dataset.
func DatasetEvent(d point.Dataset, version uint64) (Event, error) {
	b, err := codec.MarshalText(d)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventDataset, Version: version, Points: b}, nil
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Config configures a Hub.
type Config struct {
	// AllowedOrigins lists origins that may connect. Empty allows only the
	// request's own host; "*" allows any.
	AllowedOrigins []string
	// SendBuffer is the per-client queue length. A client whose queue is
	// full is dropped. Values below 2 are raised to 2 so the connect
	// replay fits.
	SendBuffer int
	Logger     *slog.Logger
}

// Hub tracks connected pages and broadcasts events to them.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger
	bufSize  int

	mu      sync.RWMutex
	clients map[string]*client
	last    map[string][]byte // most recent event per type, replayed on connect
	closed  bool
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a hub.
func NewHub(cfg Config) *Hub {
	switch {
	case cfg.SendBuffer <= 0:
		cfg.SendBuffer = 16
	case cfg.SendBuffer < 2:
		cfg.SendBuffer = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Hub{
		log:     cfg.Logger.With("comp", "live"),
		bufSize: cfg.SendBuffer,
		clients: make(map[string]*client),
		last:    make(map[string][]byte),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.bufSize),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.log.Debug("client connected", "client", c.id, "remote", r.RemoteAddr)

	go h.writer(c)
	h.reader(c)

	h.unregister(c)
	h.log.Debug("client disconnected", "client", c.id)
}

// Broadcast sends e to every connected client and returns how many got it.
func (h *Hub) Broadcast(e Event) int {
	msg, err := json.Marshal(e)
	if err != nil {
		h.log.Error("failed to encode event", "type", e.Type, "err", err)
		return 0
	}

	h.mu.Lock()
	h.last[e.Type] = msg
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range clients {
		select {
		case c.send <- msg:
			sent++
		case <-c.done:
		default:
			h.log.Warn("dropping slow client", "client", c.id)
			c.close()
		}
	}
	return sent
}

// Attach broadcasts a dataset event whenever store is replaced.
func (h *Hub) Attach(store *dataset.Store) (cancel func()) {
	return store.Subscribe(func(d point.Dataset, version uint64) {
		e, err := DatasetEvent(d, version)
		if err != nil {
			h.log.Error("failed to encode dataset", "version", version, "err", err)
			return
		}
		h.Broadcast(e)
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	// Replay so a page opened after a change starts current.
	for _, typ := range []string{EventDataset, EventView} {
		msg, ok := h.last[typ]
		if !ok {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Never block while holding h.mu.
			h.log.Warn("replay queue full", "client", c.id, "type", typ)
		}
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

// reader drains incoming frames so control messages are processed. Pages
// do not send anything we act on.
func (h *Hub) reader(c *client) {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("unexpected close", "client", c.id, "err", err)
			}
			return
		}
	}
}

func (h *Hub) writer(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("write failed", "client", c.id, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		if len(set) > 0 {
			return false
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
