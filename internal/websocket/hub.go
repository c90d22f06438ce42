package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/slipdock/slipdock/internal/pathutil"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // LAN service, same-trust network
	},
}

// incomingMessage wraps a message from a client.
type incomingMessage struct {
	client  *Client
	message []byte
}

// WatchPayload is the payload of a "watch" message from a client.
type WatchPayload struct {
	Path string `json:"path"`
}

// Hub owns the registry of connected viewers, keyed by the directory each
// one is currently watching, and fans ChangeEvents out to them. All registry
// mutation happens under one lock on the Run goroutine, so membership
// changes never race an in-flight broadcast.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	changes    chan ChangeEvent
	register   chan *Client
	unregister chan *Client
	incoming   chan incomingMessage
	done       chan struct{}
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// Client represents one WebSocket connection. watching is the directory the
// client's UI currently lists; hasWatch distinguishes "watching the root"
// from "never told us", which receives everything (activity-stream views).
type Client struct {
	ID       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	watching string
	hasWatch bool
}

// Message is the wire envelope for every outbound frame.
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// NewHub creates a hub. Call Run in its own goroutine before use.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		changes:    make(chan ChangeEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan incomingMessage, 256),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "websocket").Logger(),
	}
}

// Run is the hub's main loop and the sole place registry entries are added
// or removed.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug().Str("client", client.ID).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				h.deliver(client, message)
			}
			h.mu.Unlock()

		case ev := <-h.changes:
			h.dispatchChange(ev)

		case incoming := <-h.incoming:
			h.handleIncoming(incoming)
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// dispatchChange delivers a ChangeEvent to every client whose watched
// directory is the affected directory or one of its ancestors: a parent
// listing is affected by a change in a child.
func (h *Hub) dispatchChange(ev ChangeEvent) {
	data, err := json.Marshal(Message{
		Type:      "change",
		Payload:   ev,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.hasWatch && !pathutil.IsAncestor(client.watching, ev.Path) {
			continue
		}
		h.deliver(client, data)
	}
}

// deliver is non-blocking: a client whose queue is full is closed and
// deregistered rather than ever stalling the sender. Caller holds mu.
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		close(client.send)
		delete(h.clients, client)
		h.logger.Debug().Str("client", client.ID).Msg("dropping slow client")
	}
}

// handleIncoming processes messages received from clients. Only "watch" is
// meaningful; unknown types are ignored.
func (h *Hub) handleIncoming(incoming incomingMessage) {
	var msg Message
	if err := json.Unmarshal(incoming.message, &msg); err != nil {
		return
	}

	switch msg.Type {
	case "watch":
		payloadBytes, err := json.Marshal(msg.Payload)
		if err != nil {
			return
		}
		var payload WatchPayload
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return
		}
		h.mu.Lock()
		if _, ok := h.clients[incoming.client]; ok {
			incoming.client.watching = pathutil.CleanRelPath(payload.Path)
			incoming.client.hasWatch = true
		}
		h.mu.Unlock()
	}
}

// BroadcastChange queues a ChangeEvent for delivery. It never blocks the
// caller: when the queue is full the event is dropped, since a viewer that
// missed one refresh hint will pick up the next.
func (h *Hub) BroadcastChange(ev ChangeEvent) {
	select {
	case h.changes <- ev:
	default:
		h.logger.Warn().Str("path", ev.Path).Msg("change queue full, dropping event")
	}
}

// Broadcast sends an arbitrary typed message to all connected clients,
// regardless of watched directory. Used for progress and system events.
func (h *Hub) Broadcast(msgType string, payload interface{}) error {
	data, err := json.Marshal(Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and registers the connection. The
// optional ?path= query seeds the watched directory so changes to the first
// listing arrive without a round trip.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if c.QueryParams().Has("path") {
		client.watching = pathutil.CleanRelPath(c.QueryParam("path"))
		client.hasWatch = true
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return nil
}

// detach hands the client back to the hub for deregistration. When the hub
// has already stopped, nobody drains unregister; give up instead of leaking
// the calling goroutine.
func (c *Client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.hub.incoming <- incomingMessage{client: c, message: message}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain queued messages as separate frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
