package control

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sentineld/sentineld/internal/egress"
)

// clientSendBuffer bounds how many queued messages a slow WebSocket client
// tolerates before the hub drops it.
const clientSendBuffer = 256

// Client is one connected WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans egress events out to every connected WebSocket client. It
// implements egress.Sink so it can be registered directly on an
// egress.Broadcaster alongside the NATS bridge and desktop notifier.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub creates an empty Hub. Run must be started in its own goroutine
// before clients can register.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, clientSendBuffer),
	}
}

// Run drives the hub's register/unregister/broadcast loop until stop fires.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish implements egress.Sink by marshaling ev and broadcasting it to
// every connected client.
func (h *Hub) Publish(ev egress.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.broadcast <- data
}

// ClientCount reports the number of currently connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		// The control surface doesn't accept inbound WebSocket messages;
		// reading only drains the connection so pings/closes are observed.
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
