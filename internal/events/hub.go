// Package events fans call-lifecycle transitions out to websocket
// subscribers. The register service is the only producer; operator UIs and
// dashboards subscribe at GET /ws.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bearer token gates the route; origins stay open.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventType tags a lifecycle transition.
type EventType string

const (
	EventCallRegistered   EventType = "call_registered"
	EventCallRetried      EventType = "call_retried"
	EventCallAcknowledged EventType = "call_acknowledged"
	EventCallHeard        EventType = "call_heard"
	EventCycleClosed      EventType = "cycle_closed"
	EventCallScheduled    EventType = "call_scheduled"
)

// Message is one frame on the wire.
type Message struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one subscriber connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains active subscriber connections and broadcasts messages.
// Slow subscribers are dropped, never waited on.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "events-hub").Logger(),
	}
}

// Run owns the client set until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
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
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("total", total).Msg("subscriber connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("total", total).Msg("subscriber disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast fans an event out to every subscriber. Never blocks the caller:
// when the hub is saturated the frame is dropped.
func (h *Hub) Broadcast(eventType EventType, data any) {
	msg := Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(eventType)).Msg("event marshal failed")
		return
	}

	select {
	case h.broadcast <- jsonData:
	default:
		h.log.Warn().Str("type", string(eventType)).Msg("hub saturated, event dropped")
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches the subscriber to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames; subscribers are read-only. It exists to
// process control frames and notice closed connections.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps messages to the websocket connection with a 30 s ping.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued messages into the current frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
