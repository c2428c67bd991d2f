package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yourusername/bedrock-server-manager/internal/events"
)

// Rooms clients can join
const (
	RoomConsole = "console"
	RoomEvents  = "events"
)

// Message types
const (
	TypeConsoleLine = "console_line"
	TypeLifecycle   = "lifecycle"
	TypeStopped     = "stopped"
	TypeBackup      = "backup"
	TypeCommand     = "command"
	TypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// InboundMessage is a message read from a client
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID       string
	Operator string
	Conn     *websocket.Conn
	Room     string
	Send     chan *Message
	Hub      *Hub

	// OnMessage handles messages read by ReadPump; nil ignores them
	OnMessage func(c *Client, msg InboundMessage)

	mu     sync.Mutex
	closed bool
}

// Hub manages all WebSocket connections and rooms
type Hub struct {
	// Registered clients grouped by room
	rooms map[string]map[*Client]bool

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to room
	broadcast chan *BroadcastMessage

	// Active clients by ID for quick lookup
	clients map[string]*Client

	// closed once Run returns
	done chan struct{}

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast to a room
type BroadcastMessage struct {
	Room    string
	Message *Message
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 1024),
		clients:    make(map[string]*Client),
		done:       make(chan struct{}),
	}
}

// Attach forwards console lines to the console room and supervisor and
// backup events to the events room. The returned function unsubscribes.
func (h *Hub) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.ConsoleLine) {
			h.BroadcastToRoom(RoomConsole, &Message{Type: TypeConsoleLine, Payload: e, Timestamp: e.ReceivedAt})
		}),
		bus.Subscribe(func(e events.LifecycleEvent) {
			h.BroadcastToRoom(RoomEvents, &Message{Type: TypeLifecycle, Payload: e, Timestamp: e.At})
		}),
		bus.Subscribe(func(e events.StoppedEvent) {
			h.BroadcastToRoom(RoomEvents, &Message{Type: TypeStopped, Payload: e, Timestamp: e.At})
		}),
		bus.Subscribe(func(e events.BackupEvent) {
			h.BroadcastToRoom(RoomEvents, &Message{Type: TypeBackup, Payload: e, Timestamp: e.At})
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToRoom(message)

		case <-ctx.Done():
			log.Println("[WebSocket] Hub shutting down")
			h.shutdown()
			close(h.done)
			return
		}
	}
}

// ErrHubClosed is returned by Join once Run has returned
var ErrHubClosed = errors.New("websocket hub is closed")

// Join registers a client with the running hub.
func (h *Hub) Join(client *Client) error {
	select {
	case h.Register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// registerClient adds a client to a room
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	if h.rooms[client.Room] == nil {
		h.rooms[client.Room] = make(map[*Client]bool)
	}
	h.rooms[client.Room][client] = true

	log.Printf("[WebSocket] Client %s (operator=%s) joined room %s. Room size: %d",
		client.ID, client.Operator, client.Room, len(h.rooms[client.Room]))
}

// unregisterClient removes a client from a room
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, client.ID)

	clients, ok := h.rooms[client.Room]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	client.closeSend()

	if len(clients) == 0 {
		delete(h.rooms, client.Room)
		log.Printf("[WebSocket] Room %s is now empty and removed", client.Room)
		return
	}
	log.Printf("[WebSocket] Client %s left room %s. Room size: %d", client.ID, client.Room, len(clients))
}

// broadcastToRoom sends a message to all clients in a room
func (h *Hub) broadcastToRoom(bm *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[bm.Room] {
		select {
		case client.Send <- bm.Message:
		default:
			// Slow client: drop rather than stall the room
			log.Printf("[WebSocket] Client %s send channel full, dropping message", client.ID)
		}
	}
}

// GetRoomSize returns the number of clients in a room
func (h *Hub) GetRoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastToRoom queues a message for every client in a room. It never
// blocks; messages are dropped when the hub is backed up.
func (h *Hub) BroadcastToRoom(room string, message *Message) {
	select {
	case h.broadcast <- &BroadcastMessage{Room: room, Message: message}:
	default:
		log.Printf("[WebSocket] Broadcast queue full, dropping %s message for room %s", message.Type, room)
	}
}

// shutdown closes all connections
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.closeSend()
		if client.Conn != nil {
			client.Conn.Close()
		}
	}

	h.rooms = make(map[string]map[*Client]bool)
	h.clients = make(map[string]*Client)
}

// ReadPump reads client messages until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg InboundMessage
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			return
		}

		if c.OnMessage != nil {
			c.OnMessage(c, msg)
		}
	}
}

// WritePump writes queued messages and pings to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(msgType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client send channel is closed")
	}

	msg := &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	select {
	case c.Send <- msg:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
