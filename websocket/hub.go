package websocket

import (
	"encoding/json/v2"
	"sync"

	"github.com/google/uuid"
)

// Hub manages multiple WebSocket connections for broadcasting.
//
// Hub provides a central point for managing WebSocket clients and
// broadcasting messages to all connected clients simultaneously.
//
// Thread-safe operations allow concurrent client registration,
// unregistration, and broadcasting from multiple goroutines.
//
// Example Usage:
//
//	hub := websocket.NewHub()
//	go hub.Run()
//	defer hub.Close()
//
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//	    conn, _ := websocket.Upgrade(w, r, nil)
//	    hub.Register(conn)
//
//	    for {
//	        msg, err := conn.ReadMessage()
//	        if err != nil {
//	            break
//	        }
//	        hub.Broadcast(msg.Payload)
//	    }
//	    hub.Unregister(conn)
//	})
type Hub struct {
	clients map[string]*hubClient // keyed by ClientInfo.ID

	register   chan *hubClient
	unregister chan *Conn
	broadcast  chan []byte

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	mu sync.RWMutex
}

// hubClient pairs a registered Conn with the diagnostic identity Hub
// assigns it.
type hubClient struct {
	id   string
	conn *Conn
}

// ClientInfo is a diagnostic snapshot of one registered connection,
// returned by Hub.Clients.
type ClientInfo struct {
	ID         string
	RemoteAddr string
}

// NewHub creates a new WebSocket Hub. It must be started by calling Run in
// a goroutine:
//
//	hub := websocket.NewHub()
//	go hub.Run()
//	defer hub.Close()
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*hubClient),
		register:   make(chan *hubClient),
		unregister: make(chan *Conn),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's event loop. It blocks and should be called in a
// goroutine; it returns once Close is called.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			for id, client := range h.clients {
				if client.conn == conn {
					delete(h.clients, id)
					_ = client.conn.Close()
					break
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				go func(c *Conn, msg []byte) {
					if err := c.Write(TextMessage, msg); err != nil {
						h.Unregister(c)
					}
				}(client.conn, message)
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Register adds a client to the Hub, assigning it a random diagnostic ID
// (github.com/google/uuid), and returns that ID.
func (h *Hub) Register(conn *Conn) string {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ""
	}
	h.mu.RUnlock()

	id := uuid.NewString()
	h.register <- &hubClient{id: id, conn: conn}
	return id
}

// Unregister removes a client from the Hub and closes its connection.
// Safe to call multiple times for the same client.
func (h *Hub) Unregister(conn *Conn) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	h.unregister <- conn
}

// Broadcast queues message for delivery to every registered client as a
// text frame. It returns once the message is queued, not once delivered;
// the queue holds 256 messages and Broadcast blocks while it is full. A
// client whose Write fails is automatically unregistered.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	h.broadcast <- message
}

// BroadcastText sends a text message to all connected clients.
func (h *Hub) BroadcastText(text string) {
	h.Broadcast([]byte(text))
}

// BroadcastJSON marshals v and broadcasts it as a text message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a diagnostic snapshot of every registered connection.
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]ClientInfo, 0, len(h.clients))
	for _, client := range h.clients {
		addr := ""
		if a := client.conn.RemoteAddr(); a != nil {
			addr = a.String()
		}
		infos = append(infos, ClientInfo{ID: client.id, RemoteAddr: addr})
	}
	return infos
}

// Close stops the Hub's event loop, closes every registered client
// connection, and releases internal channels. Safe to call multiple times.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	for _, client := range h.clients {
		_ = client.conn.Close()
	}
	h.clients = make(map[string]*hubClient)
	h.mu.Unlock()

	close(h.register)
	close(h.unregister)
	close(h.broadcast)

	return nil
}
