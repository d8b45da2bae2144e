package notify

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ksred/paper-api/internal/types"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts engine events to all connected WebSocket clients. A
// slow or failed client is dropped, never waited on.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
}

// NewHub creates a hub with no connected clients. Run must be started
// as a goroutine before events are emitted.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 64),
	}
}

// Run drains the broadcast channel and writes each message to every
// connected client, dropping clients whose writes fail.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mu.Lock()
		for client := range h.clients {
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// OrderExecuted implements Sink.
func (h *Hub) OrderExecuted(event types.ExecutionEvent) {
	h.send(event)
}

// OrderError implements Sink.
func (h *Hub) OrderError(event types.ErrorEvent) {
	h.send(event)
}

func (h *Hub) send(event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("component", "ws_hub").Msg("failed to marshal event")
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		// Broadcast buffer full: drop rather than block the engine.
		log.Warn().Str("component", "ws_hub").Msg("broadcast buffer full, dropping event")
	}
}

// HandleWebSocket upgrades an HTTP connection and registers the client.
// A read pump runs for the life of the connection so departed clients
// are unregistered promptly instead of lingering until a write fails.
func (h *Hub) HandleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("component", "ws_hub").Msg("websocket upgrade failed")
			return
		}

		h.mu.Lock()
		h.clients[conn] = true
		h.mu.Unlock()

		go h.readPump(conn)
	}
}

// readPump discards inbound frames. The stream is broadcast-only; the
// read loop exists to process control frames and to notice the client
// going away.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// drop unregisters and closes a client connection.
func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}
