package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSMessage is the minimal event envelope sent over WebSocket.
//
// The frontend switches on `type` and treats `data` as an arbitrary JSON
// object. Event types: "capacity" (serial pool telemetry), "row" (row status
// change), "batch" (batch created or completed).
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WSClient wraps a websocket connection with a per-connection write mutex.
// Gorilla WebSocket requires that writes are not concurrent on the same Conn.
type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes a message as JSON to this client.
func (c *WSClient) Send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// WSHub is a lightweight broadcast hub for a set of WebSocket clients.
//
// The server runs on the production floor with a handful of operator
// browsers, so a simple in-memory hub is enough. Broadcast marshals once per
// message and fans the raw bytes out to each client.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewWSHub constructs an empty hub.
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*WSClient]struct{})}
}

// Add registers a connection with the hub and returns the WSClient wrapper.
func (h *WSHub) Add(conn *websocket.Conn) *WSClient {
	c := &WSClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Remove unregisters a client and closes its connection.
func (h *WSHub) Remove(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Broadcast sends a message to all connected clients.
//
// Failures are ignored; the read loop in handleWSEvents notices disconnects
// and removes the client. This keeps the broadcast path fast.
func (h *WSHub) Broadcast(msg WSMessage) {
	b, _ := json.Marshal(msg)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
}

// upgrader upgrades HTTP requests to WebSockets. The server is reachable
// only on the production LAN, so origins are not restricted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWSEvents streams queue and capacity events. The endpoint does not
// accept incoming messages; the read loop exists to detect disconnects.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := s.events.Add(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.events.Remove(client)
			return
		}
	}
}

// broadcastCapacity pushes fresh serial pool telemetry to every listener.
// Best-effort; failures only log.
func (s *Server) broadcastCapacity(r *http.Request) {
	cfg := s.config()
	cap, err := s.serials.Capacity(r.Context(), cfg.WarningThreshold, cfg.CriticalThreshold)
	if err != nil {
		s.log.WithError(err).Warn("capacity broadcast failed")
		return
	}
	s.events.Broadcast(WSMessage{Type: "capacity", Data: cap})
}

// broadcastRow announces a row status change.
func (s *Server) broadcastRow(batchID int64, qsaSeq int, status string) {
	s.events.Broadcast(WSMessage{Type: "row", Data: map[string]interface{}{
		"batchId":     batchID,
		"qsaSequence": qsaSeq,
		"status":      status,
	}})
}
