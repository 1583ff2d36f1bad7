package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // same-origin requests carry no Origin header
		}
		for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
		}
		logger.WarnCF("api", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// wsEvent is the wire form of a system event pushed to clients.
type wsEvent struct {
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// wsHub fans system events out to connected WebSocket clients. Slow clients
// are dropped, never waited on.
type wsHub struct {
	events <-chan bus.SystemEvent

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func newWSHub(events <-chan bus.SystemEvent) *wsHub {
	return &wsHub{
		events:  events,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

func (h *wsHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-h.events:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *wsHub) broadcast(ev bus.SystemEvent) {
	payload, err := json.Marshal(wsEvent{
		Type:      ev.Type,
		Source:    ev.Source,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      ev.Data,
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- payload:
		default:
			// Slow client: disconnect rather than stall the stream.
			close(send)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		close(send)
		delete(h.clients, conn)
		conn.Close()
	}
}

func (h *wsHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("api", "WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	send := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()
	logger.DebugC("api", "WebSocket client connected")

	go h.writeLoop(conn, send)
	h.readLoop(conn)
}

// writeLoop pushes events and pings until the send channel closes.
func (h *wsHub) writeLoop(conn *websocket.Conn, send chan []byte) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case payload, ok := <-send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames; the stream is one-way, so reads only detect
// disconnects.
func (h *wsHub) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		if send, ok := h.clients[conn]; ok {
			close(send)
			delete(h.clients, conn)
		}
		h.mu.Unlock()
		conn.Close()
		logger.DebugC("api", "WebSocket client disconnected")
	}()

	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
