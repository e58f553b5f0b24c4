// Package telemetry broadcasts dispatch-daemon events (sky-regime edges,
// rain readings, dome-slit commands, FWHM reports, and tracked-object
// pass geometry) to connected WebSocket dashboards. System state changes
// and plan transitions are not published. It has no effect on
// scheduling; it exists purely so an operator can watch the daemon
// work, and a slow or absent dashboard client never stalls the core.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one notification pushed to every connected dashboard.
type Event struct {
	Type string `json:"type"`
	TS   string `json:"ts"`
	GID  string `json:"gid,omitempty"`
	UID  string `json:"uid,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Hub fans out Events to every connected dashboard over WebSocket.
// Register/unregister/broadcast all go through channels so Hub is safe
// for concurrent use without its own lock.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	upgrader   websocket.Upgrader
}

// NewHub allocates a Hub with buffered channels. Call Run in a
// goroutine to start the event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run processes registrations, unregistrations, broadcasts, and
// keepalive pings until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.Close()
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}

		case c := <-h.unregister:
			delete(h.clients, c)
			_ = c.Close()

		case msg := <-h.broadcast:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(3 * time.Second))
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					delete(h.clients, c)
					_ = c.Close()
				}
			}

		case <-ping.C:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					delete(h.clients, c)
					_ = c.Close()
				}
			}
		}
	}
}

// Handler upgrades incoming requests to WebSocket and registers them.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		h.register <- conn

		go func() {
			defer func() { h.unregister <- conn }()
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			conn.SetPongHandler(func(string) error {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// Publish queues ev for delivery to every connected dashboard. A full
// broadcast channel drops the event rather than blocking the caller —
// telemetry must never slow down the dispatcher.
func (h *Hub) Publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}
