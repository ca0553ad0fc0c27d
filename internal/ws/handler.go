package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Orochidara23000/Game-Downloader/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections for live progress updates.
type Handler struct {
	hub *Hub
	log *logger.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		log: logger.Default().WithComponent("ws"),
	}
}

// ServeHTTP makes the handler mountable on any mux.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

// ServeWS upgrades the connection and registers it with the hub. Clients
// receive a JSON job snapshot on every progress change.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(context.Background(), "websocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := NewClient(h.hub, conn)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
