package ws

import (
	"sync"

	"github.com/Orochidara23000/Game-Downloader/internal/download"
)

// Hub maintains the set of active clients and broadcasts job snapshots to
// them. Every connected client sees every job; the download dashboard is
// shared.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan download.Snapshot

	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan download.Snapshot, 16),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case snap := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- snap:
				default:
					// Client's buffer is full, drop the connection.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a snapshot for delivery to all connected clients. It never
// blocks the caller: if the hub itself is backed up the update is dropped,
// clients will catch up on the next one.
func (h *Hub) Broadcast(snap download.Snapshot) {
	select {
	case h.broadcast <- snap:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcaster adapts the hub to the download service's notifier interface.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a notifier that forwards snapshots to the hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// JobUpdated implements download.Notifier.
func (b *Broadcaster) JobUpdated(snap download.Snapshot) {
	b.hub.Broadcast(snap)
}
