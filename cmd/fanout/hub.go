package main

import (
	"context"
	"sync"

	"github.com/runlet/engine/common/logger"
)

// Update is one materialized snapshot ready for delivery to every socket
// watching an execution.
type Update struct {
	ExecutionID string
	Snapshot    []byte
	Final       bool
}

// Hub tracks the WebSocket connections per execution and fans published
// snapshots out to them. All map mutation happens on the Run goroutine; the
// mutex only guards the count methods used by the health endpoint.
type Hub struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[string][]*Client

	// latest keeps the most recent materialized snapshot per execution so a
	// subscriber that connects mid-run is caught up immediately instead of
	// waiting for the next frame.
	latest map[string][]byte

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Update
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[string][]*Client),
		latest:     make(map[string][]byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Update, 256),
	}
}

// Run owns the connection registry until the context ends.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case update := <-h.broadcast:
			h.publish(update)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.executionID] = append(h.clients[client.executionID], client)

	// Catch-up: hand the newcomer the last known state right away.
	if snapshot, ok := h.latest[client.executionID]; ok {
		select {
		case client.send <- snapshot:
		default:
		}
	}

	h.log.Debug("subscriber registered",
		"execution_id", client.executionID,
		"watching", len(h.clients[client.executionID]))
}

// unregisterClient removes a connection. A client evicted earlier by publish
// is no longer in the registry and is left alone, so its send channel is
// never closed twice.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[client.executionID]
	for i, c := range clients {
		if c != client {
			continue
		}
		h.clients[client.executionID] = append(clients[:i], clients[i+1:]...)
		close(client.send)
		if len(h.clients[client.executionID]) == 0 {
			delete(h.clients, client.executionID)
		}
		h.log.Debug("subscriber unregistered",
			"execution_id", client.executionID,
			"watching", len(h.clients[client.executionID]))
		return
	}
}

func (h *Hub) publish(update *Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if update.Final {
		delete(h.latest, update.ExecutionID)
	} else {
		h.latest[update.ExecutionID] = update.Snapshot
	}

	clients := h.clients[update.ExecutionID]
	if len(clients) == 0 {
		return
	}

	alive := clients[:0]
	for _, client := range clients {
		select {
		case client.send <- update.Snapshot:
			alive = append(alive, client)
		default:
			// The peer stopped draining its buffer. Evict it here so a
			// later unregister finds nothing to close.
			h.log.Warn("dropping stalled subscriber", "execution_id", update.ExecutionID)
			close(client.send)
		}
	}
	if len(alive) == 0 {
		delete(h.clients, update.ExecutionID)
	} else {
		h.clients[update.ExecutionID] = alive
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, clients := range h.clients {
		for _, client := range clients {
			close(client.send)
		}
		delete(h.clients, id)
	}
}

// ConnectionCount returns the number of open sockets.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

// ExecutionCount returns the number of executions with at least one watcher.
func (h *Hub) ExecutionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
