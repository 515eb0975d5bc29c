package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/runlet/engine/common/bootstrap"
	"github.com/runlet/engine/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are left to the deployment edge; the socket only ever
	// pushes progress snapshots.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the WebSocket endpoint and a health surface.
type Server struct {
	hub        *Hub
	components *bootstrap.Components
	log        *logger.Logger
}

func NewServer(hub *Hub, components *bootstrap.Components) *Server {
	return &Server{hub: hub, components: components, log: components.Logger}
}

// HandleWebSocket upgrades GET /ws?execution_id=... and hands the connection
// to the hub.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	executionID := r.URL.Query().Get("execution_id")
	if executionID == "" {
		http.Error(w, "execution_id query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, executionID)
	s.hub.register <- client

	s.log.Info("subscriber connected", "execution_id", executionID, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// HandleHealth reports dependency health plus live connection counts.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":      "ok",
		"service":     "fanout",
		"connections": s.hub.ConnectionCount(),
		"executions":  s.hub.ExecutionCount(),
	}
	if err := s.components.Health(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["error"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
