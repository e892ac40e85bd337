package eventbus

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dirtybirdnj/gellyroller/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades incoming HTTP connections and wires them to the hub. It
// is plain net/http plumbing, not an HTTP router — routing/middleware are
// out of scope.
type Handler struct {
	hub *Hub
	log *logger.Logger
}

// NewHandler builds a Handler bound to hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, log: log}
}

// ServeHTTP upgrades the connection and starts the client's read/write pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(r.Context(), "eventbus upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, h.log)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// StatsHandler serves the hub's connection/room counters as JSON.
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.hub.Stats())
}
