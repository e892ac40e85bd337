package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dirtybirdnj/gellyroller/internal/logger"
	"github.com/dirtybirdnj/gellyroller/internal/observes"
)

// DefaultHeartbeat is the hub-level stats/liveness tick, default 30s.
const DefaultHeartbeat = 30 * time.Second

// Hub maintains every connected client and the job-id-keyed subscription
// rooms used to route job:* and position:update events.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	publishCh  chan publishRequest

	heartbeat time.Duration

	mu  sync.RWMutex
	log *logger.Logger
}

type publishRequest struct {
	jobID string // empty means broadcast to all
	msg   *Outbound
}

// NewHub creates a Hub. heartbeat <= 0 uses DefaultHeartbeat.
func NewHub(heartbeat time.Duration, log *logger.Logger) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publishCh:  make(chan publishRequest, 256),
		heartbeat:  heartbeat,
		log:        log,
	}
}

// Run drives the hub's event loop until ctx is cancelled. A panic anywhere
// in the loop is reported and logged rather than taking the hub — and the
// rest of the daemon — down with it.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		if recovered, r := observes.Recover(); recovered {
			h.log.Error(ctx, "eventbus hub panic recovered", "panic", r)
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			client.touch()
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			client.deliver(newOutbound(AckConnected, map[string]any{"clientId": client.id}))
			h.log.Info(ctx, "eventbus client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.removeClient(ctx, client)

		case req := <-h.publishCh:
			h.deliverToRoom(req.jobID, req.msg)

		case <-ticker.C:
			h.evictStale(ctx)
		}
	}
}

// evictStale drops every client that has gone silent for longer than the
// hub's heartbeat interval — the same interval configured via
// bus.heartbeat_interval_ms — removing it from the client set and every
// subscription room it belonged to.
func (h *Hub) evictStale(ctx context.Context) {
	h.mu.RLock()
	var stale []*Client
	for c := range h.clients {
		if idle := c.idleSince(); idle > h.heartbeat {
			stale = append(stale, c)
		}
	}
	clients, rooms := len(h.clients), len(h.rooms)
	h.mu.RUnlock()

	h.log.Debug(ctx, "eventbus heartbeat", "clients", clients, "rooms", rooms, "stale", len(stale))
	for _, c := range stale {
		h.log.Warn(ctx, "eventbus client unresponsive, evicting", "client_id", c.id, "idle", c.idleSince())
		h.removeClient(ctx, c)
	}
}

// removeClient drops client from the hub and every room it subscribed to.
// Safe to call from the unregister case or from heartbeat eviction.
func (h *Hub) removeClient(ctx context.Context, client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		for job, clients := range h.rooms {
			if clients[client] {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.rooms, job)
				}
			}
		}
		close(client.send)
	}
	h.mu.Unlock()
	h.log.Info(ctx, "eventbus client unregistered", "client_id", client.id)
}

// Register admits a client into the hub.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Subscribe adds a client to a job's subscription room.
func (h *Hub) Subscribe(c *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[jobID] == nil {
		h.rooms[jobID] = make(map[*Client]bool)
	}
	h.rooms[jobID][c] = true
	c.jobs[jobID] = true
}

// Unsubscribe removes a client from a job's subscription room.
func (h *Hub) Unsubscribe(c *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[jobID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, jobID)
		}
	}
	delete(c.jobs, jobID)
}

// Publish sends an event to a single job's subscribers.
func (h *Hub) Publish(jobID string, eventType OutboundType, data map[string]any) {
	h.publishCh <- publishRequest{jobID: jobID, msg: newOutbound(eventType, data)}
}

// Broadcast sends an event to every connected client — used for
// machine:status and similar non-job events.
func (h *Hub) Broadcast(eventType OutboundType, data map[string]any) {
	h.publishCh <- publishRequest{msg: newOutbound(eventType, data)}
}

func (h *Hub) deliverToRoom(jobID string, msg *Outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error(context.Background(), "eventbus marshal failed", "error", err)
		return
	}

	targets := h.clients
	if jobID != "" {
		targets = h.rooms[jobID]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.log.Warn(context.Background(), "eventbus client send buffer full", "client_id", client.id)
		}
	}
}

// Stats reports current connection/room counts.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	roomSizes := make(map[string]int, len(h.rooms))
	for job, clients := range h.rooms {
		roomSizes[job] = len(clients)
	}
	return map[string]any{
		"clients": len(h.clients),
		"rooms":   roomSizes,
	}
}
