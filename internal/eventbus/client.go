package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dirtybirdnj/gellyroller/internal/logger"
	"github.com/dirtybirdnj/gellyroller/internal/observes"
)

const maxMessageSize = 512 * 1024

// Client is a single WebSocket connection registered with the Hub.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	jobs map[string]bool
	log  *logger.Logger

	mu       sync.Mutex
	lastSeen time.Time
}

// NewClient wraps an upgraded connection for registration with hub.
func NewClient(hub *Hub, conn *websocket.Conn, log *logger.Logger) *Client {
	return &Client{
		id:   uuid.New().String(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		jobs: make(map[string]bool),
		log:  log,
	}
}

// touch records activity from the client, resetting its idle clock. Called
// on registration and on every inbound read or pong so the hub's heartbeat
// eviction only catches connections that have genuinely gone silent.
func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// idleSince returns how long it has been since the client was last heard
// from. A client that has never been touched is never considered idle —
// touch is called as part of registration before the hub can observe it.
func (c *Client) idleSince() time.Duration {
	c.mu.Lock()
	last := c.lastSeen
	c.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	return time.Since(last)
}

// pongWait is how long a connection may go without a read (a client
// message or a pong) before the hub's heartbeat considers it stale; it
// tracks the hub's configurable heartbeat interval. pingPeriod and
// writeWait derive from it so the websocket-level keepalive matches the
// same interval the hub evicts on.
func (c *Client) pongWait() time.Duration {
	if c.hub != nil && c.hub.heartbeat > 0 {
		return c.hub.heartbeat
	}
	return DefaultHeartbeat
}

func (c *Client) pingPeriod() time.Duration { return (c.pongWait() * 9) / 10 }

func (c *Client) writeWait() time.Duration {
	w := c.pongWait() / 6
	if w < time.Second {
		w = time.Second
	}
	return w
}

// ReadPump pumps inbound messages from the connection to the hub until the
// connection closes. A panic while handling a message is reported and
// treated as connection loss rather than crashing the daemon.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	defer func() {
		if recovered, r := observes.Recover(); recovered {
			c.log.Error(context.Background(), "eventbus read pump panic recovered", "client_id", c.id, "panic", r)
		}
	}()

	pongWait := c.pongWait()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error(context.Background(), "eventbus read error", "client_id", c.id, "error", err)
			}
			return
		}
		c.touch()

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.log.Warn(context.Background(), "eventbus malformed message", "client_id", c.id, "error", err)
			continue
		}
		c.handleInbound(&in)
	}
}

// WritePump pumps outbound messages from the hub to the connection and
// sends periodic pings. The hub's own heartbeat ticker evicts clients that
// go idle past the same interval; this lower-level websocket ping/pong
// keepalive is what keeps a healthy client's idle clock from expiring.
func (c *Client) WritePump() {
	defer func() {
		if recovered, r := observes.Recover(); recovered {
			c.log.Error(context.Background(), "eventbus write pump panic recovered", "client_id", c.id, "panic", r)
		}
	}()

	writeWait := c.writeWait()
	ticker := time.NewTicker(c.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Error(context.Background(), "eventbus write error", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleInbound(in *Inbound) {
	switch in.Type {
	case InboundSubscribe:
		if in.JobID != "" {
			c.hub.Subscribe(c, in.JobID)
			c.deliver(newOutbound(AckSubscribed, map[string]any{"jobId": in.JobID}))
		}
	case InboundUnsubscribe:
		if in.JobID != "" {
			c.hub.Unsubscribe(c, in.JobID)
			c.deliver(newOutbound(AckUnsubscribed, map[string]any{"jobId": in.JobID}))
		}
	case InboundPing:
		c.deliver(newOutbound(AckPong, nil))
	}
}

// deliver unicasts a message to this client alone.
func (c *Client) deliver(msg *Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn(context.Background(), "eventbus client send buffer full", "client_id", c.id)
	}
}
