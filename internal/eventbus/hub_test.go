package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dirtybirdnj/gellyroller/internal/logger"
)

func newFakeClient(id string) *Client {
	return &Client{id: id, send: make(chan []byte, 8), jobs: make(map[string]bool)}
}

// newTestHub uses a long heartbeat: fake clients are never touched after
// registration, so a short one would evict them (closing send) mid-test.
func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(time.Minute, logger.StdLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func recvOutbound(t *testing.T, c *Client) *Outbound {
	t.Helper()
	select {
	case data := <-c.send:
		var out Outbound
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return &out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_RegisterSendsConnectedAck(t *testing.T) {
	h := newTestHub(t)
	c := newFakeClient("c1")

	h.Register(c)

	out := recvOutbound(t, c)
	if out.Type != AckConnected {
		t.Fatalf("type = %s, want connected", out.Type)
	}
}

func TestHub_PublishReachesOnlySubscribers(t *testing.T) {
	h := newTestHub(t)
	subscriber := newFakeClient("sub")
	other := newFakeClient("other")

	h.Register(subscriber)
	recvOutbound(t, subscriber) // drain connected ack
	h.Register(other)
	recvOutbound(t, other)

	h.Subscribe(subscriber, "job-1")

	h.Publish("job-1", EventJobProgress, map[string]any{"currentLine": 10})

	out := recvOutbound(t, subscriber)
	if out.Type != EventJobProgress {
		t.Fatalf("type = %s, want job:progress", out.Type)
	}

	select {
	case <-other.send:
		t.Fatal("non-subscriber should not receive job-scoped event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	h := newTestHub(t)
	a := newFakeClient("a")
	b := newFakeClient("b")

	h.Register(a)
	recvOutbound(t, a)
	h.Register(b)
	recvOutbound(t, b)

	h.Broadcast(EventMachineStatus, map[string]any{"status": "idle"})

	for _, c := range []*Client{a, b} {
		out := recvOutbound(t, c)
		if out.Type != EventMachineStatus {
			t.Fatalf("type = %s, want machine:status", out.Type)
		}
	}
}

func TestHub_UnregisterRemovesFromRooms(t *testing.T) {
	h := newTestHub(t)
	c := newFakeClient("c1")

	h.Register(c)
	recvOutbound(t, c)
	h.Subscribe(c, "job-1")
	h.Unregister(c)

	time.Sleep(100 * time.Millisecond)

	stats := h.Stats()
	rooms := stats["rooms"].(map[string]int)
	if _, ok := rooms["job-1"]; ok {
		t.Fatalf("expected job-1 room to be cleaned up, got %+v", rooms)
	}
}

func TestHub_HeartbeatEvictsUnresponsiveClient(t *testing.T) {
	h := NewHub(50*time.Millisecond, logger.StdLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	live := newFakeClient("live")
	stale := newFakeClient("stale")

	h.Register(live)
	recvOutbound(t, live)
	h.Register(stale)
	recvOutbound(t, stale)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				live.touch() // keeps the live client's idle clock from expiring
			case <-stop:
				return
			}
		}
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.Stats()["clients"].(int) == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	stats := h.Stats()
	if n := stats["clients"].(int); n != 1 {
		t.Fatalf("clients = %d, want 1 (stale client should have been evicted)", n)
	}

	select {
	case _, ok := <-stale.send:
		if ok {
			t.Fatal("expected stale client's send channel to be closed on eviction")
		}
	default:
		t.Fatal("expected stale client's send channel to be closed on eviction")
	}
}

func TestClient_HandleInboundSubscribe(t *testing.T) {
	h := newTestHub(t)
	c := newFakeClient("c1")
	c.hub = h

	h.Register(c)
	recvOutbound(t, c)

	c.handleInbound(&Inbound{Type: InboundSubscribe, JobID: "job-9"})

	out := recvOutbound(t, c)
	if out.Type != AckSubscribed {
		t.Fatalf("type = %s, want subscribed", out.Type)
	}
	if out.Data["jobId"] != "job-9" {
		t.Fatalf("jobId = %v, want job-9", out.Data["jobId"])
	}
}

func TestClient_HandleInboundPing(t *testing.T) {
	c := newFakeClient("c1")
	h := newTestHub(t)
	c.hub = h

	c.handleInbound(&Inbound{Type: InboundPing})

	out := recvOutbound(t, c)
	if out.Type != AckPong {
		t.Fatalf("type = %s, want pong", out.Type)
	}
}
