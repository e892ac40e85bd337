// Package eventbus is the per-connection subscription registry: broadcast
// to all, broadcast to a job id's subscribers, and unicast to the sender.
package eventbus

import "time"

// InboundType enumerates the message types the bus understands from clients.
type InboundType string

const (
	InboundSubscribe   InboundType = "subscribe"
	InboundUnsubscribe InboundType = "unsubscribe"
	InboundPing        InboundType = "ping"
)

// OutboundType enumerates the event types the job loop and transport emit.
type OutboundType string

const (
	EventJobCreated     OutboundType = "job:created"
	EventJobStarted     OutboundType = "job:started"
	EventJobProgress    OutboundType = "job:progress"
	EventJobLayerChange OutboundType = "job:layer-change"
	EventJobPaused      OutboundType = "job:paused"
	EventJobResumed     OutboundType = "job:resumed"
	EventJobCompleted   OutboundType = "job:completed"
	EventJobCancelled   OutboundType = "job:cancelled"
	EventJobError       OutboundType = "job:error"
	EventPositionUpdate OutboundType = "position:update"
	EventMachineStatus  OutboundType = "machine:status"

	AckConnected    OutboundType = "connected"
	AckSubscribed   OutboundType = "subscribed"
	AckUnsubscribed OutboundType = "unsubscribed"
	AckPong         OutboundType = "pong"
)

// Inbound is a message received from a client.
type Inbound struct {
	Type  InboundType `json:"type"`
	JobID string      `json:"jobId,omitempty"`
}

// Outbound is a message published to clients. Data carries the event's
// payload; Timestamp is always populated with unix milliseconds.
type Outbound struct {
	Type      OutboundType   `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

func newOutbound(t OutboundType, data map[string]any) *Outbound {
	return &Outbound{Type: t, Data: data, Timestamp: time.Now().UnixMilli()}
}
