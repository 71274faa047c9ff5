package websocket

import "time"

// Status is the connection state of a Client.
type Status uint8

const (
	// StatusIdle is the state before the first Connect.
	StatusIdle Status = iota
	// StatusConnecting means a transport open is in progress or scheduled.
	StatusConnecting
	// StatusOpen means the transport is open and subscriptions are bound.
	StatusOpen
	// StatusClosing means Disconnect is tearing the client down.
	StatusClosing
	// StatusClosed means no transport is open.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SubscriptionID is the logical identifier of a subscription.
// It is assigned monotonically and stays stable across reconnects.
type SubscriptionID uint64

// Headers is a STOMP header set.
type Headers map[string]string

// Clone returns a copy of h, or nil when h is empty.
func (h Headers) Clone() Headers {
	if len(h) == 0 {
		return nil
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Frame is a destination-addressed message exchanged with the transport.
type Frame struct {
	// Destination is the topic or queue the frame is sent to or received from.
	Destination string
	// Headers carries optional frame headers.
	Headers Headers
	// Body is the opaque serialized payload.
	Body []byte
}

// Handler receives the decoded payload and the raw frame of an incoming message.
// payload is nil when the frame carries no body.
type Handler func(payload any, raw Frame)

// OverflowPolicy defines outbound queue behavior when full.
type OverflowPolicy uint8

const (
	// OverflowDropOldest drops the oldest queued frame to make room.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowDropNewest drops the incoming frame if the queue is full.
	OverflowDropNewest
)

// NetworkEvent is an ambient environment signal fanned out to every live client.
type NetworkEvent uint8

const (
	// NetworkOffline reports that the host lost network connectivity.
	NetworkOffline NetworkEvent = iota + 1
	// NetworkOnline reports that network connectivity is back.
	NetworkOnline
	// Visible reports that the hosting application came back to the foreground.
	Visible
)

// Backoff defines reconnect backoff behavior.
type Backoff struct {
	// Min is the minimum backoff duration.
	Min time.Duration
	// Max is the maximum backoff duration.
	Max time.Duration
	// JitterCeiling bounds the random jitter added on top of the exponential term.
	JitterCeiling time.Duration
	// AllowOverMax lets jitter push the delay above Max, up to Max+JitterCeiling.
	AllowOverMax bool
	// Rand returns a value in [0, 1). Optional; default math/rand.
	Rand func() float64
}
