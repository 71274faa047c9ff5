package websocket

import (
	"context"
	"time"
)

// Transport is one physical connection speaking the pub/sub sub-protocol.
// Implementations must not invoke a deliver callback synchronously from
// Subscribe or Send.
type Transport interface {
	// Subscribe binds destination on this connection and calls deliver for each frame.
	Subscribe(destination string, headers Headers, deliver func(Frame)) (Binding, error)
	// Send writes a frame to its destination.
	Send(frame Frame) error
	// Close tears the connection down. It is safe to call more than once.
	Close() error
	// Closed is closed once the connection is gone, for any reason.
	Closed() <-chan struct{}
	// Err reports why the connection ended, nil after a local Close.
	Err() error
}

// Binding is the transport-side handle of a subscription on one connection.
type Binding interface {
	Unsubscribe() error
}

// Dialer opens new transports.
type Dialer interface {
	Dial(ctx context.Context, opt DialOption) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, opt DialOption) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, opt DialOption) (Transport, error) {
	return f(ctx, opt)
}

// DialOption carries per-dial settings from the client to the transport.
type DialOption struct {
	// URL is the endpoint to connect to.
	URL string
	// HeartbeatIncoming is the expected server heartbeat interval, 0 disables it.
	HeartbeatIncoming time.Duration
	// HeartbeatOutgoing is the client heartbeat interval, 0 disables it.
	HeartbeatOutgoing time.Duration
	// ConnectHeaders are sent with the sub-protocol CONNECT frame.
	ConnectHeaders Headers
	// OnHeartbeatMissed is called when no inbound traffic was seen for too long.
	OnHeartbeatMissed func(idle time.Duration)
	// Debug receives transport level trace lines. Optional.
	Debug func(msg string)
}
