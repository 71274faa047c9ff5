package exception

import "github.com/yanun0323/errors"

// WS errors
var (
	// ErrConnectTimeout is returned by Connect when the transport did not open in time.
	// The background reconnect loop keeps running.
	ErrConnectTimeout = errors.New("ws: connect timeout")
	// ErrTransport marks transport level failures surfaced through error events.
	ErrTransport = errors.New("ws: transport error")
	// ErrRequestTimeout is returned by a request whose reply did not arrive in time.
	ErrRequestTimeout = errors.New("ws: request timeout")
	// ErrQueueOverflow is carried by overflow events when a queued frame is evicted.
	ErrQueueOverflow = errors.New("ws: outbound queue overflow")
	// ErrClientClosed settles pending work when the client is torn down.
	ErrClientClosed = errors.New("ws: client closed")
	// ErrNotConnected is returned by transport operations on a closed transport.
	ErrNotConnected = errors.New("ws: not connected")
	// ErrDecode is carried by error events when strict payload decoding fails.
	ErrDecode = errors.New("ws: payload decode failed")
)
