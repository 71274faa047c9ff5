package stompws

import (
	"sync"
	"time"

	"wsclient/pkg/exception"
	ws "wsclient/pkg/websocket"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/yanun0323/errors"
)

const (
	contentTypeHeader = "content-type"

	// unsubscribeWait bounds the wait for the broker to confirm an UNSUBSCRIBE.
	unsubscribeWait = 3 * time.Second
	// disconnectWait bounds the wait for the DISCONNECT receipt.
	disconnectWait = 2 * time.Second
)

// transport is one STOMP session. Frames are delivered from per subscription goroutines.
type transport struct {
	conn   *stomp.Conn
	stream *stream
	debug  func(string)

	closeOnce sync.Once
}

func newTransport(conn *stomp.Conn, s *stream, opt ws.DialOption) *transport {
	t := &transport{
		conn:   conn,
		stream: s,
		debug:  opt.Debug,
	}
	if opt.HeartbeatIncoming > 0 && opt.OnHeartbeatMissed != nil {
		go t.watchHeartbeat(opt.HeartbeatIncoming, opt.OnHeartbeatMissed)
	}
	return t
}

func (t *transport) Subscribe(destination string, headers ws.Headers, deliver func(ws.Frame)) (ws.Binding, error) {
	if t.closed() {
		return nil, exception.ErrNotConnected
	}
	opts := make([]func(*frame.Frame) error, 0, len(headers))
	for k, v := range headers {
		opts = append(opts, stomp.SubscribeOpt.Header(k, v))
	}
	sub, err := t.conn.Subscribe(destination, stomp.AckAuto, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", destination)
	}
	b := &binding{t: t, sub: sub, stop: make(chan struct{}), inbox: newInbox()}
	go b.pump()
	go b.dispatch(deliver)
	return b, nil
}

func (t *transport) Send(f ws.Frame) error {
	if t.closed() {
		return exception.ErrNotConnected
	}
	contentType := f.Headers[contentTypeHeader]
	opts := make([]func(*frame.Frame) error, 0, len(f.Headers))
	for k, v := range f.Headers {
		if k == contentTypeHeader {
			continue
		}
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}
	if err := t.conn.Send(f.Destination, contentType, f.Body, opts...); err != nil {
		return errors.Wrapf(err, "send %s", f.Destination)
	}
	return nil
}

// Close sends DISCONNECT so frames already handed to Send are written first.
// The socket is dropped when the broker does not confirm within disconnectWait.
func (t *transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if !t.closed() {
			done := make(chan error, 1)
			go func() { done <- t.conn.Disconnect() }()
			select {
			case derr := <-done:
				if derr != nil {
					t.debugf("stomp disconnect: " + derr.Error())
				}
			case <-t.stream.Done():
			case <-time.After(disconnectWait):
				t.debugf("stomp disconnect: no receipt, dropping socket")
			}
		}
		err = t.stream.Close()
	})
	return err
}

func (t *transport) Closed() <-chan struct{} {
	return t.stream.Done()
}

func (t *transport) Err() error {
	return t.stream.Err()
}

func (t *transport) closed() bool {
	select {
	case <-t.stream.Done():
		return true
	default:
		return false
	}
}

func (t *transport) debugf(msg string) {
	if t.debug != nil {
		t.debug(msg)
	}
}

// watchHeartbeat reports a silence longer than twice the incoming interval, once per silence.
func (t *transport) watchHeartbeat(interval time.Duration, missed func(time.Duration)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	reported := false
	for {
		select {
		case <-t.stream.Done():
			return
		case <-ticker.C:
			idle := t.stream.idle()
			if idle <= 2*interval {
				reported = false
				continue
			}
			if !reported {
				reported = true
				missed(idle)
			}
		}
	}
}

type binding struct {
	t     *transport
	sub   *stomp.Subscription
	once  sync.Once
	stop  chan struct{}
	inbox *inbox
}

// pump drains the subscription channel without waiting on deliver, so the
// STOMP read loop keeps running while a handler is busy. After Unsubscribe it
// keeps draining and discards until go-stomp closes the channel.
func (b *binding) pump() {
	defer b.inbox.close()
	for {
		select {
		case <-b.t.stream.Done():
			return
		case msg, ok := <-b.sub.C:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.t.debugf("subscription " + b.sub.Destination() + ": " + msg.Err.Error())
				continue
			}
			if b.stopped() {
				continue
			}
			b.inbox.push(toFrame(msg))
		}
	}
}

func (b *binding) stopped() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}

// dispatch hands queued frames to deliver in arrival order until the pump stops
// and the inbox is empty, or the binding is unsubscribed.
func (b *binding) dispatch(deliver func(ws.Frame)) {
	for {
		select {
		case <-b.stop:
			return
		case <-b.inbox.ready:
		}
		frames, closed := b.inbox.take()
		for _, f := range frames {
			if b.stopped() {
				return
			}
			deliver(f)
		}
		if closed {
			return
		}
	}
}

// Unsubscribe stops delivery at once, then tells the broker.
func (b *binding) Unsubscribe() error {
	var err error
	b.once.Do(func() {
		close(b.stop)
		if b.t.closed() {
			return
		}
		done := make(chan error, 1)
		go func() { done <- b.sub.Unsubscribe() }()
		select {
		case err = <-done:
		case <-b.t.stream.Done():
		case <-time.After(unsubscribeWait):
			err = errors.Wrapf(exception.ErrTransport, "unsubscribe %s: no receipt after %s", b.sub.Destination(), unsubscribeWait)
		}
	})
	return err
}

func toFrame(msg *stomp.Message) ws.Frame {
	f := ws.Frame{Destination: msg.Destination, Body: msg.Body}
	if msg.Header == nil || msg.Header.Len() == 0 {
		return f
	}
	f.Headers = make(ws.Headers, msg.Header.Len())
	for i := 0; i < msg.Header.Len(); i++ {
		k, v := msg.Header.GetAt(i)
		if _, dup := f.Headers[k]; dup {
			continue
		}
		f.Headers[k] = v
	}
	return f
}

// inbox is an unbounded FIFO between one pump and one dispatcher.
type inbox struct {
	mu     sync.Mutex
	frames []ws.Frame
	closed bool
	ready  chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (q *inbox) push(f ws.Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()
	q.signal()
}

func (q *inbox) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// take returns the queued frames and whether the pump has stopped.
func (q *inbox) take() ([]ws.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	frames := q.frames
	q.frames = nil
	return frames, q.closed
}

func (q *inbox) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
