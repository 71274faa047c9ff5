package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeBinding struct {
	t           *fakeTransport
	id          int
	destination string
	headers     Headers
	deliver     func(Frame)
	removed     atomic.Int32
}

func (b *fakeBinding) Unsubscribe() error {
	b.removed.Add(1)
	b.t.mu.Lock()
	delete(b.t.bindings, b.id)
	b.t.mu.Unlock()
	return nil
}

// fakeTransport records every operation in order. Frames are delivered by the
// test goroutine, or asynchronously through onSend, never from inside Subscribe or Send.
type fakeTransport struct {
	mu       sync.Mutex
	nextID   int
	bindings map[int]*fakeBinding
	ops      []string
	sent     []Frame
	sendErr  error
	onSend   func(Frame)

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		bindings: make(map[int]*fakeBinding),
		closed:   make(chan struct{}),
	}
}

func (f *fakeTransport) Subscribe(destination string, headers Headers, deliver func(Frame)) (Binding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	b := &fakeBinding{t: f, id: f.nextID, destination: destination, headers: headers, deliver: deliver}
	f.bindings[b.id] = b
	f.ops = append(f.ops, "sub:"+destination)
	return b, nil
}

func (f *fakeTransport) Send(frame Frame) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, frame)
	f.ops = append(f.ops, "send:"+string(frame.Body))
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		go hook(frame)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Closed() <-chan struct{} {
	return f.closed
}

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// drop simulates a transport loss.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	_ = f.Close()
}

// emit delivers a frame to every live binding of destination and returns how many received it.
func (f *fakeTransport) emit(destination string, body string, headers Headers) int {
	f.mu.Lock()
	targets := make([]*fakeBinding, 0, len(f.bindings))
	for _, b := range f.bindings {
		if b.destination == destination {
			targets = append(targets, b)
		}
	}
	f.mu.Unlock()
	for _, b := range targets {
		b.deliver(Frame{Destination: destination, Headers: headers, Body: []byte(body)})
	}
	return len(targets)
}

// bindingsFor returns the bindings never unsubscribed. A lost transport keeps its
// bindings callable, like a late socket callback.
func (f *fakeTransport) bindingsFor(destination string) []*fakeBinding {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeBinding
	for _, b := range f.bindings {
		if b.destination == destination {
			out = append(out, b)
		}
	}
	return out
}

func (f *fakeTransport) opsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	transports []*fakeTransport
	options    []DialOption
	// dial overrides the default behavior for the n-th call (1-based).
	dial func(ctx context.Context, n int) (Transport, error)
	// prepare is applied to each transport the default path creates.
	prepare func(*fakeTransport)
}

func (d *fakeDialer) Dial(ctx context.Context, opt DialOption) (Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.options = append(d.options, opt)
	hook := d.dial
	prepare := d.prepare
	d.mu.Unlock()

	if hook != nil {
		t, err := hook(ctx, n)
		if err != nil || t != nil {
			if ft, ok := t.(*fakeTransport); ok {
				d.track(ft)
			}
			return t, err
		}
	}
	ft := newFakeTransport()
	if prepare != nil {
		prepare(ft)
	}
	d.track(ft)
	return ft, nil
}

func (d *fakeDialer) track(ft *fakeTransport) {
	d.mu.Lock()
	d.transports = append(d.transports, ft)
	d.mu.Unlock()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.transports) {
		return nil
	}
	return d.transports[i]
}

func (d *fakeDialer) transportCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

var errDialRefused = errors.New("dial refused")

func fastBackoff() Backoff {
	return Backoff{Min: 5 * time.Millisecond, Max: 20 * time.Millisecond}
}

func newTestClient(t *testing.T, d *fakeDialer, opt Option) *Client {
	t.Helper()
	if opt.URL == "" {
		opt.URL = "ws://fake/ws"
	}
	if opt.Backoff.isZero() {
		opt.Backoff = fastBackoff()
	}
	c, err := New(d, opt)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Disconnect(ctx)
	})
	return c
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
