package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wsclient/pkg/exception"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// DefaultRequestTimeout bounds connect and request/response waits when Option leaves it unset.
const DefaultRequestTimeout = 15 * time.Second

// Option defines the client runtime configuration.
type Option struct {
	// URL is the endpoint handed to the dialer. Required.
	URL string
	// HeartbeatIncoming is the expected server heartbeat interval. Optional; 0 disables.
	HeartbeatIncoming time.Duration
	// HeartbeatOutgoing is the client heartbeat interval. Optional; 0 disables.
	HeartbeatOutgoing time.Duration
	// Backoff defines reconnect backoff. Optional; default DefaultBackoff when all fields are zero.
	// Otherwise Min must be positive.
	Backoff Backoff
	// RequestTimeout bounds Connect and RequestResponse. Optional; default DefaultRequestTimeout.
	RequestTimeout time.Duration
	// ConnectHeaders are sent with the CONNECT frame, e.g. an Authorization header. Optional.
	ConnectHeaders Headers
	// QueueCapacity caps the offline publish queue. Optional; default DefaultQueueCapacity.
	QueueCapacity int
	// QueueOverflow sets the policy when the offline queue is full. Optional; default OverflowDropOldest.
	QueueOverflow OverflowPolicy
	// StrictDecode drops frames whose body is not JSON instead of passing the raw string.
	StrictDecode bool
	// Debug receives trace lines. Optional; when nil and Verbose is set, logs.Debugf is used.
	Debug func(msg string)
	// Verbose enables debug logging through the default logger.
	Verbose bool
	// OnStatusChange is called after each status transition. Optional.
	OnStatusChange func(Status)
	// Metrics collects client counters. Optional; allocated by New when nil.
	Metrics *Metrics
}

func (opt *Option) validate() error {
	return validation.ValidateStruct(opt,
		validation.Field(&opt.URL, validation.Required),
		validation.Field(&opt.HeartbeatIncoming, validation.Min(time.Duration(0))),
		validation.Field(&opt.HeartbeatOutgoing, validation.Min(time.Duration(0))),
		validation.Field(&opt.RequestTimeout, validation.Min(time.Duration(0))),
		validation.Field(&opt.QueueCapacity, validation.Min(0)),
		validation.Field(&opt.Backoff, validation.By(validateBackoff)),
	)
}

func validateBackoff(value any) error {
	b, _ := value.(Backoff)
	if b.isZero() {
		return nil
	}
	if b.Min < 0 || b.Max < 0 || b.JitterCeiling < 0 {
		return errors.New("durations must not be negative")
	}
	if b.Min == 0 {
		return errors.New("min must be positive")
	}
	if b.Min > b.Max {
		return fmt.Errorf("min %s exceeds max %s", b.Min, b.Max)
	}
	return nil
}

func (opt *Option) init() {
	if opt.Backoff.isZero() {
		opt.Backoff = DefaultBackoff()
	}
	if opt.RequestTimeout <= 0 {
		opt.RequestTimeout = DefaultRequestTimeout
	}
	if opt.QueueCapacity <= 0 {
		opt.QueueCapacity = DefaultQueueCapacity
	}
	if opt.Metrics == nil {
		opt.Metrics = NewMetrics()
	}
	opt.ConnectHeaders = opt.ConnectHeaders.Clone()
}

// Client is a resilient pub/sub client. It stays logically connected across
// transport losses, replays subscriptions and flushes queued publishes on every open.
type Client struct {
	opt     Option
	dialer  Dialer
	metrics *Metrics
	events  *emitter
	wake    chan struct{}

	mu            sync.Mutex
	status        Status
	stopped       bool
	everConnected bool
	fastRetry     bool
	attempt       int
	gen           uint64
	transport     Transport
	subscriptions *subscriptions
	outbox        *outbox
	inflight      *connectAttempt
	pending       map[*pendingRequest]struct{}
	loopCancel    context.CancelFunc
	loopDone      chan struct{}
}

// New validates the option and builds a client. It does not connect.
func New(dialer Dialer, opt Option) (*Client, error) {
	if dialer == nil {
		return nil, exception.ErrNilDialer
	}
	if err := opt.validate(); err != nil {
		return nil, errors.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	opt.init()

	c := &Client{
		opt:           opt,
		dialer:        dialer,
		metrics:       opt.Metrics,
		events:        newEmitter(),
		wake:          make(chan struct{}, 1),
		status:        StatusIdle,
		subscriptions: newSubscriptions(),
		outbox:        newOutbox(opt.QueueCapacity, opt.QueueOverflow),
		pending:       make(map[*pendingRequest]struct{}),
	}
	if opt.OnStatusChange != nil {
		c.OnStatus(opt.OnStatusChange)
	}
	register(c)
	return c, nil
}

// URL returns the endpoint the client dials.
func (c *Client) URL() string {
	return c.opt.URL
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Metrics returns a snapshot of the client counters.
func (c *Client) Metrics() Snapshot {
	return c.metrics.Snapshot()
}

// On registers fn for events of kind and returns a function removing it.
func (c *Client) On(kind EventKind, fn func(Event)) (off func()) {
	return c.events.on(kind, fn)
}

// OnStatus registers fn for status transitions and returns a function removing it.
func (c *Client) OnStatus(fn func(Status)) (off func()) {
	return c.events.on(EventStatus, func(ev Event) {
		fn(ev.Status)
	})
}

// Connect waits until the client is open.
// Concurrent callers share one in-flight attempt. When the attempt does not open
// within RequestTimeout, Connect returns ErrConnectTimeout while the reconnect loop
// keeps trying in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusOpen {
		c.mu.Unlock()
		return nil
	}
	if c.stopped {
		c.stopped = false
		register(c)
	}
	c.everConnected = true
	attempt := c.inflight
	if attempt == nil {
		attempt = newConnectAttempt()
		c.inflight = attempt
		timeout := c.opt.RequestTimeout
		attempt.timer = time.AfterFunc(timeout, func() {
			c.expireAttempt(attempt, timeout)
		})
	}
	c.setStatusLocked(StatusConnecting)
	c.ensureLoopLocked()
	c.mu.Unlock()
	c.events.flush()

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops the reconnect loop and tears the transport down.
// Pending connects and requests fail with ErrClientClosed. Subscriptions and queued
// publishes are kept for a later Connect. It is safe to call in any state.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped && c.loopDone == nil && c.status == StatusClosed {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.setStatusLocked(StatusClosing)

	if c.loopCancel != nil {
		c.loopCancel()
	}
	done := c.loopDone
	c.loopCancel = nil
	c.loopDone = nil

	transport := c.transport
	c.transport = nil
	c.gen++
	c.subscriptions.ClearActive()

	attempt := c.inflight
	c.inflight = nil
	pending := make([]*pendingRequest, 0, len(c.pending))
	for p := range c.pending {
		pending = append(pending, p)
	}
	c.mu.Unlock()
	c.events.flush()

	if transport != nil {
		if err := transport.Close(); err != nil {
			c.debugf("transport close: %v", err)
		}
	}
	if attempt != nil {
		attempt.settle(exception.ErrClientClosed)
	}
	for _, p := range pending {
		p.settle(Frame{}, nil, exception.ErrClientClosed)
	}

	var err error
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			// the cancelled loop exits on its own and touches no state once stopped
			err = ctx.Err()
		}
	}

	c.mu.Lock()
	if c.stopped {
		c.setStatusLocked(StatusClosed)
		unregister(c)
	}
	c.mu.Unlock()
	c.events.flush()
	c.debugf("deactivated")
	return err
}

// Subscription is the caller handle of a logical subscription.
type Subscription struct {
	// ID stays the same across reconnects.
	ID SubscriptionID
	// Destination is the subscribed destination.
	Destination string

	client *Client
}

// Unsubscribe removes the subscription and its live binding.
// Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.unsubscribe(s.ID)
}

// Subscribe registers handler for destination. When open, the subscription is
// bound at once; otherwise it is bound on the next successful open.
func (c *Client) Subscribe(destination string, handler Handler, headers Headers) (*Subscription, error) {
	if destination == "" {
		return nil, exception.ErrInvalidDestination
	}
	if handler == nil {
		return nil, exception.ErrNilHandler
	}

	c.mu.Lock()
	entry := c.subscriptions.Add(destination, handler, headers)
	if c.status == StatusOpen && c.transport != nil {
		if err := c.bindLocked(entry); err != nil {
			c.pushErrorLocked("subscribe", err)
		}
	} else {
		c.debugf("subscribe %s while status=%s, it binds on next open", destination, c.status)
	}
	c.mu.Unlock()
	c.events.flush()

	return &Subscription{ID: entry.id, Destination: destination, client: c}, nil
}

func (c *Client) unsubscribe(id SubscriptionID) error {
	c.mu.Lock()
	binding, ok := c.subscriptions.Remove(id)
	c.mu.Unlock()
	if !ok || binding == nil {
		return nil
	}
	if err := binding.Unsubscribe(); err != nil {
		return errors.Wrapf(err, "unsubscribe %d", id)
	}
	return nil
}

// Publish sends body to destination when open and queues it otherwise.
// Only an empty destination or an unencodable body is reported as an error.
func (c *Client) Publish(destination string, body any, headers Headers) error {
	if destination == "" {
		return exception.ErrInvalidDestination
	}
	payload, err := encodeBody(body)
	if err != nil {
		return err
	}
	frame := Frame{Destination: destination, Headers: headers.Clone(), Body: payload}

	c.mu.Lock()
	broken := c.publishLocked(frame)
	c.mu.Unlock()
	c.events.flush()
	if broken != nil {
		go c.abandon(broken)
	}
	return nil
}

// publishLocked sends frame when open and nothing is queued ahead of it, and
// queues it otherwise. A failed send queues the frame and returns the transport,
// which the caller closes so the next open flushes the queue in order.
func (c *Client) publishLocked(frame Frame) Transport {
	if c.status != StatusOpen || c.transport == nil || c.outbox.Len() > 0 {
		c.enqueueLocked(frame)
		return nil
	}
	err := c.transport.Send(frame)
	if err == nil {
		c.metrics.inc(&c.metrics.published)
		return nil
	}
	c.pushErrorLocked("send", err)
	c.enqueueLocked(frame)
	return c.transport
}

// abandon closes a transport that failed a send. The loop sees it closed and reconnects.
func (c *Client) abandon(transport Transport) {
	if err := transport.Close(); err != nil {
		c.debugf("transport close: %v", err)
	}
}

func (c *Client) enqueueLocked(frame Frame) {
	evicted, dropped := c.outbox.Push(frame)
	c.metrics.inc(&c.metrics.queued)
	if dropped {
		c.metrics.inc(&c.metrics.queueDrops)
		c.events.push(Event{Kind: EventQueueOverflow, Err: exception.ErrQueueOverflow, Frame: evicted})
		c.debugf("queue full (cap=%d), dropped frame for %s", c.outbox.Cap(), evicted.Destination)
	}
	c.debugf("queued publish (status=%s, size=%d)", c.status, c.outbox.Len())
}

// setStatusLocked records a transition and queues the notification.
func (c *Client) setStatusLocked(status Status) {
	if c.status == status {
		return
	}
	c.status = status
	c.events.push(Event{Kind: EventStatus, Status: status})
}

func (c *Client) pushErrorLocked(op string, err error) {
	c.events.push(Event{Kind: EventError, Err: &TransportError{Op: op, Err: err}})
	logs.Warnf("ws %s %s: %+v", c.opt.URL, op, err)
}

func (c *Client) debugf(format string, args ...any) {
	if c.opt.Debug != nil {
		c.opt.Debug(fmt.Sprintf(format, args...))
		return
	}
	if c.opt.Verbose {
		logs.Debugf("[WS] "+format, args...)
	}
}
