package websocket

import (
	"context"
	"sync"
	"time"

	"wsclient/pkg/exception"

	"github.com/yanun0323/errors"
)

// TransportError wraps a transport failure. It matches exception.ErrTransport with errors.Is.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "ws: transport error: " + e.Op
	}
	return "ws: transport error: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is exception.ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == exception.ErrTransport
}

// connectAttempt is the shared outcome of concurrent Connect calls.
type connectAttempt struct {
	once  sync.Once
	done  chan struct{}
	err   error
	timer *time.Timer
}

func newConnectAttempt() *connectAttempt {
	return &connectAttempt{done: make(chan struct{})}
}

func (a *connectAttempt) settle(err error) {
	a.once.Do(func() {
		if a.timer != nil {
			a.timer.Stop()
		}
		a.err = err
		close(a.done)
	})
}

func (c *Client) expireAttempt(attempt *connectAttempt, timeout time.Duration) {
	c.mu.Lock()
	if c.inflight == attempt {
		c.inflight = nil
	}
	c.mu.Unlock()
	c.metrics.inc(&c.metrics.connectTimeouts)
	c.debugf("connect timeout (%s)", timeout)
	attempt.settle(errors.Wrapf(exception.ErrConnectTimeout, "%s after %s", c.opt.URL, timeout))
}

// ensureLoopLocked starts the connection loop, or wakes it when it waits in backoff.
func (c *Client) ensureLoopLocked() {
	if c.loopDone != nil {
		c.wakeLoop()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.loopCancel = cancel
	c.loopDone = done
	go c.run(ctx, done)
}

func (c *Client) wakeLoop() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// run drives connect, session and backoff until ctx is cancelled.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if !c.beginAttempt(ctx) {
			return
		}

		start := time.Now()
		dialCtx, cancel := context.WithTimeout(ctx, c.opt.RequestTimeout)
		transport, err := c.dialer.Dial(dialCtx, c.dialOption())
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.handleDialFailure(err)
			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}
		c.metrics.ObserveDial(time.Since(start))

		if !c.handleOpen(ctx, transport) {
			_ = transport.Close()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-transport.Closed():
		}

		c.handleLoss(transport)
		if !c.sleepBackoff(ctx) {
			return
		}
	}
}

func (c *Client) beginAttempt(ctx context.Context) bool {
	c.mu.Lock()
	if ctx.Err() != nil || c.stopped {
		c.mu.Unlock()
		return false
	}
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()
	c.events.flush()
	return true
}

func (c *Client) dialOption() DialOption {
	return DialOption{
		URL:               c.opt.URL,
		HeartbeatIncoming: c.opt.HeartbeatIncoming,
		HeartbeatOutgoing: c.opt.HeartbeatOutgoing,
		ConnectHeaders:    c.opt.ConnectHeaders.Clone(),
		OnHeartbeatMissed: c.heartbeatMissed,
		Debug: func(msg string) {
			c.debugf("%s", msg)
		},
	}
}

// handleOpen installs transport, replays subscriptions, then flushes the queue.
// Both run in one critical section, so callers never see a half-replayed registry.
func (c *Client) handleOpen(ctx context.Context, transport Transport) bool {
	c.mu.Lock()
	if ctx.Err() != nil || c.stopped {
		c.mu.Unlock()
		return false
	}
	c.gen++
	c.transport = transport
	c.attempt = 0
	c.fastRetry = false
	c.setStatusLocked(StatusOpen)
	c.metrics.inc(&c.metrics.opens)
	c.debugf("connected")

	c.subscriptions.ClearActive()
	for _, entry := range c.subscriptions.Desired(nil) {
		if err := c.bindLocked(entry); err != nil {
			c.pushErrorLocked("resubscribe", err)
		}
	}
	flushed := c.flushLocked()

	// wakes requested before the open are stale
	select {
	case <-c.wake:
	default:
	}

	attempt := c.inflight
	c.inflight = nil
	c.mu.Unlock()
	c.events.flush()

	if attempt != nil {
		attempt.settle(nil)
	}
	if !flushed {
		c.abandon(transport)
	}
	return true
}

// flushLocked sends one snapshot of the queue in FIFO order. On a send failure
// the unsent remainder goes back to the front of the queue and false is returned.
func (c *Client) flushLocked() bool {
	batch := c.outbox.Drain()
	if len(batch) == 0 {
		return true
	}
	sent := 0
	for _, frame := range batch {
		if err := c.transport.Send(frame); err != nil {
			c.pushErrorLocked("flush", err)
			break
		}
		sent++
	}
	if rest := batch[sent:]; len(rest) > 0 {
		if dropped := c.outbox.Requeue(rest); dropped > 0 {
			c.metrics.add(&c.metrics.queueDrops, dropped)
		}
	}
	c.metrics.add(&c.metrics.flushed, sent)
	c.metrics.add(&c.metrics.published, sent)
	c.events.push(Event{Kind: EventFlushed, Count: sent})
	c.debugf("flushed queued publishes: %d", sent)
	return sent == len(batch)
}

func (c *Client) handleDialFailure(err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.attempt++
	c.setStatusLocked(StatusClosed)
	c.pushErrorLocked("dial", err)
	c.mu.Unlock()
	c.events.flush()
}

func (c *Client) handleLoss(transport Transport) {
	c.mu.Lock()
	if c.transport != transport || c.stopped {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.gen++
	c.subscriptions.ClearActive()
	c.attempt++
	c.metrics.inc(&c.metrics.losses)
	c.setStatusLocked(StatusClosed)
	if err := transport.Err(); err != nil {
		c.pushErrorLocked("read", err)
	}
	c.debugf("transport closed")
	c.mu.Unlock()
	c.events.flush()
}

// sleepBackoff waits for the next attempt. It returns false when ctx is done.
func (c *Client) sleepBackoff(ctx context.Context) bool {
	c.mu.Lock()
	if ctx.Err() != nil || c.stopped {
		c.mu.Unlock()
		return false
	}
	attempt := c.attempt
	var wait time.Duration
	if c.fastRetry {
		c.fastRetry = false
		wait = c.opt.Backoff.Base(0)
	} else {
		wait = c.opt.Backoff.Next(attempt)
	}
	c.events.push(Event{Kind: EventReconnectScheduled, Attempt: attempt, Delay: wait})
	c.debugf("schedule reconnect in ~%s", wait)
	c.mu.Unlock()
	c.events.flush()

	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.wake:
		return ctx.Err() == nil
	case <-timer.C:
		return true
	}
}

// bindLocked creates the live binding of entry on the current transport.
func (c *Client) bindLocked(entry *subscriptionEntry) error {
	binding, err := c.transport.Subscribe(entry.destination, entry.headers.Clone(), c.deliverer(c.gen, entry.id))
	if err != nil {
		return errors.Wrapf(err, "bind %s", entry.destination)
	}
	c.subscriptions.MarkActive(entry.id, binding)
	return nil
}

// deliverer returns the transport callback for one binding. It captures only the
// connection generation and the logical id, never the handler.
func (c *Client) deliverer(gen uint64, id SubscriptionID) func(Frame) {
	return func(frame Frame) {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		entry, ok := c.subscriptions.Get(id)
		c.mu.Unlock()
		if !ok {
			return
		}

		payload, err := decodePayload(frame.Body, c.opt.StrictDecode)
		if err != nil {
			c.metrics.inc(&c.metrics.decodeErrors)
			c.events.push(Event{Kind: EventError, Err: err, Frame: frame})
			c.events.flush()
			return
		}
		c.metrics.inc(&c.metrics.delivered)
		entry.handler(payload, frame)
	}
}

func (c *Client) heartbeatMissed(idle time.Duration) {
	c.metrics.inc(&c.metrics.heartbeatMisses)
	c.events.push(Event{Kind: EventHeartbeatMissed, Idle: idle})
	c.events.flush()
	c.debugf("heartbeat missed, idle %s", idle)
}
