package websocket

import (
	"context"
	"sync"
	"time"

	"wsclient/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// CorrelationHeader is attached to every request unless the caller sets it.
const CorrelationHeader = "correlation-id"

// RequestOption customizes a single RequestResponse call.
type RequestOption func(*requestOption)

type requestOption struct {
	timeout      time.Duration
	headers      Headers
	replyHeaders Headers
}

// WithTimeout overrides the client RequestTimeout for one call.
func WithTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOption) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithHeaders sets headers on the published request.
func WithHeaders(headers Headers) RequestOption {
	return func(o *requestOption) {
		o.headers = headers.Clone()
	}
}

// WithReplyHeaders sets headers on the temporary reply subscription.
func WithReplyHeaders(headers Headers) RequestOption {
	return func(o *requestOption) {
		o.replyHeaders = headers.Clone()
	}
}

// pendingRequest settles exactly once: reply, timeout, cancellation or teardown.
type pendingRequest struct {
	once    sync.Once
	done    chan struct{}
	frame   Frame
	payload any
	err     error
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan struct{})}
}

func (p *pendingRequest) settle(frame Frame, payload any, err error) bool {
	settled := false
	p.once.Do(func() {
		p.frame = frame
		p.payload = payload
		p.err = err
		settled = true
		close(p.done)
	})
	return settled
}

// RequestResponse publishes body to requestDest and waits for the first frame on replyDest.
// It connects first when needed. The reply subscription is removed on every outcome and
// replies arriving after the call settled are discarded.
func (c *Client) RequestResponse(ctx context.Context, requestDest, replyDest string, body any, opts ...RequestOption) (any, Frame, error) {
	if requestDest == "" || replyDest == "" {
		return nil, Frame{}, exception.ErrInvalidDestination
	}
	ro := requestOption{timeout: c.opt.RequestTimeout}
	for _, opt := range opts {
		opt(&ro)
	}

	if err := c.Connect(ctx); err != nil {
		return nil, Frame{}, err
	}

	p := newPendingRequest()
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, Frame{}, exception.ErrClientClosed
	}
	c.pending[p] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, p)
		c.mu.Unlock()
	}()

	sub, err := c.Subscribe(replyDest, func(payload any, raw Frame) {
		p.settle(raw, payload, nil)
	}, ro.replyHeaders)
	if err != nil {
		return nil, Frame{}, err
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			logs.Warnf("ws remove reply subscription %s: %+v", replyDest, err)
		}
	}()

	headers := ro.headers.Clone()
	if headers == nil {
		headers = make(Headers, 1)
	}
	if _, ok := headers[CorrelationHeader]; !ok {
		headers[CorrelationHeader] = uuid.NewString()
	}

	start := time.Now()
	if err := c.Publish(requestDest, body, headers); err != nil {
		return nil, Frame{}, err
	}

	timer := time.NewTimer(ro.timeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		if p.settle(Frame{}, nil, errors.Wrapf(exception.ErrRequestTimeout, "%s after %s", replyDest, ro.timeout)) {
			c.metrics.inc(&c.metrics.requestTimeouts)
		}
	case <-ctx.Done():
		p.settle(Frame{}, nil, ctx.Err())
	}

	if p.err != nil {
		return nil, Frame{}, p.err
	}
	c.metrics.ObserveRequest(time.Since(start))
	return p.payload, p.frame, nil
}

// Request is RequestResponse with the reply body decoded into T.
func Request[T any](ctx context.Context, c *Client, requestDest, replyDest string, body any, opts ...RequestOption) (T, error) {
	_, raw, err := c.RequestResponse(ctx, requestDest, replyDest, body, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](raw)
}
