package stompws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wsclient/pkg/exception"
	ws "wsclient/pkg/websocket"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
)

const (
	// DefaultHandshakeTimeout bounds the websocket upgrade when the dial context has no deadline.
	DefaultHandshakeTimeout = 10 * time.Second

	sockJSSuffix = "/websocket"

	// writeChannelCapacity lets a resubscribe burst queue without waiting on the socket writer.
	writeChannelCapacity = 256
)

// DefaultSubprotocols are offered during the websocket upgrade.
var DefaultSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// Option configures the STOMP over websocket dialer.
type Option struct {
	// SockJS dials the raw websocket endpoint of a SockJS server, <url>/websocket.
	SockJS bool
	// HandshakeTimeout bounds the websocket upgrade. Optional; default DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
	// Subprotocols offered to the server. Optional; default DefaultSubprotocols.
	Subprotocols []string
	// Header is added to the upgrade request. Optional.
	Header http.Header
}

// Dialer opens STOMP sessions over gorilla websocket connections.
type Dialer struct {
	opt Option
	ws  *websocket.Dialer
}

// NewDialer builds a Dialer for websocket.New.
func NewDialer(opt Option) *Dialer {
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if len(opt.Subprotocols) == 0 {
		opt.Subprotocols = DefaultSubprotocols
	}
	return &Dialer{
		opt: opt,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opt.HandshakeTimeout,
			Subprotocols:     opt.Subprotocols,
		},
	}
}

// Endpoint turns an http(s) or ws(s) URL into the websocket URL to dial.
// With sockJS set the raw websocket path of the SockJS endpoint is used.
func Endpoint(raw string, sockJS bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errors.Wrapf(exception.ErrInvalidArgument, "parse url %q: %v", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Wrapf(exception.ErrInvalidArgument, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.Wrapf(exception.ErrInvalidArgument, "missing host in %q", raw)
	}
	if sockJS && !strings.HasSuffix(u.Path, sockJSSuffix) {
		u.Path = strings.TrimRight(u.Path, "/") + sockJSSuffix
	}
	return u.String(), nil
}

// Dial upgrades to a websocket and performs the STOMP CONNECT handshake.
func (d *Dialer) Dial(ctx context.Context, opt ws.DialOption) (ws.Transport, error) {
	endpoint, err := Endpoint(opt.URL, d.opt.SockJS)
	if err != nil {
		return nil, err
	}
	u, _ := url.Parse(endpoint)

	conn, resp, err := d.ws.DialContext(ctx, endpoint, d.opt.Header.Clone())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(exception.ErrHandshake, "dial %s: status %d: %v", u.Redacted(), resp.StatusCode, err)
		}
		return nil, errors.Wrapf(err, "dial %s", u.Redacted())
	}

	s := newStream(conn)
	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	session, err := stomp.Connect(s, connectOptions(u.Hostname(), opt)...)
	if !stop() {
		return nil, errors.Wrap(ctx.Err(), "stomp connect")
	}
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrapf(exception.ErrHandshake, "stomp connect: %v", err)
	}
	if opt.Debug != nil {
		opt.Debug("stomp session " + session.Session() + " on " + u.Redacted() + ", server " + session.Server())
	}

	return newTransport(session, s, opt), nil
}

func connectOptions(host string, opt ws.DialOption) []func(*stomp.Conn) error {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.HeartBeat(opt.HeartbeatOutgoing, opt.HeartbeatIncoming),
		stomp.ConnOpt.WriteChannelCapacity(writeChannelCapacity),
	}
	login, passcode := opt.ConnectHeaders["login"], opt.ConnectHeaders["passcode"]
	if login != "" || passcode != "" {
		opts = append(opts, stomp.ConnOpt.Login(login, passcode))
	}
	for k, v := range opt.ConnectHeaders {
		if k == "login" || k == "passcode" || k == "host" {
			continue
		}
		opts = append(opts, stomp.ConnOpt.Header(k, v))
	}
	return opts
}
