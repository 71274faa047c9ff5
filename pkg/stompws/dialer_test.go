package stompws

import (
	"context"
	"sync"
	"testing"
	"time"

	"wsclient/pkg/exception"
	ws "wsclient/pkg/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	testCases := []struct {
		desc   string
		raw    string
		sockJS bool
		want   string
	}{
		{desc: "ws as is", raw: "ws://host:8080/ws", want: "ws://host:8080/ws"},
		{desc: "http to ws", raw: "http://host/ws", want: "ws://host/ws"},
		{desc: "https to wss", raw: "https://host/ws?access_token=t", want: "wss://host/ws?access_token=t"},
		{desc: "sockjs suffix", raw: "https://host/ws/", sockJS: true, want: "wss://host/ws/websocket"},
		{desc: "sockjs suffix once", raw: "wss://host/ws/websocket", sockJS: true, want: "wss://host/ws/websocket"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := Endpoint(tc.raw, tc.sockJS)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Endpoint("ftp://host/ws", false)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
	_, err = Endpoint("/relative/ws", false)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func dial(t *testing.T, d *Dialer, opt ws.DialOption) ws.Transport {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	tr, err := d.Dial(ctx, opt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestDialSubscribeAndSend(t *testing.T) {
	broker := newStubBroker(t, "/ws")
	tr := dial(t, NewDialer(Option{}), ws.DialOption{
		URL:            broker.url(),
		ConnectHeaders: ws.Headers{"Authorization": "Bearer abc", "login": "u", "passcode": "p"},
	})

	connectFrame := broker.lastConnect()
	assert.Equal(t, "Bearer abc", connectFrame.headers["Authorization"])
	assert.Equal(t, "u", connectFrame.headers["login"])
	assert.Equal(t, "p", connectFrame.headers["passcode"])
	assert.Equal(t, "127.0.0.1", connectFrame.headers["host"])

	frames := make(chan ws.Frame, 1)
	_, err := tr.Subscribe("/topic/echo", nil, func(f ws.Frame) { frames <- f })
	require.NoError(t, err)

	require.NoError(t, tr.Send(ws.Frame{
		Destination: "/app/echo",
		Headers:     ws.Headers{"correlation-id": "c-1", "content-type": "application/json"},
		Body:        []byte(`{"n":1}`),
	}))

	select {
	case f := <-frames:
		assert.Equal(t, "/topic/echo", f.Destination)
		assert.Equal(t, `{"n":1}`, string(f.Body))
		assert.Equal(t, "c-1", f.Headers["correlation-id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}
}

func TestSockJSPath(t *testing.T) {
	broker := newStubBroker(t, "/ws/websocket")
	base := "http" + broker.url()[2:len(broker.url())-len("/websocket")]
	tr := dial(t, NewDialer(Option{SockJS: true}), ws.DialOption{URL: base})
	assert.NotNil(t, tr)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := newStubBroker(t, "/ws")
	tr := dial(t, NewDialer(Option{}), ws.DialOption{URL: broker.url()})

	frames := make(chan ws.Frame, 4)
	b, err := tr.Subscribe("/topic/echo", nil, func(f ws.Frame) { frames <- f })
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe())
	require.NoError(t, b.Unsubscribe())

	require.NoError(t, tr.Send(ws.Frame{Destination: "/app/echo", Body: []byte("x")}))
	require.Eventually(t, func() bool { return broker.receivedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	select {
	case f := <-frames:
		t.Fatalf("unexpected delivery %q", f.Body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusyHandlerDoesNotStallWrites(t *testing.T) {
	broker := newStubBroker(t, "/ws")
	broker.burst = 200
	tr := dial(t, NewDialer(Option{}), ws.DialOption{URL: broker.url()})

	release := make(chan struct{})
	var (
		mu  sync.Mutex
		got []string
	)
	_, err := tr.Subscribe("/topic/burst", nil, func(f ws.Frame) {
		<-release
		mu.Lock()
		got = append(got, string(f.Body))
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return broker.burstCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 100; i++ {
			if err := tr.Send(ws.Frame{Destination: "/app/log", Body: []byte("x")}); err != nil {
				done <- err
				return
			}
		}
		_, err := tr.Subscribe("/topic/other", nil, func(ws.Frame) {})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		close(release)
		t.Fatal("writes stalled behind a busy handler")
	}
	require.Eventually(t, func() bool { return broker.receivedCount() == 100 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 200
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "0", got[0])
	assert.Equal(t, "199", got[199])
}

func TestServerDropClosesTransport(t *testing.T) {
	broker := newStubBroker(t, "/ws")
	tr := dial(t, NewDialer(Option{}), ws.DialOption{URL: broker.url()})

	broker.dropAll()
	select {
	case <-tr.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("transport not closed after server drop")
	}
	assert.Error(t, tr.Err())
	require.ErrorIs(t, tr.Send(ws.Frame{Destination: "/app/echo"}), exception.ErrNotConnected)
}

func TestLocalCloseHasNoError(t *testing.T) {
	broker := newStubBroker(t, "/ws")
	tr := dial(t, NewDialer(Option{}), ws.DialOption{URL: broker.url()})

	require.NoError(t, tr.Close())
	<-tr.Closed()
	assert.NoError(t, tr.Err())
	require.NoError(t, tr.Close())
}

func TestDialRejectedConnect(t *testing.T) {
	broker := newStubBroker(t, "/ws")
	broker.rejectConnect = true

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	_, err := NewDialer(Option{}).Dial(ctx, ws.DialOption{URL: broker.url()})
	require.ErrorIs(t, err, exception.ErrHandshake)
}

func TestDialWrongPath(t *testing.T) {
	broker := newStubBroker(t, "/ws")

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	_, err := NewDialer(Option{}).Dial(ctx, ws.DialOption{URL: broker.url() + "/missing"})
	require.ErrorIs(t, err, exception.ErrHandshake)
}

func TestHeartbeatWatchdog(t *testing.T) {
	broker := newStubBroker(t, "/ws")
	missed := make(chan time.Duration, 1)
	// the stub never sends heartbeats, so silence is reported after 2 intervals
	tr := dial(t, NewDialer(Option{}), ws.DialOption{
		URL:               broker.url(),
		HeartbeatIncoming: 20 * time.Millisecond,
		OnHeartbeatMissed: func(idle time.Duration) {
			select {
			case missed <- idle:
			default:
			}
		},
	})
	assert.NotNil(t, tr)

	select {
	case idle := <-missed:
		assert.Greater(t, idle, 40*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat miss not reported")
	}
}

func TestClientOverStomp(t *testing.T) {
	broker := newStubBroker(t, "/ws")
	c, err := ws.New(NewDialer(Option{}), ws.Option{URL: broker.url(), RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })

	require.NoError(t, c.Publish("/app/log", "queued before connect", nil))
	payload, raw, err := c.RequestResponse(t.Context(), "/app/echo", "/topic/echo", map[string]string{"q": "ping"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "ping"}, payload)
	assert.NotEmpty(t, raw.Headers[ws.CorrelationHeader])
	assert.Equal(t, 2, broker.receivedCount())

	broker.dropAll()
	require.Eventually(t, func() bool {
		return broker.connCount() == 2 && c.Status() == ws.StatusOpen
	}, 3*time.Second, 10*time.Millisecond)
}
