package stompws

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

type stompFrame struct {
	command string
	headers map[string]string
	body    string
}

func parseFrames(buf *bytes.Buffer) []stompFrame {
	var out []stompFrame
	for {
		data := buf.Bytes()
		end := bytes.IndexByte(data, 0)
		if end < 0 {
			return out
		}
		raw := strings.TrimLeft(string(data[:end]), "\r\n")
		buf.Next(end + 1)
		if raw == "" {
			continue
		}
		head, body, _ := strings.Cut(raw, "\n\n")
		lines := strings.Split(head, "\n")
		f := stompFrame{command: strings.TrimSpace(lines[0]), headers: map[string]string{}, body: body}
		for _, line := range lines[1:] {
			k, v, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
			if ok {
				if _, dup := f.headers[k]; !dup {
					f.headers[k] = v
				}
			}
		}
		out = append(out, f)
	}
}

func encodeFrame(command string, headers map[string]string, body string) []byte {
	var b strings.Builder
	b.WriteString(command)
	b.WriteString("\n")
	for k, v := range headers {
		b.WriteString(k + ":" + v + "\n")
	}
	if body != "" {
		fmt.Fprintf(&b, "content-length:%d\n", len(body))
	}
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteByte(0)
	return []byte(b.String())
}

// stubBroker is a minimal STOMP 1.2 broker over websocket. Frames sent to
// /app/echo are published on /topic/echo with the same body and correlation id.
type stubBroker struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	// rejectConnect answers CONNECT with an ERROR frame.
	rejectConnect bool
	// path the broker accepts; others get 404.
	path string
	// burst messages are published at once to each new /topic/burst subscription.
	burst int

	mu       sync.Mutex
	conns    []*websocket.Conn
	connects []stompFrame
	received []stompFrame
	bursts   int
}

func newStubBroker(t *testing.T, path string) *stubBroker {
	b := &stubBroker{t: t, path: path, upgrader: websocket.Upgrader{Subprotocols: []string{"v12.stomp"}}}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.server.Close)
	return b
}

func (b *stubBroker) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + b.path
}

func (b *stubBroker) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != b.path {
		http.NotFound(w, r)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()
	defer conn.Close()

	subs := map[string]string{}
	var buf bytes.Buffer
	var seq int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		buf.Write(data)
		for _, f := range parseFrames(&buf) {
			switch f.command {
			case "CONNECT", "STOMP":
				b.mu.Lock()
				b.connects = append(b.connects, f)
				reject := b.rejectConnect
				b.mu.Unlock()
				if reject {
					_ = conn.WriteMessage(websocket.TextMessage, encodeFrame("ERROR", map[string]string{"message": "bad credentials"}, ""))
					return
				}
				_ = conn.WriteMessage(websocket.TextMessage, encodeFrame("CONNECTED", map[string]string{
					"version": "1.2", "heart-beat": "0,0", "session": "stub-1", "server": "stub/1.0",
				}, ""))
			case "SUBSCRIBE":
				subs[f.headers["id"]] = f.headers["destination"]
				if f.headers["destination"] != "/topic/burst" {
					break
				}
				for i := 0; i < b.burst; i++ {
					seq++
					_ = conn.WriteMessage(websocket.TextMessage, encodeFrame("MESSAGE", map[string]string{
						"destination":  "/topic/burst",
						"subscription": f.headers["id"],
						"message-id":   fmt.Sprint(seq),
					}, fmt.Sprint(i)))
				}
				b.mu.Lock()
				b.bursts++
				b.mu.Unlock()
			case "UNSUBSCRIBE":
				delete(subs, f.headers["id"])
			case "SEND":
				b.mu.Lock()
				b.received = append(b.received, f)
				b.mu.Unlock()
				if f.headers["destination"] != "/app/echo" {
					break
				}
				for id, dest := range subs {
					if dest != "/topic/echo" {
						continue
					}
					seq++
					headers := map[string]string{
						"destination":  dest,
						"subscription": id,
						"message-id":   fmt.Sprint(seq),
						"content-type": "application/json",
					}
					if cid := f.headers["correlation-id"]; cid != "" {
						headers["correlation-id"] = cid
					}
					_ = conn.WriteMessage(websocket.TextMessage, encodeFrame("MESSAGE", headers, f.body))
				}
			case "DISCONNECT":
				// the client closes the socket once it has the receipt
				if receipt := f.headers["receipt"]; receipt != "" {
					_ = conn.WriteMessage(websocket.TextMessage, encodeFrame("RECEIPT", map[string]string{"receipt-id": receipt}, ""))
				}
			}
			if receipt := f.headers["receipt"]; receipt != "" && f.command != "DISCONNECT" {
				_ = conn.WriteMessage(websocket.TextMessage, encodeFrame("RECEIPT", map[string]string{"receipt-id": receipt}, ""))
			}
		}
	}
}

// dropAll closes every server side connection.
func (b *stubBroker) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		_ = c.Close()
	}
}

func (b *stubBroker) lastConnect() stompFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.connects) == 0 {
		return stompFrame{}
	}
	return b.connects[len(b.connects)-1]
}

func (b *stubBroker) receivedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.received)
}

func (b *stubBroker) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *stubBroker) burstCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bursts
}
