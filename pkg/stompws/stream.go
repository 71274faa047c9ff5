package stompws

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteWait = time.Second

// stream adapts a websocket connection to the byte stream the STOMP codec reads and writes.
// Every Write is sent as one text message. Reads continue across message boundaries.
type stream struct {
	ws *websocket.Conn

	reader   io.Reader
	lastRead atomic.Int64

	wmu sync.Mutex

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newStream(ws *websocket.Conn) *stream {
	s := &stream{
		ws:   ws,
		done: make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *stream) touch() {
	s.lastRead.Store(time.Now().UnixNano())
}

// idle returns how long ago the last inbound message arrived.
func (s *stream) idle() time.Duration {
	return time.Since(time.Unix(0, s.lastRead.Load()))
}

func (s *stream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.ws.NextReader()
			if err != nil {
				s.fail(err)
				return 0, err
			}
			s.touch()
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			s.fail(err)
		}
		return n, err
	}
}

func (s *stream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		s.fail(err)
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal close message and releases the connection.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.wmu.Lock()
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteWait))
		s.wmu.Unlock()
		err = s.ws.Close()
		close(s.done)
	})
	return err
}

// fail records the first I/O error and closes the connection.
func (s *stream) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		_ = s.ws.Close()
		close(s.done)
	})
}

func (s *stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the stream, or nil after a local Close.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
