package realtime

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type fakeConn struct {
	mu      sync.Mutex
	reads   chan []byte
	written [][]byte
	pings   int
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}
	if messageType == websocket.PingMessage {
		f.pings++
		return nil
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestClient(userID uint) *Client {
	return NewClient(userID, newFakeConn(), ClientOptions{SendBuffer: 256})
}

// drain returns the frames queued for c without blocking.
func drain(c *Client) []frame {
	var out []frame
	for {
		select {
		case data := <-c.send:
			var f frame
			if err := json.Unmarshal(data, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func eventsNamed(frames []frame, event string) []frame {
	var out []frame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

type presenceCall struct {
	UserID uint
	Online bool
}

type fakePresenceStore struct {
	mu    sync.Mutex
	calls []presenceCall
	err   error
}

func (s *fakePresenceStore) UpdatePresence(_ context.Context, userID uint, online bool, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, presenceCall{UserID: userID, Online: online})
	return s.err
}

func (s *fakePresenceStore) Calls() []presenceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]presenceCall(nil), s.calls...)
}
