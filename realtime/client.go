package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	errs "github.com/techagentng/citizenchat/errors"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Conn is the part of *websocket.Conn a Client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type ClientOptions struct {
	SendBuffer int
	EventRate  float64
	EventBurst int
	Metrics    *Metrics
}

// Client is one socket connection of an authenticated user.
type Client struct {
	ID     string
	UserID uint

	conn      Conn
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
	metrics   *Metrics
}

func NewClient(userID uint, conn Conn, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.EventRate <= 0 {
		opts.EventRate = 20
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 40
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		send:    make(chan []byte, opts.SendBuffer),
		closed:  make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(opts.EventRate), opts.EventBurst),
		metrics: opts.Metrics,
	}
}

// Send queues a frame without blocking. A full buffer drops the frame.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		if c.metrics != nil {
			c.metrics.FramesSent.Inc()
		}
		return true
	default:
		if c.metrics != nil {
			c.metrics.FramesDropped.Inc()
		}
		log.Printf("socket: send buffer full, dropping frame for user %d conn %s", c.UserID, c.ID)
		return false
	}
}

// Emit encodes and queues a single event for this connection.
func (c *Client) Emit(event string, data interface{}) bool {
	frame, err := Encode(event, data)
	if err != nil {
		log.Printf("socket: encode %s: %v", event, err)
		return false
	}
	return c.Send(frame)
}

// EmitError reports a failed inbound event to this connection only.
func (c *Client) EmitError(event string, err error) {
	e := errs.From(err)
	if e.Kind == errs.KindInternal && e.Err != nil {
		log.Printf("socket: %s failed for user %d: %v", event, c.UserID, e.Err)
	}
	c.Emit(EventError, ErrorPayload{
		Message: e.Message,
		Details: ErrorDetails{Kind: string(e.Kind), Event: event, Fields: e.Fields},
	})
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		_ = c.conn.Close()
	})
}

// Context is cancelled when the client is closed. Work started for an
// inbound event runs under it.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// ReadPump reads frames until the connection fails and hands each one to
// handle. Frames of one connection are handled one at a time in arrival order.
func (c *Client) ReadPump(handle func(c *Client, in Inbound)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("socket: read error for user %d: %v", c.UserID, err)
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
			c.EmitError("", errs.InvalidInput("malformed frame"))
			continue
		}
		if c.metrics != nil {
			c.metrics.eventReceived(in.Event)
		}
		if !c.limiter.Allow() {
			c.EmitError(in.Event, errs.InvalidInput("too many events, slow down"))
			continue
		}
		handle(c, in)
	}
}

// WritePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
