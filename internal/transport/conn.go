package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 10 * time.Second
	closeReason         = "shutting down"
)

// Conn adapts a websocket connection to subscriber.Conn. Writes are
// serialized; the read side is owned by readLoop.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu      sync.Mutex
	done    chan struct{}
	dropped sync.Once
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Conn{ws: ws, writeTimeout: writeTimeout, done: make(chan struct{})}
}

func (c *Conn) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// Send writes one text frame.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a going-away close frame and waits until the peer answers and
// the read loop has exited, or ctx is done.
func (c *Conn) Close(ctx context.Context) error {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, closeReason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, c.deadline(ctx)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort drops the underlying connection.
func (c *Conn) Abort() error {
	var err error
	c.dropped.Do(func() { err = c.ws.Close() })
	return err
}

// readLoop hands every data frame to handle until the connection fails or
// the close handshake completes.
func (c *Conn) readLoop(readLimit int64, handle func([]byte)) error {
	defer func() {
		close(c.done)
		_ = c.Abort()
	}()
	if readLimit > 0 {
		c.ws.SetReadLimit(readLimit)
	}
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			handle(data)
		}
	}
}
