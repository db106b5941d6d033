package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("connection closed")

const (
	writeBuffer  = 100
	writeTimeout = 5 * time.Second
)

// wsConn serializes all writes to one gorilla connection through a single
// writer goroutine, so the bus pump and the read loop can both reply
// without racing. Per-connection FIFO order follows from the channel.
type wsConn struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		conn:    conn,
		writeCh: make(chan []byte, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for sending. Safe for concurrent use.
func (c *wsConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return errConnClosed
	case <-time.After(writeTimeout):
		return errConnClosed
	}
}

// Done is closed when the connection is no longer usable.
func (c *wsConn) Done() <-chan struct{} { return c.ctx.Done() }

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
