package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a single WebSocket write may block on a slow
// consumer before the connection is considered dead.
const writeWait = 10 * time.Second

// wsChannel adapts a WebSocket connection to the turn.OutputChannel contract.
//
// gorilla/websocket allows at most one concurrent writer, so all writes go
// through a mutex. Once Close is called (the read loop observed disconnect),
// writes are dropped silently and report success, letting an in-flight turn
// run to completion against a peer that is gone.
type wsChannel struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	logger *slog.Logger
}

func newWSChannel(conn *websocket.Conn, logger *slog.Logger) *wsChannel {
	return &wsChannel{conn: conn, logger: logger}
}

// Send delivers an assistant text fragment as one text frame.
func (c *wsChannel) Send(ctx context.Context, text string) error {
	return c.write(ctx, text)
}

// Notice delivers a transient system notice. Notices ride the same text-frame
// transport as assistant output; the bracketed text convention distinguishes
// them on the client.
func (c *wsChannel) Notice(ctx context.Context, text string) error {
	return c.write(ctx, text)
}

func (c *wsChannel) write(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		// A failed write means the peer is unreachable. Mark closed so the
		// rest of the turn degrades to silent drops instead of repeating
		// the same error.
		c.closed = true
		c.logger.Debug("websocket write failed, dropping further output", "error", err)
		return nil
	}
	return nil
}

// Close marks the channel closed and closes the underlying connection.
// Safe to call more than once.
func (c *wsChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("closing websocket", "error", err)
	}
}
