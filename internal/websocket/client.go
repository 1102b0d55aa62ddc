// Package websocket connects browser websocket sessions to the chat engine.
// WebSockets are persistent two-way connections between the server and clients — unlike
// regular HTTP where the client always initiates the request, WebSockets let the server
// push data to clients instantly, so a message typed by one colleague shows up for the
// rest of the company the moment it is sent.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

// ErrClientClosed is returned by Send once the client has shut down.
var ErrClientClosed = errors.New("websocket client closed")

// writeWait bounds every frame write, including pings and the close frame.
const writeWait = 10 * time.Second

// Client represents a single connected websocket.
// Outgoing frames go through a buffered channel drained by the write pump, so
// a broadcast never writes to the socket directly and a slow reader only
// fills its own buffer.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *zap.Logger

	pingInterval time.Duration

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	// readMu orders read deadline updates against shutdown so a late
	// extension cannot undo the deadline that unblocks the read loop.
	readMu      sync.Mutex
	readStopped bool
}

func newClient(id string, conn *websocket.Conn, cfg Config, logger *zap.Logger) *Client {
	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, cfg.SendBuffer),
		done:         make(chan struct{}),
		logger:       logger.With(zap.String("conn", id)),
		pingInterval: cfg.PingInterval,
	}
}

// Send queues payload for the write pump. It fails when the client is closed
// or when the buffer stays full until ctx expires; the chat router treats
// both as a dead peer and evicts the client.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return fmt.Errorf("send to %s: %w", c.id, ctx.Err())
	}
}

// shutdown stops the client. The write pump sends a close frame with code
// and reason and then closes the socket, which also ends the read loop.
// Only the first call has an effect.
func (c *Client) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Evicted closes the client after the chat router dropped it because a
// delivery failed or timed out.
func (c *Client) Evicted() {
	c.shutdown(websocket.ClosePolicyViolation, "delivery failed")
}

// extendReadDeadline pushes the read deadline d into the future, unless the
// client is already stopping.
func (c *Client) extendReadDeadline(d time.Duration) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.readStopped {
		return ErrClientClosed
	}
	return c.conn.SetReadDeadline(time.Now().Add(d))
}

// stopReading expires the read deadline so a ReadMessage blocked in the read
// loop returns. Closing a hijacked fasthttp connection does not do that.
func (c *Client) stopReading() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.readStopped = true
	if err := c.conn.SetReadDeadline(time.Now()); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("expire read deadline", zap.Error(err))
	}
}

// writePump writes queued frames and keepalive pings until the client shuts
// down or a write fails. finished is closed on return.
func (c *Client) writePump(finished chan<- struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.stopReading()
		c.closeConnection()
		close(finished)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write frame", zap.Error(err))
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("write ping", zap.Error(err))
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.writeClose()
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) writeClose() {
	if c.closeCode == websocket.CloseAbnormalClosure {
		// 1006 must never be sent on the wire; the peer is gone anyway.
		return
	}
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("write close frame", zap.Error(err))
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("close connection", zap.Error(err))
	}
}
