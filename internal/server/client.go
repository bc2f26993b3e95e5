// Package server runs a reader and a writer goroutine for every accepted
// WebSocket client.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/wsmux/internal/message"
	"github.com/Tyrowin/wsmux/internal/queue"
)

// Client is one accepted WebSocket connection. Its read pump feeds the hub's
// inbound queue; its write pump drains the client's own outbound queue.
type Client struct {
	id         ClientID
	conn       *websocket.Conn
	remoteAddr string
	hub        *Hub
	logger     *slog.Logger

	send        *queue.Queue[message.Message]
	rateLimiter *rateLimiter

	writeTimeout time.Duration
	gracePeriod  time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	flush      chan struct{} // closed to make the writer drain and exit
	writerDone chan struct{}
	stopping   atomic.Bool // set by forced shutdown
}

func newClient(conn *websocket.Conn, hub *Hub, remoteAddr string) *Client {
	id := NewClientID()
	ctx, cancel := context.WithCancel(hub.ctx)
	cfg := hub.cfg

	c := &Client{
		id:           id,
		conn:         conn,
		remoteAddr:   remoteAddr,
		hub:          hub,
		logger:       hub.logger.With("client", id.String()),
		send:         queue.New[message.Message](cfg.SendQueueLimit),
		rateLimiter:  newRateLimiter(cfg.RateLimit),
		writeTimeout: cfg.WriteTimeout,
		gracePeriod:  cfg.CloseGracePeriod,
		ctx:          ctx,
		cancel:       cancel,
		flush:        make(chan struct{}),
		writerDone:   make(chan struct{}),
	}

	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
		// The close frame is answered after pending writes are flushed.
		conn.SetCloseHandler(func(int, string) error { return nil })
	}
	return c
}

// ID returns the client's identifier.
func (c *Client) ID() ClientID {
	return c.id
}

// enqueue queues msg for the write pump. A full queue drops the message.
func (c *Client) enqueue(msg message.Message) bool {
	err := c.send.Push(msg)
	if err == nil {
		return true
	}
	if errors.Is(err, queue.ErrFull) {
		c.logger.Warn("outbound queue full; dropping message", "size", msg.Len())
		c.hub.reportFailure(c.id, Overflow, err)
	}
	return false
}

func (c *Client) readPump() {
	closeFrame := false
	defer func() {
		c.finish(closeFrame)
	}()

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			closeFrame = c.handleReadError(err)
			return
		}

		var msg message.Message
		switch frameType {
		case websocket.TextMessage:
			msg = message.Text(string(data))
		case websocket.BinaryMessage:
			msg = message.Binary(data)
		default:
			continue
		}

		if !c.checkRateLimit() {
			continue
		}

		c.hub.deliver(InboundMessage{From: c.id, Message: msg})
	}
}

// handleReadError logs why the read loop ended and reports whether the peer
// sent a close frame.
func (c *Client) handleReadError(err error) bool {
	if c.stopping.Load() {
		c.logger.Debug("read loop stopped by shutdown")
		return false
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		c.logger.Info("client sent close frame", "code", closeErr.Code, "reason", closeErr.Text)
		return true
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("message exceeded maximum size", "limit", c.hub.cfg.MaxMessageSize)
		c.hub.reportFailure(c.id, ReadFailure, err)
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err) {
		c.logger.Info("connection closed without close frame", "error", err)
		c.hub.reportFailure(c.id, ReadFailure, err)
		return false
	}

	c.logger.Warn("websocket read error", "error", err)
	c.hub.reportFailure(c.id, ReadFailure, err)
	return false
}

// checkRateLimit reports whether the next frame may be delivered.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter.allow() {
		return true
	}
	c.logger.Warn("rate limit exceeded; discarding message",
		"burst", c.hub.cfg.RateLimit.Burst,
		"interval", c.hub.cfg.RateLimit.RefillInterval)
	return false
}

// finish runs the Closing and Removed transitions. It is called once, from
// the read pump.
func (c *Client) finish(closeFrame bool) {
	c.hub.unregister(c)

	if closeFrame && c.gracePeriod > 0 {
		close(c.flush)
		timer := time.NewTimer(c.gracePeriod)
		select {
		case <-c.writerDone:
		case <-timer.C:
			c.logger.Debug("grace period elapsed before outbound queue drained")
		}
		timer.Stop()
	}

	if closeFrame {
		reply := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.conn.WriteControl(websocket.CloseMessage, reply, time.Now().Add(time.Second)); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("error answering close frame", "error", err)
		}
	}

	c.cancel()
	c.send.Close()
	c.closeConnection()
}

func (c *Client) writePump() {
	defer close(c.writerDone)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.send.Ready():
			c.writeQueued()
		case <-c.flush:
			c.writeQueued()
			return
		}
	}
}

// writeQueued writes every message currently in the outbound queue.
func (c *Client) writeQueued() {
	for _, msg := range c.send.Drain() {
		c.writeMessage(msg)
	}
}

// writeMessage writes one frame. Failures drop the message and leave the
// connection open; the read pump owns teardown.
func (c *Client) writeMessage(msg message.Message) {
	frameType := websocket.TextMessage
	if msg.IsBinary() {
		frameType = websocket.BinaryMessage
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.logger.Debug("error setting write deadline", "error", err)
	}

	if err := c.conn.WriteMessage(frameType, msg.Payload()); err != nil {
		if isExpectedCloseError(err) {
			c.logger.Debug("dropping message for closed connection", "error", err)
			return
		}
		c.logger.Warn("error writing message; dropped", "kind", msg.Kind(), "error", err)
		c.hub.reportFailure(c.id, WriteFailure, err)
	}
}

// shutdown forces the connection closed. The read pump then observes the
// error and completes the normal Closing transition.
func (c *Client) shutdown() {
	c.stopping.Store(true)

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error writing close message", "error", err)
	}

	c.cancel()
	c.closeConnection()
}

// closeConnection closes the socket, ignoring errors from an already closed one.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing connection", "error", err)
	}
}
