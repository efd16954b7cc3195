package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gorelay/internal/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one WebSocket connection. It implements hub.Connection: the hub
// pushes payloads through Send and the write pump drains them to the peer.
type Client struct {
	id      string
	conn    *websocket.Conn
	hub     *hub.Hub
	addr    string
	logger  *slog.Logger
	limiter *tokenBucket
	limits  settings // fixed at creation; rate limits live in limiter

	mu     sync.Mutex
	send   chan hub.Payload
	closed bool
}

// newClient creates a client for conn. conn may be nil when only the send
// queue is used.
func newClient(id string, conn *websocket.Conn, h *hub.Hub, addr string, logger *slog.Logger, limits settings) *Client {
	if conn != nil {
		conn.SetReadLimit(limits.maxMessageSize)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		id:      id,
		conn:    conn,
		hub:     h,
		addr:    addr,
		logger:  logger.With("id", id, "addr", addr),
		limiter: newTokenBucket(limits.burst, limits.refillInterval),
		limits:  limits,
		send:    make(chan hub.Payload, limits.sendBuffer),
	}
}

// ID implements hub.Connection.
func (c *Client) ID() string {
	return c.id
}

// Send queues p for delivery without blocking.
func (c *Client) Send(p hub.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- p:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops accepting payloads. The write pump flushes what is queued,
// sends a close frame and tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// setRateLimit replaces the inbound rate limit of a live client.
func (c *Client) setRateLimit(burst int, interval time.Duration) {
	c.limiter.setLimits(burst, interval)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs why the read loop is ending.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", "limit", c.limits.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("client closed connection", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err):
		c.logger.Warn("unexpected websocket close", "error", err)
	default:
		c.logger.Warn("websocket read error", "error", err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.OnDisconnect(c.id)
		_ = c.Close()
		if err := c.conn.Close(); !isExpectedCloseError(err) {
			c.logger.Debug("error closing connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.limiter.allow() {
			burst, interval := c.limiter.limits()
			c.logger.Warn("rate limit exceeded; discarding message",
				"burst", burst, "interval", interval)
			continue
		}

		c.hub.OnMessage(c.id, hub.Payload{Kind: payloadKind(messageType), Data: data})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); !isExpectedCloseError(err) {
			c.logger.Debug("error closing connection in writePump", "error", err)
		}
	}()

	for {
		select {
		case p, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			if !c.write(frameType(p.Kind), p.Data) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// write sends one frame and reports whether the pump should continue.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("error writing close message", "error", err)
		}
	}
}
