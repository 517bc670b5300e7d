package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Vennela115/CampusVinculum/internal/coordinator"
	"github.com/Vennela115/CampusVinculum/internal/logx"
)

// Client is one WebSocket connection. It satisfies coordinator.Peer.
//
// Three goroutines serve a client: readPump feeds inbound frames into a
// bounded queue, dispatchLoop hands them to the coordinator in arrival order,
// and writePump drains the outbound buffer.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	inbound        chan []byte
	hub            *Hub
	addr           string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	done chan struct{}
	once sync.Once

	logger zerolog.Logger
}

var _ coordinator.Peer = (*Client)(nil)

// NewClient creates a Client for conn using the active configuration.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		inbound:        make(chan []byte, inboundSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		done:           make(chan struct{}),
		logger: logx.Component("Client").With().
			Str("conn_id", id).
			Str("remote_addr", addr).
			Logger(),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame without blocking. A full buffer means the peer is not
// keeping up; the connection is closed and false returned.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn().Int("buffer", cap(c.send)).Msg("Send buffer full; closing slow connection")
		c.Close()
		return false
	}
}

// Close stops the client. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the read failure at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("limit", c.maxMessageSize).Msg("Message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug().Err(err).Msg("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("Connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn().Err(err).Msg("Unexpected WebSocket close")
	default:
		c.logger.Debug().Err(err).Msg("WebSocket read error")
	}
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Msg("Rate limit exceeded; discarding message")
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		close(c.inbound)
		c.Close()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}

		select {
		case c.inbound <- raw:
		case <-c.done:
			return
		}
	}
}

// dispatchLoop is the only goroutine that calls into the coordinator for
// this client. When the inbound queue closes it runs disconnect cleanup and
// leaves the hub.
func (c *Client) dispatchLoop() {
	coord := c.hub.coordinator
	for raw := range c.inbound {
		if err := coord.Dispatch(c.hub.ctx, c.id, raw); err != nil {
			c.logger.Warn().Err(err).Msg("Event rejected")
		}
	}

	coord.Disconnect(context.WithoutCancel(c.hub.ctx), c.id)

	select {
	case c.hub.unregister <- c:
	case <-c.hub.ctx.Done():
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case <-c.done:
			c.writeCloseMessage()
			return
		case message := <-c.send:
			if !c.writeTextMessage(message) {
				c.Close()
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("Error closing connection")
	}
}

func (c *Client) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("Error writing close message")
	}
}

// writeTextMessage writes message plus whatever else is queued, batching
// frames into newline separated messages. A frame that itself holds a
// newline always travels alone.
func (c *Client) writeTextMessage(message []byte) bool {
	for message != nil {
		var ok bool
		if message, ok = c.writeBatch(message); !ok {
			return false
		}
	}
	return true
}

// writeBatch writes one WebSocket message starting with first. It returns
// the queued frame that could not join the batch, if any.
func (c *Client) writeBatch(first []byte) ([]byte, bool) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Error setting write deadline")
		return nil, false
	}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Error creating writer")
		return nil, false
	}
	if _, err := w.Write(first); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing message")
		return nil, false
	}

	var carry []byte
	if !multiline(first) {
		n := len(c.send)
		for i := 0; i < n; i++ {
			next := <-c.send
			if multiline(next) {
				carry = next
				break
			}
			if _, err := w.Write([]byte{'\n'}); err != nil {
				return nil, false
			}
			if _, err := w.Write(next); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing queued message")
				return nil, false
			}
		}
	}

	if err := w.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Error closing writer")
		return nil, false
	}
	return carry, true
}

func multiline(frame []byte) bool {
	return bytes.IndexByte(frame, '\n') >= 0
}

func (c *Client) writePing() bool {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}
	return true
}
