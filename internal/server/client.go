package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomrelay/internal/chat"
	"github.com/Tyrowin/roomrelay/internal/logger"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	inboxBacklog = 16
)

// Client adapts one WebSocket connection to relay.Conn. Frames are JSON
// encoded chat messages in both directions.
type Client struct {
	conn           *websocket.Conn
	addr           string
	log            *slog.Logger
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	inbox chan chat.Message

	// userID fills frames that omit one. It is replaced by the id the first
	// frame carries, if any. Only the read pump touches it.
	userID string
	bound  bool

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// NewClient wraps conn. Call Start to begin reading.
func NewClient(conn *websocket.Conn, addr string, cfg Config, log *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:           conn,
		addr:           addr,
		log:            log.With(logger.Addr(addr), logger.Transport("websocket")),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		inbox:          make(chan chat.Message, inboxBacklog),
		userID:         uuid.NewString(),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the read and keepalive pumps.
func (c *Client) Start() {
	go c.readPump()
	go c.pingPump()
}

// Recv returns the next decoded frame. It reports io.EOF once the peer has
// closed the connection normally.
func (c *Client) Recv(ctx context.Context) (chat.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.ctx.Done():
		// Hand out anything decoded before the connection ended.
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
		}
		return chat.Message{}, c.err()
	case <-ctx.Done():
		return chat.Message{}, ctx.Err()
	}
}

// Send writes msg as a single text frame.
func (c *Client) Send(msg chat.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Context is done once the read side of the connection has ended.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Close sends a close frame and closes the underlying connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.writeMu.Lock()
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
			err = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil && !isExpectedCloseError(err) {
				c.log.Debug("error writing close message", logger.Error(err))
			}
		}
		c.writeMu.Unlock()

		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection", logger.Error(err))
		}
	})
}

func (c *Client) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		return io.EOF
	}
	return c.readErr
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	c.readErr = err
	c.errMu.Unlock()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", logger.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", logger.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read failure and maps clean closes to io.EOF.
func (c *Client) handleReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("message exceeded maximum size", slog.Int64("max_bytes", c.maxMessageSize))
		return fmt.Errorf("read: %w", err)
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		c.log.Debug("client disconnected", logger.Error(err))
		return io.EOF
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Debug("client connection closed", logger.Error(err))
		return io.EOF
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.Warn("unexpected WebSocket close", logger.Error(err))
		return fmt.Errorf("read: %w", err)
	}

	c.log.Warn("WebSocket read error", logger.Error(err))
	return fmt.Errorf("read: %w", err)
}

// checkRateLimit reports whether a TEXT event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded, discarding message",
			slog.Int("burst", c.rateLimit.Burst),
			slog.Duration("refill_interval", c.rateLimit.RefillInterval),
		)
		return false
	}
	return true
}

func (c *Client) decode(raw []byte) (chat.Message, bool) {
	var msg chat.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn("invalid message", logger.Error(err))
		return chat.Message{}, false
	}

	switch {
	case msg.UserID == "":
		msg.UserID = c.userID
	case !c.bound:
		c.userID = msg.UserID
	}
	c.bound = true
	return msg, true
}

func (c *Client) readPump() {
	defer c.cancel()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(c.handleReadError(err))
			return
		}

		msg, ok := c.decode(raw)
		if !ok {
			continue
		}
		if msg.Kind == chat.KindText && !c.checkRateLimit() {
			continue
		}

		select {
		case c.inbox <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !c.handlePing() {
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", logger.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("error writing ping message", logger.Error(err))
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
