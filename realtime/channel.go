package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/affinityml/affinity-go/internal/version"
)

// Channel is a persistent WebSocket channel to the metrics endpoint.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	// Connection state. epoch increments whenever the current connection
	// (or connection attempt) is invalidated; goroutines bound to an
	// older epoch must stand down. lastPong tracks the most recent ping
	// or pong from the server on the current connection.
	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	epoch    uint64
	lastPong time.Time
	closed   bool

	errs chan error

	// Write serialization
	writeMu sync.Mutex

	// Invocation/acknowledgement correlation
	pendingMu sync.Mutex
	pending   map[int64]chan ack
	invokeID  int64 // Atomic counter
}

// NewChannel creates a channel for the given configuration. Zero config
// fields fall back to DefaultConfig values. The channel starts out
// Disconnected; call Start to connect.
func NewChannel(cfg Config) *Channel {
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = def.InvokeTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	// Zero means unset; negative values are kept and disable automatic
	// reconnection.
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.ErrorBufferSize <= 0 {
		cfg.ErrorBufferSize = def.ErrorBufferSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Channel{
		cfg:     cfg,
		logger:  logger,
		errs:    make(chan error, cfg.ErrorBufferSize),
		pending: make(map[int64]chan ack),
	}
}

// Start establishes the connection. It is a no-op if the channel is
// already connected or a connection attempt is in flight.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	epoch := c.epoch
	c.state = Connecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		if !c.closed && c.epoch == epoch {
			c.state = Disconnected
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		// Stop or Close raced the dial; discard the connection.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.attach(conn, epoch)
	c.mu.Unlock()

	c.logger.Debug("channel connected", "url", c.cfg.URL)
	return nil
}

// Stop closes the current connection and halts any reconnection in
// progress. The channel can be started again afterwards. Stopping a
// disconnected or closed channel is a no-op.
func (c *Channel) Stop() error {
	c.mu.Lock()
	if c.closed || c.state == Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	c.state = Disconnected
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.failPending()

	return closeConn(conn)
}

// Close permanently shuts down the channel, failing pending invocations
// and closing the Errors channel. A closed channel cannot be restarted.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.epoch++
	c.state = Disconnected
	conn := c.conn
	c.conn = nil
	close(c.errs)
	c.mu.Unlock()

	c.failPending()

	return closeConn(conn)
}

// Invoke sends a method invocation and waits for the server to
// acknowledge it. It returns ErrNotConnected when the channel is not
// connected and ErrInvokeTimeout when no acknowledgement arrives within
// the configured timeout.
func (c *Channel) Invoke(ctx context.Context, method string, payload interface{}) error {
	id := atomic.AddInt64(&c.invokeID, 1)

	data, err := json.Marshal(invocation{ID: id, Method: method, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	// Register before the connected check so a teardown racing the send
	// fails this invocation instead of leaving it to time out.
	respCh := make(chan ack, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.InvokeTimeout):
		return ErrInvokeTimeout
	case resp, ok := <-respCh:
		if !ok {
			// Connection torn down while waiting.
			return ErrNotConnected
		}
		if resp.Type == "error" {
			return serverError(resp.Msg)
		}
		return nil
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Errors returns a channel of asynchronous errors: dropped connections,
// exhausted reconnection attempts and unsolicited server errors. The
// channel is closed by Close.
func (c *Channel) Errors() <-chan error {
	return c.errs
}

// dial opens the WebSocket connection with auth headers.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", version.UserAgent())
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs conn as the live connection and starts its read and
// keepalive loops. Callers must hold c.mu.
func (c *Channel) attach(conn *websocket.Conn, epoch uint64) {
	c.conn = conn
	c.state = Connected
	c.lastPong = time.Now()

	// Server pings are answered with pongs carrying the same payload.
	conn.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()

		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Pongs answer the keepalive pings.
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	done := make(chan struct{})
	go c.readLoop(conn, epoch, done)
	go c.keepAliveLoop(conn, epoch, done)
}

// readLoop reads frames from conn until it fails or the connection is
// torn down. done is closed on exit to stop the keepalive loop.
func (c *Channel) readLoop(conn *websocket.Conn, epoch uint64, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnError(epoch, err)
			return
		}

		var frame ack
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("discarding unparseable frame", "error", err)
			continue
		}

		if frame.ID == 0 {
			if frame.Type == "error" {
				c.notifyError(serverError(frame.Msg))
			}
			continue
		}

		c.routeAck(frame)
	}
}

// handleConnError reacts to a broken connection: a failed read or a
// stale keepalive. If the connection is still current it tears it down
// and schedules reconnection; errors invalidated by Stop, Close or an
// earlier failure are ignored.
func (c *Channel) handleConnError(epoch uint64, err error) {
	reconnect := c.cfg.MaxReconnectAttempts > 0

	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.epoch++
	next := c.epoch
	if reconnect {
		c.state = Reconnecting
	} else {
		c.state = Disconnected
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.failPending()

	c.logger.Warn("connection lost", "url", c.cfg.URL, "error", err)
	c.notifyError(fmt.Errorf("connection lost: %w", err))

	if reconnect {
		go c.reconnectLoop(next)
	}
}

// reconnectLoop retries the connection with exponential backoff until it
// succeeds, the attempt budget is exhausted, or the epoch is invalidated
// by Stop or Close.
func (c *Channel) reconnectLoop(epoch uint64) {
	delay := c.cfg.ReconnectBaseDelay

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		time.Sleep(delay)

		c.mu.Lock()
		if c.closed || c.epoch != epoch {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.logger.Info("attempting reconnection", "attempt", attempt, "url", c.cfg.URL)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()

		if err != nil {
			c.logger.Warn("reconnection failed", "attempt", attempt, "error", err)

			// Exponential backoff
			delay *= 2
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
			continue
		}

		c.mu.Lock()
		if c.closed || c.epoch != epoch {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.attach(conn, epoch)
		c.mu.Unlock()

		c.logger.Info("reconnected", "url", c.cfg.URL)
		return
	}

	c.mu.Lock()
	if !c.closed && c.epoch == epoch {
		c.state = Disconnected
	}
	c.mu.Unlock()

	c.logger.Error("reconnection attempts exhausted", "attempts", c.cfg.MaxReconnectAttempts)
	c.notifyError(fmt.Errorf("reconnect: %w after %d attempts", ErrNotConnected, c.cfg.MaxReconnectAttempts))
}

// keepAliveLoop pings the server at the configured interval and tears
// the connection down when no pong (or server ping) arrives within
// PongTimeout. Pong silence is the staleness signal; writes to a dead
// socket can keep succeeding until TCP gives up. The loop exits when
// the read loop does.
func (c *Channel) keepAliveLoop(conn *websocket.Conn, epoch uint64, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
			}

			c.mu.Lock()
			lastPong := c.lastPong
			c.mu.Unlock()

			if time.Since(lastPong) > c.cfg.PongTimeout {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", c.cfg.PongTimeout,
				)
				c.handleConnError(epoch, ErrStaleConnection)
				return
			}
		}
	}
}

// routeAck delivers a server acknowledgement to the waiting invocation.
func (c *Channel) routeAck(frame ack) {
	c.pendingMu.Lock()
	ch, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- frame:
		default:
		}
	}
}

// failPending wakes every waiting invocation. Entries are removed from
// the map before their channels close, so routeAck can never send on a
// closed channel.
func (c *Channel) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.pendingMu.Unlock()
}

// notifyError pushes err to the Errors channel without blocking. Errors
// are dropped when the buffer is full or the channel is closed.
func (c *Channel) notifyError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.errs <- err:
	default:
		c.logger.Warn("error buffer full, dropping error", "error", err)
	}
}

// closeConn sends a close frame and tears down the connection.
func closeConn(conn *websocket.Conn) error {
	if conn == nil {
		return nil
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// serverError converts an "error" frame payload into a Go error.
func serverError(msg json.RawMessage) error {
	var em errorMsg
	if err := json.Unmarshal(msg, &em); err != nil || em.Message == "" {
		return fmt.Errorf("server error: %s", string(msg))
	}
	if em.Code != "" {
		return fmt.Errorf("server error %s: %s", em.Code, em.Message)
	}
	return fmt.Errorf("server error: %s", em.Message)
}
