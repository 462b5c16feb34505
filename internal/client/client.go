package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jarto666/scriptforge/internal/events"
	"github.com/jarto666/scriptforge/internal/logger"
)

// Config holds client connection settings and the published reconnection
// contract: a bounded number of automatic retries with a fixed delay between
// attempts. After the retries are exhausted the session stays disconnected
// until Connect is called again.
type Config struct {
	// URL is the gateway websocket endpoint, e.g. ws://host:8080/ws.
	URL string
	// MaxRetries bounds automatic reconnection attempts after a drop.
	MaxRetries int
	// RetryDelay is the fixed pause between reconnection attempts.
	RetryDelay time.Duration

	// Notifier receives passive batch-completion toasts; nil disables them.
	Notifier Notifier

	// Connectivity callbacks carry no batch semantics; they exist for
	// connection-state UI. All may be nil.
	OnConnect      func()
	OnDisconnect   func()
	OnConnectError func(err error)

	Logger *logger.Logger
}

// Client is a session-scoped gateway client: one websocket connection, one
// subscription multiplexer. All callbacks (event callbacks, toasts,
// connectivity callbacks) run on the client's single read goroutine.
type Client struct {
	cfg Config
	mux *Mux
	log *logger.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	closed       bool
	reconnecting bool
}

// New creates a client. Call Connect to establish the session.
func New(cfg Config) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	c := &Client{cfg: cfg, log: log}
	c.mux = NewMux(c, cfg.Notifier, log)
	return c
}

// Mux returns the client's subscription multiplexer.
func (c *Client) Mux() *Mux {
	return c.mux
}

// Connect dials the gateway and starts the read loop. It re-joins every
// batch that still has registered callbacks, so a manual reconnect restores
// the live stream (missed events are not replayed; callers re-fetch batch
// state through the REST API).
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	if c.reconnecting {
		c.mu.Unlock()
		return fmt.Errorf("reconnect in progress")
	}
	c.closed = false
	c.mu.Unlock()

	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.startSession(conn)
	return nil
}

// Close terminates the session and disables automatic reconnection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
	if err != nil {
		if c.cfg.OnConnectError != nil {
			c.cfg.OnConnectError(err)
		}
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}
	return conn, nil
}

// startSession installs the connection, fires OnConnect, re-joins followed
// batches, and launches the read loop.
func (c *Client) startSession(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.reconnecting = false
	c.mu.Unlock()

	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}

	for _, batchID := range c.mux.joinedBatches() {
		if err := c.sendOp(events.OpJoin, batchID); err != nil {
			c.log.WithError(err).Warn("failed to re-join batch after connect")
		}
	}

	go c.readLoop(conn)
}

// readLoop dispatches incoming envelopes until the connection drops, then
// runs the bounded reconnection policy.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		if err := c.mux.Dispatch(env); err != nil {
			c.log.WithError(err).Warn("dropping undecodable event")
		}
	}

	c.mu.Lock()
	intentional := c.closed
	c.conn = nil
	if !intentional {
		// Claim the session slot before releasing the lock so a manual
		// Connect cannot race the reconnect loop into a second session.
		c.reconnecting = true
	}
	c.mu.Unlock()
	conn.Close()

	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect()
	}
	if intentional {
		return
	}

	c.reconnect()
}

// reconnect attempts to restore the session: MaxRetries attempts with a
// fixed delay in between. Exhausting them leaves the client disconnected
// until the caller invokes Connect again. Connect is rejected while the
// loop holds the session slot; startSession releases it.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		time.Sleep(c.cfg.RetryDelay)

		c.mu.Lock()
		if c.closed {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := c.dial()
		if err != nil {
			c.log.WithError(err).Warn(fmt.Sprintf("reconnect attempt %d/%d failed", attempt, c.cfg.MaxRetries))
			continue
		}
		c.startSession(conn)
		return
	}

	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()
	c.log.Warn("reconnect attempts exhausted, session disconnected")
}

// sendOp writes one join/leave operation. Satisfies the mux's opSender.
// The lock serializes op writes; the only other writer on the connection is
// the pong control frame, which gorilla allows concurrently.
func (c *Client) sendOp(op string, batchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		// Not connected: the op is implied by the re-join performed on the
		// next successful connect.
		return nil
	}
	return c.conn.WriteJSON(events.ClientOp{Op: op, BatchID: batchID})
}
