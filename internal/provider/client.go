package provider

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

	"github.com/egysaas25-hub/wppagent-sub000/internal/event"
)

// NewFactory returns a Factory producing gateway clients with the given
// configuration.
func NewFactory(cfg Config, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = DefaultConfig().BufferSize
	}
	return func(sessionName string, credential []byte, handlers Handlers) Client {
		return &gatewayClient{
			cfg:        cfg,
			session:    sessionName,
			credential: credential,
			handlers:   handlers,
			logger:     logger.With("session", sessionName),
			errors:     make(chan error, 1),
			done:       make(chan struct{}),
			inbound:    make(chan envelope, bufSize),
			pending:    make(map[int64]chan envelope),
		}
	}
}

// gatewayClient is a websocket connection to the provider gateway for
// one session.
type gatewayClient struct {
	cfg        Config
	session    string
	credential []byte
	handlers   Handlers
	logger     *slog.Logger

	conn *websocket.Conn

	errors  chan error
	done    chan struct{}
	inbound chan envelope

	// Write serialization
	writeMu sync.Mutex

	// Send/receipt correlation
	pendingMu sync.Mutex
	pending   map[int64]chan envelope
	sendID    int64 // Atomic counter

	// State
	mu         sync.RWMutex
	connected  bool
	identity   string
	lastPingAt time.Time
	closed     bool
}

// Connect dials the gateway, announces the session, and starts the read
// and heartbeat loops.
func (c *gatewayClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.GatewayURL, header)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// Server pings, we pong; both refresh the staleness clock.
	conn.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()

		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	// Announce the session; a nil credential asks the gateway for a
	// fresh pairing flow.
	init := envelope{
		Type:    "init",
		Session: c.session,
		Creds:   c.credential,
	}
	if err := c.write(init); err != nil {
		conn.Close()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return fmt.Errorf("send init: %w", err)
	}

	go c.readLoop()
	go c.dispatchLoop()
	go c.heartbeatLoop()

	c.logger.Debug("gateway connected", "url", c.cfg.GatewayURL)
	return nil
}

// Close tears down the connection.
func (c *gatewayClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return c.conn.Close()
	}
	return nil
}

// Send delivers an outbound message and waits for the gateway receipt.
func (c *gatewayClient) Send(ctx context.Context, to, body string) (Receipt, error) {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return Receipt{}, ErrNotConnected
	}
	c.mu.RUnlock()

	id := atomic.AddInt64(&c.sendID, 1)
	respCh := make(chan envelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	env := envelope{
		Type: "send",
		ID:   id,
		To:   to,
		Body: body,
	}
	if err := c.write(env); err != nil {
		return Receipt{}, err
	}

	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-c.done:
		return Receipt{}, ErrNotConnected
	case <-time.After(c.cfg.SendTimeout):
		return Receipt{}, ErrSendTimeout
	case resp := <-respCh:
		if resp.Type == "error" {
			return Receipt{}, fmt.Errorf("provider: send rejected: %s", resp.Error)
		}
		return Receipt{
			MessageID: resp.MessageID,
			Timestamp: time.UnixMilli(resp.Ts),
		}, nil
	}
}

// Identity returns the provider account identity once authenticated.
func (c *gatewayClient) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Errors returns the connection error channel.
func (c *gatewayClient) Errors() <-chan error {
	return c.errors
}

// write serializes an envelope to the socket under the write lock.
func (c *gatewayClient) write(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads envelopes and dispatches them to handlers.
func (c *gatewayClient) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- err:
				default:
				}
				return
			}
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed gateway envelope", "error", err)
			continue
		}

		select {
		case c.inbound <- env:
		case <-c.done:
			return
		}
	}
}

// dispatchLoop runs handlers off the socket read path. The buffer
// absorbs bursts; a full buffer applies backpressure to the read loop.
func (c *gatewayClient) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.inbound:
			c.dispatch(env)
		}
	}
}

// dispatch routes one envelope to the matching handler.
func (c *gatewayClient) dispatch(env envelope) {
	switch env.Type {
	case "sent", "error":
		c.routeReceipt(env)

	case "pairing_code":
		if c.handlers.PairingCode != nil {
			c.handlers.PairingCode(env.Code, env.Attempt)
		}

	case "status":
		if env.Identity != "" {
			c.mu.Lock()
			c.identity = env.Identity
			c.mu.Unlock()
		}
		if c.handlers.Status != nil {
			c.handlers.Status(env.Status)
		}

	case "loading":
		if c.handlers.LoadingProgress != nil {
			c.handlers.LoadingProgress(env.Percent, env.Label)
		}

	case "message":
		var msg event.Message
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			c.logger.Warn("malformed message payload", "error", err)
			return
		}
		if c.handlers.Message != nil {
			c.handlers.Message(msg)
		}

	case "ack":
		if c.handlers.Ack != nil {
			c.handlers.Ack(env.MessageID, event.AckLevel(env.Ack))
		}

	case "credentials":
		if c.handlers.Credentials != nil {
			c.handlers.Credentials(env.Blob)
		}

	default:
		c.logger.Debug("unhandled gateway envelope", "type", env.Type)
	}
}

// routeReceipt resolves a pending send, if any.
func (c *gatewayClient) routeReceipt(env envelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- env:
		default:
		}
	}
}

// heartbeatLoop pings the gateway and flags stale connections.
func (c *gatewayClient) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			c.mu.RLock()
			lastPing := c.lastPingAt
			c.mu.RUnlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
