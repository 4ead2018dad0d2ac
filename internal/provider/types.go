package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/egysaas25-hub/wppagent-sub000/internal/event"
)

// Errors
var (
	ErrNotConnected    = errors.New("provider: not connected")
	ErrStaleConnection = errors.New("provider: connection stale (no ping)")
	ErrSendTimeout     = errors.New("provider: send timeout")
	ErrAlreadyClosed   = errors.New("provider: already closed")
)

// Receipt confirms an outbound message was accepted by the provider.
type Receipt struct {
	MessageID string
	Timestamp time.Time
}

// Handlers are the callbacks a session client invokes. Nil handlers are
// skipped. All callbacks are invoked from the client's dispatch
// goroutine; blocking in one delays the rest.
type Handlers struct {
	// PairingCode delivers a QR-style pairing code for user authorization.
	PairingCode func(code string, attempt int)

	// Status delivers raw provider status strings (mapped to canonical
	// statuses by the orchestrator).
	Status func(raw string)

	// LoadingProgress reports sync progress during connection.
	LoadingProgress func(percent int, label string)

	// Message delivers an incoming chat message.
	Message func(msg event.Message)

	// Ack delivers a delivery acknowledgement update.
	Ack func(messageID string, level event.AckLevel)

	// Credentials delivers an updated credential blob to persist for
	// future pairing-free reconnects.
	Credentials func(blob []byte)
}

// Client is one session's connection to the provider.
type Client interface {
	// Connect establishes the connection and starts delivering callbacks.
	Connect(ctx context.Context) error

	// Close tears the connection down. Idempotent.
	Close() error

	// Send delivers an outbound message.
	Send(ctx context.Context, to, body string) (Receipt, error)

	// Identity returns the provider account identity (phone-style JID),
	// or "" before authentication completes.
	Identity() string

	// Errors returns a channel signalling connection failure. At most one
	// error is delivered per connection.
	Errors() <-chan error
}

// Factory creates a Client for a session. credential may be nil,
// forcing a fresh pairing flow.
type Factory func(sessionName string, credential []byte, handlers Handlers) Client

// Config configures gateway clients.
type Config struct {
	GatewayURL   string        // Base websocket URL of the provider gateway
	APIKey       string        // Gateway API key
	PingTimeout  time.Duration // Max time without ping before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	SendTimeout  time.Duration // Max wait for a send receipt
	BufferSize   int           // Inbound envelope channel buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendTimeout:  15 * time.Second,
		BufferSize:   1000,
	}
}

// envelope is the gateway wire format. The type field selects which of
// the remaining fields are populated.
type envelope struct {
	Type      string          `json:"type"`
	ID        int64           `json:"id,omitempty"`
	Session   string          `json:"session,omitempty"`
	Identity  string          `json:"identity,omitempty"`
	Code      string          `json:"code,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	Status    string          `json:"status,omitempty"`
	Percent   int             `json:"percent,omitempty"`
	Label     string          `json:"message_label,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Ack       int             `json:"ack,omitempty"`
	Blob      []byte          `json:"blob,omitempty"`
	To        string          `json:"to,omitempty"`
	Body      string          `json:"body,omitempty"`
	Ts        int64           `json:"ts,omitempty"`
	Error     string          `json:"error,omitempty"`
	Creds     []byte          `json:"credentials,omitempty"`
}
