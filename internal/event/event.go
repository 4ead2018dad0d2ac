// Package event defines the domain events emitted by the orchestrator
// and presence tracker and consumed by the real-time fan-out service.
// Events are immutable values; consumers receive them at most once.
package event

import "time"

// Kind discriminates event variants. Values double as the wire type
// names pushed to subscribers.
type Kind string

const (
	KindPaired          Kind = "paired"
	KindStatusChanged   Kind = "status"
	KindConnected       Kind = "connected"
	KindDisconnected    Kind = "disconnected"
	KindMessageReceived Kind = "message"
	KindAckUpdated      Kind = "ack"
	KindLoadingProgress Kind = "loading"
	KindPresenceUpdated Kind = "presence_update"
)

// Event is the common interface for all domain events.
type Event interface {
	Kind() Kind
}

// SessionEvent is an event scoped to one session.
type SessionEvent interface {
	Event
	Session() string
}

// AckLevel is the provider's delivery acknowledgement ladder.
type AckLevel int

const (
	AckError   AckLevel = -1
	AckPending AckLevel = 0
	AckServer  AckLevel = 1
	AckDevice  AckLevel = 2
	AckRead    AckLevel = 3
	AckPlayed  AckLevel = 4
)

// Message is an incoming chat message from the provider.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	From      string    `json:"from"`
	FromMe    bool      `json:"fromMe"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Paired carries a provider pairing code for a session awaiting auth.
type Paired struct {
	SessionName string `json:"session"`
	Code        string `json:"code"`
	Attempt     int    `json:"attempt"`
}

func (Paired) Kind() Kind        { return KindPaired }
func (e Paired) Session() string { return e.SessionName }

// StatusChanged reports a session lifecycle transition.
type StatusChanged struct {
	SessionName string `json:"session"`
	Status      string `json:"status"`
}

func (StatusChanged) Kind() Kind        { return KindStatusChanged }
func (e StatusChanged) Session() string { return e.SessionName }

// Connected reports a session reaching the connected state.
type Connected struct {
	SessionName string `json:"session"`
}

func (Connected) Kind() Kind        { return KindConnected }
func (e Connected) Session() string { return e.SessionName }

// Disconnected reports a session losing its provider connection.
type Disconnected struct {
	SessionName string `json:"session"`
}

func (Disconnected) Kind() Kind        { return KindDisconnected }
func (e Disconnected) Session() string { return e.SessionName }

// MessageReceived carries an incoming chat message.
type MessageReceived struct {
	SessionName string  `json:"session"`
	Message     Message `json:"message"`
}

func (MessageReceived) Kind() Kind        { return KindMessageReceived }
func (e MessageReceived) Session() string { return e.SessionName }

// AckUpdated reports a delivery acknowledgement change.
type AckUpdated struct {
	SessionName string   `json:"session"`
	MessageID   string   `json:"messageId"`
	Ack         AckLevel `json:"ack"`
}

func (AckUpdated) Kind() Kind        { return KindAckUpdated }
func (e AckUpdated) Session() string { return e.SessionName }

// LoadingProgress reports provider sync progress during connect.
type LoadingProgress struct {
	SessionName string `json:"session"`
	Percent     int    `json:"percent"`
	Label       string `json:"message"`
}

func (LoadingProgress) Kind() Kind        { return KindLoadingProgress }
func (e LoadingProgress) Session() string { return e.SessionName }

// PresenceUpdated reports a user presence change within a tenant.
type PresenceUpdated struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
	Status   string `json:"status"`
}

func (PresenceUpdated) Kind() Kind { return KindPresenceUpdated }
