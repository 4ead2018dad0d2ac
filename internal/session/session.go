package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no session exists with the given name.
var ErrNotFound = errors.New("session not found")

// Status is a session's lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusQRPending    Status = "qr_pending"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDisconnected, StatusConnecting, StatusQRPending, StatusConnected, StatusError:
		return true
	}
	return false
}

// providerStatusMap maps raw provider status values to canonical
// statuses. Unmapped values mean "unchanged, log only".
var providerStatusMap = map[string]Status{
	"STARTING":      StatusConnecting,
	"OPENING":       StatusConnecting,
	"PAIRING":       StatusQRPending,
	"SCAN_QR_CODE":  StatusQRPending,
	"UNPAIRED":      StatusQRPending,
	"CONNECTED":     StatusConnected,
	"AUTHENTICATED": StatusConnected,
	"DISCONNECTED":  StatusDisconnected,
	"TIMEOUT":       StatusDisconnected,
	"CONFLICT":      StatusError,
	"UNLAUNCHED":    StatusError,
}

// MapProviderStatus translates a raw provider status. ok is false for
// unmapped values.
func MapProviderStatus(raw string) (Status, bool) {
	s, ok := providerStatusMap[raw]
	return s, ok
}

// Session is the durable record of one provider account connection.
type Session struct {
	Name          string
	TenantID      string // Owning tenant; scopes fan-out rooms
	Status        Status
	PhoneIdentity string // Provider account identity, set after pairing
	AutoReconnect bool
	PairingCode   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store persists sessions. Writes come only from the orchestrator.
type Store interface {
	// Create inserts a session, or is a no-op if the name exists.
	Create(ctx context.Context, s Session) error

	// GetByName returns the session or ErrNotFound.
	GetByName(ctx context.Context, name string) (Session, error)

	// UpdateStatus sets the lifecycle status.
	UpdateStatus(ctx context.Context, name string, status Status) error

	// UpdatePhoneIdentity records the provider account identity.
	UpdatePhoneIdentity(ctx context.Context, name, identity string) error

	// SavePairingCode stores the latest pairing code.
	SavePairingCode(ctx context.Context, name, code string) error

	// SetAutoReconnect toggles automatic reconnection.
	SetAutoReconnect(ctx context.Context, name string, enabled bool) error

	// ListAutoReconnectEnabled returns names of sessions to resurrect at
	// startup.
	ListAutoReconnectEnabled(ctx context.Context) ([]string, error)

	// Delete removes a session. Returns ErrNotFound when absent.
	Delete(ctx context.Context, name string) error
}
