package orchestrator

import (
	"errors"
	"time"

	"github.com/egysaas25-hub/wppagent-sub000/internal/event"
)

// Errors
var (
	// ErrSessionNotActive is returned when a caller uses a session with
	// no live provider connection.
	ErrSessionNotActive = errors.New("session not active")

	// ErrConnectTimeout is returned when a provider connect attempt
	// exceeds its deadline.
	ErrConnectTimeout = errors.New("provider connect timeout")

	// ErrShuttingDown is returned for commands issued after Stop.
	ErrShuttingDown = errors.New("orchestrator shutting down")
)

// Config controls session lifecycle management.
type Config struct {
	ConnectTimeout       time.Duration // Deadline for one provider connect attempt
	ReconnectBaseDelay   time.Duration // Backoff base (attempt 0 delay)
	ReconnectMaxDelay    time.Duration // Backoff cap
	ReconnectMaxAttempts int           // Failures tolerated before terminal error state
	EventBufferSize      int           // Domain event channel buffer
	BreakerThreshold     int           // Consecutive provider failures before the breaker opens
	BreakerResetTimeout  time.Duration // Open period before a half-open probe
	SendRateCapacity     int           // Outbound send token bucket capacity
	SendRatePerSecond    int           // Outbound send token refill rate
	MailboxSize          int           // Per-session actor mailbox buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       60 * time.Second,
		ReconnectBaseDelay:   5 * time.Second,
		ReconnectMaxDelay:    300 * time.Second,
		ReconnectMaxAttempts: 5,
		EventBufferSize:      1024,
		BreakerThreshold:     5,
		BreakerResetTimeout:  30 * time.Second,
		SendRateCapacity:     20,
		SendRatePerSecond:    10,
		MailboxSize:          256,
	}
}

// MessageSink receives incoming messages and ack updates for
// persistence. Calls are fire-and-forget: implementations must not
// block and errors stay on their side.
type MessageSink interface {
	RecordMessage(sessionName string, msg event.Message)
	RecordAck(sessionName, messageID string, level event.AckLevel)
}

// Stats summarizes orchestrator state.
type Stats struct {
	ActiveSessions int
	TrackedActors  int
	EventsDropped  int64
}
