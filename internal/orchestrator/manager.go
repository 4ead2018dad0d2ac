package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/egysaas25-hub/wppagent-sub000/internal/credentials"
	"github.com/egysaas25-hub/wppagent-sub000/internal/event"
	"github.com/egysaas25-hub/wppagent-sub000/internal/provider"
	"github.com/egysaas25-hub/wppagent-sub000/internal/resilience"
	"github.com/egysaas25-hub/wppagent-sub000/internal/session"
)

// Manager orchestrates provider connections for all sessions.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	factory provider.Factory
	store   session.Store
	creds   credentials.Store
	sink    MessageSink // May be nil

	events       chan event.Event
	eventsMu     sync.Mutex
	eventsClosed bool
	sendLimiter  *resilience.TokenBucket

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	actors map[string]*actor

	eventsDropped atomic.Int64
}

// NewManager creates a Manager. sink may be nil when message history is
// not persisted.
func NewManager(cfg Config, factory provider.Factory, store session.Store, creds credentials.Store, sink MessageSink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		factory:     factory,
		store:       store,
		creds:       creds,
		sink:        sink,
		events:      make(chan event.Event, cfg.EventBufferSize),
		sendLimiter: resilience.NewTokenBucket(cfg.SendRateCapacity, cfg.SendRatePerSecond),
		actors:      make(map[string]*actor),
	}
}

// Start begins the orchestrator and resurrects every session with auto
// reconnect enabled.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	names, err := m.store.ListAutoReconnectEnabled(m.ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	// Resurrect in parallel, bounded so a large fleet does not stampede
	// the gateway.
	g := new(errgroup.Group)
	g.SetLimit(8)
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := m.StartSession(m.ctx, name); err != nil {
				m.logger.Warn("failed to resurrect session", "session", name, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	m.logger.Info("orchestrator started", "resurrected", len(names))
	return nil
}

// Stop shuts down all sessions, bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping orchestrator")

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, abandoning session actors")
	}

	// An abandoned actor may still emit after the timeout above, so the
	// channel closes under the same lock emit takes.
	m.eventsMu.Lock()
	if !m.eventsClosed {
		m.eventsClosed = true
		close(m.events)
	}
	m.eventsMu.Unlock()

	m.logger.Info("orchestrator stopped")
	return nil
}

// Events returns the domain event channel. Closed by Stop.
func (m *Manager) Events() <-chan event.Event {
	return m.events
}

// StartSession ensures the named session has a live (or in-flight)
// provider connection. No-op when already active; concurrent calls for
// one name are serialized by the session's actor.
func (m *Manager) StartSession(ctx context.Context, name string) error {
	a, err := m.actorFor(name)
	if err != nil {
		return err
	}
	return a.command(ctx, msgStart)
}

// StopSession closes the named session's provider connection and
// cancels any pending reconnect. Idempotent.
func (m *Manager) StopSession(ctx context.Context, name string) error {
	m.mu.RLock()
	a := m.actors[name]
	m.mu.RUnlock()

	if a == nil {
		return nil
	}
	return a.command(ctx, msgStop)
}

// Send delivers an outbound message through the session's connection.
// The call is rate limited and guarded by the session's circuit
// breaker.
func (m *Manager) Send(ctx context.Context, name, to, body string) (provider.Receipt, error) {
	m.mu.RLock()
	a := m.actors[name]
	m.mu.RUnlock()

	if a == nil {
		return provider.Receipt{}, ErrSessionNotActive
	}

	client := a.currentClient()
	if client == nil {
		return provider.Receipt{}, ErrSessionNotActive
	}

	if err := m.sendLimiter.Acquire(ctx, 1); err != nil {
		return provider.Receipt{}, err
	}

	var receipt provider.Receipt
	err := a.breaker.Execute(func() error {
		var sendErr error
		receipt, sendErr = client.Send(ctx, to, body)
		return sendErr
	})
	if err == provider.ErrNotConnected {
		return provider.Receipt{}, ErrSessionNotActive
	}
	return receipt, err
}

// IsActive reports whether the session has a live or in-flight
// connection.
func (m *Manager) IsActive(name string) bool {
	m.mu.RLock()
	a := m.actors[name]
	m.mu.RUnlock()
	return a != nil && a.isActive()
}

// ActiveSessions returns the names of all active sessions.
func (m *Manager) ActiveSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, a := range m.actors {
		if a.isActive() {
			names = append(names, name)
		}
	}
	return names
}

// Stats returns current orchestrator statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, a := range m.actors {
		if a.isActive() {
			active++
		}
	}
	return Stats{
		ActiveSessions: active,
		TrackedActors:  len(m.actors),
		EventsDropped:  m.eventsDropped.Load(),
	}
}

// actorFor returns the session's actor, creating and starting it on
// first use.
func (m *Manager) actorFor(name string) (*actor, error) {
	if m.ctx == nil || m.ctx.Err() != nil {
		return nil, ErrShuttingDown
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.actors[name]; ok {
		return a, nil
	}

	a := newActor(name, m)
	m.actors[name] = a

	m.wg.Add(1)
	go a.run(m.ctx)

	return a, nil
}

// emit publishes a domain event without blocking; events are dropped
// with a warning when the consumer lags.
func (m *Manager) emit(ev event.Event) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	if m.eventsClosed {
		return
	}

	select {
	case m.events <- ev:
	default:
		m.eventsDropped.Add(1)
		m.logger.Warn("event buffer full, dropping event", "kind", ev.Kind())
	}
}
