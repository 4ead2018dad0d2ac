package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/egysaas25-hub/wppagent-sub000/internal/credentials"
	"github.com/egysaas25-hub/wppagent-sub000/internal/event"
	"github.com/egysaas25-hub/wppagent-sub000/internal/provider"
	"github.com/egysaas25-hub/wppagent-sub000/internal/resilience"
	"github.com/egysaas25-hub/wppagent-sub000/internal/session"
)

// msgKind discriminates actor mailbox messages.
type msgKind int

const (
	msgStart msgKind = iota
	msgStop
	msgConnectResult
	msgConnError
	msgReconnectTimer
	msgPairing
	msgStatus
	msgLoading
	msgMessage
	msgAck
	msgCredentials
)

// actorMsg is one mailbox entry. gen ties connection-scoped messages to
// the connection attempt that produced them; stale generations are
// ignored.
type actorMsg struct {
	kind msgKind
	gen  uint64

	client    provider.Client // connect result
	err       error           // connect result / connection error
	code      string          // pairing
	attempt   int             // pairing
	raw       string          // status
	percent   int             // loading
	label     string          // loading
	message   event.Message   // message
	messageID string          // ack
	ack       event.AckLevel  // ack
	blob      []byte          // credentials

	reply chan error
}

// actor owns all state for one session. Only the run goroutine touches
// the unexported state fields; the small view behind viewMu is what
// Send/IsActive read from other goroutines.
type actor struct {
	name    string
	m       *Manager
	logger  *slog.Logger
	breaker *resilience.Breaker
	mailbox chan actorMsg

	// Run-loop state
	gen            uint64
	status         session.Status
	client         provider.Client
	attempts       int
	autoReconnect  bool
	reconnectTimer *time.Timer
	connectCancel  context.CancelFunc

	// Cross-goroutine view
	viewMu     sync.RWMutex
	viewActive bool
	viewClient provider.Client
}

// newActor creates an idle actor for a session.
func newActor(name string, m *Manager) *actor {
	return &actor{
		name:   name,
		m:      m,
		logger: m.logger.With("session", name),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Threshold:    m.cfg.BreakerThreshold,
			ResetTimeout: m.cfg.BreakerResetTimeout,
		}),
		mailbox: make(chan actorMsg, m.cfg.MailboxSize),
		status:  session.StatusDisconnected,
	}
}

// command posts a start/stop command and waits for the actor to process
// it.
func (a *actor) command(ctx context.Context, kind msgKind) error {
	reply := make(chan error, 1)
	msg := actorMsg{kind: kind, reply: reply}

	select {
	case a.mailbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.m.ctx.Done():
		return ErrShuttingDown
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.m.ctx.Done():
		return ErrShuttingDown
	}
}

// post delivers a connection-scoped message to the mailbox. Reports
// false when the actor is gone.
func (a *actor) post(ctx context.Context, msg actorMsg) bool {
	select {
	case a.mailbox <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// currentClient returns the live provider handle, or nil.
func (a *actor) currentClient() provider.Client {
	a.viewMu.RLock()
	defer a.viewMu.RUnlock()
	if !a.viewActive {
		return nil
	}
	return a.viewClient
}

// isActive reports whether a connection is live or in flight.
func (a *actor) isActive() bool {
	a.viewMu.RLock()
	defer a.viewMu.RUnlock()
	return a.viewActive
}

// run is the actor loop. All session state transitions happen here.
func (a *actor) run(ctx context.Context) {
	defer a.m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			a.teardown()
			return

		case msg := <-a.mailbox:
			a.handle(ctx, msg)
		}
	}
}

// handle dispatches one mailbox message.
func (a *actor) handle(ctx context.Context, msg actorMsg) {
	// Connection-scoped messages from an older connection are stale.
	if msg.kind >= msgConnectResult && msg.gen != a.gen {
		if msg.kind == msgConnectResult && msg.client != nil {
			// A connect that finished after a stop still holds a live
			// handle.
			msg.client.Close()
		}
		a.logger.Debug("ignoring stale connection message", "kind", msg.kind, "gen", msg.gen)
		return
	}

	switch msg.kind {
	case msgStart:
		msg.reply <- a.handleStart(ctx)

	case msgStop:
		a.handleStop(ctx)
		msg.reply <- nil

	case msgConnectResult:
		a.handleConnectResult(ctx, msg.client, msg.err)

	case msgConnError:
		a.logger.Warn("provider connection error", "error", msg.err)
		a.handleDisconnect(ctx)

	case msgReconnectTimer:
		a.reconnectTimer = nil
		a.logger.Info("reconnect timer fired", "attempt", a.attempts)
		a.transition(ctx, session.StatusConnecting)
		a.connect(ctx)

	case msgPairing:
		a.handlePairing(ctx, msg.code, msg.attempt)

	case msgStatus:
		a.handleStatus(ctx, msg.raw)

	case msgLoading:
		a.m.emit(event.LoadingProgress{SessionName: a.name, Percent: msg.percent, Label: msg.label})

	case msgMessage:
		if a.m.sink != nil {
			a.m.sink.RecordMessage(a.name, msg.message)
		}
		a.m.emit(event.MessageReceived{SessionName: a.name, Message: msg.message})

	case msgAck:
		if a.m.sink != nil {
			a.m.sink.RecordAck(a.name, msg.messageID, msg.ack)
		}
		a.m.emit(event.AckUpdated{SessionName: a.name, MessageID: msg.messageID, Ack: msg.ack})

	case msgCredentials:
		if err := a.m.creds.Save(ctx, a.name, msg.blob); err != nil {
			a.logger.Warn("failed to save credentials", "error", err)
		}

	default:
		a.logger.Warn("unhandled actor message", "kind", msg.kind)
	}
}

// handleStart begins a connection attempt unless one is already live or
// in flight.
func (a *actor) handleStart(ctx context.Context) error {
	switch a.status {
	case session.StatusConnecting, session.StatusQRPending, session.StatusConnected:
		// Already active; the caller observes the in-flight attempt.
		return nil
	}

	sess, err := a.m.store.GetByName(ctx, a.name)
	if errors.Is(err, session.ErrNotFound) {
		sess = session.Session{
			Name:          a.name,
			Status:        session.StatusDisconnected,
			AutoReconnect: true,
		}
		if err := a.m.store.Create(ctx, sess); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	// A reconnect backoff may be pending from an earlier disconnect. Cancel
	// the timer and bump the generation so a timer that already fired, or a
	// connect it already launched, cannot race the attempt started here.
	a.cancelReconnect()
	a.gen++

	a.autoReconnect = sess.AutoReconnect
	a.attempts = 0

	a.setView(true, nil)
	a.transition(ctx, session.StatusConnecting)
	a.connect(ctx)
	return nil
}

// handleStop tears down the connection and any pending reconnect.
func (a *actor) handleStop(ctx context.Context) {
	a.cancelReconnect()
	a.closeClient()
	a.gen++ // Invalidate messages from the torn-down connection
	a.attempts = 0
	a.setView(false, nil)

	if a.status != session.StatusDisconnected {
		a.transition(ctx, session.StatusDisconnected)
		a.m.emit(event.Disconnected{SessionName: a.name})
	}
}

// connect starts an asynchronous connection attempt for the current
// generation. The result arrives as a msgConnectResult.
func (a *actor) connect(ctx context.Context) {
	gen := a.gen

	blob, err := a.m.creds.Get(ctx, a.name)
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		// Unreadable credentials force a fresh pairing, never a crash.
		a.logger.Warn("failed to load credentials, starting fresh pairing", "error", err)
		blob = nil
	}

	client := a.m.factory(a.name, blob, a.handlers(ctx, gen))

	cctx, cancel := context.WithCancel(ctx)
	a.connectCancel = cancel

	go func() {
		err := a.breaker.Execute(func() error {
			return resilience.WithTimeout(cctx, a.m.cfg.ConnectTimeout, client.Connect)
		})
		if errors.Is(err, resilience.ErrOpTimeout) {
			err = ErrConnectTimeout
		}
		if !a.post(ctx, actorMsg{kind: msgConnectResult, gen: gen, client: client, err: err}) {
			client.Close()
		}
	}()
}

// handleConnectResult finalizes an asynchronous connect attempt.
func (a *actor) handleConnectResult(ctx context.Context, client provider.Client, err error) {
	a.connectCancel = nil

	if err != nil {
		client.Close()
		a.logger.Warn("provider connect failed", "error", err, "attempt", a.attempts)
		a.handleDisconnect(ctx)
		return
	}

	// Never hold two live handles for one session.
	if a.client != nil && a.client != client {
		a.client.Close()
	}
	a.client = client
	a.attempts = 0
	a.setView(true, client)
	a.watchErrors(ctx, client, a.gen)

	a.logger.Info("provider connection established")
}

// handleDisconnect reacts to an unexpected connection loss or a failed
// connect attempt, applying the reconnect policy.
func (a *actor) handleDisconnect(ctx context.Context) {
	a.closeClient()
	a.gen++

	if !a.autoReconnect {
		a.setView(false, nil)
		a.transition(ctx, session.StatusDisconnected)
		a.m.emit(event.Disconnected{SessionName: a.name})
		return
	}

	if a.attempts >= a.m.cfg.ReconnectMaxAttempts {
		a.logger.Error("reconnect attempts exhausted", "attempts", a.attempts)
		a.setView(false, nil)
		a.transition(ctx, session.StatusError)
		a.m.emit(event.Disconnected{SessionName: a.name})
		return
	}

	delay := resilience.BackoffDelay(a.m.cfg.ReconnectBaseDelay, a.m.cfg.ReconnectMaxDelay, a.attempts)
	a.attempts++
	a.setView(true, nil)

	a.transition(ctx, session.StatusDisconnected)
	a.m.emit(event.Disconnected{SessionName: a.name})

	a.logger.Info("scheduling reconnect", "delay", delay, "attempt", a.attempts)

	gen := a.gen
	a.cancelReconnect()
	a.reconnectTimer = time.AfterFunc(delay, func() {
		a.post(ctx, actorMsg{kind: msgReconnectTimer, gen: gen})
	})
}

// handlePairing persists and publishes a fresh pairing code.
func (a *actor) handlePairing(ctx context.Context, code string, attempt int) {
	if err := a.m.store.SavePairingCode(ctx, a.name, code); err != nil {
		a.logger.Warn("failed to persist pairing code", "error", err)
	}
	a.transition(ctx, session.StatusQRPending)
	a.m.emit(event.Paired{SessionName: a.name, Code: code, Attempt: attempt})
}

// handleStatus maps a raw provider status onto the session state
// machine. Every raw value maps to exactly one transition; unmapped
// values are logged no-ops.
func (a *actor) handleStatus(ctx context.Context, raw string) {
	mapped, ok := session.MapProviderStatus(raw)
	if !ok {
		a.logger.Info("unmapped provider status, ignoring", "raw", raw)
		return
	}
	if mapped == a.status {
		return
	}

	switch mapped {
	case session.StatusConnected:
		a.attempts = 0
		a.transition(ctx, session.StatusConnected)
		if a.client != nil {
			if identity := a.client.Identity(); identity != "" {
				if err := a.m.store.UpdatePhoneIdentity(ctx, a.name, identity); err != nil {
					a.logger.Warn("failed to persist phone identity", "error", err)
				}
			}
		}
		a.m.emit(event.Connected{SessionName: a.name})

	case session.StatusDisconnected:
		a.handleDisconnect(ctx)

	case session.StatusError:
		a.cancelReconnect()
		a.closeClient()
		a.gen++
		a.setView(false, nil)
		a.transition(ctx, session.StatusError)
		a.m.emit(event.Disconnected{SessionName: a.name})

	default:
		a.transition(ctx, mapped)
	}
}

// transition persists and publishes a status change.
func (a *actor) transition(ctx context.Context, to session.Status) {
	if a.status == to {
		return
	}

	a.logger.Debug("session transition", "from", a.status, "to", to)
	a.status = to

	if err := a.m.store.UpdateStatus(ctx, a.name, to); err != nil {
		a.logger.Warn("failed to persist session status", "status", to, "error", err)
	}
	a.m.emit(event.StatusChanged{SessionName: a.name, Status: string(to)})
}

// handlers builds provider callbacks posting into the mailbox for one
// connection generation.
func (a *actor) handlers(ctx context.Context, gen uint64) provider.Handlers {
	return provider.Handlers{
		PairingCode: func(code string, attempt int) {
			a.post(ctx, actorMsg{kind: msgPairing, gen: gen, code: code, attempt: attempt})
		},
		Status: func(raw string) {
			a.post(ctx, actorMsg{kind: msgStatus, gen: gen, raw: raw})
		},
		LoadingProgress: func(percent int, label string) {
			a.post(ctx, actorMsg{kind: msgLoading, gen: gen, percent: percent, label: label})
		},
		Message: func(msg event.Message) {
			a.post(ctx, actorMsg{kind: msgMessage, gen: gen, message: msg})
		},
		Ack: func(messageID string, level event.AckLevel) {
			a.post(ctx, actorMsg{kind: msgAck, gen: gen, messageID: messageID, ack: level})
		},
		Credentials: func(blob []byte) {
			a.post(ctx, actorMsg{kind: msgCredentials, gen: gen, blob: blob})
		},
	}
}

// watchErrors forwards the connection's failure signal to the mailbox.
func (a *actor) watchErrors(ctx context.Context, client provider.Client, gen uint64) {
	go func() {
		select {
		case err := <-client.Errors():
			a.post(ctx, actorMsg{kind: msgConnError, gen: gen, err: err})
		case <-ctx.Done():
		}
	}()
}

// teardown releases resources on orchestrator shutdown.
func (a *actor) teardown() {
	a.cancelReconnect()
	a.closeClient()
	a.setView(false, nil)

	if a.status == session.StatusConnected || a.status == session.StatusQRPending || a.status == session.StatusConnecting {
		// Best effort: shutdown ctx is already cancelled, so persist with
		// a short independent deadline.
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.m.store.UpdateStatus(pctx, a.name, session.StatusDisconnected); err != nil {
			a.logger.Warn("failed to persist status during shutdown", "error", err)
		}
	}
}

// closeClient releases the provider handle, if any.
func (a *actor) closeClient() {
	if a.connectCancel != nil {
		a.connectCancel()
		a.connectCancel = nil
	}
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
}

// cancelReconnect stops a pending reconnect timer.
func (a *actor) cancelReconnect() {
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
}

// setView publishes the cross-goroutine view of this actor.
func (a *actor) setView(active bool, client provider.Client) {
	a.viewMu.Lock()
	a.viewActive = active
	a.viewClient = client
	a.viewMu.Unlock()
}
