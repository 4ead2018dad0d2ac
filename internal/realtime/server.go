package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/egysaas25-hub/wppagent-sub000/internal/auth"
	"github.com/egysaas25-hub/wppagent-sub000/internal/event"
	"github.com/egysaas25-hub/wppagent-sub000/internal/presence"
)

// TenantResolver reports which tenant owns a session.
type TenantResolver interface {
	TenantOf(ctx context.Context, sessionName string) (string, error)
}

// SessionDirectory lists sessions with a live connection.
type SessionDirectory interface {
	ActiveSessions() []string
}

// Config controls the fan-out server.
type Config struct {
	SendBufferSize int           // Per-subscriber outbound queue
	WriteTimeout   time.Duration // Deadline for one websocket write
	PingInterval   time.Duration // Ping cadence per subscriber
	PongTimeout    time.Duration // Read deadline extension on pong
	SweepInterval  time.Duration // Stale subscriber sweep cadence
	StaleAfter     time.Duration // Silence before a subscriber is dead
	ReadLimit      int64         // Max inbound frame size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendBufferSize: 64,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		SweepInterval:  5 * time.Minute,
		StaleAfter:     5 * time.Minute,
		ReadLimit:      4096,
	}
}

// outbound is the wire envelope pushed to subscribers.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// inbound is a decoded subscriber command.
type inbound struct {
	Action  string `json:"action"`
	Session string `json:"session,omitempty"`
	Chat    string `json:"chat,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Server authenticates subscribers, manages their room membership, and
// republishes domain events into the right rooms.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	hub      *Hub
	verifier *auth.Verifier
	presence *presence.Tracker
	sessions SessionDirectory
	tenants  TenantResolver

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a fan-out Server.
func NewServer(
	cfg Config,
	verifier *auth.Verifier,
	tracker *presence.Tracker,
	sessions SessionDirectory,
	tenants TenantResolver,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		hub:      NewHub(logger.With("component", "hub")),
		verifier: verifier,
		presence: tracker,
		sessions: sessions,
		tenants:  tenants,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Hub exposes the room registry, mainly for diagnostics.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins the stale subscriber sweep.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("realtime server started", "sweep_interval", s.cfg.SweepInterval)
	return nil
}

// Stop notifies all subscribers of the shutdown then closes every
// connection, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping realtime server")

	if s.cancel != nil {
		s.cancel()
	}

	notice, _ := json.Marshal(outbound{Event: "shutdown"})
	for _, sub := range s.hub.all() {
		sub.enqueue(notice)
	}

	// Give the write pumps a moment to drain the notice.
	grace := 500 * time.Millisecond
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl) / 2; remaining < grace {
			grace = remaining
		}
	}
	if grace > 0 {
		time.Sleep(grace)
	}

	for _, sub := range s.hub.all() {
		s.dropSubscriber(sub)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("realtime server stop timed out")
	}

	s.logger.Info("realtime server stopped")
	return nil
}

// Consume routes a domain event channel into rooms until it closes.
// Call once per source (orchestrator, presence).
func (s *Server) Consume(events <-chan event.Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range events {
			s.route(ev)
		}
	}()
}

// route maps one event onto its rooms.
func (s *Server) route(ev event.Event) {
	payload, err := json.Marshal(outbound{Event: string(ev.Kind()), Data: ev})
	if err != nil {
		s.logger.Error("failed to encode event", "kind", ev.Kind(), "error", err)
		return
	}

	switch e := ev.(type) {
	case event.PresenceUpdated:
		s.hub.Broadcast(tenantRoom(e.TenantID), payload)

	case event.SessionEvent:
		name := e.Session()
		rooms := []string{sessionRoom(name)}

		tenant, err := s.tenantOf(name)
		if err != nil {
			s.logger.Warn("failed to resolve session tenant", "session", name, "error", err)
		} else {
			rooms = append(rooms, tenantRoom(tenant))
			// Message traffic also feeds the opt-in analytics feed.
			switch ev.Kind() {
			case event.KindMessageReceived, event.KindAckUpdated:
				rooms = append(rooms, analyticsRoom(tenant))
			}
		}
		s.hub.BroadcastRooms(rooms, payload)

	default:
		s.logger.Warn("event with no routing rule", "kind", ev.Kind())
	}
}

func (s *Server) tenantOf(sessionName string) (string, error) {
	base := s.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, 5*time.Second)
	defer cancel()
	return s.tenants.TenantOf(ctx, sessionName)
}

// ServeHTTP is the websocket endpoint. The bearer token is verified
// before the upgrade; an invalid token never reaches the hub.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, s.cfg.SendBufferSize),
	}
	sub.lastSeen.Store(time.Now().Unix())

	s.hub.add(sub)
	s.hub.join(sub, tenantRoom(identity.TenantID))
	s.presence.SetOnline(identity.UserID, identity.TenantID, sub.id, presence.StatusOnline)

	s.logger.Info("subscriber connected",
		"conn", sub.id,
		"user", identity.UserID,
		"tenant", identity.TenantID,
	)

	s.wg.Add(1)
	go s.writePump(sub)

	s.wg.Add(1)
	go s.readPump(sub)
}

// bearerToken extracts the credential from the Authorization header or
// the token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// readPump decodes inbound commands until the connection dies, then
// releases the subscriber everywhere.
func (s *Server) readPump(sub *subscriber) {
	defer s.wg.Done()
	defer s.dropSubscriber(sub)

	sub.conn.SetReadLimit(s.cfg.ReadLimit)
	sub.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		sub.lastSeen.Store(time.Now().Unix())
		s.presence.Touch(sub.id)
		return nil
	})

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("subscriber read error", "conn", sub.id, "error", err)
			}
			return
		}
		sub.lastSeen.Store(time.Now().Unix())

		var cmd inbound
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.reply(sub, outbound{Event: "error", Data: "malformed command"})
			continue
		}
		s.handleCommand(sub, cmd)
	}
}

// writePump flushes the outbound queue and keeps the connection alive
// with pings.
func (s *Server) writePump(sub *subscriber) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	defer sub.conn.Close()

	for {
		select {
		case payload, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				sub.stale.Store(true)
				return
			}

		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.stale.Store(true)
				return
			}
		}
	}
}

// handleCommand executes one inbound subscriber command.
func (s *Server) handleCommand(sub *subscriber, cmd inbound) {
	switch cmd.Action {
	case "join-session":
		s.joinSession(sub, cmd.Session)

	case "leave-session":
		if cmd.Session == "" {
			s.reply(sub, outbound{Event: "error", Data: "session name required"})
			return
		}
		s.hub.leave(sub, sessionRoom(cmd.Session))
		s.reply(sub, outbound{Event: "left", Data: cmd.Session})

	case "get-active-sessions":
		s.reply(sub, outbound{Event: "active-sessions", Data: s.activeSessionsFor(sub.identity.TenantID)})

	case "presence:status":
		status := presence.Status(cmd.Status)
		switch status {
		case presence.StatusOnline, presence.StatusAway, presence.StatusBusy:
			s.presence.UpdateStatus(sub.identity.UserID, status)
		default:
			s.reply(sub, outbound{Event: "error", Data: "unknown presence status"})
		}

	case "typing:start", "typing:stop":
		s.relayTyping(sub, cmd)

	case "analytics:subscribe":
		s.hub.join(sub, analyticsRoom(sub.identity.TenantID))
		s.reply(sub, outbound{Event: "analytics", Data: "subscribed"})

	case "analytics:unsubscribe":
		s.hub.leave(sub, analyticsRoom(sub.identity.TenantID))
		s.reply(sub, outbound{Event: "analytics", Data: "unsubscribed"})

	default:
		s.reply(sub, outbound{Event: "error", Data: "unknown action"})
	}
}

// joinSession admits a subscriber to a session room after checking the
// session belongs to their tenant.
func (s *Server) joinSession(sub *subscriber, name string) {
	if name == "" {
		s.reply(sub, outbound{Event: "error", Data: "session name required"})
		return
	}

	tenant, err := s.tenantOf(name)
	if err != nil {
		s.reply(sub, outbound{Event: "error", Data: "unknown session"})
		return
	}
	if tenant != sub.identity.TenantID {
		s.logger.Warn("cross-tenant join rejected",
			"conn", sub.id,
			"session", name,
			"tenant", sub.identity.TenantID,
		)
		s.reply(sub, outbound{Event: "error", Data: "unknown session"})
		return
	}

	s.hub.join(sub, sessionRoom(name))
	s.reply(sub, outbound{Event: "joined", Data: name})
}

// relayTyping rebroadcasts a typing indicator to the session room.
func (s *Server) relayTyping(sub *subscriber, cmd inbound) {
	if cmd.Session == "" {
		return
	}
	payload, err := json.Marshal(outbound{Event: "typing", Data: map[string]any{
		"session": cmd.Session,
		"chat":    cmd.Chat,
		"userId":  sub.identity.UserID,
		"typing":  cmd.Action == "typing:start",
	}})
	if err != nil {
		return
	}
	s.hub.Broadcast(sessionRoom(cmd.Session), payload)
}

// activeSessionsFor filters the directory down to one tenant.
func (s *Server) activeSessionsFor(tenantID string) []string {
	names := []string{}
	for _, name := range s.sessions.ActiveSessions() {
		tenant, err := s.tenantOf(name)
		if err != nil {
			continue
		}
		if tenant == tenantID {
			names = append(names, name)
		}
	}
	return names
}

func (s *Server) reply(sub *subscriber, msg outbound) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	sub.enqueue(payload)
}

// dropSubscriber removes a subscriber from the hub and presence and
// closes the transport. Idempotent.
func (s *Server) dropSubscriber(sub *subscriber) {
	if s.hub.remove(sub.id) {
		s.presence.SetOffline(sub.id)
		s.logger.Info("subscriber disconnected", "conn", sub.id, "user", sub.identity.UserID)
	}
	sub.conn.Close()
}

// sweepLoop reaps subscribers whose transport is no longer live.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep drops subscribers marked stale or silent past the window.
func (s *Server) sweep() {
	cutoff := time.Now().Add(-s.cfg.StaleAfter).Unix()

	dropped := 0
	for _, sub := range s.hub.all() {
		if sub.stale.Load() || sub.lastSeen.Load() < cutoff {
			s.dropSubscriber(sub)
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Info("swept stale subscribers", "count", dropped)
	}
}
