package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/egysaas25-hub/wppagent-sub000/internal/auth"
	"github.com/egysaas25-hub/wppagent-sub000/internal/event"
	"github.com/egysaas25-hub/wppagent-sub000/internal/presence"
)

type staticTenants struct {
	mu sync.Mutex
	m  map[string]string
}

func (r *staticTenants) TenantOf(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.m[name]
	if !ok {
		return "", errors.New("unknown session")
	}
	return tenant, nil
}

type staticSessions struct {
	names []string
}

func (d *staticSessions) ActiveSessions() []string { return d.names }

type testEnv struct {
	srv      *Server
	verifier *auth.Verifier
	tracker  *presence.Tracker
	http     *httptest.Server
	events   chan event.Event
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	verifier := auth.NewVerifier([]byte("test-secret"), "wpp-agent", "realtime")
	tracker := presence.NewTracker(presence.DefaultConfig(), nil)

	tenants := &staticTenants{m: map[string]string{
		"acme-main":   "t1",
		"acme-backup": "t1",
		"globex-main": "t2",
	}}
	sessions := &staticSessions{names: []string{"acme-main", "acme-backup", "globex-main"}}

	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = time.Second
	cfg.SweepInterval = time.Hour

	srv := NewServer(cfg, verifier, tracker, sessions, tenants, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := make(chan event.Event, 16)
	srv.Consume(events)

	ts := httptest.NewServer(srv)

	env := &testEnv{srv: srv, verifier: verifier, tracker: tracker, http: ts, events: events}
	t.Cleanup(func() {
		close(events)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
		ts.Close()
	})
	return env
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http")
}

func (e *testEnv) token(t *testing.T, userID, tenantID string) string {
	t.Helper()
	token, err := e.verifier.Issue(auth.Identity{UserID: userID, TenantID: tenantID, Role: "agent"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg.Event, msg.Data
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd inbound) {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func waitSubscribers(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Hub().SubscriberCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count never reached %d", n)
}

func TestHandshakeRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header http.Header
		url    string
	}{
		{"no token", nil, env.wsURL()},
		{"garbage header", http.Header{"Authorization": {"Bearer garbage"}}, env.wsURL()},
		{"garbage query", nil, env.wsURL() + "?token=garbage"},
		{"basic auth scheme", http.Header{"Authorization": {"Basic dXNlcg=="}}, env.wsURL()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, tt.header)
			if err == nil {
				t.Fatal("dial succeeded with bad credentials")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %v, want 401", resp)
			}
		})
	}

	if env.srv.Hub().SubscriberCount() != 0 {
		t.Error("rejected connection landed in the hub")
	}
}

func TestTokenQueryParamAccepted(t *testing.T) {
	env := newTestEnv(t)

	url := env.wsURL() + "?token=" + env.token(t, "u1", "t1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	defer conn.Close()
	waitSubscribers(t, env.srv, 1)
}

func TestAutoJoinTenantRoom(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u1", "t1"))
	waitSubscribers(t, env.srv, 1)

	// A session event for the subscriber's tenant arrives with no
	// explicit join.
	env.events <- event.Connected{SessionName: "acme-main"}

	name, data := readEnvelope(t, conn)
	if name != "connected" {
		t.Fatalf("event = %s, want connected", name)
	}
	var body struct {
		Session string `json:"session"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Session != "acme-main" {
		t.Errorf("session = %s", body.Session)
	}
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t)

	t1 := env.dial(t, env.token(t, "u1", "t1"))
	t2 := env.dial(t, env.token(t, "u2", "t2"))
	waitSubscribers(t, env.srv, 2)

	env.events <- event.Connected{SessionName: "globex-main"}

	if name, _ := readEnvelope(t, t2); name != "connected" {
		t.Fatalf("t2 event = %s", name)
	}

	t1.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var msg struct {
		Event string `json:"event"`
	}
	if err := t1.ReadJSON(&msg); err == nil {
		t.Fatalf("tenant t1 received %s for a t2 session", msg.Event)
	}
}

func TestJoinSessionRoom(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u1", "t1"))
	waitSubscribers(t, env.srv, 1)

	sendCommand(t, conn, inbound{Action: "join-session", Session: "acme-main"})
	if name, _ := readEnvelope(t, conn); name != "joined" {
		t.Fatalf("reply = %s, want joined", name)
	}

	// Joined to both the session and tenant rooms, events arrive once.
	env.events <- event.StatusChanged{SessionName: "acme-main", Status: "connected"}
	if name, _ := readEnvelope(t, conn); name != "status" {
		t.Fatalf("event = %s, want status", name)
	}
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var dup struct{ Event string }
	if err := conn.ReadJSON(&dup); err == nil {
		t.Fatalf("duplicate delivery %s", dup.Event)
	}
}

func TestJoinSessionCrossTenantRejected(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u1", "t1"))
	waitSubscribers(t, env.srv, 1)

	sendCommand(t, conn, inbound{Action: "join-session", Session: "globex-main"})
	name, data := readEnvelope(t, conn)
	if name != "error" {
		t.Fatalf("reply = %s, want error", name)
	}
	// The rejection does not leak the session's existence.
	if !strings.Contains(string(data), "unknown session") {
		t.Errorf("error detail = %s", data)
	}
}

func TestLeaveSessionStopsDelivery(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u2", "t2"))
	waitSubscribers(t, env.srv, 1)

	sendCommand(t, conn, inbound{Action: "join-session", Session: "globex-main"})
	if name, _ := readEnvelope(t, conn); name != "joined" {
		t.Fatal("join failed")
	}
	sendCommand(t, conn, inbound{Action: "leave-session", Session: "globex-main"})
	if name, _ := readEnvelope(t, conn); name != "left" {
		t.Fatal("leave failed")
	}
}

func TestGetActiveSessionsScopedToTenant(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u1", "t1"))
	waitSubscribers(t, env.srv, 1)

	sendCommand(t, conn, inbound{Action: "get-active-sessions"})
	name, data := readEnvelope(t, conn)
	if name != "active-sessions" {
		t.Fatalf("reply = %s", name)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v, want the two t1 sessions", names)
	}
	for _, n := range names {
		if n == "globex-main" {
			t.Error("cross-tenant session listed")
		}
	}
}

func TestPresenceStatusCommand(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u1", "t1"))
	waitSubscribers(t, env.srv, 1)

	sendCommand(t, conn, inbound{Action: "presence:status", Status: "busy"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		users := env.tracker.OnlineUsers("t1")
		if len(users) == 1 && users[0].Status == presence.StatusBusy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never updated: %+v", env.tracker.OnlineUsers("t1"))
}

func TestTypingRelay(t *testing.T) {
	env := newTestEnv(t)

	sender := env.dial(t, env.token(t, "u1", "t1"))
	watcher := env.dial(t, env.token(t, "u2", "t1"))
	waitSubscribers(t, env.srv, 2)

	sendCommand(t, watcher, inbound{Action: "join-session", Session: "acme-main"})
	if name, _ := readEnvelope(t, watcher); name != "joined" {
		t.Fatal("watcher join failed")
	}

	sendCommand(t, sender, inbound{Action: "typing:start", Session: "acme-main", Chat: "123@c.us"})

	name, data := readEnvelope(t, watcher)
	if name != "typing" {
		t.Fatalf("event = %s, want typing", name)
	}
	var body struct {
		Session string `json:"session"`
		Chat    string `json:"chat"`
		UserID  string `json:"userId"`
		Typing  bool   `json:"typing"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != "u1" || !body.Typing || body.Chat != "123@c.us" {
		t.Errorf("typing payload = %+v", body)
	}
}

func TestAnalyticsOptIn(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u1", "t1"))
	waitSubscribers(t, env.srv, 1)

	// Message events reach the tenant room regardless; after
	// unsubscribing from the tenant-wide default we verify the
	// analytics room path alone. Leave the tenant room is not a
	// command, so instead verify subscribe/unsubscribe replies and
	// that a message event arrives exactly once while in both rooms.
	sendCommand(t, conn, inbound{Action: "analytics:subscribe"})
	if name, _ := readEnvelope(t, conn); name != "analytics" {
		t.Fatal("subscribe failed")
	}

	env.events <- event.MessageReceived{SessionName: "acme-main", Message: event.Message{ID: "m1"}}
	if name, _ := readEnvelope(t, conn); name != "message" {
		t.Fatal("message event missing")
	}
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var dup struct{ Event string }
	if err := conn.ReadJSON(&dup); err == nil {
		t.Fatalf("duplicate delivery %s", dup.Event)
	}

	sendCommand(t, conn, inbound{Action: "analytics:unsubscribe"})
	if name, _ := readEnvelope(t, conn); name != "analytics" {
		t.Fatal("unsubscribe failed")
	}
}

func TestUnknownActionReturnsError(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u1", "t1"))
	waitSubscribers(t, env.srv, 1)

	sendCommand(t, conn, inbound{Action: "self-destruct"})
	if name, _ := readEnvelope(t, conn); name != "error" {
		t.Errorf("reply = %s, want error", name)
	}
}

func TestDisconnectCleansUpPresence(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u1", "t1"))
	waitSubscribers(t, env.srv, 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !env.tracker.IsOnline("u1") {
		time.Sleep(5 * time.Millisecond)
	}
	if !env.tracker.IsOnline("u1") {
		t.Fatal("user never marked online")
	}

	conn.Close()
	waitSubscribers(t, env.srv, 0)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && env.tracker.IsOnline("u1") {
		time.Sleep(5 * time.Millisecond)
	}
	if env.tracker.IsOnline("u1") {
		t.Error("user still online after disconnect")
	}
}

func TestPresenceEventsReachTenantRoom(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, env.token(t, "u1", "t1"))
	waitSubscribers(t, env.srv, 1)

	env.events <- event.PresenceUpdated{UserID: "u9", TenantID: "t1", Status: "away"}

	name, data := readEnvelope(t, conn)
	if name != "presence_update" {
		t.Fatalf("event = %s", name)
	}
	var body struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UserID != "u9" || body.Status != "away" {
		t.Errorf("payload = %+v", body)
	}
}

func TestSweepReapsSilentSubscriber(t *testing.T) {
	verifier := auth.NewVerifier([]byte("test-secret"), "wpp-agent", "realtime")
	tracker := presence.NewTracker(presence.DefaultConfig(), nil)
	tenants := &staticTenants{m: map[string]string{"acme-main": "t1"}}

	cfg := DefaultConfig()
	cfg.SweepInterval = 30 * time.Millisecond
	cfg.PingInterval = time.Hour // only the sweep may notice the dead transport

	srv := NewServer(cfg, verifier, tracker, &staticSessions{}, tenants, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
		ts.Close()
	})

	token, err := verifier.Issue(auth.Identity{UserID: "u1", TenantID: "t1"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(ts.URL, "http")+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitSubscribers(t, srv, 1)

	sendCommand(t, conn, inbound{Action: "join-session", Session: "acme-main"})
	if name, _ := readEnvelope(t, conn); name != "joined" {
		t.Fatal("join failed")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !tracker.IsOnline("u1") {
		time.Sleep(5 * time.Millisecond)
	}
	if !tracker.IsOnline("u1") {
		t.Fatal("user never marked online")
	}

	// The transport goes silent without a close handshake.
	for _, sub := range srv.Hub().all() {
		sub.lastSeen.Store(time.Now().Add(-time.Hour).Unix())
	}

	// Within one sweep the subscriber is gone from the hub, every room,
	// and presence.
	waitSubscribers(t, srv, 0)
	if got := srv.Hub().RoomCount(); got != 0 {
		t.Errorf("rooms after sweep = %d, want 0", got)
	}
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && tracker.IsOnline("u1") {
		time.Sleep(5 * time.Millisecond)
	}
	if tracker.IsOnline("u1") {
		t.Error("user still online after sweep")
	}

	// The server closed the transport.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct{ Event string }
	if err := conn.ReadJSON(&msg); err == nil {
		t.Errorf("connection still open after sweep, read %s", msg.Event)
	}
}

func TestStopNotifiesThenCloses(t *testing.T) {
	verifier := auth.NewVerifier([]byte("test-secret"), "wpp-agent", "realtime")
	tracker := presence.NewTracker(presence.DefaultConfig(), nil)
	tenants := &staticTenants{m: map[string]string{}}

	srv := NewServer(DefaultConfig(), verifier, tracker, &staticSessions{}, tenants, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	token, _ := verifier.Issue(auth.Identity{UserID: "u1", TenantID: "t1"}, time.Minute)
	conn, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(ts.URL, "http")+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitSubscribers(t, srv, 1)

	stopDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		stopDone <- srv.Stop(ctx)
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event string `json:"event"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading shutdown notice: %v", err)
	}
	if msg.Event != "shutdown" {
		t.Errorf("event = %s, want shutdown", msg.Event)
	}

	// The connection is then closed by the server.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err == nil {
		t.Error("connection still open after Stop")
	}

	if err := <-stopDone; err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
