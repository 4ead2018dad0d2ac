package realtime

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/egysaas25-hub/wppagent-sub000/internal/auth"
)

// Room name constructors.
func sessionRoom(name string) string     { return "session:" + name }
func tenantRoom(tenantID string) string  { return "tenant:" + tenantID }
func analyticsRoom(tenant string) string { return "analytics:" + tenant }

// subscriber is one authenticated websocket connection.
type subscriber struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn

	// Outbound queue. The write pump is the only reader; enqueue never
	// blocks. sendMu orders enqueues against close, so a broadcast
	// racing a removal cannot send on the closed queue.
	sendMu     sync.RWMutex
	sendClosed bool
	send       chan []byte

	// Marked when the queue overflows or a write fails; the sweep
	// reaps marked subscribers.
	stale atomic.Bool

	// Unix seconds of the last pong (or any successful read).
	lastSeen atomic.Int64
}

// enqueue queues a payload without blocking. Overflow marks the
// subscriber stale; delivery to a departed subscriber is a silent
// no-op.
func (s *subscriber) enqueue(payload []byte) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return true
	}

	select {
	case s.send <- payload:
		return true
	default:
		s.stale.Store(true)
		return false
	}
}

// close shuts the send queue exactly once, stopping the write pump.
func (s *subscriber) close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.send)
	}
}

// Hub is the room registry. Membership mutations are O(1) under one
// lock; broadcasts iterate a snapshot so a send never holds the lock.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	subs  map[string]*subscriber
	rooms map[string]map[string]*subscriber

	dropped atomic.Int64
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[string]*subscriber),
		rooms:  make(map[string]map[string]*subscriber),
	}
}

// add registers a subscriber.
func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
}

// remove unregisters a subscriber and leaves every room. Reports
// whether it was present.
func (h *Hub) remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.subs[id]
	if !ok {
		return false
	}
	delete(h.subs, id)
	for room, members := range h.rooms {
		if _, in := members[id]; in {
			delete(members, id)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	s.close()
	return true
}

// join adds a subscriber to a room.
func (h *Hub) join(s *subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s.id]; !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*subscriber)
		h.rooms[room] = members
	}
	members[s.id] = s
}

// leave removes a subscriber from a room.
func (h *Hub) leave(s *subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, s.id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast delivers a payload to every current member of a room.
// Members with a full queue are skipped and marked stale.
func (h *Hub) Broadcast(room string, payload []byte) {
	for _, s := range h.members(room) {
		if !s.enqueue(payload) {
			h.dropped.Add(1)
			h.logger.Warn("subscriber queue full, marking stale",
				"conn", s.id,
				"room", room,
			)
		}
	}
}

// BroadcastRooms delivers a payload once to every subscriber joined to
// any of the rooms. A subscriber in several of them receives a single
// copy.
func (h *Hub) BroadcastRooms(rooms []string, payload []byte) {
	h.mu.RLock()
	union := make(map[string]*subscriber)
	for _, room := range rooms {
		for id, s := range h.rooms[room] {
			union[id] = s
		}
	}
	h.mu.RUnlock()

	for _, s := range union {
		if !s.enqueue(payload) {
			h.dropped.Add(1)
			h.logger.Warn("subscriber queue full, marking stale", "conn", s.id)
		}
	}
}

// members returns a membership snapshot.
func (h *Hub) members(room string) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[room]
	if len(members) == 0 {
		return nil
	}
	out := make([]*subscriber, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// all returns a snapshot of every subscriber.
func (h *Hub) all() []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

// RoomCount returns the number of active rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats renders a short diagnostic summary.
func (h *Hub) Stats() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fmt.Sprintf("subscribers=%d rooms=%d dropped=%d", len(h.subs), len(h.rooms), h.dropped.Load())
}
