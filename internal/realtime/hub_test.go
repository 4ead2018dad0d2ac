package realtime

import (
	"testing"

	"github.com/egysaas25-hub/wppagent-sub000/internal/auth"
)

func newTestSub(id string, buffer int) *subscriber {
	return &subscriber{
		id:       id,
		identity: auth.Identity{UserID: "u-" + id, TenantID: "t1"},
		send:     make(chan []byte, buffer),
	}
}

func receive(t *testing.T, s *subscriber) string {
	t.Helper()
	select {
	case payload := <-s.send:
		return string(payload)
	default:
		t.Fatalf("subscriber %s received nothing", s.id)
		return ""
	}
}

func TestBroadcastReachesMembersOnly(t *testing.T) {
	h := NewHub(nil)

	a := newTestSub("a", 4)
	b := newTestSub("b", 4)
	c := newTestSub("c", 4)
	for _, s := range []*subscriber{a, b, c} {
		h.add(s)
	}
	h.join(a, "session:one")
	h.join(b, "session:one")
	h.join(c, "session:two")

	h.Broadcast("session:one", []byte("hello"))

	if got := receive(t, a); got != "hello" {
		t.Errorf("a got %q", got)
	}
	if got := receive(t, b); got != "hello" {
		t.Errorf("b got %q", got)
	}
	select {
	case payload := <-c.send:
		t.Errorf("non-member received %q", payload)
	default:
	}
}

func TestBroadcastRoomsDeliversOncePerSubscriber(t *testing.T) {
	h := NewHub(nil)

	a := newTestSub("a", 4)
	h.add(a)
	h.join(a, "session:one")
	h.join(a, "tenant:t1")

	h.BroadcastRooms([]string{"session:one", "tenant:t1"}, []byte("ev"))

	receive(t, a)
	select {
	case payload := <-a.send:
		t.Errorf("duplicate delivery %q", payload)
	default:
	}
}

func TestBroadcastOverflowMarksStale(t *testing.T) {
	h := NewHub(nil)

	a := newTestSub("a", 1)
	h.add(a)
	h.join(a, "r")

	h.Broadcast("r", []byte("1"))
	h.Broadcast("r", []byte("2")) // queue full, dropped

	if !a.stale.Load() {
		t.Error("subscriber not marked stale after overflow")
	}
	if h.dropped.Load() != 1 {
		t.Errorf("dropped = %d, want 1", h.dropped.Load())
	}
	// The first payload is still intact.
	if got := receive(t, a); got != "1" {
		t.Errorf("got %q, want 1", got)
	}
}

func TestRemoveLeavesAllRooms(t *testing.T) {
	h := NewHub(nil)

	a := newTestSub("a", 4)
	h.add(a)
	h.join(a, "r1")
	h.join(a, "r2")

	if !h.remove(a.id) {
		t.Fatal("remove = false for present subscriber")
	}
	if h.remove(a.id) {
		t.Error("remove = true for absent subscriber")
	}
	if h.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d", h.SubscriberCount())
	}
	if h.RoomCount() != 0 {
		t.Errorf("RoomCount = %d, empty rooms must be pruned", h.RoomCount())
	}

	// The send queue is closed so the write pump can exit.
	if _, ok := <-a.send; ok {
		t.Error("send channel still open after remove")
	}
}

func TestEnqueueAfterRemoveIsSafe(t *testing.T) {
	h := NewHub(nil)

	a := newTestSub("a", 4)
	h.add(a)
	h.join(a, "r1")

	// A broadcast may snapshot the membership just before the
	// subscriber is removed; the late enqueue must be a no-op.
	members := h.members("r1")
	h.remove(a.id)
	for _, s := range members {
		s.enqueue([]byte("late"))
	}

	if a.stale.Load() {
		t.Error("departed subscriber marked stale by late delivery")
	}
	if _, ok := <-a.send; ok {
		t.Error("late payload reached the closed queue")
	}
}

func TestLeavePrunesEmptyRoom(t *testing.T) {
	h := NewHub(nil)

	a := newTestSub("a", 4)
	h.add(a)
	h.join(a, "r1")
	h.leave(a, "r1")

	if h.RoomCount() != 0 {
		t.Errorf("RoomCount = %d after last leave", h.RoomCount())
	}

	// Broadcast to a gone room is a no-op.
	h.Broadcast("r1", []byte("x"))
	select {
	case payload := <-a.send:
		t.Errorf("received %q after leaving", payload)
	default:
	}
}

func TestJoinUnknownSubscriberIgnored(t *testing.T) {
	h := NewHub(nil)

	ghost := newTestSub("ghost", 4)
	h.join(ghost, "r1")

	if h.RoomCount() != 0 {
		t.Error("room created for unregistered subscriber")
	}
}
