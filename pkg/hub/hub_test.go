package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"biocollab/pkg/models"
)

func recvEvent(t *testing.T, m *Member) Event {
	t.Helper()
	select {
	case ev, ok := <-m.Events():
		if !ok {
			t.Fatalf("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func chatEvent(roomID, body string) Event {
	return ChatMessage(models.ChatMessage{RoomID: roomID, SenderID: "alice", Body: body})
}

func TestBroadcastReachesAllMembers(t *testing.T) {
	h := New()
	defer h.Close()

	a := NewMember("alice", 0)
	b := NewMember("bob", 0)
	h.Join(a, "room1")
	h.Join(b, "room1")

	h.Broadcast(chatEvent("room1", "hello"), nil)

	for _, m := range []*Member{a, b} {
		ev := recvEvent(t, m)
		if ev.Type != EventChatMessage || ev.Chat.Body != "hello" {
			t.Fatalf("unexpected event for %s: %+v", m.ScientistID, ev)
		}
		if ev.TS == 0 {
			t.Fatalf("event not timestamped")
		}
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	h := New()
	defer h.Close()

	a := NewMember("alice", 0)
	b := NewMember("bob", 0)
	h.Join(a, "room1")
	h.Join(b, "room1")

	h.Broadcast(chatEvent("room1", "mine"), a)

	ev := recvEvent(t, b)
	if ev.Chat.Body != "mine" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	select {
	case ev := <-a.Events():
		t.Fatalf("sender received its own event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastOrderPreserved(t *testing.T) {
	h := New()
	defer h.Close()

	m := NewMember("alice", 128)
	h.Join(m, "room1")

	bodies := []string{"one", "two", "three", "four", "five"}
	for _, b := range bodies {
		h.Broadcast(chatEvent("room1", b), nil)
	}
	for i, want := range bodies {
		ev := recvEvent(t, m)
		if ev.Chat.Body != want {
			t.Fatalf("event %d: got %q want %q", i, ev.Chat.Body, want)
		}
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	h := New()
	defer h.Close()

	a := NewMember("alice", 0)
	b := NewMember("bob", 0)
	h.Join(a, "room1")
	h.Join(b, "room2")

	h.Broadcast(chatEvent("room1", "only room1"), nil)

	ev := recvEvent(t, a)
	if ev.Chat.Body != "only room1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	select {
	case ev := <-b.Events():
		t.Fatalf("event leaked across rooms: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSlowMemberIsDropped(t *testing.T) {
	var mu sync.Mutex
	var dropped []string
	h := New(WithDropFunc(func(roomID, scientistID string) {
		mu.Lock()
		dropped = append(dropped, scientistID)
		mu.Unlock()
	}))
	defer h.Close()

	slow := NewMember("slow", 1)
	fast := NewMember("fast", 16)
	h.Join(slow, "room1")
	h.Join(fast, "room1")

	// slow never drains; its single-slot buffer overflows on the second send
	h.Broadcast(chatEvent("room1", "a"), nil)
	h.Broadcast(chatEvent("room1", "b"), nil)
	h.Broadcast(chatEvent("room1", "c"), nil)

	// fast member still receives everything
	for _, want := range []string{"a", "b", "c"} {
		ev := recvEvent(t, fast)
		if ev.Chat.Body != want {
			t.Fatalf("fast member got %q want %q", ev.Chat.Body, want)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for slow.State() != StateClosed {
		if time.Now().After(deadline) {
			t.Fatalf("slow member never dropped")
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 1 || dropped[0] != "slow" {
		t.Fatalf("unexpected drop callbacks: %v", dropped)
	}
}

func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	h := New()
	defer h.Close()

	m := NewMember("alice", 0)
	witness := NewMember("bob", 0)
	h.Join(witness, "room1")
	h.Join(m, "room1")
	if got := h.RoomSize("room1"); got != 2 {
		t.Fatalf("room1 size = %d, want 2", got)
	}

	h.Join(m, "room2")
	if got := h.RoomSize("room1"); got != 1 {
		t.Fatalf("room1 size after move = %d, want 1", got)
	}
	if got := h.RoomSize("room2"); got != 1 {
		t.Fatalf("room2 size = %d, want 1", got)
	}

	h.Broadcast(chatEvent("room2", "in room2"), nil)
	ev := recvEvent(t, m)
	if ev.Chat.Body != "in room2" {
		t.Fatalf("moved member got %+v", ev)
	}
}

func TestLeaveClosesEventChannel(t *testing.T) {
	h := New()
	defer h.Close()

	a := NewMember("alice", 0)
	b := NewMember("bob", 0)
	h.Join(a, "room1")
	h.Join(b, "room1")

	h.Leave(a)
	if _, ok := <-a.Events(); ok {
		t.Fatalf("expected closed channel after leave")
	}
	if a.State() != StateClosed {
		t.Fatalf("state = %v, want closed", a.State())
	}

	// remaining member still receives
	h.Broadcast(chatEvent("room1", "still here"), nil)
	ev := recvEvent(t, b)
	if ev.Chat.Body != "still here" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestEmptyRoomRetires(t *testing.T) {
	h := New()
	defer h.Close()

	m := NewMember("alice", 0)
	h.Join(m, "room1")
	h.Leave(m)

	// broadcast to an empty room is a no-op
	h.Broadcast(chatEvent("room1", "nobody home"), nil)
	if got := h.RoomSize("room1"); got != 0 {
		t.Fatalf("retired room size = %d", got)
	}

	// room can be re-created by a later join
	h.Join(m, "room1")
	h.Broadcast(chatEvent("room1", "back"), nil)
	ev := recvEvent(t, m)
	if ev.Chat.Body != "back" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestCloseDrainsAllMembers(t *testing.T) {
	h := New()
	a := NewMember("alice", 0)
	b := NewMember("bob", 0)
	h.Join(a, "room1")
	h.Join(b, "room2")

	h.Close()

	for _, m := range []*Member{a, b} {
		if _, ok := <-m.Events(); ok {
			t.Fatalf("expected closed channel for %s after hub close", m.ScientistID)
		}
	}
}

func TestConcurrentLeaves(t *testing.T) {
	h := New()
	defer h.Close()

	members := make([]*Member, 8)
	for i := range members {
		members[i] = NewMember(fmt.Sprintf("sci-%d", i), 0)
		h.Join(members[i], "room1")
	}

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(m *Member) {
			defer wg.Done()
			h.Leave(m)
		}(m)
	}
	wg.Wait()

	if got := h.RoomSize("room1"); got != 0 {
		t.Fatalf("room size after leaves = %d", got)
	}

	// a later join reopens the room
	m := members[0]
	h.Join(m, "room1")
	h.Broadcast(chatEvent("room1", "fresh"), nil)
	if ev := recvEvent(t, m); ev.Chat.Body != "fresh" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestBroadcastToRetiredRoomDoesNotBlock(t *testing.T) {
	h := New()
	defer h.Close()

	// a room that retired with a full broadcast buffer while a caller sat
	// between the map lookup and the send
	r := &room{
		id:        "room1",
		broadcast: make(chan envelope, 1),
		done:      make(chan struct{}),
	}
	r.broadcast <- envelope{ev: chatEvent("room1", "stuck")}
	close(r.done)
	h.mu.Lock()
	h.rooms["room1"] = r
	h.mu.Unlock()

	returned := make(chan struct{})
	go func() {
		h.Broadcast(chatEvent("room1", "late"), nil)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a retired room")
	}

	h.mu.Lock()
	delete(h.rooms, "room1")
	h.mu.Unlock()
}
