// Package hub fans broadcast events out to the connected members of each
// room. All membership mutations and broadcasts for one room are serialized
// through that room's goroutine, which is what yields the in-room ordering
// guarantee; rooms proceed fully in parallel. Nothing here persists: a
// member that reconnects resynchronizes by pulling current state, not by
// replaying broadcast history.
package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"biocollab/pkg/logger"
	"biocollab/pkg/telemetry"
)

// ConnState is the lifecycle of one member connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateJoined
	StateLeaving
	StateClosed
)

// DefaultSendBuffer is the per-member outbound buffer. A member that falls
// this far behind is dropped rather than stalling the room.
const DefaultSendBuffer = 64

// Member is one connected client's handle inside the hub. Events arrive on
// the channel returned by Events; transports (websocket, tests) drain it.
type Member struct {
	ScientistID string

	mu    sync.Mutex
	send  chan Event
	buf   int
	state int32

	// roomID is owned by the hub mutex
	roomID string
}

// NewMember returns a member handle in the Connecting state.
func NewMember(scientistID string, buffer int) *Member {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Member{
		ScientistID: scientistID,
		send:        make(chan Event, buffer),
		buf:         buffer,
		state:       int32(StateConnecting),
	}
}

// Events is the member's outbound event stream. Closed when the member is
// dropped or leaves; re-joining opens a fresh stream, so transports must
// call Events again after a Join.
func (m *Member) Events() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send
}

// eventsChan is the sender-side view, used only by the room goroutine.
func (m *Member) eventsChan() chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send
}

// closeSend closes the current stream. Called only by the room goroutine
// that owns the member, after removing it from the room.
func (m *Member) closeSend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.send)
}

// renewSend replaces a closed stream so the member can join again.
func (m *Member) renewSend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.send = make(chan Event, m.buf)
}

// State returns the member's current connection state.
func (m *Member) State() ConnState { return ConnState(atomic.LoadInt32(&m.state)) }

func (m *Member) setState(s ConnState) { atomic.StoreInt32(&m.state, int32(s)) }

type envelope struct {
	ev     Event
	except *Member
}

type joinReq struct {
	m    *Member
	done chan struct{}
}

type leaveReq struct {
	m    *Member
	done chan struct{}
}

type room struct {
	id         string
	register   chan joinReq
	unregister chan leaveReq
	broadcast  chan envelope
	members    map[*Member]struct{}
	// done is closed when the room goroutine exits; pending offers retry
	// against a fresh room
	done chan struct{}
}

// DropFunc is invoked after the hub drops a member (slow consumer or
// transport failure) so the caller can clear liveness state. The
// participant record in the registry is untouched; only connectivity
// changes.
type DropFunc func(roomID, scientistID string)

// Hub owns the per-room registries. Connection state is explicit here
// rather than living in package-level variables, so the hub is
// independently testable.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*room
	buffer  int
	onDrop  DropFunc
	closing bool
	wg      sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithSendBuffer overrides the per-member outbound buffer size.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropFunc registers a callback for dropped members.
func WithDropFunc(f DropFunc) Option {
	return func(h *Hub) { h.onDrop = f }
}

// New creates a Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		rooms:  make(map[string]*room),
		buffer: DefaultSendBuffer,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Join subscribes a member to a room. A member holds at most one active
// room subscription: joining a second room implicitly leaves the first.
// Join returns once the room's goroutine has admitted the member, so a
// broadcast sent after Join returns is guaranteed to reach it.
func (h *Hub) Join(m *Member, roomID string) {
	h.Leave(m)
	if m.State() == StateClosed {
		// previous stream was closed on leave or drop; open a fresh one
		m.renewSend()
	}
	m.setState(StateConnecting)
	for {
		r := h.roomFor(roomID)
		req := joinReq{m: m, done: make(chan struct{})}
		if r.offer(req) {
			<-req.done
			h.mu.Lock()
			m.roomID = roomID
			h.mu.Unlock()
			m.setState(StateJoined)
			logger.Debug("hub_member_joined", "room", roomID, "scientist", m.ScientistID)
			return
		}
		// room shut down between lookup and offer; retry with a fresh one
	}
}

// Leave unsubscribes the member from its current room, if any. It returns
// after the room goroutine has closed the member's event channel, so the
// member can be re-joined safely.
func (h *Hub) Leave(m *Member) {
	h.mu.Lock()
	roomID := m.roomID
	m.roomID = ""
	r := h.rooms[roomID]
	h.mu.Unlock()
	if r == nil {
		return
	}
	m.setState(StateLeaving)
	req := leaveReq{m: m, done: make(chan struct{})}
	select {
	case r.unregister <- req:
		select {
		case <-req.done:
		case <-r.done:
		}
	case <-r.done:
		// room already retired; nothing to leave
	}
}

// Broadcast delivers ev to every member of its room, skipping except when
// non-nil (all-but-sender). Events are delivered to all members in the
// order Broadcast is called; delivery to a member that cannot keep up drops
// that member. Rooms with no members discard the event.
func (h *Hub) Broadcast(ev Event, except *Member) {
	if ev.TS == 0 {
		ev.TS = time.Now().UTC().UnixNano()
	}
	h.mu.Lock()
	r := h.rooms[ev.RoomID]
	h.mu.Unlock()
	if r == nil {
		return
	}
	select {
	case r.broadcast <- envelope{ev: ev, except: except}:
	case <-r.done:
		// room retired between lookup and send; no members left to hear it
	}
}

// RoomSize reports the number of connected members in a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[roomID]
	if r == nil {
		return 0
	}
	// members map is owned by the room goroutine; size is advisory
	return len(r.members)
}

// Close drops every member and stops all room goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closing = true
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()
	for _, r := range rooms {
		select {
		case r.broadcast <- envelope{ev: Event{}, except: nil}: // wake, then members drain below
		case <-r.done:
		}
	}
	h.wg.Wait()
}

func (h *Hub) roomFor(roomID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		return r
	}
	r := &room{
		id:         roomID,
		register:   make(chan joinReq),
		unregister: make(chan leaveReq, 8),
		broadcast:  make(chan envelope, 256),
		members:    make(map[*Member]struct{}),
		done:       make(chan struct{}),
	}
	h.rooms[roomID] = r
	h.wg.Add(1)
	go h.run(r)
	return r
}

// offer hands a join request to the room loop unless the room has already
// shut down.
func (r *room) offer(req joinReq) bool {
	select {
	case r.register <- req:
		return true
	case <-r.done:
		return false
	}
}

// run is the room's serialization point. It exits when the room empties,
// removing itself from the hub.
func (h *Hub) run(r *room) {
	defer h.wg.Done()
	for {
		select {
		case req := <-r.register:
			r.members[req.m] = struct{}{}
			telemetry.ConnectedMembers.Inc()
			close(req.done)

		case req := <-r.unregister:
			if _, ok := r.members[req.m]; ok {
				delete(r.members, req.m)
				req.m.setState(StateClosed)
				req.m.closeSend()
				telemetry.ConnectedMembers.Dec()
			}
			close(req.done)
			if h.retireIfEmpty(r) {
				return
			}

		case env := <-r.broadcast:
			if env.ev.Type == "" {
				// close wakeup
				if h.shutdown(r) {
					return
				}
				continue
			}
			for m := range r.members {
				if m == env.except {
					continue
				}
				select {
				case m.eventsChan() <- env.ev:
					telemetry.BroadcastsSent.WithLabelValues(string(env.ev.Type)).Inc()
				default:
					// slow consumer: drop the connection, not the room
					delete(r.members, m)
					m.setState(StateClosed)
					m.closeSend()
					telemetry.ConnectedMembers.Dec()
					telemetry.MembersDropped.Inc()
					logger.Warn("hub_member_dropped", "room", r.id, "scientist", m.ScientistID)
					if h.onDrop != nil {
						h.onDrop(r.id, m.ScientistID)
					}
				}
			}
			if h.retireIfEmpty(r) {
				return
			}
		}
	}
}

// retireIfEmpty removes an empty room from the hub and signals done so
// stalled Join offers retry against a fresh room.
func (h *Hub) retireIfEmpty(r *room) bool {
	if len(r.members) > 0 {
		return false
	}
	h.mu.Lock()
	if h.rooms[r.id] == r {
		delete(h.rooms, r.id)
	}
	h.mu.Unlock()
	close(r.done)
	logger.Debug("hub_room_retired", "room", r.id)
	return true
}

// shutdown closes out a room during hub Close.
func (h *Hub) shutdown(r *room) bool {
	for m := range r.members {
		delete(r.members, m)
		m.setState(StateClosed)
		m.closeSend()
		telemetry.ConnectedMembers.Dec()
	}
	h.mu.Lock()
	if h.rooms[r.id] == r {
		delete(h.rooms, r.id)
	}
	h.mu.Unlock()
	close(r.done)
	return true
}
