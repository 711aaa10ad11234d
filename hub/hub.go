// Package hub owns every live client session, its declared identity and its
// role-room membership, and fans events out to sessions, rooms or everyone.
package hub

import (
	"encoding/json"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// sendBuffer bounds the per-session outbound queue. Event volume is bounded
// by ledger block rate, so a small buffer suffices; a slow consumer drops
// frames rather than stalling the broadcaster.
const sendBuffer = 64

// Session is one live client connection. Identity is nil until the client
// registers; a repeat registration overwrites it.
type Session struct {
	ID string

	mu        sync.Mutex
	address   string
	role      string
	degraded  bool
	connected bool

	sendChan chan []byte
	done     chan struct{}
	send     func([]byte) error
}

// Address returns the session's registered address, normalized, "" if none.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Role returns the session's declared role, "" if not registered.
func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Connected reports whether the session can still receive events.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Degraded reports whether the session registered without a working ledger
// subscription (it still serves rooms and queries, just no push updates).
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Session) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
}

// enqueue attempts a non-blocking delivery. Frames to dead or slow sessions
// are dropped silently; the emitter never sees an error.
func (s *Session) enqueue(data []byte) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return
	}
	select {
	case s.sendChan <- data:
	default:
		log.WithField("session", s.ID).Warn("send buffer full, dropping event")
	}
}

// Hub tracks all sessions and role rooms. Registry mutations are synchronous:
// when Disconnect returns, the session is out of every room and will receive
// nothing further. Broadcasts take only the read lock so they can scan room
// members while unrelated sessions join and leave.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]mapset.Set[string]
}

func New() *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]mapset.Set[string]),
	}
}

// Connect creates a session for a new connection and starts its sender. The
// send callback performs the actual transport write and is invoked from a
// single goroutine per session.
func (h *Hub) Connect(send func([]byte) error) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		connected: true,
		sendChan:  make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		send:      send,
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	go h.runSender(s)
	log.WithField("session", s.ID).Info("client connected")
	return s
}

func (h *Hub) runSender(s *Session) {
	for {
		select {
		case msg := <-s.sendChan:
			if err := s.send(msg); err != nil {
				log.WithField("session", s.ID).WithError(err).Debug("send failed")
				h.Disconnect(s.ID)
				return
			}
		case <-s.done:
			return
		}
	}
}

// Register sets the session identity and joins the role room. A repeat call
// overwrites address and role and moves the session between rooms; the
// previous address is returned so the caller can re-point the subscription.
func (h *Hub) Register(id, address, role string) (prevAddress string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[id]
	if !exists {
		return "", false
	}

	s.mu.Lock()
	prevAddress = s.address
	prevRole := s.role
	s.address = address
	s.role = role
	s.mu.Unlock()

	if prevRole != role {
		if prevRole != "" {
			h.leaveRoomLocked(prevRole, id)
		}
		if role != "" {
			room, roomExists := h.rooms[role]
			if !roomExists {
				room = mapset.NewThreadUnsafeSet[string]()
				h.rooms[role] = room
			}
			room.Add(id)
		}
	}
	return prevAddress, true
}

// SetDegraded flags a registered session that has no working push
// subscription.
func (h *Hub) SetDegraded(id string, degraded bool) {
	h.mu.RLock()
	s := h.sessions[id]
	h.mu.RUnlock()
	if s != nil {
		s.setDegraded(degraded)
	}
}

func (h *Hub) leaveRoomLocked(room, id string) {
	set, exists := h.rooms[room]
	if !exists {
		return
	}
	set.Remove(id)
	if set.Cardinality() == 0 {
		delete(h.rooms, room)
	}
}

// Disconnect removes the session from the registry and every room before
// returning, and stops its sender. Safe to call more than once.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	s, exists := h.sessions[id]
	if !exists {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, id)

	s.mu.Lock()
	role := s.role
	s.connected = false
	s.mu.Unlock()

	if role != "" {
		h.leaveRoomLocked(role, id)
	}
	h.mu.Unlock()

	close(s.done)
	log.WithField("session", id).Info("client disconnected")
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// EmitToSession delivers an event to one session if it is still connected.
func (h *Hub) EmitToSession(id string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Error("marshal event")
		return
	}
	h.mu.RLock()
	s := h.sessions[id]
	h.mu.RUnlock()
	if s != nil {
		s.enqueue(data)
	}
}

// EmitToRoom delivers an event to every session currently in the room.
func (h *Hub) EmitToRoom(room string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Error("marshal event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	set, exists := h.rooms[room]
	if !exists {
		return
	}
	for id := range set.Iter() {
		if s := h.sessions[id]; s != nil {
			s.enqueue(data)
		}
	}
}

// EmitToAll delivers an event to every live session.
func (h *Hub) EmitToAll(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Error("marshal event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.enqueue(data)
	}
}
