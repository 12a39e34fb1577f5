package collab

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry owns the document → member-sessions mapping. It is the only
// shared mutable structure in the realtime path; every membership change and
// every broadcast goes through it.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session // documentID -> sessionID -> session
	joins map[string]map[string]bool     // sessionID -> documentIDs
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]*Session),
		joins: make(map[string]map[string]bool),
	}
}

// Join adds the session to the document's room. Rooms are created lazily on
// first join. Re-joining is a no-op.
func (r *Registry) Join(documentID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[documentID]
	if !ok {
		room = make(map[string]*Session)
		r.rooms[documentID] = room
	}
	if _, joined := room[s.ID]; joined {
		return
	}
	room[s.ID] = s

	sessionRooms, ok := r.joins[s.ID]
	if !ok {
		sessionRooms = make(map[string]bool)
		r.joins[s.ID] = sessionRooms
	}
	sessionRooms[documentID] = true

	logrus.WithFields(logrus.Fields{
		"session_id":  s.ID,
		"document_id": documentID,
		"room_size":   len(room),
	}).Debug("Session joined room")
}

// Leave removes the session from the document's room; no-op if absent.
func (r *Registry) Leave(documentID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(documentID, s.ID)
}

func (r *Registry) leaveLocked(documentID, sessionID string) {
	room, ok := r.rooms[documentID]
	if !ok {
		return
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(r.rooms, documentID)
	}
	if sessionRooms, ok := r.joins[sessionID]; ok {
		delete(sessionRooms, documentID)
		if len(sessionRooms) == 0 {
			delete(r.joins, sessionID)
		}
	}
}

// LeaveAll removes the session from every room it belongs to. It is called
// once, on disconnect. Broadcasts emit under the read lock, so once LeaveAll
// has acquired the write lock the session can receive nothing further.
func (r *Registry) LeaveAll(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for documentID := range r.joins[s.ID] {
		r.leaveLocked(documentID, s.ID)
	}
}

// Broadcast delivers the event to every current member of the document's
// room except exclude. Delivery is best-effort and unordered across members.
func (r *Registry) Broadcast(documentID, event string, payload any, exclude *Session) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, member := range r.rooms[documentID] {
		if exclude != nil && member.ID == exclude.ID {
			continue
		}
		member.Emit(event, payload)
	}
}

// RoomSize reports the current number of members in a document's room.
func (r *Registry) RoomSize(documentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[documentID])
}

// Rooms returns the documents the session is currently subscribed to.
func (r *Registry) Rooms(s *Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.joins[s.ID]))
	for documentID := range r.joins[s.ID] {
		ids = append(ids, documentID)
	}
	return ids
}
