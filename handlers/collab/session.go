package collab

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Emitter delivers one event to a connected client. *socketio.Socket
// satisfies it; tests substitute fakes.
type Emitter interface {
	Emit(event string, args ...any) error
}

// Session is one authenticated live connection. The subject is derived from
// the verified credential at connection time and never changes for the life
// of the session.
type Session struct {
	ID      string
	Subject string

	conn Emitter

	// editMu serializes this session's edit pipeline so that two edits
	// sent back to back are persisted in the order they arrived.
	editMu sync.Mutex
}

// NewSession binds a verified principal to a connection.
func NewSession(id, subject string, conn Emitter) *Session {
	return &Session{ID: id, Subject: subject, conn: conn}
}

// Emit sends an event to this session's client. Delivery is best-effort; a
// failed emit is logged and otherwise ignored.
func (s *Session) Emit(event string, args ...any) {
	if err := s.conn.Emit(event, args...); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": s.ID,
			"event":      event,
		}).WithError(err).Debug("Failed to emit to session")
	}
}
