package collab

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/ved-shetye/SyncScript/access"
	"github.com/ved-shetye/SyncScript/core"
)

// Events exchanged over the live connection.
const (
	EventJoinDocument    = "join-document"
	EventDocumentContent = "document-content"
	EventTextChange      = "text-change"
	EventError           = "error"
)

// Client-facing error messages. An unauthorized document and a missing one
// produce the same message on purpose: the reply must not reveal whether the
// id exists.
const (
	msgDocumentNotFound = "Document not found"
	msgLoadFailed       = "Error loading document"
	msgSaveFailed       = "Error saving document"
	msgBadPayload       = "Invalid message payload"
)

// TextChangePayload is the body of a text-change event. Content is the full
// serialized editor state; the engine replaces the stored content with it
// wholesale (last writer wins, no merging).
type TextChangePayload struct {
	DocumentID string `mapstructure:"documentId"`
	Content    any    `mapstructure:"content"`
}

// Engine orchestrates joins, edits, and disconnects between the access
// guard, the document store, and the room registry.
type Engine struct {
	guard *access.Guard
	docs  core.DocumentStore
	rooms *Registry
}

// NewEngine wires the replication engine to its collaborators.
func NewEngine(guard *access.Guard, docs core.DocumentStore, rooms *Registry) *Engine {
	return &Engine{guard: guard, docs: docs, rooms: rooms}
}

// HandleJoin authorizes the session for the document, registers it in the
// room, and delivers the current snapshot to the requester only. On any
// failure the session receives a single scoped error and gains no
// membership.
func (e *Engine) HandleJoin(ctx context.Context, sess *Session, documentID string) {
	log := logrus.WithFields(logrus.Fields{
		"session_id":  sess.ID,
		"subject":     sess.Subject,
		"document_id": documentID,
	})

	allowed, err := e.guard.CanAccess(ctx, sess.Subject, documentID)
	if err != nil {
		log.WithError(err).Error("Access check failed on join")
		sess.Emit(EventError, msgLoadFailed)
		return
	}
	if !allowed {
		log.Info("Join refused")
		sess.Emit(EventError, msgDocumentNotFound)
		return
	}

	e.rooms.Join(documentID, sess)

	doc, err := e.docs.FindID(ctx, documentID)
	if err != nil {
		// The document vanished or the store failed between the access
		// check and the load; undo the membership.
		e.rooms.Leave(documentID, sess)
		log.WithError(err).Warn("Snapshot load failed after join")
		if errors.Is(err, core.ErrNotFound) {
			sess.Emit(EventError, msgDocumentNotFound)
		} else {
			sess.Emit(EventError, msgLoadFailed)
		}
		return
	}

	log.Debug("Session joined document")
	sess.Emit(EventDocumentContent, json.RawMessage(doc.Content))
}

// HandleTextChange re-authorizes the edit, persists the new content, and
// broadcasts it to every other room member. A persistence failure is
// reported to the sender only and nothing is broadcast.
func (e *Engine) HandleTextChange(ctx context.Context, sess *Session, payload any) {
	var change TextChangePayload
	if err := mapstructure.Decode(payload, &change); err != nil || change.DocumentID == "" {
		sess.Emit(EventError, msgBadPayload)
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"session_id":  sess.ID,
		"subject":     sess.Subject,
		"document_id": change.DocumentID,
	})

	content, err := json.Marshal(change.Content)
	if err != nil {
		sess.Emit(EventError, msgBadPayload)
		return
	}

	// Access may have been revoked since the join, so every write is
	// re-checked rather than trusting join-time state.
	// The per-session lock keeps this session's saves in send order.
	sess.editMu.Lock()
	defer sess.editMu.Unlock()

	allowed, err := e.guard.CanAccess(ctx, sess.Subject, change.DocumentID)
	if err != nil {
		log.WithError(err).Error("Access check failed on edit")
		sess.Emit(EventError, msgSaveFailed)
		return
	}
	if !allowed {
		log.Info("Edit refused")
		sess.Emit(EventError, msgDocumentNotFound)
		return
	}

	doc, err := e.docs.SaveContent(ctx, change.DocumentID, content)
	if err != nil {
		log.WithError(err).Error("Failed to save document")
		sess.Emit(EventError, msgSaveFailed)
		return
	}

	log.Debug("Edit persisted, broadcasting")
	e.rooms.Broadcast(change.DocumentID, EventTextChange, json.RawMessage(doc.Content), sess)
}

// HandleDisconnect removes the session from every room. In-flight saves
// issued before the disconnect run to completion on their own.
func (e *Engine) HandleDisconnect(sess *Session) {
	e.rooms.LeaveAll(sess)
	logrus.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"subject":    sess.Subject,
	}).Info("Session disconnected")
}
