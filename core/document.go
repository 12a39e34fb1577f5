package core

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned by stores when a document or user does not exist.
// Handlers translate it into a client-facing "not found" without revealing
// whether the id exists but is inaccessible.
var ErrNotFound = errors.New("not found")

// Template types a new document can be seeded from.
const (
	TemplateNone         = ""
	TemplateResume       = "resume"
	TemplateLetter       = "letter"
	TemplateNotice       = "notice"
	TemplateAnnouncement = "announcement"
	TemplateMeeting      = "meeting"
)

// ValidTemplateType reports whether t is one of the known template types.
func ValidTemplateType(t string) bool {
	switch t {
	case TemplateNone, TemplateResume, TemplateLetter, TemplateNotice,
		TemplateAnnouncement, TemplateMeeting:
		return true
	}
	return false
}

type (
	// Document is a shared rich-text document. Content is an opaque
	// serialized editor blob; the server stores and forwards it without
	// interpreting its structure.
	Document struct {
		ID            string          `json:"id"`
		Title         string          `json:"title"`
		Content       json.RawMessage `json:"content"`
		Owner         string          `json:"owner"`
		Collaborators []string        `json:"collaborators"`
		TemplateType  string          `json:"templateType,omitempty"`
		CreatedAt     time.Time       `json:"createdAt"`
		UpdatedAt     time.Time       `json:"updatedAt"`
	}

	// DocumentUpdate carries the mutable fields of a document for the
	// HTTP update path. Nil fields are left unchanged.
	DocumentUpdate struct {
		Title   *string
		Content json.RawMessage
	}

	// DocumentStore defines the persistence layer for documents. Saves are
	// whole-content replacements with last-write-wins semantics; every
	// successful save refreshes UpdatedAt.
	DocumentStore interface {
		// Create stores a new document and returns its generated ID.
		Create(ctx context.Context, document *Document) (string, error)

		// FindID retrieves a document by its ID, or ErrNotFound.
		FindID(ctx context.Context, id string) (*Document, error)

		// SaveContent replaces the document's content and returns the
		// updated snapshot. This is the realtime edit path.
		SaveContent(ctx context.Context, id string, content json.RawMessage) (*Document, error)

		// Update applies the non-nil fields of upd and returns the
		// updated snapshot.
		Update(ctx context.Context, id string, upd DocumentUpdate) (*Document, error)

		// AddCollaborator grants a user access to the document. Adding
		// an existing collaborator is a no-op.
		AddCollaborator(ctx context.Context, id string, subject string) (*Document, error)

		// ListByUser returns all documents the subject owns or
		// collaborates on, content omitted to keep responses light.
		ListByUser(ctx context.Context, subject string) ([]*Document, error)
	}
)

// AccessibleBy reports whether subject is the document's owner or one of its
// collaborators.
func (d *Document) AccessibleBy(subject string) bool {
	return d.Owner == subject || slices.Contains(d.Collaborators, subject)
}
