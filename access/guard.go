// Package access holds the single authorization predicate for documents.
// Both the HTTP CRUD handlers and the realtime collaboration engine go
// through Guard; neither path re-implements the owner/collaborator check.
package access

import (
	"context"
	"errors"

	"github.com/ved-shetye/SyncScript/core"
)

// Guard decides whether a principal may read or edit a document.
type Guard struct {
	docs core.DocumentStore
}

// NewGuard returns a Guard backed by the given document store.
func NewGuard(docs core.DocumentStore) *Guard {
	return &Guard{docs: docs}
}

// CanAccess reports whether subject is the owner or a collaborator of the
// document. A document that does not exist yields false with a nil error, so
// callers cannot distinguish "no such document" from "no access".
func (g *Guard) CanAccess(ctx context.Context, subject, documentID string) (bool, error) {
	doc, err := g.docs.FindID(ctx, documentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return doc.AccessibleBy(subject), nil
}

// IsOwner reports whether subject owns the document. Used for operations
// restricted to the owner, such as managing collaborators.
func (g *Guard) IsOwner(ctx context.Context, subject, documentID string) (bool, error) {
	doc, err := g.docs.FindID(ctx, documentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return doc.Owner == subject, nil
}
